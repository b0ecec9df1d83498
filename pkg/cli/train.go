package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/talk2sql/pkg/interfaces"
	"github.com/m-mizutani/talk2sql/pkg/usecase/memory"
	"github.com/m-mizutani/talk2sql/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// storeFlags is the subset of flags needed to reach retrieval memory.
func storeFlags(cfg *config) []cli.Flag {
	var flags []cli.Flag
	flags = append(flags, llmFlags(cfg)...)
	flags = append(flags, memoryFlags(cfg)...)
	return flags
}

func trainCommand() *cli.Command {
	var (
		cfg      config
		file     string
		dir      string
		question string
		sql      string
		ddl      string
		doc      string
		fromDB   bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "file",
			Usage:       "YAML training file with questions, schemas and docs",
			Destination: &file,
		},
		&cli.StringFlag{
			Name:        "dir",
			Usage:       "Directory of .sql files, question examples carry a '-- question:' header",
			Destination: &dir,
		},
		&cli.StringFlag{
			Name:        "question",
			Usage:       "Question answered by --sql",
			Destination: &question,
		},
		&cli.StringFlag{
			Name:        "sql",
			Usage:       "SQL answering --question",
			Destination: &sql,
		},
		&cli.StringFlag{
			Name:        "ddl",
			Usage:       "Table definition to remember",
			Destination: &ddl,
		},
		&cli.StringFlag{
			Name:        "doc",
			Usage:       "Business documentation to remember",
			Destination: &doc,
		},
		&cli.BoolFlag{
			Name:        "from-db",
			Usage:       "Remember the table definitions of the configured database",
			Destination: &fromDB,
		},
	}
	flags = append(flags, storeFlags(&cfg)...)
	flags = append(flags, databaseFlags(&cfg)...)

	return &cli.Command{
		Name:  "train",
		Usage: "Add examples, table definitions and documentation to retrieval memory",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := cfg.load(ctx, c); err != nil {
				return err
			}

			set := &memory.TrainingSet{}
			if file != "" {
				loaded, err := memory.LoadTrainingFile(file)
				if err != nil {
					return err
				}
				mergeTraining(set, loaded)
			}
			if dir != "" {
				loaded, err := memory.LoadTrainingDir(dir)
				if err != nil {
					return err
				}
				mergeTraining(set, loaded)
			}
			if question != "" || sql != "" {
				if question == "" || sql == "" {
					return goerr.New("--question and --sql must be given together")
				}
				set.Questions = append(set.Questions, memory.TrainingQuestion{Question: question, SQL: sql})
			}
			if ddl != "" {
				set.Schemas = append(set.Schemas, ddl)
			}
			if doc != "" {
				set.Docs = append(set.Docs, doc)
			}

			if fromDB {
				exec, _, closeExec, err := cfg.newExecutor(ctx)
				if err != nil {
					return err
				}
				defer closeExec()

				src, ok := exec.(interfaces.SchemaSource)
				if !ok {
					return goerr.New("--from-db requires --sqlite, --postgres or --bigquery-project")
				}
				ddls, err := src.SchemaDDL(ctx)
				if err != nil {
					return err
				}
				set.Schemas = append(set.Schemas, ddls...)
			}

			if set.Size() == 0 {
				return goerr.New("nothing to train, give --file, --dir, --question/--sql, --ddl, --doc or --from-db")
			}

			store, closeStore, err := cfg.newMemoryStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			refs, err := store.Train(ctx, set)
			if err != nil {
				return goerr.Wrap(err, "training stopped", goerr.V("stored", len(refs)))
			}

			logging.From(ctx).Info("training completed", "entries", len(refs))
			for _, ref := range refs {
				fmt.Fprintln(c.Root().Writer, ref)
			}
			return nil
		},
	}
}

func mergeTraining(dst, src *memory.TrainingSet) {
	dst.Questions = append(dst.Questions, src.Questions...)
	dst.Schemas = append(dst.Schemas, src.Schemas...)
	dst.Docs = append(dst.Docs, src.Docs...)
}
