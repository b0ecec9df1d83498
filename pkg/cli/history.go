package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/talk2sql/pkg/adapter"
	"github.com/m-mizutani/talk2sql/pkg/model"
	"github.com/m-mizutani/talk2sql/pkg/usecase/history"
	"github.com/urfave/cli/v3"
)

type historyFilterFlags struct {
	successOnly bool
	errorsOnly  bool
	limit       int64
}

func (f *historyFilterFlags) flags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:        "success-only",
			Usage:       "Only successful attempts",
			Destination: &f.successOnly,
		},
		&cli.BoolFlag{
			Name:        "errors-only",
			Usage:       "Only failed attempts",
			Destination: &f.errorsOnly,
		},
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"n"},
			Usage:       "Maximum attempts, newest first (0 for all)",
			Value:       20,
			Destination: &f.limit,
		},
	}
}

func (f *historyFilterFlags) filter() (model.HistoryFilter, error) {
	if f.successOnly && f.errorsOnly {
		return model.HistoryFilter{}, goerr.New("--success-only and --errors-only are exclusive")
	}
	return model.HistoryFilter{
		SuccessOnly: f.successOnly,
		ErrorsOnly:  f.errorsOnly,
		Limit:       int(f.limit),
	}, nil
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Inspect recorded query attempts",
		Commands: []*cli.Command{
			historyListCommand(),
			historyAnalyzeCommand(),
			historyExportCommand(),
		},
	}
}

func openHistory(ctx context.Context, cfg *config) *history.Recorder {
	return history.Open(ctx, cfg.historyPath)
}

func historyListCommand() *cli.Command {
	var (
		cfg    config
		filter historyFilterFlags
		asJSON bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "Print JSON lines",
			Destination: &asJSON,
		},
	}
	flags = append(flags, filter.flags()...)
	flags = append(flags, historyFlags(&cfg)...)

	return &cli.Command{
		Name:  "list",
		Usage: "List attempts, newest first",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := cfg.load(ctx, c); err != nil {
				return err
			}
			f, err := filter.filter()
			if err != nil {
				return err
			}

			recorder := openHistory(ctx, &cfg)
			defer recorder.Close()

			w := c.Root().Writer
			if asJSON {
				_, err := recorder.WriteJSONL(ctx, w, f)
				return err
			}

			attempts, err := recorder.Query(ctx, f)
			if err != nil {
				return err
			}
			if len(attempts) == 0 {
				fmt.Fprintln(w, "No recorded attempts")
				return nil
			}

			rows := make([][]string, 0, len(attempts))
			for _, a := range attempts {
				status := "ok"
				if !a.Success {
					status = shorten(a.ErrorMessage, 40)
				}
				rows = append(rows, []string{
					a.Timestamp.Local().Format("2006-01-02 15:04:05"),
					shorten(a.Question, 40),
					shorten(a.SQL, 50),
					strconv.Itoa(a.RetryCount),
					status,
					a.Timing.Total.Round(time.Millisecond).String(),
				})
			}

			fmt.Fprintln(w, table.New().
				Border(lipgloss.NormalBorder()).
				Headers("TIME", "QUESTION", "SQL", "RETRIES", "STATUS", "TOTAL").
				Rows(rows...).
				String())
			return nil
		},
	}
}

func historyAnalyzeCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "analyze",
		Usage: "Summarize error rate, retry success rate and common error types",
		Flags: historyFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := cfg.load(ctx, c); err != nil {
				return err
			}

			recorder := openHistory(ctx, &cfg)
			defer recorder.Close()

			analysis, err := recorder.AnalyzeErrorPatterns(ctx)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(c.Root().Writer)
			enc.SetIndent("", "  ")
			if err := enc.Encode(analysis); err != nil {
				return goerr.Wrap(err, "failed to encode analysis")
			}
			return nil
		},
	}
}

func historyExportCommand() *cli.Command {
	var (
		cfg    config
		filter historyFilterFlags
		bucket string
		key    string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket to upload to",
			Sources:     cli.EnvVars("TALK2SQL_EXPORT_BUCKET"),
			Required:    true,
			Destination: &bucket,
		},
		&cli.StringFlag{
			Name:        "key",
			Usage:       "Object name (default: talk2sql/history/<timestamp>.jsonl)",
			Destination: &key,
		},
	}
	flags = append(flags, filter.flags()...)
	flags = append(flags, historyFlags(&cfg)...)

	return &cli.Command{
		Name:  "export",
		Usage: "Upload attempts as JSON lines to Cloud Storage",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := cfg.load(ctx, c); err != nil {
				return err
			}
			f, err := filter.filter()
			if err != nil {
				return err
			}
			if key == "" {
				key = fmt.Sprintf("talk2sql/history/%s.jsonl", time.Now().UTC().Format("20060102T150405Z"))
			}

			storage, err := adapter.NewStorage(ctx, bucket)
			if err != nil {
				return err
			}

			recorder := openHistory(ctx, &cfg)
			defer recorder.Close()

			url, err := recorder.Export(ctx, storage, key, f)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.Root().Writer, url)
			return nil
		},
	}
}
