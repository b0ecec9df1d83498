package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/talk2sql/pkg/model"
	"github.com/m-mizutani/talk2sql/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func memoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "memory",
		Usage: "Inspect and edit retrieval memory",
		Commands: []*cli.Command{
			memoryListCommand(),
			memoryRemoveCommand(),
			memoryResetCommand(),
		},
	}
}

func memoryListCommand() *cli.Command {
	var (
		cfg  config
		full bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "full",
			Usage:       "Do not shorten long entries",
			Destination: &full,
		},
	}
	flags = append(flags, storeFlags(&cfg)...)

	return &cli.Command{
		Name:  "list",
		Usage: "List stored entries",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := cfg.load(ctx, c); err != nil {
				return err
			}

			store, closeStore, err := cfg.newMemoryStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			entries, err := store.List(ctx)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(c.Root().Writer, "Memory is empty")
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				text := e.Text
				if e.Kind == model.MemoryQuestion {
					text = e.Text + "\n" + e.SQL
				}
				if !full {
					text = shorten(text, 80)
				}
				rows = append(rows, []string{e.Ref(), string(e.Kind), text})
			}

			fmt.Fprintln(c.Root().Writer, table.New().
				Border(lipgloss.NormalBorder()).
				Headers("REF", "KIND", "CONTENT").
				Rows(rows...).
				String())
			return nil
		},
	}
}

// shorten collapses whitespace and cuts s to n runes.
func shorten(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func memoryRemoveCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:      "remove",
		Usage:     "Remove entries by reference",
		ArgsUsage: "<ref> [<ref>...]",
		Flags:     storeFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			refs := c.Args().Slice()
			if len(refs) == 0 {
				return goerr.New("at least one reference is required")
			}
			if err := cfg.load(ctx, c); err != nil {
				return err
			}

			store, closeStore, err := cfg.newMemoryStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			for _, ref := range refs {
				removed, err := store.Remove(ctx, ref)
				if err != nil {
					return err
				}
				if !removed {
					return goerr.New("unknown memory reference", goerr.V("ref", ref))
				}
				fmt.Fprintf(c.Root().Writer, "Removed %s\n", ref)
			}
			return nil
		},
	}
}

func memoryResetCommand() *cli.Command {
	var (
		cfg   config
		kinds []string
	)

	flags := []cli.Flag{
		&cli.StringSliceFlag{
			Name:        "kind",
			Usage:       "Collection to empty (question, schema, documentation). Repeatable",
			Required:    true,
			Destination: &kinds,
		},
	}
	flags = append(flags, storeFlags(&cfg)...)

	return &cli.Command{
		Name:  "reset",
		Usage: "Empty memory collections",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := cfg.load(ctx, c); err != nil {
				return err
			}

			parsed := make([]model.MemoryKind, 0, len(kinds))
			for _, k := range kinds {
				kind, err := model.ParseMemoryKind(k)
				if err != nil {
					return err
				}
				parsed = append(parsed, kind)
			}

			store, closeStore, err := cfg.newMemoryStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			for _, kind := range parsed {
				if err := store.Reset(ctx, kind); err != nil {
					return err
				}
				logging.From(ctx).Info("memory collection reset", "kind", kind)
				fmt.Fprintf(c.Root().Writer, "Reset %s\n", kind)
			}
			return nil
		},
	}
}
