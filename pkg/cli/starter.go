package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

const defaultStarterCount = 5

func starterCommand() *cli.Command {
	var (
		cfg config
		n   int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "count",
			Aliases:     []string{"n"},
			Usage:       "Number of questions",
			Value:       defaultStarterCount,
			Destination: &n,
		},
	}
	flags = append(flags, engineCommandFlags(&cfg)...)

	return &cli.Command{
		Name:  "starter",
		Usage: "Suggest questions to start exploring the database",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := cfg.load(ctx, c); err != nil {
				return err
			}

			set, err := cfg.newEngine(ctx, nil)
			if err != nil {
				return err
			}
			defer set.Close()

			questions, err := set.engine.GenerateStarterQuestions(ctx, int(n))
			if err != nil {
				return err
			}
			for _, q := range questions {
				fmt.Fprintln(c.Root().Writer, q)
			}
			return nil
		},
	}
}
