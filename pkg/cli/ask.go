package cli

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/talk2sql/pkg/model"
	"github.com/m-mizutani/talk2sql/pkg/usecase/query"
	"github.com/urfave/cli/v3"
)

func askCommand() *cli.Command {
	var (
		cfg       config
		disp      display
		analyze   bool
		followups bool
		noSummary bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "analyze",
			Aliases:     []string{"a", "explain"},
			Usage:       "Explain the result in detail",
			Destination: &analyze,
		},
		&cli.BoolFlag{
			Name:        "followups",
			Aliases:     []string{"f"},
			Usage:       "Suggest follow-up questions",
			Destination: &followups,
		},
		&cli.BoolFlag{
			Name:        "no-summary",
			Usage:       "Skip the one-paragraph summary",
			Destination: &noSummary,
		},
	}
	flags = append(flags, displayFlags(&disp)...)
	flags = append(flags, engineCommandFlags(&cfg)...)

	return &cli.Command{
		Name:      "ask",
		Usage:     "Answer a question by generating and running SQL",
		ArgsUsage: "<question>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if question == "" {
				return goerr.New("question is required")
			}
			if err := cfg.load(ctx, c); err != nil {
				return err
			}

			set, err := cfg.newEngine(ctx, nil)
			if err != nil {
				return err
			}
			defer set.Close()

			disp.w = c.Root().Writer
			opts := queryOptions(followups, noSummary)

			res := withSpinner(!disp.plain && !disp.asJSON, "Thinking...", func() *model.SmartQueryResult {
				if analyze {
					return set.engine.AnalyzeData(ctx, question, opts...)
				}
				return set.engine.SmartQuery(ctx, question, opts...)
			})

			if err := disp.printResult(res); err != nil {
				return err
			}
			if !res.Success {
				return goerr.Wrap(res.Error, "query failed")
			}
			return nil
		},
	}
}

func queryOptions(followups, noSummary bool) []query.QueryOption {
	var opts []query.QueryOption
	if followups {
		opts = append(opts, query.WithFollowups())
	}
	if noSummary {
		opts = append(opts, query.WithoutSummary())
	}
	return opts
}

// withSpinner shows progress on stderr while fn runs.
func withSpinner[T any](enabled bool, suffix string, fn func() T) T {
	if !enabled {
		return fn()
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond,
		spinner.WithWriter(os.Stderr),
		spinner.WithSuffix(" "+suffix),
	)
	s.Start()
	defer s.Stop()
	return fn()
}
