package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/talk2sql/pkg/model"
	"github.com/m-mizutani/talk2sql/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

const chatHelp = `Type a question to query the database.
  :analyze <question>  answer and explain in detail
  :starter             suggest questions to start with
  :help                show this help
  exit                 leave the session`

func chatCommand() *cli.Command {
	var (
		cfg       config
		disp      display
		followups bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "followups",
			Aliases:     []string{"f"},
			Usage:       "Suggest follow-up questions after each answer",
			Destination: &followups,
		},
	}
	flags = append(flags, displayFlags(&disp)...)
	flags = append(flags, engineCommandFlags(&cfg)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive question session",
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

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "talk2sql> ",
				HistoryFile:     chatHistoryFile(),
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return goerr.Wrap(err, "failed to start line editor")
			}
			defer rl.Close()

			disp.w = c.Root().Writer
			if !set.engine.Connected() {
				disp.note("No database connection is configured, questions will fail until one is set.")
			}
			fmt.Fprintln(disp.w, "Chat session started. Type ':help' for commands, 'exit' to quit.")

			opts := queryOptions(followups, false)
			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					if line == "" {
						break
					}
					continue
				}
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read input")
				}

				line = strings.TrimSpace(line)
				switch {
				case line == "":
					continue

				case line == "exit" || line == "quit":
					return nil

				case line == ":help":
					fmt.Fprintln(disp.w, chatHelp)

				case line == ":starter":
					questions, err := set.engine.GenerateStarterQuestions(ctx, defaultStarterCount)
					if err != nil {
						logging.From(ctx).Warn("failed to suggest questions", "error", err)
						disp.note("Could not suggest questions: %s", err.Error())
						continue
					}
					for _, q := range questions {
						fmt.Fprintln(disp.w, "- "+q)
					}

				case strings.HasPrefix(line, ":analyze"):
					question := strings.TrimSpace(strings.TrimPrefix(line, ":analyze"))
					if question == "" {
						disp.note("usage: :analyze <question>")
						continue
					}
					res := withSpinner(!disp.plain, "Analyzing...", func() *model.SmartQueryResult {
						return set.engine.AnalyzeData(ctx, question, opts...)
					})
					if err := disp.printResult(res); err != nil {
						return err
					}

				default:
					res := withSpinner(!disp.plain, "Thinking...", func() *model.SmartQueryResult {
						return set.engine.SmartQuery(ctx, line, opts...)
					})
					if err := disp.printResult(res); err != nil {
						return err
					}
				}

				if ctx.Err() != nil {
					return nil
				}
			}

			fmt.Fprintln(disp.w, "\nChat session completed")
			return nil
		},
	}
}

func chatHistoryFile() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, ".talk2sql_history")
}
