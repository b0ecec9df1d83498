package cli

import (
	"context"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/talk2sql/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// version is replaced at build time with -ldflags "-X".
var version = "dev"

type Error struct {
	Code    int
	Message string
}

// Run executes the talk2sql command line
func Run(ctx context.Context, argv []string) *Error {
	var (
		logLevel  string
		logFormat string
		logSource bool
	)

	cmd := &cli.Command{
		Name:    "talk2sql",
		Usage:   "Ask questions to your database in natural language",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Aliases:     []string{"l"},
				Usage:       "Log level (debug, info, warn, error)",
				Value:       "info",
				Sources:     cli.EnvVars("TALK2SQL_LOG_LEVEL"),
				Destination: &logLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "Log format (console, json)",
				Value:       string(logging.FormatConsole),
				Sources:     cli.EnvVars("TALK2SQL_LOG_FORMAT"),
				Destination: &logFormat,
			},
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "Debug logging, including generated prompts and SQL",
				Sources: cli.EnvVars("TALK2SQL_DEBUG"),
			},
			&cli.BoolFlag{
				Name:        "log-source",
				Usage:       "Add source location to log records",
				Sources:     cli.EnvVars("TALK2SQL_LOG_SOURCE"),
				Destination: &logSource,
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config file (YAML, TOML or JSON) whose keys are flag names",
				Sources: cli.EnvVars("TALK2SQL_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Load environment variables from this file before reading flags",
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			if c.Bool("debug") {
				logLevel = "debug"
			}
			if _, err := logging.ParseLevel(logLevel); err != nil {
				return ctx, err
			}
			format, err := logging.ParseFormat(logFormat)
			if err != nil {
				return ctx, err
			}

			logger := logging.New(logLevel, os.Stderr,
				logging.WithFormat(format),
				logging.WithSource(logSource),
			)
			logging.SetDefault(logger)
			return logging.With(ctx, logger), nil
		},
		Commands: []*cli.Command{
			askCommand(),
			chatCommand(),
			trainCommand(),
			memoryCommand(),
			historyCommand(),
			starterCommand(),
			serveCommand(),
		},
	}

	if err := loadEnvFile(argv); err != nil {
		logging.Default().Error("failed to load env file", "error", err)
		return &Error{Code: 1, Message: err.Error()}
	}

	if err := cmd.Run(ctx, argv); err != nil {
		logging.From(ctx).Error("command failed", "error", err)
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}

// loadEnvFile reads --env-file, or .env in the working directory when it
// exists. Flag sources read the environment while parsing, so this runs
// before the command line is parsed.
func loadEnvFile(argv []string) error {
	path := ""
	for i, arg := range argv {
		if arg == "--env-file" && i+1 < len(argv) {
			path = argv[i+1]
		} else if v, ok := strings.CutPrefix(arg, "--env-file="); ok {
			path = v
		}
	}

	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}

	if err := godotenv.Load(path); err != nil {
		return goerr.Wrap(err, "failed to load env file", goerr.V("path", path))
	}
	return nil
}
