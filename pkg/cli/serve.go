package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/talk2sql/pkg/metrics"
	"github.com/m-mizutani/talk2sql/pkg/service/mcp"
	"github.com/m-mizutani/talk2sql/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

const (
	transportStdio = "stdio"
	transportHTTP  = "http"
)

func serveCommand() *cli.Command {
	var (
		cfg       config
		transport string
		addr      string
		maxRows   int64
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "transport",
			Aliases:     []string{"t"},
			Usage:       "MCP transport (stdio, http)",
			Value:       transportStdio,
			Sources:     cli.EnvVars("TALK2SQL_TRANSPORT"),
			Destination: &transport,
		},
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Listen address of the http transport, which also serves /metrics",
			Value:       "127.0.0.1:8080",
			Sources:     cli.EnvVars("TALK2SQL_ADDR"),
			Destination: &addr,
		},
		&cli.IntFlag{
			Name:        "result-rows",
			Usage:       "Rows returned to the client per result",
			Value:       100,
			Sources:     cli.EnvVars("TALK2SQL_RESULT_ROWS"),
			Destination: &maxRows,
		},
	}
	flags = append(flags, engineCommandFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Run as an MCP server",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := cfg.load(ctx, c); err != nil {
				return err
			}

			m := metrics.New(nil)
			set, err := cfg.newEngine(ctx, m)
			if err != nil {
				return err
			}
			defer set.Close()

			server := mcp.New(set.engine,
				mcp.WithVersion(c.Root().Version),
				mcp.WithMaxRows(int(maxRows)),
			)

			switch transport {
			case transportStdio:
				return server.RunStdio(ctx)
			case transportHTTP:
				mux := http.NewServeMux()
				mux.Handle("/mcp", server.Handler())
				mux.Handle("/metrics", m.Handler())
				return listen(ctx, addr, mux)
			}
			return goerr.New("unknown transport", goerr.V("transport", transport))
		},
	}
}

// listen serves handler until ctx is canceled.
func listen(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.From(ctx).Info("MCP server started", "transport", transportHTTP, "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return goerr.Wrap(err, "http server stopped", goerr.V("addr", addr))
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return goerr.Wrap(err, "failed to shut down http server")
	}
	logging.From(ctx).Info("MCP server stopped")
	return nil
}
