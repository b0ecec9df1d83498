package mcp

import (
	"context"
	"net/http"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/talk2sql/pkg/usecase/query"
	"github.com/m-mizutani/talk2sql/pkg/utils/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	serverName      = "talk2sql"
	defaultMaxRows  = 100
	defaultStarters = 5
)

// Server exposes the query engine as MCP tools.
type Server struct {
	engine  *query.Engine
	server  *mcp.Server
	version string
	maxRows int
}

type Option func(*Server)

func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// WithMaxRows caps the rows returned to the client per result. The full
// result is still recorded in history.
func WithMaxRows(n int) Option {
	return func(s *Server) {
		s.maxRows = n
	}
}

func New(engine *query.Engine, opts ...Option) *Server {
	s := &Server{
		engine:  engine,
		version: "dev",
		maxRows: defaultMaxRows,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: s.version,
	}, nil)
	s.registerTools()

	return s
}

// RunStdio serves a single client over stdin/stdout until ctx is done or
// the client disconnects.
func (s *Server) RunStdio(ctx context.Context) error {
	logging.From(ctx).Info("MCP server started", "transport", "stdio")
	if err := s.server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return goerr.Wrap(err, "MCP stdio server stopped")
	}
	return nil
}

// Handler serves the streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return s.server
	}, nil)
}
