package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/m-mizutani/clog"
	"github.com/m-mizutani/goerr/v2"
)

type contextKey struct{}

var (
	loggerKey       = contextKey{}
	defaultLogger   *slog.Logger
	defaultLoggerMu sync.RWMutex
)

func init() {
	defaultLogger = New("info", os.Stderr)
}

// Format selects the log output encoding.
type Format string

const (
	// FormatConsole is the human readable, colored output used by the CLI.
	FormatConsole Format = "console"
	// FormatJSON is used when talk2sql runs as a server.
	FormatJSON Format = "json"
)

type options struct {
	format Format
	source bool
}

type Option func(*options)

func WithFormat(format Format) Option {
	return func(o *options) {
		o.format = format
	}
}

func WithSource(enabled bool) Option {
	return func(o *options) {
		o.source = enabled
	}
}

// ParseLevel converts a level name to slog.Level. Accepted names are
// "debug", "info", "warn", "warning" and "error", case-insensitive.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, goerr.New("invalid log level", goerr.V("level", level))
}

// ParseFormat converts a format name to Format.
func ParseFormat(format string) (Format, error) {
	switch Format(strings.ToLower(format)) {
	case FormatConsole, "":
		return FormatConsole, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return FormatConsole, goerr.New("invalid log format", goerr.V("format", format))
}

// New creates a logger writing to w. An invalid level falls back to info.
func New(level string, w io.Writer, opts ...Option) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	o := options{format: FormatConsole}
	for _, opt := range opts {
		opt(&o)
	}

	lv, err := ParseLevel(level)
	if err != nil && defaultLogger != nil {
		defaultLogger.Warn("invalid log level, falling back to info", "level", level)
	}

	if o.format == FormatJSON {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:     lv,
			AddSource: o.source,
		}))
	}

	handler := clog.New(
		clog.WithWriter(w),
		clog.WithLevel(lv),
		clog.WithTimeFmt("15:04:05"),
		clog.WithSource(o.source),
		clog.WithAttrHook(clog.GoerrHook),
	)

	return slog.New(handler)
}

// Default returns the default logger
func Default() *slog.Logger {
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(logger *slog.Logger) {
	defaultLoggerMu.Lock()
	defer defaultLoggerMu.Unlock()
	defaultLogger = logger
}

// With returns a new context with the logger attached
func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// From retrieves the logger from the context, or the default logger.
func From(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return Default()
}
