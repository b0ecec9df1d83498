package query

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/talk2sql/pkg/interfaces"
	"github.com/m-mizutani/talk2sql/pkg/metrics"
	"github.com/m-mizutani/talk2sql/pkg/model"
	"github.com/m-mizutani/talk2sql/pkg/usecase/history"
	"github.com/m-mizutani/talk2sql/pkg/usecase/memory"
	"github.com/m-mizutani/talk2sql/pkg/usecase/sqlgen"
)

// Engine answers questions with SQL. It retrieves context from the memory
// store, synthesizes a statement, runs it and repairs it on failure.
type Engine struct {
	synth    *sqlgen.Synthesizer
	memory   *memory.Store
	recorder *history.Recorder
	renderer interfaces.Renderer
	guard    interfaces.StatementGuard
	metrics  *metrics.Metrics
	cfg      model.Config
	dialect  string

	mu       sync.RWMutex
	executor interfaces.Executor
}

type Option func(*Engine)

// WithExecutor connects the engine to a database at construction.
func WithExecutor(exec interfaces.Executor) Option {
	return func(e *Engine) {
		e.executor = exec
	}
}

func WithRecorder(r *history.Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithRenderer sets the chart renderer. Without one, no visualization is
// attempted.
func WithRenderer(r interfaces.Renderer) Option {
	return func(e *Engine) {
		e.renderer = r
	}
}

// WithGuard checks every statement before it reaches the executor. The check
// is skipped when Config.Guard is false.
func WithGuard(g interfaces.StatementGuard) Option {
	return func(e *Engine) {
		e.guard = g
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithConfig(cfg model.Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// WithDialect names the SQL dialect in generation prompts, e.g. "SQLite".
func WithDialect(dialect string) Option {
	return func(e *Engine) {
		e.dialect = dialect
	}
}

func New(llm interfaces.LLM, store *memory.Store, opts ...Option) *Engine {
	e := &Engine{
		memory: store,
		cfg:    model.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.cfg.MaxRetryAttempts < 0 {
		e.cfg.MaxRetryAttempts = 0
	}
	if e.recorder == nil || !e.cfg.SaveHistory {
		e.recorder = history.Disabled()
	}
	e.synth = sqlgen.New(llm, sqlgen.WithDialect(e.dialect))

	return e
}

// Connect attaches an executor, replacing any previous one.
func (e *Engine) Connect(exec interfaces.Executor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executor = exec
}

func (e *Engine) Connected() bool {
	return e.currentExecutor() != nil
}

func (e *Engine) currentExecutor() interfaces.Executor {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.executor
}

func (e *Engine) Config() model.Config {
	return e.cfg
}

func (e *Engine) Recorder() *history.Recorder {
	return e.recorder
}

func (e *Engine) Memory() *memory.Store {
	return e.memory
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (e *Engine) llmContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(ctx, e.cfg.LLMTimeout)
}

func (e *Engine) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(ctx, e.cfg.QueryTimeout)
}
