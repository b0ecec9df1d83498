package interfaces

import (
	"context"

	"github.com/m-mizutani/talk2sql/pkg/model"
)

// LLM is a single-shot text generation service.
type LLM interface {
	Complete(ctx context.Context, messages []model.Message) (string, error)
}

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Executor runs SQL against a connected database. Rejected statements are
// reported as *model.ExecutionError.
type Executor interface {
	Run(ctx context.Context, sql string) (*model.ResultSet, error)
}

// SchemaSource is implemented by executors that can describe their tables.
type SchemaSource interface {
	SchemaDDL(ctx context.Context) ([]string, error)
}

// Renderer evaluates an LLM-authored chart script against a result set.
type Renderer interface {
	Render(ctx context.Context, script string, rs *model.ResultSet) (*model.Figure, error)
}

// StatementGuard decides whether a statement may reach the executor.
type StatementGuard interface {
	Check(ctx context.Context, sql string) error
}
