package interfaces

import (
	"context"

	"github.com/m-mizutani/talk2sql/pkg/model"
)

// VectorStore is a collection-oriented nearest-neighbor index.
type VectorStore interface {
	// EnsureCollection creates the collection if it does not exist yet
	EnsureCollection(ctx context.Context, collection string, dims int) error

	// Upsert inserts or replaces a point
	Upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]string) error

	// Search returns up to limit points ordered by similarity (highest first)
	Search(ctx context.Context, collection string, vector []float32, limit int) ([]*model.VectorPoint, error)

	// Scroll returns up to limit points without ranking
	Scroll(ctx context.Context, collection string, limit int) ([]*model.VectorPoint, error)

	// Delete removes a point. Deleting a missing point is not an error
	Delete(ctx context.Context, collection, id string) error

	// DropCollection removes the collection and all of its points
	DropCollection(ctx context.Context, collection string) error
}

// HistoryRepository persists query attempts.
type HistoryRepository interface {
	PutAttempt(ctx context.Context, attempt *model.QueryAttempt) error
	// ListAttempts returns attempts ordered by timestamp, newest first
	ListAttempts(ctx context.Context, filter model.HistoryFilter) ([]*model.QueryAttempt, error)
	Close() error
}
