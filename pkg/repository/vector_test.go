package repository_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/talk2sql/pkg/interfaces"
	"github.com/m-mizutani/talk2sql/pkg/repository"
)

func testVectorStore(t *testing.T, store interfaces.VectorStore) {
	ctx := context.Background()
	coll := fmt.Sprintf("test_%d", time.Now().UnixNano())
	t.Cleanup(func() { _ = store.DropCollection(ctx, coll) })

	gt.NoError(t, store.EnsureCollection(ctx, coll, 3))
	// idempotent with the same dimensions
	gt.NoError(t, store.EnsureCollection(ctx, coll, 3))

	t.Run("search ranks by cosine similarity", func(t *testing.T) {
		gt.NoError(t, store.Upsert(ctx, coll, "x", []float32{1, 0, 0}, map[string]string{"text": "x"}))
		gt.NoError(t, store.Upsert(ctx, coll, "y", []float32{0, 1, 0}, map[string]string{"text": "y"}))
		gt.NoError(t, store.Upsert(ctx, coll, "xy", []float32{1, 1, 0}, map[string]string{"text": "xy"}))

		points, err := store.Search(ctx, coll, []float32{1, 0.1, 0}, 2)
		gt.NoError(t, err)
		gt.A(t, points).Length(2)
		gt.Equal(t, points[0].ID, "x")
		gt.Equal(t, points[1].ID, "xy")
		gt.Equal(t, points[0].Payload["text"], "x")
		gt.True(t, points[0].Score > points[1].Score)
	})

	t.Run("upsert replaces payload", func(t *testing.T) {
		gt.NoError(t, store.Upsert(ctx, coll, "x", []float32{1, 0, 0}, map[string]string{"text": "x2"}))

		points, err := store.Search(ctx, coll, []float32{1, 0, 0}, 1)
		gt.NoError(t, err)
		gt.A(t, points).Length(1)
		gt.Equal(t, points[0].Payload["text"], "x2")
	})

	t.Run("scroll returns all points", func(t *testing.T) {
		points, err := store.Scroll(ctx, coll, 10000)
		gt.NoError(t, err)
		gt.A(t, points).Length(3)
	})

	t.Run("delete removes a point", func(t *testing.T) {
		gt.NoError(t, store.Delete(ctx, coll, "y"))
		gt.NoError(t, store.Delete(ctx, coll, "missing"))

		points, err := store.Scroll(ctx, coll, 0)
		gt.NoError(t, err)
		gt.A(t, points).Length(2)
	})

	t.Run("dimension mismatch is rejected", func(t *testing.T) {
		err := store.Upsert(ctx, coll, "bad", []float32{1, 0}, nil)
		gt.Error(t, err)
		gt.True(t, errors.Is(err, repository.ErrDimensionMismatch))
	})

	t.Run("drop collection", func(t *testing.T) {
		gt.NoError(t, store.DropCollection(ctx, coll))
		_, err := store.Search(ctx, coll, []float32{1, 0, 0}, 1)
		gt.Error(t, err)
		gt.True(t, errors.Is(err, repository.ErrCollectionNotFound))
	})
}

func TestMemoryVectorStore(t *testing.T) {
	testVectorStore(t, repository.NewMemory())
}

func TestSQLiteVectorStore(t *testing.T) {
	store, err := repository.NewSQLite(context.Background(), filepath.Join(t.TempDir(), "vectors.db"))
	gt.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	testVectorStore(t, store)
}

func TestSQLiteVectorStorePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.db")

	store, err := repository.NewSQLite(ctx, path)
	gt.NoError(t, err)
	gt.NoError(t, store.EnsureCollection(ctx, "docs", 2))
	gt.NoError(t, store.Upsert(ctx, "docs", "a", []float32{0.5, 0.5}, map[string]string{"text": "kept"}))
	gt.NoError(t, store.Close())

	reopened, err := repository.NewSQLite(ctx, path)
	gt.NoError(t, err)
	defer reopened.Close()

	points, err := reopened.Scroll(ctx, "docs", 0)
	gt.NoError(t, err)
	gt.A(t, points).Length(1)
	gt.Equal(t, points[0].Payload["text"], "kept")

	// reopening with other dimensions must not silently succeed
	gt.Error(t, reopened.EnsureCollection(ctx, "docs", 3))
}

func TestFirestoreVectorStore(t *testing.T) {
	projectID := os.Getenv("TEST_FIRESTORE_PROJECT_ID")
	databaseID := os.Getenv("TEST_FIRESTORE_DATABASE_ID")
	if projectID == "" || databaseID == "" {
		t.Skip("TEST_FIRESTORE_PROJECT_ID and TEST_FIRESTORE_DATABASE_ID must be set to run Firestore tests")
	}

	store, err := repository.NewFirestore(context.Background(), projectID, databaseID)
	gt.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	testVectorStore(t, store)
}
