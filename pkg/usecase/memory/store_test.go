package memory_test

import (
	"context"
	"errors"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/talk2sql/pkg/model"
	"github.com/m-mizutani/talk2sql/pkg/repository"
	"github.com/m-mizutani/talk2sql/pkg/usecase/memory"
)

// wordEmbedder hashes words into a small bag-of-words vector so similar texts
// land close to each other.
type wordEmbedder struct {
	calls int
	err   error
}

func (e *wordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	vec := make([]float32, 32)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(w, ".,?:;()")))
		vec[h.Sum32()%32]++
	}
	vec[0] += 0.01
	return vec, nil
}

func newStore(t *testing.T, opts ...memory.Option) (*memory.Store, *wordEmbedder) {
	t.Helper()
	embedder := &wordEmbedder{}
	return memory.New(repository.NewMemory(), embedder, opts...), embedder
}

func TestAddIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)

	ref1, err := store.AddQuestionSQL(ctx, "how many users", "SELECT COUNT(*) FROM users")
	gt.NoError(t, err)
	ref2, err := store.AddQuestionSQL(ctx, "how many users", "SELECT COUNT(*) FROM users")
	gt.NoError(t, err)
	gt.Equal(t, ref1, ref2)
	gt.True(t, strings.HasSuffix(ref1, "-q"))

	expected := string(model.NewMemoryID(model.QuestionContent("how many users", "SELECT COUNT(*) FROM users"))) + "-q"
	gt.Equal(t, ref1, expected)

	entries, err := store.List(ctx)
	gt.NoError(t, err)
	gt.A(t, entries).Length(1)
	gt.Equal(t, entries[0].Text, "how many users")
	gt.Equal(t, entries[0].SQL, "SELECT COUNT(*) FROM users")
}

func TestAddRefSuffixes(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)

	ref, err := store.AddSchema(ctx, "CREATE TABLE users (id INTEGER, name TEXT)")
	gt.NoError(t, err)
	gt.True(t, strings.HasSuffix(ref, "-s"))

	ref, err = store.AddDocumentation(ctx, "users are people who signed up")
	gt.NoError(t, err)
	gt.True(t, strings.HasSuffix(ref, "-d"))

	_, err = store.AddSchema(ctx, "")
	gt.Error(t, err)
}

func TestAssemble(t *testing.T) {
	ctx := context.Background()

	t.Run("empty memory", func(t *testing.T) {
		store, embedder := newStore(t)
		rc, err := store.Assemble(ctx, "how many users")
		gt.NoError(t, err)
		gt.False(t, rc.UsedMemory())
		gt.Equal(t, embedder.calls, 1)
	})

	t.Run("collects from every collection", func(t *testing.T) {
		store, embedder := newStore(t, memory.WithNResults(1))
		_, err := store.AddQuestionSQL(ctx, "how many users", "SELECT COUNT(*) FROM users")
		gt.NoError(t, err)
		_, err = store.AddQuestionSQL(ctx, "total sales by region", "SELECT region, SUM(amount) FROM sales GROUP BY region")
		gt.NoError(t, err)
		_, err = store.AddSchema(ctx, "CREATE TABLE users (id INTEGER, name TEXT)")
		gt.NoError(t, err)
		_, err = store.AddDocumentation(ctx, "users table lists every registered user")
		gt.NoError(t, err)

		embedder.calls = 0
		rc, err := store.Assemble(ctx, "how many users are there")
		gt.NoError(t, err)
		gt.Equal(t, embedder.calls, 1)
		gt.True(t, rc.UsedMemory())
		gt.A(t, rc.Examples).Length(1)
		gt.Equal(t, rc.Examples[0].SQL, "SELECT COUNT(*) FROM users")
		gt.A(t, rc.Schemas).Length(1)
		gt.A(t, rc.Docs).Length(1)
	})

	t.Run("embedding failure", func(t *testing.T) {
		store, embedder := newStore(t)
		embedder.err = errors.New("quota exceeded")
		_, err := store.Assemble(ctx, "anything")
		gt.Error(t, err)
	})
}

func TestRemoveAndReset(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)

	qref, err := store.AddQuestionSQL(ctx, "q", "SELECT 1")
	gt.NoError(t, err)
	_, err = store.AddSchema(ctx, "CREATE TABLE a (x INTEGER)")
	gt.NoError(t, err)

	ok, err := store.Remove(ctx, "not-a-ref")
	gt.NoError(t, err)
	gt.False(t, ok)

	ok, err = store.Remove(ctx, qref)
	gt.NoError(t, err)
	gt.True(t, ok)

	entries, err := store.List(ctx)
	gt.NoError(t, err)
	gt.A(t, entries).Length(1)
	gt.Equal(t, entries[0].Kind, model.MemorySchema)

	gt.NoError(t, store.Reset(ctx, model.MemorySchema))
	schemas, err := store.Schemas(ctx)
	gt.NoError(t, err)
	gt.A(t, schemas).Length(0)

	// collection must still be usable after reset
	_, err = store.AddSchema(ctx, "CREATE TABLE b (y INTEGER)")
	gt.NoError(t, err)
	schemas, err = store.Schemas(ctx)
	gt.NoError(t, err)
	gt.A(t, schemas).Length(1)
}

func TestResetBySharingStore(t *testing.T) {
	ctx := context.Background()
	vectors, err := repository.NewSQLite(ctx, filepath.Join(t.TempDir(), "memory.db"))
	gt.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	serving := memory.New(vectors, &wordEmbedder{})
	admin := memory.New(vectors, &wordEmbedder{})

	_, err = serving.AddSchema(ctx, "CREATE TABLE users (id INTEGER)")
	gt.NoError(t, err)
	rc, err := serving.Assemble(ctx, "list users")
	gt.NoError(t, err)
	gt.A(t, rc.Schemas).Length(1)

	gt.NoError(t, admin.Reset(ctx, model.MemorySchema))

	rc, err = serving.Assemble(ctx, "list users")
	gt.NoError(t, err)
	gt.A(t, rc.Schemas).Length(0)

	// the dropped collection is recreated on the next write
	_, err = serving.AddSchema(ctx, "CREATE TABLE orders (id INTEGER)")
	gt.NoError(t, err)
	rc, err = serving.Assemble(ctx, "list orders")
	gt.NoError(t, err)
	gt.A(t, rc.Schemas).Length(1)
	gt.Equal(t, rc.Schemas[0], "CREATE TABLE orders (id INTEGER)")
}

func TestLoadTrainingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.yaml")
	gt.NoError(t, os.WriteFile(path, []byte(`questions:
  - question: how many users
    sql: SELECT COUNT(*) FROM users
schemas:
  - CREATE TABLE users (id INTEGER, name TEXT)
docs:
  - users holds one row per account
`), 0644))

	set, err := memory.LoadTrainingFile(path)
	gt.NoError(t, err)
	gt.Equal(t, set.Size(), 3)
	gt.Equal(t, set.Questions[0].SQL, "SELECT COUNT(*) FROM users")

	store, _ := newStore(t)
	refs, err := store.Train(context.Background(), set)
	gt.NoError(t, err)
	gt.A(t, refs).Length(3)
}

func TestLoadTrainingFileMissingSQL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.yaml")
	gt.NoError(t, os.WriteFile(path, []byte("questions:\n  - question: only a question\n"), 0644))

	_, err := memory.LoadTrainingFile(path)
	gt.Error(t, err)
}

func TestLoadTrainingDir(t *testing.T) {
	dir := t.TempDir()
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "count.sql"), []byte(`-- question: how many users
-- author: someone
SELECT COUNT(*)
FROM users;
`), 0644))
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "schema.sql"), []byte(`-- users table
CREATE TABLE users (id INTEGER);
`), 0644))
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	set, err := memory.LoadTrainingDir(dir)
	gt.NoError(t, err)
	gt.A(t, set.Questions).Length(1)
	gt.Equal(t, set.Questions[0].Question, "how many users")
	gt.Equal(t, set.Questions[0].SQL, "SELECT COUNT(*)\nFROM users;")
	gt.A(t, set.Schemas).Length(1)
	gt.Equal(t, set.Schemas[0], "CREATE TABLE users (id INTEGER);")

	_, err = memory.LoadTrainingDir(filepath.Join(dir, "missing"))
	gt.Error(t, err)
}
