package history_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/talk2sql/pkg/adapter"
	"github.com/m-mizutani/talk2sql/pkg/interfaces"
	"github.com/m-mizutani/talk2sql/pkg/metrics"
	"github.com/m-mizutani/talk2sql/pkg/model"
	"github.com/m-mizutani/talk2sql/pkg/repository"
	"github.com/m-mizutani/talk2sql/pkg/usecase/history"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type failingRepo struct {
	interfaces.HistoryRepository
}

func (f *failingRepo) PutAttempt(ctx context.Context, attempt *model.QueryAttempt) error {
	return errors.New("disk full")
}

func TestRecordFillsIdentity(t *testing.T) {
	ctx := context.Background()
	rec := history.New(repository.NewMemoryHistory())

	a := &model.QueryAttempt{Question: "q", SQL: "SELECT 1", Success: true}
	gt.NoError(t, rec.Record(ctx, a))
	gt.True(t, a.ID != "")
	gt.False(t, a.Timestamp.IsZero())

	got, err := rec.Query(ctx, model.HistoryFilter{})
	gt.NoError(t, err)
	gt.A(t, got).Length(1)
}

func TestRecordFailureIsReported(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := history.New(&failingRepo{}, history.WithMetrics(metrics.New(reg)))

	err := rec.Record(context.Background(), &model.QueryAttempt{Question: "q"})
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrPersistenceFailure))

	count, err := testutil.GatherAndCount(reg, "talk2sql_history_write_failures_total")
	gt.NoError(t, err)
	gt.Equal(t, count, 1)
}

func TestDisabled(t *testing.T) {
	ctx := context.Background()
	rec := history.Disabled()
	gt.False(t, rec.Enabled())
	gt.NoError(t, rec.Record(ctx, &model.QueryAttempt{Question: "q"}))

	got, err := rec.Query(ctx, model.HistoryFilter{})
	gt.NoError(t, err)
	gt.A(t, got).Length(0)

	analysis, err := rec.AnalyzeErrorPatterns(ctx)
	gt.NoError(t, err)
	gt.Equal(t, analysis.TotalQueries, 0)
	gt.NoError(t, rec.Close())
}

func TestOpenFallsBackToMemory(t *testing.T) {
	ctx := context.Background()
	// a path below a regular file can never be created
	blocker := filepath.Join(t.TempDir(), "file")
	gt.NoError(t, writeFile(blocker))

	rec := history.Open(ctx, filepath.Join(blocker, "history.db"))
	gt.True(t, rec.Enabled())
	gt.NoError(t, rec.Record(ctx, &model.QueryAttempt{Question: "q", Success: true}))

	got, err := rec.Query(ctx, model.HistoryFilter{})
	gt.NoError(t, err)
	gt.A(t, got).Length(1)
}

func TestOpenSQLite(t *testing.T) {
	ctx := context.Background()
	rec := history.Open(ctx, filepath.Join(t.TempDir(), "history.db"))
	defer rec.Close()

	gt.NoError(t, rec.Record(ctx, &model.QueryAttempt{Question: "q", SQL: "SELECT 1", Success: true}))
	got, err := rec.Query(ctx, model.HistoryFilter{SuccessOnly: true})
	gt.NoError(t, err)
	gt.A(t, got).Length(1)
}

func TestAnalyzeErrorPatterns(t *testing.T) {
	ctx := context.Background()
	rec := history.New(repository.NewMemoryHistory())
	base := time.Now().Add(-time.Hour)

	attempts := []*model.QueryAttempt{
		{Question: "a", ErrorMessage: "no such table: x", RetryCount: 0},
		{Question: "a", ErrorMessage: "no such column: y", RetryCount: 1},
		{Question: "a", Success: true, RetryCount: 2},
		{Question: "b", Success: true},
	}
	for i, a := range attempts {
		a.Timestamp = base.Add(time.Duration(i) * time.Second)
		gt.NoError(t, rec.Record(ctx, a))
	}

	analysis, err := rec.AnalyzeErrorPatterns(ctx)
	gt.NoError(t, err)
	gt.Equal(t, analysis.TotalQueries, 4)
	gt.Equal(t, analysis.ErrorQueries, 2)
	gt.Equal(t, analysis.ErrorRate, 0.5)
	gt.Equal(t, analysis.RetriedQueries, 2)
	gt.Equal(t, analysis.SuccessfulRetries, 1)
	gt.A(t, analysis.CommonErrorTypes).Length(2)
	gt.Equal(t, analysis.CommonErrorTypes[0].Type, "no such column")
}

type memoryStorage struct {
	adapter.Storage
	objects map[string]*bytes.Buffer
}

type bufferCloser struct{ *bytes.Buffer }

func (bufferCloser) Close() error { return nil }

func (m *memoryStorage) Put(ctx context.Context, key, contentType string) (io.WriteCloser, error) {
	buf := &bytes.Buffer{}
	m.objects[key] = buf
	return bufferCloser{buf}, nil
}

func (m *memoryStorage) URL(key string) string {
	return "mem://" + key
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	rec := history.New(repository.NewMemoryHistory())

	gt.NoError(t, rec.Record(ctx, &model.QueryAttempt{
		Question: "q1",
		SQL:      "SELECT region, total FROM sales",
		Success:  true,
		Result:   model.NewResultSet([]string{"region", "total"}, nil, [][]any{{"east", 1.5}}),
		Timing:   model.Timing{Total: 2 * time.Second},
	}))
	gt.NoError(t, rec.Record(ctx, &model.QueryAttempt{Question: "q2", ErrorMessage: "boom"}))

	storage := &memoryStorage{objects: map[string]*bytes.Buffer{}}
	url, err := rec.Export(ctx, storage, "exports/history.jsonl", model.HistoryFilter{})
	gt.NoError(t, err)
	gt.Equal(t, url, "mem://exports/history.jsonl")

	var lines []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(storage.objects["exports/history.jsonl"].String()))
	for scanner.Scan() {
		var line map[string]any
		gt.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	gt.A(t, lines).Length(2)

	var success map[string]any
	for _, l := range lines {
		if l["question"] == "q1" {
			success = l
		}
	}
	gt.V(t, success).NotNil()
	gt.Map(t, success).HasKey("data")
	gt.Map(t, success).HasKey("timing_details")
}

func writeFile(path string) error {
	return os.WriteFile(path, []byte("x"), 0644)
}
