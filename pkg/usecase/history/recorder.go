package history

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/talk2sql/pkg/adapter"
	"github.com/m-mizutani/talk2sql/pkg/interfaces"
	"github.com/m-mizutani/talk2sql/pkg/metrics"
	"github.com/m-mizutani/talk2sql/pkg/model"
	"github.com/m-mizutani/talk2sql/pkg/repository"
	"github.com/m-mizutani/talk2sql/pkg/utils/logging"
)

// Recorder appends query attempts to the history store. Write failures are
// logged and never surface to the query path.
type Recorder struct {
	repo    interfaces.HistoryRepository
	metrics *metrics.Metrics

	mu sync.Mutex
}

type Option func(*Recorder)

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) {
		r.metrics = m
	}
}

// New records into repo. A nil repo makes the recorder a no-op.
func New(repo interfaces.HistoryRepository, opts ...Option) *Recorder {
	r := &Recorder{repo: repo}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Disabled returns a recorder that stores nothing.
func Disabled() *Recorder {
	return New(nil)
}

// Open records into the SQLite database at path. When it cannot be opened
// the recorder keeps history in memory for the lifetime of the process.
func Open(ctx context.Context, path string, opts ...Option) *Recorder {
	repo, err := repository.NewSQLiteHistory(ctx, path)
	if err != nil {
		logging.From(ctx).Warn("history database unavailable, keeping history in memory",
			"path", path, "error", err)
		return New(repository.NewMemoryHistory(), opts...)
	}
	return New(repo, opts...)
}

func (r *Recorder) Enabled() bool {
	return r != nil && r.repo != nil
}

// Record stores one attempt. A missing ID or timestamp is filled in.
func (r *Recorder) Record(ctx context.Context, attempt *model.QueryAttempt) error {
	if !r.Enabled() {
		return nil
	}

	if attempt.ID == "" {
		attempt.ID = model.NewAttemptID()
	}
	if attempt.Timestamp.IsZero() {
		attempt.Timestamp = time.Now().UTC()
	}

	r.mu.Lock()
	err := r.repo.PutAttempt(ctx, attempt)
	r.mu.Unlock()

	if err != nil {
		r.metrics.HistoryWriteFailure()
		logging.From(ctx).Error("failed to record query attempt",
			"id", attempt.ID, "question", attempt.Question, "error", err)
		return model.Classify(model.ErrPersistenceFailure, err)
	}
	return nil
}

// Query returns attempts newest first.
func (r *Recorder) Query(ctx context.Context, filter model.HistoryFilter) ([]*model.QueryAttempt, error) {
	if !r.Enabled() {
		return nil, nil
	}
	attempts, err := r.repo.ListAttempts(ctx, filter)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query history")
	}
	return attempts, nil
}

// AnalyzeErrorPatterns aggregates failure statistics over the whole history.
func (r *Recorder) AnalyzeErrorPatterns(ctx context.Context) (*model.ErrorAnalysis, error) {
	attempts, err := r.Query(ctx, model.HistoryFilter{})
	if err != nil {
		return nil, err
	}
	return model.AnalyzeAttempts(attempts), nil
}

// exportRecord is the JSON lines layout written by WriteJSONL.
type exportRecord struct {
	ID            string             `json:"id"`
	Timestamp     time.Time          `json:"timestamp"`
	Question      string             `json:"question"`
	SQL           string             `json:"sql,omitempty"`
	Success       bool               `json:"success"`
	ErrorMessage  string             `json:"error_message,omitempty"`
	RetryCount    int                `json:"retry_count"`
	Columns       []string           `json:"columns,omitempty"`
	Data          []map[string]any   `json:"data,omitempty"`
	Visualization *model.Figure      `json:"visualization,omitempty"`
	Summary       string             `json:"summary,omitempty"`
	TimingDetails map[string]float64 `json:"timing_details,omitempty"`
	UsedMemory    bool               `json:"used_memory"`
}

// WriteJSONL writes matching attempts to w, one JSON object per line, and
// returns how many were written.
func (r *Recorder) WriteJSONL(ctx context.Context, w io.Writer, filter model.HistoryFilter) (int, error) {
	attempts, err := r.Query(ctx, filter)
	if err != nil {
		return 0, err
	}

	enc := json.NewEncoder(w)
	for i, a := range attempts {
		rec := exportRecord{
			ID:            string(a.ID),
			Timestamp:     a.Timestamp,
			Question:      a.Question,
			SQL:           a.SQL,
			Success:       a.Success,
			ErrorMessage:  a.ErrorMessage,
			RetryCount:    a.RetryCount,
			Columns:       a.Result.ColumnNames(),
			Data:          a.Result.Records(),
			Visualization: a.Visualization,
			Summary:       a.Summary,
			TimingDetails: a.TimingDetails,
			UsedMemory:    a.UsedMemory,
		}
		if rec.TimingDetails == nil {
			rec.TimingDetails = a.Timing.Details()
		}
		if err := enc.Encode(rec); err != nil {
			return i, goerr.Wrap(err, "failed to write history record", goerr.V("id", a.ID))
		}
	}
	return len(attempts), nil
}

// Export uploads the history as JSON lines to object storage and returns
// the object URL.
func (r *Recorder) Export(ctx context.Context, storage adapter.Storage, key string, filter model.HistoryFilter) (string, error) {
	w, err := storage.Put(ctx, key, "application/x-ndjson")
	if err != nil {
		return "", goerr.Wrap(err, "failed to open export object", goerr.V("key", key))
	}

	n, err := r.WriteJSONL(ctx, w, filter)
	if err != nil {
		_ = w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", goerr.Wrap(err, "failed to upload history export", goerr.V("key", key))
	}

	url := storage.URL(key)
	logging.From(ctx).Info("history exported", "records", n, "url", url)
	return url, nil
}

func (r *Recorder) Close() error {
	if !r.Enabled() {
		return nil
	}
	return r.repo.Close()
}
