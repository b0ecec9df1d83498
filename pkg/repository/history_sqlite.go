package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/talk2sql/pkg/model"
	"github.com/m-mizutani/talk2sql/pkg/utils/logging"
)

//go:embed migrations/*.sql
var historyMigrations embed.FS

// timestamps are stored as fixed-width UTC text so lexical order is time order
const historyTimeFormat = "2006-01-02T15:04:05.000000000Z"

// SQLiteHistory is an append-only attempt log in SQLite.
type SQLiteHistory struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteHistory opens (or creates) the history database at path and
// applies pending schema migrations.
func NewSQLiteHistory(ctx context.Context, path string) (*SQLiteHistory, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "failed to open history database", goerr.V("path", path))
	}

	if err := migrateHistory(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteHistory{db: db}, nil
}

func migrateHistory(ctx context.Context, db *sql.DB) error {
	src, err := iofs.New(historyMigrations, "migrations")
	if err != nil {
		return goerr.Wrap(err, "failed to load history migrations")
	}

	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return goerr.Wrap(err, "failed to create migration driver")
	}

	// Closing m would close db through the driver, so only the source is closed.
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		_ = src.Close()
		return goerr.Wrap(err, "failed to create migrator")
	}
	defer func() { _ = src.Close() }()

	if err := baselineLegacyHistory(ctx, db, m); err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return goerr.Wrap(err, "failed to migrate history schema")
	}
	return nil
}

// baselineLegacyHistory marks databases created before versioned
// migrations existed with the version their columns correspond to.
func baselineLegacyHistory(ctx context.Context, db *sql.DB, m *migrate.Migrate) error {
	_, _, err := m.Version()
	if err == nil {
		return nil
	}
	if !errors.Is(err, migrate.ErrNilVersion) {
		return goerr.Wrap(err, "failed to read history schema version")
	}

	columns, err := tableColumns(ctx, db, "query_history")
	if err != nil {
		return err
	}
	if len(columns) == 0 {
		return nil
	}

	version := 1
	if columns["used_memory"] {
		version = 2
	}
	logging.From(ctx).Info("baselining legacy history table", "version", version)
	if err := m.Force(version); err != nil {
		return goerr.Wrap(err, "failed to baseline legacy history table", goerr.V("version", version))
	}
	return nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to inspect table", goerr.V("table", table))
	}
	defer rows.Close()

	columns := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, goerr.Wrap(err, "failed to scan column name")
		}
		columns[name] = true
	}
	return columns, rows.Err()
}

func nullMillis(d time.Duration) sql.NullFloat64 {
	if d <= 0 {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: model.Millis(d), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (h *SQLiteHistory) PutAttempt(ctx context.Context, attempt *model.QueryAttempt) error {
	var (
		data, columns sql.NullString
		viz           []byte
	)

	if attempt.Result != nil {
		raw, err := json.Marshal(attempt.Result.Records())
		if err != nil {
			return goerr.Wrap(err, "failed to encode result snapshot", goerr.V("id", attempt.ID))
		}
		data = sql.NullString{String: string(raw), Valid: true}

		raw, err = json.Marshal(attempt.Result.ColumnNames())
		if err != nil {
			return goerr.Wrap(err, "failed to encode columns", goerr.V("id", attempt.ID))
		}
		columns = sql.NullString{String: string(raw), Valid: true}
	}

	if attempt.Visualization != nil {
		raw, err := json.Marshal(attempt.Visualization)
		if err != nil {
			return goerr.Wrap(err, "failed to encode visualization", goerr.V("id", attempt.ID))
		}
		viz = raw
	}

	details := attempt.TimingDetails
	if details == nil {
		details = attempt.Timing.Details()
	}
	rawDetails, err := json.Marshal(details)
	if err != nil {
		return goerr.Wrap(err, "failed to encode timing details", goerr.V("id", attempt.ID))
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	_, err = h.db.ExecContext(ctx, `
		INSERT INTO query_history (
			id, timestamp, question, sql, success, error_message, retry_count,
			data, columns, visualization, summary,
			total_time_ms, sql_generation_time_ms, sql_execution_time_ms,
			visualization_time_ms, explanation_time_ms, timing_details, used_memory
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(attempt.ID),
		attempt.Timestamp.UTC().Format(historyTimeFormat),
		attempt.Question,
		nullString(attempt.SQL),
		boolInt(attempt.Success),
		nullString(attempt.ErrorMessage),
		attempt.RetryCount,
		data,
		columns,
		viz,
		nullString(attempt.Summary),
		nullMillis(attempt.Timing.Total),
		nullMillis(attempt.Timing.SQLGeneration),
		nullMillis(attempt.Timing.SQLExecution),
		nullMillis(attempt.Timing.Visualization),
		nullMillis(attempt.Timing.Explanation),
		string(rawDetails),
		boolInt(attempt.UsedMemory),
	)
	if err != nil {
		return goerr.Wrap(err, "failed to insert query attempt", goerr.V("id", attempt.ID))
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (h *SQLiteHistory) ListAttempts(ctx context.Context, filter model.HistoryFilter) ([]*model.QueryAttempt, error) {
	query := `
		SELECT id, timestamp, question, sql, success, error_message, retry_count,
			data, columns, visualization, summary,
			total_time_ms, sql_generation_time_ms, sql_execution_time_ms,
			visualization_time_ms, explanation_time_ms, timing_details, used_memory
		FROM query_history`

	var where []string
	if filter.SuccessOnly {
		where = append(where, "success = 1")
	}
	if filter.ErrorsOnly {
		where = append(where, "error_message IS NOT NULL")
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, rowid DESC"

	var args []any
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query history")
	}
	defer rows.Close()

	var attempts []*model.QueryAttempt
	for rows.Next() {
		a, err := scanAttempt(ctx, rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate history")
	}
	return attempts, nil
}

func scanAttempt(ctx context.Context, rows *sql.Rows) (*model.QueryAttempt, error) {
	var (
		id, ts                                 string
		question, sqlText, errMsg, summary     sql.NullString
		data, columns, details                 sql.NullString
		success, retry, usedMemory             sql.NullInt64
		viz                                    []byte
		total, gen, exec, vizTime, explanation sql.NullFloat64
	)
	if err := rows.Scan(&id, &ts, &question, &sqlText, &success, &errMsg, &retry,
		&data, &columns, &viz, &summary,
		&total, &gen, &exec, &vizTime, &explanation, &details, &usedMemory); err != nil {
		return nil, goerr.Wrap(err, "failed to scan history row")
	}

	a := &model.QueryAttempt{
		ID:           model.AttemptID(id),
		Question:     question.String,
		SQL:          sqlText.String,
		Success:      success.Int64 == 1,
		ErrorMessage: errMsg.String,
		RetryCount:   int(retry.Int64),
		Summary:      summary.String,
		UsedMemory:   usedMemory.Int64 == 1,
		Timing: model.Timing{
			Total:         millisDuration(total),
			SQLGeneration: millisDuration(gen),
			SQLExecution:  millisDuration(exec),
			Visualization: millisDuration(vizTime),
			Explanation:   millisDuration(explanation),
		},
	}

	logger := logging.From(ctx)
	if t, err := parseHistoryTime(ts); err == nil {
		a.Timestamp = t
	} else {
		logger.Warn("unparsable history timestamp", "id", id, "timestamp", ts)
	}

	if data.Valid && columns.Valid {
		var names []string
		var records []map[string]any
		if err := json.Unmarshal([]byte(columns.String), &names); err != nil {
			logger.Warn("unreadable history columns", "id", id, "error", err)
		} else if err := json.Unmarshal([]byte(data.String), &records); err != nil {
			logger.Warn("unreadable history result snapshot", "id", id, "error", err)
		} else {
			a.Result = model.ResultSetFromRecords(names, records)
		}
	}

	if len(viz) > 0 {
		var fig model.Figure
		if err := json.Unmarshal(viz, &fig); err == nil {
			a.Visualization = &fig
		} else {
			logger.Warn("unreadable history visualization", "id", id, "error", err)
		}
	}

	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &a.TimingDetails); err != nil {
			logger.Warn("unreadable timing details", "id", id, "error", err)
		}
	}

	return a, nil
}

func millisDuration(v sql.NullFloat64) time.Duration {
	if !v.Valid {
		return 0
	}
	return time.Duration(v.Float64 * float64(time.Millisecond))
}

// parseHistoryTime accepts the native format and ISO timestamps without
// zone written by older tooling.
func parseHistoryTime(s string) (time.Time, error) {
	for _, layout := range []string{historyTimeFormat, time.RFC3339Nano, "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, goerr.New("unknown timestamp format", goerr.V("timestamp", s))
}

func (h *SQLiteHistory) Close() error {
	return h.db.Close()
}
