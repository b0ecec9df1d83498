package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/talk2sql/pkg/model"
	_ "modernc.org/sqlite"
)

// sqliteDSN appends the pragmas needed for one writer with concurrent
// readers.
func sqliteDSN(path string) string {
	dsn := path
	if strings.Contains(dsn, "?") {
		dsn += "&"
	} else {
		dsn += "?"
	}
	return dsn + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
}

func openSQLite(path string) (*sql.DB, error) {
	if path == "" {
		return nil, goerr.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, goerr.Wrap(err, "failed to create data directory", goerr.V("path", path))
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open sqlite", goerr.V("path", path))
	}
	return db, nil
}

const vectorSchema = `
CREATE TABLE IF NOT EXISTS vector_collections (
	name       TEXT PRIMARY KEY,
	dimensions INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS vector_points (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	vector     BLOB NOT NULL,
	payload    TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (collection, id)
);
`

// SQLite is a VectorStore kept in a local SQLite file. Search is a full
// cosine scan of the collection, which is fine for training-set sized data.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.ExecContext(ctx, vectorSchema); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "failed to initialize vector schema", goerr.V("path", path))
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) dimensions(ctx context.Context, collection string) (int, error) {
	var dims int
	err := s.db.QueryRowContext(ctx, `SELECT dimensions FROM vector_collections WHERE name = ?`, collection).Scan(&dims)
	if err == sql.ErrNoRows {
		return 0, goerr.Wrap(ErrCollectionNotFound, "collection is not initialized", goerr.V("collection", collection))
	}
	if err != nil {
		return 0, goerr.Wrap(err, "failed to read collection", goerr.V("collection", collection))
	}
	return dims, nil
}

func (s *SQLite) EnsureCollection(ctx context.Context, collection string, dims int) error {
	existing, err := s.dimensions(ctx, collection)
	switch {
	case err == nil:
		if existing != dims {
			return goerr.Wrap(ErrDimensionMismatch, "collection exists with different dimensions",
				goerr.V("collection", collection), goerr.V("have", existing), goerr.V("want", dims))
		}
		return nil
	case !isNotFound(err):
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vector_collections(name, dimensions, created_at) VALUES(?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		collection, dims, time.Now().UTC())
	if err != nil {
		return goerr.Wrap(err, "failed to create collection", goerr.V("collection", collection))
	}
	return nil
}

func (s *SQLite) Upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]string) error {
	if len(vector) == 0 {
		return goerr.Wrap(ErrEmptyVector, "cannot upsert", goerr.V("id", id))
	}
	dims, err := s.dimensions(ctx, collection)
	if err != nil {
		return err
	}
	if len(vector) != dims {
		return goerr.Wrap(ErrDimensionMismatch, "cannot upsert",
			goerr.V("collection", collection), goerr.V("have", len(vector)), goerr.V("want", dims))
	}

	vec, err := json.Marshal(vector)
	if err != nil {
		return goerr.Wrap(err, "failed to encode vector")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return goerr.Wrap(err, "failed to encode payload")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO vector_points(collection, id, vector, payload, updated_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			vector = excluded.vector,
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		collection, id, vec, string(body), time.Now().UTC())
	if err != nil {
		return goerr.Wrap(err, "failed to upsert point", goerr.V("collection", collection), goerr.V("id", id))
	}
	return nil
}

func (s *SQLite) Search(ctx context.Context, collection string, vector []float32, limit int) ([]*model.VectorPoint, error) {
	dims, err := s.dimensions(ctx, collection)
	if err != nil {
		return nil, err
	}
	if len(vector) != dims {
		return nil, goerr.Wrap(ErrDimensionMismatch, "cannot search",
			goerr.V("collection", collection), goerr.V("have", len(vector)), goerr.V("want", dims))
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, vector, payload FROM vector_points WHERE collection = ? ORDER BY rowid`, collection)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query points", goerr.V("collection", collection))
	}
	defer rows.Close()

	var points []*model.VectorPoint
	for rows.Next() {
		var (
			id      string
			rawVec  []byte
			payload string
		)
		if err := rows.Scan(&id, &rawVec, &payload); err != nil {
			return nil, goerr.Wrap(err, "failed to scan point")
		}

		var stored []float32
		if err := json.Unmarshal(rawVec, &stored); err != nil {
			return nil, goerr.Wrap(err, "failed to decode stored vector", goerr.V("id", id))
		}
		p, err := decodePayload(payload)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to decode payload", goerr.V("id", id))
		}

		points = append(points, &model.VectorPoint{
			ID:      id,
			Payload: p,
			Score:   cosineSimilarity(vector, stored),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate points")
	}

	return rankPoints(points, limit), nil
}

func (s *SQLite) Scroll(ctx context.Context, collection string, limit int) ([]*model.VectorPoint, error) {
	if _, err := s.dimensions(ctx, collection); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload FROM vector_points WHERE collection = ? ORDER BY rowid LIMIT ?`, collection, limit)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to scroll points", goerr.V("collection", collection))
	}
	defer rows.Close()

	var points []*model.VectorPoint
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, goerr.Wrap(err, "failed to scan point")
		}
		p, err := decodePayload(payload)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to decode payload", goerr.V("id", id))
		}
		points = append(points, &model.VectorPoint{ID: id, Payload: p})
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate points")
	}
	return points, nil
}

func (s *SQLite) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM vector_points WHERE collection = ? AND id = ?`, collection, id); err != nil {
		return goerr.Wrap(err, "failed to delete point", goerr.V("collection", collection), goerr.V("id", id))
	}
	return nil
}

func (s *SQLite) DropCollection(ctx context.Context, collection string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM vector_points WHERE collection = ?`, collection); err != nil {
		return goerr.Wrap(err, "failed to delete points", goerr.V("collection", collection))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM vector_collections WHERE name = ?`, collection); err != nil {
		return goerr.Wrap(err, "failed to delete collection", goerr.V("collection", collection))
	}
	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "failed to commit collection drop", goerr.V("collection", collection))
	}
	return nil
}

func decodePayload(raw string) (map[string]string, error) {
	p := map[string]string{}
	if raw == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, err
	}
	return p, nil
}
