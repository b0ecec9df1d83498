package executor

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/talk2sql/pkg/model"
	"github.com/m-mizutani/talk2sql/pkg/utils/logging"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// DefaultMaxRows caps how many rows a single statement may return.
const DefaultMaxRows = 10000

const (
	DialectSQLite   = "SQLite"
	DialectPostgres = "PostgreSQL"
)

// SQL runs statements on a database/sql connection.
type SQL struct {
	db      *sql.DB
	dialect string
	maxRows int
}

type Option func(*SQL)

// WithMaxRows overrides DefaultMaxRows. Zero or less means unlimited.
func WithMaxRows(n int) Option {
	return func(x *SQL) {
		x.maxRows = n
	}
}

func newSQL(db *sql.DB, dialect string, opts ...Option) *SQL {
	x := &SQL{db: db, dialect: dialect, maxRows: DefaultMaxRows}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// OpenSQLite connects to an existing SQLite file. The file must exist and be
// a readable database. Connections are opened with query_only so no
// statement can modify the file.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQL, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, goerr.Wrap(err, "database file is not accessible", goerr.V("path", path))
	}
	if info.IsDir() || info.Size() == 0 {
		return nil, goerr.New("database file is empty or not a file", goerr.V("path", path))
	}

	db, err := sql.Open("sqlite", path+"?_pragma=query_only(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open sqlite database", goerr.V("path", path))
	}

	rows, err := db.QueryContext(ctx, "PRAGMA database_list")
	if err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "file is not a valid sqlite database", goerr.V("path", path))
	}
	_ = rows.Close()

	x := newSQL(db, DialectSQLite, opts...)
	tables, err := x.Tables(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	logging.From(ctx).Info("connected to sqlite", "path", path, "tables", tables)

	return x, nil
}

// OpenPostgres connects to PostgreSQL with a lib/pq DSN and verifies the
// connection.
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*SQL, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open postgres connection")
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "failed to connect to postgres")
	}

	x := newSQL(db, DialectPostgres, opts...)
	logging.From(ctx).Info("connected to postgres")
	return x, nil
}

func (x *SQL) Dialect() string {
	return x.dialect
}

func (x *SQL) Close() error {
	return x.db.Close()
}

// Run executes query and returns its rows. Database errors are returned as
// *model.ExecutionError.
func (x *SQL) Run(ctx context.Context, query string) (*model.ResultSet, error) {
	rows, err := x.db.QueryContext(ctx, query)
	if err != nil {
		return nil, model.NewExecutionError(query, err)
	}
	defer rows.Close()

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, model.NewExecutionError(query, err)
	}
	names := make([]string, len(colTypes))
	types := make([]string, len(colTypes))
	for i, ct := range colTypes {
		names[i] = ct.Name()
		types[i] = ct.DatabaseTypeName()
	}

	var data [][]any
	for rows.Next() {
		if x.maxRows > 0 && len(data) >= x.maxRows {
			logging.From(ctx).Warn("result truncated", "max_rows", x.maxRows)
			break
		}

		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, model.NewExecutionError(query, err)
		}
		for i, v := range values {
			if t, ok := v.(time.Time); ok {
				values[i] = t.Format(time.RFC3339Nano)
			}
		}
		data = append(data, values)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewExecutionError(query, err)
	}

	return model.NewResultSet(names, types, data), nil
}

// Tables lists user tables.
func (x *SQL) Tables(ctx context.Context) ([]string, error) {
	query := `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`
	if x.dialect == DialectPostgres {
		query = `SELECT table_schema || '.' || table_name FROM information_schema.tables
			WHERE table_schema NOT IN ('pg_catalog', 'information_schema') AND table_type = 'BASE TABLE'
			ORDER BY table_schema, table_name`
	}

	rows, err := x.db.QueryContext(ctx, query)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list tables")
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, goerr.Wrap(err, "failed to scan table name")
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// SchemaDDL returns one CREATE statement per table and view.
func (x *SQL) SchemaDDL(ctx context.Context) ([]string, error) {
	if x.dialect == DialectPostgres {
		return x.postgresDDL(ctx)
	}

	rows, err := x.db.QueryContext(ctx, `SELECT sql FROM sqlite_master
		WHERE type IN ('table', 'view') AND sql IS NOT NULL AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read sqlite schema")
	}
	defer rows.Close()

	var ddl []string
	for rows.Next() {
		var stmt string
		if err := rows.Scan(&stmt); err != nil {
			return nil, goerr.Wrap(err, "failed to scan schema")
		}
		ddl = append(ddl, stmt)
	}
	return ddl, rows.Err()
}

func (x *SQL) postgresDDL(ctx context.Context) ([]string, error) {
	rows, err := x.db.QueryContext(ctx, `SELECT table_schema, table_name, column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
		ORDER BY table_schema, table_name, ordinal_position`)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read postgres schema")
	}
	defer rows.Close()

	var (
		ddl     []string
		current string
		columns []string
	)
	flush := func() {
		if current != "" {
			ddl = append(ddl, fmt.Sprintf("CREATE TABLE %s (\n  %s\n);", current, strings.Join(columns, ",\n  ")))
		}
		columns = nil
	}

	for rows.Next() {
		var schema, table, column, dataType, nullable string
		if err := rows.Scan(&schema, &table, &column, &dataType, &nullable); err != nil {
			return nil, goerr.Wrap(err, "failed to scan column")
		}
		name := schema + "." + table
		if name != current {
			flush()
			current = name
		}
		col := column + " " + strings.ToUpper(dataType)
		if nullable == "NO" {
			col += " NOT NULL"
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate columns")
	}
	flush()

	return ddl, nil
}
