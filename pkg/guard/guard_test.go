package guard_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/talk2sql/pkg/guard"
	"github.com/m-mizutani/talk2sql/pkg/model"
)

func TestCheck(t *testing.T) {
	ctx := context.Background()
	g, err := guard.New(ctx)
	gt.NoError(t, err)

	allowed := []string{
		"SELECT * FROM users",
		"select count(*) from users;",
		"WITH t AS (SELECT 1 AS x) SELECT x FROM t",
		"PRAGMA table_info(users)",
		"EXPLAIN QUERY PLAN SELECT * FROM users",
		"VALUES (1), (2)",
		"SELECT replace(name, 'a', 'b') FROM users",
		"SELECT * FROM logs WHERE message = 'DROP TABLE users; --'",
		"-- find users\nSELECT * FROM users /* DELETE */",
		`SELECT "update" FROM audit`,
		"SELECT update_time FROM events",
	}
	for _, sql := range allowed {
		t.Run("allow "+sql, func(t *testing.T) {
			gt.NoError(t, g.Check(ctx, sql))
		})
	}

	rejected := []string{
		"",
		"DELETE FROM users",
		"DROP TABLE users",
		"INSERT INTO users (id) VALUES (1)",
		"UPDATE users SET name = 'x'",
		"SELECT 1; DROP TABLE users",
		"SELECT 1; SELECT 2",
		"WITH gone AS (DELETE FROM users RETURNING *) SELECT * FROM gone",
		"PRAGMA foreign_keys = OFF",
		"PRAGMA journal_mode(DELETE)",
		"ATTACH DATABASE 'x.db' AS x",
		"EXPLAIN ANALYZE SELECT 1",
	}
	for _, sql := range rejected {
		t.Run("reject "+sql, func(t *testing.T) {
			err := g.Check(ctx, sql)
			gt.Error(t, err)
			gt.True(t, errors.Is(err, model.ErrUnsafeStatement))
		})
	}
}

func TestEvaluateReasons(t *testing.T) {
	ctx := context.Background()
	g, err := guard.New(ctx)
	gt.NoError(t, err)

	d, err := g.Evaluate(ctx, "SELECT 1; SELECT 2; SELECT 3")
	gt.NoError(t, err)
	gt.False(t, d.Allow)
	gt.A(t, d.Reasons).Length(1)
	gt.Equal(t, d.Reasons[0], "only one statement is allowed, found 3")

	err = g.Check(ctx, "TRUNCATE users")
	gt.Error(t, err)
	gt.S(t, err.Error()).Contains("statement rejected")
	gt.S(t, err.Error()).Contains("TRUNCATE statements are not allowed")
}

func TestPolicyDir(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "strict.rego"), []byte(`package talk2sql.guard

default allow := false

allow if {
	count(input.statements) == 1
	input.statements[0].kind == "select"
	count(deny) == 0
}

deny contains "users table is off limits" if {
	some stmt in input.statements
	some kw in stmt.keywords
	kw == "USERS"
}
`), 0644))

	g, err := guard.New(ctx, guard.WithPolicyDir(dir))
	gt.NoError(t, err)

	gt.NoError(t, g.Check(ctx, "SELECT * FROM orders"))
	gt.Error(t, g.Check(ctx, "SELECT * FROM users"))
	gt.Error(t, g.Check(ctx, "PRAGMA table_info(orders)"))

	_, err = guard.New(ctx, guard.WithPolicyDir(t.TempDir()))
	gt.Error(t, err)
}
