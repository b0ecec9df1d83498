package sqlgen_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/talk2sql/pkg/model"
	"github.com/m-mizutani/talk2sql/pkg/usecase/sqlgen"
)

type mockLLM struct {
	completeFunc func(ctx context.Context, messages []model.Message) (string, error)
	received     [][]model.Message
}

func (m *mockLLM) Complete(ctx context.Context, messages []model.Message) (string, error) {
	m.received = append(m.received, messages)
	return m.completeFunc(ctx, messages)
}

func respond(text string) *mockLLM {
	return &mockLLM{completeFunc: func(ctx context.Context, messages []model.Message) (string, error) {
		return text, nil
	}}
}

func TestExtractSQL(t *testing.T) {
	testCases := []struct {
		name   string
		input  string
		expect string
	}{
		{"tagged", "<sql>SELECT 1</sql><config>{\"used_memory\": true}</config>", "SELECT 1"},
		{"tagged multiline", "Here it is\n<sql>\nSELECT a\nFROM t\n</sql>", "SELECT a\nFROM t"},
		{"first block wins", "<sql>SELECT 1</sql> and <sql>SELECT 2</sql>", "SELECT 1"},
		{"plain", "  SELECT * FROM t  ", "SELECT * FROM t"},
		{"fence with language", "```sql\nSELECT * FROM t\n```", "SELECT * FROM t"},
		{"fence without language", "```\nSELECT 1\n```", "SELECT 1"},
		{"single line fence with language", "```sql SELECT 1\n```", "SELECT 1"},
		{"inline fence with language", "```sql SELECT 1```", "SELECT 1"},
		{"inline fence upper case language", "```SQL SELECT * FROM t```", "SELECT * FROM t"},
		{"inline fence without language", "```SELECT 1```", "SELECT 1"},
		{"fence with other language", "```sqlite\nSELECT 1\n```", "SELECT 1"},
		{"config removed", "SELECT 1\n<config>{\"used_memory\": false}</config>", "SELECT 1"},
		{"empty", "", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gt.Equal(t, sqlgen.ExtractSQL(tc.input), tc.expect)
		})
	}
}

func TestExtractConfig(t *testing.T) {
	gt.True(t, sqlgen.ExtractConfig(`<sql>SELECT 1</sql><config>{"used_memory": true}</config>`))
	gt.False(t, sqlgen.ExtractConfig(`<config>{"used_memory": false}</config>`))
	gt.False(t, sqlgen.ExtractConfig(`<sql>SELECT 1</sql>`))
	gt.False(t, sqlgen.ExtractConfig(`<config>{not json}</config>`))
	gt.False(t, sqlgen.ExtractConfig(`<config>{"used_memory": "yes"}</config>`))
}

func TestBuildGenerationPrompt(t *testing.T) {
	rc := &model.RetrievalContext{
		Examples: []model.Example{{Question: "how many users", SQL: "SELECT COUNT(*) FROM users"}},
		Schemas:  []string{"CREATE TABLE users (id INTEGER)"},
		Docs:     []string{"users are customers"},
	}

	messages, err := sqlgen.BuildGenerationPrompt("list users", rc, "SQLite")
	gt.NoError(t, err)
	gt.A(t, messages).Length(4)

	system := messages[0]
	gt.Equal(t, system.Role, model.RoleSystem)
	gt.S(t, system.Content).Contains("SELECT")
	gt.S(t, system.Content).Contains("CREATE TABLE users (id INTEGER)")
	gt.S(t, system.Content).Contains("users are customers")
	gt.S(t, system.Content).Contains("<config>")
	gt.S(t, system.Content).Contains("SQLite")

	gt.Equal(t, messages[1].Content, "how many users")
	gt.Equal(t, messages[2].Role, model.RoleAssistant)
	gt.S(t, messages[2].Content).Contains("<sql>SELECT COUNT(*) FROM users</sql>")
	gt.Equal(t, messages[3].Content, "list users")

	t.Run("empty context", func(t *testing.T) {
		messages, err := sqlgen.BuildGenerationPrompt("list users", nil, "")
		gt.NoError(t, err)
		gt.A(t, messages).Length(2)
		gt.S(t, messages[0].Content).NotContains("## Schema")
	})
}

func TestBuildRepairPrompt(t *testing.T) {
	rc := &model.RetrievalContext{Schemas: []string{"CREATE TABLE orders (id INTEGER)"}}
	messages, err := sqlgen.BuildRepairPrompt("count orders", rc, "SELECT COUNT(*) FROM order", "no such table: order")
	gt.NoError(t, err)
	gt.A(t, messages).Length(2)
	gt.S(t, messages[0].Content).Contains("CREATE TABLE orders")
	gt.S(t, messages[1].Content).Contains("SELECT COUNT(*) FROM order")
	gt.S(t, messages[1].Content).Contains("no such table: order")
	gt.S(t, messages[1].Content).Contains("count orders")
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()

	t.Run("contract followed", func(t *testing.T) {
		llm := respond(`<sql>SELECT 1</sql><config>{"used_memory": true}</config>`)
		syn, err := sqlgen.New(llm).Generate(ctx, "q", &model.RetrievalContext{Docs: []string{"d"}})
		gt.NoError(t, err)
		gt.Equal(t, syn.SQL, "SELECT 1")
		gt.True(t, syn.UsedMemory)
	})

	t.Run("missing config uses assembler flag", func(t *testing.T) {
		llm := respond("```sql\nSELECT name FROM users\n```")
		syn, err := sqlgen.New(llm).Generate(ctx, "q", &model.RetrievalContext{})
		gt.NoError(t, err)
		gt.Equal(t, syn.SQL, "SELECT name FROM users")
		gt.False(t, syn.UsedMemory)
		gt.Equal(t, syn.Raw, `<sql>SELECT name FROM users</sql><config>{"used_memory":false}</config>`)
		gt.Equal(t, sqlgen.ExtractSQL(syn.Raw), syn.SQL)
	})

	t.Run("model claim overrides retrieval flag", func(t *testing.T) {
		llm := respond(`<sql>SELECT 1</sql><config>{"used_memory": false}</config>`)
		syn, err := sqlgen.New(llm).Generate(ctx, "q", &model.RetrievalContext{Schemas: []string{"CREATE TABLE t (x INTEGER)"}})
		gt.NoError(t, err)
		gt.False(t, syn.UsedMemory)

		llm = respond(`<sql>SELECT 1</sql><config>{"used_memory": true}</config>`)
		syn, err = sqlgen.New(llm).Generate(ctx, "q", nil)
		gt.NoError(t, err)
		gt.True(t, syn.UsedMemory)
	})

	t.Run("llm error", func(t *testing.T) {
		llm := &mockLLM{completeFunc: func(ctx context.Context, messages []model.Message) (string, error) {
			return "", errors.New("unavailable")
		}}
		_, err := sqlgen.New(llm).Generate(ctx, "q", nil)
		gt.Error(t, err)
	})

	t.Run("empty response", func(t *testing.T) {
		_, err := sqlgen.New(respond("   ")).Generate(ctx, "q", nil)
		gt.Error(t, err)
	})
}

func TestRepair(t *testing.T) {
	llm := respond("```sql\nSELECT COUNT(*) FROM orders\n```")
	sql, err := sqlgen.New(llm).Repair(context.Background(), "count orders", nil, "SELECT COUNT(*) FROM order", "no such table: order")
	gt.NoError(t, err)
	gt.Equal(t, sql, "SELECT COUNT(*) FROM orders")
	gt.A(t, llm.received).Length(1)
}

func TestSummarize(t *testing.T) {
	ctx := context.Background()
	rs := model.NewResultSet([]string{"region", "total"}, nil, [][]any{{"east", int64(10)}, {"west", int64(20)}})

	llm := respond("  West sells twice as much as east.  ")
	summary, err := sqlgen.New(llm).Summarize(ctx, "sales by region", "SELECT ...", rs)
	gt.NoError(t, err)
	gt.Equal(t, summary, "West sells twice as much as east.")

	prompt := llm.received[0][0].Content
	gt.S(t, prompt).Contains("2 rows and 2 columns")
	gt.S(t, prompt).Contains("region, total")
	gt.S(t, prompt).Contains("west\t20")
	gt.S(t, prompt).Contains("Name the tables and columns")

	_, err = sqlgen.New(llm).Summarize(ctx, "q", "SELECT 1", model.NewResultSet([]string{"a"}, nil, nil))
	gt.Error(t, err)
}

func TestFollowups(t *testing.T) {
	rs := model.NewResultSet([]string{"a"}, nil, [][]any{{int64(1)}})

	t.Run("json array", func(t *testing.T) {
		llm := respond("```json\n[\"Which region grew fastest?\", \"\", \"What about last year?\"]\n```")
		list, err := sqlgen.New(llm).Followups(context.Background(), "q", "SELECT 1", rs)
		gt.NoError(t, err)
		gt.Equal(t, list, []string{"Which region grew fastest?", "What about last year?"})
	})

	t.Run("numbered lines", func(t *testing.T) {
		llm := respond("1. First question?\n2) Second question?\n- Third question?\n")
		list, err := sqlgen.New(llm).Followups(context.Background(), "q", "SELECT 1", rs)
		gt.NoError(t, err)
		gt.Equal(t, list, []string{"First question?", "Second question?", "Third question?"})
	})
}

func TestStarterQuestions(t *testing.T) {
	llm := respond(`["a?", "b?", "c?"]`)
	list, err := sqlgen.New(llm).StarterQuestions(context.Background(), []string{"CREATE TABLE t (x INTEGER)"}, 2)
	gt.NoError(t, err)
	gt.Equal(t, list, []string{"a?", "b?"})
	gt.S(t, llm.received[0][0].Content).Contains("CREATE TABLE t (x INTEGER)")
}

func TestChartSpec(t *testing.T) {
	rs := model.NewResultSet([]string{"region", "total"}, nil, [][]any{{"east", int64(10)}})
	llm := respond("```json\n{\"mark\": \"bar\"}\n```")
	spec, err := sqlgen.New(llm).ChartSpec(context.Background(), "q", "SELECT 1", rs, []string{"bar", "line"}, []string{"x", "y"})
	gt.NoError(t, err)
	gt.Equal(t, spec, `{"mark": "bar"}`)

	prompt := llm.received[0][0].Content
	gt.True(t, strings.Contains(prompt, "bar, line"))
	gt.True(t, strings.Contains(prompt, "total (numeric)"))
}
