package sqlgen

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/talk2sql/pkg/interfaces"
	"github.com/m-mizutani/talk2sql/pkg/model"
	"github.com/m-mizutani/talk2sql/pkg/utils/logging"
)

const (
	previewRows      = 10
	defaultFollowups = 3
)

// Synthesizer turns questions into SQL and query results into prose with an
// LLM.
type Synthesizer struct {
	llm     interfaces.LLM
	dialect string
}

type Option func(*Synthesizer)

// WithDialect names the SQL dialect in the generation prompt.
func WithDialect(dialect string) Option {
	return func(s *Synthesizer) {
		s.dialect = dialect
	}
}

func New(llm interfaces.LLM, opts ...Option) *Synthesizer {
	s := &Synthesizer{llm: llm}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesis is one generated statement.
type Synthesis struct {
	SQL string
	// UsedMemory is what the model reported in its <config> block, or the
	// retrieval flag when the block is missing.
	UsedMemory bool
	// Raw is the response in normalized <sql>/<config> form.
	Raw string
}

// Generate asks the LLM for a statement answering question.
func (s *Synthesizer) Generate(ctx context.Context, question string, rc *model.RetrievalContext) (*Synthesis, error) {
	messages, err := BuildGenerationPrompt(question, rc, s.dialect)
	if err != nil {
		return nil, err
	}

	raw, err := s.llm.Complete(ctx, messages)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate SQL", goerr.V("question", question))
	}

	sql := ExtractSQL(raw)
	if sql == "" {
		return nil, goerr.New("LLM response contains no SQL", goerr.V("response", raw))
	}

	syn := &Synthesis{SQL: sql, Raw: raw}
	if HasConfig(raw) {
		syn.UsedMemory = ExtractConfig(raw)
	} else {
		syn.UsedMemory = rc.UsedMemory()
		syn.Raw = normalizeResponse(sql, syn.UsedMemory)
	}

	logging.From(ctx).Debug("SQL generated", "sql", sql, "used_memory", syn.UsedMemory, "has_config", HasConfig(raw))
	return syn, nil
}

// Repair asks the LLM to fix failedSQL given the database error. The same
// retrieval context as the original generation is reused.
func (s *Synthesizer) Repair(ctx context.Context, question string, rc *model.RetrievalContext, failedSQL, errMsg string) (string, error) {
	messages, err := BuildRepairPrompt(question, rc, failedSQL, errMsg)
	if err != nil {
		return "", err
	}

	raw, err := s.llm.Complete(ctx, messages)
	if err != nil {
		return "", goerr.Wrap(err, "failed to repair SQL", goerr.V("sql", failedSQL))
	}

	// models sometimes keep the generation format even when asked not to
	sql := ExtractSQL(raw)
	if sql == "" {
		return "", goerr.New("LLM repair response contains no SQL", goerr.V("response", raw))
	}

	logging.From(ctx).Debug("SQL repaired", "before", failedSQL, "after", sql)
	return sql, nil
}

func resultData(question, sql string, rs *model.ResultSet) map[string]any {
	return map[string]any{
		"Question": question,
		"SQL":      sql,
		"Rows":     rs.NumRows(),
		"Cols":     rs.NumCols(),
		"Columns":  strings.Join(rs.ColumnNames(), ", "),
		"Preview":  rs.Preview(previewRows),
	}
}

func (s *Synthesizer) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := s.llm.Complete(ctx, []model.Message{model.UserMessage(prompt)})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp), nil
}

// Summarize writes a short natural-language answer from the first rows of a
// result.
func (s *Synthesizer) Summarize(ctx context.Context, question, sql string, rs *model.ResultSet) (string, error) {
	if rs.Empty() {
		return "", goerr.New("cannot summarize empty result")
	}
	prompt, err := render(summaryPromptTmpl, resultData(question, sql, rs))
	if err != nil {
		return "", err
	}
	summary, err := s.complete(ctx, prompt)
	if err != nil {
		return "", goerr.Wrap(err, "failed to summarize result")
	}
	return summary, nil
}

// Explain describes what a result shows in more depth than Summarize.
func (s *Synthesizer) Explain(ctx context.Context, question, sql string, rs *model.ResultSet) (string, error) {
	prompt, err := render(explainPromptTmpl, resultData(question, sql, rs))
	if err != nil {
		return "", err
	}
	explanation, err := s.complete(ctx, prompt)
	if err != nil {
		return "", goerr.Wrap(err, "failed to explain result")
	}
	return explanation, nil
}

// Followups suggests questions to ask next.
func (s *Synthesizer) Followups(ctx context.Context, question, sql string, rs *model.ResultSet) ([]string, error) {
	data := resultData(question, sql, rs)
	data["N"] = defaultFollowups
	prompt, err := render(followupPromptTmpl, data)
	if err != nil {
		return nil, err
	}
	resp, err := s.complete(ctx, prompt)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate follow-up questions")
	}
	return parseQuestionList(resp), nil
}

// ChartSpec asks for a Vega-Lite document visualizing rs. The returned text
// still needs validation by the renderer.
func (s *Synthesizer) ChartSpec(ctx context.Context, question, sql string, rs *model.ResultSet, marks, channels []string) (string, error) {
	data := resultData(question, sql, rs)
	data["Columns"] = rs.ColumnSummary()
	data["Marks"] = strings.Join(marks, ", ")
	data["Channels"] = strings.Join(channels, ", ")

	prompt, err := render(visualizePromptTmpl, data)
	if err != nil {
		return "", err
	}
	resp, err := s.complete(ctx, prompt)
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate chart spec")
	}
	return StripFences(resp), nil
}

// StarterQuestions proposes n questions a new user could ask, based on the
// known schema.
func (s *Synthesizer) StarterQuestions(ctx context.Context, schemas []string, n int) ([]string, error) {
	if n <= 0 {
		n = 5
	}
	prompt, err := render(starterPromptTmpl, map[string]any{"Schemas": schemas, "N": n})
	if err != nil {
		return nil, err
	}
	resp, err := s.complete(ctx, prompt)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate starter questions")
	}

	questions := parseQuestionList(resp)
	if len(questions) > n {
		questions = questions[:n]
	}
	return questions, nil
}
