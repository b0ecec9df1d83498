package query

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/talk2sql/pkg/interfaces"
	"github.com/m-mizutani/talk2sql/pkg/metrics"
	"github.com/m-mizutani/talk2sql/pkg/model"
	"github.com/m-mizutani/talk2sql/pkg/utils/logging"
	"github.com/m-mizutani/talk2sql/pkg/viz"
)

// ShouldVisualize reports whether a chart is worth drawing for rs: it needs
// a numeric column and more than a single cell.
func ShouldVisualize(enabled bool, rs *model.ResultSet) bool {
	if !enabled || rs.Empty() {
		return false
	}
	rows, cols := rs.NumRows(), rs.NumCols()
	if rows == 1 && cols == 1 {
		return false
	}
	if !rs.HasNumeric() {
		return false
	}
	return rows >= 2 || cols >= 2
}

// postprocess fills the optional parts of a successful result. None of them
// can fail the query.
func (e *Engine) postprocess(ctx context.Context, r *run, sql string, rs *model.ResultSet, o queryOptions) {
	logger := logging.From(ctx)
	res := r.result

	if o.visualize && e.renderer != nil && ShouldVisualize(e.cfg.AutoVisualization, rs) {
		start := time.Now()
		fig, err := e.visualize(ctx, r.question, sql, rs)
		if err != nil {
			logger.Warn("visualization failed, using placeholder", "error", err)
			fig = model.PlaceholderFigure(err)
		}
		res.Visualization = fig
		r.timing.Visualization = time.Since(start)
		e.metrics.Phase(metrics.PhaseVisualization, r.timing.Visualization)
	}

	if o.summarize && !rs.Empty() {
		start := time.Now()
		lctx, cancel := e.llmContext(ctx)
		summary, err := e.synth.Summarize(lctx, r.question, sql, rs)
		cancel()
		if err != nil {
			logger.Warn("summary omitted", "error", model.Classify(model.ErrSummaryFailure, err))
		} else {
			res.Summary = summary
		}
		r.timing.Explanation = time.Since(start)
		e.metrics.Phase(metrics.PhaseSummary, r.timing.Explanation)
	}

	if o.followups {
		lctx, cancel := e.llmContext(ctx)
		questions, err := e.synth.Followups(lctx, r.question, sql, rs)
		cancel()
		if err != nil {
			logger.Warn("follow-up questions omitted", "error", model.Classify(model.ErrFollowupFailure, err))
		} else {
			res.Followups = questions
		}
	}
}

func (e *Engine) visualize(ctx context.Context, question, sql string, rs *model.ResultSet) (*model.Figure, error) {
	lctx, cancel := e.llmContext(ctx)
	defer cancel()

	script, err := e.synth.ChartSpec(lctx, question, sql, rs, viz.AllowedMarks(), viz.AllowedChannels())
	if err != nil {
		return nil, model.Classify(model.ErrVisualizationFailure, err)
	}

	fig, err := e.renderer.Render(ctx, script, rs)
	if err != nil {
		return nil, model.Classify(model.ErrVisualizationFailure, err)
	}
	return fig, nil
}

// AnalyzeData is SmartQuery with follow-up questions and an explanation of
// the result.
func (e *Engine) AnalyzeData(ctx context.Context, question string, opts ...QueryOption) *model.SmartQueryResult {
	res := e.SmartQuery(ctx, question, append([]QueryOption{WithFollowups()}, opts...)...)
	if !res.Success || res.Result.Empty() {
		return res
	}

	start := time.Now()
	explanation, err := e.ExplainResults(ctx, question, res.ExecutedSQL(), res.Result)
	elapsed := time.Since(start)
	if err != nil {
		logging.From(ctx).Warn("explanation omitted", "error", err)
	} else {
		res.Explanation = explanation
	}
	res.Timing.Explanation += elapsed
	res.Timing.Total += elapsed

	return res
}

// ExplainResults describes what rs says about question.
func (e *Engine) ExplainResults(ctx context.Context, question, sql string, rs *model.ResultSet) (string, error) {
	if rs.Empty() {
		return "", goerr.New("no results to explain", goerr.V("sql", sql))
	}

	start := time.Now()
	lctx, cancel := e.llmContext(ctx)
	defer cancel()

	explanation, err := e.synth.Explain(lctx, question, sql, rs)
	e.metrics.Phase(metrics.PhaseExplanation, time.Since(start))
	if err != nil {
		return "", err
	}
	return explanation, nil
}

// GenerateStarterQuestions proposes n questions for a new user. The schema
// collection is the source of table definitions; when it is empty the
// connected database is asked directly.
func (e *Engine) GenerateStarterQuestions(ctx context.Context, n int) ([]string, error) {
	schemas, err := e.memory.Schemas(ctx)
	if err != nil {
		return nil, err
	}

	if len(schemas) == 0 {
		if src, ok := e.currentExecutor().(interfaces.SchemaSource); ok {
			ddl, err := src.SchemaDDL(ctx)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to read schema from database")
			}
			schemas = ddl
		}
	}

	lctx, cancel := e.llmContext(ctx)
	defer cancel()

	return e.synth.StarterQuestions(lctx, schemas, n)
}
