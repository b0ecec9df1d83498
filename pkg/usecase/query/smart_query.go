package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/talk2sql/pkg/interfaces"
	"github.com/m-mizutani/talk2sql/pkg/metrics"
	"github.com/m-mizutani/talk2sql/pkg/model"
	"github.com/m-mizutani/talk2sql/pkg/usecase/sqlgen"
	"github.com/m-mizutani/talk2sql/pkg/utils/logging"
)

const noConnectionMessage = "No database connection"

type queryOptions struct {
	visualize bool
	summarize bool
	followups bool
}

// QueryOption tunes a single SmartQuery call.
type QueryOption func(*queryOptions)

func WithoutVisualization() QueryOption {
	return func(o *queryOptions) {
		o.visualize = false
	}
}

func WithoutSummary() QueryOption {
	return func(o *queryOptions) {
		o.summarize = false
	}
}

// WithFollowups asks for follow-up questions after a successful query.
func WithFollowups() QueryOption {
	return func(o *queryOptions) {
		o.followups = true
	}
}

// run is the bookkeeping of one SmartQuery call.
type run struct {
	question string
	start    time.Time
	timing   model.Timing
	result   *model.SmartQueryResult
}

func (r *run) finish() *model.SmartQueryResult {
	r.timing.Total = time.Since(r.start)
	r.result.Timing = r.timing
	return r.result
}

// SmartQuery answers question: it generates SQL, executes it, repairs it on
// failure up to Config.MaxRetryAttempts times and post-processes the
// result. Every execution attempt is recorded in history. Failures are
// reported in the returned result, never as a panic or separate error.
func (e *Engine) SmartQuery(ctx context.Context, question string, opts ...QueryOption) *model.SmartQueryResult {
	o := queryOptions{visualize: true, summarize: true}
	for _, opt := range opts {
		opt(&o)
	}

	r := &run{
		question: question,
		start:    time.Now(),
		result:   &model.SmartQueryResult{Question: question},
	}
	logger := logging.From(ctx)

	if err := ctx.Err(); err != nil {
		return e.cancel(ctx, r, "", 0, err)
	}

	// Generating
	rc, syn, err := e.generate(ctx, r)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return e.cancel(ctx, r, "", 0, ctxErr)
		}
		return e.fail(ctx, r, "", 0, model.Classify(model.ErrGenerationFailure, err), metrics.OutcomeGeneration)
	}
	r.result.SQL = syn.SQL
	r.result.UsedMemory = syn.UsedMemory
	logger.Info("SQL generated", "question", question, "sql", syn.SQL, "used_memory", syn.UsedMemory)

	exec := e.currentExecutor()
	if exec == nil {
		return e.fail(ctx, r, syn.SQL, 0,
			model.Classify(model.ErrNoConnection, goerr.New(noConnectionMessage)), metrics.OutcomeNoConnection)
	}

	current := syn.SQL
	for retry := 0; ; retry++ {
		if err := ctx.Err(); err != nil {
			return e.cancel(ctx, r, current, retry, err)
		}

		// Executing
		rs, err := e.execute(ctx, r, exec, current)
		if err == nil {
			return e.succeed(ctx, r, current, retry, rs, o)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return e.cancel(ctx, r, current, retry, ctxErr)
		}

		errMsg := executionMessage(err)
		logger.Warn("SQL execution failed", "sql", current, "retry", retry, "error", errMsg)
		e.record(ctx, r, &model.QueryAttempt{
			SQL:          current,
			ErrorMessage: errMsg,
			RetryCount:   retry,
		})

		if retry >= e.cfg.MaxRetryAttempts {
			// Exhausted. The failure record above is the terminal record.
			r.result.ErrorMessage = fmt.Sprintf("Failed after %d attempts. Last error: %s", e.cfg.MaxRetryAttempts, errMsg)
			r.result.Error = model.Classify(model.ErrRetryExhausted, err)
			r.result.RetryCount = retry
			r.result.FinalSQL = changedSQL(r.result.SQL, current)
			e.metrics.Query(metrics.OutcomeExhausted)
			logger.Warn("retry attempts exhausted", "question", question, "attempts", retry+1)
			return r.finish()
		}

		if err := ctx.Err(); err != nil {
			return e.cancel(ctx, r, current, retry+1, err)
		}

		// Repairing
		repaired, err := e.repair(ctx, r, rc, current, errMsg)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return e.cancel(ctx, r, current, retry+1, ctxErr)
			}
			return e.fail(ctx, r, current, retry+1, model.Classify(model.ErrGenerationFailure, err), metrics.OutcomeGeneration)
		}
		current = repaired
	}
}

func (e *Engine) generate(ctx context.Context, r *run) (*model.RetrievalContext, *sqlgen.Synthesis, error) {
	start := time.Now()
	defer func() {
		r.timing.SQLGeneration = time.Since(start)
		e.metrics.Phase(metrics.PhaseGeneration, r.timing.SQLGeneration)
	}()

	lctx, cancel := e.llmContext(ctx)
	defer cancel()

	rc, err := e.memory.Assemble(lctx, r.question)
	e.metrics.Phase(metrics.PhaseRetrieval, time.Since(start))
	if err != nil {
		return nil, nil, err
	}

	syn, err := e.synth.Generate(lctx, r.question, rc)
	if err != nil {
		return nil, nil, err
	}
	e.trace(ctx, "SQL generated", "sql", syn.SQL, "used_memory", syn.UsedMemory,
		"examples", len(rc.Examples), "schemas", len(rc.Schemas), "docs", len(rc.Docs))
	return rc, syn, nil
}

func (e *Engine) repair(ctx context.Context, r *run, rc *model.RetrievalContext, failedSQL, errMsg string) (string, error) {
	start := time.Now()
	defer func() {
		r.timing.SQLGeneration = time.Since(start)
		e.metrics.Phase(metrics.PhaseGeneration, r.timing.SQLGeneration)
	}()

	lctx, cancel := e.llmContext(ctx)
	defer cancel()

	sql, err := e.synth.Repair(lctx, r.question, rc, failedSQL, errMsg)
	if err == nil {
		e.trace(ctx, "SQL repaired", "failed_sql", failedSQL, "error", errMsg, "sql", sql)
	}
	return sql, err
}

// trace logs intermediate steps at info level when Config.Debug is set.
func (e *Engine) trace(ctx context.Context, msg string, args ...any) {
	logger := logging.From(ctx)
	if e.cfg.Debug {
		logger.Info(msg, args...)
		return
	}
	logger.Debug(msg, args...)
}

// execute runs sql once. A guard rejection is reported as an execution
// failure so that it goes through the repair path.
func (e *Engine) execute(ctx context.Context, r *run, exec interfaces.Executor, sql string) (*model.ResultSet, error) {
	start := time.Now()
	rs, err := e.runStatement(ctx, exec, sql)
	r.timing.SQLExecution = time.Since(start)

	e.metrics.Phase(metrics.PhaseExecution, r.timing.SQLExecution)
	e.metrics.Attempt(err == nil)
	return rs, err
}

func (e *Engine) runStatement(ctx context.Context, exec interfaces.Executor, sql string) (*model.ResultSet, error) {
	if e.guard != nil && e.cfg.Guard {
		if err := e.guard.Check(ctx, sql); err != nil {
			return nil, model.NewExecutionError(sql, err)
		}
	}

	qctx, cancel := e.queryContext(ctx)
	defer cancel()

	rs, err := exec.Run(qctx, sql)
	if err != nil {
		return nil, err
	}
	if rs == nil {
		rs = model.NewResultSet(nil, nil, nil)
	}
	return rs, nil
}

func (e *Engine) succeed(ctx context.Context, r *run, sql string, retry int, rs *model.ResultSet, o queryOptions) *model.SmartQueryResult {
	res := r.result
	res.Success = true
	res.RetryCount = retry
	res.Result = rs
	res.FinalSQL = changedSQL(res.SQL, sql)

	e.postprocess(ctx, r, sql, rs, o)

	e.record(ctx, r, &model.QueryAttempt{
		SQL:           sql,
		Success:       true,
		RetryCount:    retry,
		Result:        rs,
		Visualization: res.Visualization,
		Summary:       res.Summary,
	})

	if !rs.Empty() {
		if _, err := e.memory.AddQuestionSQL(context.WithoutCancel(ctx), r.question, sql); err != nil {
			logging.From(ctx).Warn("failed to store question/SQL pair", "question", r.question, "error", err)
		}
	}

	e.metrics.Query(metrics.OutcomeSuccess)
	logging.From(ctx).Info("query succeeded", "question", r.question, "rows", rs.NumRows(), "retry_count", retry)
	return r.finish()
}

// fail ends the call with a single failure record.
func (e *Engine) fail(ctx context.Context, r *run, sql string, retry int, err error, outcome string) *model.SmartQueryResult {
	msg := err.Error()
	if errors.Is(err, model.ErrNoConnection) {
		msg = noConnectionMessage
	}

	r.result.Error = err
	r.result.ErrorMessage = msg
	r.result.RetryCount = retry
	if r.result.SQL != "" {
		r.result.FinalSQL = changedSQL(r.result.SQL, sql)
	}

	e.record(ctx, r, &model.QueryAttempt{
		SQL:          sql,
		ErrorMessage: msg,
		RetryCount:   retry,
	})
	e.metrics.Query(outcome)
	logging.From(ctx).Warn("query failed", "question", r.question, "error", err)
	return r.finish()
}

func (e *Engine) cancel(ctx context.Context, r *run, sql string, retry int, cause error) *model.SmartQueryResult {
	return e.fail(ctx, r, sql, retry, goerr.Wrap(cause, "query canceled"), metrics.OutcomeCanceled)
}

// record writes one attempt. History failures are logged by the recorder
// and never change the outcome of the query.
func (e *Engine) record(ctx context.Context, r *run, attempt *model.QueryAttempt) {
	attempt.Question = r.question
	attempt.UsedMemory = r.result.UsedMemory
	attempt.Timing = r.timing
	attempt.Timing.Total = time.Since(r.start)
	attempt.TimingDetails = attempt.Timing.Details()

	_ = e.recorder.Record(context.WithoutCancel(ctx), attempt)
}

func executionMessage(err error) string {
	var execErr *model.ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Message
	}
	return err.Error()
}

func changedSQL(original, current string) string {
	if current == original {
		return ""
	}
	return current
}
