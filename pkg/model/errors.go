package model

import (
	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrGenerationFailure    = goerr.New("SQL generation failed")
	ErrNoConnection         = goerr.New("no database connection")
	ErrExecutionFailure     = goerr.New("SQL execution failed")
	ErrRetryExhausted       = goerr.New("retry attempts exhausted")
	ErrVisualizationFailure = goerr.New("visualization failed")
	ErrSummaryFailure       = goerr.New("summary generation failed")
	ErrFollowupFailure      = goerr.New("follow-up generation failed")
	ErrPersistenceFailure   = goerr.New("history persistence failed")
	ErrUnsafeStatement      = goerr.New("statement rejected")
)

// ExecutionError is returned by executors when the database rejects a
// statement. Message is the driver text that gets fed back to the repair
// prompt.
type ExecutionError struct {
	SQL     string
	Message string
	cause   error
}

func NewExecutionError(sql string, cause error) *ExecutionError {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return &ExecutionError{SQL: sql, Message: msg, cause: cause}
}

func (e *ExecutionError) Error() string {
	return e.Message
}

func (e *ExecutionError) Unwrap() []error {
	if e.cause == nil {
		return []error{ErrExecutionFailure}
	}
	return []error{ErrExecutionFailure, e.cause}
}

// Classify attaches a taxonomy sentinel to a cause so that errors.Is matches
// both.
func Classify(kind, cause error) error {
	if cause == nil {
		return kind
	}
	return &classified{kind: kind, cause: cause}
}

type classified struct {
	kind  error
	cause error
}

func (c *classified) Error() string {
	return c.kind.Error() + ": " + c.cause.Error()
}

func (c *classified) Unwrap() []error {
	return []error{c.kind, c.cause}
}
