package model

// SmartQueryResult is the outcome of one top-level question.
type SmartQueryResult struct {
	Question string
	Success  bool
	// Error is nil on success and wraps one of the sentinel errors otherwise.
	Error        error
	ErrorMessage string

	SQL string
	// FinalSQL is set only when a repair changed the statement.
	FinalSQL   string
	RetryCount int
	UsedMemory bool

	Result        *ResultSet
	Visualization *Figure
	Summary       string
	Explanation   string
	Followups     []string

	Timing Timing
}

// ExecutedSQL returns the statement that produced Result.
func (r *SmartQueryResult) ExecutedSQL() string {
	if r.FinalSQL != "" {
		return r.FinalSQL
	}
	return r.SQL
}
