package model

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

type AttemptID string

func NewAttemptID() AttemptID {
	return AttemptID(uuid.New().String())
}

// Timing holds per-phase durations of a smart query. A zero duration means
// the phase did not run.
type Timing struct {
	Total         time.Duration
	SQLGeneration time.Duration
	SQLExecution  time.Duration
	Visualization time.Duration
	Explanation   time.Duration
}

func Millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Details returns the free-form timing map stored alongside an attempt.
func (t Timing) Details() map[string]float64 {
	details := map[string]float64{}
	add := func(key string, d time.Duration) {
		if d > 0 {
			details[key] = Millis(d)
		}
	}
	add("total_ms", t.Total)
	add("sql_generation_ms", t.SQLGeneration)
	add("sql_execution_ms", t.SQLExecution)
	add("visualization_ms", t.Visualization)
	add("explanation_ms", t.Explanation)
	return details
}

// QueryAttempt is one recorded execution try. Attempts are immutable once
// written.
type QueryAttempt struct {
	ID            AttemptID
	Timestamp     time.Time
	Question      string
	SQL           string
	Success       bool
	ErrorMessage  string
	RetryCount    int
	Result        *ResultSet
	Visualization *Figure
	Summary       string
	Timing        Timing
	TimingDetails map[string]float64
	UsedMemory    bool
}

type HistoryFilter struct {
	SuccessOnly bool
	ErrorsOnly  bool
	// Limit of zero or less means no limit.
	Limit int
}

// Match reports whether the attempt passes the filter.
func (f HistoryFilter) Match(a *QueryAttempt) bool {
	if f.SuccessOnly && !a.Success {
		return false
	}
	if f.ErrorsOnly && a.ErrorMessage == "" {
		return false
	}
	return true
}

type ErrorTypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// ErrorAnalysis aggregates failure statistics over the attempt history.
type ErrorAnalysis struct {
	TotalQueries      int              `json:"total_queries"`
	ErrorQueries      int              `json:"error_queries"`
	ErrorRate         float64          `json:"error_rate"`
	RetriedQueries    int              `json:"retried_queries"`
	SuccessfulRetries int              `json:"successful_retries"`
	RetrySuccessRate  float64          `json:"retry_success_rate"`
	CommonErrorTypes  []ErrorTypeCount `json:"common_error_types"`
}

// ErrorType is the message text up to the first colon or newline.
func ErrorType(msg string) string {
	if idx := strings.IndexAny(msg, ":\n"); idx >= 0 {
		msg = msg[:idx]
	}
	return strings.TrimSpace(msg)
}

// AnalyzeAttempts computes ErrorAnalysis from a list of attempts.
func AnalyzeAttempts(attempts []*QueryAttempt) *ErrorAnalysis {
	result := &ErrorAnalysis{
		TotalQueries:     len(attempts),
		CommonErrorTypes: []ErrorTypeCount{},
	}

	counts := map[string]int{}
	for _, a := range attempts {
		if !a.Success {
			result.ErrorQueries++
		}
		if a.RetryCount > 0 {
			result.RetriedQueries++
			if a.Success {
				result.SuccessfulRetries++
			}
		}
		if a.ErrorMessage != "" {
			counts[ErrorType(a.ErrorMessage)]++
		}
	}

	if result.TotalQueries > 0 {
		result.ErrorRate = float64(result.ErrorQueries) / float64(result.TotalQueries)
	}
	if result.RetriedQueries > 0 {
		result.RetrySuccessRate = float64(result.SuccessfulRetries) / float64(result.RetriedQueries)
	}

	for t, c := range counts {
		result.CommonErrorTypes = append(result.CommonErrorTypes, ErrorTypeCount{Type: t, Count: c})
	}
	sort.Slice(result.CommonErrorTypes, func(i, j int) bool {
		a, b := result.CommonErrorTypes[i], result.CommonErrorTypes[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Type < b.Type
	})

	return result
}
