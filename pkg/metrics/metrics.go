package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Query outcomes
const (
	OutcomeSuccess      = "success"
	OutcomeExhausted    = "exhausted"
	OutcomeGeneration   = "generation_failure"
	OutcomeNoConnection = "no_connection"
	OutcomeCanceled     = "canceled"
)

// Phases timed by PhaseDuration
const (
	PhaseRetrieval     = "retrieval"
	PhaseGeneration    = "sql_generation"
	PhaseExecution     = "sql_execution"
	PhaseVisualization = "visualization"
	PhaseSummary       = "summary"
	PhaseExplanation   = "explanation"
)

// Metrics holds the engine's collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	queries         *prometheus.CounterVec
	attempts        *prometheus.CounterVec
	historyFailures prometheus.Counter
	phaseDuration   *prometheus.HistogramVec
	registry        *prometheus.Registry
}

// New registers the collectors on reg. A nil reg creates a private
// registry, which Handler then serves.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{}
	if reg == nil {
		m.registry = prometheus.NewRegistry()
		reg = m.registry
	}
	factory := promauto.With(reg)

	m.queries = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "talk2sql_queries_total",
		Help: "Smart queries by final outcome",
	}, []string{"outcome"})
	m.attempts = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "talk2sql_execution_attempts_total",
		Help: "SQL execution attempts by result",
	}, []string{"result"})
	m.historyFailures = factory.NewCounter(prometheus.CounterOpts{
		Name: "talk2sql_history_write_failures_total",
		Help: "History records that could not be written",
	})
	m.phaseDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "talk2sql_phase_duration_seconds",
		Help:    "Duration of smart query phases",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"phase"})

	return m
}

func (m *Metrics) Query(outcome string) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Attempt(success bool) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.attempts.WithLabelValues(result).Inc()
}

func (m *Metrics) HistoryWriteFailure() {
	if m == nil {
		return
	}
	m.historyFailures.Inc()
}

func (m *Metrics) Phase(phase string, d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// Handler serves the registry the collectors were created on. For a caller
// supplied registerer it falls back to the default gatherer.
func (m *Metrics) Handler() http.Handler {
	if m != nil && m.registry != nil {
		return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}
