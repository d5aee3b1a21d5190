package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Query metrics
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecontext_queries_total",
			Help: "Total number of orchestrated queries by outcome",
		},
		[]string{"outcome"},
	)

	QueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lifecontext_query_duration_seconds",
			Help:    "End-to-end query orchestration duration in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
		},
	)

	QueryIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lifecontext_query_iterations",
			Help:    "Planning rounds performed per query",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 8},
		},
	)

	LoopTerminations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecontext_loop_terminations_total",
			Help: "Iteration loop exits by reason",
		},
		[]string{"reason"},
	)

	ContextItems = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lifecontext_context_items",
			Help:    "Context items accumulated per query",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	ScheduleConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lifecontext_schedule_conflicts_total",
			Help: "Queries short-circuited by the conflict guard",
		},
	)

	// Capability metrics
	CapabilityInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecontext_capability_invocations_total",
			Help: "Capability invocations by capability and status",
		},
		[]string{"capability", "status"},
	)

	CapabilityDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lifecontext_capability_duration_seconds",
			Help:    "Capability execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"capability"},
	)

	ArgumentIssues = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecontext_capability_argument_issues_total",
			Help: "Structural argument problems detected before dispatch",
		},
		[]string{"capability"},
	)

	// Text generation metrics
	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecontext_llm_requests_total",
			Help: "Text generation calls by step and status",
		},
		[]string{"step", "status"},
	)

	ParseFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecontext_parse_failures_total",
			Help: "Structured output extraction failures by step",
		},
		[]string{"step"},
	)

	// Persistence metrics
	PersistenceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecontext_persistence_failures_total",
			Help: "Best-effort persistence failures by target",
		},
		[]string{"target"},
	)
)
