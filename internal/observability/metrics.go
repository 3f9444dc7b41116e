package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting execution metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - LLM request performance, token consumption, and fallbacks
//   - Tool execution patterns, latencies, and cache effectiveness
//   - Circuit breaker state transitions per provider
//   - Loop iterations and completion outcomes
//   - Active session counts
type Metrics struct {
	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider and outcome.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (input|output)
	LLMTokensUsed *prometheus.CounterVec

	// FallbackCounter counts provider fallback events.
	// Labels: from, to
	FallbackCounter *prometheus.CounterVec

	// BreakerTransitions counts circuit breaker state transitions.
	// Labels: provider, to_state (closed|open|half_open)
	BreakerTransitions *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error|blocked|rate_limited)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// CacheCounter counts tool/response cache outcomes.
	// Labels: cache (tool|response), outcome (hit|miss|eviction)
	CacheCounter *prometheus.CounterVec

	// LoopIterations measures iterations per run.
	LoopIterations prometheus.Histogram

	// RunCounter counts runs by completion outcome.
	// Labels: outcome (complete|max_iterations|timeout|ask_user|error)
	RunCounter *prometheus.CounterVec

	// ActiveSessions is a gauge tracking current live sessions.
	ActiveSessions prometheus.Gauge

	// CompactionCounter counts history compactions.
	CompactionCounter prometheus.Counter
}

// NewMetrics creates and registers metrics on the given registerer.
// Passing nil registers on the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		LLMRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reactor",
			Name:      "llm_request_duration_seconds",
			Help:      "LLM API call latency.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),

		LLMRequestCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reactor",
			Name:      "llm_requests_total",
			Help:      "LLM requests by provider, model, and status.",
		}, []string{"provider", "model", "status"}),

		LLMTokensUsed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reactor",
			Name:      "llm_tokens_total",
			Help:      "Token consumption by provider, model, and direction.",
		}, []string{"provider", "model", "type"}),

		FallbackCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reactor",
			Name:      "provider_fallbacks_total",
			Help:      "Provider fallback events.",
		}, []string{"from", "to"}),

		BreakerTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reactor",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions.",
		}, []string{"provider", "to_state"}),

		ToolExecutionCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reactor",
			Name:      "tool_executions_total",
			Help:      "Tool invocations by name and status.",
		}, []string{"tool_name", "status"}),

		ToolExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reactor",
			Name:      "tool_execution_duration_seconds",
			Help:      "Tool execution time.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool_name"}),

		CacheCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reactor",
			Name:      "cache_events_total",
			Help:      "Cache hits, misses, and evictions.",
		}, []string{"cache", "outcome"}),

		LoopIterations: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "reactor",
			Name:      "loop_iterations",
			Help:      "Iterations per run.",
			Buckets:   []float64{1, 2, 3, 5, 8, 10, 15, 20, 30},
		}),

		RunCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reactor",
			Name:      "runs_total",
			Help:      "Runs by completion outcome.",
		}, []string{"outcome"}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "reactor",
			Name:      "active_sessions",
			Help:      "Current live sessions.",
		}),

		CompactionCounter: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "reactor",
			Name:      "compactions_total",
			Help:      "History compactions performed.",
		}),
	}
}
