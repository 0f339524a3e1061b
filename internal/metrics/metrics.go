package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Search metrics
	SearchQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchcore_search_queries_total",
			Help: "Total number of search queries by strategy and outcome",
		},
		[]string{"strategy", "status"},
	)

	SearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "searchcore_search_latency_seconds",
			Help:    "Per-query search latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"strategy"},
	)

	SearchResults = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "searchcore_search_results",
			Help:    "Results returned per query after deduplication",
			Buckets: []float64{0, 1, 3, 5, 10, 20},
		},
		[]string{"strategy"},
	)

	Clarifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchcore_clarifications_total",
			Help: "Queries short-circuited for missing or unsupported facets",
		},
		[]string{"reason"},
	)

	SearchCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchcore_search_cache_total",
			Help: "Search cache lookups by result",
		},
		[]string{"result"},
	)

	// Content metrics
	ContentFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchcore_content_fetch_total",
			Help: "Content retrievals by source (primary, fallback) and outcome",
		},
		[]string{"source", "status"},
	)

	// Agent metrics
	AgentRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchcore_agent_runs_total",
			Help: "Research agent runs by outcome",
		},
		[]string{"status"},
	)

	AgentSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchcore_agent_steps_total",
			Help: "Tool-invoking agent steps by tool and outcome",
		},
		[]string{"tool", "status"},
	)

	AgentDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "searchcore_agent_duration_seconds",
			Help:    "Research agent run duration in seconds",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		},
	)

	PlannedTodos = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "searchcore_plan_todos",
			Help:    "Total todos per research plan",
			Buckets: []float64{3, 6, 9, 12, 15},
		},
	)

	// Model metrics
	LLMCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchcore_llm_calls_total",
			Help: "Language model calls by operation and outcome",
		},
		[]string{"op", "status"},
	)

	LLMTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchcore_llm_tokens_total",
			Help: "Language model tokens by model and kind",
		},
		[]string{"model", "kind"},
	)

	// Sandbox metrics
	SandboxRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchcore_sandbox_runs_total",
			Help: "Sandboxed code executions by outcome",
		},
		[]string{"status"},
	)

	// Usage gating
	UsageDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchcore_usage_decisions_total",
			Help: "Entitlement decisions by mode and result",
		},
		[]string{"mode", "result"},
	)
)

// RecordSearch records the outcome of a single query.
func RecordSearch(strategy string, ok bool, seconds float64, results int) {
	status := "success"
	if !ok {
		status = "error"
	}
	SearchQueries.WithLabelValues(strategy, status).Inc()
	SearchLatency.WithLabelValues(strategy).Observe(seconds)
	if ok {
		SearchResults.WithLabelValues(strategy).Observe(float64(results))
	}
}

// RecordLLMCall records a model call and its token usage.
func RecordLLMCall(op, model string, err error, promptTokens, completionTokens int) {
	status := "success"
	if err != nil {
		status = "error"
	}
	LLMCalls.WithLabelValues(op, status).Inc()
	if promptTokens > 0 {
		LLMTokens.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokens.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
}
