package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drew_runs_total",
			Help: "Orchestration runs by outcome",
		},
		[]string{"mode", "outcome"},
	)
	AgentExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drew_agent_executions_total",
			Help: "Agent node executions by agent and outcome",
		},
		[]string{"agent", "outcome"},
	)
	ToolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drew_tool_calls_total",
			Help: "Toolset invocations by tool and outcome",
		},
		[]string{"tool", "outcome"},
	)
	SearchFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drew_search_fallbacks_total",
			Help: "Searches answered by the lexical fallback",
		},
		[]string{"source"},
	)
	EmbeddingFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drew_embedding_failures_total",
			Help: "Embedding requests that failed or returned malformed vectors",
		},
		[]string{"source"},
	)
	LLMLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drew_llm_request_duration_seconds",
			Help:    "Latency of LLM provider requests",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"operation", "model"},
	)
)

// Collectors lists every service collector for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{RunsTotal, AgentExecutions, ToolCalls, SearchFallbacks, EmbeddingFailures, LLMLatency}
}

// Outcome maps an error onto the "ok"/"error" label pair.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
