package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus counters and histograms for the guardrail
// and provider layers.
//
// The metrics system tracks:
//   - Tool invocations through the guard pipeline, by outcome
//   - Cache hits, misses, and store failures
//   - Rate limit admissions and rejections per workflow
//   - LLM request performance per provider and model
type Metrics struct {
	// ToolInvocations counts guard pipeline invocations.
	// Labels: tool, status (hit|success|invalid_params|rate_limited|error)
	ToolInvocations *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds (cache misses only).
	// Labels: tool
	ToolDuration *prometheus.HistogramVec

	// CacheOperations counts cache store operations.
	// Labels: op (get|set|incr), status (ok|miss|error)
	CacheOperations *prometheus.CounterVec

	// TagBumps counts tag version increments.
	// Labels: tag
	TagBumps *prometheus.CounterVec

	// RateLimitDecisions counts limiter decisions.
	// Labels: workflow, decision (allowed|denied|failopen)
	RateLimitDecisions *prometheus.CounterVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// ProviderResolutions counts provider resolver outcomes.
	// Labels: provider (openai|anthropic|xai|openrouter|none)
	ProviderResolutions *prometheus.CounterVec
}

// NewMetrics creates and registers the metric set on the given registerer.
// Pass prometheus.NewRegistry() in tests for isolation.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ToolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itinera_tool_invocations_total",
			Help: "Guard pipeline invocations by tool and outcome.",
		}, []string{"tool", "status"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "itinera_tool_duration_seconds",
			Help:    "Underlying tool execution time in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool"}),
		CacheOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itinera_cache_operations_total",
			Help: "Cache store operations by op and status.",
		}, []string{"op", "status"}),
		TagBumps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itinera_cache_tag_bumps_total",
			Help: "Cache tag version increments.",
		}, []string{"tag"}),
		RateLimitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itinera_rate_limit_decisions_total",
			Help: "Rate limiter decisions by workflow.",
		}, []string{"workflow", "decision"}),
		LLMRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "itinera_llm_request_duration_seconds",
			Help:    "LLM API call latency in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),
		LLMRequestCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itinera_llm_requests_total",
			Help: "LLM requests by provider, model, and status.",
		}, []string{"provider", "model", "status"}),
		ProviderResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itinera_provider_resolutions_total",
			Help: "Provider resolver outcomes.",
		}, []string{"provider"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ToolInvocations,
			m.ToolDuration,
			m.CacheOperations,
			m.TagBumps,
			m.RateLimitDecisions,
			m.LLMRequestDuration,
			m.LLMRequestCounter,
			m.ProviderResolutions,
		)
	}

	return m
}
