package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsRegistersAll(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ToolInvocations.WithLabelValues("web_search", "hit").Inc()
	m.CacheOperations.WithLabelValues("get", "ok").Inc()
	m.RateLimitDecisions.WithLabelValues("webSearch", "allowed").Inc()
	m.LLMRequestCounter.WithLabelValues("openai", "gpt-4o", "success").Inc()
	m.ProviderResolutions.WithLabelValues("openrouter").Inc()
	m.TagBumps.WithLabelValues("websearch").Inc()
	m.ToolDuration.WithLabelValues("web_search").Observe(0.2)
	m.LLMRequestDuration.WithLabelValues("openai", "gpt-4o").Observe(1.5)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if len(families) != 8 {
		t.Errorf("gathered %d metric families, want 8", len(families))
	}

	if got := testutil.ToFloat64(m.ToolInvocations.WithLabelValues("web_search", "hit")); got != 1 {
		t.Errorf("tool invocation count = %v", got)
	}
}

func TestNewMetricsDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)

	defer func() {
		if recover() == nil {
			t.Error("second registration did not panic")
		}
	}()
	NewMetrics(reg)
}

func TestNewMetricsNilRegisterer(t *testing.T) {
	// A nil registerer yields usable but unregistered metrics.
	m := NewMetrics(nil)
	m.ToolInvocations.WithLabelValues("places_lookup", "success").Inc()
}
