package guard

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/itinera-ai/itinera/internal/cache"
	"github.com/itinera-ai/itinera/internal/observability"
	"github.com/itinera-ai/itinera/internal/ratelimit"
)

type searchParams struct {
	Query string `json:"query"`
}

type searchResult struct {
	Answer string `json:"answer"`
}

type pipelineFixture struct {
	pipeline *Pipeline
	store    *cache.MemoryStore
	tags     *cache.TagRegistry
	metrics  *observability.Metrics
	calls    *int32
}

func newFixture(t *testing.T, limit int) (*pipelineFixture, Handle) {
	t.Helper()

	store := cache.NewMemoryStore()
	logger := observability.NewNopLogger()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	tags := cache.NewTagRegistry(store, logger, metrics)
	limiters := ratelimit.NewRegistry(map[string]ratelimit.Config{
		"search": {Prefix: "rl:search", Limit: limit, Window: time.Minute},
	}, store, logger, metrics)

	var calls int32
	handle := Bind(Tool[searchParams, searchResult]{
		Name:     "web_search",
		Workflow: "search",
		Codes: CodeSet{
			InvalidParams: CodeWebSearchInvalidParams,
			RateLimited:   CodeWebSearchRateLimited,
			Failed:        CodeWebSearchFailed,
		},
		Cache: &CachePolicy{Namespace: "web", Tag: "web", TTL: time.Minute},
		Run: func(ctx context.Context, params searchParams) (searchResult, error) {
			atomic.AddInt32(&calls, 1)
			return searchResult{Answer: "results for " + params.Query}, nil
		},
	})

	fixture := &pipelineFixture{
		pipeline: NewPipeline(store, tags, limiters, logger, nil, metrics),
		store:    store,
		tags:     tags,
		metrics:  metrics,
		calls:    &calls,
	}
	return fixture, handle
}

func invokeOK(t *testing.T, f *pipelineFixture, handle Handle, raw string) json.RawMessage {
	t.Helper()
	result, err := f.pipeline.Invoke(context.Background(), handle, Invocation{Identifier: "user-1"}, json.RawMessage(raw))
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	return result
}

func TestPipeline_SecondCallServedFromCache(t *testing.T) {
	f, handle := newFixture(t, 10)

	first := invokeOK(t, f, handle, `{"query":"lisbon museums"}`)
	second := invokeOK(t, f, handle, `{"query":"lisbon museums"}`)

	if got := atomic.LoadInt32(f.calls); got != 1 {
		t.Errorf("tool executed %d times, want 1", got)
	}
	if string(first) != string(second) {
		t.Errorf("cached response differs: %s vs %s", first, second)
	}
}

func TestPipeline_InvalidParamsTouchNothing(t *testing.T) {
	f, handle := newFixture(t, 10)

	_, err := f.pipeline.Invoke(context.Background(), handle, Invocation{Identifier: "user-1"}, json.RawMessage(`{"query":42}`))
	te, ok := AsToolError(err)
	if !ok {
		t.Fatalf("Invoke() error = %v, want ToolError", err)
	}
	if te.Code != CodeWebSearchInvalidParams {
		t.Errorf("Code = %q, want web_search_invalid_params", te.Code)
	}
	if got := atomic.LoadInt32(f.calls); got != 0 {
		t.Errorf("tool executed %d times on invalid input", got)
	}
	if f.store.Len() != 0 {
		t.Errorf("store has %d entries, want 0 (no cache or quota touched)", f.store.Len())
	}
}

func TestPipeline_RateLimitDenial(t *testing.T) {
	f, handle := newFixture(t, 2)

	invokeOK(t, f, handle, `{"query":"a"}`)
	invokeOK(t, f, handle, `{"query":"b"}`)

	_, err := f.pipeline.Invoke(context.Background(), handle, Invocation{Identifier: "user-1"}, json.RawMessage(`{"query":"c"}`))
	te, ok := AsToolError(err)
	if !ok {
		t.Fatalf("Invoke() error = %v, want ToolError", err)
	}
	if te.Code != CodeWebSearchRateLimited {
		t.Errorf("Code = %q, want web_search_rate_limited", te.Code)
	}
	if te.Meta["limit"] != 2 {
		t.Errorf("Meta[limit] = %v, want 2", te.Meta["limit"])
	}
	if _, ok := te.Meta["resetAtEpochMs"]; !ok {
		t.Error("Meta missing resetAtEpochMs")
	}
	if got := atomic.LoadInt32(f.calls); got != 2 {
		t.Errorf("tool executed %d times, want 2", got)
	}
}

func TestPipeline_CacheHitDoesNotConsumeQuota(t *testing.T) {
	f, handle := newFixture(t, 1)

	invokeOK(t, f, handle, `{"query":"repeat"}`)
	// Quota is exhausted, but the repeat is a cache hit and must
	// succeed without consulting the limiter.
	invokeOK(t, f, handle, `{"query":"repeat"}`)

	_, err := f.pipeline.Invoke(context.Background(), handle, Invocation{Identifier: "user-1"}, json.RawMessage(`{"query":"fresh"}`))
	if te, ok := AsToolError(err); !ok || te.Code != CodeWebSearchRateLimited {
		t.Errorf("fresh query after quota exhausted: error = %v, want rate limited", err)
	}
}

func TestPipeline_StoreOutageFailsOpen(t *testing.T) {
	f, handle := newFixture(t, 10)
	f.store.Unavailable = true

	invokeOK(t, f, handle, `{"query":"x"}`)
	invokeOK(t, f, handle, `{"query":"x"}`)

	if got := atomic.LoadInt32(f.calls); got != 2 {
		t.Errorf("tool executed %d times during outage, want 2 (no caching)", got)
	}
}

func TestPipeline_TagBumpInvalidates(t *testing.T) {
	f, handle := newFixture(t, 10)
	ctx := context.Background()

	invokeOK(t, f, handle, `{"query":"beaches"}`)
	if _, err := f.tags.Bump(ctx, "web"); err != nil {
		t.Fatalf("Bump() error = %v", err)
	}
	invokeOK(t, f, handle, `{"query":"beaches"}`)

	if got := atomic.LoadInt32(f.calls); got != 2 {
		t.Errorf("tool executed %d times, want 2 (bump must rotate the key)", got)
	}
}

func TestPipeline_ForeignToolErrorReclassified(t *testing.T) {
	store := cache.NewMemoryStore()
	logger := observability.NewNopLogger()
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	handle := Bind(Tool[searchParams, searchResult]{
		Name:  "web_search",
		Codes: CodeSet{Failed: CodeWebSearchFailed},
		Run: func(ctx context.Context, params searchParams) (searchResult, error) {
			return searchResult{}, errors.New("upstream timeout")
		},
	})
	pipeline := NewPipeline(store, nil, nil, logger, nil, metrics)

	_, err := pipeline.Invoke(context.Background(), handle, Invocation{Identifier: "u"}, json.RawMessage(`{"query":"q"}`))
	te, ok := AsToolError(err)
	if !ok {
		t.Fatalf("Invoke() error = %v, want ToolError", err)
	}
	if te.Code != CodeWebSearchFailed {
		t.Errorf("Code = %q, want web_search_failed", te.Code)
	}
	if te.Meta["cause"] != "upstream timeout" {
		t.Errorf("Meta[cause] = %v, want original message", te.Meta["cause"])
	}
}

func TestPipeline_TaxonomyErrorPassesThrough(t *testing.T) {
	handle := Bind(Tool[searchParams, searchResult]{
		Name: "web_search",
		Run: func(ctx context.Context, params searchParams) (searchResult, error) {
			return searchResult{}, NewToolError(CodeApprovalRequired, "booking needs approval", nil)
		},
	})
	pipeline := NewPipeline(cache.NewMemoryStore(), nil, nil, observability.NewNopLogger(), nil, observability.NewMetrics(prometheus.NewRegistry()))

	_, err := pipeline.Invoke(context.Background(), handle, Invocation{Identifier: "u"}, json.RawMessage(`{"query":"q"}`))
	te, ok := AsToolError(err)
	if !ok {
		t.Fatalf("Invoke() error = %v, want ToolError", err)
	}
	if te.Code != CodeApprovalRequired {
		t.Errorf("Code = %q, want approval_required (not rewrapped)", te.Code)
	}
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	registry := NewRegistry()
	handle := Bind(Tool[searchParams, searchResult]{Name: "dup"})
	registry.Register(handle)

	defer func() {
		if recover() == nil {
			t.Error("duplicate registration did not panic")
		}
	}()
	registry.Register(handle)
}

func TestPipeline_RecordsCacheOperations(t *testing.T) {
	f, handle := newFixture(t, 10)

	// Miss, write, then hit.
	invokeOK(t, f, handle, `{"query":"belem pastries"}`)
	invokeOK(t, f, handle, `{"query":"belem pastries"}`)

	cacheOps := func(op, status string) float64 {
		return testutil.ToFloat64(f.metrics.CacheOperations.WithLabelValues(op, status))
	}
	if got := cacheOps("get", "miss"); got != 1 {
		t.Errorf("get/miss = %v, want 1", got)
	}
	if got := cacheOps("set", "ok"); got != 1 {
		t.Errorf("set/ok = %v, want 1", got)
	}
	if got := cacheOps("get", "ok"); got != 1 {
		t.Errorf("get/ok = %v, want 1", got)
	}

	f.store.Unavailable = true
	invokeOK(t, f, handle, `{"query":"belem pastries"}`)
	if got := cacheOps("get", "error"); got != 1 {
		t.Errorf("get/error = %v, want 1", got)
	}
	if got := cacheOps("set", "error"); got != 1 {
		t.Errorf("set/error = %v, want 1", got)
	}
}
