package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/itinera-ai/itinera/internal/agent"
	"github.com/itinera-ai/itinera/internal/cache"
	"github.com/itinera-ai/itinera/internal/guard"
	"github.com/itinera-ai/itinera/internal/observability"
	"github.com/itinera-ai/itinera/internal/providers"
)

type stubRunner struct {
	events  []agent.Event
	err     error
	lastReq agent.RunRequest
}

func (s *stubRunner) Run(_ context.Context, req agent.RunRequest) (<-chan agent.Event, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	events := make(chan agent.Event, len(s.events))
	for _, event := range s.events {
		events <- event
	}
	close(events)
	return events, nil
}

func newTestServer(t *testing.T, runner Runner) (*Server, *cache.MemoryStore) {
	t.Helper()
	store := cache.NewMemoryStore()
	logger := observability.NewNopLogger()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	tags := cache.NewTagRegistry(store, logger, metrics)
	keys := providers.NewCacheKeyStore(store)
	return New(Config{}, runner, guard.NewRegistry(), store, tags, keys, logger, prometheus.NewRegistry()), store
}

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestChat_StreamsEvents(t *testing.T) {
	runner := &stubRunner{events: []agent.Event{
		{Text: "Porto "},
		{Text: "is lovely."},
		{Done: true, Provider: "openai", Model: "gpt-4o", InputTokens: 8, OutputTokens: 4},
	}}
	srv, _ := newTestServer(t, runner)

	rec := postJSON(t, srv.Handler(), "/v1/chat",
		`{"user_id":"u1","messages":[{"role":"user","content":"porto?"}]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "event: text") {
		t.Errorf("missing text events:\n%s", body)
	}
	if !strings.Contains(body, "event: done") {
		t.Errorf("missing done event:\n%s", body)
	}
	if !strings.Contains(body, `"model":"gpt-4o"`) {
		t.Errorf("done payload missing attribution:\n%s", body)
	}
}

func TestChat_PassesUserAndMemoryTool(t *testing.T) {
	runner := &stubRunner{events: []agent.Event{{Done: true}}}
	srv, _ := newTestServer(t, runner)

	rec := postJSON(t, srv.Handler(), "/v1/chat",
		`{"user_id":"u42","model":"grok-3","messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	if runner.lastReq.UserID != "u42" || runner.lastReq.Model != "grok-3" {
		t.Errorf("run request = %+v", runner.lastReq)
	}
	var hasMemory bool
	for _, handle := range runner.lastReq.Tools {
		if handle.Name() == "memory_update" {
			hasMemory = true
		}
	}
	if !hasMemory {
		t.Error("memory tool not offered to the run")
	}
	if runner.lastReq.RequestID == "" {
		t.Error("request ID not propagated")
	}
}

func TestChat_RejectsBadRequests(t *testing.T) {
	srv, _ := newTestServer(t, &stubRunner{})
	handler := srv.Handler()

	cases := []struct {
		name string
		body string
	}{
		{"malformed", `{`},
		{"missing user", `{"messages":[{"role":"user","content":"x"}]}`},
		{"empty messages", `{"user_id":"u1","messages":[]}`},
		{"bad role", `{"user_id":"u1","messages":[{"role":"tool","content":"x"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postJSON(t, handler, "/v1/chat", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestChat_NoProviderKeyIs403(t *testing.T) {
	srv, _ := newTestServer(t, &stubRunner{err: providers.ErrNoProviderKey})

	rec := postJSON(t, srv.Handler(), "/v1/chat",
		`{"user_id":"u1","messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "no_provider_key") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestChat_RunErrorStreamedAsErrorEvent(t *testing.T) {
	runner := &stubRunner{events: []agent.Event{
		{Err: guard.NewToolError(guard.CodeWebSearchRateLimited, "slow down", nil), Done: true},
	}}
	srv, _ := newTestServer(t, runner)

	rec := postJSON(t, srv.Handler(), "/v1/chat",
		`{"user_id":"u1","messages":[{"role":"user","content":"hi"}]}`)

	body := rec.Body.String()
	if !strings.Contains(body, "event: error") || !strings.Contains(body, "web_search_rate_limited") {
		t.Errorf("body = %s", body)
	}
}

func TestInvalidate_BumpsTags(t *testing.T) {
	srv, store := newTestServer(t, &stubRunner{})
	handler := srv.Handler()

	rec := postJSON(t, handler, "/v1/cache/invalidate", `{"tags":["accommodations","websearch"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp invalidateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	// An unbumped tag is at version 1, so the first bump yields 2.
	if resp.Versions["accommodations"] != 2 || resp.Versions["websearch"] != 2 {
		t.Errorf("versions = %v", resp.Versions)
	}
	if store.Len() == 0 {
		t.Error("tag versions not persisted")
	}
}

func TestInvalidate_RejectsEmptyTags(t *testing.T) {
	srv, _ := newTestServer(t, &stubRunner{})

	rec := postJSON(t, srv.Handler(), "/v1/cache/invalidate", `{"tags":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestKeys_PutAndDelete(t *testing.T) {
	srv, _ := newTestServer(t, &stubRunner{})
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodPut, "/v1/keys/openai",
		strings.NewReader(`{"user_id":"u1","key":"sk-test"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, body = %s", rec.Code, rec.Body.String())
	}

	key, ok, err := srv.keys.UserKey(context.Background(), "u1", "openai")
	if err != nil || !ok || key != "sk-test" {
		t.Errorf("stored key = %q, %v, %v", key, ok, err)
	}

	req = httptest.NewRequest(http.MethodDelete, "/v1/keys/openai?user_id=u1", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("DELETE status = %d", rec.Code)
	}
	if _, ok, _ := srv.keys.UserKey(context.Background(), "u1", "openai"); ok {
		t.Error("key survived deletion")
	}
}

func TestKeys_RejectsGatewayProvider(t *testing.T) {
	srv, _ := newTestServer(t, &stubRunner{})

	req := httptest.NewRequest(http.MethodPut, "/v1/keys/openrouter",
		strings.NewReader(`{"user_id":"u1","key":"sk-or"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, &stubRunner{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not set")
	}
}

func TestChat_UnclassifiedRunErrorBodyIsGeneric(t *testing.T) {
	runner := &stubRunner{err: errors.New("dial tcp 10.0.0.7:6379: connect refused (key=sk-internal)")}
	srv, _ := newTestServer(t, runner)

	rec := postJSON(t, srv.Handler(), "/v1/chat",
		`{"user_id":"u1","messages":[{"role":"user","content":"porto?"}]}`)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if strings.Contains(body, "10.0.0.7") || strings.Contains(body, "sk-internal") {
		t.Errorf("response leaks internal detail:\n%s", body)
	}
	if !strings.Contains(body, `"error":"internal_error"`) {
		t.Errorf("missing generic error code:\n%s", body)
	}
}

func TestChat_UnclassifiedStreamErrorIsGeneric(t *testing.T) {
	runner := &stubRunner{events: []agent.Event{
		{Text: "Thinking"},
		{Err: errors.New("post https://10.0.0.9/v1: x509 failure (key=sk-internal)"), Done: true},
	}}
	srv, _ := newTestServer(t, runner)

	rec := postJSON(t, srv.Handler(), "/v1/chat",
		`{"user_id":"u1","messages":[{"role":"user","content":"porto?"}]}`)

	body := rec.Body.String()
	if !strings.Contains(body, "event: error") {
		t.Fatalf("missing error event:\n%s", body)
	}
	if strings.Contains(body, "10.0.0.9") || strings.Contains(body, "sk-internal") {
		t.Errorf("stream leaks internal detail:\n%s", body)
	}
	if !strings.Contains(body, `"error":"internal_error"`) {
		t.Errorf("missing generic error code:\n%s", body)
	}
}
