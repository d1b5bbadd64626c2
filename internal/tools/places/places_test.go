package places

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/itinera-ai/itinera/internal/guard"
	"github.com/itinera-ai/itinera/internal/observability"
	"github.com/itinera-ai/itinera/internal/retry"
	"github.com/itinera-ai/itinera/internal/tools/httpx"
)

func newTestTool(t *testing.T, handler http.HandlerFunc) guard.Handle {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := httpx.NewClient(httpx.Config{
		Name:    "places",
		Timeout: time.Second,
		Retry:   retry.Config{MaxRetries: 0, BaseDelay: time.Millisecond},
	}, observability.NewNopLogger())
	return NewTool(client, Config{BaseURL: server.URL, APIKey: "maps-key"})
}

func TestLookup_MapsResults(t *testing.T) {
	handle := newTestTool(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("key"); got != "maps-key" {
			t.Errorf("key = %q", got)
		}
		if got := r.URL.Query().Get("query"); got != "seafood near Belem" {
			t.Errorf("query = %q", got)
		}
		w.Write([]byte(`{"status":"OK","results":[
			{"name":"Cervejaria Ramiro","formatted_address":"Av. Almirante Reis 1","rating":4.6,
			 "types":["restaurant","food"],
			 "geometry":{"location":{"lat":38.72,"lng":-9.135}}}
		]}`))
	})

	raw, err := handle.Execute(context.Background(), json.RawMessage(`{"query":"seafood","near":"Belem"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var response Response
	if err := json.Unmarshal(raw, &response); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(response.Places) != 1 {
		t.Fatalf("Places len = %d, want 1", len(response.Places))
	}
	place := response.Places[0]
	if place.Name != "Cervejaria Ramiro" || place.Lat != 38.72 || place.Category != "restaurant" {
		t.Errorf("place = %+v", place)
	}
}

func TestLookup_ZeroResultsIsNotAnError(t *testing.T) {
	handle := newTestTool(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ZERO_RESULTS","results":[]}`))
	})

	raw, err := handle.Execute(context.Background(), json.RawMessage(`{"query":"nothing here"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	var response Response
	if err := json.Unmarshal(raw, &response); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(response.Places) != 0 {
		t.Errorf("Places len = %d, want 0", len(response.Places))
	}
}

func TestLookup_UpstreamStatusErrorClassified(t *testing.T) {
	handle := newTestTool(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"REQUEST_DENIED","results":[]}`))
	})

	_, err := handle.Execute(context.Background(), json.RawMessage(`{"query":"x"}`))
	te, ok := guard.AsToolError(err)
	if !ok || te.Code != guard.CodePlacesFailed {
		t.Errorf("error = %v, want places_failed", err)
	}
	if te != nil && te.Meta["status"] != "REQUEST_DENIED" {
		t.Errorf("Meta[status] = %v", te.Meta["status"])
	}
}
