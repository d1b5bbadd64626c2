package models

import "testing"

func TestCatalog_GetByIDAndAlias(t *testing.T) {
	c := NewCatalog()

	if _, ok := c.Get("claude-sonnet-4-5"); !ok {
		t.Error("direct ID lookup failed")
	}
	model, ok := c.Get("Claude-Sonnet")
	if !ok {
		t.Fatal("alias lookup failed")
	}
	if model.ID != "claude-sonnet-4-5" {
		t.Errorf("alias resolved to %q", model.ID)
	}
}

func TestCatalog_GetGatewayForm(t *testing.T) {
	c := NewCatalog()
	model, ok := c.Get("anthropic/claude-sonnet-4-5")
	if !ok {
		t.Fatal("gateway-form ID did not resolve")
	}
	if model.ContextWindow != 200000 {
		t.Errorf("ContextWindow = %d, want 200000", model.ContextWindow)
	}
}

func TestCatalog_ContextWindowFallback(t *testing.T) {
	c := NewCatalog()
	if got := c.ContextWindow("some-experimental-model"); got != DefaultContextWindow {
		t.Errorf("ContextWindow(unknown) = %d, want %d", got, DefaultContextWindow)
	}
	if got := c.ContextWindow("gpt-4o"); got != 128000 {
		t.Errorf("ContextWindow(gpt-4o) = %d, want 128000", got)
	}
}

func TestCatalog_GatewayID(t *testing.T) {
	c := NewCatalog()
	if got := c.GatewayID("grok-3"); got != "xai/grok-3" {
		t.Errorf("GatewayID(grok-3) = %q, want xai/grok-3", got)
	}
	if got := c.GatewayID("openai/gpt-4o"); got != "openai/gpt-4o" {
		t.Errorf("GatewayID passthrough = %q", got)
	}
	if got := c.GatewayID("unknown-model"); got != "unknown-model" {
		t.Errorf("GatewayID(unknown) = %q, want unchanged", got)
	}
}

func TestCatalog_RegisterOverridesAndLists(t *testing.T) {
	c := NewCatalog()
	c.Register(&Model{ID: "local-llama", Provider: Provider("local"), ContextWindow: 4096})

	if got := c.ContextWindow("local-llama"); got != 4096 {
		t.Errorf("ContextWindow = %d, want 4096", got)
	}

	list := c.List()
	for i := 1; i < len(list); i++ {
		prev, curr := list[i-1], list[i]
		if prev.Provider > curr.Provider || (prev.Provider == curr.Provider && prev.ID > curr.ID) {
			t.Fatalf("List() not sorted at index %d: %s/%s before %s/%s", i, prev.Provider, prev.ID, curr.Provider, curr.ID)
		}
	}
}
