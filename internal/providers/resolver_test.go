package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/itinera-ai/itinera/internal/models"
	"github.com/itinera-ai/itinera/internal/observability"
)

type fakeClient struct {
	name string
	key  string
}

func (f *fakeClient) Name() string { return f.name }
func (f *fakeClient) Complete(context.Context, *ChatRequest) (<-chan *Chunk, error) {
	return nil, errors.New("not implemented")
}

func newTestResolver(config ResolverConfig, keys KeyStore) *Resolver {
	r := NewResolver(config, keys, models.NewCatalog(), observability.NewNopLogger(), observability.NewMetrics(prometheus.NewRegistry()))
	r.newClient = func(provider models.Provider, key string, _ ResolverConfig) LLMClient {
		return &fakeClient{name: string(provider), key: key}
	}
	return r
}

func TestResolve_OpenAIKeyWinsOverAll(t *testing.T) {
	keys := NewStaticKeyStore()
	keys.SetKey("u1", models.ProviderOpenAI, "sk-user")
	keys.SetKey("u1", models.ProviderAnthropic, "sk-ant-user")

	r := newTestResolver(ResolverConfig{GatewayAPIKey: "sk-or-shared"}, keys)

	res, err := r.Resolve(context.Background(), "u1", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Provider != models.ProviderOpenAI {
		t.Errorf("Provider = %q, want openai", res.Provider)
	}
	if !res.BYOK {
		t.Error("BYOK = false, want true")
	}
	if res.Model != "gpt-4o" {
		t.Errorf("Model = %q, want default gpt-4o", res.Model)
	}
	if res.Client.(*fakeClient).key != "sk-user" {
		t.Error("client built with wrong key")
	}
}

func TestResolve_ByokOrderAnthropicBeforeXAI(t *testing.T) {
	keys := NewStaticKeyStore()
	keys.SetKey("u1", models.ProviderXAI, "xai-user")
	keys.SetKey("u1", models.ProviderAnthropic, "sk-ant-user")

	r := newTestResolver(ResolverConfig{}, keys)

	res, err := r.Resolve(context.Background(), "u1", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Provider != models.ProviderAnthropic {
		t.Errorf("Provider = %q, want anthropic", res.Provider)
	}
	if res.Model != "claude-sonnet-4-5" {
		t.Errorf("Model = %q, want claude-sonnet-4-5", res.Model)
	}
}

func TestResolve_RequestedModelHonoredWhenProviderMatches(t *testing.T) {
	keys := NewStaticKeyStore()
	keys.SetKey("u1", models.ProviderAnthropic, "sk-ant-user")

	r := newTestResolver(ResolverConfig{}, keys)

	res, err := r.Resolve(context.Background(), "u1", "claude-haiku-4-5")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Model != "claude-haiku-4-5" {
		t.Errorf("Model = %q, want requested claude-haiku-4-5", res.Model)
	}

	// A model from a different provider falls back to the default.
	res, err = r.Resolve(context.Background(), "u1", "gpt-4o")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Model != "claude-sonnet-4-5" {
		t.Errorf("Model = %q, want default claude-sonnet-4-5", res.Model)
	}
}

func TestResolve_GatewayFallback(t *testing.T) {
	r := newTestResolver(ResolverConfig{GatewayAPIKey: "sk-or-shared"}, NewStaticKeyStore())

	res, err := r.Resolve(context.Background(), "u1", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Provider != models.ProviderOpenRouter {
		t.Errorf("Provider = %q, want openrouter", res.Provider)
	}
	if res.BYOK {
		t.Error("BYOK = true for gateway resolution")
	}
	if res.Model != "anthropic/claude-sonnet-4-5" {
		t.Errorf("Model = %q, want gateway default", res.Model)
	}
}

func TestResolve_GatewayModelForm(t *testing.T) {
	r := newTestResolver(ResolverConfig{GatewayAPIKey: "sk-or-shared"}, NewStaticKeyStore())

	res, err := r.Resolve(context.Background(), "u1", "grok-3")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Model != "xai/grok-3" {
		t.Errorf("Model = %q, want xai/grok-3", res.Model)
	}
}

func TestResolve_NoKeyAnywhere(t *testing.T) {
	r := newTestResolver(ResolverConfig{}, NewStaticKeyStore())

	_, err := r.Resolve(context.Background(), "u1", "")
	if !errors.Is(err, ErrNoProviderKey) {
		t.Errorf("Resolve() error = %v, want ErrNoProviderKey", err)
	}
}

type failingKeyStore struct{}

func (failingKeyStore) UserKey(context.Context, string, models.Provider) (string, bool, error) {
	return "", false, errors.New("vault unreachable")
}

func TestResolve_KeyStoreErrorFallsThroughToGateway(t *testing.T) {
	r := newTestResolver(ResolverConfig{GatewayAPIKey: "sk-or-shared"}, failingKeyStore{})

	res, err := r.Resolve(context.Background(), "u1", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Provider != models.ProviderOpenRouter {
		t.Errorf("Provider = %q, want openrouter after vault failure", res.Provider)
	}
}
