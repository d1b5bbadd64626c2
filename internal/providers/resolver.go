package providers

import (
	"context"
	"errors"

	"github.com/itinera-ai/itinera/internal/models"
	"github.com/itinera-ai/itinera/internal/observability"
)

// ErrNoProviderKey is returned when a traveler has no direct key and no
// gateway key is configured. There is no further fallback; the HTTP
// boundary surfaces it to the user.
var ErrNoProviderKey = errors.New("no provider key found: add an API key or configure the gateway")

// byokOrder is the bring-your-own-key preference order. A traveler's
// own key always beats the shared gateway.
var byokOrder = []models.Provider{
	models.ProviderOpenAI,
	models.ProviderAnthropic,
	models.ProviderXAI,
}

var defaultModels = map[models.Provider]string{
	models.ProviderOpenAI:    "gpt-4o",
	models.ProviderAnthropic: "claude-sonnet-4-5",
	models.ProviderXAI:       "grok-3",
}

const defaultGatewayModel = "anthropic/claude-sonnet-4-5"

// ResolverConfig configures the fallback chain.
type ResolverConfig struct {
	// GatewayAPIKey is the shared OpenRouter key. Empty disables the
	// gateway fallback.
	GatewayAPIKey string

	// GatewayReferer and GatewayTitle are the OpenRouter attribution
	// pair. Both must be set for the headers to be sent.
	GatewayReferer string
	GatewayTitle   string

	// GatewayModel overrides the default gateway model.
	GatewayModel string

	// DefaultModels overrides the per-provider default model.
	DefaultModels map[models.Provider]string
}

// Resolution is the outcome of provider selection for one agent run.
type Resolution struct {
	Provider models.Provider
	Model    string

	// BYOK is true when the traveler's own key was used.
	BYOK bool

	Client LLMClient
}

// Resolver picks the LLM backend for a request: the traveler's own
// keys in byokOrder, then the shared gateway.
type Resolver struct {
	config  ResolverConfig
	keys    KeyStore
	catalog *models.Catalog
	logger  *observability.Logger
	metrics *observability.Metrics

	// newClient is swapped in tests to avoid real SDK clients.
	newClient func(provider models.Provider, key string, config ResolverConfig) LLMClient
}

func NewResolver(config ResolverConfig, keys KeyStore, catalog *models.Catalog, logger *observability.Logger, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		config:    config,
		keys:      keys,
		catalog:   catalog,
		logger:    logger,
		metrics:   metrics,
		newClient: newClient,
	}
}

func newClient(provider models.Provider, key string, config ResolverConfig) LLMClient {
	switch provider {
	case models.ProviderAnthropic:
		return NewAnthropicClient(key)
	case models.ProviderXAI:
		return NewXAIClient(key)
	case models.ProviderOpenRouter:
		return NewOpenRouterClient(key, config.GatewayReferer, config.GatewayTitle)
	default:
		return NewOpenAIClient(key)
	}
}

// Resolve selects the backend for one agent run. requestedModel may be
// empty, a direct model ID, or a gateway "{provider}/{model}" ID; it is
// honored when it belongs to the selected provider and otherwise
// replaced by that provider's default.
func (r *Resolver) Resolve(ctx context.Context, userID, requestedModel string) (*Resolution, error) {
	for _, provider := range byokOrder {
		key, ok, err := r.keys.UserKey(ctx, userID, provider)
		if err != nil {
			r.logger.Warn(ctx, "key lookup failed, skipping provider",
				"provider", string(provider), "error", err)
			continue
		}
		if !ok {
			continue
		}

		resolution := &Resolution{
			Provider: provider,
			Model:    r.modelFor(provider, requestedModel),
			BYOK:     true,
			Client:   r.newClient(provider, key, r.config),
		}
		r.observe(ctx, resolution)
		return resolution, nil
	}

	if r.config.GatewayAPIKey != "" {
		resolution := &Resolution{
			Provider: models.ProviderOpenRouter,
			Model:    r.gatewayModel(requestedModel),
			Client:   r.newClient(models.ProviderOpenRouter, r.config.GatewayAPIKey, r.config),
		}
		r.observe(ctx, resolution)
		return resolution, nil
	}

	if r.metrics != nil {
		r.metrics.ProviderResolutions.WithLabelValues("none").Inc()
	}
	return nil, ErrNoProviderKey
}

// modelFor returns requestedModel when the catalog attributes it to
// provider, otherwise the provider's default.
func (r *Resolver) modelFor(provider models.Provider, requestedModel string) string {
	if requestedModel != "" {
		if model, ok := r.catalog.Get(requestedModel); ok && model.Provider == provider {
			return model.ID
		}
	}
	if model, ok := r.config.DefaultModels[provider]; ok && model != "" {
		return model
	}
	return defaultModels[provider]
}

func (r *Resolver) gatewayModel(requestedModel string) string {
	if requestedModel != "" {
		return r.catalog.GatewayID(requestedModel)
	}
	if r.config.GatewayModel != "" {
		return r.config.GatewayModel
	}
	return defaultGatewayModel
}

func (r *Resolver) observe(ctx context.Context, resolution *Resolution) {
	if r.metrics != nil {
		r.metrics.ProviderResolutions.WithLabelValues(string(resolution.Provider)).Inc()
	}
	r.logger.Debug(ctx, "provider resolved",
		"provider", string(resolution.Provider),
		"model", resolution.Model,
		"byok", resolution.BYOK)
}
