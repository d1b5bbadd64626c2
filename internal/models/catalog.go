// Package models provides a catalog of chat models and the token-budget
// arithmetic that keeps streamed completions inside a model's context
// window.
package models

import (
	"sort"
	"strings"
	"sync"
)

// Provider identifies an LLM provider.
type Provider string

const (
	ProviderOpenAI     Provider = "openai"
	ProviderAnthropic  Provider = "anthropic"
	ProviderXAI        Provider = "xai"
	ProviderOpenRouter Provider = "openrouter"
)

// DefaultContextWindow is assumed for models the catalog does not know.
// Deliberately conservative so an unknown model never gets a budget
// larger than it can handle.
const DefaultContextWindow = 8192

// Model describes a chat model the resolver can hand out.
type Model struct {
	// ID is the identifier used in API calls. Gateway models use the
	// "{provider}/{model}" form OpenRouter expects.
	ID string `json:"id"`

	Name     string   `json:"name"`
	Provider Provider `json:"provider"`

	// ContextWindow is the maximum combined prompt and completion
	// size in tokens.
	ContextWindow int `json:"context_window"`

	// MaxOutputTokens caps a single completion, when the provider
	// enforces one separately from the context window.
	MaxOutputTokens int `json:"max_output_tokens,omitempty"`

	// Aliases are alternative names accepted in requests.
	Aliases []string `json:"aliases,omitempty"`
}

// Catalog is a registry of known models, looked up by ID or alias.
type Catalog struct {
	mu      sync.RWMutex
	models  map[string]*Model
	aliases map[string]string
}

func NewCatalog() *Catalog {
	c := &Catalog{
		models:  make(map[string]*Model),
		aliases: make(map[string]string),
	}
	c.registerBuiltins()
	return c
}

// Register adds a model and its aliases.
func (c *Catalog) Register(model *Model) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.models[model.ID] = model
	for _, alias := range model.Aliases {
		c.aliases[strings.ToLower(alias)] = model.ID
	}
}

// Get retrieves a model by ID or alias. For gateway IDs of the form
// "{provider}/{model}" the bare model name is tried as a fallback, so
// "anthropic/claude-sonnet-4-5" resolves even when only the direct
// entry is registered.
func (c *Catalog) Get(id string) (*Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if model, ok := c.lookupLocked(id); ok {
		return model, true
	}
	if _, bare, found := strings.Cut(id, "/"); found {
		if model, ok := c.lookupLocked(bare); ok {
			return model, true
		}
	}
	return nil, false
}

func (c *Catalog) lookupLocked(id string) (*Model, bool) {
	if model, ok := c.models[id]; ok {
		return model, true
	}
	if realID, ok := c.aliases[strings.ToLower(id)]; ok {
		return c.models[realID], true
	}
	return nil, false
}

// ContextWindow returns the context window for a model ID, falling back
// to DefaultContextWindow for unknown models.
func (c *Catalog) ContextWindow(id string) int {
	if model, ok := c.Get(id); ok && model.ContextWindow > 0 {
		return model.ContextWindow
	}
	return DefaultContextWindow
}

// GatewayID returns the "{provider}/{model}" form OpenRouter expects.
// IDs already carrying a slash pass through unchanged.
func (c *Catalog) GatewayID(id string) string {
	if strings.Contains(id, "/") {
		return id
	}
	if model, ok := c.Get(id); ok {
		return string(model.Provider) + "/" + model.ID
	}
	return id
}

// List returns all models sorted by provider then ID.
func (c *Catalog) List() []*Model {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]*Model, 0, len(c.models))
	for _, model := range c.models {
		result = append(result, model)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Provider != result[j].Provider {
			return result[i].Provider < result[j].Provider
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (c *Catalog) registerBuiltins() {
	c.Register(&Model{
		ID:              "gpt-4o",
		Name:            "GPT-4o",
		Provider:        ProviderOpenAI,
		ContextWindow:   128000,
		MaxOutputTokens: 16384,
		Aliases:         []string{"gpt4o"},
	})
	c.Register(&Model{
		ID:              "gpt-4o-mini",
		Name:            "GPT-4o mini",
		Provider:        ProviderOpenAI,
		ContextWindow:   128000,
		MaxOutputTokens: 16384,
	})
	c.Register(&Model{
		ID:              "o3-mini",
		Name:            "o3-mini",
		Provider:        ProviderOpenAI,
		ContextWindow:   200000,
		MaxOutputTokens: 100000,
	})
	c.Register(&Model{
		ID:              "claude-sonnet-4-5",
		Name:            "Claude Sonnet 4.5",
		Provider:        ProviderAnthropic,
		ContextWindow:   200000,
		MaxOutputTokens: 64000,
		Aliases:         []string{"claude-sonnet"},
	})
	c.Register(&Model{
		ID:              "claude-haiku-4-5",
		Name:            "Claude Haiku 4.5",
		Provider:        ProviderAnthropic,
		ContextWindow:   200000,
		MaxOutputTokens: 64000,
		Aliases:         []string{"claude-haiku"},
	})
	c.Register(&Model{
		ID:              "grok-3",
		Name:            "Grok 3",
		Provider:        ProviderXAI,
		ContextWindow:   131072,
		Aliases:         []string{"grok"},
	})
	c.Register(&Model{
		ID:            "grok-3-mini",
		Name:          "Grok 3 mini",
		Provider:      ProviderXAI,
		ContextWindow: 131072,
	})
}
