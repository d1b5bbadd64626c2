// Package providers resolves which LLM backend serves a request and
// adapts streaming completions from each backend to a common chunk
// channel. Resolution prefers a traveler's own API keys and falls back
// to the shared OpenRouter gateway.
package providers

import (
	"context"
	"encoding/json"

	"github.com/itinera-ai/itinera/internal/models"
)

// ToolSpec is the tool surface exposed to a model: a name, a
// description, and a JSON Schema for the arguments.
type ToolSpec struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// ChatRequest is a provider-neutral streaming completion request.
type ChatRequest struct {
	// Model is the backend model ID. Gateway clients expect the
	// "{provider}/{model}" form.
	Model string

	// System is the system prompt, handled outside Messages because
	// providers disagree on where it goes.
	System string

	Messages []models.Message
	Tools    []ToolSpec

	// MaxTokens caps the completion. The caller is expected to have
	// clamped it to the model's context window already.
	MaxTokens int

	// Temperature of 0 means provider default.
	Temperature float32
}

// Chunk is one increment of a streaming completion.
type Chunk struct {
	// Text is partial response text.
	Text string

	// ToolCall is a complete assembled tool request.
	ToolCall *models.ToolCall

	// Done marks successful stream completion. InputTokens and
	// OutputTokens are only set on the final chunk, when the backend
	// reports usage.
	Done         bool
	InputTokens  int
	OutputTokens int

	// Err terminates the stream.
	Err error
}

// LLMClient streams completions from one backend.
type LLMClient interface {
	// Name returns the backend identifier for logs and metrics.
	Name() string

	// Complete starts a streaming completion. The returned channel is
	// closed after the final chunk; a chunk with Err set is always the
	// last one sent.
	Complete(ctx context.Context, req *ChatRequest) (<-chan *Chunk, error)
}
