package models

import "encoding/json"

// Role is a chat message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is the provider-neutral chat message used for budgeting and
// transport adaptation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Name carries the tool name on tool-result messages.
	Name string `json:"name,omitempty"`

	// ToolCalls holds tool requests on assistant messages.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID ties a tool-result message to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolCall is a model's request to execute a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

const (
	// charsPerToken is the coarse estimation ratio. Intentionally a
	// slight overcount for most English prose so the clamp errs on
	// the small side.
	charsPerToken = 4

	// safetyMargin is reserved on top of the input estimate to absorb
	// estimation error and per-message framing overhead.
	safetyMargin = 256

	// minCompletionTokens is the floor for the clamped budget. Below
	// this a completion is useless, so the clamp never goes lower.
	minCompletionTokens = 16
)

// EstimateTokens approximates the token count of a message list at
// roughly four characters per token.
func EstimateTokens(messages []Message) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Content) + len(m.Name)
		for _, tc := range m.ToolCalls {
			chars += len(tc.Name) + len(tc.Arguments)
		}
	}
	return (chars + charsPerToken - 1) / charsPerToken
}

// ClampMaxTokens fits a desired completion budget into the model's
// context window given the input messages: the result is
// min(desired, window - input - margin), floored at
// minCompletionTokens so the return is always positive even for inputs
// that overflow the window.
func ClampMaxTokens(catalog *Catalog, modelID string, messages []Message, desired int) int {
	window := catalog.ContextWindow(modelID)
	available := window - EstimateTokens(messages) - safetyMargin

	budget := desired
	if budget <= 0 || budget > available {
		budget = available
	}
	if budget < minCompletionTokens {
		budget = minCompletionTokens
	}
	return budget
}
