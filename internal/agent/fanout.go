package agent

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/itinera-ai/itinera/internal/guard"
	"github.com/itinera-ai/itinera/internal/models"
)

// executeAll runs a round's tool calls concurrently through the
// guardrail pipeline and returns outcomes in call order. A failed tool
// does not abort the round: the taxonomy error is encoded into the
// result so the model can recover or apologize.
func (r *Runner) executeAll(ctx context.Context, handles map[string]guard.Handle, inv guard.Invocation, calls []models.ToolCall) []*ToolResult {
	results := make([]*ToolResult, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call models.ToolCall) {
			defer wg.Done()
			results[i] = r.executeOne(ctx, handles, inv, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

func (r *Runner) executeOne(ctx context.Context, handles map[string]guard.Handle, inv guard.Invocation, call models.ToolCall) *ToolResult {
	result := &ToolResult{CallID: call.ID, Name: call.Name}

	handle, ok := handles[call.Name]
	if !ok {
		te := guard.NewToolError(guard.CodeToolExecutionFailed, "unknown tool "+call.Name, nil)
		result.ErrorCode = string(te.Code)
		result.Content = encodeToolError(te)
		return result
	}

	content, err := r.pipeline.Invoke(ctx, handle, inv, call.Arguments)
	if err != nil {
		te := guard.Classify(err, handle.Codes().Failed)
		r.logger.Warn(ctx, "tool execution failed",
			"tool", call.Name, "code", string(te.Code), "error", te.Message)
		result.ErrorCode = string(te.Code)
		result.Content = encodeToolError(te)
		return result
	}

	result.Content = content
	return result
}

// encodeToolError renders a taxonomy error as the JSON the model sees
// in place of a tool result.
func encodeToolError(te *guard.ToolError) json.RawMessage {
	payload := map[string]any{
		"error":   string(te.Code),
		"message": te.Message,
	}
	if len(te.Meta) > 0 {
		payload["meta"] = te.Meta
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return json.RawMessage(`{"error":"tool_execution_failed"}`)
	}
	return encoded
}
