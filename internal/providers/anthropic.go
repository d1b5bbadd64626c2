package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/itinera-ai/itinera/internal/models"
	"github.com/itinera-ai/itinera/internal/retry"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicClient streams completions from the Anthropic Messages API.
type AnthropicClient struct {
	client anthropic.Client
	retry  retry.Config
}

func NewAnthropicClient(apiKey string) *AnthropicClient {
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		retry:  retry.DefaultConfig(),
	}
}

func (c *AnthropicClient) Name() string {
	return "anthropic"
}

func (c *AnthropicClient) Complete(ctx context.Context, req *ChatRequest) (<-chan *Chunk, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}

	// The SDK defers connection errors to the first Next call, so the
	// retry loop probes each stream before handing it off.
	stream, err := retry.Do(ctx, c.retry, func(ctx context.Context) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
		stream := c.client.Messages.NewStreaming(ctx, params)
		if err := stream.Err(); err != nil {
			wrapped := WrapError("anthropic", req.Model, err)
			if !IsRetryable(wrapped) {
				return nil, retry.Permanent(wrapped)
			}
			return nil, wrapped
		}
		return stream, nil
	})
	if err != nil {
		return nil, err
	}

	chunks := make(chan *Chunk)
	go c.processStream(stream, chunks, req.Model)
	return chunks, nil
}

func (c *AnthropicClient) buildParams(req *ChatRequest) (anthropic.MessageNewParams, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}

	for _, tool := range req.Tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("tool %s schema: %w", tool.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool != nil {
			toolParam.OfTool.Description = anthropic.String(tool.Description)
		}
		params.Tools = append(params.Tools, toolParam)
	}
	return params, nil
}

func convertAnthropicMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion

		switch msg.Role {
		case models.RoleUser, models.RoleSystem:
			content = append(content, anthropic.NewTextBlock(msg.Content))
			result = append(result, anthropic.NewUserMessage(content...))
		case models.RoleAssistant:
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input any
				if err := json.Unmarshal(tc.Arguments, &input); err != nil {
					return nil, fmt.Errorf("tool call %s arguments: %w", tc.Name, err)
				}
				content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			result = append(result, anthropic.NewAssistantMessage(content...))
		case models.RoleTool:
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
			result = append(result, anthropic.NewUserMessage(content...))
		default:
			return nil, fmt.Errorf("unsupported message role %q", msg.Role)
		}
	}
	return result, nil
}

func (c *AnthropicClient) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *Chunk, model string) {
	defer close(chunks)

	var currentToolCall *models.ToolCall
	var currentToolInput strings.Builder
	var inputTokens, outputTokens int

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "message_start":
			messageStart := event.AsMessageStart()
			if messageStart.Message.Usage.InputTokens > 0 {
				inputTokens = int(messageStart.Message.Usage.InputTokens)
			}

		case "content_block_start":
			contentBlock := event.AsContentBlockStart().ContentBlock
			if contentBlock.Type == "tool_use" {
				toolUse := contentBlock.AsToolUse()
				currentToolCall = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentToolInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- &Chunk{Text: delta.Text}
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentToolInput.WriteString(delta.PartialJSON)
				}
			}

		case "content_block_stop":
			if currentToolCall != nil {
				currentToolCall.Arguments = json.RawMessage(currentToolInput.String())
				chunks <- &Chunk{ToolCall: currentToolCall}
				currentToolCall = nil
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				outputTokens = int(messageDelta.Usage.OutputTokens)
			}

		case "message_stop":
			chunks <- &Chunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
			return

		case "error":
			chunks <- &Chunk{Err: WrapError("anthropic", model, errors.New("stream error event")), Done: true}
			return
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- &Chunk{Err: WrapError("anthropic", model, err), Done: true}
		return
	}
	chunks <- &Chunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
}
