package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	openai "github.com/sashabaranov/go-openai"

	"github.com/itinera-ai/itinera/internal/models"
	"github.com/itinera-ai/itinera/internal/retry"
)

const (
	xaiBaseURL        = "https://api.x.ai/v1"
	openRouterBaseURL = "https://openrouter.ai/api/v1"
)

// OpenAIClient streams completions from any OpenAI-protocol backend:
// OpenAI itself, xAI, and the OpenRouter gateway.
type OpenAIClient struct {
	name   string
	client *openai.Client
	retry  retry.Config
}

// NewOpenAIClient creates a client for the OpenAI API.
func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{
		name:   "openai",
		client: openai.NewClient(apiKey),
		retry:  retry.DefaultConfig(),
	}
}

// NewXAIClient creates a client for xAI's OpenAI-compatible API.
func NewXAIClient(apiKey string) *OpenAIClient {
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = xaiBaseURL
	return &OpenAIClient{
		name:   "xai",
		client: openai.NewClientWithConfig(config),
		retry:  retry.DefaultConfig(),
	}
}

// NewOpenRouterClient creates a client for the OpenRouter gateway. The
// HTTP-Referer and X-Title attribution headers are sent only when both
// referer and title are configured.
func NewOpenRouterClient(apiKey, referer, title string) *OpenAIClient {
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = openRouterBaseURL
	if transport := attributionTransport(referer, title); transport != nil {
		config.HTTPClient = &http.Client{Transport: transport}
	}
	return &OpenAIClient{
		name:   "openrouter",
		client: openai.NewClientWithConfig(config),
		retry:  retry.DefaultConfig(),
	}
}

// attributionTransport returns a transport adding the OpenRouter
// attribution headers, or nil when either value is unset. Sending one
// header without the other attributes traffic to an anonymous app, so
// the pair is all-or-nothing.
func attributionTransport(referer, title string) http.RoundTripper {
	if referer == "" || title == "" {
		return nil
	}
	return &headerTransport{
		headers: map[string]string{
			"HTTP-Referer": referer,
			"X-Title":      title,
		},
		base: http.DefaultTransport,
	}
}

type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	for k, v := range t.headers {
		cloned.Header.Set(k, v)
	}
	return t.base.RoundTrip(cloned)
}

func (c *OpenAIClient) Name() string {
	return c.name
}

// Complete starts a streaming chat completion. Stream creation is
// retried on transient failures; once the stream is open, failures
// surface as an error chunk.
func (c *OpenAIClient) Complete(ctx context.Context, req *ChatRequest) (<-chan *Chunk, error) {
	chatReq, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}

	stream, err := retry.Do(ctx, c.retry, func(ctx context.Context) (*openai.ChatCompletionStream, error) {
		stream, err := c.client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			wrapped := WrapError(c.name, req.Model, err)
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
	go c.processStream(ctx, stream, chunks, req.Model)
	return chunks, nil
}

func (c *OpenAIClient) buildRequest(req *ChatRequest) (openai.ChatCompletionRequest, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Stream:      true,
		Temperature: req.Temperature,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}

	if req.System != "" {
		chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, msg := range req.Messages {
		converted, err := convertMessage(msg)
		if err != nil {
			return openai.ChatCompletionRequest{}, err
		}
		chatReq.Messages = append(chatReq.Messages, converted)
	}

	for _, tool := range req.Tools {
		var params map[string]any
		if err := json.Unmarshal(tool.Schema, &params); err != nil {
			return openai.ChatCompletionRequest{}, fmt.Errorf("tool %s schema: %w", tool.Name, err)
		}
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}
	return chatReq, nil
}

func convertMessage(msg models.Message) (openai.ChatCompletionMessage, error) {
	switch msg.Role {
	case models.RoleUser:
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.Content}, nil
	case models.RoleAssistant:
		converted := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content}
		for _, tc := range msg.ToolCalls {
			converted.ToolCalls = append(converted.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		return converted, nil
	case models.RoleTool:
		return openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    msg.Content,
			Name:       msg.Name,
			ToolCallID: msg.ToolCallID,
		}, nil
	case models.RoleSystem:
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: msg.Content}, nil
	default:
		return openai.ChatCompletionMessage{}, fmt.Errorf("unsupported message role %q", msg.Role)
	}
}

func (c *OpenAIClient) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *Chunk, model string) {
	defer close(chunks)
	defer stream.Close()

	// Tool-call fragments arrive interleaved by index and are
	// assembled here until the stream ends.
	toolCalls := make(map[int]*models.ToolCall)
	toolArgs := make(map[int]string)
	var inputTokens, outputTokens int

	flushToolCalls := func() {
		indices := make([]int, 0, len(toolCalls))
		for i := range toolCalls {
			indices = append(indices, i)
		}
		// Stream index order, not map order, so calls reach the
		// agent in the order the model issued them.
		sort.Ints(indices)
		for _, i := range indices {
			tc := toolCalls[i]
			if tc.ID == "" || tc.Name == "" {
				continue
			}
			tc.Arguments = json.RawMessage(toolArgs[i])
			chunks <- &Chunk{ToolCall: tc}
		}
	}

	for {
		select {
		case <-ctx.Done():
			chunks <- &Chunk{Err: ctx.Err(), Done: true}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flushToolCalls()
				chunks <- &Chunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
				return
			}
			chunks <- &Chunk{Err: WrapError(c.name, model, err), Done: true}
			return
		}

		if response.Usage != nil {
			inputTokens = response.Usage.PromptTokens
			outputTokens = response.Usage.CompletionTokens
		}
		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta

		if delta.Content != "" {
			chunks <- &Chunk{Text: delta.Content}
		}
		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &models.ToolCall{}
			}
			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolArgs[index] += tc.Function.Arguments
			}
		}
	}
}
