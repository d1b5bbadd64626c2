// Package agent runs streaming travel-planning conversations: it
// resolves the LLM backend once per run, wraps every tool in the
// guardrail pipeline, clamps the completion budget, and loops on
// model-requested tool calls until the model answers in plain text.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/itinera-ai/itinera/internal/cache"
	"github.com/itinera-ai/itinera/internal/guard"
	"github.com/itinera-ai/itinera/internal/models"
	"github.com/itinera-ai/itinera/internal/observability"
	"github.com/itinera-ai/itinera/internal/providers"
	"github.com/itinera-ai/itinera/internal/tools/memory"
)

const (
	defaultMaxToolRounds = 5
	defaultDesiredTokens = 2048

	// maxToolCallsPerRound bounds one round's fanout.
	maxToolCallsPerRound = 16

	// maxResponseBytes caps accumulated response text.
	maxResponseBytes = 1 << 20
)

// Config configures a Runner.
type Config struct {
	// SystemPrompt is the base system prompt; traveler memory facts
	// are appended per run.
	SystemPrompt string `yaml:"system_prompt"`

	// MaxToolRounds bounds how many completion/tool-execution cycles
	// one run may take.
	MaxToolRounds int `yaml:"max_tool_rounds"`

	// DesiredMaxTokens is the completion budget before clamping.
	DesiredMaxTokens int `yaml:"desired_max_tokens"`
}

// RunRequest describes one conversation turn.
type RunRequest struct {
	UserID    string
	RequestID string

	// Model is the requested model, possibly empty.
	Model string

	Messages []models.Message
	Tools    []guard.Handle
}

// Event is one increment of a run, streamed to the transport layer.
type Event struct {
	// Text is partial assistant text.
	Text string `json:"text,omitempty"`

	// ToolCall reports that the model requested a tool.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// ToolResult reports a completed tool execution.
	ToolResult *ToolResult `json:"tool_result,omitempty"`

	// Done closes the run. Provider, Model, and token counts are set
	// on the final event.
	Done         bool   `json:"done,omitempty"`
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`

	// Err terminates the run; it is always on the last event.
	Err error `json:"-"`
}

// ToolResult is the outcome of one guarded tool execution.
type ToolResult struct {
	CallID  string          `json:"call_id"`
	Name    string          `json:"name"`
	Content json.RawMessage `json:"content,omitempty"`

	// ErrorCode is set when the tool failed; Content then carries the
	// taxonomy error as JSON so the model can react to it.
	ErrorCode string `json:"error_code,omitempty"`
}

// Resolver selects the LLM backend for a run. *providers.Resolver is
// the production implementation.
type Resolver interface {
	Resolve(ctx context.Context, userID, requestedModel string) (*providers.Resolution, error)
}

// Runner executes agent runs.
type Runner struct {
	config   Config
	resolver Resolver
	pipeline *guard.Pipeline
	catalog  *models.Catalog
	store    cache.Store
	logger   *observability.Logger
	tracer   *observability.Tracer
	metrics  *observability.Metrics
}

func NewRunner(config Config, resolver Resolver, pipeline *guard.Pipeline, catalog *models.Catalog, store cache.Store, logger *observability.Logger, tracer *observability.Tracer, metrics *observability.Metrics) *Runner {
	if config.MaxToolRounds <= 0 {
		config.MaxToolRounds = defaultMaxToolRounds
	}
	if config.DesiredMaxTokens <= 0 {
		config.DesiredMaxTokens = defaultDesiredTokens
	}
	return &Runner{
		config:   config,
		resolver: resolver,
		pipeline: pipeline,
		catalog:  catalog,
		store:    store,
		logger:   logger,
		tracer:   tracer,
		metrics:  metrics,
	}
}

// Run resolves a backend and streams one conversation turn. Resolution
// happens before the channel is returned, so a missing provider key
// surfaces as a synchronous error.
func (r *Runner) Run(ctx context.Context, req RunRequest) (<-chan Event, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	resolution, err := r.resolver.Resolve(ctx, req.UserID, req.Model)
	if err != nil {
		return nil, err
	}

	events := make(chan Event)
	go r.run(ctx, req, resolution, events)
	return events, nil
}

func (r *Runner) run(ctx context.Context, req RunRequest, resolution *providers.Resolution, events chan<- Event) {
	defer close(events)

	ctx, span := r.tracer.Start(ctx, "agent.run")
	defer span.End()

	system := r.systemPrompt(ctx, req.UserID)
	specs, err := toolSpecs(req.Tools)
	if err != nil {
		events <- Event{Err: err, Done: true}
		return
	}
	handles := make(map[string]guard.Handle, len(req.Tools))
	for _, handle := range req.Tools {
		handles[handle.Name()] = handle
	}

	messages := append([]models.Message(nil), req.Messages...)
	var totalIn, totalOut int

	for round := 0; round < r.config.MaxToolRounds; round++ {
		budget := models.ClampMaxTokens(r.catalog, resolution.Model, withSystem(system, messages), r.config.DesiredMaxTokens)

		chatReq := &providers.ChatRequest{
			Model:     resolution.Model,
			System:    system,
			Messages:  messages,
			Tools:     specs,
			MaxTokens: budget,
		}

		start := time.Now()
		chunks, err := resolution.Client.Complete(ctx, chatReq)
		if err != nil {
			r.observeLLM(resolution, start, "error")
			events <- Event{Err: err, Done: true}
			return
		}

		var text strings.Builder
		var toolCalls []models.ToolCall
		failed := false

		for chunk := range chunks {
			switch {
			case chunk.Err != nil:
				r.observeLLM(resolution, start, "error")
				events <- Event{Err: chunk.Err, Done: true}
				failed = true
			case chunk.Text != "":
				if text.Len()+len(chunk.Text) > maxResponseBytes {
					events <- Event{Err: fmt.Errorf("response exceeds %d bytes", maxResponseBytes), Done: true}
					failed = true
					break
				}
				text.WriteString(chunk.Text)
				events <- Event{Text: chunk.Text}
			case chunk.ToolCall != nil:
				if len(toolCalls) >= maxToolCallsPerRound {
					events <- Event{Err: fmt.Errorf("too many tool calls in one round (max %d)", maxToolCallsPerRound), Done: true}
					failed = true
					break
				}
				toolCalls = append(toolCalls, *chunk.ToolCall)
				events <- Event{ToolCall: chunk.ToolCall}
			case chunk.Done:
				totalIn += chunk.InputTokens
				totalOut += chunk.OutputTokens
			}
			if failed {
				// Drain the remainder so the producer can close.
				for range chunks {
				}
				return
			}
		}
		r.observeLLM(resolution, start, "success")

		if len(toolCalls) == 0 {
			events <- Event{
				Done:         true,
				Provider:     string(resolution.Provider),
				Model:        resolution.Model,
				InputTokens:  totalIn,
				OutputTokens: totalOut,
			}
			return
		}

		messages = append(messages, models.Message{
			Role:      models.RoleAssistant,
			Content:   text.String(),
			ToolCalls: toolCalls,
		})

		inv := guard.Invocation{Identifier: req.UserID, RequestID: req.RequestID}
		results := r.executeAll(ctx, handles, inv, toolCalls)
		for _, result := range results {
			events <- Event{ToolResult: result}
			messages = append(messages, models.Message{
				Role:       models.RoleTool,
				Name:       result.Name,
				Content:    string(result.Content),
				ToolCallID: result.CallID,
			})
		}
	}

	events <- Event{Err: fmt.Errorf("run exceeded %d tool rounds", r.config.MaxToolRounds), Done: true}
}

// systemPrompt appends stored traveler facts to the base prompt. A
// memory outage degrades to the base prompt with a one-time warning.
func (r *Runner) systemPrompt(ctx context.Context, userID string) string {
	prompt := r.config.SystemPrompt
	if r.store == nil || userID == "" {
		return prompt
	}

	facts, err := memory.Load(ctx, r.store, userID)
	if err != nil {
		r.logger.WarnOnce(ctx, "memory", "traveler memory unavailable, continuing without it", "error", err)
		return prompt
	}
	if len(facts) == 0 {
		return prompt
	}

	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nKnown traveler preferences:\n")
	for _, fact := range facts {
		b.WriteString("- ")
		b.WriteString(fact.Text)
		b.WriteString("\n")
	}
	return b.String()
}

func (r *Runner) observeLLM(resolution *providers.Resolution, start time.Time, status string) {
	if r.metrics == nil {
		return
	}
	provider := string(resolution.Provider)
	r.metrics.LLMRequestDuration.WithLabelValues(provider, resolution.Model).Observe(time.Since(start).Seconds())
	r.metrics.LLMRequestCounter.WithLabelValues(provider, resolution.Model, status).Inc()
}

func toolSpecs(handles []guard.Handle) ([]providers.ToolSpec, error) {
	specs := make([]providers.ToolSpec, 0, len(handles))
	for _, handle := range handles {
		schema, err := handle.Schema()
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", handle.Name(), err)
		}
		specs = append(specs, providers.ToolSpec{
			Name:        handle.Name(),
			Description: handle.Description(),
			Schema:      schema,
		})
	}
	return specs, nil
}

func withSystem(system string, messages []models.Message) []models.Message {
	if system == "" {
		return messages
	}
	return append([]models.Message{{Role: models.RoleSystem, Content: system}}, messages...)
}
