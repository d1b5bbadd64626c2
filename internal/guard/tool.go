package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// CodeSet names the taxonomy codes a tool family reports with. Tools
// that leave it zero fall back to the generic codes.
type CodeSet struct {
	InvalidParams Code
	RateLimited   Code
	Failed        Code
}

func (c CodeSet) withDefaults() CodeSet {
	if c.InvalidParams == "" {
		c.InvalidParams = CodeInvalidParams
	}
	if c.RateLimited == "" {
		c.RateLimited = CodeToolRateLimited
	}
	if c.Failed == "" {
		c.Failed = CodeToolExecutionFailed
	}
	return c
}

// CachePolicy controls response caching for a tool. A nil policy
// disables caching entirely.
type CachePolicy struct {
	// Namespace prefixes every key derived for this tool.
	Namespace string

	// Tag groups keys for bulk invalidation. Empty means the keys are
	// never versioned.
	Tag string

	// TTL bounds how long a cached response is served.
	TTL time.Duration

	// OmitFields are parameter fields excluded from key derivation,
	// for inputs that vary per call without changing the result.
	OmitFields []string
}

// Tool declares an agent-facing tool with typed parameters and result.
// The parameter schema shown to the model is reflected from P; raw
// arguments are validated against it before Run ever sees them.
type Tool[P, R any] struct {
	Name        string
	Description string

	// Workflow is the rate-limit workflow this tool draws quota from.
	// Empty means unlimited.
	Workflow string

	Codes CodeSet
	Cache *CachePolicy

	Run func(ctx context.Context, params P) (R, error)
}

// Handle is the type-erased view of a bound tool, consumed by the
// Pipeline and by provider adapters that need the schema.
type Handle interface {
	Name() string
	Description() string

	// Schema returns the JSON Schema for the tool's parameters.
	Schema() (json.RawMessage, error)

	Workflow() string
	Codes() CodeSet
	CachePolicy() *CachePolicy

	// Validate checks raw arguments against the parameter schema.
	Validate(raw json.RawMessage) error

	// Execute runs the tool with already-validated arguments and
	// returns the JSON-encoded result.
	Execute(ctx context.Context, raw json.RawMessage) (json.RawMessage, error)
}

// Bind erases a Tool's type parameters, compiling its schema lazily on
// first use.
func Bind[P, R any](tool Tool[P, R]) Handle {
	return &boundTool[P, R]{tool: tool, codes: tool.Codes.withDefaults()}
}

type boundTool[P, R any] struct {
	tool  Tool[P, R]
	codes CodeSet

	schemaOnce sync.Once
	schemaJSON json.RawMessage
	compiled   *jsonschema.Schema
	schemaErr  error
}

func (b *boundTool[P, R]) Name() string              { return b.tool.Name }
func (b *boundTool[P, R]) Description() string       { return b.tool.Description }
func (b *boundTool[P, R]) Workflow() string          { return b.tool.Workflow }
func (b *boundTool[P, R]) Codes() CodeSet            { return b.codes }
func (b *boundTool[P, R]) CachePolicy() *CachePolicy { return b.tool.Cache }

func (b *boundTool[P, R]) buildSchema() {
	b.schemaOnce.Do(func() {
		reflector := &invopop.Reflector{
			DoNotReference: true,
			ExpandedStruct: true,
		}
		var params P
		schema := reflector.Reflect(&params)
		raw, err := json.Marshal(schema)
		if err != nil {
			b.schemaErr = fmt.Errorf("reflect %s schema: %w", b.tool.Name, err)
			return
		}
		b.schemaJSON = raw

		compiled, err := jsonschema.CompileString(b.tool.Name+".schema.json", string(raw))
		if err != nil {
			b.schemaErr = fmt.Errorf("compile %s schema: %w", b.tool.Name, err)
			return
		}
		b.compiled = compiled
	})
}

func (b *boundTool[P, R]) Schema() (json.RawMessage, error) {
	b.buildSchema()
	return b.schemaJSON, b.schemaErr
}

func (b *boundTool[P, R]) Validate(raw json.RawMessage) error {
	b.buildSchema()
	if b.schemaErr != nil {
		return b.schemaErr
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return NewToolError(b.codes.InvalidParams, "arguments are not valid JSON", map[string]any{
			"cause": err.Error(),
		})
	}
	if err := b.compiled.Validate(decoded); err != nil {
		return NewToolError(b.codes.InvalidParams, "arguments do not match the tool schema", map[string]any{
			"cause": err.Error(),
		})
	}
	return nil
}

func (b *boundTool[P, R]) Execute(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var params P
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, NewToolError(b.codes.InvalidParams, "arguments do not decode into the tool's parameter type", map[string]any{
			"cause": err.Error(),
		})
	}

	result, err := b.tool.Run(ctx, params)
	if err != nil {
		return nil, Classify(err, b.codes.Failed)
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, NewToolError(b.codes.Failed, "tool result could not be encoded", map[string]any{
			"cause": err.Error(),
		})
	}
	return encoded, nil
}

// Registry holds the bound tools available to an agent run.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Handle
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Handle)}
}

// Register adds a tool. Duplicate names are a programming error.
func (r *Registry) Register(handle Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[handle.Name()]; exists {
		panic(fmt.Sprintf("guard: tool %q registered twice", handle.Name()))
	}
	r.tools[handle.Name()] = handle
}

// Get returns the tool with the given name, if registered.
func (r *Registry) Get(name string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handle, ok := r.tools[name]
	return handle, ok
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handles := make([]Handle, 0, len(r.tools))
	for _, handle := range r.tools {
		handles = append(handles, handle)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i].Name() < handles[j].Name() })
	return handles
}
