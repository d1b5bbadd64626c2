// Package memory exposes traveler preference memory as an agent tool.
// Facts the model learns about a traveler (seat preferences, dietary
// needs, favorite neighborhoods) persist in the shared store and are
// folded into later runs' system prompts.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/itinera-ai/itinera/internal/cache"
	"github.com/itinera-ai/itinera/internal/guard"
	"github.com/itinera-ai/itinera/internal/ratelimit"
)

const (
	keyPrefix = "travelermem:"

	// maxFacts bounds the stored list; the oldest facts fall off.
	maxFacts = 200

	// maxSwapAttempts bounds compare-and-swap retries under contention.
	maxSwapAttempts = 5
)

// Fact is one remembered statement about a traveler.
type Fact struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Category  string    `json:"category,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Params is the model-facing parameter schema.
type Params struct {
	// Facts are short statements to remember, one per entry.
	Facts []string `json:"facts" jsonschema:"description=Short statements about the traveler to remember"`

	// Category groups the facts, e.g. dining, lodging, transport.
	Category string `json:"category,omitempty" jsonschema:"description=Optional grouping for the facts"`
}

// Response reports what was stored.
type Response struct {
	Stored int `json:"stored"`
	Total  int `json:"total"`
}

// NewTool builds the memory-update tool for one traveler. The tool is
// constructed per agent run so the traveler identity is fixed at bind
// time rather than trusted from model-supplied arguments.
func NewTool(store cache.Store, userID string) guard.Handle {
	return guard.Bind(guard.Tool[Params, Response]{
		Name:        "memory_update",
		Description: "Remember facts about the traveler for future conversations, such as preferences and constraints.",
		Workflow:    ratelimit.WorkflowMemoryUpdate,
		Codes: guard.CodeSet{
			InvalidParams: guard.CodeMemoryInvalidParams,
			RateLimited:   guard.CodeMemoryRateLimited,
			Failed:        guard.CodeMemoryUpdateFailed,
		},
		Run: func(ctx context.Context, params Params) (Response, error) {
			return update(ctx, store, userID, params)
		},
	})
}

// updateLocks serializes updates per traveler for stores without
// compare-and-swap. Process-local only.
var updateLocks sync.Map

func userLock(userID string) *sync.Mutex {
	lock, _ := updateLocks.LoadOrStore(userID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// update appends facts with a read-merge-write. The agent fans tool
// calls out concurrently, so the write must not clobber a concurrent
// append: stores with compare-and-swap get a retry loop, others are
// serialized within the process.
func update(ctx context.Context, store cache.Store, userID string, params Params) (Response, error) {
	if len(params.Facts) == 0 {
		return Response{}, guard.NewToolError(guard.CodeMemoryInvalidParams, "facts must not be empty", nil)
	}

	swapper, ok := store.(cache.Swapper)
	if !ok {
		lock := userLock(userID)
		lock.Lock()
		defer lock.Unlock()

		raw, err := rawFacts(ctx, store, userID)
		if err != nil {
			return Response{}, storeUnavailable(err)
		}
		merged, resp, err := mergeFacts(raw, params)
		if err != nil {
			return Response{}, err
		}
		if err := store.Set(ctx, keyPrefix+userID, merged, 0); err != nil {
			return Response{}, storeUnavailable(err)
		}
		return resp, nil
	}

	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		raw, err := rawFacts(ctx, store, userID)
		if err != nil {
			return Response{}, storeUnavailable(err)
		}
		merged, resp, err := mergeFacts(raw, params)
		if err != nil {
			return Response{}, err
		}
		swapped, err := swapper.CompareAndSwap(ctx, keyPrefix+userID, raw, merged, 0)
		if err != nil {
			return Response{}, storeUnavailable(err)
		}
		if swapped {
			return resp, nil
		}
	}
	return Response{}, guard.NewToolError(guard.CodeMemoryUpdateFailed, "memory update contention", nil)
}

// rawFacts returns the stored payload verbatim. A missing key is the
// empty string, which is also what CompareAndSwap expects for absence.
func rawFacts(ctx context.Context, store cache.Store, userID string) (string, error) {
	raw, ok, err := store.Get(ctx, keyPrefix+userID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return raw, nil
}

func mergeFacts(raw string, params Params) (string, Response, error) {
	var facts []Fact
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &facts); err != nil {
			return "", Response{}, guard.NewToolError(guard.CodeMemoryUpdateFailed, "memory decoding failed", map[string]any{
				"cause": err.Error(),
			})
		}
	}

	now := time.Now().UTC()
	stored := 0
	for _, text := range params.Facts {
		if text == "" {
			continue
		}
		facts = append(facts, Fact{
			ID:        uuid.NewString(),
			Text:      text,
			Category:  params.Category,
			CreatedAt: now,
		})
		stored++
	}
	if len(facts) > maxFacts {
		facts = facts[len(facts)-maxFacts:]
	}

	encoded, err := json.Marshal(facts)
	if err != nil {
		return "", Response{}, guard.NewToolError(guard.CodeMemoryUpdateFailed, "memory encoding failed", map[string]any{
			"cause": err.Error(),
		})
	}
	return string(encoded), Response{Stored: stored, Total: len(facts)}, nil
}

func storeUnavailable(err error) error {
	return guard.NewToolError(guard.CodeMemoryUpdateFailed, "memory store unavailable", map[string]any{
		"cause": err.Error(),
	})
}

// Load returns the traveler's stored facts. A missing key is an empty
// list; a store outage is an error, since silently dropping memory
// would make the agent contradict earlier conversations.
func Load(ctx context.Context, store cache.Store, userID string) ([]Fact, error) {
	value, ok, err := store.Get(ctx, keyPrefix+userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var facts []Fact
	if err := json.Unmarshal([]byte(value), &facts); err != nil {
		return nil, fmt.Errorf("decode traveler memory: %w", err)
	}
	return facts, nil
}

// Clear removes all stored facts for a traveler.
func Clear(ctx context.Context, store cache.Store, userID string) error {
	return store.Delete(ctx, keyPrefix+userID)
}
