package ratelimit

import (
	"time"

	"github.com/itinera-ai/itinera/internal/cache"
	"github.com/itinera-ai/itinera/internal/observability"
)

// Workflow names used across the guard layer. Each workflow carries its
// own window configuration and documented fail posture.
const (
	WorkflowAccommodationSearch = "accommodationSearch"
	WorkflowWebSearch           = "webSearch"
	WorkflowPlacesLookup        = "placesLookup"
	WorkflowMemoryUpdate        = "memoryUpdate"
)

// DefaultWorkflows returns the shipped workflow table. All workflows fail
// open on store outage: none of them guards a billable or destructive
// operation tightly enough to justify denying service during a Redis
// outage. A workflow that needs fail-closed sets FailClosed here.
func DefaultWorkflows() map[string]Config {
	return map[string]Config{
		WorkflowAccommodationSearch: {
			Prefix: WorkflowAccommodationSearch,
			Limit:  20,
			Window: time.Minute,
		},
		WorkflowWebSearch: {
			Prefix: WorkflowWebSearch,
			Limit:  30,
			Window: time.Minute,
		},
		WorkflowPlacesLookup: {
			Prefix: WorkflowPlacesLookup,
			Limit:  60,
			Window: time.Minute,
		},
		WorkflowMemoryUpdate: {
			Prefix: WorkflowMemoryUpdate,
			Limit:  40,
			Window: time.Minute,
		},
	}
}

// Registry holds one limiter per workflow.
type Registry struct {
	limiters map[string]*Limiter
}

// NewRegistry builds limiters for every configured workflow over a shared
// store.
func NewRegistry(workflows map[string]Config, store cache.Store, logger *observability.Logger, metrics *observability.Metrics) *Registry {
	limiters := make(map[string]*Limiter, len(workflows))
	for name, cfg := range workflows {
		if cfg.Prefix == "" {
			cfg.Prefix = name
		}
		limiters[name] = NewLimiter(cfg, store, logger, metrics)
	}
	return &Registry{limiters: limiters}
}

// Limiter returns the limiter for a workflow, or nil if the workflow is
// not configured (callers treat nil as unlimited).
func (r *Registry) Limiter(workflow string) *Limiter {
	if r == nil {
		return nil
	}
	return r.limiters[workflow]
}
