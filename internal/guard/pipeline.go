package guard

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/itinera-ai/itinera/internal/cache"
	"github.com/itinera-ai/itinera/internal/observability"
	"github.com/itinera-ai/itinera/internal/ratelimit"
)

// Invocation identifies one tool call within an agent run.
type Invocation struct {
	// Identifier is the rate-limit subject, normally the user ID.
	Identifier string

	// RequestID ties the call back to the originating request.
	RequestID string
}

// Pipeline wraps tool execution with validation, caching, and rate
// limiting. One pipeline is shared across all tools; per-tool policy
// lives on the Handle.
type Pipeline struct {
	store    cache.Store
	tags     *cache.TagRegistry
	limiters *ratelimit.Registry
	logger   *observability.Logger
	tracer   *observability.Tracer
	metrics  *observability.Metrics
}

func NewPipeline(store cache.Store, tags *cache.TagRegistry, limiters *ratelimit.Registry, logger *observability.Logger, tracer *observability.Tracer, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		store:    store,
		tags:     tags,
		limiters: limiters,
		logger:   logger,
		tracer:   tracer,
		metrics:  metrics,
	}
}

// Invoke runs one guarded tool call:
//
//  1. Validate raw arguments against the tool schema. Invalid input
//     fails before any cache or limiter state is touched.
//  2. On a cache hit, return the stored response. Hits do not consume
//     rate-limit quota.
//  3. On a miss, check the tool's workflow limiter. A denial carries
//     the window metadata in the error's Meta.
//  4. Execute the tool and store the response under the versioned key.
//
// Cache-store failures degrade to executing the tool; they never fail
// the call.
func (p *Pipeline) Invoke(ctx context.Context, handle Handle, inv Invocation, raw json.RawMessage) (json.RawMessage, error) {
	ctx, span := p.tracer.Start(ctx, "guard.invoke",
		trace.WithAttributes(
			attribute.String("tool.name", handle.Name()),
			attribute.String("request.id", inv.RequestID),
		))
	defer span.End()

	if err := handle.Validate(raw); err != nil {
		p.observe(handle.Name(), "invalid_params", span, err)
		return nil, err
	}

	key, cacheable := p.resolveKey(ctx, handle, raw)
	if cacheable {
		if value, ok := p.lookup(ctx, key); ok {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			p.observe(handle.Name(), "hit", span, nil)
			return json.RawMessage(value), nil
		}
	}

	if err := p.admit(ctx, handle, inv); err != nil {
		p.observe(handle.Name(), "rate_limited", span, err)
		return nil, err
	}

	start := time.Now()
	result, err := handle.Execute(ctx, raw)
	if err != nil {
		p.observe(handle.Name(), "error", span, err)
		return nil, err
	}
	if p.metrics != nil {
		p.metrics.ToolDuration.WithLabelValues(handle.Name()).Observe(time.Since(start).Seconds())
	}

	if cacheable {
		p.persist(ctx, handle, key, result)
	}
	p.observe(handle.Name(), "success", span, nil)
	return result, nil
}

// resolveKey derives the versioned cache key for the call. Returns
// false when the tool is uncacheable or key derivation fails; a
// derivation failure is logged and treated as a miss rather than
// surfaced, since the arguments already passed validation.
func (p *Pipeline) resolveKey(ctx context.Context, handle Handle, raw json.RawMessage) (string, bool) {
	policy := handle.CachePolicy()
	if policy == nil || p.store == nil {
		return "", false
	}

	key, err := CacheKey(policy.Namespace, raw, policy.OmitFields)
	if err != nil {
		p.logger.Warn(ctx, "cache key derivation failed", "tool", handle.Name(), "error", err)
		return "", false
	}
	if policy.Tag != "" && p.tags != nil {
		key = p.tags.VersionedKey(ctx, policy.Tag, key)
	}
	return key, true
}

func (p *Pipeline) lookup(ctx context.Context, key string) (string, bool) {
	value, ok, err := p.store.Get(ctx, key)
	switch {
	case err != nil:
		p.observeCache("get", "error")
		p.logger.WarnOnce(ctx, "cache", "cache read failed, executing without cache", "error", err)
		return "", false
	case !ok:
		p.observeCache("get", "miss")
		return "", false
	}
	p.observeCache("get", "ok")
	return value, true
}

func (p *Pipeline) admit(ctx context.Context, handle Handle, inv Invocation) error {
	if p.limiters == nil || handle.Workflow() == "" {
		return nil
	}
	limiter := p.limiters.Limiter(handle.Workflow())
	if limiter == nil {
		return nil
	}

	result := limiter.Limit(ctx, inv.Identifier)
	if result.Success {
		return nil
	}
	return NewToolError(handle.Codes().RateLimited, "rate limit exceeded for "+handle.Workflow(), map[string]any{
		"limit":          result.Limit,
		"remaining":      result.Remaining,
		"resetAtEpochMs": result.ResetAt,
	})
}

func (p *Pipeline) persist(ctx context.Context, handle Handle, key string, result json.RawMessage) {
	policy := handle.CachePolicy()
	if err := p.store.Set(ctx, key, string(result), policy.TTL); err != nil {
		p.observeCache("set", "error")
		p.logger.WarnOnce(ctx, "cache", "cache write failed, response not stored", "error", err)
		return
	}
	p.observeCache("set", "ok")
}

func (p *Pipeline) observeCache(op, status string) {
	if p.metrics != nil {
		p.metrics.CacheOperations.WithLabelValues(op, status).Inc()
	}
}

func (p *Pipeline) observe(tool, status string, span trace.Span, err error) {
	if p.metrics != nil {
		p.metrics.ToolInvocations.WithLabelValues(tool, status).Inc()
	}
	if err != nil {
		span.SetStatus(codes.Error, status)
		if te, ok := AsToolError(err); ok {
			span.SetAttributes(attribute.String("tool.error_code", string(te.Code)))
		}
	}
}
