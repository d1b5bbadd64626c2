// Package ratelimit provides sliding-window rate limiting over the shared
// cache store, keyed by (workflow, identifier).
//
// The window is the standard two-bucket approximation: requests are counted
// in fixed windows, and the effective count is the current window's count
// plus the previous window's count weighted by the unelapsed fraction of
// the current window. Admission is INCR-first, so concurrent callers
// sharing an identifier cannot double-admit past the cap. Correctness
// rests on the store's atomic increment, not a client-side check-then-act.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/itinera-ai/itinera/internal/cache"
	"github.com/itinera-ai/itinera/internal/observability"
)

// Config configures one workflow's limiter.
type Config struct {
	// Prefix is the store key prefix, typically the workflow name
	// (e.g. "accommodationSearch"). Keys are "{Prefix}:{identifier}:{window}".
	Prefix string `yaml:"prefix"`

	// Limit is the maximum number of admitted requests per window.
	Limit int `yaml:"limit"`

	// Window is the sliding window duration.
	Window time.Duration `yaml:"window"`

	// FailClosed denies requests when the store is unreachable. The
	// default (false) fails open: availability is preferred over strict
	// quota enforcement for non-critical workflows.
	FailClosed bool `yaml:"fail_closed"`
}

// Result is the outcome of one admission check. Produced fresh per call.
type Result struct {
	// Success is true when the request is admitted.
	Success bool `json:"success"`

	// Limit is the configured cap for the window.
	Limit int `json:"limit"`

	// Remaining is the number of requests left in the current window.
	Remaining int `json:"remaining"`

	// ResetAt is when the current window rolls over, in epoch milliseconds.
	ResetAt int64 `json:"reset_at_epoch_ms"`
}

// Limiter is a sliding-window limiter for a single workflow.
type Limiter struct {
	config  Config
	store   cache.Store
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewLimiter creates a limiter over the given store. A nil store behaves
// per the configured fail posture on every call.
func NewLimiter(config Config, store cache.Store, logger *observability.Logger, metrics *observability.Metrics) *Limiter {
	if config.Limit <= 0 {
		config.Limit = 10
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Limiter{config: config, store: store, logger: logger, metrics: metrics, now: time.Now}
}

// Limit checks and consumes one unit of quota for the identifier.
func (l *Limiter) Limit(ctx context.Context, identifier string) Result {
	now := l.now()
	windowMs := l.config.Window.Milliseconds()
	currWindow := now.UnixMilli() / windowMs
	resetAt := (currWindow + 1) * windowMs

	if l.store == nil {
		return l.degraded(ctx, resetAt, nil)
	}

	currKey := l.windowKey(identifier, currWindow)
	prevKey := l.windowKey(identifier, currWindow-1)

	// Expire window counters after two windows so they are gone once no
	// longer referenced.
	count, err := l.store.Incr(ctx, currKey, 2*l.config.Window)
	if err != nil {
		return l.degraded(ctx, resetAt, err)
	}

	prevCount := int64(0)
	if val, ok, err := l.store.Get(ctx, prevKey); err != nil {
		return l.degraded(ctx, resetAt, err)
	} else if ok {
		prevCount, _ = strconv.ParseInt(val, 10, 64)
	}

	elapsed := float64(now.UnixMilli()-currWindow*windowMs) / float64(windowMs)
	weighted := float64(count) + float64(prevCount)*(1-elapsed)

	if int64(math.Ceil(weighted)) > int64(l.config.Limit) {
		l.observe("denied")
		return Result{Success: false, Limit: l.config.Limit, Remaining: 0, ResetAt: resetAt}
	}

	remaining := l.config.Limit - int(math.Ceil(weighted))
	if remaining < 0 {
		remaining = 0
	}
	l.observe("allowed")
	return Result{Success: true, Limit: l.config.Limit, Remaining: remaining, ResetAt: resetAt}
}

// degraded applies the configured fail posture during a store outage.
func (l *Limiter) degraded(ctx context.Context, resetAt int64, err error) Result {
	errStr := "store is nil"
	if err != nil {
		errStr = err.Error()
	}
	l.logger.WarnOnce(ctx, "ratelimit:"+l.config.Prefix,
		"rate limiter store unavailable",
		"workflow", l.config.Prefix,
		"posture", l.posture(),
		"error", errStr)

	if l.config.FailClosed {
		l.observe("denied")
		return Result{Success: false, Limit: l.config.Limit, Remaining: 0, ResetAt: resetAt}
	}
	l.observe("failopen")
	return Result{Success: true, Limit: l.config.Limit, Remaining: l.config.Limit, ResetAt: resetAt}
}

func (l *Limiter) observe(decision string) {
	if l.metrics != nil {
		l.metrics.RateLimitDecisions.WithLabelValues(l.config.Prefix, decision).Inc()
	}
}

func (l *Limiter) posture() string {
	if l.config.FailClosed {
		return "fail-closed"
	}
	return "fail-open"
}

func (l *Limiter) windowKey(identifier string, window int64) string {
	return fmt.Sprintf("%s:%s:%d", l.config.Prefix, identifier, window)
}
