// Package cache provides the shared key/value store backing tool-result
// caching, tag version counters, and rate limiter windows.
//
// Two implementations exist: a Redis-backed store for production (counters
// are shared across processes) and an in-memory store for tests and local
// development. Callers treat store failures as a degraded mode, not an
// error: every consumer in this repository fails open when the store is
// unreachable.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indicates the backing store could not be reached.
// Consumers use it to distinguish outages from ordinary misses.
var ErrUnavailable = errors.New("cache store unavailable")

// Store is the minimal contract the guard layer needs from a shared store.
//
// Incr must be atomic at the store level: concurrent increments from
// different processes must not lose updates. Set is last-write-wins, which
// is acceptable because cached values are deterministic functions of their
// key.
type Store interface {
	// Get returns the value for key. The second return is false on a miss.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key with the given TTL. A zero TTL means
	// no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Incr atomically increments the integer value at key by one and
	// returns the new value. A missing key counts from zero. When ttl is
	// positive and the increment created the key, the key expires after
	// ttl.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Delete removes a key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
}

// Swapper is an optional Store capability for atomic read-modify-write.
// Both stores in this package implement it; callers doing concurrent
// updates to one key type-assert for it and fall back to best-effort
// serialization when absent.
type Swapper interface {
	// CompareAndSwap stores value under key only while the current
	// value still equals expect. An empty expect requires the key to be
	// absent. The first return reports whether the swap happened.
	CompareAndSwap(ctx context.Context, key, expect, value string, ttl time.Duration) (bool, error)
}
