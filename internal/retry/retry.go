// Package retry provides bounded retries with exponential backoff for
// outbound HTTP calls.
//
// Every attempt runs under a fresh per-attempt timeout derived from the
// caller's context, so cancelling the caller aborts the in-flight attempt,
// not just future ones.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// AttemptTimeout bounds each individual attempt. Zero disables the
	// per-attempt timeout (the caller's deadline still applies).
	AttemptTimeout time.Duration

	// BaseDelay is the backoff before the first retry; it doubles per
	// attempt (scaled by Factor).
	BaseDelay time.Duration

	// MaxDelay caps the backoff between attempts.
	MaxDelay time.Duration

	// Factor is the backoff multiplier. Defaults to 2.
	Factor float64

	// Jitter randomizes each delay into [0.5, 1.5] of its nominal value.
	Jitter bool
}

// DefaultConfig returns the outbound-call defaults: 12s per attempt,
// 2 retries, 100ms base delay doubling per attempt.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     2,
		AttemptTimeout: 12 * time.Second,
		BaseDelay:      100 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		Factor:         2.0,
		Jitter:         true,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.Factor <= 0 {
		c.Factor = 2.0
	}
	return c
}

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps an error to indicate it should not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether an error was marked permanent.
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}

// Do executes op with retries. The function receives a context bounded by
// the per-attempt timeout; the caller's cancellation propagates into it.
// The last error is returned after retries are exhausted, unwrapped from
// any PermanentError marker.
func Do[T any](ctx context.Context, config Config, op func(ctx context.Context) (T, error)) (T, error) {
	config = config.withDefaults()

	var zero T
	var lastErr error
	delay := config.BaseDelay

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if config.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, config.AttemptTimeout)
		}
		value, err := op(attemptCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return value, nil
		}
		lastErr = err

		var permanent *PermanentError
		if errors.As(err, &permanent) {
			return zero, permanent.Err
		}
		if attempt >= config.MaxRetries {
			break
		}

		sleep := delay
		if config.Jitter {
			sleep = time.Duration(float64(delay) * (0.5 + rand.Float64())) // #nosec G404 -- jitter does not require cryptographic randomness
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(sleep):
		}

		delay = time.Duration(float64(delay) * config.Factor)
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return zero, lastErr
}

// Backoff calculates the nominal backoff for a given attempt (0-indexed).
// Exposed for callers that manage their own retry loop.
func Backoff(config Config, attempt int) time.Duration {
	config = config.withDefaults()
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(config.BaseDelay) * math.Pow(config.Factor, float64(attempt))
	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	return time.Duration(delay)
}
