// Package httpx is the shared outbound HTTP client for domain tools:
// JSON request/response handling, bounded retries, and a circuit
// breaker per upstream so a failing API degrades fast instead of
// holding agent runs open.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/itinera-ai/itinera/internal/observability"
	"github.com/itinera-ai/itinera/internal/retry"
)

// ErrCircuitOpen is returned while the upstream's breaker is open.
var ErrCircuitOpen = errors.New("upstream circuit open")

// StatusError carries a non-2xx upstream response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.Body)
}

// Config configures a Client.
type Config struct {
	// Name labels the upstream in logs and breaker state.
	Name string

	// Timeout bounds the whole exchange including body read. Defaults
	// to 15s.
	Timeout time.Duration

	// Retry controls the retry schedule. Zero value uses defaults.
	Retry retry.Config

	// BreakerThreshold is the consecutive-failure count that opens
	// the circuit. Defaults to 5.
	BreakerThreshold uint32

	// BreakerCooldown is how long the circuit stays open before a
	// trial request. Defaults to 30s.
	BreakerCooldown time.Duration
}

// Client issues JSON requests to one upstream API.
type Client struct {
	name    string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	retry   retry.Config
	logger  *observability.Logger
}

func NewClient(config Config, logger *observability.Logger) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.BreakerThreshold == 0 {
		config.BreakerThreshold = 5
	}
	if config.BreakerCooldown <= 0 {
		config.BreakerCooldown = 30 * time.Second
	}
	if config.Retry.MaxRetries == 0 && config.Retry.BaseDelay == 0 {
		config.Retry = retry.DefaultConfig()
		config.Retry.AttemptTimeout = config.Timeout
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    config.Name,
		Timeout: config.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.BreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "upstream circuit state changed",
				"upstream", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		name:    config.Name,
		http:    &http.Client{Timeout: config.Timeout},
		breaker: breaker,
		retry:   config.Retry,
		logger:  logger,
	}
}

// GetJSON issues a GET and decodes the 2xx response body into out.
func (c *Client) GetJSON(ctx context.Context, url string, headers map[string]string, out any) error {
	return c.DoJSON(ctx, http.MethodGet, url, nil, headers, out)
}

// DoJSON issues a request with an optional JSON body and decodes the
// 2xx response into out. Responses with status 408, 429, and 5xx are
// retried; other failures return immediately. Every attempt passes
// through the circuit breaker.
func (c *Client) DoJSON(ctx context.Context, method, url string, body any, headers map[string]string, out any) error {
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
	}

	raw, err := retry.Do(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		result, err := c.breaker.Execute(func() (any, error) {
			return c.attempt(ctx, method, url, encoded, headers)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return nil, retry.Permanent(fmt.Errorf("%w: %s", ErrCircuitOpen, c.name))
			}
			var se *StatusError
			if errors.As(err, &se) && !retryableStatus(se.Status) {
				return nil, retry.Permanent(err)
			}
			return nil, err
		}
		return result.([]byte), nil
	})
	if err != nil {
		return err
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode %s response: %w", c.name, err)
		}
	}
	return nil
}

func (c *Client) attempt(ctx context.Context, method, url string, body []byte, headers map[string]string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Status: resp.StatusCode, Body: truncate(string(raw), 512)}
	}
	return raw, nil
}

func retryableStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= 500
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
