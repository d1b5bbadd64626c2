// Package server exposes the HTTP API: streamed chat runs, cache tag
// invalidation, health, and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/itinera-ai/itinera/internal/agent"
	"github.com/itinera-ai/itinera/internal/cache"
	"github.com/itinera-ai/itinera/internal/guard"
	"github.com/itinera-ai/itinera/internal/observability"
	"github.com/itinera-ai/itinera/internal/providers"
)

// Config controls the HTTP listener.
type Config struct {
	Host          string
	Port          int
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	ShutdownGrace time.Duration
}

// Runner abstracts the agent loop for the chat endpoint.
type Runner interface {
	Run(ctx context.Context, req agent.RunRequest) (<-chan agent.Event, error)
}

// Server is the HTTP front end.
type Server struct {
	config   Config
	runner   Runner
	tools    *guard.Registry
	store    cache.Store
	tags     *cache.TagRegistry
	keys     *providers.CacheKeyStore
	logger   *observability.Logger
	registry *prometheus.Registry

	httpServer *http.Server
}

func New(config Config, runner Runner, tools *guard.Registry, store cache.Store, tags *cache.TagRegistry, keys *providers.CacheKeyStore, logger *observability.Logger, registry *prometheus.Registry) *Server {
	if config.ShutdownGrace <= 0 {
		config.ShutdownGrace = 10 * time.Second
	}
	return &Server{
		config:   config,
		runner:   runner,
		tools:    tools,
		store:    store,
		tags:     tags,
		keys:     keys,
		logger:   logger,
		registry: registry,
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("POST /v1/cache/invalidate", s.handleInvalidate)
	mux.HandleFunc("PUT /v1/keys/{provider}", s.handlePutKey)
	mux.HandleFunc("DELETE /v1/keys/{provider}", s.handleDeleteKey)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	return s.withRequestID(mux)
}

// Start begins serving and returns once the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.httpServer = server

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(ctx, "http server error", "error", err)
		}
	}()

	s.logger.Info(ctx, "http server listening", "addr", addr)
	return nil
}

// Shutdown drains in-flight requests within the configured grace
// period.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownGrace)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// withRequestID ensures every request carries a request ID, taken from
// the X-Request-ID header when the caller supplies one.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), observability.RequestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
