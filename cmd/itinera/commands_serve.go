package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/itinera-ai/itinera/internal/agent"
	"github.com/itinera-ai/itinera/internal/cache"
	"github.com/itinera-ai/itinera/internal/config"
	"github.com/itinera-ai/itinera/internal/guard"
	"github.com/itinera-ai/itinera/internal/models"
	"github.com/itinera-ai/itinera/internal/observability"
	"github.com/itinera-ai/itinera/internal/providers"
	"github.com/itinera-ai/itinera/internal/ratelimit"
	"github.com/itinera-ai/itinera/internal/server"
	"github.com/itinera-ai/itinera/internal/tools/accommodations"
	"github.com/itinera-ai/itinera/internal/tools/httpx"
	"github.com/itinera-ai/itinera/internal/tools/places"
	"github.com/itinera-ai/itinera/internal/tools/websearch"
)

const defaultConfigPath = "itinera.yaml"

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the itinera HTTP server",
		Long: `Start the itinera server.

The server will:
1. Load configuration from the specified file (or itinera.yaml)
2. Connect to Redis, degrading to in-process caching if unreachable
3. Initialize the guarded tool layer and provider resolver
4. Serve the chat, cache, and key management API

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  itinera serve

  # Start with custom config
  itinera serve --config /etc/itinera/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")
	return cmd
}

func buildCheckConfigCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(configPath); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config ok")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML configuration file")
	return cmd
}

// loadConfig falls back to built-in defaults when the default config
// file is absent. An explicitly named file must exist.
func loadConfig(path string) (*config.Config, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

func runServe(ctx context.Context, cfg *config.Config, debug bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if debug {
		cfg.Logging.Level = "debug"
	}
	logger := observability.NewLogger(cfg.Logging)

	tracer, err := observability.NewTracer(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer func() {
		if err := tracer.Shutdown(context.Background()); err != nil {
			logger.Warn(ctx, "tracer shutdown error", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	store := openStore(ctx, cfg, logger)
	tags := cache.NewTagRegistry(store, logger, metrics)
	limiters := ratelimit.NewRegistry(cfg.WorkflowConfigs(), store, logger, metrics)
	pipeline := guard.NewPipeline(store, tags, limiters, logger, tracer, metrics)

	catalog := models.NewCatalog()
	keys := providers.NewCacheKeyStore(store)
	resolver := providers.NewResolver(resolverConfig(cfg), keys, catalog, logger, metrics)

	tools := buildTools(cfg, logger)
	runner := agent.NewRunner(cfg.Agent, resolver, pipeline, catalog, store, logger, tracer, metrics)

	srv := server.New(server.Config{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		ReadTimeout:   cfg.Server.ReadTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
		ShutdownGrace: cfg.Server.ShutdownGrace,
	}, runner, tools, store, tags, keys, logger, registry)

	if err := srv.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info(context.Background(), "shutting down")
	return srv.Shutdown(context.Background())
}

// openStore connects to Redis when configured. A connection failure
// degrades to an in-process store rather than refusing to start: the
// cache and limiter layers are built to fail open.
func openStore(ctx context.Context, cfg *config.Config, logger *observability.Logger) cache.Store {
	if cfg.Redis.Addr == "" {
		logger.Info(ctx, "no redis configured, using in-process store")
		return cache.NewMemoryStore()
	}

	store, err := cache.NewRedisStore(ctx, cfg.Redis)
	if err != nil {
		logger.Warn(ctx, "redis unreachable, degrading to in-process store",
			"addr", cfg.Redis.Addr, "error", err)
		return cache.NewMemoryStore()
	}
	logger.Info(ctx, "connected to redis", "addr", cfg.Redis.Addr)
	return store
}

func resolverConfig(cfg *config.Config) providers.ResolverConfig {
	defaults := make(map[models.Provider]string, len(cfg.Providers.DefaultModels))
	for name, model := range cfg.Providers.DefaultModels {
		defaults[models.Provider(name)] = model
	}
	return providers.ResolverConfig{
		GatewayAPIKey:  cfg.Providers.Gateway.APIKey,
		GatewayReferer: cfg.Providers.Gateway.Referer,
		GatewayTitle:   cfg.Providers.Gateway.Title,
		GatewayModel:   cfg.Providers.Gateway.Model,
		DefaultModels:  defaults,
	}
}

// buildTools registers every tool with upstream credentials. A tool
// without an API key is left out rather than registered broken.
func buildTools(cfg *config.Config, logger *observability.Logger) *guard.Registry {
	registry := guard.NewRegistry()

	if cfg.Tools.Accommodations.APIKey != "" {
		client := httpx.NewClient(httpx.Config{Name: "accommodations"}, logger)
		registry.Register(accommodations.NewTool(client, cfg.Tools.Accommodations))
	}
	if cfg.Tools.WebSearch.APIKey != "" {
		client := httpx.NewClient(httpx.Config{Name: "websearch"}, logger)
		registry.Register(websearch.NewTool(client, cfg.Tools.WebSearch))
	}
	if cfg.Tools.Places.APIKey != "" {
		client := httpx.NewClient(httpx.Config{Name: "places"}, logger)
		registry.Register(places.NewTool(client, cfg.Tools.Places))
	}

	return registry
}
