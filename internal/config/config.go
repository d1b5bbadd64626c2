// Package config loads the itinera service configuration from YAML.
// Environment variables referenced as ${VAR} are expanded before
// parsing, so secrets stay out of the file itself.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/itinera-ai/itinera/internal/agent"
	"github.com/itinera-ai/itinera/internal/cache"
	"github.com/itinera-ai/itinera/internal/observability"
	"github.com/itinera-ai/itinera/internal/ratelimit"
	"github.com/itinera-ai/itinera/internal/tools/accommodations"
	"github.com/itinera-ai/itinera/internal/tools/places"
	"github.com/itinera-ai/itinera/internal/tools/websearch"
)

// Config is the root configuration for the itinera service.
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Redis     cache.RedisConfig         `yaml:"redis"`
	Logging   observability.LogConfig   `yaml:"logging"`
	Tracing   observability.TraceConfig `yaml:"tracing"`
	Providers ProvidersConfig           `yaml:"providers"`
	Agent     agent.Config              `yaml:"agent"`
	Tools     ToolsConfig               `yaml:"tools"`

	// Workflows overrides the built-in per-workflow rate limits.
	// Unknown workflow names are rejected at load time.
	Workflows map[string]ratelimit.Config `yaml:"workflows"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// ReadTimeout and WriteTimeout apply to the HTTP server. The
	// write timeout must cover an entire streamed run.
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// ProvidersConfig configures model provider resolution. Per-user keys
// come from the key store at runtime; only the shared gateway
// credentials live in configuration.
type ProvidersConfig struct {
	Gateway GatewayConfig `yaml:"gateway"`

	// DefaultModels overrides the built-in per-provider default,
	// keyed by provider name ("openai", "anthropic", "xai").
	DefaultModels map[string]string `yaml:"default_models"`
}

type GatewayConfig struct {
	APIKey  string `yaml:"api_key"`
	Referer string `yaml:"referer"`
	Title   string `yaml:"title"`
	Model   string `yaml:"model"`
}

type ToolsConfig struct {
	Accommodations accommodations.Config `yaml:"accommodations"`
	WebSearch      websearch.Config      `yaml:"websearch"`
	Places         places.Config         `yaml:"places"`
}

// Load reads, expands, and parses the configuration file. Unknown
// fields are rejected so typos fail at startup instead of silently
// falling back to defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse decodes an already-expanded YAML document.
func Parse(data []byte) (*Config, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var cfg Config
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 5 * time.Minute
	}
	if cfg.Server.ShutdownGrace == 0 {
		cfg.Server.ShutdownGrace = 10 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "itinera"
	}
}

func validate(cfg *Config) error {
	known := ratelimit.DefaultWorkflows()
	for name := range cfg.Workflows {
		if _, ok := known[name]; !ok {
			return fmt.Errorf("unknown workflow %q in workflows section", name)
		}
	}
	for name, wf := range cfg.Workflows {
		if wf.Limit < 0 {
			return fmt.Errorf("workflow %q: limit must not be negative", name)
		}
		if wf.Window < 0 {
			return fmt.Errorf("workflow %q: window must not be negative", name)
		}
	}
	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level %q", cfg.Logging.Level)
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	return nil
}

// WorkflowConfigs merges file overrides onto the built-in workflow
// limits. Overrides replace the whole entry for that workflow.
func (c *Config) WorkflowConfigs() map[string]ratelimit.Config {
	merged := ratelimit.DefaultWorkflows()
	for name, wf := range c.Workflows {
		if wf.Prefix == "" {
			wf.Prefix = name
		}
		merged[name] = wf
	}
	return merged
}
