package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
)

// Logger provides structured logging with request correlation and
// sensitive data redaction.
//
// Built on Go's slog package. JSON output is intended for production,
// text for development. API keys and other secrets that end up in log
// arguments are redacted before the record is written.
type Logger struct {
	logger  *slog.Logger
	config  LogConfig
	redacts []*regexp.Regexp

	onceMu sync.Mutex
	onced  map[string]struct{}
}

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string `yaml:"level"`

	// Format specifies output format: "json" or "text".
	Format string `yaml:"format"`

	// Output is the writer for log output (defaults to os.Stdout).
	Output io.Writer `yaml:"-"`

	// AddSource includes file and line number in log records.
	AddSource bool `yaml:"add_source"`

	// RedactPatterns are additional regex patterns for sensitive data
	// redaction, on top of the built-in secret patterns.
	RedactPatterns []string `yaml:"redact_patterns"`
}

// ContextKey is the type for context keys used in logging.
type ContextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey ContextKey = "request_id"

	// UserIDKey is the context key for user IDs.
	UserIDKey ContextKey = "user_id"

	// WorkflowKey is the context key for the guard workflow name.
	WorkflowKey ContextKey = "workflow"
)

// DefaultRedactPatterns contains regex patterns for common sensitive data.
var DefaultRedactPatterns = []string{
	// API keys and tokens
	`(?i)(api[_-]?key|apikey)[\s:=]+["\']?([a-zA-Z0-9_\-]{16,})["\']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["\']?([^\s"']{8,})["\']?`,

	// Anthropic API keys
	`sk-ant-[a-zA-Z0-9_-]{95,}`,

	// OpenAI / xAI / OpenRouter style keys
	`sk-[a-zA-Z0-9]{48,}`,
	`sk-or-[a-zA-Z0-9_-]{32,}`,
	`xai-[a-zA-Z0-9]{32,}`,

	// Generic hex secrets (32+ chars)
	`(?i)(secret|key|token)[\s:=]+["\']?([a-fA-F0-9]{32,})["\']?`,
}

// NewLogger creates a new structured logger with the given configuration.
//
// If config.Output is nil, logs are written to os.Stdout.
// If config.Level is empty or invalid, defaults to "info".
// If config.Format is empty, defaults to "json".
func NewLogger(config LogConfig) *Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Level == "" {
		config.Level = "info"
	}
	if config.Format == "" {
		config.Format = "json"
	}

	var level slog.Level
	switch strings.ToLower(config.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if config.Format == "json" {
		handler = slog.NewJSONHandler(config.Output, opts)
	} else {
		handler = slog.NewTextHandler(config.Output, opts)
	}

	redacts := make([]*regexp.Regexp, 0)
	allPatterns := append(append([]string{}, DefaultRedactPatterns...), config.RedactPatterns...)
	for _, pattern := range allPatterns {
		if re, err := regexp.Compile(pattern); err == nil {
			redacts = append(redacts, re)
		}
	}

	return &Logger{
		logger:  slog.New(handler),
		config:  config,
		redacts: redacts,
		onced:   make(map[string]struct{}),
	}
}

// NewNopLogger returns a logger that discards all output. Useful in tests.
func NewNopLogger() *Logger {
	return NewLogger(LogConfig{Output: io.Discard})
}

// Redact removes sensitive data from a string using the configured patterns.
func (l *Logger) Redact(s string) string {
	for _, re := range l.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// redactArgs applies redaction to every string-valued log argument.
func (l *Logger) redactArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		if s, ok := a.(string); ok && i%2 == 1 {
			out[i] = l.Redact(s)
			continue
		}
		out[i] = a
	}
	return out
}

// contextAttrs extracts well-known correlation fields from the context.
func (l *Logger) contextAttrs(ctx context.Context) []any {
	var attrs []any
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		attrs = append(attrs, slog.String("request_id", requestID))
	}
	if userID, ok := ctx.Value(UserIDKey).(string); ok && userID != "" {
		attrs = append(attrs, slog.String("user_id", userID))
	}
	if workflow, ok := ctx.Value(WorkflowKey).(string); ok && workflow != "" {
		attrs = append(attrs, slog.String("workflow", workflow))
	}
	return attrs
}

// Debug logs at debug level with context correlation fields.
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.logger.DebugContext(ctx, msg, append(l.redactArgs(args), l.contextAttrs(ctx)...)...)
}

// Info logs at info level with context correlation fields.
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.logger.InfoContext(ctx, msg, append(l.redactArgs(args), l.contextAttrs(ctx)...)...)
}

// Warn logs at warn level with context correlation fields.
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.logger.WarnContext(ctx, msg, append(l.redactArgs(args), l.contextAttrs(ctx)...)...)
}

// Error logs at error level with context correlation fields.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.logger.ErrorContext(ctx, msg, append(l.redactArgs(args), l.contextAttrs(ctx)...)...)
}

// WarnOnce logs a warning at most once per feature key for the lifetime of
// the logger. Used for degraded-dependency warnings (cache or limiter store
// outage) so a flapping backend does not flood the logs.
func (l *Logger) WarnOnce(ctx context.Context, feature, msg string, args ...any) {
	l.onceMu.Lock()
	if _, seen := l.onced[feature]; seen {
		l.onceMu.Unlock()
		return
	}
	l.onced[feature] = struct{}{}
	l.onceMu.Unlock()

	l.Warn(ctx, msg, append(args, slog.String("feature", feature))...)
}

// Slog exposes the underlying slog.Logger for packages that want a plain handle.
func (l *Logger) Slog() *slog.Logger {
	return l.logger
}
