// Package observability provides structured logging and Prometheus metrics
// for the finchat backend.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ContextKey is the type for context keys used in logging correlation.
type ContextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey ContextKey = "request_id"

	// UserKey is the context key for the authenticated user email.
	UserKey ContextKey = "user"
)

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string

	// Format specifies output format: "json" (production) or "text".
	Format string

	// Output is the writer for log output (defaults to os.Stdout).
	Output io.Writer
}

// Logger wraps slog with request correlation pulled from context.
type Logger struct {
	logger *slog.Logger
}

// NewLogger creates a logger from config.
func NewLogger(cfg LogConfig) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return &Logger{logger: slog.New(handler)}
}

// NopLogger returns a logger that discards everything. Used in tests.
func NopLogger() *Logger {
	return NewLogger(LogConfig{Level: "error", Output: io.Discard})
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Debug logs at debug level with context correlation.
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.logger.Debug(msg, l.withContext(ctx, args)...)
}

// Info logs at info level with context correlation.
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.logger.Info(msg, l.withContext(ctx, args)...)
}

// Warn logs at warn level with context correlation.
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.logger.Warn(msg, l.withContext(ctx, args)...)
}

// Error logs at error level with context correlation.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.logger.Error(msg, l.withContext(ctx, args)...)
}

func (l *Logger) withContext(ctx context.Context, args []any) []any {
	if ctx == nil {
		return args
	}
	if id, ok := ctx.Value(RequestIDKey).(string); ok && id != "" {
		args = append(args, "request_id", id)
	}
	if user, ok := ctx.Value(UserKey).(string); ok && user != "" {
		args = append(args, "user", user)
	}
	return args
}
