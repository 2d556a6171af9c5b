// Package logging provides the structured logger shared by the cache layers.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Level represents a minimum logging level.
type Level int

// Logging levels, lowest first.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// String returns the lower-case level name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// ParseLevel parses a level name. Unknown names yield LevelInfo and an error.
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// Config holds configuration for the logger.
type Config struct {
	// Level sets the minimum level that is emitted.
	Level Level
	// Output receives log lines. Defaults to os.Stderr.
	Output io.Writer
	// EnableCallerInfo includes file and line number in logs.
	EnableCallerInfo bool
}

// DefaultConfig returns info-level logging to stderr.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Output: os.Stderr}
}

// Logger provides structured logging. A nil *Logger and the no-op logger
// both discard everything, so components never need nil checks.
type Logger struct {
	logger *slog.Logger
}

// NewLogger creates a text logger with the given configuration.
func NewLogger(config Config) *Logger {
	out := config.Output
	if out == nil {
		out = os.Stderr
	}
	handler := slog.NewTextHandler(out, &slog.HandlerOptions{
		Level:     config.Level.slogLevel(),
		AddSource: config.EnableCallerInfo,
	})
	return &Logger{logger: slog.New(handler)}
}

// New wraps an existing slog.Logger.
func New(logger *slog.Logger) *Logger {
	if logger == nil {
		return NewNop()
	}
	return &Logger{logger: logger}
}

// NewNop creates a logger that discards all messages.
func NewNop() *Logger {
	return &Logger{}
}

func (l *Logger) enabled() bool {
	return l != nil && l.logger != nil
}

// Debug logs debug-level messages.
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	if l.enabled() {
		l.logger.DebugContext(ctx, msg, args...)
	}
}

// Info logs info-level messages.
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	if l.enabled() {
		l.logger.InfoContext(ctx, msg, args...)
	}
}

// Warn logs warning-level messages.
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	if l.enabled() {
		l.logger.WarnContext(ctx, msg, args...)
	}
}

// Error logs error-level messages.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	if l.enabled() {
		l.logger.ErrorContext(ctx, msg, args...)
	}
}

// With returns a logger with additional fields.
func (l *Logger) With(args ...any) *Logger {
	if !l.enabled() {
		return l
	}
	return &Logger{logger: l.logger.With(args...)}
}

// WithOperation returns a logger with operation context.
func (l *Logger) WithOperation(op Operation) *Logger {
	return l.With("operation", string(op))
}

// WithKey returns a logger with cache key context.
func (l *Logger) WithKey(key string) *Logger {
	return l.With("key", key)
}

// Operation names a cache operation for logging and metrics.
type Operation string

// Cache operations.
const (
	OpMemoryGet    Operation = "memory_get"
	OpMemorySet    Operation = "memory_set"
	OpMemoryEvict  Operation = "memory_evict"
	OpDiskGet      Operation = "disk_get"
	OpDiskEdit     Operation = "disk_edit"
	OpDiskCommit   Operation = "disk_commit"
	OpDiskAbort    Operation = "disk_abort"
	OpDiskRemove   Operation = "disk_remove"
	OpDiskEvict    Operation = "disk_evict"
	OpNetworkFetch Operation = "network_fetch"
	OpRevalidate   Operation = "revalidate"
)

// LogOperation logs a completed operation with its duration.
func LogOperation(ctx context.Context, logger *Logger, op Operation, duration time.Duration, success bool, size int64, err error) {
	if !logger.enabled() {
		return
	}

	fields := []any{
		"operation", string(op),
		"duration_ms", duration.Milliseconds(),
		"success", success,
	}
	if size > 0 {
		fields = append(fields, "size", size)
	}
	if err != nil {
		fields = append(fields, "error", err.Error())
	}

	if success {
		logger.Debug(ctx, "cache operation completed", fields...)
	} else {
		logger.Warn(ctx, "cache operation failed", fields...)
	}
}

// LogHit logs a cache hit.
func LogHit(ctx context.Context, logger *Logger, op Operation, size int64) {
	logger.Debug(ctx, "cache hit", "operation", string(op), "size", size, "result", "hit")
}

// LogMiss logs a cache miss.
func LogMiss(ctx context.Context, logger *Logger, op Operation, reason string) {
	logger.Debug(ctx, "cache miss", "operation", string(op), "reason", reason, "result", "miss")
}

// LogEviction logs an eviction.
func LogEviction(ctx context.Context, logger *Logger, op Operation, key string, size int64, reason string) {
	logger.Debug(ctx, "cache entry evicted", "operation", string(op), "key", key, "size", size, "reason", reason)
}
