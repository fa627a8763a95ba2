// Package logger provides structured logging for Mnemo.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"
)

// Level represents logging levels.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLevel parses a level string. Unknown strings map to InfoLevel.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Config holds logger configuration.
type Config struct {
	Level  Level
	Format string // "json" or "text"
	Output string // "stdout", "stderr", or file path
}

// Logger is the interface for structured logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)

	With(args ...any) Logger
	SetLevel(level Level)

	// Close releases resources held by the logger (file handles).
	Close() error
}

// SlogLogger is a Logger implementation backed by log/slog.
type SlogLogger struct {
	logger *slog.Logger
	level  *slog.LevelVar
	closer io.Closer
}

// New creates a new Logger with the given configuration.
func New(cfg *Config) Logger {
	if cfg == nil {
		cfg = &Config{Level: InfoLevel, Format: "json", Output: "stdout"}
	}

	levelVar := &slog.LevelVar{}
	levelVar.Set(slogLevel(cfg.Level))

	writer, closer := openOutput(cfg.Output)

	opts := &slog.HandlerOptions{Level: levelVar}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(writer, opts)
	} else {
		handler = slog.NewJSONHandler(writer, opts)
	}

	return &SlogLogger{
		logger: slog.New(handler),
		level:  levelVar,
		closer: closer,
	}
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return &SlogLogger{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		level:  &slog.LevelVar{},
	}
}

// openOutput resolves an output spec to a writer. The closer is nil for
// stdout/stderr.
func openOutput(output string) (io.Writer, io.Closer) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return os.Stdout, nil
		}
		return f, f
	}
}

func slogLevel(l Level) slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *SlogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *SlogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *SlogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *SlogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

// DebugContext logs a debug message enriched with trace context.
func (l *SlogLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.logger.DebugContext(ctx, msg, appendTraceFields(ctx, args...)...)
}

// InfoContext logs an info message enriched with trace context.
func (l *SlogLogger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.logger.InfoContext(ctx, msg, appendTraceFields(ctx, args...)...)
}

// WarnContext logs a warning message enriched with trace context.
func (l *SlogLogger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.logger.WarnContext(ctx, msg, appendTraceFields(ctx, args...)...)
}

// ErrorContext logs an error message enriched with trace context.
func (l *SlogLogger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.logger.ErrorContext(ctx, msg, appendTraceFields(ctx, args...)...)
}

// With returns a new Logger carrying the given attributes.
func (l *SlogLogger) With(args ...any) Logger {
	return &SlogLogger{
		logger: l.logger.With(args...),
		level:  l.level,
		closer: nil, // derived loggers don't own the closer
	}
}

// SetLevel dynamically changes the logging level.
func (l *SlogLogger) SetLevel(level Level) {
	l.level.Set(slogLevel(level))
}

// Close flushes and closes file-backed output.
func (l *SlogLogger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// appendTraceFields attaches trace_id/span_id when the context carries a
// valid span.
func appendTraceFields(ctx context.Context, args ...any) []any {
	if ctx == nil {
		return args
	}
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return args
	}
	return append(args,
		"trace_id", spanCtx.TraceID().String(),
		"span_id", spanCtx.SpanID().String(),
	)
}
