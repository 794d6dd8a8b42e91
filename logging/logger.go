package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// LogLevel is a thin enum for user friendly level configuration decoupled from slog.
type LogLevel int

const (
	// LogLevelDebug is the debug logging level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the informational logging level.
	LogLevelInfo
	// LogLevelWarn is the warning logging level.
	LogLevelWarn
	// LogLevelError is the error logging level.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a case-insensitive level name into a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug, nil
	case "", "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	default:
		return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger defines the minimal logging interface used across the execution core.
// Arguments are alternating key/value pairs as with slog.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// Output formats accepted by LoggerConfig.Format.
const (
	FormatJSON = "json"
	FormatText = "text"
	FormatTint = "tint"
)

// LoggerConfig configures construction of a Logger.
type LoggerConfig struct {
	Level       LogLevel
	Format      string // json, text or tint
	Output      io.Writer
	AddSource   bool
	NoColor     bool // tint only
	Component   string
	RunID       string
	CustomAttrs map[string]any
}

// DefaultLoggerConfig returns a baseline JSON info level configuration.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: FormatJSON, Output: os.Stdout, CustomAttrs: map[string]any{}}
}

// NewLogger builds a Logger from a config (or defaults if nil).
func NewLogger(cfg *LoggerConfig) Logger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatText:
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: slogLevel(cfg.Level), AddSource: cfg.AddSource})
	case FormatTint:
		handler = tint.NewHandler(out, &tint.Options{
			Level:      slogLevel(cfg.Level),
			AddSource:  cfg.AddSource,
			TimeFormat: time.Kitchen,
			NoColor:    cfg.NoColor,
		})
	default:
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slogLevel(cfg.Level), AddSource: cfg.AddSource})
	}

	l := slog.New(handler)
	if cfg.Component != "" {
		l = l.With("component", cfg.Component)
	}
	if cfg.RunID != "" {
		l = l.With("run_id", cfg.RunID)
	}
	for k, v := range cfg.CustomAttrs {
		l = l.With(k, v)
	}
	return NewSlogAdapter(l)
}

// NewConsoleLogger returns a colored human readable logger writing to stderr.
func NewConsoleLogger(level LogLevel) Logger {
	return NewLogger(&LoggerConfig{Level: level, Format: FormatTint, Output: os.Stderr})
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelInfo:
		return slog.LevelInfo
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a logger that attaches args to every entry. Loggers that are
// not slog backed are wrapped so the attributes are still prepended.
func With(l Logger, args ...any) Logger {
	if l == nil {
		return NoOpLogger{}
	}
	switch v := l.(type) {
	case NoOpLogger:
		return v
	case *SlogAdapter:
		return &SlogAdapter{Logger: v.Logger.With(args...)}
	default:
		return &withLogger{next: l, args: args}
	}
}

type withLogger struct {
	next Logger
	args []any
}

func (w *withLogger) merge(args []any) []any {
	out := make([]any, 0, len(w.args)+len(args))
	out = append(out, w.args...)
	return append(out, args...)
}

func (w *withLogger) Debug(msg string, args ...any) { w.next.Debug(msg, w.merge(args)...) }
func (w *withLogger) Info(msg string, args ...any)  { w.next.Info(msg, w.merge(args)...) }
func (w *withLogger) Warn(msg string, args ...any)  { w.next.Warn(msg, w.merge(args)...) }
func (w *withLogger) Error(msg string, args ...any) { w.next.Error(msg, w.merge(args)...) }

// LogFunctionCall records execution details for a function invocation.
func LogFunctionCall(l Logger, name string, dur time.Duration, err error) {
	if err != nil {
		l.Error("scheduler.function.failed", "function", name, "duration", dur, "error", err)
		return
	}
	l.Debug("scheduler.function.executed", "function", name, "duration", dur)
}

// LogModelCall records model call latency and outcome.
func LogModelCall(l Logger, iteration int, dur time.Duration, calls int, err error) {
	if err != nil {
		l.Error("engine.model.failed", "iteration", iteration, "duration", dur, "error", err)
		return
	}
	l.Debug("engine.model.completed", "iteration", iteration, "duration", dur, "calls", calls)
}

// StartTimer returns a closure that logs the elapsed duration when invoked.
func StartTimer(l Logger, op string) func() {
	start := time.Now()
	return func() { l.Debug("operation.completed", "operation", op, "duration", time.Since(start)) }
}

// NoOpLogger discards all log messages. Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}

// OrNoOp returns l, or a NoOpLogger when l is nil.
func OrNoOp(l Logger) Logger {
	if l == nil {
		return NoOpLogger{}
	}
	return l
}
