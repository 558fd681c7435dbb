package logging

import (
	"io"
	"log/slog"
	"os"
	"time"
)

// LoggerConfig configures construction of a StructuredLogger.
type LoggerConfig struct {
	Level     LogLevel
	Format    string // json or text
	Output    io.Writer
	AddSource bool
	// Attrs are attached to every entry.
	Attrs map[string]any
}

// DefaultLoggerConfig returns a JSON info level configuration writing to stderr.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: "json", Output: os.Stderr}
}

// StructuredLogger is a Logger with contextual helpers and domain methods for
// backend calls and session lifecycle changes. With* methods return copies;
// the receiver is never modified.
type StructuredLogger struct {
	logger *slog.Logger
}

// NewLogger builds a StructuredLogger from cfg (defaults when nil).
func NewLogger(cfg *LoggerConfig) *StructuredLogger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: cfg.Level.Slog(), AddSource: cfg.AddSource}
	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(out, opts)
	} else {
		h = slog.NewJSONHandler(out, opts)
	}
	l := slog.New(h)
	for k, v := range cfg.Attrs {
		l = l.With(k, v)
	}
	return &StructuredLogger{logger: l}
}

// NewSlogLogger creates a StructuredLogger with the given level and format
// writing to stderr.
func NewSlogLogger(level LogLevel, format string, addSource bool) *StructuredLogger {
	cfg := DefaultLoggerConfig()
	cfg.Level = level
	if format != "" {
		cfg.Format = format
	}
	cfg.AddSource = addSource
	return NewLogger(cfg)
}

// WithContext attaches key=value to every entry of the returned logger.
func (l *StructuredLogger) WithContext(key string, value any) *StructuredLogger {
	return &StructuredLogger{logger: l.logger.With(key, value)}
}

// WithComponent tags entries with the logical component (engine, store, backend, ...).
func (l *StructuredLogger) WithComponent(c string) *StructuredLogger {
	return l.WithContext("component", c)
}

// WithSession tags entries with a session id.
func (l *StructuredLogger) WithSession(sid string) *StructuredLogger {
	return l.WithContext("session_id", sid)
}

func (l *StructuredLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *StructuredLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *StructuredLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *StructuredLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

// LogBackendCall records latency and outcome of one backend round trip.
// Failures are logged at error level.
func (l *StructuredLogger) LogBackendCall(backend, target string, dur time.Duration, success bool, err error) {
	args := []any{"backend", backend, "target", target, "duration_ms", dur.Milliseconds(), "success", success}
	if err != nil {
		args = append(args, "error", err.Error())
	}
	if !success {
		l.logger.Error("Backend call failed", args...)
		return
	}
	l.logger.Info("Backend call completed", args...)
}

// LogTransition records a session lifecycle change.
func (l *StructuredLogger) LogTransition(sessionID string, from, to string) {
	l.logger.Info("Session state changed", "session_id", sessionID, "from", from, "to", to)
}
