// Package logging provides a minimal logging interface and adapters for agentexchange.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the session manager, stores and backends use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - NewSlogAdapter exposing a *slog.Logger as Logger
//   - StructuredLogger with component/session context and backend call helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	manager := engine.New(store, backends, func(o *engine.Options) { o.Logger = logger })
//
// The interface is kept minimal to avoid vendor lock-in while supporting
// structured logging where available.
package logging
