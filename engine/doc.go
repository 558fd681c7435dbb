// Package engine implements the SessionManager, the orchestration core of the
// exchange layer.
//
// # Responsibilities
//
// Session lifecycle:
//   - CreateSession opens a backend session and registers it atomically
//   - EndSession marks it ended and releases the backend session best-effort
//   - DeleteSession additionally wipes the persisted history (irreversible)
//   - Restore rebuilds the registry from the HistoryStore on process start
//
// Turn sequencing:
//   - every session has one sequencing point held for a whole turn
//   - the user message is persisted before the backend is called
//   - replies, or a system error message, are persisted after it
//   - Order is strictly increasing and timestamps never go backwards
//
// # Failure handling
//
// A backend failure during a send never discards the user's turn. The failure
// becomes an in-band system message (IsError, metadata error_kind =
// "backend_error" or "timeout") and SendResult.Success is false. Only a
// KindBackendUnavailable failure, meaning the backend session is gone, moves
// the session to Failed; other failures leave it usable for the next turn.
// Persistence failures are never absorbed and surface as
// KindDurabilityFailure.
//
// Reachability is never polled. Idle state is derived on read from
// LastActivityAt and Config.IdleAfter.
//
// # Extensibility
//
// Callbacks observe sends, state changes and backend errors; a BeforeSend
// callback may reject a message. Metrics are delivered to an optional
// core.MetricsRecorder.
package engine
