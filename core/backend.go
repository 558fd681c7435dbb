package core

import "context"

// Backend is the uniform contract every agent backend implements. Concrete
// backends (native runtime, studio, team) are registered once per type and
// dispatched through BackendType; callers never branch on backend names.
//
// Contract:
//   - CreateSession returns an opaque handle. A failure must be reported as
//     KindBackendUnavailable and must not leave a backend session behind.
//   - SendMessage returns the reply messages in backend order. Failures on an
//     existing session are KindBackendError; KindBackendUnavailable signals
//     that the backend session is gone and will not recover.
//   - EndSession is best-effort; callers log and ignore its error.
//
// Implementations do not retry; retry policy belongs to the transport they
// wrap.
type Backend interface {
	Type() BackendType
	CreateSession(ctx context.Context, targetID string, cfg map[string]any) (string, error)
	SendMessage(ctx context.Context, handle, content string) ([]Message, error)
	EndSession(ctx context.Context, handle string) error
}

// HistoryStore durably persists session metadata records and one append-only
// message log per session. It is the single source of truth for message
// order: implementations reject appends whose Order is not greater than the
// last persisted one and never edit or reorder entries.
//
// Append and SaveSession return only after the write is durable; failures are
// reported as KindDurabilityFailure. Load is idempotent.
type HistoryStore interface {
	SaveSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	ListSessions(ctx context.Context) ([]Session, error)
	Append(ctx context.Context, sessionID string, msg Message) error
	Load(ctx context.Context, sessionID string) ([]Message, error)
	// Clear permanently deletes the session's log and metadata record. It is
	// destructive and irreversible.
	Clear(ctx context.Context, sessionID string) error
	Close() error
}

// MetricsRecorder observes backend calls. Record is fire-and-forget and must
// never block or fail the calling operation.
type MetricsRecorder interface {
	Record(r MetricRecord)
}
