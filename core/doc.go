// Package core provides the foundational domain types and interfaces used by
// agentexchange. It defines the core abstractions for:
//
//   - Sessions (one conversation bound to exactly one backend target)
//   - Messages and their parsed ContentBlocks (ordered, append-only history)
//   - Exchange payloads and result items moved between backends and callers
//   - Backends (uniform contract over the native runtime, the studio and teams)
//   - HistoryStore (durable per-session log) and metric records
//   - The error taxonomy shared by every layer (InvalidInput, BackendUnavailable,
//     BackendError, DurabilityFailure, NotFound)
//
// The package intentionally keeps implementation concerns (persistence,
// transport, orchestration) out of scope, exposing small interfaces so
// concrete backends and stores can be swapped in tests and production.
package core
