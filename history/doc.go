// Package history houses concrete implementations of core.HistoryStore.
// The interface itself (and the Session/Message types) live in the core
// package to centralize domain contracts. Keeping only implementations here
// prevents higher level packages (engine, team) from depending on concrete
// storage.
//
// MemoryStore in this package is volatile and meant for tests and demos.
// Durable backends live in sub-packages (sqlite, redis) and can be swapped
// without changing any calling code; only the wiring layer decides which
// implementation to instantiate. Sub-package export writes a session to a
// file in several formats.
package history
