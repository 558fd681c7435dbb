package history

import (
	"context"
	"sort"
	"sync"

	"github.com/hupe1980/agentexchange/core"
)

// MemoryStore is a volatile HistoryStore storing sessions and their logs in
// process local maps. It is safe for concurrent access and best suited for
// tests or ephemeral demo servers. Values are cloned on the way in and out to
// prevent external mutation of internal state.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]core.Session
	logs     map[string][]core.Message
}

// NewMemoryStore constructs an empty in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]core.Session),
		logs:     make(map[string][]core.Message),
	}
}

// SaveSession inserts or replaces the session metadata record.
func (s *MemoryStore) SaveSession(_ context.Context, sess core.Session) error {
	if sess.ID == "" {
		return core.Errorf(core.KindInvalidInput, "save session", "session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// GetSession returns a copy of the metadata record.
func (s *MemoryStore) GetSession(_ context.Context, id string) (core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return core.Session{}, core.Errorf(core.KindNotFound, "get session", "session %s not found", id)
	}
	return sess.Clone(), nil
}

// ListSessions returns every session ordered by creation time.
func (s *MemoryStore) ListSessions(_ context.Context) ([]core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	SortSessions(out)
	return out, nil
}

// Append adds msg to the end of the session log.
func (s *MemoryStore) Append(_ context.Context, sessionID string, msg core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return core.Errorf(core.KindNotFound, "append", "session %s not found", sessionID)
	}
	log := s.logs[sessionID]
	var last int64
	if n := len(log); n > 0 {
		last = log[n-1].Order
	}
	if err := CheckAppend(sessionID, last, msg); err != nil {
		return err
	}
	m := msg.Clone()
	m.SessionID = sessionID
	s.logs[sessionID] = append(log, m)
	return nil
}

// Load returns a copy of the full ordered log.
func (s *MemoryStore) Load(_ context.Context, sessionID string) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, core.Errorf(core.KindNotFound, "load", "session %s not found", sessionID)
	}
	log := s.logs[sessionID]
	out := make([]core.Message, len(log))
	for i, m := range log {
		out[i] = m.Clone()
	}
	return out, nil
}

// Clear permanently deletes the session's log and metadata. Irreversible.
func (s *MemoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return core.Errorf(core.KindNotFound, "clear", "session %s not found", sessionID)
	}
	delete(s.sessions, sessionID)
	delete(s.logs, sessionID)
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// CheckAppend validates msg against the last persisted order of a session.
// Stores call it before writing so the log is never reordered.
func CheckAppend(sessionID string, lastOrder int64, msg core.Message) error {
	if sessionID == "" {
		return core.Errorf(core.KindInvalidInput, "append", "session id is required")
	}
	if msg.ID == "" {
		return core.Errorf(core.KindInvalidInput, "append", "message id is required")
	}
	if msg.Order <= lastOrder {
		return core.Errorf(core.KindInvalidInput, "append", "out of order append to %s: order %d after %d", sessionID, msg.Order, lastOrder)
	}
	return nil
}

// SortSessions orders sessions by creation time, then id.
func SortSessions(sessions []core.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
}
