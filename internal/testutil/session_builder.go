package testutil

import (
	"context"

	"github.com/hupe1980/agentexchange/core"
)

// SessionBuilder helps construct sessions with fluent chaining for tests.
// Example:
//
//	sess, msgs := NewSessionBuilder("s1").Target("duo").Messages(m1, m2).Build()
type SessionBuilder struct {
	session  core.Session
	messages []core.Message
}

// NewSessionBuilder creates a builder for an active team session with id.
func NewSessionBuilder(id string) *SessionBuilder {
	return &SessionBuilder{session: core.Session{
		ID:             id,
		BackendType:    core.BackendTeam,
		TargetID:       "team",
		BackendHandle:  "handle-" + id,
		CreatedAt:      Epoch,
		LastActivityAt: Epoch,
		State:          core.StateActive,
		Tags:           map[string]string{},
	}}
}

// Backend sets the backend type.
func (b *SessionBuilder) Backend(bt core.BackendType) *SessionBuilder {
	b.session.BackendType = bt
	return b
}

// Target sets the target id.
func (b *SessionBuilder) Target(id string) *SessionBuilder { b.session.TargetID = id; return b }

// State sets the lifecycle state.
func (b *SessionBuilder) State(s core.SessionState) *SessionBuilder { b.session.State = s; return b }

// Tag sets a tag.
func (b *SessionBuilder) Tag(key, val string) *SessionBuilder { b.session.Tags[key] = val; return b }

// Messages appends messages to the transcript. Messages without an Order are
// numbered after the previous one; all get the session id.
func (b *SessionBuilder) Messages(msgs ...core.Message) *SessionBuilder {
	for _, m := range msgs {
		if m.Order == 0 {
			m.Order = int64(len(b.messages)) + 1
			if n := len(b.messages); n > 0 {
				m.Order = b.messages[n-1].Order + 1
			}
		}
		m.SessionID = b.session.ID
		b.messages = append(b.messages, m)
		if m.Timestamp.After(b.session.LastActivityAt) {
			b.session.LastActivityAt = m.Timestamp
		}
	}
	return b
}

// Build returns the session record and its transcript.
func (b *SessionBuilder) Build() (core.Session, []core.Message) {
	s := b.session.Clone()
	msgs := make([]core.Message, len(b.messages))
	for i, m := range b.messages {
		msgs[i] = m.Clone()
	}
	return s, msgs
}

// Seed saves the session and appends its transcript to store.
func (b *SessionBuilder) Seed(ctx context.Context, store core.HistoryStore) (core.Session, error) {
	s, msgs := b.Build()
	if err := store.SaveSession(ctx, s); err != nil {
		return core.Session{}, err
	}
	for _, m := range msgs {
		if err := store.Append(ctx, s.ID, m); err != nil {
			return core.Session{}, err
		}
	}
	return s, nil
}
