package core

import (
	"fmt"
	"time"
)

// BackendType identifies which backend collaborator serves a session.
type BackendType string

const (
	// BackendNative is the native agent runtime reached over HTTP.
	BackendNative BackendType = "native"
	// BackendStudio is the external multi-agent studio (HTTP + relay socket).
	BackendStudio BackendType = "studio"
	// BackendTeam is an ad-hoc team of cooperating agents.
	BackendTeam BackendType = "team"
)

// ParseBackendType converts a user supplied string into a BackendType.
func ParseBackendType(s string) (BackendType, error) {
	switch bt := BackendType(s); bt {
	case BackendNative, BackendStudio, BackendTeam:
		return bt, nil
	default:
		return "", NewError(KindInvalidInput, "parse backend type", fmt.Errorf("unknown backend type %q", s))
	}
}

// SessionState is the lifecycle state of a session.
type SessionState string

const (
	StateActive SessionState = "active"
	StateIdle   SessionState = "idle"
	StateEnded  SessionState = "ended"
	StateFailed SessionState = "failed"
)

// Terminal reports whether no further transition is allowed out of s.
func (s SessionState) Terminal() bool { return s == StateEnded || s == StateFailed }

// CanTransition reports whether moving from s to next is allowed. Transitions
// are monotonic: Active and Idle may move to each other or to a terminal
// state; Ended and Failed are final. A no-op transition is never allowed.
func (s SessionState) CanTransition(next SessionState) bool {
	switch s {
	case StateActive:
		return next == StateIdle || next == StateEnded || next == StateFailed
	case StateIdle:
		return next == StateActive || next == StateEnded || next == StateFailed
	default:
		return false
	}
}

// Session is the metadata record of one conversation. Its messages live in the
// HistoryStore; the record itself is small enough to rebuild a session without
// replaying backend calls.
type Session struct {
	ID             string            `json:"id" yaml:"id"`
	BackendType    BackendType       `json:"backend_type" yaml:"backend_type"`
	TargetID       string            `json:"target_id" yaml:"target_id"`
	BackendHandle  string            `json:"backend_handle,omitempty" yaml:"backend_handle,omitempty"`
	CreatedAt      time.Time         `json:"created_at" yaml:"created_at"`
	LastActivityAt time.Time         `json:"last_activity_at" yaml:"last_activity_at"`
	State          SessionState      `json:"state" yaml:"state"`
	Tags           map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// NewSession creates an active session record with a fresh id.
func NewSession(backendType BackendType, targetID string) Session {
	now := time.Now().UTC()
	return Session{
		ID:             NewID(),
		BackendType:    backendType,
		TargetID:       targetID,
		CreatedAt:      now,
		LastActivityAt: now,
		State:          StateActive,
		Tags:           map[string]string{},
	}
}

// Uptime is computed on read from CreatedAt.
func (s Session) Uptime(now time.Time) time.Duration { return now.Sub(s.CreatedAt) }

// Transition moves the session to next, failing with InvalidInput when the
// lifecycle does not allow it.
func (s *Session) Transition(next SessionState) error {
	if !s.State.CanTransition(next) {
		return NewError(KindInvalidInput, "transition", fmt.Errorf("session %s cannot move from %s to %s", s.ID, s.State, next))
	}
	s.State = next
	return nil
}

// Clone returns a copy that shares no maps with s.
func (s Session) Clone() Session {
	c := s
	if s.Tags != nil {
		c.Tags = make(map[string]string, len(s.Tags))
		for k, v := range s.Tags {
			c.Tags[k] = v
		}
	}
	return c
}
