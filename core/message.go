package core

import (
	"time"

	"github.com/google/uuid"
)

// Role is the conversational role of a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// Metadata keys set on in-band error messages.
const (
	MetaErrorKind = "error_kind"
	MetaBackend   = "backend"
)

// Message is one turn in a session's history. Once appended to a HistoryStore
// it should be treated as immutable; Order is assigned by the session's
// sequencing point and is strictly increasing within a session.
type Message struct {
	ID        string            `json:"id" yaml:"id"`
	SessionID string            `json:"session_id" yaml:"session_id"`
	Role      Role              `json:"role" yaml:"role"`
	Content   string            `json:"content" yaml:"content"`
	Blocks    []ContentBlock    `json:"blocks,omitempty" yaml:"blocks,omitempty"`
	AgentName string            `json:"agent_name,omitempty" yaml:"agent_name,omitempty"`
	Timestamp time.Time         `json:"timestamp" yaml:"timestamp"`
	Order     int64             `json:"order" yaml:"order"`
	IsError   bool              `json:"is_error,omitempty" yaml:"is_error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// NewMessage creates a message with a fresh id and UTC timestamp. Order and
// SessionID are filled in when the message is appended to a session.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        NewID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// NewAgentMessage creates an assistant message attributed to agentName.
func NewAgentMessage(agentName, content string) Message {
	m := NewMessage(RoleAssistant, content)
	m.AgentName = agentName
	return m
}

// NewErrorMessage creates the in-band system message recorded when a backend
// call fails. kind is stored under MetaErrorKind.
func NewErrorMessage(kind, text string) Message {
	m := NewMessage(RoleSystem, text)
	m.IsError = true
	m.Metadata = map[string]string{MetaErrorKind: kind}
	return m
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	c := m
	if m.Blocks != nil {
		c.Blocks = make([]ContentBlock, len(m.Blocks))
		copy(c.Blocks, m.Blocks)
	}
	if m.Metadata != nil {
		c.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// NewID generates a new unique identifier for sessions and messages.
func NewID() string { return uuid.NewString() }
