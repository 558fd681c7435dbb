package testutil

import (
	"time"

	"github.com/hupe1980/agentexchange/content"
	"github.com/hupe1980/agentexchange/core"
)

// Epoch is the default timestamp base of built messages.
var Epoch = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

// MessageBuilder provides a fluent helper for constructing messages in tests.
// Example:
//
//	m := NewMessageBuilder().Agent("coder").Text("```go\nx\n```").Order(2).Build()
//
// Without At, the timestamp is Epoch plus Order seconds.
type MessageBuilder struct {
	msg    core.Message
	at     *time.Time
	blocks bool
}

// NewMessageBuilder creates a builder for a user message.
func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{msg: core.Message{ID: core.NewID(), Role: core.RoleUser}}
}

// ID overrides the generated id.
func (b *MessageBuilder) ID(id string) *MessageBuilder { b.msg.ID = id; return b }

// Role sets the role.
func (b *MessageBuilder) Role(r core.Role) *MessageBuilder { b.msg.Role = r; return b }

// Agent marks the message as an assistant reply from name.
func (b *MessageBuilder) Agent(name string) *MessageBuilder {
	b.msg.Role = core.RoleAssistant
	b.msg.AgentName = name
	return b
}

// Text sets the content.
func (b *MessageBuilder) Text(t string) *MessageBuilder { b.msg.Content = t; return b }

// Order sets the sequence number.
func (b *MessageBuilder) Order(n int64) *MessageBuilder { b.msg.Order = n; return b }

// At pins the timestamp.
func (b *MessageBuilder) At(ts time.Time) *MessageBuilder { b.at = &ts; return b }

// Session sets the owning session id.
func (b *MessageBuilder) Session(id string) *MessageBuilder { b.msg.SessionID = id; return b }

// Error turns the message into an in-band system error of kind.
func (b *MessageBuilder) Error(kind string) *MessageBuilder {
	b.msg.Role = core.RoleSystem
	b.msg.IsError = true
	return b.Meta(core.MetaErrorKind, kind)
}

// Meta sets a metadata entry.
func (b *MessageBuilder) Meta(key, val string) *MessageBuilder {
	if b.msg.Metadata == nil {
		b.msg.Metadata = map[string]string{}
	}
	b.msg.Metadata[key] = val
	return b
}

// Parsed fills Blocks by parsing the content on Build.
func (b *MessageBuilder) Parsed() *MessageBuilder { b.blocks = true; return b }

// Build returns the message.
func (b *MessageBuilder) Build() core.Message {
	m := b.msg.Clone()
	if b.at != nil {
		m.Timestamp = *b.at
	} else {
		m.Timestamp = Epoch.Add(time.Duration(m.Order) * time.Second)
	}
	if b.blocks {
		m.Blocks = content.Parse(m.Content)
	}
	return m
}

// User is shorthand for a user message at order.
func User(order int64, text string) core.Message {
	return NewMessageBuilder().Order(order).Text(text).Build()
}

// Reply is shorthand for an assistant message from agent at order.
func Reply(order int64, agent, text string) core.Message {
	return NewMessageBuilder().Order(order).Agent(agent).Text(text).Build()
}
