package exchange

import (
	"time"

	"github.com/hupe1980/agentexchange/content"
	"github.com/hupe1980/agentexchange/core"
)

// RawMessage is the backend-neutral wire shape. The native runtime speaks it
// directly; studio messages are converted with FromStudio.
type RawMessage struct {
	ID        string            `json:"id,omitempty"`
	Role      string            `json:"role,omitempty"`
	Source    string            `json:"source,omitempty"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// DecodeOptions configures DecodeMessagesToChat.
type DecodeOptions struct {
	// Roles, when non-empty, keeps only messages with these roles.
	Roles []core.Role
}

// RoleOf resolves the canonical role of raw. An explicit role wins; otherwise
// a "user" source is the user and any other named source is an assistant.
func RoleOf(raw RawMessage) core.Role {
	if r := core.Role(raw.Role); r.Valid() {
		return r
	}
	if raw.Source == "" || raw.Source == string(core.RoleUser) {
		return core.RoleUser
	}
	return core.RoleAssistant
}

// DecodeMessagesToChat maps raw messages onto canonical messages 1:1,
// preserving order. Nothing is dropped unless opts.Roles asks for it.
func DecodeMessagesToChat(raw []RawMessage, optFns ...func(o *DecodeOptions)) []core.Message {
	var opts DecodeOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	keep := map[core.Role]bool{}
	for _, r := range opts.Roles {
		keep[r] = true
	}

	out := make([]core.Message, 0, len(raw))
	for _, r := range raw {
		m := toMessage(r)
		if len(keep) > 0 && !keep[m.Role] {
			continue
		}
		out = append(out, m)
	}
	return out
}

func toMessage(r RawMessage) core.Message {
	m := core.Message{
		ID:        r.ID,
		Role:      RoleOf(r),
		Content:   r.Content,
		Blocks:    content.Parse(r.Content),
		Timestamp: r.Timestamp.UTC(),
	}
	if m.ID == "" {
		m.ID = core.NewID()
	}
	if r.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	if m.Role != core.RoleUser && r.Source != "" && r.Source != string(m.Role) {
		m.AgentName = r.Source
	}
	if len(r.Metadata) > 0 {
		m.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			m.Metadata[k] = v
		}
	}
	return m
}

// DecodeMessagesToResults parses every assistant message into blocks and
// emits one ResultItem per block. Non-assistant messages are skipped. Each
// item inherits the source message's timestamp and agent.
func DecodeMessagesToResults(raw []RawMessage) []core.ResultItem {
	var out []core.ResultItem
	for _, r := range raw {
		if RoleOf(r) != core.RoleAssistant {
			continue
		}
		m := toMessage(r)
		for _, b := range m.Blocks {
			item := core.ResultItem{
				Type:      core.ResultText,
				Content:   b.Content,
				AgentName: m.AgentName,
				Timestamp: m.Timestamp,
			}
			if b.Type == core.BlockCode {
				item.Type = core.ResultCode
				item.Language = b.Language
			}
			out = append(out, item)
		}
	}
	return out
}

// ToNative converts outgoing user content into the native runtime's shape.
func ToNative(text string) RawMessage {
	return RawMessage{Role: string(core.RoleUser), Content: text}
}
