package exchange

import "time"

// StudioMessage is the message shape used by the multi-agent studio. Source
// is "user" for the human turn and the agent name otherwise.
type StudioMessage struct {
	Source    string    `json:"source"`
	Content   string    `json:"content"`
	Type      string    `json:"type,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// FromStudio converts studio messages to RawMessages in order. Non-text
// message types (tool call requests, termination markers) are tagged with
// role "tool" so callers can filter them.
func FromStudio(msgs []StudioMessage) []RawMessage {
	out := make([]RawMessage, 0, len(msgs))
	for _, m := range msgs {
		r := RawMessage{Source: m.Source, Content: m.Content, Timestamp: m.CreatedAt}
		if m.Type != "" && m.Type != "TextMessage" {
			r.Role = "tool"
			r.Metadata = map[string]string{"studio_type": m.Type}
		}
		out = append(out, r)
	}
	return out
}

// ToStudio converts outgoing user content into a studio message.
func ToStudio(text string) StudioMessage {
	return StudioMessage{Source: "user", Content: text, Type: "TextMessage", CreatedAt: time.Now().UTC()}
}
