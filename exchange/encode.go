package exchange

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hupe1980/agentexchange/content"
	"github.com/hupe1980/agentexchange/core"
)

// Default metadata sources.
const (
	SourceResults  = "results"
	SourceMessages = "messages"
)

// EncodeOptions configures EncodeResults and EncodeMessages.
type EncodeOptions struct {
	// FormatAsMarkdown precedes each message with an uppercase role header.
	FormatAsMarkdown bool
	// Source overrides the metadata source tag.
	Source string
}

const separator = "\n\n"

// EncodeResults renders results into a single payload: text as a paragraph,
// code as a fenced block tagged with its language, links as markdown links.
// Parts are joined with blank lines. The content type is text when every
// result is text, code when every result is code, markdown otherwise.
func EncodeResults(results []core.ResultItem, optFns ...func(o *EncodeOptions)) (core.ExchangePayload, error) {
	if len(results) == 0 {
		return core.ExchangePayload{}, core.Errorf(core.KindInvalidInput, "encode results", "expected non-empty array")
	}
	opts := EncodeOptions{Source: SourceResults}
	for _, fn := range optFns {
		fn(&opts)
	}

	parts := make([]string, 0, len(results))
	var types []core.ResultType
	seen := map[core.ResultType]bool{}
	for _, r := range results {
		parts = append(parts, renderResult(r))
		if !seen[r.Type] {
			seen[r.Type] = true
			types = append(types, r.Type)
		}
	}

	slices.Sort(types)

	ct := core.ContentMarkdown
	if len(types) == 1 {
		switch types[0] {
		case core.ResultText:
			ct = core.ContentText
		case core.ResultCode:
			ct = core.ContentCode
		}
	}

	return core.ExchangePayload{
		Content:     strings.Join(parts, separator),
		ContentType: ct,
		Metadata: core.ExchangeMetadata{
			Source:      opts.Source,
			ResultCount: len(results),
			ResultTypes: types,
			CreatedAt:   time.Now().UTC(),
		},
	}, nil
}

func renderResult(r core.ResultItem) string {
	switch r.Type {
	case core.ResultCode:
		return content.Render([]core.ContentBlock{{Type: core.BlockCode, Content: r.Content, Language: r.Language}})
	case core.ResultLink:
		url := r.URL
		if url == "" {
			url = r.Content
		}
		title := r.Title
		if title == "" && r.URL != "" {
			title = r.Content
		}
		if title == "" {
			title = url
		}
		return fmt.Sprintf("[%s](%s)", title, url)
	default:
		return r.Content
	}
}

// EncodeMessages renders messages into a payload. With FormatAsMarkdown each
// message is preceded by "## ROLE" (and the agent name when attributed) and
// the content type is markdown; otherwise contents are joined as plain text.
func EncodeMessages(messages []core.Message, optFns ...func(o *EncodeOptions)) (core.ExchangePayload, error) {
	if len(messages) == 0 {
		return core.ExchangePayload{}, core.Errorf(core.KindInvalidInput, "encode messages", "expected non-empty array")
	}
	opts := EncodeOptions{Source: SourceMessages}
	for _, fn := range optFns {
		fn(&opts)
	}

	parts := make([]string, 0, len(messages))
	var roles []core.Role
	seen := map[core.Role]bool{}
	for _, m := range messages {
		if !seen[m.Role] {
			seen[m.Role] = true
			roles = append(roles, m.Role)
		}
		if !opts.FormatAsMarkdown {
			parts = append(parts, m.Content)
			continue
		}
		parts = append(parts, RoleHeader(m)+separator+m.Content)
	}

	slices.Sort(roles)

	ct := core.ContentText
	if opts.FormatAsMarkdown {
		ct = core.ContentMarkdown
	}

	return core.ExchangePayload{
		Content:     strings.Join(parts, separator),
		ContentType: ct,
		Metadata: core.ExchangeMetadata{
			Source:         opts.Source,
			MessageCount:   len(messages),
			Roles:          roles,
			CreatedAt:      time.Now().UTC(),
			FirstTimestamp: messages[0].Timestamp,
			LastTimestamp:  messages[len(messages)-1].Timestamp,
		},
	}, nil
}

// RoleHeader returns the markdown header used for m, e.g. "## ASSISTANT (planner)".
func RoleHeader(m core.Message) string {
	h := "## " + strings.ToUpper(string(m.Role))
	if m.AgentName != "" {
		h += " (" + m.AgentName + ")"
	}
	return h
}
