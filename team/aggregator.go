package team

import (
	"context"
	"strings"

	"github.com/hupe1980/agentexchange/content"
	"github.com/hupe1980/agentexchange/core"
	"github.com/hupe1980/agentexchange/exchange"
	"github.com/hupe1980/agentexchange/logging"
)

// UnknownAgent labels messages that carry no agent attribution.
const UnknownAgent = "Unknown Agent"

// Format selects how ExportTeam renders a transcript.
type Format string

const (
	// FormatCombined yields one result per distinct agent.
	FormatCombined Format = "combined"
	// FormatIndividual yields one result per agent message.
	FormatIndividual Format = "individual"
	// FormatRaw yields a single result holding the whole transcript.
	FormatRaw Format = "raw"
)

// ParseFormat validates s as an export format. An empty string means combined.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatCombined, nil
	case FormatCombined, FormatIndividual, FormatRaw:
		return f, nil
	default:
		return "", core.Errorf(core.KindInvalidInput, "team export", "unknown format %q", s)
	}
}

// ExportOptions configures ExportTeam.
type ExportOptions struct {
	Format Format
	// IncludeAgents restricts the export to these agent names. Empty means all.
	IncludeAgents []string
}

// Options configures an Aggregator.
type Options struct {
	Logger logging.Logger
}

// Aggregator reads team transcripts from a HistoryStore and groups or exports
// them by contributing agent.
type Aggregator struct {
	store  core.HistoryStore
	logger logging.Logger
}

// NewAggregator creates an Aggregator over store.
func NewAggregator(store core.HistoryStore, optFns ...func(o *Options)) *Aggregator {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Aggregator{store: store, logger: opts.Logger}
}

// Contributions loads a session and returns its per-agent contributions in
// order of first appearance.
func (a *Aggregator) Contributions(ctx context.Context, sessionID string) ([]core.TeamContribution, error) {
	msgs, err := a.load(ctx, "team contributions", sessionID)
	if err != nil {
		return nil, err
	}
	return Contributions(agentMessages(msgs)), nil
}

// ExportTeam loads a session and renders it per opts.
func (a *Aggregator) ExportTeam(ctx context.Context, sessionID string, optFns ...func(o *ExportOptions)) ([]core.ResultItem, error) {
	opts := ExportOptions{Format: FormatCombined}
	for _, fn := range optFns {
		fn(&opts)
	}
	if _, err := ParseFormat(string(opts.Format)); err != nil {
		return nil, err
	}
	msgs, err := a.load(ctx, "team export", sessionID)
	if err != nil {
		return nil, err
	}
	items, err := Export(msgs, opts)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("team export rendered", "session_id", sessionID, "format", string(opts.Format), "results", len(items))
	return items, nil
}

func (a *Aggregator) load(ctx context.Context, op, sessionID string) ([]core.Message, error) {
	if sessionID == "" {
		return nil, core.Errorf(core.KindInvalidInput, op, "session id is required")
	}
	return a.store.Load(ctx, sessionID)
}

// AgentName returns the attribution label of m.
func AgentName(m core.Message) string {
	if m.AgentName == "" {
		return UnknownAgent
	}
	return m.AgentName
}

// GroupByAgent buckets messages by attribution label, preserving order within
// each bucket. Unattributed messages land under UnknownAgent.
func GroupByAgent(messages []core.Message) map[string][]core.Message {
	out := make(map[string][]core.Message)
	for _, m := range messages {
		name := AgentName(m)
		out[name] = append(out[name], m)
	}
	return out
}

// Contributions groups messages by agent and returns one TeamContribution per
// agent, ordered by each agent's first message.
func Contributions(messages []core.Message) []core.TeamContribution {
	index := make(map[string]int)
	var out []core.TeamContribution
	for _, m := range messages {
		name := AgentName(m)
		i, ok := index[name]
		if !ok {
			i = len(out)
			index[name] = i
			out = append(out, core.TeamContribution{AgentName: name})
		}
		out[i].Messages = append(out[i].Messages, m)
		if m.Timestamp.After(out[i].LastActiveAt) {
			out[i].LastActiveAt = m.Timestamp
		}
	}
	return out
}

// Export renders messages per opts without touching a store. Combined and
// individual consider assistant messages only; raw keeps every role but drops
// assistant messages of excluded agents. An empty selection yields an empty,
// non-nil slice.
func Export(messages []core.Message, opts ExportOptions) ([]core.ResultItem, error) {
	format, err := ParseFormat(string(opts.Format))
	if err != nil {
		return nil, err
	}
	include := includeSet(opts.IncludeAgents)

	switch format {
	case FormatIndividual:
		return exportIndividual(filterAgents(agentMessages(messages), include)), nil
	case FormatRaw:
		return exportRaw(messages, include)
	default:
		return exportCombined(filterAgents(agentMessages(messages), include)), nil
	}
}

func exportCombined(msgs []core.Message) []core.ResultItem {
	out := []core.ResultItem{}
	for _, c := range Contributions(msgs) {
		parts := make([]string, len(c.Messages))
		for i, m := range c.Messages {
			parts[i] = m.Content
		}
		out = append(out, core.ResultItem{
			Type:      core.ResultText,
			Content:   strings.Join(parts, "\n\n"),
			Header:    c.AgentName,
			AgentName: c.AgentName,
			Timestamp: c.LastActiveAt,
		})
	}
	return out
}

func exportIndividual(msgs []core.Message) []core.ResultItem {
	out := make([]core.ResultItem, 0, len(msgs))
	for _, m := range msgs {
		item := core.ResultItem{
			Type:      core.ResultText,
			Content:   m.Content,
			Header:    AgentName(m),
			AgentName: AgentName(m),
			Timestamp: m.Timestamp,
		}
		// A reply that is nothing but one fenced block is exported as code.
		blocks := m.Blocks
		if blocks == nil {
			blocks = content.Parse(m.Content)
		}
		if len(blocks) == 1 && blocks[0].Type == core.BlockCode {
			item.Type = core.ResultCode
			item.Content = blocks[0].Content
			item.Language = blocks[0].Language
		}
		out = append(out, item)
	}
	return out
}

func exportRaw(messages []core.Message, include map[string]bool) ([]core.ResultItem, error) {
	var kept []core.Message
	agents := 0
	for _, m := range messages {
		if m.Role == core.RoleAssistant {
			if include != nil && !include[AgentName(m)] {
				continue
			}
			agents++
		}
		kept = append(kept, m)
	}
	if len(kept) == 0 || (include != nil && agents == 0) {
		return []core.ResultItem{}, nil
	}
	payload, err := exchange.EncodeMessages(kept, func(o *exchange.EncodeOptions) {
		o.FormatAsMarkdown = true
	})
	if err != nil {
		return nil, err
	}
	return []core.ResultItem{{
		Type:      core.ResultText,
		Content:   payload.Content,
		Header:    "Transcript",
		Timestamp: payload.Metadata.LastTimestamp,
	}}, nil
}

func agentMessages(messages []core.Message) []core.Message {
	var out []core.Message
	for _, m := range messages {
		if m.Role == core.RoleAssistant {
			out = append(out, m)
		}
	}
	return out
}

func filterAgents(messages []core.Message, include map[string]bool) []core.Message {
	if include == nil {
		return messages
	}
	var out []core.Message
	for _, m := range messages {
		if include[AgentName(m)] {
			out = append(out, m)
		}
	}
	return out
}

func includeSet(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
