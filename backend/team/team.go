package team

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentexchange/content"
	"github.com/hupe1980/agentexchange/core"
	"github.com/hupe1980/agentexchange/internal/util"
	"github.com/hupe1980/agentexchange/logging"
	"github.com/hupe1980/agentexchange/model"
	"golang.org/x/sync/errgroup"
)

// Mode selects how members take their turn.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeParallel   Mode = "parallel"
)

// ParseMode converts s into a Mode; empty means sequential.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case "":
		return ModeSequential, nil
	case ModeSequential, ModeParallel:
		return m, nil
	default:
		return "", core.Errorf(core.KindInvalidInput, "parse team mode", "unknown mode %q", s)
	}
}

// Member is one agent of a team.
type Member struct {
	Name string
	// Instruction is a text/template rendered with the session config plus
	// "team" and "member".
	Instruction string
	Model       model.Model
}

// Definition describes a team.
type Definition struct {
	ID      string
	Mode    Mode
	Members []Member
	// MaxModelCalls caps model calls per turn. Zero means one per member.
	MaxModelCalls int
	// TurnTimeout bounds a whole turn. Zero means only the caller's deadline applies.
	TurnTimeout time.Duration
}

func (d Definition) validate() error {
	var v util.Validator
	v.Required("id", d.ID)
	v.OneOf("mode", string(d.Mode), string(ModeSequential), string(ModeParallel))
	v.Check(len(d.Members) > 0, "members", nil, "a team needs at least one member")
	seen := make(map[string]bool, len(d.Members))
	for i, m := range d.Members {
		field := fmt.Sprintf("members[%d]", i)
		v.Required(field+".name", m.Name)
		v.Check(!seen[m.Name], field+".name", m.Name, "duplicate member name")
		v.Check(m.Model != nil, field+".model", nil, "model is required")
		seen[m.Name] = true
	}
	v.Check(d.MaxModelCalls >= 0, "max_model_calls", d.MaxModelCalls, "must not be negative")
	if err := v.Err(); err != nil {
		return core.NewError(core.KindInvalidInput, "team "+d.ID, err)
	}
	return nil
}

// Options configures the team backend.
type Options struct {
	// Stream asks members' models for incremental output.
	Stream bool
	Logger logging.Logger
}

type session struct {
	mu           sync.Mutex
	def          Definition
	instructions []string
	transcript   []core.Message
}

// Backend runs configured teams.
type Backend struct {
	opts Options

	mu       sync.RWMutex
	teams    map[string]Definition
	sessions map[string]*session
}

// New creates a team backend serving defs.
func New(defs []Definition, optFns ...func(o *Options)) (*Backend, error) {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	b := &Backend{
		opts:     opts,
		teams:    make(map[string]Definition, len(defs)),
		sessions: make(map[string]*session),
	}
	for _, d := range defs {
		if err := b.Register(d); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Register adds or replaces a team definition. Running sessions keep the
// definition they were created with.
func (b *Backend) Register(d Definition) error {
	if d.Mode == "" {
		d.Mode = ModeSequential
	}
	if err := d.validate(); err != nil {
		return err
	}
	d.Members = append([]Member(nil), d.Members...)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.teams[d.ID] = d
	return nil
}

// Teams returns the registered team ids.
func (b *Backend) Teams() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.teams))
	for id := range b.teams {
		ids = append(ids, id)
	}
	return ids
}

// Type implements core.Backend.
func (b *Backend) Type() core.BackendType { return core.BackendTeam }

// CreateSession starts a session with team targetID. cfg values are available
// to member instruction templates.
func (b *Backend) CreateSession(_ context.Context, targetID string, cfg map[string]any) (string, error) {
	b.mu.RLock()
	def, ok := b.teams[targetID]
	b.mu.RUnlock()
	if !ok {
		return "", core.Errorf(core.KindBackendUnavailable, "team create session", "unknown team %q", targetID)
	}

	instructions := make([]string, len(def.Members))
	for i, m := range def.Members {
		vars := make(map[string]any, len(cfg)+2)
		for k, v := range cfg {
			vars[k] = v
		}
		vars["team"] = def.ID
		vars["member"] = m.Name
		text, err := util.RenderTemplate(m.Instruction, vars)
		if err != nil {
			return "", core.NewError(core.KindBackendUnavailable, "team create session", fmt.Errorf("member %s instruction: %w", m.Name, err))
		}
		instructions[i] = text
	}

	handle := core.NewID()
	b.mu.Lock()
	b.sessions[handle] = &session{def: def, instructions: instructions}
	b.mu.Unlock()

	b.opts.Logger.Debug("team session created", "team", def.ID, "handle", handle, "members", len(def.Members))
	return handle, nil
}

func (b *Backend) session(handle string) (*session, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sessions[handle]
	return s, ok
}

// SendMessage runs one team turn. A failing member fails the whole turn and
// leaves the transcript unchanged.
func (b *Backend) SendMessage(ctx context.Context, handle, text string) ([]core.Message, error) {
	s, ok := b.session(handle)
	if !ok {
		return nil, core.Errorf(core.KindBackendUnavailable, "team send message", "unknown session %q", handle)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.def.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.def.TurnTimeout)
		defer cancel()
	}

	user := core.NewMessage(core.RoleUser, text)
	transcript := append(append([]core.Message(nil), s.transcript...), user)

	calls := s.def.MaxModelCalls
	if calls == 0 {
		calls = len(s.def.Members)
	}
	limiter := NewCallLimiter(calls)

	var (
		replies []core.Message
		err     error
	)
	switch s.def.Mode {
	case ModeParallel:
		replies, err = b.runParallel(ctx, s, transcript, limiter)
	default:
		replies, err = b.runSequential(ctx, s, transcript, limiter)
	}
	if err != nil {
		return nil, core.NewError(core.KindBackendError, "team send message", err)
	}

	s.transcript = append(transcript, replies...)
	out := make([]core.Message, len(replies))
	for i, r := range replies {
		out[i] = r.Clone()
	}
	return out, nil
}

func (b *Backend) runSequential(ctx context.Context, s *session, transcript []core.Message, limiter *CallLimiter) ([]core.Message, error) {
	replies := make([]core.Message, 0, len(s.def.Members))
	for i, m := range s.def.Members {
		seen := append(append([]core.Message(nil), transcript...), replies...)
		reply, err := b.ask(ctx, m, s.instructions[i], seen, limiter)
		if err != nil {
			return nil, err
		}
		replies = append(replies, reply)
	}
	return replies, nil
}

func (b *Backend) runParallel(ctx context.Context, s *session, transcript []core.Message, limiter *CallLimiter) ([]core.Message, error) {
	replies := make([]core.Message, len(s.def.Members))
	g, gctx := errgroup.WithContext(ctx)
	for i, m := range s.def.Members {
		g.Go(func() error {
			reply, err := b.ask(gctx, m, s.instructions[i], transcript, limiter)
			if err != nil {
				return err
			}
			replies[i] = reply
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return replies, nil
}

func (b *Backend) ask(ctx context.Context, m Member, instruction string, transcript []core.Message, limiter *CallLimiter) (core.Message, error) {
	if err := limiter.Acquire(); err != nil {
		return core.Message{}, fmt.Errorf("member %s: %w", m.Name, err)
	}

	start := time.Now()
	resp, err := model.Complete(ctx, m.Model, model.Request{
		Instructions: instruction,
		Messages:     Perspective(transcript, m.Name),
		Stream:       b.opts.Stream,
	})
	info := m.Model.Info()
	if err != nil {
		b.opts.Logger.Warn("team member failed", "member", m.Name, "model", info.Name, "error", err)
		return core.Message{}, fmt.Errorf("member %s: %w", m.Name, err)
	}
	b.opts.Logger.Debug("team member replied", "member", m.Name, "model", info.Name, "duration_ms", time.Since(start).Milliseconds())

	reply := core.NewAgentMessage(m.Name, resp.Text)
	reply.Blocks = content.Parse(resp.Text)
	reply.Metadata = map[string]string{"model": info.Name, "provider": info.Provider}
	if resp.Usage != nil {
		reply.Metadata["total_tokens"] = fmt.Sprint(resp.Usage.TotalTokens)
	}
	return reply, nil
}

// Perspective rewrites transcript as seen by member self: its own replies stay
// assistant turns, other members' replies become user turns prefixed with the
// speaker's name.
func Perspective(transcript []core.Message, self string) []core.Message {
	out := make([]core.Message, 0, len(transcript))
	for _, m := range transcript {
		if m.Role == core.RoleAssistant && m.AgentName != "" && m.AgentName != self {
			m = m.Clone()
			m.Role = core.RoleUser
			m.Content = m.AgentName + ": " + m.Content
		}
		out = append(out, m)
	}
	return out
}

// EndSession forgets the session.
func (b *Backend) EndSession(_ context.Context, handle string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sessions[handle]; !ok {
		return core.Errorf(core.KindBackendError, "team end session", "unknown session %q", handle)
	}
	delete(b.sessions, handle)
	return nil
}
