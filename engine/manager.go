package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentexchange/backend"
	"github.com/hupe1980/agentexchange/content"
	"github.com/hupe1980/agentexchange/core"
	"github.com/hupe1980/agentexchange/history"
	"github.com/hupe1980/agentexchange/logging"
)

// Error kinds recorded on in-band error messages.
const (
	ErrorKindBackend = "backend_error"
	ErrorKindTimeout = "timeout"
)

// Config tunes session behaviour.
type Config struct {
	// IdleAfter is the inactivity after which an active session is reported
	// as idle. Zero disables idle detection.
	IdleAfter time.Duration

	// SendTimeout bounds each backend send. Zero leaves the deadline to the
	// caller's context.
	SendTimeout time.Duration
}

// DefaultConfig is used when no Config is supplied.
var DefaultConfig = Config{
	IdleAfter: 30 * time.Minute,
}

// Options configures a SessionManager.
type Options struct {
	Config Config

	// Metrics observes every backend send. Optional.
	Metrics core.MetricsRecorder

	// Callbacks receives lifecycle hooks. Optional.
	Callbacks *CallbackManager

	// Logger defaults to logging.NoOpLogger.
	Logger logging.Logger

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

// CreateOptions configures one CreateSession call.
type CreateOptions struct {
	// Config is passed to the backend unchanged.
	Config map[string]any
	Tags   map[string]string
}

// SendResult is the outcome of one turn. A backend failure is not an error:
// it is recorded in the transcript and reported with Success=false.
type SendResult struct {
	// User is the persisted user message.
	User core.Message `json:"user"`
	// Messages are the messages persisted after User: the replies, or one
	// system error message.
	Messages  []core.Message `json:"messages"`
	Success   bool           `json:"success"`
	ErrorKind string         `json:"error_kind,omitempty"`
}

// entry is the registry slot of one session.
type entry struct {
	id string

	// turn is the sequencing point: it is held for a whole send so appends to
	// one session never interleave.
	turn sync.Mutex
	// lastOrder and lastTS are only touched while turn is held.
	lastOrder int64
	lastTS    time.Time

	// mu guards session and gone, and serializes persistence of session.
	mu      sync.Mutex
	session core.Session
	gone    bool
}

func (e *entry) deleted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gone
}

// SessionManager creates sessions against backends, sequences their turns
// and persists every message in a HistoryStore. It is safe for concurrent
// use; different sessions never contend with each other.
type SessionManager struct {
	store     core.HistoryStore
	backends  backend.Registry
	cfg       Config
	metrics   core.MetricsRecorder
	callbacks *CallbackManager
	logger    logging.Logger
	now       func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
}

// New creates a SessionManager persisting to store and dispatching to backends.
//
// Example:
//
//	mgr := engine.New(store, backend.NewRegistry(native.New(url)), func(o *engine.Options) {
//	    o.Config.SendTimeout = 2 * time.Minute
//	    o.Logger = logger
//	})
func New(store core.HistoryStore, backends backend.Registry, optFns ...func(o *Options)) *SessionManager {
	opts := Options{
		Config: DefaultConfig,
		Logger: logging.NoOpLogger{},
		Clock:  time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Callbacks == nil {
		opts.Callbacks = NewCallbackManager()
	}
	return &SessionManager{
		store:     store,
		backends:  backends,
		cfg:       opts.Config,
		metrics:   opts.Metrics,
		callbacks: opts.Callbacks,
		logger:    opts.Logger,
		now:       opts.Clock,
		entries:   make(map[string]*entry),
	}
}

// Callbacks returns the manager's callback registry.
func (m *SessionManager) Callbacks() *CallbackManager { return m.callbacks }

// CreateSession opens a backend session for targetID and registers it. Create
// is atomic: on any failure nothing is registered or persisted and no backend
// session is left behind.
func (m *SessionManager) CreateSession(ctx context.Context, bt core.BackendType, targetID string, optFns ...func(o *CreateOptions)) (core.Session, error) {
	if strings.TrimSpace(targetID) == "" {
		return core.Session{}, core.Errorf(core.KindInvalidInput, "create session", "target id is required")
	}
	b, err := m.backends.Get(bt)
	if err != nil {
		return core.Session{}, err
	}
	opts := CreateOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	handle, err := b.CreateSession(ctx, targetID, opts.Config)
	if err != nil {
		m.logger.Warn("backend create failed", "backend", string(bt), "target", targetID, "error", err)
		if core.KindOf(err) != core.KindBackendUnavailable {
			err = core.NewError(core.KindBackendUnavailable, "create session", err)
		}
		return core.Session{}, err
	}

	now := m.now().UTC()
	s := core.NewSession(bt, targetID)
	s.BackendHandle = handle
	s.CreatedAt, s.LastActivityAt = now, now
	for k, v := range opts.Tags {
		s.Tags[k] = v
	}

	write := context.WithoutCancel(ctx)
	if err := m.store.SaveSession(write, s); err != nil {
		if endErr := b.EndSession(write, handle); endErr != nil {
			m.logger.Warn("backend end after failed create", "backend", string(bt), "handle", handle, "error", endErr)
		}
		return core.Session{}, durability("create session", err)
	}

	m.mu.Lock()
	m.entries[s.ID] = &entry{id: s.ID, session: s.Clone()}
	m.mu.Unlock()

	m.logger.Info("session created", "session_id", s.ID, "backend", string(bt), "target", targetID)
	return s.Clone(), nil
}

// SendMessage runs one turn: the user message is persisted first, then the
// backend is called and its replies persisted in order. A backend failure is
// recorded as a system error message after the user message and reported in
// the result; the returned error is reserved for invalid input, unknown
// sessions and persistence failures.
//
// Concurrent sends on one session are serialized; their messages never
// interleave.
func (m *SessionManager) SendMessage(ctx context.Context, sessionID, text string) (SendResult, error) {
	if strings.TrimSpace(text) == "" {
		return SendResult{}, core.Errorf(core.KindInvalidInput, "send message", "content is required")
	}
	e, err := m.lookup(sessionID)
	if err != nil {
		return SendResult{}, err
	}

	e.turn.Lock()
	defer e.turn.Unlock()
	if e.deleted() {
		return SendResult{}, core.Errorf(core.KindNotFound, "send message", "session %s not found", sessionID)
	}

	sess := m.current(ctx, e)
	if sess.State.Terminal() {
		return SendResult{}, core.Errorf(core.KindInvalidInput, "send message", "session %s is %s", sess.ID, sess.State)
	}
	b, err := m.backends.Get(sess.BackendType)
	if err != nil {
		return SendResult{}, err
	}
	if err := m.callbacks.ExecuteCallbacks(ctx, CallbackBeforeSend, &CallbackContext{Session: sess, Content: text}); err != nil {
		return SendResult{}, core.NewError(core.KindInvalidInput, "send message", err)
	}

	// Writes of a turn outlive the caller's deadline so a turn is never
	// half recorded.
	write := context.WithoutCancel(ctx)

	user := core.NewMessage(core.RoleUser, text)
	user.Blocks = content.Parse(text)
	user, err = m.append(write, e, user)
	if err != nil {
		return SendResult{}, err
	}
	res := SendResult{User: user}

	callCtx := ctx
	if m.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, m.cfg.SendTimeout)
		defer cancel()
	}
	start := time.Now()
	replies, callErr := b.SendMessage(callCtx, sess.BackendHandle, text)
	m.observe(sess, start, time.Since(start), callErr)

	next := core.StateActive
	if callErr != nil {
		kind := ErrorKindBackend
		if core.IsTimeout(callErr) {
			kind = ErrorKindTimeout
		}
		em := core.NewErrorMessage(kind, fmt.Sprintf("%s backend failed: %v", sess.BackendType, callErr))
		em.Metadata[core.MetaBackend] = string(sess.BackendType)
		em, err = m.append(write, e, em)
		if err != nil {
			return res, err
		}
		res.Messages = []core.Message{em}
		res.ErrorKind = kind
		if core.KindOf(callErr) == core.KindBackendUnavailable {
			next = core.StateFailed
		}
		m.fire(ctx, CallbackOnError, &CallbackContext{Session: sess, Content: text, Err: callErr})
	} else {
		res.Messages = make([]core.Message, 0, len(replies))
		for _, r := range replies {
			if r.Blocks == nil {
				r.Blocks = content.Parse(r.Content)
			}
			stored, err := m.append(write, e, r)
			if err != nil {
				return res, err
			}
			res.Messages = append(res.Messages, stored)
		}
		res.Success = true
	}

	lastTS := e.lastTS
	after, err := m.update(write, e, func(s *core.Session) error {
		s.LastActivityAt = lastTS
		if s.State != next {
			return s.Transition(next)
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	m.fire(ctx, CallbackAfterSend, &CallbackContext{Session: after, Content: text, Replies: res.Messages})
	return res, nil
}

// EndSession marks the session ended and releases the backend session
// best-effort. History stays readable. Ending a session that is already
// ended or failed returns it unchanged.
func (m *SessionManager) EndSession(ctx context.Context, sessionID string) (core.Session, error) {
	e, err := m.lookup(sessionID)
	if err != nil {
		return core.Session{}, err
	}
	e.turn.Lock()
	defer e.turn.Unlock()

	s, err := m.update(context.WithoutCancel(ctx), e, func(s *core.Session) error {
		if s.State.Terminal() {
			return errUnchanged
		}
		return s.Transition(core.StateEnded)
	})
	if errors.Is(err, errUnchanged) {
		return s, nil
	}
	if err != nil {
		return core.Session{}, err
	}
	m.releaseBackend(ctx, s)
	return s, nil
}

// GetSession returns the current record of a session.
func (m *SessionManager) GetSession(ctx context.Context, sessionID string) (core.Session, error) {
	e, err := m.lookup(sessionID)
	if err != nil {
		return core.Session{}, err
	}
	return m.current(ctx, e), nil
}

// ListSessions returns every registered session ordered by creation time.
func (m *SessionManager) ListSessions(ctx context.Context) []core.Session {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]core.Session, 0, len(entries))
	for _, e := range entries {
		out = append(out, m.current(ctx, e))
	}
	history.SortSessions(out)
	return out
}

// History returns the persisted transcript of a session in order.
func (m *SessionManager) History(ctx context.Context, sessionID string) ([]core.Message, error) {
	if sessionID == "" {
		return nil, core.Errorf(core.KindInvalidInput, "history", "session id is required")
	}
	return m.store.Load(ctx, sessionID)
}

// DeleteSession ends the session if needed and permanently deletes its
// history and metadata record. This is destructive and irreversible.
func (m *SessionManager) DeleteSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return core.Errorf(core.KindInvalidInput, "delete session", "session id is required")
	}
	write := context.WithoutCancel(ctx)

	m.mu.RLock()
	e, ok := m.entries[sessionID]
	m.mu.RUnlock()
	if ok {
		e.turn.Lock()
		defer e.turn.Unlock()
		e.mu.Lock()
		s := e.session.Clone()
		e.mu.Unlock()
		if !s.State.Terminal() {
			m.releaseBackend(ctx, s)
		}
	}

	if err := m.store.Clear(write, sessionID); err != nil {
		if core.KindOf(err) == core.KindNotFound {
			return err
		}
		return durability("delete session", err)
	}

	if ok {
		e.mu.Lock()
		e.gone = true
		e.mu.Unlock()
	}
	m.mu.Lock()
	delete(m.entries, sessionID)
	m.mu.Unlock()
	m.logger.Warn("session history deleted", "session_id", sessionID)
	return nil
}

// Restore registers every session record found in the store that is not yet
// registered and returns how many were added. Backend handles are not
// checked; a session whose backend is gone fails on its next send.
func (m *SessionManager) Restore(ctx context.Context) (int, error) {
	sessions, err := m.store.ListSessions(ctx)
	if err != nil {
		return 0, durability("restore", err)
	}
	restored := 0
	for _, s := range sessions {
		m.mu.RLock()
		_, known := m.entries[s.ID]
		m.mu.RUnlock()
		if known {
			continue
		}
		msgs, err := m.store.Load(ctx, s.ID)
		if err != nil {
			return restored, durability("restore", err)
		}
		e := &entry{id: s.ID, session: s.Clone(), lastTS: s.LastActivityAt}
		if n := len(msgs); n > 0 {
			e.lastOrder = msgs[n-1].Order
			if msgs[n-1].Timestamp.After(e.lastTS) {
				e.lastTS = msgs[n-1].Timestamp
			}
		}
		m.mu.Lock()
		if _, known := m.entries[s.ID]; !known {
			m.entries[s.ID] = e
			restored++
		}
		m.mu.Unlock()
	}
	m.logger.Info("sessions restored", "count", restored)
	return restored, nil
}

var errUnchanged = errors.New("unchanged")

func (m *SessionManager) lookup(id string) (*entry, error) {
	if id == "" {
		return nil, core.Errorf(core.KindInvalidInput, "session", "session id is required")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, core.Errorf(core.KindNotFound, "session", "session %s not found", id)
	}
	return e, nil
}

// current returns the session record, moving it to idle first when it has
// been inactive for longer than IdleAfter.
func (m *SessionManager) current(ctx context.Context, e *entry) core.Session {
	s, err := m.update(ctx, e, func(s *core.Session) error {
		if !m.idle(*s) {
			return errUnchanged
		}
		return s.Transition(core.StateIdle)
	})
	if err != nil && !errors.Is(err, errUnchanged) && core.KindOf(err) != core.KindNotFound {
		m.logger.Warn("persist idle state failed", "session_id", e.id, "error", err)
		s.State = core.StateIdle
	}
	return s
}

func (m *SessionManager) idle(s core.Session) bool {
	return m.cfg.IdleAfter > 0 && s.State == core.StateActive && m.now().Sub(s.LastActivityAt) >= m.cfg.IdleAfter
}

// update applies fn to a copy of the session record and persists it. The
// in-memory record only changes once the write succeeded. When fn returns an
// error the current record is returned with it.
func (m *SessionManager) update(ctx context.Context, e *entry, fn func(s *core.Session) error) (core.Session, error) {
	e.mu.Lock()
	before := e.session.Clone()
	if e.gone {
		e.mu.Unlock()
		return before, core.Errorf(core.KindNotFound, "session", "session %s not found", e.id)
	}
	next := e.session.Clone()
	if err := fn(&next); err != nil {
		e.mu.Unlock()
		return before, err
	}
	if err := m.store.SaveSession(ctx, next); err != nil {
		e.mu.Unlock()
		return before, durability("save session", err)
	}
	e.session = next
	e.mu.Unlock()

	after := next.Clone()
	if before.State != after.State {
		if tl, ok := m.logger.(interface{ LogTransition(string, string, string) }); ok {
			tl.LogTransition(after.ID, string(before.State), string(after.State))
		} else {
			m.logger.Info("session state changed", "session_id", after.ID, "from", string(before.State), "to", string(after.State))
		}
		m.fire(ctx, CallbackOnStateChange, &CallbackContext{Session: after, From: before.State, To: after.State})
	}
	return after, nil
}

// append stamps msg with the session's next order and a timestamp that never
// goes backwards, then persists it.
func (m *SessionManager) append(ctx context.Context, e *entry, msg core.Message) (core.Message, error) {
	if msg.ID == "" {
		msg.ID = core.NewID()
	}
	msg.SessionID = e.id
	msg.Order = e.lastOrder + 1
	ts := m.now().UTC()
	if !ts.After(e.lastTS) {
		ts = e.lastTS.Add(time.Microsecond)
	}
	msg.Timestamp = ts

	if err := m.store.Append(ctx, e.id, msg); err != nil {
		return core.Message{}, durability("append", err)
	}
	e.lastOrder, e.lastTS = msg.Order, ts
	return msg.Clone(), nil
}

func (m *SessionManager) releaseBackend(ctx context.Context, s core.Session) {
	b, err := m.backends.Get(s.BackendType)
	if err != nil {
		m.logger.Warn("no backend to release session", "session_id", s.ID, "error", err)
		return
	}
	if err := b.EndSession(context.WithoutCancel(ctx), s.BackendHandle); err != nil {
		m.logger.Warn("backend end failed", "session_id", s.ID, "backend", string(s.BackendType), "error", err)
	}
}

func (m *SessionManager) observe(s core.Session, start time.Time, dur time.Duration, err error) {
	if bl, ok := m.logger.(interface {
		LogBackendCall(string, string, time.Duration, bool, error)
	}); ok {
		bl.LogBackendCall(string(s.BackendType), s.TargetID, dur, err == nil, err)
	} else if err != nil {
		m.logger.Warn("backend call failed", "backend", string(s.BackendType), "target", s.TargetID, "duration_ms", dur.Milliseconds(), "error", err)
	}
	if m.metrics == nil {
		return
	}
	rec := core.MetricRecord{
		AgentID:    s.TargetID,
		SessionID:  s.ID,
		StartedAt:  start.UTC(),
		DurationMs: dur.Milliseconds(),
		Success:    err == nil,
	}
	if err != nil {
		switch {
		case core.IsTimeout(err):
			rec.ErrorKind = ErrorKindTimeout
		case core.KindOf(err) != "":
			rec.ErrorKind = string(core.KindOf(err))
		default:
			rec.ErrorKind = ErrorKindBackend
		}
	}
	m.metrics.Record(rec)
}

func (m *SessionManager) fire(ctx context.Context, t CallbackType, cc *CallbackContext) {
	if err := m.callbacks.ExecuteCallbacks(ctx, t, cc); err != nil {
		m.logger.Warn("callback failed", "callback", string(t), "session_id", cc.Session.ID, "error", err)
	}
}

func durability(op string, err error) error {
	if core.KindOf(err) != "" {
		return err
	}
	return core.NewError(core.KindDurabilityFailure, op, err)
}
