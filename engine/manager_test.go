package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/agentexchange/backend"
	"github.com/hupe1980/agentexchange/backend/native"
	"github.com/hupe1980/agentexchange/core"
	"github.com/hupe1980/agentexchange/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockBackend struct {
	mock.Mock
	bt core.BackendType
}

func (b *mockBackend) Type() core.BackendType { return b.bt }

func (b *mockBackend) CreateSession(ctx context.Context, targetID string, cfg map[string]any) (string, error) {
	args := b.Called(ctx, targetID, cfg)
	return args.String(0), args.Error(1)
}

func (b *mockBackend) SendMessage(ctx context.Context, handle, content string) ([]core.Message, error) {
	args := b.Called(ctx, handle, content)
	msgs, _ := args.Get(0).([]core.Message)
	return msgs, args.Error(1)
}

func (b *mockBackend) EndSession(ctx context.Context, handle string) error {
	return b.Called(ctx, handle).Error(0)
}

// echoBackend answers every message with "echo: <content>" after an optional delay.
type echoBackend struct {
	delay time.Duration
}

func (echoBackend) Type() core.BackendType { return core.BackendNative }

func (echoBackend) CreateSession(context.Context, string, map[string]any) (string, error) {
	return "echo-handle", nil
}

func (b echoBackend) SendMessage(ctx context.Context, _, content string) ([]core.Message, error) {
	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []core.Message{core.NewAgentMessage("echo", "echo: "+content)}, nil
}

func (echoBackend) EndSession(context.Context, string) error { return nil }

// blockingBackend waits for the context to end.
type blockingBackend struct{}

func (blockingBackend) Type() core.BackendType { return core.BackendStudio }

func (blockingBackend) CreateSession(context.Context, string, map[string]any) (string, error) {
	return "blocking", nil
}

func (blockingBackend) SendMessage(ctx context.Context, _, _ string) ([]core.Message, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingBackend) EndSession(context.Context, string) error { return nil }

// strictStore refuses writes with a finished context, like a database driver would.
type strictStore struct {
	*history.MemoryStore
	failSave bool
}

func (s *strictStore) SaveSession(ctx context.Context, sess core.Session) error {
	if s.failSave {
		return errors.New("disk full")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.SaveSession(ctx, sess)
}

func (s *strictStore) Append(ctx context.Context, id string, msg core.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.Append(ctx, id, msg)
}

type recordingMetrics struct {
	mu      sync.Mutex
	records []core.MetricRecord
}

func (r *recordingMetrics) Record(rec core.MetricRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCreateSession(t *testing.T) {
	ctx := context.Background()
	store := history.NewMemoryStore()
	b := &mockBackend{bt: core.BackendNative}
	b.On("CreateSession", mock.Anything, "researcher", map[string]any{"temperature": 0.2}).Return("h1", nil)

	m := New(store, backend.NewRegistry(b))
	s, err := m.CreateSession(ctx, core.BackendNative, "researcher", func(o *CreateOptions) {
		o.Config = map[string]any{"temperature": 0.2}
		o.Tags = map[string]string{"owner": "ops"}
	})
	require.NoError(t, err)
	assert.Equal(t, core.StateActive, s.State)
	assert.Equal(t, "h1", s.BackendHandle)
	assert.Equal(t, "ops", s.Tags["owner"])

	stored, err := store.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, stored.ID)

	list := m.ListSessions(ctx)
	require.Len(t, list, 1)
	assert.Equal(t, s.ID, list[0].ID)
	b.AssertExpectations(t)
}

func TestCreateSession_InvalidInput(t *testing.T) {
	m := New(history.NewMemoryStore(), backend.NewRegistry(echoBackend{}))
	_, err := m.CreateSession(context.Background(), core.BackendNative, " ")
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = m.CreateSession(context.Background(), core.BackendTeam, "t")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestCreateSession_UnreachableBackendLeavesNothing(t *testing.T) {
	ctx := context.Background()
	store := history.NewMemoryStore()
	m := New(store, backend.NewRegistry(native.New("http://127.0.0.1:1", func(o *native.Options) {
		o.Timeout = time.Second
	})))

	_, err := m.CreateSession(ctx, core.BackendNative, "researcher")
	assert.ErrorIs(t, err, core.ErrBackendUnavailable)
	assert.Empty(t, m.ListSessions(ctx))

	stored, err := store.ListSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestCreateSession_PlainBackendErrorIsUnavailable(t *testing.T) {
	b := &mockBackend{bt: core.BackendStudio}
	b.On("CreateSession", mock.Anything, "team-1", mock.Anything).Return("", errors.New("boom"))
	m := New(history.NewMemoryStore(), backend.NewRegistry(b))

	_, err := m.CreateSession(context.Background(), core.BackendStudio, "team-1")
	assert.ErrorIs(t, err, core.ErrBackendUnavailable)
}

func TestCreateSession_PersistFailureEndsBackendSession(t *testing.T) {
	b := &mockBackend{bt: core.BackendNative}
	b.On("CreateSession", mock.Anything, "researcher", mock.Anything).Return("h1", nil)
	b.On("EndSession", mock.Anything, "h1").Return(nil)
	store := &strictStore{MemoryStore: history.NewMemoryStore(), failSave: true}
	m := New(store, backend.NewRegistry(b))

	_, err := m.CreateSession(context.Background(), core.BackendNative, "researcher")
	assert.ErrorIs(t, err, core.ErrDurabilityFailure)
	assert.Empty(t, m.ListSessions(context.Background()))
	b.AssertCalled(t, "EndSession", mock.Anything, "h1")
}

func TestSendMessage_Success(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	metrics := &recordingMetrics{}
	m := New(history.NewMemoryStore(), backend.NewRegistry(echoBackend{}), func(o *Options) {
		o.Clock = clk.Now
		o.Metrics = metrics
	})
	s, err := m.CreateSession(ctx, core.BackendNative, "researcher")
	require.NoError(t, err)

	res, err := m.SendMessage(ctx, s.ID, "show me\n```go\nx := 1\n```")
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "echo", res.Messages[0].AgentName)

	msgs, err := m.History(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, core.RoleUser, msgs[0].Role)
	assert.Equal(t, core.RoleAssistant, msgs[1].Role)
	assert.Equal(t, int64(1), msgs[0].Order)
	assert.Equal(t, int64(2), msgs[1].Order)
	// the clock stands still; timestamps must still increase
	assert.True(t, msgs[1].Timestamp.After(msgs[0].Timestamp))
	require.Len(t, msgs[0].Blocks, 2)
	assert.Equal(t, "go", msgs[0].Blocks[1].Language)

	require.Len(t, metrics.records, 1)
	assert.Equal(t, "researcher", metrics.records[0].AgentID)
	assert.Equal(t, s.ID, metrics.records[0].SessionID)
	assert.True(t, metrics.records[0].Success)
}

func TestSendMessage_BackendErrorKeepsTurn(t *testing.T) {
	ctx := context.Background()
	b := &mockBackend{bt: core.BackendNative}
	b.On("CreateSession", mock.Anything, "researcher", mock.Anything).Return("h1", nil)
	b.On("SendMessage", mock.Anything, "h1", "first").Return(nil, core.Errorf(core.KindBackendError, "native send message", "status 500")).Once()
	b.On("SendMessage", mock.Anything, "h1", "second").Return([]core.Message{core.NewAgentMessage("r", "fine")}, nil).Once()
	metrics := &recordingMetrics{}
	m := New(history.NewMemoryStore(), backend.NewRegistry(b), func(o *Options) { o.Metrics = metrics })

	s, err := m.CreateSession(ctx, core.BackendNative, "researcher")
	require.NoError(t, err)

	res, err := m.SendMessage(ctx, s.ID, "first")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ErrorKindBackend, res.ErrorKind)
	require.Len(t, res.Messages, 1)
	assert.True(t, res.Messages[0].IsError)
	assert.Equal(t, core.RoleSystem, res.Messages[0].Role)
	assert.Equal(t, "native", res.Messages[0].Metadata[core.MetaBackend])

	got, err := m.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateActive, got.State)

	res, err = m.SendMessage(ctx, s.ID, "second")
	require.NoError(t, err)
	assert.True(t, res.Success)

	msgs, err := m.History(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "first", msgs[0].Content)
	assert.True(t, msgs[1].IsError)
	assert.Equal(t, "second", msgs[2].Content)
	assert.Equal(t, "fine", msgs[3].Content)

	require.Len(t, metrics.records, 2)
	assert.False(t, metrics.records[0].Success)
	assert.Equal(t, string(core.KindBackendError), metrics.records[0].ErrorKind)
}

func TestSendMessage_TimeoutIsRecordedAfterDeadline(t *testing.T) {
	store := &strictStore{MemoryStore: history.NewMemoryStore()}
	m := New(store, backend.NewRegistry(blockingBackend{}), func(o *Options) {
		o.Config.SendTimeout = 20 * time.Millisecond
	})
	s, err := m.CreateSession(context.Background(), core.BackendStudio, "team")
	require.NoError(t, err)

	res, err := m.SendMessage(context.Background(), s.ID, "slow question")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ErrorKindTimeout, res.ErrorKind)

	// a caller deadline expiring mid-call still gets both messages persisted
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res, err = m.SendMessage(ctx, s.ID, "another")
	require.NoError(t, err)
	assert.Equal(t, ErrorKindTimeout, res.ErrorKind)

	msgs, err := m.History(context.Background(), s.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "slow question", msgs[0].Content)
	assert.Equal(t, ErrorKindTimeout, msgs[1].Metadata[core.MetaErrorKind])
	assert.Equal(t, "another", msgs[2].Content)
	assert.True(t, msgs[3].IsError)
}

func TestSendMessage_UnavailableFailsSession(t *testing.T) {
	ctx := context.Background()
	b := &mockBackend{bt: core.BackendNative}
	b.On("CreateSession", mock.Anything, "researcher", mock.Anything).Return("h1", nil)
	b.On("SendMessage", mock.Anything, "h1", "hi").Return(nil, core.Errorf(core.KindBackendUnavailable, "native send message", "session gone"))
	m := New(history.NewMemoryStore(), backend.NewRegistry(b))

	s, err := m.CreateSession(ctx, core.BackendNative, "researcher")
	require.NoError(t, err)
	res, err := m.SendMessage(ctx, s.ID, "hi")
	require.NoError(t, err)
	assert.False(t, res.Success)

	got, err := m.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateFailed, got.State)

	_, err = m.SendMessage(ctx, s.ID, "again")
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	msgs, err := m.History(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestSendMessage_Validation(t *testing.T) {
	ctx := context.Background()
	m := New(history.NewMemoryStore(), backend.NewRegistry(echoBackend{}))
	m.Callbacks().RegisterCallback(NewContentPolicyCallback(func(content string) error {
		if content == "forbidden" {
			return errors.New("not allowed")
		}
		return nil
	}))
	s, err := m.CreateSession(ctx, core.BackendNative, "researcher")
	require.NoError(t, err)

	_, err = m.SendMessage(ctx, s.ID, "   ")
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = m.SendMessage(ctx, "missing", "hi")
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = m.SendMessage(ctx, s.ID, "forbidden")
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	msgs, err := m.History(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSendMessage_ConcurrentSendsAreSequenced(t *testing.T) {
	ctx := context.Background()
	m := New(history.NewMemoryStore(), backend.NewRegistry(echoBackend{delay: time.Millisecond}))
	s, err := m.CreateSession(ctx, core.BackendNative, "researcher")
	require.NoError(t, err)

	var (
		mu        sync.Mutex
		submitted []string
	)
	m.Callbacks().RegisterCallback(NewFunctionCallback(CallbackBeforeSend, func(_ context.Context, cc *CallbackContext) error {
		mu.Lock()
		submitted = append(submitted, cc.Content)
		mu.Unlock()
		return nil
	}))

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.SendMessage(ctx, s.ID, fmt.Sprintf("msg-%d", i))
			assert.NoError(t, err)
			assert.True(t, res.Success)
		}()
	}
	wg.Wait()

	msgs, err := m.History(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2*n)
	var persisted []string
	for i, msg := range msgs {
		assert.Equal(t, int64(i+1), msg.Order)
		if i > 0 {
			assert.True(t, msg.Timestamp.After(msgs[i-1].Timestamp))
		}
		if i%2 == 0 {
			assert.Equal(t, core.RoleUser, msg.Role)
			assert.Equal(t, "echo: "+msg.Content, msgs[i+1].Content)
			persisted = append(persisted, msg.Content)
		}
	}

	// before_send runs under the turn lock, so its order is the turn order.
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, submitted, n)
	assert.Equal(t, submitted, persisted)
}

func TestIdleIsDerivedOnRead(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	store := history.NewMemoryStore()
	var transitions []string
	m := New(store, backend.NewRegistry(echoBackend{}), func(o *Options) {
		o.Clock = clk.Now
		o.Config.IdleAfter = time.Minute
	})
	m.Callbacks().RegisterCallback(NewFunctionCallback(CallbackOnStateChange, func(_ context.Context, cc *CallbackContext) error {
		transitions = append(transitions, string(cc.From)+"->"+string(cc.To))
		return nil
	}))

	s, err := m.CreateSession(ctx, core.BackendNative, "researcher")
	require.NoError(t, err)

	clk.Advance(30 * time.Second)
	got, err := m.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateActive, got.State)

	clk.Advance(time.Minute)
	got, err = m.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateIdle, got.State)
	assert.Equal(t, 90*time.Second, got.Uptime(clk.Now()))

	stored, err := store.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateIdle, stored.State)

	_, err = m.SendMessage(ctx, s.ID, "wake up")
	require.NoError(t, err)
	got, err = m.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateActive, got.State)
	assert.Equal(t, []string{"active->idle", "idle->active"}, transitions)
}

func TestEndSession(t *testing.T) {
	ctx := context.Background()
	b := &mockBackend{bt: core.BackendNative}
	b.On("CreateSession", mock.Anything, "researcher", mock.Anything).Return("h1", nil)
	b.On("SendMessage", mock.Anything, "h1", "hi").Return([]core.Message{core.NewAgentMessage("r", "hello")}, nil)
	b.On("EndSession", mock.Anything, "h1").Return(errors.New("already gone")).Once()
	m := New(history.NewMemoryStore(), backend.NewRegistry(b))

	s, err := m.CreateSession(ctx, core.BackendNative, "researcher")
	require.NoError(t, err)
	_, err = m.SendMessage(ctx, s.ID, "hi")
	require.NoError(t, err)

	ended, err := m.EndSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateEnded, ended.State)

	again, err := m.EndSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateEnded, again.State)
	b.AssertNumberOfCalls(t, "EndSession", 1)

	msgs, err := m.History(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	_, err = m.SendMessage(ctx, s.ID, "hi")
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = m.EndSession(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestDeleteSession(t *testing.T) {
	ctx := context.Background()
	store := history.NewMemoryStore()
	m := New(store, backend.NewRegistry(echoBackend{}))
	s, err := m.CreateSession(ctx, core.BackendNative, "researcher")
	require.NoError(t, err)
	_, err = m.SendMessage(ctx, s.ID, "hi")
	require.NoError(t, err)

	require.NoError(t, m.DeleteSession(ctx, s.ID))
	_, err = m.GetSession(ctx, s.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = m.History(ctx, s.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = store.GetSession(ctx, s.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	assert.ErrorIs(t, m.DeleteSession(ctx, s.ID), core.ErrNotFound)
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	store := history.NewMemoryStore()
	first := New(store, backend.NewRegistry(echoBackend{}))
	s, err := first.CreateSession(ctx, core.BackendNative, "researcher")
	require.NoError(t, err)
	_, err = first.SendMessage(ctx, s.ID, "one")
	require.NoError(t, err)

	second := New(store, backend.NewRegistry(echoBackend{}))
	n, err := second.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = second.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = second.SendMessage(ctx, s.ID, "two")
	require.NoError(t, err)
	msgs, err := second.History(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, int64(3), msgs[2].Order)
	assert.Equal(t, "two", msgs[2].Content)
}

func TestAfterSendCallback(t *testing.T) {
	ctx := context.Background()
	m := New(history.NewMemoryStore(), backend.NewRegistry(echoBackend{}))
	var replies int
	m.Callbacks().RegisterCallback(NewFunctionCallback(CallbackAfterSend, func(_ context.Context, cc *CallbackContext) error {
		replies += len(cc.Replies)
		assert.Equal(t, CallbackAfterSend, cc.CallbackType)
		return errors.New("ignored")
	}))
	s, err := m.CreateSession(ctx, core.BackendNative, "researcher")
	require.NoError(t, err)
	res, err := m.SendMessage(ctx, s.ID, "hi")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, replies)
}
