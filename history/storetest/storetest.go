// Package storetest provides a conformance suite shared by every
// core.HistoryStore implementation.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hupe1980/agentexchange/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) core.HistoryStore

// Run executes the conformance suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("SaveGetList", func(t *testing.T) { testSaveGetList(t, newStore(t)) })
	t.Run("AppendLoad", func(t *testing.T) { testAppendLoad(t, newStore(t)) })
	t.Run("RejectsOutOfOrder", func(t *testing.T) { testRejectsOutOfOrder(t, newStore(t)) })
	t.Run("UnknownSession", func(t *testing.T) { testUnknownSession(t, newStore(t)) })
	t.Run("Clear", func(t *testing.T) { testClear(t, newStore(t)) })
}

// NewSession returns a deterministic session record for tests.
func NewSession(id string, created time.Time) core.Session {
	return core.Session{
		ID:             id,
		BackendType:    core.BackendTeam,
		TargetID:       "team-" + id,
		BackendHandle:  "handle-" + id,
		CreatedAt:      created,
		LastActivityAt: created,
		State:          core.StateActive,
		Tags:           map[string]string{"suite": "storetest"},
	}
}

// NewMessage returns a message with the given order and a timestamp derived from it.
func NewMessage(order int64, role core.Role, text string) core.Message {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return core.Message{
		ID:        fmt.Sprintf("msg-%d", order),
		Role:      role,
		Content:   text,
		Timestamp: base.Add(time.Duration(order) * time.Millisecond),
		Order:     order,
	}
}

func testSaveGetList(t *testing.T, store core.HistoryStore) {
	defer store.Close()
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveSession(ctx, NewSession("b", t0.Add(time.Minute))))
	require.NoError(t, store.SaveSession(ctx, NewSession("a", t0)))

	got, err := store.GetSession(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, core.BackendTeam, got.BackendType)
	assert.Equal(t, "team-a", got.TargetID)
	assert.Equal(t, "handle-a", got.BackendHandle)
	assert.True(t, t0.Equal(got.CreatedAt))
	assert.Equal(t, "storetest", got.Tags["suite"])

	updated := got
	updated.State = core.StateEnded
	require.NoError(t, store.SaveSession(ctx, updated))
	got, err = store.GetSession(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, core.StateEnded, got.State)

	list, err := store.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
}

func testAppendLoad(t *testing.T, store core.HistoryStore) {
	defer store.Close()
	ctx := context.Background()
	require.NoError(t, store.SaveSession(ctx, NewSession("s", time.Now().UTC())))

	user := NewMessage(1, core.RoleUser, "hi")
	reply := NewMessage(2, core.RoleAssistant, "hello\n```go\nx := 1\n```")
	reply.AgentName = "coder"
	reply.Blocks = []core.ContentBlock{
		{Type: core.BlockText, Content: "hello"},
		{Type: core.BlockCode, Content: "x := 1", Language: "go", Index: 1},
	}
	failure := core.NewErrorMessage("timeout", "backend timed out")
	failure.Order = 3

	for _, m := range []core.Message{user, reply, failure} {
		require.NoError(t, store.Append(ctx, "s", m))
	}

	first, err := store.Load(ctx, "s")
	require.NoError(t, err)
	second, err := store.Load(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, first, second, "load must be idempotent")

	require.Len(t, first, 3)
	for i, m := range first {
		assert.Equal(t, int64(i+1), m.Order)
		assert.Equal(t, "s", m.SessionID)
	}
	assert.Equal(t, "coder", first[1].AgentName)
	assert.Equal(t, reply.Blocks, first[1].Blocks)
	assert.True(t, reply.Timestamp.Equal(first[1].Timestamp))
	assert.True(t, first[2].IsError)
	assert.Equal(t, "timeout", first[2].Metadata[core.MetaErrorKind])
}

func testRejectsOutOfOrder(t *testing.T, store core.HistoryStore) {
	defer store.Close()
	ctx := context.Background()
	require.NoError(t, store.SaveSession(ctx, NewSession("s", time.Now().UTC())))

	require.NoError(t, store.Append(ctx, "s", NewMessage(5, core.RoleUser, "x")))
	err := store.Append(ctx, "s", NewMessage(5, core.RoleUser, "dup"))
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	err = store.Append(ctx, "s", NewMessage(4, core.RoleUser, "late"))
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	msgs, err := store.Load(ctx, "s")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "x", msgs[0].Content)
}

func testUnknownSession(t *testing.T, store core.HistoryStore) {
	defer store.Close()
	ctx := context.Background()

	_, err := store.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = store.Load(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	err = store.Append(ctx, "missing", NewMessage(1, core.RoleUser, "x"))
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testClear(t *testing.T, store core.HistoryStore) {
	defer store.Close()
	ctx := context.Background()
	require.NoError(t, store.SaveSession(ctx, NewSession("s", time.Now().UTC())))
	require.NoError(t, store.Append(ctx, "s", NewMessage(1, core.RoleUser, "x")))

	require.NoError(t, store.Clear(ctx, "s"))

	_, err := store.GetSession(ctx, "s")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = store.Load(ctx, "s")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, store.Clear(ctx, "s"), core.ErrNotFound)
}
