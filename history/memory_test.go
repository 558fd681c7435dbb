package history

import (
	"context"
	"testing"
	"time"

	"github.com/hupe1980/agentexchange/core"
	"github.com/hupe1980/agentexchange/history/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Interface compliance (compile-time assertion)
var _ core.HistoryStore = (*MemoryStore)(nil)

func TestMemoryStore_Conformance(t *testing.T) {
	storetest.Run(t, func(*testing.T) core.HistoryStore { return NewMemoryStore() })
}

func TestMemoryStore_LoadReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.SaveSession(ctx, storetest.NewSession("s", time.Now())))
	msg := storetest.NewMessage(1, core.RoleUser, "original")
	msg.Metadata = map[string]string{"k": "v"}
	require.NoError(t, s.Append(ctx, "s", msg))

	loaded, err := s.Load(ctx, "s")
	require.NoError(t, err)
	loaded[0].Content = "changed"
	loaded[0].Metadata["k"] = "changed"

	again, err := s.Load(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "original", again[0].Content)
	assert.Equal(t, "v", again[0].Metadata["k"])
}

func TestCheckAppend(t *testing.T) {
	msg := storetest.NewMessage(3, core.RoleUser, "x")
	assert.NoError(t, CheckAppend("s", 2, msg))
	assert.ErrorIs(t, CheckAppend("s", 3, msg), core.ErrInvalidInput)
	assert.ErrorIs(t, CheckAppend("", 0, msg), core.ErrInvalidInput)

	msg.ID = ""
	assert.ErrorIs(t, CheckAppend("s", 0, msg), core.ErrInvalidInput)
}
