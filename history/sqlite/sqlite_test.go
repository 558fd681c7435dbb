package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hupe1980/agentexchange/core"
	"github.com/hupe1980/agentexchange/history/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ core.HistoryStore = (*Store)(nil)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	return s
}

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) core.HistoryStore { return openTemp(t) })
}

func TestStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := Open(path)
	require.NoError(t, err)
	sess := storetest.NewSession("persist", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, s.SaveSession(ctx, sess))
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, s.Append(ctx, sess.ID, storetest.NewMessage(i, core.RoleUser, "turn")))
	}
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.TargetID, got.TargetID)

	msgs, err := reopened.Load(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, int64(3), msgs[2].Order)

	// Order continues from what is on disk.
	err = reopened.Append(ctx, sess.ID, storetest.NewMessage(2, core.RoleUser, "stale"))
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	assert.NoError(t, reopened.Append(ctx, sess.ID, storetest.NewMessage(4, core.RoleAssistant, "next")))
}

func TestStore_ClosedDatabaseIsDurabilityFailure(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.Close())

	err := s.SaveSession(context.Background(), storetest.NewSession("x", time.Now()))
	assert.ErrorIs(t, err, core.ErrDurabilityFailure)
}
