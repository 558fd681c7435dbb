package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/hupe1980/agentexchange/core"
	"github.com/hupe1980/agentexchange/history/storetest"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ core.HistoryStore = (*Store)(nil)

// newClient returns a client for AGENTEXCHANGE_TEST_REDIS or skips.
func newClient(t *testing.T) *goredis.Client {
	t.Helper()
	addr := os.Getenv("AGENTEXCHANGE_TEST_REDIS")
	if addr == "" {
		t.Skip("AGENTEXCHANGE_TEST_REDIS not set, skipping redis integration test")
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	return rdb
}

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) core.HistoryStore {
		prefix := "agentexchange-test-" + core.NewID()
		return New(newClient(t), func(o *Options) { o.Prefix = prefix })
	})
}

func TestStore_KeyLayout(t *testing.T) {
	s := New(goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"}), func(o *Options) { o.Prefix = "p" })
	defer s.Close()

	assert.Equal(t, "p:session:x", s.sessionKey("x"))
	assert.Equal(t, "p:log:x", s.logKey("x"))
	assert.Equal(t, "p:sessions", s.indexKey())
}

func TestDial_Unreachable(t *testing.T) {
	_, err := Dial(context.Background(), "127.0.0.1:1", "", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrDurabilityFailure)
}

func TestCheckAOF(t *testing.T) {
	assert.NoError(t, checkAOF("append", 1, []int64{1, 0}, nil))
	assert.NoError(t, checkAOF("append", 1, []int64{2, 1}, nil))

	for name, tc := range map[string]struct {
		acks []int64
		err  error
	}{
		"not fsynced":   {acks: []int64{0, 0}},
		"empty reply":   {acks: nil},
		"command error": {err: errors.New("ERR WAITAOF cannot be used when numlocal is set but appendonly is disabled")},
	} {
		t.Run(name, func(t *testing.T) {
			err := checkAOF("append", 1, tc.acks, tc.err)
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrDurabilityFailure)
		})
	}
}

func TestStore_WaitAOFDisabledByDefault(t *testing.T) {
	// No server behind this client: the check must not issue a command.
	s := New(goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1"}))
	defer s.Close()

	assert.NoError(t, s.syncAOF(context.Background(), "append"))
}

func TestStore_WaitAOFUnreachable(t *testing.T) {
	s := New(goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", MaxRetries: -1}), func(o *Options) {
		o.WaitAOF = 1
		o.AOFTimeout = 10 * time.Millisecond
	})
	defer s.Close()

	err := s.syncAOF(context.Background(), "append")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrDurabilityFailure)
}
