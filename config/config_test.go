package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
log:
  level: debug
  format: json
store:
  driver: sqlite
  path: ${AX_TEST_DIR:-/var/lib/agentexchange}/history.db
session:
  idle_after: 10m
  send_timeout: 90s
backends:
  native:
    base_url: http://runtime:8000
    token: ${AX_TEST_TOKEN}
    requests_per_second: 5
  studio:
    base_url: http://studio:8081
    ws_url: ws://studio:8081
teams:
  - id: review
    mode: parallel
    max_model_calls: 4
    agents:
      - name: critic
        provider: openai
        model: gpt-4o-mini
        instruction: Review {{.topic}} critically.
      - name: echo
        provider: mock
`

func TestParse(t *testing.T) {
	t.Setenv("AX_TEST_TOKEN", "s3cret")
	t.Setenv("AX_TEST_DIR", "")

	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/var/lib/agentexchange/history.db", cfg.Store.Path)
	assert.Equal(t, "s3cret", cfg.Backends.Native.Token)
	assert.Equal(t, 5.0, cfg.Backends.Native.RequestsPerSecond)
	assert.Equal(t, "http://studio:8081", cfg.Backends.Studio.BaseURL)
	assert.Equal(t, "ws://studio:8081", cfg.Backends.Studio.WSURL)
	require.Len(t, cfg.Teams, 1)
	assert.Equal(t, "parallel", cfg.Teams[0].Mode)
	assert.Equal(t, "Review {{.topic}} critically.", cfg.Teams[0].Agents[0].Instruction)

	// defaults survive for sections the file does not mention
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 1024, cfg.Metrics.BufferSize)
	assert.Equal(t, 10*time.Minute, Duration(cfg.Session.IdleAfter, 0))
	assert.Equal(t, 90*time.Second, Duration(cfg.Session.SendTimeout, 0))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AGENTEXCHANGE_STORE_DRIVER", "redis")
	t.Setenv("AGENTEXCHANGE_REDIS_ADDR", "localhost:6379")
	t.Setenv("AGENTEXCHANGE_ADDR", "127.0.0.1:9000")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, "localhost:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.NoError(t, cfg.Validate())
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Log.Level = "loud"
	cfg.Store.Driver = "sqlite"
	cfg.Session.IdleAfter = "soon"
	cfg.Backends.Native = &HTTPBackendConfig{}
	cfg.Teams = []TeamConfig{
		{ID: "t", Mode: "round-robin", Agents: []AgentConfig{{Name: "a", Provider: "gemini"}}},
		{ID: "t"},
	}

	err := cfg.Validate()
	require.Error(t, err)
	for _, field := range []string{
		"log.level", "store.path", "session.idle_after", "backends.native.base_url",
		"teams[0].mode", "teams[0].agents[0].provider", "teams[0].agents[0].model",
		"teams[1].id", "teams[1].agents",
	} {
		assert.Contains(t, err.Error(), field)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "agentexchange.yaml")
	cfg := DefaultConfig()
	cfg.Store.Driver = "sqlite"
	cfg.Store.Path = "/tmp/h.db"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("AX_SET", "value")
	assert.Equal(t, "value-fallback-", ExpandEnv("${AX_SET}-${AX_UNSET:-fallback}-${AX_UNSET}"))
}
