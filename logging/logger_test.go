package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Logger = (*StructuredLogger)(nil)
var _ Logger = NoOpLogger{}

func newBufferLogger(level LogLevel) (*StructuredLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	cfg := DefaultLoggerConfig()
	cfg.Output = buf
	cfg.Level = level
	return NewLogger(cfg), buf
}

func TestStructuredLogger_AttachesContext(t *testing.T) {
	l, buf := newBufferLogger(LogLevelDebug)

	l.WithComponent("engine").WithSession("s-1").WithContext("k", "v").Info("hello", "count", 2)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "engine", entry["component"])
	assert.Equal(t, "s-1", entry["session_id"])
	assert.Equal(t, "v", entry["k"])
	assert.EqualValues(t, 2, entry["count"])
}

func TestStructuredLogger_LevelFilter(t *testing.T) {
	l, buf := newBufferLogger(LogLevelWarn)

	l.Debug("nope")
	l.Info("nope")
	assert.Zero(t, buf.Len())

	l.Warn("yes")
	assert.Contains(t, buf.String(), `"yes"`)
}

func TestStructuredLogger_LogBackendCall(t *testing.T) {
	l, buf := newBufferLogger(LogLevelInfo)

	l.LogBackendCall("native", "agent-1", 15*time.Millisecond, false, errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, "Backend call failed")
	assert.Contains(t, out, `"error":"boom"`)
	assert.Contains(t, out, `"level":"ERROR"`)
}

func TestStructuredLogger_WithDoesNotMutateParent(t *testing.T) {
	parent, buf := newBufferLogger(LogLevelInfo)
	_ = parent.WithContext("child", true)

	parent.Info("plain")
	assert.False(t, strings.Contains(buf.String(), "child"))
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, LogLevelDebug, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, LogLevelInfo, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestLogLevel_Slog(t *testing.T) {
	assert.Equal(t, "WARN", LogLevelWarn.String())
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
	assert.Equal(t, slog.LevelError, LogLevelError.Slog())
	assert.Equal(t, slog.LevelInfo, LogLevel(42).Slog())
}

func TestStructuredLogger_LogTransitionAndAttrs(t *testing.T) {
	buf := &bytes.Buffer{}
	l := NewLogger(&LoggerConfig{Level: LogLevelInfo, Format: "text", Output: buf, Attrs: map[string]any{"svc": "exchange"}})

	l.LogTransition("s-9", "active", "idle")

	out := buf.String()
	assert.Contains(t, out, "svc=exchange")
	assert.Contains(t, out, "from=active")
	assert.Contains(t, out, "to=idle")
}

func TestNewSlogAdapter(t *testing.T) {
	buf := &bytes.Buffer{}
	l := NewSlogAdapter(slog.New(slog.NewTextHandler(buf, nil)))
	l.Info("adapted", "k", 1)
	assert.Contains(t, buf.String(), "k=1")
	assert.NotNil(t, NewSlogAdapter(nil))
}
