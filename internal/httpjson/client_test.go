package httpjson

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hupe1980/agentexchange/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Do(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/echo":
			var in map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			_ = json.NewEncoder(w).Encode(map[string]string{"got": in["say"]})
		case "/gone":
			http.Error(w, "no such session", http.StatusGone)
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := New(srv.URL+"/", func(o *Options) { o.Token = "secret" })
	assert.Equal(t, srv.URL, c.Base())

	var out map[string]string
	require.NoError(t, c.Do(context.Background(), http.MethodPost, "/echo", map[string]string{"say": "hi"}, &out))
	assert.Equal(t, "hi", out["got"])

	err := c.Do(context.Background(), http.MethodGet, "/gone", nil, nil)
	assert.True(t, IsStatus(err, http.StatusGone))
	assert.ErrorIs(t, CallError("send", err), core.ErrBackendUnavailable)

	err = c.Do(context.Background(), http.MethodGet, "/other", nil, nil)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "boom", se.Body)
	assert.ErrorIs(t, CallError("send", err), core.ErrBackendError)
}

func TestCallError_Classification(t *testing.T) {
	c := New("http://127.0.0.1:1")
	err := c.Do(context.Background(), http.MethodGet, "/", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, CallError("send", err), core.ErrBackendUnavailable)
	assert.ErrorIs(t, CreateError("create", err), core.ErrBackendUnavailable)

	timeout := CallError("send", context.DeadlineExceeded)
	assert.ErrorIs(t, timeout, core.ErrBackendError)
	assert.True(t, core.IsTimeout(timeout))
}

func TestClient_RateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c := New(srv.URL, func(o *Options) { o.RequestsPerSecond = 0.001 })
	require.NoError(t, c.Do(context.Background(), http.MethodGet, "/", nil, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, c.Do(ctx, http.MethodGet, "/", nil, nil))
}
