// Package native implements core.Backend against the native agent runtime.
//
// Wire protocol (JSON over HTTP):
//
//	POST   {base}/agents/{target}/sessions   {"config":{...}}
//	       -> {"session_id":"..."}
//	POST   {base}/sessions/{handle}/messages {"role":"user","content":"..."}
//	       -> {"messages":[RawMessage...]}
//	DELETE {base}/sessions/{handle}
//
// Tool servers attached to the runtime are reached through it; their output
// comes back as tool-role messages in the reply list.
package native

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/hupe1980/agentexchange/core"
	"github.com/hupe1980/agentexchange/exchange"
	"github.com/hupe1980/agentexchange/internal/httpjson"
	"github.com/hupe1980/agentexchange/logging"
)

// Options configures the native backend.
type Options struct {
	Token             string
	Timeout           time.Duration
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Logger            logging.Logger
}

// Backend talks to one native runtime.
type Backend struct {
	client *httpjson.Client
	logger logging.Logger
}

type createRequest struct {
	Config map[string]any `json:"config,omitempty"`
}

type createResponse struct {
	SessionID string `json:"session_id"`
}

type sendResponse struct {
	Messages []exchange.RawMessage `json:"messages"`
}

// New creates a native backend for baseURL.
func New(baseURL string, optFns ...func(o *Options)) *Backend {
	opts := Options{Timeout: 120 * time.Second, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	client := httpjson.New(baseURL, func(o *httpjson.Options) {
		o.Token = opts.Token
		o.Timeout = opts.Timeout
		o.RequestsPerSecond = opts.RequestsPerSecond
		o.HTTPClient = opts.HTTPClient
		o.Logger = opts.Logger
	})
	return &Backend{client: client, logger: opts.Logger}
}

// Type implements core.Backend.
func (b *Backend) Type() core.BackendType { return core.BackendNative }

// CreateSession opens a runtime session for the agent targetID.
func (b *Backend) CreateSession(ctx context.Context, targetID string, cfg map[string]any) (string, error) {
	var resp createResponse
	path := "/agents/" + url.PathEscape(targetID) + "/sessions"
	if err := b.client.Do(ctx, http.MethodPost, path, createRequest{Config: cfg}, &resp); err != nil {
		return "", httpjson.CreateError("native create session", err)
	}
	if resp.SessionID == "" {
		return "", core.Errorf(core.KindBackendUnavailable, "native create session", "runtime returned no session id")
	}
	return resp.SessionID, nil
}

// SendMessage posts content and returns the runtime's replies. Echoed user
// messages are dropped.
func (b *Backend) SendMessage(ctx context.Context, handle, content string) ([]core.Message, error) {
	var resp sendResponse
	path := "/sessions/" + url.PathEscape(handle) + "/messages"
	if err := b.client.Do(ctx, http.MethodPost, path, exchange.ToNative(content), &resp); err != nil {
		return nil, httpjson.CallError("native send message", err)
	}
	return exchange.DecodeMessagesToChat(resp.Messages, func(o *exchange.DecodeOptions) {
		o.Roles = []core.Role{core.RoleAssistant, core.RoleSystem, core.RoleTool}
	}), nil
}

// EndSession releases the runtime session.
func (b *Backend) EndSession(ctx context.Context, handle string) error {
	if err := b.client.Do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(handle), nil, nil); err != nil {
		return httpjson.CallError("native end session", err)
	}
	return nil
}
