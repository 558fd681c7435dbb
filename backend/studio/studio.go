// Package studio implements core.Backend against the multi-agent studio.
//
// REST (JSON envelopes {"status":bool,"message":string,"data":...}):
//
//	POST   {base}/api/sessions               {"team_id":"...","config":{...}} -> data {"id":N}
//	POST   {base}/api/sessions/{id}/messages StudioMessage                     -> data [StudioMessage...]
//	DELETE {base}/api/sessions/{id}
//
// A "status": false answer is a backend failure even with HTTP 200. Live
// traffic flows over {ws}/api/ws/sessions/{id}; see Dial and Relay.
package studio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hupe1980/agentexchange/core"
	"github.com/hupe1980/agentexchange/exchange"
	"github.com/hupe1980/agentexchange/internal/httpjson"
	"github.com/hupe1980/agentexchange/logging"
)

// Options configures the studio backend.
type Options struct {
	Token             string
	Timeout           time.Duration
	RequestsPerSecond float64
	HTTPClient        *http.Client
	// WSURL is the websocket base. Derived from the HTTP base when empty.
	WSURL  string
	Dialer *websocket.Dialer
	Logger logging.Logger
}

// Backend talks to one studio instance.
type Backend struct {
	client *httpjson.Client
	wsURL  string
	token  string
	dialer *websocket.Dialer
	logger logging.Logger
}

type envelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message,omitempty"`
	Data    T      `json:"data"`
}

type createRequest struct {
	TeamID string         `json:"team_id"`
	Config map[string]any `json:"config,omitempty"`
}

type createData struct {
	ID json.Number `json:"id"`
}

// New creates a studio backend for baseURL.
func New(baseURL string, optFns ...func(o *Options)) *Backend {
	opts := Options{Timeout: 300 * time.Second, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.WSURL == "" {
		opts.WSURL = wsFromHTTP(baseURL)
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	client := httpjson.New(baseURL, func(o *httpjson.Options) {
		o.Token = opts.Token
		o.Timeout = opts.Timeout
		o.RequestsPerSecond = opts.RequestsPerSecond
		o.HTTPClient = opts.HTTPClient
		o.Logger = opts.Logger
	})
	return &Backend{
		client: client,
		wsURL:  strings.TrimRight(opts.WSURL, "/"),
		token:  opts.Token,
		dialer: opts.Dialer,
		logger: opts.Logger,
	}
}

func wsFromHTTP(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}

// Type implements core.Backend.
func (b *Backend) Type() core.BackendType { return core.BackendStudio }

// CreateSession creates a studio session running team targetID.
func (b *Backend) CreateSession(ctx context.Context, targetID string, cfg map[string]any) (string, error) {
	var resp envelope[createData]
	err := b.client.Do(ctx, http.MethodPost, "/api/sessions", createRequest{TeamID: targetID, Config: cfg}, &resp)
	if err != nil {
		return "", httpjson.CreateError("studio create session", err)
	}
	if !resp.Status || resp.Data.ID == "" {
		return "", core.Errorf(core.KindBackendUnavailable, "studio create session", "studio refused: %s", resp.Message)
	}
	return resp.Data.ID.String(), nil
}

// SendMessage posts content and returns the agents' replies in studio order.
func (b *Backend) SendMessage(ctx context.Context, handle, content string) ([]core.Message, error) {
	var resp envelope[[]exchange.StudioMessage]
	path := "/api/sessions/" + url.PathEscape(handle) + "/messages"
	if err := b.client.Do(ctx, http.MethodPost, path, exchange.ToStudio(content), &resp); err != nil {
		return nil, httpjson.CallError("studio send message", err)
	}
	if !resp.Status {
		return nil, core.Errorf(core.KindBackendError, "studio send message", "studio error: %s", resp.Message)
	}
	return exchange.DecodeMessagesToChat(exchange.FromStudio(resp.Data), func(o *exchange.DecodeOptions) {
		o.Roles = []core.Role{core.RoleAssistant, core.RoleSystem, core.RoleTool}
	}), nil
}

// EndSession deletes the studio session.
func (b *Backend) EndSession(ctx context.Context, handle string) error {
	var resp envelope[json.RawMessage]
	if err := b.client.Do(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(handle), nil, &resp); err != nil {
		return httpjson.CallError("studio end session", err)
	}
	if !resp.Status {
		return core.Errorf(core.KindBackendError, "studio end session", "studio error: %s", resp.Message)
	}
	return nil
}

// Dial opens the live message socket of a studio session.
func (b *Backend) Dial(ctx context.Context, handle string) (*websocket.Conn, error) {
	header := http.Header{}
	if b.token != "" {
		header.Set("Authorization", "Bearer "+b.token)
	}
	conn, resp, err := b.dialer.DialContext(ctx, b.wsURL+"/api/ws/sessions/"+url.PathEscape(handle), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, core.NewError(core.KindBackendUnavailable, "studio dial", err)
	}
	return conn, nil
}
