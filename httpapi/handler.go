package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hupe1980/agentexchange/backend/studio"
	"github.com/hupe1980/agentexchange/core"
	"github.com/hupe1980/agentexchange/engine"
	"github.com/hupe1980/agentexchange/exchange"
	"github.com/hupe1980/agentexchange/history/export"
	"github.com/hupe1980/agentexchange/logging"
	"github.com/hupe1980/agentexchange/metrics"
	"github.com/hupe1980/agentexchange/team"
)

// MetricsSource answers metric queries.
type MetricsSource interface {
	Query(f metrics.Filter) []core.MetricRecord
	Stats(f metrics.Filter) metrics.Stats
}

// RelayDialer opens the live socket of a backend session.
type RelayDialer interface {
	Dial(ctx context.Context, handle string) (*websocket.Conn, error)
}

// Options configures a Handler.
type Options struct {
	// Metrics enables GET /metrics.
	Metrics MetricsSource
	// Relay enables GET /sessions/{id}/relay for studio sessions.
	Relay    RelayDialer
	Upgrader *websocket.Upgrader
	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64
	Logger       logging.Logger
}

// Handler serves the session API.
type Handler struct {
	manager    *engine.SessionManager
	aggregator *team.Aggregator
	store      core.HistoryStore
	opts       Options
	mux        *http.ServeMux
}

// NewHandler creates a Handler. store is the manager's HistoryStore and backs
// team exports and downloads.
func NewHandler(manager *engine.SessionManager, store core.HistoryStore, optFns ...func(o *Options)) *Handler {
	opts := Options{
		Upgrader:     &websocket.Upgrader{},
		MaxBodyBytes: 1 << 20,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	h := &Handler{
		manager: manager,
		aggregator: team.NewAggregator(store, func(o *team.Options) {
			o.Logger = opts.Logger
		}),
		store: store,
		opts:  opts,
		mux:   http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /sessions", h.HandleCreate)
	h.mux.HandleFunc("GET /sessions", h.HandleList)
	h.mux.HandleFunc("GET /sessions/{id}", h.HandleGet)
	h.mux.HandleFunc("DELETE /sessions/{id}", h.HandleEnd)
	h.mux.HandleFunc("DELETE /sessions/{id}/history", h.HandleDelete)
	h.mux.HandleFunc("POST /sessions/{id}/messages", h.HandleSend)
	h.mux.HandleFunc("GET /sessions/{id}/messages", h.HandleHistory)
	h.mux.HandleFunc("GET /sessions/{id}/exchange", h.HandleExchange)
	h.mux.HandleFunc("GET /sessions/{id}/export", h.HandleExport)
	h.mux.HandleFunc("GET /sessions/{id}/download", h.HandleDownload)
	h.mux.HandleFunc("GET /sessions/{id}/relay", h.HandleRelay)
	h.mux.HandleFunc("GET /metrics", h.HandleMetrics)
	h.mux.HandleFunc("GET /healthz", h.HandleHealth)
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// SessionView is a session as returned by the API.
type SessionView struct {
	core.Session
	UptimeMs int64 `json:"uptime_ms"`
}

func view(s core.Session) SessionView {
	return SessionView{Session: s, UptimeMs: s.Uptime(time.Now()).Milliseconds()}
}

// CreateRequest is the body of POST /sessions.
type CreateRequest struct {
	BackendType string            `json:"backend_type"`
	TargetID    string            `json:"target_id"`
	Config      map[string]any    `json:"config,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// SendRequest is the body of POST /sessions/{id}/messages.
type SendRequest struct {
	Content string `json:"content"`
}

// ErrorResponse is the body of every error answer.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// MetricsResponse is the body of GET /metrics.
type MetricsResponse struct {
	Records []core.MetricRecord `json:"records"`
	Stats   metrics.Stats       `json:"stats"`
}

// HandleCreate creates a session.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !h.decode(w, r, &req) {
		return
	}
	bt, err := core.ParseBackendType(req.BackendType)
	if err != nil {
		h.sendError(w, err)
		return
	}
	s, err := h.manager.CreateSession(r.Context(), bt, req.TargetID, func(o *engine.CreateOptions) {
		o.Config = req.Config
		o.Tags = req.Tags
	})
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, view(s))
}

// HandleList lists sessions.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	sessions := h.manager.ListSessions(r.Context())
	out := make([]SessionView, len(sessions))
	for i, s := range sessions {
		out[i] = view(s)
	}
	h.writeJSON(w, http.StatusOK, out)
}

// HandleGet returns one session.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view(s))
}

// HandleEnd ends a session.
func (h *Handler) HandleEnd(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.EndSession(r.Context(), r.PathValue("id"))
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view(s))
}

// HandleDelete permanently deletes a session's history and metadata. The
// operation is irreversible and requires confirm=true.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		h.sendError(w, core.Errorf(core.KindInvalidInput, "delete history",
			"deleting history is irreversible; repeat with confirm=true"))
		return
	}
	if err := h.manager.DeleteSession(r.Context(), r.PathValue("id")); err != nil {
		h.sendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSend sends a message. A failed backend turn still answers 200 with
// success=false; the failure is part of the transcript.
func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.manager.SendMessage(r.Context(), r.PathValue("id"), req.Content)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// HandleHistory returns the transcript.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.manager.History(r.Context(), r.PathValue("id"))
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, msgs)
}

// HandleExchange returns the transcript encoded as an exchange payload.
// markdown=false disables role headers.
func (h *Handler) HandleExchange(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.manager.History(r.Context(), r.PathValue("id"))
	if err != nil {
		h.sendError(w, err)
		return
	}
	payload, err := exchange.EncodeMessages(msgs, func(o *exchange.EncodeOptions) {
		o.FormatAsMarkdown = r.URL.Query().Get("markdown") != "false"
	})
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, payload)
}

// HandleExport renders a team export.
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format, err := team.ParseFormat(q.Get("format"))
	if err != nil {
		h.sendError(w, err)
		return
	}
	items, err := h.aggregator.ExportTeam(r.Context(), r.PathValue("id"), func(o *team.ExportOptions) {
		o.Format = format
		o.IncludeAgents = q["agent"]
	})
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, items)
}

// HandleDownload streams the transcript as a file in the requested format
// (json, jsonl, yaml, md), zstd compressed when compress=true.
func (h *Handler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format := q.Get("format")
	if format == "" {
		format = "json"
	}
	exp, err := export.NewExporter(format)
	if err != nil {
		h.sendError(w, err)
		return
	}
	compress := q.Get("compress") == "true"
	id := r.PathValue("id")
	doc, err := export.Load(r.Context(), h.store, id)
	if err != nil {
		h.sendError(w, err)
		return
	}

	name := id + "." + exp.Extension()
	contentType := "application/octet-stream"
	if compress {
		name += ".zst"
		contentType = "application/zstd"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if err := export.Write(doc, format, compress, w); err != nil {
		h.opts.Logger.Warn("writing download", "session_id", id, "error", err)
	}
}

// HandleRelay upgrades the request and relays it to the studio session's
// live socket until either side closes.
func (h *Handler) HandleRelay(w http.ResponseWriter, r *http.Request) {
	if h.opts.Relay == nil {
		h.sendError(w, core.Errorf(core.KindInvalidInput, "relay", "relay is not configured"))
		return
	}
	s, err := h.manager.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		h.sendError(w, err)
		return
	}
	if s.BackendType != core.BackendStudio || s.State.Terminal() {
		h.sendError(w, core.Errorf(core.KindInvalidInput, "relay", "session %s cannot be relayed (%s, %s)", s.ID, s.BackendType, s.State))
		return
	}

	upstream, err := h.opts.Relay.Dial(r.Context(), s.BackendHandle)
	if err != nil {
		h.sendError(w, err)
		return
	}
	client, err := h.opts.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		upstream.Close()
		h.opts.Logger.Warn("relay upgrade failed", "session_id", s.ID, "error", err)
		return
	}

	h.opts.Logger.Info("relay started", "session_id", s.ID)
	err = studio.Relay(r.Context(), client, upstream)
	h.opts.Logger.Info("relay stopped", "session_id", s.ID, "error", err)
}

// HandleMetrics returns metric records and their aggregate.
func (h *Handler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.opts.Metrics == nil {
		h.sendError(w, core.Errorf(core.KindNotFound, "metrics", "metrics are disabled"))
		return
	}
	q := r.URL.Query()
	f := metrics.Filter{AgentID: q.Get("agent"), SessionID: q.Get("session")}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			h.sendError(w, core.Errorf(core.KindInvalidInput, "metrics", "invalid limit %q", l))
			return
		}
		f.Limit = n
	}
	records := h.opts.Metrics.Query(f)
	if records == nil {
		records = []core.MetricRecord{}
	}
	h.writeJSON(w, http.StatusOK, MetricsResponse{Records: records, Stats: h.opts.Metrics.Stats(f)})
}

// HandleHealth reports liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		h.sendError(w, core.NewError(core.KindInvalidInput, "decode request", err))
		return false
	}
	return true
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	if core.IsTimeout(err) {
		return http.StatusGatewayTimeout
	}
	switch core.KindOf(err) {
	case core.KindInvalidInput:
		return http.StatusBadRequest
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindBackendUnavailable, core.KindBackendError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) sendError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= 500 {
		h.opts.Logger.Error("request failed", "status", status, "error", err)
	}
	resp := ErrorResponse{Error: err.Error(), Kind: string(core.KindOf(err))}
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		status = http.StatusRequestEntityTooLarge
	}
	h.writeJSON(w, status, resp)
}

// writeJSON encodes value as JSON into w. Encoding errors mean the client is
// gone and are only logged.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		h.opts.Logger.Warn("writing JSON response", "error", err)
	}
}
