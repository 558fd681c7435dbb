// Package agentexchange provides a high-level façade over the session
// manager and its collaborators (history store, backends, metrics, team
// aggregation and logging). Most applications interact with this package by:
//  1. Creating an Exchange via New() with backends, or via FromConfig()
//  2. Creating sessions against a backend target and sending messages
//  3. Reading, exporting or serving the resulting transcripts
//
// The façade delegates orchestration to engine.SessionManager. All defaults
// are safe for local development and testing; production deployments supply
// a durable history store and a structured logger.
package agentexchange

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/hupe1980/agentexchange/backend"
	"github.com/hupe1980/agentexchange/core"
	"github.com/hupe1980/agentexchange/engine"
	"github.com/hupe1980/agentexchange/history"
	"github.com/hupe1980/agentexchange/history/export"
	"github.com/hupe1980/agentexchange/httpapi"
	"github.com/hupe1980/agentexchange/logging"
	"github.com/hupe1980/agentexchange/metrics"
	"github.com/hupe1980/agentexchange/team"
)

// Options configures an Exchange.
type Options struct {
	// EngineConfig tunes idle detection and send timeouts.
	EngineConfig engine.Config

	// Store persists history. Defaults to an in-memory store.
	Store core.HistoryStore

	// Backends serve sessions, one per BackendType.
	Backends []core.Backend

	// Metrics records backend calls. A recorder using the global OpenTelemetry
	// meter is created when nil.
	Metrics *metrics.Recorder

	// Relay enables the websocket relay endpoint of Handler.
	Relay httpapi.RelayDialer

	// HTTP tunes Handler.
	HTTP func(o *httpapi.Options)

	// Logger defaults to logging.NoOpLogger.
	Logger logging.Logger
}

// Exchange is the façade aggregating the session manager and its services.
type Exchange struct {
	opts       Options
	manager    *engine.SessionManager
	aggregator *team.Aggregator
	metrics    *metrics.Recorder
}

// New creates an Exchange. Unset services get in-memory defaults.
func New(optFns ...func(o *Options)) (*Exchange, error) {
	opts := Options{
		EngineConfig: engine.DefaultConfig,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Store == nil {
		opts.Store = history.NewMemoryStore()
	}
	if len(opts.Backends) == 0 {
		return nil, core.Errorf(core.KindInvalidInput, "new exchange", "at least one backend is required")
	}

	x := &Exchange{opts: opts}
	if opts.Metrics == nil {
		rec, err := metrics.NewRecorder(func(o *metrics.Options) { o.Logger = opts.Logger })
		if err != nil {
			return nil, err
		}
		opts.Metrics = rec
		x.opts.Metrics = rec
	}
	x.metrics = opts.Metrics

	x.manager = engine.New(opts.Store, backend.NewRegistry(opts.Backends...), func(o *engine.Options) {
		o.Config = opts.EngineConfig
		o.Metrics = opts.Metrics
		o.Logger = opts.Logger
	})
	x.aggregator = team.NewAggregator(opts.Store, func(o *team.Options) { o.Logger = opts.Logger })
	return x, nil
}

// Manager returns the session manager.
func (x *Exchange) Manager() *engine.SessionManager { return x.manager }

// Store returns the history store.
func (x *Exchange) Store() core.HistoryStore { return x.opts.Store }

// Metrics returns the metrics recorder.
func (x *Exchange) Metrics() *metrics.Recorder { return x.metrics }

// CreateSession opens a session against the backend of type bt.
func (x *Exchange) CreateSession(ctx context.Context, bt core.BackendType, targetID string, optFns ...func(o *engine.CreateOptions)) (core.Session, error) {
	return x.manager.CreateSession(ctx, bt, targetID, optFns...)
}

// SendMessage runs one turn on a session.
func (x *Exchange) SendMessage(ctx context.Context, sessionID, content string) (engine.SendResult, error) {
	return x.manager.SendMessage(ctx, sessionID, content)
}

// EndSession ends a session; its history stays readable.
func (x *Exchange) EndSession(ctx context.Context, sessionID string) (core.Session, error) {
	return x.manager.EndSession(ctx, sessionID)
}

// History returns a session's transcript.
func (x *Exchange) History(ctx context.Context, sessionID string) ([]core.Message, error) {
	return x.manager.History(ctx, sessionID)
}

// ExportTeam renders a team transcript.
func (x *Exchange) ExportTeam(ctx context.Context, sessionID string, optFns ...func(o *team.ExportOptions)) ([]core.ResultItem, error) {
	return x.aggregator.ExportTeam(ctx, sessionID, optFns...)
}

// ExportToFile writes a session transcript to path; the extension selects
// the format.
func (x *Exchange) ExportToFile(ctx context.Context, sessionID, path string) error {
	return export.ToFile(ctx, x.opts.Store, sessionID, path)
}

// Restore registers the sessions persisted by a previous process.
func (x *Exchange) Restore(ctx context.Context) (int, error) {
	return x.manager.Restore(ctx)
}

// Handler returns the HTTP API.
func (x *Exchange) Handler() http.Handler {
	return httpapi.NewHandler(x.manager, x.opts.Store, func(o *httpapi.Options) {
		o.Metrics = x.metrics
		o.Relay = x.opts.Relay
		o.Logger = x.opts.Logger
		if x.opts.HTTP != nil {
			x.opts.HTTP(o)
		}
	})
}

// Serve restores persisted sessions and serves the HTTP API on addr until
// ctx is cancelled.
func (x *Exchange) Serve(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	if _, err := x.Restore(ctx); err != nil {
		return err
	}
	return httpapi.Serve(ctx, addr, x.Handler(), shutdownTimeout, x.opts.Logger)
}

// Close stops the metrics recorder and closes the store.
func (x *Exchange) Close() error {
	var errs []error
	if err := x.metrics.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := x.opts.Store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
