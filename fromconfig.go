package agentexchange

import (
	"context"
	"fmt"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/hupe1980/agentexchange/backend/native"
	"github.com/hupe1980/agentexchange/backend/studio"
	"github.com/hupe1980/agentexchange/backend/team"
	"github.com/hupe1980/agentexchange/config"
	"github.com/hupe1980/agentexchange/core"
	"github.com/hupe1980/agentexchange/engine"
	"github.com/hupe1980/agentexchange/history"
	"github.com/hupe1980/agentexchange/history/redis"
	"github.com/hupe1980/agentexchange/history/sqlite"
	"github.com/hupe1980/agentexchange/httpapi"
	"github.com/hupe1980/agentexchange/logging"
	"github.com/hupe1980/agentexchange/metrics"
	"github.com/hupe1980/agentexchange/model"
	"github.com/hupe1980/agentexchange/model/anthropic"
	"github.com/hupe1980/agentexchange/model/openai"
)

// FromConfig validates cfg and builds an Exchange from it. optFns are applied
// after the configuration, so callers can still override single services.
func FromConfig(ctx context.Context, cfg *config.Config, optFns ...func(o *Options)) (*Exchange, error) {
	if err := cfg.Validate(); err != nil {
		return nil, core.NewError(core.KindInvalidInput, "load config", err)
	}

	level, _ := logging.ParseLevel(cfg.Log.Level)
	logger := logging.NewSlogLogger(level, cfg.Log.Format, cfg.Log.AddSource)

	store, err := OpenStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	backends, relay, err := buildBackends(cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	rec, err := metrics.NewRecorder(func(o *metrics.Options) {
		o.BufferSize = cfg.Metrics.BufferSize
		o.Retention = cfg.Metrics.Retention
		o.Logger = logger
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	x, err := New(func(o *Options) {
		o.EngineConfig = engine.Config{
			IdleAfter:   config.Duration(cfg.Session.IdleAfter, engine.DefaultConfig.IdleAfter),
			SendTimeout: config.Duration(cfg.Session.SendTimeout, 0),
		}
		o.Store = store
		o.Backends = backends
		o.Metrics = rec
		o.Logger = logger
		if relay != nil {
			o.Relay = relay
		}
		o.HTTP = func(h *httpapi.Options) {
			if cfg.Server.MaxBodyBytes > 0 {
				h.MaxBodyBytes = cfg.Server.MaxBodyBytes
			}
		}
		for _, fn := range optFns {
			fn(o)
		}
	})
	if err != nil {
		_ = rec.Close()
		_ = store.Close()
		return nil, err
	}
	return x, nil
}

// OpenStore opens the history store selected by cfg.Driver.
func OpenStore(ctx context.Context, cfg config.StoreConfig, logger logging.Logger) (core.HistoryStore, error) {
	switch cfg.Driver {
	case "", "memory":
		return history.NewMemoryStore(), nil
	case "sqlite":
		return sqlite.Open(cfg.Path, func(o *sqlite.Options) { o.Logger = logger })
	case "redis":
		return redis.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, func(o *redis.Options) {
			if cfg.Redis.Prefix != "" {
				o.Prefix = cfg.Redis.Prefix
			}
			o.Logger = logger
		})
	default:
		return nil, core.Errorf(core.KindInvalidInput, "open store", "unknown store driver %q", cfg.Driver)
	}
}

func buildBackends(cfg *config.Config, logger logging.Logger) ([]core.Backend, *studio.Backend, error) {
	var (
		backends []core.Backend
		relay    *studio.Backend
	)
	if n := cfg.Backends.Native; n != nil {
		backends = append(backends, native.New(n.BaseURL, func(o *native.Options) {
			o.Token = n.Token
			o.Timeout = config.Duration(n.Timeout, o.Timeout)
			o.RequestsPerSecond = n.RequestsPerSecond
			o.Logger = logger
		}))
	}
	if s := cfg.Backends.Studio; s != nil {
		relay = studio.New(s.BaseURL, func(o *studio.Options) {
			o.Token = s.Token
			o.Timeout = config.Duration(s.Timeout, o.Timeout)
			o.RequestsPerSecond = s.RequestsPerSecond
			o.WSURL = s.WSURL
			o.Logger = logger
		})
		backends = append(backends, relay)
	}
	if len(cfg.Teams) > 0 {
		defs := make([]team.Definition, 0, len(cfg.Teams))
		for _, tc := range cfg.Teams {
			def, err := teamDefinition(tc)
			if err != nil {
				return nil, nil, err
			}
			defs = append(defs, def)
		}
		tb, err := team.New(defs, func(o *team.Options) { o.Logger = logger })
		if err != nil {
			return nil, nil, err
		}
		backends = append(backends, tb)
	}
	if len(backends) == 0 {
		return nil, nil, core.Errorf(core.KindInvalidInput, "load config", "no backend configured")
	}
	return backends, relay, nil
}

func teamDefinition(tc config.TeamConfig) (team.Definition, error) {
	mode, err := team.ParseMode(tc.Mode)
	if err != nil {
		return team.Definition{}, err
	}
	def := team.Definition{
		ID:            tc.ID,
		Mode:          mode,
		MaxModelCalls: tc.MaxModelCalls,
		TurnTimeout:   config.Duration(tc.TurnTimeout, 0),
	}
	for _, ac := range tc.Agents {
		m, err := NewModel(ac)
		if err != nil {
			return team.Definition{}, fmt.Errorf("team %s: %w", tc.ID, err)
		}
		def.Members = append(def.Members, team.Member{Name: ac.Name, Instruction: ac.Instruction, Model: m})
	}
	return def, nil
}

// NewModel builds the model of one team member.
func NewModel(ac config.AgentConfig) (model.Model, error) {
	switch ac.Provider {
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			o.Model = ac.Model
			o.APIKey = ac.APIKey
			o.BaseURL = ac.BaseURL
			if ac.Temperature != nil {
				o.Temperature = *ac.Temperature
			}
			if ac.MaxTokens > 0 {
				o.MaxCompletionTokens = ac.MaxTokens
			}
		}), nil
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			o.Model = anthropicsdk.Model(ac.Model)
			o.APIKey = ac.APIKey
			o.BaseURL = ac.BaseURL
			if ac.Temperature != nil {
				o.Temperature = *ac.Temperature
			}
			if ac.MaxTokens > 0 {
				o.MaxTokens = ac.MaxTokens
			}
		}), nil
	case "mock":
		name := ac.Model
		if name == "" {
			name = "mock-" + ac.Name
		}
		return model.NewMockModel(name, "mock"), nil
	default:
		return nil, core.Errorf(core.KindInvalidInput, "new model", "unknown provider %q", ac.Provider)
	}
}

// ShutdownTimeout returns the configured server shutdown grace period.
func ShutdownTimeout(cfg *config.Config) time.Duration {
	return config.Duration(cfg.Server.ShutdownTimeout, 15*time.Second)
}
