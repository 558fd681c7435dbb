// Package config loads the YAML configuration of an exchange server.
//
// Values may reference environment variables as ${NAME} or ${NAME:-default};
// they are expanded before parsing. A few AGENTEXCHANGE_* variables override
// the file afterwards.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hupe1980/agentexchange/internal/util"
	"github.com/hupe1980/agentexchange/logging"
	"gopkg.in/yaml.v3"
)

// Config is the root of the configuration file.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Store    StoreConfig    `yaml:"store"`
	Server   ServerConfig   `yaml:"server"`
	Session  SessionConfig  `yaml:"session"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Backends BackendsConfig `yaml:"backends"`
	Teams    []TeamConfig   `yaml:"teams,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"` // text or json
	AddSource bool   `yaml:"add_source,omitempty"`
}

// StoreConfig selects the history store.
type StoreConfig struct {
	Driver string      `yaml:"driver"` // memory, sqlite or redis
	Path   string      `yaml:"path,omitempty"`
	Redis  RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig configures the redis history store.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64  `yaml:"max_body_bytes,omitempty"`
}

// SessionConfig tunes the session manager.
type SessionConfig struct {
	IdleAfter   string `yaml:"idle_after"`
	SendTimeout string `yaml:"send_timeout,omitempty"`
}

// MetricsConfig sizes the metrics recorder.
type MetricsConfig struct {
	BufferSize int `yaml:"buffer_size"`
	Retention  int `yaml:"retention"`
}

// BackendsConfig enables the HTTP backends. A nil section disables it.
type BackendsConfig struct {
	Native *HTTPBackendConfig `yaml:"native,omitempty"`
	Studio *StudioConfig      `yaml:"studio,omitempty"`
}

// HTTPBackendConfig configures a backend reached over HTTP.
type HTTPBackendConfig struct {
	BaseURL           string  `yaml:"base_url"`
	Token             string  `yaml:"token,omitempty"`
	Timeout           string  `yaml:"timeout,omitempty"`
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
}

// StudioConfig configures the studio backend.
type StudioConfig struct {
	HTTPBackendConfig `yaml:",inline"`
	WSURL             string `yaml:"ws_url,omitempty"`
}

// TeamConfig defines one ad-hoc team.
type TeamConfig struct {
	ID            string        `yaml:"id"`
	Mode          string        `yaml:"mode,omitempty"`
	MaxModelCalls int           `yaml:"max_model_calls,omitempty"`
	TurnTimeout   string        `yaml:"turn_timeout,omitempty"`
	Agents        []AgentConfig `yaml:"agents"`
}

// AgentConfig defines one team member.
type AgentConfig struct {
	Name        string   `yaml:"name"`
	Provider    string   `yaml:"provider"` // openai, anthropic or mock
	Model       string   `yaml:"model,omitempty"`
	Instruction string   `yaml:"instruction,omitempty"`
	APIKey      string   `yaml:"api_key,omitempty"`
	BaseURL     string   `yaml:"base_url,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   int64    `yaml:"max_tokens,omitempty"`
}

// Providers lists the supported team member providers.
var Providers = []string{"openai", "anthropic", "mock"}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Log:     LogConfig{Level: "info", Format: "text"},
		Store:   StoreConfig{Driver: "memory", Redis: RedisConfig{Prefix: "agentexchange"}},
		Server:  ServerConfig{Addr: ":8080", ShutdownTimeout: "15s", MaxBodyBytes: 1 << 20},
		Session: SessionConfig{IdleAfter: "30m"},
		Metrics: MetricsConfig{BufferSize: 1024, Retention: 10000},
	}
}

// Load reads the YAML file at path. An empty path yields the defaults.
// Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML data on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// ExpandEnv replaces ${NAME} and ${NAME:-default} with environment values.
func ExpandEnv(s string) string {
	return os.Expand(s, func(key string) string {
		name, def, hasDef := strings.Cut(key, ":-")
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return v
		}
		if hasDef {
			return def
		}
		return ""
	})
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AGENTEXCHANGE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("AGENTEXCHANGE_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("AGENTEXCHANGE_STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("AGENTEXCHANGE_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("AGENTEXCHANGE_REDIS_ADDR"); v != "" {
		c.Store.Redis.Addr = v
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var v util.Validator

	_, err := logging.ParseLevel(c.Log.Level)
	v.Check(err == nil, "log.level", c.Log.Level, "unknown level")
	v.OneOf("log.format", c.Log.Format, "text", "json")

	v.OneOf("store.driver", c.Store.Driver, "memory", "sqlite", "redis")
	switch c.Store.Driver {
	case "sqlite":
		v.Required("store.path", c.Store.Path)
	case "redis":
		v.Required("store.redis.addr", c.Store.Redis.Addr)
	}

	v.Required("server.addr", c.Server.Addr)
	checkDuration(&v, "server.shutdown_timeout", c.Server.ShutdownTimeout)
	checkDuration(&v, "session.idle_after", c.Session.IdleAfter)
	checkDuration(&v, "session.send_timeout", c.Session.SendTimeout)
	v.Check(c.Metrics.BufferSize > 0, "metrics.buffer_size", c.Metrics.BufferSize, "must be positive")
	v.Check(c.Metrics.Retention > 0, "metrics.retention", c.Metrics.Retention, "must be positive")

	if n := c.Backends.Native; n != nil {
		checkHTTPBackend(&v, "backends.native", *n)
	}
	if s := c.Backends.Studio; s != nil {
		checkHTTPBackend(&v, "backends.studio", s.HTTPBackendConfig)
	}

	ids := make(map[string]bool, len(c.Teams))
	for i, t := range c.Teams {
		field := fmt.Sprintf("teams[%d]", i)
		v.Required(field+".id", t.ID)
		v.Check(!ids[t.ID], field+".id", t.ID, "duplicate team id")
		ids[t.ID] = true
		if t.Mode != "" {
			v.OneOf(field+".mode", t.Mode, "sequential", "parallel")
		}
		v.Check(t.MaxModelCalls >= 0, field+".max_model_calls", t.MaxModelCalls, "must not be negative")
		checkDuration(&v, field+".turn_timeout", t.TurnTimeout)
		v.Check(len(t.Agents) > 0, field+".agents", nil, "a team needs at least one agent")
		for j, a := range t.Agents {
			af := fmt.Sprintf("%s.agents[%d]", field, j)
			v.Required(af+".name", a.Name)
			v.OneOf(af+".provider", a.Provider, Providers...)
			if a.Provider != "mock" {
				v.Required(af+".model", a.Model)
			}
		}
	}
	return v.Err()
}

func checkHTTPBackend(v *util.Validator, field string, b HTTPBackendConfig) {
	v.Required(field+".base_url", b.BaseURL)
	checkDuration(v, field+".timeout", b.Timeout)
	v.Check(b.RequestsPerSecond >= 0, field+".requests_per_second", b.RequestsPerSecond, "must not be negative")
}

func checkDuration(v *util.Validator, field, s string) {
	if s == "" {
		return
	}
	d, err := time.ParseDuration(s)
	v.Check(err == nil && d >= 0, field, s, "invalid duration")
}

// Duration parses s, returning def when s is empty or invalid.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
