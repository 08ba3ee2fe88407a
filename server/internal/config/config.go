package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// AlertsConfig holds alerting rules and notifier targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
	Telegram TelegramConfig  `yaml:"telegram"`
}

// AlertRule defines one threshold-based alert condition.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name"`

	// Condition is a simple expression: "temperature > 30", "ph < 6.5",
	// "dissolved_oxygen < 4", "score < 40", "status == Poor".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 2 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// TelegramConfig enables alert delivery to a Telegram chat.
type TelegramConfig struct {
	// TokenEnv names the environment variable holding the bot token.
	TokenEnv string `yaml:"token_env"`

	// ChatID is the numeric chat the bot posts into.
	ChatID int64 `yaml:"chat_id"`
}

// Token returns the bot token resolved from the environment.
func (t TelegramConfig) Token() string {
	if t.TokenEnv == "" {
		return ""
	}
	return os.Getenv(t.TokenEnv)
}

// Enabled reports whether both a token and a chat are configured.
func (t TelegramConfig) Enabled() bool {
	return t.Token() != "" && t.ChatID != 0
}

// Default values for the server configuration.
const (
	DefaultHTTPPort        = 8080
	DefaultStreamInterval  = 5 * time.Second
	DefaultSeriesCapacity  = 30
	DefaultBackend         = "memory"
	DefaultMaxHistory      = 10000
	DefaultRetention       = 30 * 24 * time.Hour
	DefaultCleanupSchedule = "@hourly"
)

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml. The `agent:` key in the same file is ignored.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API, WebSocket hub and metrics listen on.
	HTTPPort int `yaml:"http_port"`

	// CORSOrigins lists the browser origins allowed to call the API.
	// Empty allows any origin.
	CORSOrigins []string `yaml:"cors_origins"`

	// Auth configures how the server authenticates ingesting devices.
	Auth AuthConfig `yaml:"auth"`

	Stream  StreamConfig  `yaml:"stream"`
	Health  HealthConfig  `yaml:"health"`
	Series  SeriesConfig  `yaml:"series"`
	Storage StorageConfig `yaml:"storage"`

	// Alerts holds rule definitions and notifier targets.
	Alerts AlertsConfig `yaml:"alerts"`
}

// AuthConfig controls device authentication on the ingest endpoint.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	// Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header name to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// StreamConfig controls the WebSocket push stream.
type StreamConfig struct {
	// Interval between full snapshot resyncs. 0 disables the resync.
	Interval time.Duration `yaml:"interval"`
}

// HealthConfig controls when health records are computed.
type HealthConfig struct {
	// ComputeOnIngest recomputes and stores the health record after every
	// accepted reading. Default true.
	ComputeOnIngest bool `yaml:"compute_on_ingest"`
}

// SeriesConfig sizes the chart buffer.
type SeriesConfig struct {
	Capacity int `yaml:"capacity"`
}

// StorageConfig selects the sensor store backend.
type StorageConfig struct {
	// Backend is one of: memory | sqlite | postgres.
	Backend string `yaml:"backend"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`

	// DSNEnv names the environment variable holding the Postgres DSN.
	DSNEnv string `yaml:"dsn_env"`

	// Retention is how long history entries are kept. 0 keeps them forever.
	Retention time.Duration `yaml:"retention"`

	// MaxHistory caps the memory backend's history length.
	MaxHistory int `yaml:"max_history"`

	// CleanupSchedule is a cron spec for the retention job.
	CleanupSchedule string `yaml:"cleanup_schedule"`
}

// DSN returns the Postgres connection string resolved from the environment.
func (s StorageConfig) DSN() string {
	if s.DSNEnv == "" {
		return ""
	}
	return os.Getenv(s.DSNEnv)
}

// Addr returns the HTTP listen address.
func (s ServerConfig) Addr() string {
	return ":" + strconv.Itoa(s.HTTPPort)
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return defaults()
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			Stream:   StreamConfig{Interval: DefaultStreamInterval},
			Health:   HealthConfig{ComputeOnIngest: true},
			Series:   SeriesConfig{Capacity: DefaultSeriesCapacity},
			Storage: StorageConfig{
				Backend:         DefaultBackend,
				Retention:       DefaultRetention,
				MaxHistory:      DefaultMaxHistory,
				CleanupSchedule: DefaultCleanupSchedule,
			},
		},
	}
}

func validate(cfg *Config) error {
	s := cfg.Server
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	switch s.Auth.Mode {
	case "apikey":
		if s.Auth.KeyEnv == "" {
			return fmt.Errorf("server.auth.key_env is required when mode is apikey")
		}
	case "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}
	if s.Stream.Interval < 0 {
		return fmt.Errorf("server.stream.interval must not be negative")
	}
	if s.Series.Capacity <= 0 {
		return fmt.Errorf("server.series.capacity must be positive")
	}

	st := s.Storage
	switch st.Backend {
	case "memory":
	case "sqlite":
		if st.Path == "" {
			return fmt.Errorf("server.storage.path is required for the sqlite backend")
		}
	case "postgres":
		if st.DSNEnv == "" {
			return fmt.Errorf("server.storage.dsn_env is required for the postgres backend")
		}
	default:
		return fmt.Errorf("server.storage.backend %q unknown: want memory|sqlite|postgres", st.Backend)
	}
	if st.Retention < 0 {
		return fmt.Errorf("server.storage.retention must not be negative")
	}
	if st.MaxHistory < 0 {
		return fmt.Errorf("server.storage.max_history must not be negative")
	}
	if st.Retention > 0 {
		if _, err := cron.ParseStandard(st.CleanupSchedule); err != nil {
			return fmt.Errorf("server.storage.cleanup_schedule %q: %w", st.CleanupSchedule, err)
		}
	}

	for i, r := range s.Alerts.Rules {
		if r.Name == "" {
			return fmt.Errorf("server.alerts.rules[%d]: name is required", i)
		}
		if r.Condition == "" {
			return fmt.Errorf("server.alerts.rules[%d] %q: condition is required", i, r.Name)
		}
		if r.Cooldown < 0 {
			return fmt.Errorf("server.alerts.rules[%d] %q: cooldown must not be negative", i, r.Name)
		}
	}
	for i, w := range s.Alerts.Webhooks {
		switch w.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("server.alerts.webhooks[%d]: type %q unknown: want slack|teams|http", i, w.Type)
		}
	}
	return nil
}
