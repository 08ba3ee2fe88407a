package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultScrapeInterval = 5 * time.Second
	DefaultBufferSize     = 1000
	DefaultAuthHeader     = "x-api-key"
)

// Config is the top-level agent configuration.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// ServerURL is the base URL of bluesentinel-server, e.g. http://localhost:8080.
	ServerURL string `yaml:"server_url"`

	// ScrapeInterval controls how often each device is polled.
	ScrapeInterval time.Duration `yaml:"scrape_interval"`

	// BufferSize is the maximum number of readings held in memory when
	// the server is unreachable.
	BufferSize int `yaml:"buffer_size"`

	// Devices is the list of sensor nodes to poll.
	Devices []Device `yaml:"devices"`

	// ServerAuth configures how the agent authenticates to the ingest endpoint.
	ServerAuth AuthConfig `yaml:"server_auth"`
}

// Device describes one polled sensor node.
type Device struct {
	// ID names the device. Readings that carry no deviceId are tagged with it.
	ID string `yaml:"id"`

	// Type is json or prometheus.
	Type string `yaml:"type"`

	// Endpoint is the full URL the agent GETs.
	Endpoint string `yaml:"endpoint"`

	Auth AuthConfig `yaml:"auth"`
	TLS  TLSConfig  `yaml:"tls"`
}

// AuthConfig specifies the authentication mode for a device or the server.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Header carries the API key when Mode == "apikey".
	Header string `yaml:"header"`
	KeyEnv string `yaml:"key_env"`

	TokenEnv string `yaml:"token_env"`

	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string {
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// EffectiveHeader returns Header or the server's default API key header.
func (a AuthConfig) EffectiveHeader() string {
	if a.Header == "" {
		return DefaultAuthHeader
	}
	return a.Header
}

// TLSConfig holds per-device TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables certificate verification. Development only.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			ScrapeInterval: DefaultScrapeInterval,
			BufferSize:     DefaultBufferSize,
		},
	}
}

func validate(cfg *Config) error {
	if cfg.Agent.ServerURL == "" {
		return fmt.Errorf("agent.server_url is required")
	}
	if cfg.Agent.ScrapeInterval <= 0 {
		return fmt.Errorf("agent.scrape_interval must be positive")
	}
	if cfg.Agent.BufferSize <= 0 {
		return fmt.Errorf("agent.buffer_size must be positive")
	}
	switch cfg.Agent.ServerAuth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("agent.server_auth: unsupported mode %q", cfg.Agent.ServerAuth.Mode)
	}
	seen := make(map[string]bool, len(cfg.Agent.Devices))
	for i, d := range cfg.Agent.Devices {
		if d.ID == "" {
			return fmt.Errorf("devices[%d]: id is required", i)
		}
		if seen[d.ID] {
			return fmt.Errorf("devices[%d]: duplicate id %q", i, d.ID)
		}
		seen[d.ID] = true
		if d.Endpoint == "" {
			return fmt.Errorf("devices[%d] %q: endpoint is required", i, d.ID)
		}
		switch d.Type {
		case "json", "prometheus":
		default:
			return fmt.Errorf("devices[%d] %q: unknown type %q", i, d.ID, d.Type)
		}
		switch d.Auth.Mode {
		case "mtls", "apikey", "bearer", "basic", "none", "":
		default:
			return fmt.Errorf("devices[%d] %q: unknown auth mode %q", i, d.ID, d.Auth.Mode)
		}
	}
	return nil
}
