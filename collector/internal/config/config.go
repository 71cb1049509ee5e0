package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the collector configuration.
const (
	DefaultHTTPPort  = 8000
	DefaultRetention = 24 * time.Hour
	DefaultHeader    = "X-API-Key"
)

// Config holds the collector configuration parsed from the `collector:`
// section of config.yaml.
type Config struct {
	Collector CollectorConfig `yaml:"collector"`
}

// CollectorConfig holds all collector settings.
type CollectorConfig struct {
	// HTTPPort is the port the ingest endpoint and query API listen on.
	HTTPPort int `yaml:"http_port"`

	Auth AuthConfig `yaml:"auth"`

	// Retention evicts accepted samples older than this.
	Retention time.Duration `yaml:"retention"`

	// Users are the tracker users agents may tag samples with.
	Users []User `yaml:"users"`
}

// User is one tracker user a sample can be attributed to.
type User struct {
	ID   int64  `yaml:"id"`
	Name string `yaml:"name"`
}

// AuthConfig controls how ingest requests are authenticated.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected
	// API key. Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or DefaultHeader.
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return DefaultHeader
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("collector config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("collector config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("collector config: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Collector: CollectorConfig{
			HTTPPort:  DefaultHTTPPort,
			Retention: DefaultRetention,
		},
	}
}

func validate(cfg *Config) error {
	c := cfg.Collector
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("collector.http_port %d is out of range [1, 65535]", c.HTTPPort)
	}
	switch c.Auth.Mode {
	case "apikey":
		if c.Auth.KeyEnv == "" {
			return fmt.Errorf("collector.auth.key_env is required when mode is apikey")
		}
	case "none", "":
	default:
		return fmt.Errorf("collector.auth.mode %q unknown: want apikey|none", c.Auth.Mode)
	}
	if c.Retention <= 0 {
		return fmt.Errorf("collector.retention must be positive")
	}
	seen := make(map[int64]bool, len(c.Users))
	for i, u := range c.Users {
		if u.ID <= 0 {
			return fmt.Errorf("collector.users[%d]: id must be positive", i)
		}
		if seen[u.ID] {
			return fmt.Errorf("collector.users[%d]: duplicate id %d", i, u.ID)
		}
		seen[u.ID] = true
	}
	return nil
}
