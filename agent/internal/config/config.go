package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultDataDir          = "./data"
	DefaultLogLevel         = "info"
	DefaultInterval         = 30 * time.Second
	DefaultMinDistanceM     = 10
	DefaultAccuracyCeilingM = 40.0
	DefaultSendTimeout      = 10 * time.Second
	DefaultProbeInterval    = 15 * time.Second
	DefaultGPSDAddr         = "localhost:2947"
	DefaultReplayPace       = time.Second
	DefaultStatusAddr       = "127.0.0.1:8081"
	DefaultRedisKey         = "tracker:queue"
	DefaultJWTTTL           = 5 * time.Minute
	DefaultEventBuffer      = 200
)

// Clamping bounds for tracking settings, matching the settings surface the
// UI offers.
const (
	MinInterval  = 5 * time.Second
	MaxInterval  = 300 * time.Second
	MinDistanceM = 5
	MaxDistanceM = 200
)

// Config is the top-level configuration file. Fields map 1:1 to
// config.example.yaml.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// CollectorURL is the full URL samples are POSTed to.
	CollectorURL string `yaml:"collector_url"`

	// SubjectID is the opaque identity samples are tagged with. Zero means
	// no identity has been selected yet.
	SubjectID int64 `yaml:"subject_id"`

	// DataDir holds the queue database and the device id file.
	DataDir string `yaml:"data_dir"`

	// LogLevel is one of debug | info | warn | error.
	LogLevel string `yaml:"log_level"`

	// EventBuffer is how many diagnostic events are retained for observers.
	EventBuffer int `yaml:"event_buffer"`

	Tracking     TrackingConfig     `yaml:"tracking"`
	Transport    TransportConfig    `yaml:"transport"`
	Queue        QueueConfig        `yaml:"queue"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Position     PositionConfig     `yaml:"position"`
	Status       StatusConfig       `yaml:"status"`
}

// TrackingConfig controls the capture cadence.
type TrackingConfig struct {
	// Interval is the time-triggered capture cadence. Clamped to 5s–300s.
	Interval time.Duration `yaml:"interval"`

	// MinDistanceM is the movement threshold for distance-triggered
	// captures. Zero disables the distance trigger; other values are
	// clamped to 5–200.
	MinDistanceM int `yaml:"min_distance_m"`

	// AccuracyCeilingM discards fixes whose reported accuracy is worse.
	AccuracyCeilingM float64 `yaml:"accuracy_ceiling_m"`
}

// TransportConfig controls delivery to the collector.
type TransportConfig struct {
	// Timeout bounds a single delivery attempt.
	Timeout time.Duration `yaml:"timeout"`

	// Compression is one of: none | gzip.
	Compression string `yaml:"compression"`

	Auth AuthConfig `yaml:"auth"`
	TLS  TLSConfig  `yaml:"tls"`
}

// AuthConfig specifies how the agent authenticates to the collector.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | jwt | none.
	Mode string `yaml:"mode"`

	// mTLS fields - used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Header is the HTTP header name the API key is sent in.
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv names the environment variable holding the bearer token.
	TokenEnv string `yaml:"token_env"`

	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`

	// SecretEnv names the environment variable holding the HS256 signing
	// secret. Used when Mode == "jwt".
	SecretEnv string `yaml:"secret_env"`
	// TokenTTL is the lifetime of each signed token.
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string { return lookup(a.KeyEnv) }

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string { return lookup(a.TokenEnv) }

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string { return lookup(a.PasswordEnv) }

// Secret returns the JWT signing secret resolved from the environment.
func (a AuthConfig) Secret() string { return lookup(a.SecretEnv) }

func lookup(env string) string {
	if env == "" {
		return ""
	}
	return os.Getenv(env)
}

// TLSConfig holds TLS dial options for the collector connection.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	// Only use this for internal CAs in development environments.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// QueueConfig selects and tunes the durable queue backend.
type QueueConfig struct {
	// Backend is one of: sqlite | redis.
	Backend string `yaml:"backend"`

	// Path overrides the SQLite file location (default <data_dir>/queue.db).
	Path string `yaml:"path"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisDB       int    `yaml:"redis_db"`
	RedisKey      string `yaml:"redis_key"`
	RedisPassword string `yaml:"-"`
	// RedisPasswordEnv names the environment variable holding the password.
	RedisPasswordEnv string `yaml:"redis_password_env"`

	// Retention evicts queued samples older than this. Zero keeps them
	// until delivered.
	Retention time.Duration `yaml:"retention"`
}

// ConnectivityConfig controls the reachability probe.
type ConnectivityConfig struct {
	ProbeInterval time.Duration `yaml:"probe_interval"`
}

// PositionConfig selects the position source.
type PositionConfig struct {
	// Source is one of: gpsd | replay.
	Source string `yaml:"source"`

	GPSDAddr string `yaml:"gpsd_addr"`

	// ReplayFile is an NDJSON file of fixes; ReplayPace is the delay
	// between consecutive fixes.
	ReplayFile string        `yaml:"replay_file"`
	ReplayPace time.Duration `yaml:"replay_pace"`
}

// StatusConfig controls the local status server. Empty Addr disables it.
type StatusConfig struct {
	Addr string `yaml:"addr"`
}

// QueuePath returns the SQLite queue file path.
func (a AgentConfig) QueuePath() string {
	if a.Queue.Path != "" {
		return a.Queue.Path
	}
	return filepath.Join(a.DataDir, "queue.db")
}

// DeviceIDPath returns the file the per-installation device id lives in.
func (a AgentConfig) DeviceIDPath() string {
	return filepath.Join(a.DataDir, "device_id")
}

// SlogLevel maps LogLevel to a slog.Level, defaulting to Info.
func (a AgentConfig) SlogLevel() slog.Level {
	switch a.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults and tracking
// settings are clamped to their supported range.
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
	clampTracking(&cfg.Agent.Tracking)
	cfg.Agent.Queue.RedisPassword = lookup(cfg.Agent.Queue.RedisPasswordEnv)

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			DataDir:     DefaultDataDir,
			LogLevel:    DefaultLogLevel,
			EventBuffer: DefaultEventBuffer,
			Tracking: TrackingConfig{
				Interval:         DefaultInterval,
				MinDistanceM:     DefaultMinDistanceM,
				AccuracyCeilingM: DefaultAccuracyCeilingM,
			},
			Transport: TransportConfig{
				Timeout:     DefaultSendTimeout,
				Compression: "none",
				Auth:        AuthConfig{TokenTTL: DefaultJWTTTL},
			},
			Queue: QueueConfig{
				Backend:  "sqlite",
				RedisKey: DefaultRedisKey,
			},
			Connectivity: ConnectivityConfig{ProbeInterval: DefaultProbeInterval},
			Position: PositionConfig{
				Source:     "gpsd",
				GPSDAddr:   DefaultGPSDAddr,
				ReplayPace: DefaultReplayPace,
			},
			Status: StatusConfig{Addr: DefaultStatusAddr},
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := cfg.Agent
	if a.CollectorURL == "" {
		return fmt.Errorf("agent.collector_url is required")
	}
	if u, err := url.Parse(a.CollectorURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("agent.collector_url must be an absolute http(s) URL, got %q", a.CollectorURL)
	}
	if a.SubjectID < 0 {
		return fmt.Errorf("agent.subject_id must not be negative")
	}
	if a.Tracking.Interval < time.Second {
		return fmt.Errorf("agent.tracking.interval must be at least 1s")
	}
	if a.Tracking.MinDistanceM < 0 {
		return fmt.Errorf("agent.tracking.min_distance_m must not be negative")
	}
	if a.Tracking.AccuracyCeilingM <= 0 {
		return fmt.Errorf("agent.tracking.accuracy_ceiling_m must be positive")
	}
	if a.Transport.Timeout <= 0 {
		return fmt.Errorf("agent.transport.timeout must be positive")
	}
	if a.Connectivity.ProbeInterval <= 0 {
		return fmt.Errorf("agent.connectivity.probe_interval must be positive")
	}
	if a.EventBuffer <= 0 {
		return fmt.Errorf("agent.event_buffer must be positive")
	}
	switch a.Transport.Compression {
	case "none", "gzip", "":
	default:
		return fmt.Errorf("agent.transport.compression: unknown value %q", a.Transport.Compression)
	}
	switch a.Transport.Auth.Mode {
	case "mtls", "apikey", "bearer", "basic", "none", "":
	case "jwt":
		if a.Transport.Auth.SecretEnv == "" {
			return fmt.Errorf("agent.transport.auth: jwt mode requires secret_env")
		}
	default:
		return fmt.Errorf("agent.transport.auth: unknown mode %q", a.Transport.Auth.Mode)
	}
	switch a.Queue.Backend {
	case "sqlite":
	case "redis":
		if a.Queue.RedisAddr == "" {
			return fmt.Errorf("agent.queue.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("agent.queue.backend: unknown backend %q", a.Queue.Backend)
	}
	switch a.Position.Source {
	case "gpsd":
	case "replay":
		if a.Position.ReplayFile == "" {
			return fmt.Errorf("agent.position.replay_file is required for the replay source")
		}
	default:
		return fmt.Errorf("agent.position.source: unknown source %q", a.Position.Source)
	}
	return nil
}

// clampTracking pulls tracking settings into the supported range.
func clampTracking(t *TrackingConfig) {
	orig := *t
	switch {
	case t.Interval < MinInterval:
		t.Interval = MinInterval
	case t.Interval > MaxInterval:
		t.Interval = MaxInterval
	}
	switch {
	case t.MinDistanceM == 0:
	case t.MinDistanceM < MinDistanceM:
		t.MinDistanceM = MinDistanceM
	case t.MinDistanceM > MaxDistanceM:
		t.MinDistanceM = MaxDistanceM
	}
	if *t != orig {
		slog.Warn("config: tracking settings clamped",
			"interval", t.Interval, "min_distance_m", t.MinDistanceM)
	}
}
