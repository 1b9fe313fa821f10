// ABOUTME: Configuration loading and parsing for coven-inbox
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DBPathEnv overrides database.path when set.
const DBPathEnv = "COVEN_INBOX_DB_PATH"

// Config represents the complete coven-inbox configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Ingest    IngestConfig    `yaml:"ingest" toml:"ingest"`
	Realtime  RealtimeConfig  `yaml:"realtime" toml:"realtime"`
	Lifecycle LifecycleConfig `yaml:"lifecycle" toml:"lifecycle"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration. An empty GRPCAddr
// disables the gRPC health server.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	// Driver is "sqlite" (pure Go, default) or "sqlite3" (cgo).
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication configuration. Without a JWTSecret the
// agent API trusts the X-Agent-ID header.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// IngestConfig holds webhook ingestion settings
type IngestConfig struct {
	Timeout      time.Duration `yaml:"-" toml:"-"`
	DedupeTTL    time.Duration `yaml:"-" toml:"-"`
	DedupeSize   int           `yaml:"dedupe_size" toml:"dedupe_size"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" toml:"max_body_bytes"`

	// Raw string values for unmarshaling
	TimeoutRaw   string `yaml:"timeout" toml:"timeout"`
	DedupeTTLRaw string `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// RealtimeConfig holds subscription registry settings
type RealtimeConfig struct {
	BufferSize      int           `yaml:"buffer_size" toml:"buffer_size"`
	DeliveryTimeout time.Duration `yaml:"-" toml:"-"`

	DeliveryTimeoutRaw string `yaml:"delivery_timeout" toml:"delivery_timeout"`
}

// LifecycleConfig holds conversation lifecycle switches
type LifecycleConfig struct {
	EnforceAssignmentEdge bool `yaml:"enforce_assignment_edge" toml:"enforce_assignment_edge"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns a configuration with every default applied and no
// database path.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if p := os.Getenv(DBPathEnv); p != "" {
		cfg.Database.Path = p
	}
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = ":8080"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Ingest.Timeout == 0 {
		cfg.Ingest.Timeout = 10 * time.Second
	}
	if cfg.Ingest.DedupeTTL == 0 {
		cfg.Ingest.DedupeTTL = 10 * time.Minute
	}
	if cfg.Ingest.DedupeSize == 0 {
		cfg.Ingest.DedupeSize = 10000
	}
	if cfg.Ingest.MaxBodyBytes == 0 {
		cfg.Ingest.MaxBodyBytes = 1 << 20
	}
	if cfg.Realtime.BufferSize == 0 {
		cfg.Realtime.BufferSize = 64
	}
	if cfg.Realtime.DeliveryTimeout == 0 {
		cfg.Realtime.DeliveryTimeout = 5 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required (or set %s)", DBPathEnv)
	}
	switch c.Database.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("database.driver must be sqlite or sqlite3, got %q", c.Database.Driver)
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	if c.Ingest.Timeout < 0 || c.Ingest.DedupeTTL < 0 {
		return fmt.Errorf("ingest durations must be positive")
	}
	if c.Ingest.DedupeSize < 0 || c.Ingest.MaxBodyBytes < 0 {
		return fmt.Errorf("ingest sizes must be positive")
	}
	if c.Realtime.BufferSize < 0 || c.Realtime.DeliveryTimeout < 0 {
		return fmt.Errorf("realtime settings must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"ingest.timeout", cfg.Ingest.TimeoutRaw, &cfg.Ingest.Timeout},
		{"ingest.dedupe_ttl", cfg.Ingest.DedupeTTLRaw, &cfg.Ingest.DedupeTTL},
		{"realtime.delivery_timeout", cfg.Realtime.DeliveryTimeoutRaw, &cfg.Realtime.DeliveryTimeout},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
