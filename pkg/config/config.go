// Package config loads and validates the tandem configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config represents the application configuration
type Config struct {
	// StateDir holds refs, checkpoints, the file registry, and backups.
	StateDir string `yaml:"state_dir"`

	Log       LogConfig      `yaml:"log"`
	Registry  RegistryConfig `yaml:"registry"`
	Providers Providers      `yaml:"providers"`
	Sync      SyncConfig     `yaml:"sync"`
	Metrics   MetricsConfig  `yaml:"metrics"`
	Tracing   TracingConfig  `yaml:"tracing"`
}

// LogConfig controls daemon log output. An empty file means stderr.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// RegistryConfig selects and configures the registry backend.
type RegistryConfig struct {
	Backend string      `yaml:"backend"` // file, redis
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig holds the Redis backend connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// Providers holds per-provider store locations.
type Providers struct {
	Claude ClaudeConfig `yaml:"claude"`
	Gemini GeminiConfig `yaml:"gemini"`
}

// ClaudeConfig locates the append-only JSONL session store.
type ClaudeConfig struct {
	ProjectsDir string `yaml:"projects_dir"`
	Project     string `yaml:"project"`
}

// GeminiConfig locates the snapshot session store.
type GeminiConfig struct {
	SessionsDir string `yaml:"sessions_dir"`
}

// SyncConfig controls the engine and the watch daemon.
type SyncConfig struct {
	LockTTL       Duration `yaml:"lock_ttl"`
	Debounce      Duration `yaml:"debounce"`
	Schedule      string   `yaml:"schedule"`
	MaxConcurrent int      `yaml:"max_concurrent"`
	RateLimit     float64  `yaml:"rate_limit"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads, parses, and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is operator-supplied configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := safeUnmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the configuration to a YAML file.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.StateDir == "" {
		c.StateDir = "~/.tandem"
	}
	c.StateDir = expandPath(c.StateDir)

	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 10
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 3
	}
	c.Log.File = expandPath(c.Log.File)

	if c.Registry.Backend == "" {
		c.Registry.Backend = "file"
	}
	if c.Registry.Redis.Addr == "" {
		c.Registry.Redis.Addr = "localhost:6379"
	}
	if c.Registry.Redis.Prefix == "" {
		c.Registry.Redis.Prefix = "tandem:"
	}

	if c.Providers.Claude.ProjectsDir == "" {
		c.Providers.Claude.ProjectsDir = "~/.claude/projects"
	}
	c.Providers.Claude.ProjectsDir = expandPath(c.Providers.Claude.ProjectsDir)
	if c.Providers.Claude.Project == "" {
		c.Providers.Claude.Project = "default"
	}
	if c.Providers.Gemini.SessionsDir == "" {
		c.Providers.Gemini.SessionsDir = "~/.gemini/tmp"
	}
	c.Providers.Gemini.SessionsDir = expandPath(c.Providers.Gemini.SessionsDir)

	if c.Sync.LockTTL == 0 {
		c.Sync.LockTTL = Duration(30 * time.Second)
	}
	if c.Sync.Debounce == 0 {
		c.Sync.Debounce = Duration(2 * time.Second)
	}
	if c.Sync.Schedule == "" {
		c.Sync.Schedule = "@every 5m"
	}
	if c.Sync.MaxConcurrent == 0 {
		c.Sync.MaxConcurrent = 4
	}
	if c.Sync.RateLimit == 0 {
		c.Sync.RateLimit = 2
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9464"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Registry.Backend {
	case "file", "redis":
	default:
		return fmt.Errorf("unknown registry backend %q (want file or redis)", c.Registry.Backend)
	}
	if c.Registry.Backend == "redis" && c.Registry.Redis.Addr == "" {
		return fmt.Errorf("redis backend requires registry.redis.addr")
	}
	if c.Providers.Claude.Project == "" {
		return fmt.Errorf("providers.claude.project is required")
	}
	if c.Sync.MaxConcurrent < 1 {
		return fmt.Errorf("sync.max_concurrent must be at least 1")
	}
	if c.Sync.RateLimit <= 0 {
		return fmt.Errorf("sync.rate_limit must be positive")
	}
	if c.Sync.LockTTL <= 0 {
		return fmt.Errorf("sync.lock_ttl must be positive")
	}
	return nil
}

// expandPath substitutes a leading ~ with the user's home directory.
func expandPath(path string) string {
	if path == "" || !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
