// Package config loads the client configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the client configuration.
type Config struct {
	// Agent is the address of the remote agent to converse with.
	Agent string `yaml:"agent"`

	// RelayURL is the relay base URL.
	RelayURL string `yaml:"relay_url"`

	// DirectURL, when set, bypasses resolution and connects directly.
	DirectURL string `yaml:"direct_url"`

	// DirectoryURL enables direct-endpoint resolution.
	DirectoryURL string `yaml:"directory_url"`

	// Identity selects signing-identity storage.
	Identity IdentityConfig `yaml:"identity"`

	// Turn tunes per-turn timing.
	Turn TurnConfig `yaml:"turn"`

	// Recovery tunes the pull-based fallback.
	Recovery RecoveryConfig `yaml:"recovery"`

	// Observability configures the local metrics/health endpoint.
	Observability ObservabilityConfig `yaml:"observability"`
}

// IdentityConfig selects where the signing identity lives.
type IdentityConfig struct {
	// Store is "file" (default) or "redis".
	Store string `yaml:"store"`
	// Name is the identity key within the store (default: "default").
	Name string `yaml:"name"`
	// Dir overrides the file-store directory.
	Dir string `yaml:"dir"`

	// Redis applies when Store is "redis".
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings for the identity store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// TurnConfig tunes per-turn timing.
type TurnConfig struct {
	// Timeout bounds a whole turn.
	Timeout time.Duration `yaml:"timeout"`
	// KeepAliveInterval is the expected server PING cadence.
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval"`
	// LivenessThreshold is how long without a PING counts as dead.
	LivenessThreshold time.Duration `yaml:"liveness_threshold"`
}

// RecoveryConfig tunes the pull-based fallback poller.
type RecoveryConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// ObservabilityConfig configures the local metrics/health endpoint.
type ObservabilityConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "agentdial.yaml"
	}
	return filepath.Join(home, ".agentdial", "config.yaml")
}

// Load reads configuration from a YAML file, applies environment-variable
// overrides, and fills defaults. A missing file is not an error; the
// configuration then comes entirely from the environment and defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

// Save writes configuration to a YAML file, creating parent directories.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("AGENTDIAL_AGENT"); v != "" {
		c.Agent = v
	}
	if v := os.Getenv("AGENTDIAL_RELAY_URL"); v != "" {
		c.RelayURL = v
	}
	if v := os.Getenv("AGENTDIAL_DIRECT_URL"); v != "" {
		c.DirectURL = v
	}
	if v := os.Getenv("AGENTDIAL_DIRECTORY_URL"); v != "" {
		c.DirectoryURL = v
	}
	if v := os.Getenv("AGENTDIAL_REDIS_ADDR"); v != "" {
		c.Identity.Store = "redis"
		c.Identity.Redis.Addr = v
	}
	if v := os.Getenv("AGENTDIAL_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Observability.Enabled = true
			c.Observability.Port = port
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Identity.Store == "" {
		c.Identity.Store = "file"
	}
	if c.Identity.Name == "" {
		c.Identity.Name = "default"
	}
	if c.Turn.Timeout == 0 {
		c.Turn.Timeout = 2 * time.Minute
	}
	if c.Turn.KeepAliveInterval == 0 {
		c.Turn.KeepAliveInterval = 15 * time.Second
	}
	if c.Turn.LivenessThreshold == 0 {
		c.Turn.LivenessThreshold = 3 * c.Turn.KeepAliveInterval
	}
	if c.Recovery.Interval == 0 {
		c.Recovery.Interval = 2 * time.Second
	}
	if c.Recovery.MaxAttempts == 0 {
		c.Recovery.MaxAttempts = 30
	}
	if c.Observability.Port == 0 {
		c.Observability.Port = 9464
	}
}

// Validate checks if the configuration is complete enough to open a
// conversation.
func (c *Config) Validate() error {
	if c.Agent == "" && c.DirectURL == "" {
		return fmt.Errorf("agent address is required unless direct_url is set")
	}
	if c.RelayURL == "" && c.DirectURL == "" {
		return fmt.Errorf("relay_url is required unless direct_url is set")
	}
	if c.Identity.Store != "file" && c.Identity.Store != "redis" {
		return fmt.Errorf("unknown identity store %q", c.Identity.Store)
	}
	if c.Identity.Store == "redis" && c.Identity.Redis.Addr == "" {
		return fmt.Errorf("identity.redis.addr is required for the redis store")
	}
	return nil
}
