package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 2*time.Minute, cfg.Turn.Timeout)
	assert.Equal(t, 15*time.Second, cfg.Turn.KeepAliveInterval)
	assert.Equal(t, 45*time.Second, cfg.Turn.LivenessThreshold)
	assert.Equal(t, "file", cfg.Identity.Store)
	assert.Equal(t, "default", cfg.Identity.Name)
	assert.Equal(t, 2*time.Second, cfg.Recovery.Interval)
	assert.Equal(t, 30, cfg.Recovery.MaxAttempts)
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
agent: addr-1
relay_url: https://relay.example.com
directory_url: https://dir.example.com
turn:
  timeout: 90s
  keep_alive_interval: 5s
recovery:
  enabled: true
  interval: 1s
  max_attempts: 12
identity:
  store: redis
  redis:
    addr: localhost:6379
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "addr-1", cfg.Agent)
	assert.Equal(t, "https://relay.example.com", cfg.RelayURL)
	assert.Equal(t, 90*time.Second, cfg.Turn.Timeout)
	// Threshold derives from the configured keep-alive cadence.
	assert.Equal(t, 15*time.Second, cfg.Turn.LivenessThreshold)
	assert.True(t, cfg.Recovery.Enabled)
	assert.Equal(t, 12, cfg.Recovery.MaxAttempts)
	assert.Equal(t, "redis", cfg.Identity.Store)
	assert.Equal(t, "localhost:6379", cfg.Identity.Redis.Addr)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AGENTDIAL_AGENT", "env-addr")
	t.Setenv("AGENTDIAL_RELAY_URL", "https://env-relay.example.com")
	t.Setenv("AGENTDIAL_REDIS_ADDR", "redis.internal:6379")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "env-addr", cfg.Agent)
	assert.Equal(t, "https://env-relay.example.com", cfg.RelayURL)
	assert.Equal(t, "redis", cfg.Identity.Store)
	assert.Equal(t, "redis.internal:6379", cfg.Identity.Redis.Addr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"relay setup", func(c *Config) { c.Agent = "a"; c.RelayURL = "https://r" }, false},
		{"direct only", func(c *Config) { c.DirectURL = "https://d" }, false},
		{"no agent", func(c *Config) { c.RelayURL = "https://r" }, true},
		{"no relay", func(c *Config) { c.Agent = "a" }, true},
		{"bad store", func(c *Config) { c.Agent = "a"; c.RelayURL = "https://r"; c.Identity.Store = "s3" }, true},
		{"redis without addr", func(c *Config) { c.Agent = "a"; c.RelayURL = "https://r"; c.Identity.Store = "redis" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.applyDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := &Config{Agent: "addr-1", RelayURL: "https://relay.example.com"}
	require.NoError(t, Save(cfg, path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "addr-1", got.Agent)
	assert.Equal(t, "https://relay.example.com", got.RelayURL)
}
