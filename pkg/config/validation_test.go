package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := GetDefaultConfig()
	cfg.Auth.AccessSecret = "access"
	cfg.Auth.RefreshSecret = "refresh"
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, Validate(validConfig()))
}

func TestValidate_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"log level", func(c *Config) { c.Logging.Level = "TRACE" }, "oneof"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "Format"},
		{"address", func(c *Config) { c.Server.Address = "no-port" }, "hostname_port"},
		{"workers", func(c *Config) { c.Server.Workers = -1 }, "Workers"},
		{"max connections", func(c *Config) { c.Server.MaxConnections = -1 }, "MaxConnections"},
		{"read timeout", func(c *Config) { c.Server.ReadTimeout = -time.Second }, "ReadTimeout"},
		{"missing refresh secret", func(c *Config) { c.Auth.RefreshSecret = "" }, "RefreshSecret"},
		{"equal secrets", func(c *Config) { c.Auth.RefreshSecret = c.Auth.AccessSecret }, "nefield"},
		{"public path without slash", func(c *Config) { c.Auth.PublicPaths = []string{"auth"} }, "startswith"},
		{"duplicate public path", func(c *Config) { c.Auth.PublicPaths = []string{"/auth", "/auth"} }, "duplicate"},
		{"store type", func(c *Config) { c.Store.Type = "postgres" }, "oneof"},
		{"bolt path", func(c *Config) {
			c.Store.Type = "bolt"
			c.Store.Bolt = map[string]any{}
		}, "store.bolt"},
		{"badger path", func(c *Config) {
			c.Store.Type = "badger"
			c.Store.Badger = map[string]any{"db_path": " "}
		}, "store.badger"},
		{"sub-second access ttl", func(c *Config) { c.Auth.AccessTTL = 500 * time.Millisecond }, "AccessTTL"},
		{"metrics port", func(c *Config) { c.Metrics.Port = 70000 }, "Port"},
		{"burst", func(c *Config) {
			c.RateLimit = RateLimitConfig{Enabled: true, RequestsPerSecond: 5}
		}, "burst"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_BadgerInMemory(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Type = "badger"
	cfg.Store.Badger = map[string]any{"in_memory": true}
	assert.NoError(t, Validate(cfg))
}

func TestValidate_RedactsSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.AccessSecret = "hunter2"
	cfg.Auth.RefreshSecret = "hunter2"

	err := Validate(cfg)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "hunter2")
}
