package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config represents the complete gatekeep configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (GATEKEEP_*, then the legacy names below)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// Legacy environment names are honored when the GATEKEEP_ form is unset:
//
//	APP_URL               server.address
//	JWT_SECRET            auth.access_secret
//	EXP                   auth.access_ttl (integer seconds)
//	REFRESH_TOKEN_SECRET  auth.refresh_secret
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains listener and connection settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Auth holds token secrets and the public path list
	Auth AuthConfig `mapstructure:"auth" yaml:"auth"`

	// CORS controls the headers attached to every response
	CORS CORSConfig `mapstructure:"cors" yaml:"cors"`

	// Store selects the user store backend and its options
	Store StoreConfig `mapstructure:"store" yaml:"store"`

	// RateLimit configures the global request rate limiter
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains listener and per-connection settings.
type ServerConfig struct {
	// Address is the TCP address to bind, host:port
	Address string `mapstructure:"address" yaml:"address" validate:"required,hostname_port"`

	// Workers is the fixed size of the connection worker pool
	Workers int `mapstructure:"workers" yaml:"workers" validate:"required,gt=0"`

	// MaxConnections caps concurrently served connections (0 = unlimited)
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections" validate:"gte=0"`

	// MaxRequestSize caps the bytes read for one request
	MaxRequestSize int `mapstructure:"max_request_size" yaml:"max_request_size" validate:"required,gt=0"`

	// ReadTimeout bounds reading one request (0 = no deadline)
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" validate:"gte=0"`

	// WriteTimeout bounds each flush to the socket (0 = no deadline)
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"gte=0"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`
}

// AuthConfig holds the token secrets.
type AuthConfig struct {
	// AccessSecret signs access tokens
	AccessSecret string `mapstructure:"access_secret" yaml:"access_secret" validate:"required"`

	// AccessTTL is the access token lifetime
	AccessTTL time.Duration `mapstructure:"access_ttl" yaml:"access_ttl" validate:"required,min=1s"`

	// RefreshSecret signs refresh tokens and must differ from AccessSecret
	RefreshSecret string `mapstructure:"refresh_secret" yaml:"refresh_secret" validate:"required,nefield=AccessSecret"`

	// PublicPaths are path prefixes served without a token
	PublicPaths []string `mapstructure:"public_paths" yaml:"public_paths" validate:"dive,startswith=/"`
}

// CORSConfig controls cross-origin headers.
type CORSConfig struct {
	// AllowedOrigin is sent as Access-Control-Allow-Origin
	AllowedOrigin string `mapstructure:"allowed_origin" yaml:"allowed_origin" validate:"required"`
}

// StoreConfig specifies the user store.
//
// The Type field determines which backend is used. Only the matching
// type-specific section is decoded.
type StoreConfig struct {
	// Type selects the backend
	// Valid values: memory, badger, bolt
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger bolt"`

	// Memory contains memory-specific options (currently none)
	Memory map[string]any `mapstructure:"memory" yaml:"memory,omitempty"`

	// Badger contains BadgerDB options (db_path, in_memory)
	Badger map[string]any `mapstructure:"badger" yaml:"badger,omitempty"`

	// Bolt contains bbolt options (path, open_timeout)
	Bolt map[string]any `mapstructure:"bolt" yaml:"bolt,omitempty"`
}

// RateLimitConfig configures the global token bucket.
type RateLimitConfig struct {
	// Enabled turns rate limiting on
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// RequestsPerSecond is the sustained rate
	RequestsPerSecond uint `mapstructure:"requests_per_second" yaml:"requests_per_second"`

	// Burst is the bucket capacity
	Burst uint `mapstructure:"burst" yaml:"burst"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled turns metrics collection and the HTTP endpoint on
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for /metrics
	Port int `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// knownKeys lists every scalar key so that environment variables are seen
// even when no config file mentions them.
var knownKeys = []string{
	"logging.level", "logging.format", "logging.output",
	"server.address", "server.workers", "server.max_connections",
	"server.max_request_size", "server.read_timeout", "server.write_timeout",
	"server.shutdown_timeout",
	"auth.access_secret", "auth.access_ttl", "auth.refresh_secret", "auth.public_paths",
	"cors.allowed_origin",
	"store.type",
	"rate_limit.enabled", "rate_limit.requests_per_second", "rate_limit.burst",
	"metrics.enabled", "metrics.port",
}

// legacyEnv maps keys to the environment names used before the GATEKEEP_
// prefix existed. EXP is handled separately since it is in seconds.
var legacyEnv = map[string]string{
	"server.address":      "APP_URL",
	"auth.access_secret":  "JWT_SECRET",
	"auth.refresh_secret": "REFRESH_TOKEN_SECRET",
}

const envPrefix = "GATEKEEP"

// Load loads configuration from file, environment variables, and defaults.
//
// A missing config file is not an error: defaults and environment apply.
// The returned configuration has defaults applied and is validated.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	if err := applyLegacyTTL(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process
// environment. Variables already set win. A missing file is ignored.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := gotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: GATEKEEP_SERVER_ADDRESS=0.0.0.0:7878
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range knownKeys {
		names := []string{envName(key)}
		if legacy, ok := legacyEnv[key]; ok {
			names = append(names, legacy)
		}
		_ = v.BindEnv(append([]string{key}, names...)...)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/gatekeep/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// applyLegacyTTL maps EXP (integer seconds) onto auth.access_ttl when the
// prefixed variable is not set.
func applyLegacyTTL(v *viper.Viper) error {
	if _, ok := os.LookupEnv(envName("auth.access_ttl")); ok {
		return nil
	}
	raw, ok := os.LookupEnv("EXP")
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || secs <= 0 {
		return fmt.Errorf("EXP must be a positive number of seconds, got %q", raw)
	}
	v.Set("auth.access_ttl", time.Duration(secs)*time.Second)
	return nil
}

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper, configPath string) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		// An explicit path that does not exist behaves like no file.
		if configPath != "" && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "gatekeep")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "gatekeep")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
