package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/gatekeep/internal/protocol/http1"
)

// Default values for unspecified fields.
const (
	DefaultAddress         = "127.0.0.1:7878"
	DefaultWorkers         = 4
	DefaultMaxRequestSize  = 1 << 20
	DefaultShutdownTimeout = 30 * time.Second
	DefaultAccessTTL       = 15 * time.Minute
	DefaultMetricsPort     = 9090
	DefaultRequestsPerSec  = 100
	DefaultBurst           = 200
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced with defaults and explicit values are preserved.
// Secrets never get a default.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyAuthDefaults(&cfg.Auth)
	applyCORSDefaults(&cfg.CORS)
	applyStoreDefaults(&cfg.Store)
	applyRateLimitDefaults(&cfg.RateLimit)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}
	if cfg.Workers == 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.MaxRequestSize == 0 {
		cfg.MaxRequestSize = DefaultMaxRequestSize
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	// MaxConnections, ReadTimeout and WriteTimeout default to 0 (disabled)
}

func applyAuthDefaults(cfg *AuthConfig) {
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.PublicPaths == nil {
		cfg.PublicPaths = []string{"/auth"}
	}
}

func applyCORSDefaults(cfg *CORSConfig) {
	if cfg.AllowedOrigin == "" {
		cfg.AllowedOrigin = http1.DefaultAllowedOrigin
	}
}

// applyStoreDefaults sets user store defaults.
func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}

	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if cfg.Bolt == nil {
		cfg.Bolt = make(map[string]any)
	}

	// Defaults for every backend so generated files show them all
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = filepath.Join(os.TempDir(), "gatekeep", "badger")
	}
	if _, ok := cfg.Bolt["path"]; !ok {
		cfg.Bolt["path"] = filepath.Join(os.TempDir(), "gatekeep", "users.db")
	}
}

func applyRateLimitDefaults(cfg *RateLimitConfig) {
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSec
	}
	if cfg.Burst == 0 {
		cfg.Burst = DefaultBurst
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultMetricsPort
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// The secrets are left empty, so the result does not validate until they
// are filled in.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
