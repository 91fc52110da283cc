package config

import (
	"fmt"

	"github.com/marmos91/gatekeep/internal/logger"
	wire "github.com/marmos91/gatekeep/internal/protocol/http1"
	"github.com/marmos91/gatekeep/internal/ratelimiter"
	"github.com/marmos91/gatekeep/pkg/adapter/http1"
	"github.com/marmos91/gatekeep/pkg/auth"
	"github.com/marmos91/gatekeep/pkg/router"
	"github.com/marmos91/gatekeep/pkg/store/user"
	"github.com/marmos91/gatekeep/pkg/token"
)

// CreateGateway builds the HTTP/1.1 adapter and everything it serves from
// the configuration: token keyring, guard, router and optional rate limiter.
//
// Parameters:
//   - cfg: The complete, validated configuration
//   - m: Metrics collectors from InitializeMetrics (nil = no metrics)
//   - users: The user store the auth routes operate on
func CreateGateway(cfg *Config, m *MetricsResult, users user.Store) (*http1.Adapter, error) {
	keys, err := token.NewKeyring(token.KeyringConfig{
		AccessSecret:  cfg.Auth.AccessSecret,
		AccessTTL:     cfg.Auth.AccessTTL,
		RefreshSecret: cfg.Auth.RefreshSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("token keyring: %w", err)
	}

	cors := wire.CORS{AllowedOrigin: cfg.CORS.AllowedOrigin}

	var limiter *ratelimiter.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimiter.New(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
		logger.Info("Rate limit: %d req/s (burst %d)", cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}

	deps := http1.Deps{
		Guard:   auth.NewGuard(keys, auth.PublicPrefixes(cfg.Auth.PublicPaths)),
		Router:  router.New(router.Config{CORS: cors}, keys, users),
		Limiter: limiter,
		CORS:    cors,
	}
	if m != nil {
		deps.Metrics, deps.PoolMetrics = m.Gateway, m.Pool
	}

	return http1.New(http1.Config{
		Address:         cfg.Server.Address,
		Workers:         cfg.Server.Workers,
		MaxConnections:  cfg.Server.MaxConnections,
		MaxRequestSize:  cfg.Server.MaxRequestSize,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, deps)
}
