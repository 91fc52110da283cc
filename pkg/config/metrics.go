package config

import (
	"fmt"

	"github.com/marmos91/gatekeep/pkg/metrics"
	promMetrics "github.com/marmos91/gatekeep/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// Gateway collects connection and request metrics (never nil)
	Gateway metrics.GatewayMetrics

	// Pool collects worker pool metrics (never nil)
	Pool metrics.PoolMetrics
}

// InitializeMetrics creates all metrics components based on configuration.
//
// When metrics are disabled the server is nil and the collectors are no-ops.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			Gateway: metrics.NewNoopGatewayMetrics(),
			Pool:    metrics.NewNoopPoolMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.GetRegistry(), metrics.ServerConfig{
		Address: fmt.Sprintf(":%d", cfg.Metrics.Port),
	})

	return &MetricsResult{
		Server:  server,
		Gateway: promMetrics.NewGatewayMetrics(),
		Pool:    promMetrics.NewPoolMetrics(),
	}
}
