// Package prometheus holds the Prometheus-backed implementations of the
// metrics interfaces.
package prometheus

import (
	"strconv"
	"time"

	"github.com/marmos91/gatekeep/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// gatewayMetrics is the Prometheus implementation of metrics.GatewayMetrics.
type gatewayMetrics struct {
	requestsTotal          *prometheus.CounterVec
	requestDuration        *prometheus.HistogramVec
	requestsInFlight       prometheus.Gauge
	authRejected           *prometheus.CounterVec
	tokensRenewed          prometheus.Counter
	rateLimited            prometheus.Counter
	streamMessages         prometheus.Counter
	bytesWritten           prometheus.Counter
	activeConnections      prometheus.Gauge
	connectionsAccepted    prometheus.Counter
	connectionsClosed      prometheus.Counter
	connectionsForceClosed prometheus.Counter
}

// NewGatewayMetrics creates a new Prometheus-backed GatewayMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewGatewayMetrics() metrics.GatewayMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopGatewayMetrics()
	}

	reg := metrics.GetRegistry()

	return &gatewayMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeep_requests_total",
				Help: "Total number of requests by method, route and status code",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "gatekeep_request_duration_milliseconds",
				Help: "Duration of requests in milliseconds",
				Buckets: []float64{
					1,    // 1ms
					10,   // 10ms
					100,  // 100ms
					500,  // 500ms
					1000, // 1s
				},
			},
			[]string{"method", "route"},
		),
		requestsInFlight: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "gatekeep_requests_in_flight",
				Help: "Current number of requests being processed",
			},
		),
		authRejected: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeep_auth_rejected_total",
				Help: "Total number of requests rejected by the token guard",
			},
			[]string{"reason"},
		),
		tokensRenewed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeep_tokens_renewed_total",
				Help: "Total number of access tokens renewed from a refresh token",
			},
		),
		rateLimited: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeep_rate_limited_total",
				Help: "Total number of requests rejected by the rate limiter",
			},
		),
		streamMessages: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeep_stream_messages_total",
				Help: "Total number of late messages written on streams",
			},
		),
		bytesWritten: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeep_bytes_written_total",
				Help: "Total bytes written to clients",
			},
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "gatekeep_active_connections",
				Help: "Current number of active connections",
			},
		),
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeep_connections_accepted_total",
				Help: "Total number of connections accepted",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeep_connections_closed_total",
				Help: "Total number of connections closed",
			},
		),
		connectionsForceClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeep_connections_force_closed_total",
				Help: "Total number of connections force-closed during shutdown timeout",
			},
		),
	}
}

func (m *gatewayMetrics) RecordRequest(method, route string, status int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds() * 1000) // Convert to milliseconds
}

func (m *gatewayMetrics) RecordRequestStart() {
	m.requestsInFlight.Inc()
}

func (m *gatewayMetrics) RecordRequestEnd() {
	m.requestsInFlight.Dec()
}

func (m *gatewayMetrics) RecordAuthRejected(reason string) {
	m.authRejected.WithLabelValues(reason).Inc()
}

func (m *gatewayMetrics) RecordTokenRenewed() {
	m.tokensRenewed.Inc()
}

func (m *gatewayMetrics) RecordRateLimited() {
	m.rateLimited.Inc()
}

func (m *gatewayMetrics) RecordStreamMessage() {
	m.streamMessages.Inc()
}

func (m *gatewayMetrics) RecordBytesWritten(bytes int) {
	m.bytesWritten.Add(float64(bytes))
}

func (m *gatewayMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *gatewayMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *gatewayMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *gatewayMetrics) RecordConnectionForceClosed() {
	m.connectionsForceClosed.Inc()
}
