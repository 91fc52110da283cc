package metrics

import "time"

// GatewayMetrics provides observability for the HTTP/1 adapter.
//
// This interface is optional - if not provided to the adapter, a no-op
// implementation is used.
//
// Example usage:
//
//	// With metrics enabled
//	m := prometheus.NewGatewayMetrics()
//	adapter := http1.New(config, http1.Deps{Metrics: m, ...})
//
//	// Without metrics (no-op)
//	adapter := http1.New(config, http1.Deps{...})
type GatewayMetrics interface {
	// RecordRequest records a completed request.
	//
	// Parameters:
	//   - method: request method (e.g., "GET", "POST")
	//   - route: first path segment of the request (e.g., "auth", "users")
	//   - status: HTTP status code of the synchronous reply
	//   - duration: time from framing to reply written
	RecordRequest(method, route string, status int, duration time.Duration)

	// RecordRequestStart increments the in-flight request gauge.
	RecordRequestStart()

	// RecordRequestEnd decrements the in-flight request gauge.
	RecordRequestEnd()

	// RecordAuthRejected counts a request rejected by the guard.
	//
	// Parameters:
	//   - reason: rejection category (e.g., "unauthenticated", "refresh_expired")
	RecordAuthRejected(reason string)

	// RecordTokenRenewed counts a silent access token renewal.
	RecordTokenRenewed()

	// RecordRateLimited counts a request rejected by the rate limiter.
	RecordRateLimited()

	// RecordStreamMessage counts a late message written on a stream.
	RecordStreamMessage()

	// RecordBytesWritten records bytes sent to clients.
	RecordBytesWritten(bytes int)

	// SetActiveConnections updates the current connection count.
	SetActiveConnections(count int32)

	// RecordConnectionAccepted increments the accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the closed connections counter.
	RecordConnectionClosed()

	// RecordConnectionForceClosed counts connections closed by the shutdown
	// timeout.
	RecordConnectionForceClosed()
}

// NewNoopGatewayMetrics returns a GatewayMetrics that discards everything.
func NewNoopGatewayMetrics() GatewayMetrics {
	return noopGatewayMetrics{}
}

type noopGatewayMetrics struct{}

func (noopGatewayMetrics) RecordRequest(string, string, int, time.Duration) {}
func (noopGatewayMetrics) RecordRequestStart()                              {}
func (noopGatewayMetrics) RecordRequestEnd()                                {}
func (noopGatewayMetrics) RecordAuthRejected(string)                        {}
func (noopGatewayMetrics) RecordTokenRenewed()                              {}
func (noopGatewayMetrics) RecordRateLimited()                               {}
func (noopGatewayMetrics) RecordStreamMessage()                             {}
func (noopGatewayMetrics) RecordBytesWritten(int)                           {}
func (noopGatewayMetrics) SetActiveConnections(int32)                       {}
func (noopGatewayMetrics) RecordConnectionAccepted()                        {}
func (noopGatewayMetrics) RecordConnectionClosed()                          {}
func (noopGatewayMetrics) RecordConnectionForceClosed()                     {}
