package http1

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/gatekeep/internal/logger"
	"github.com/marmos91/gatekeep/internal/ratelimiter"
	wire "github.com/marmos91/gatekeep/internal/protocol/http1"
	"github.com/marmos91/gatekeep/pkg/auth"
	"github.com/marmos91/gatekeep/pkg/metrics"
	"github.com/marmos91/gatekeep/pkg/router"
	"github.com/marmos91/gatekeep/pkg/workerpool"
)

// Adapter accepts raw TCP connections and serves one request per connection
// through the worker pool.
//
// Architecture:
//   - Serve binds and runs the accept loop
//   - Each accepted connection becomes one pool task
//   - The task frames the request, runs the rate limiter, the guard and the
//     router, then hands the reply to a responder
//   - Streaming replies keep the connection open after the task returns
//
// Graceful shutdown:
//  1. The listener is closed so no new connections are accepted
//  2. Active connections, draining streams included, are waited for up to
//     ShutdownTimeout
//  3. Remaining sockets are force-closed
//  4. The worker pool is shut down
type Adapter struct {
	config Config

	guard   *auth.Guard
	router  *router.Router
	limiter *ratelimiter.RateLimiter
	cors    wire.CORS
	metrics metrics.GatewayMetrics
	pool    *workerpool.Pool

	listener net.Listener
	ready    chan struct{}
	mu       sync.Mutex

	// activeConns tracks connections from accept until the socket is shut
	// down, including the streaming phase.
	activeConns sync.WaitGroup

	shutdownOnce sync.Once
	shutdown     chan struct{}

	// connCount mirrors activeConns for metrics and logging.
	connCount atomic.Int32

	// connSemaphore limits concurrent connections. Nil means unlimited.
	connSemaphore chan struct{}

	// shutdownCtx is cancelled when shutdown starts. Handlers receive it.
	shutdownCtx    context.Context
	cancelRequests context.CancelFunc

	// activeConnections maps connection id to net.Conn for forced closure.
	activeConnections sync.Map

	stopped chan struct{}
	stopErr error
}

// Config configures the adapter.
type Config struct {
	// Address is the TCP address to bind.
	Address string

	// Workers is the worker pool size.
	Workers int

	// MaxConnections caps concurrently open connections. 0 means unlimited.
	MaxConnections int

	// MaxRequestSize caps the bytes read for one request.
	MaxRequestSize int

	// ReadTimeout bounds reading the request. 0 disables it.
	ReadTimeout time.Duration

	// WriteTimeout bounds each flush. 0 disables it.
	WriteTimeout time.Duration

	// ShutdownTimeout bounds the wait for active connections.
	ShutdownTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Address == "" {
		c.Address = "127.0.0.1:7878"
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxRequestSize <= 0 {
		c.MaxRequestSize = wire.DefaultMaxRequestSize
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

func (c *Config) validate() error {
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("invalid ReadTimeout %v: must be >= 0", c.ReadTimeout)
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("invalid WriteTimeout %v: must be >= 0", c.WriteTimeout)
	}
	return nil
}

// Deps are the collaborators shared by every connection.
type Deps struct {
	// Guard authorizes requests. Required.
	Guard *auth.Guard

	// Router produces replies. Required.
	Router *router.Router

	// Limiter rejects requests over the rate limit. Nil disables limiting.
	Limiter *ratelimiter.RateLimiter

	// CORS is applied to the responses built by the adapter itself.
	CORS wire.CORS

	// Metrics defaults to a no-op implementation.
	Metrics metrics.GatewayMetrics

	// PoolMetrics defaults to a no-op implementation.
	PoolMetrics metrics.PoolMetrics
}

// New creates the adapter and starts its worker pool.
func New(config Config, deps Deps) (*Adapter, error) {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid http1 adapter config: %w", err)
	}
	if deps.Guard == nil || deps.Router == nil {
		return nil, errors.New("http1 adapter requires a guard and a router")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoopGatewayMetrics()
	}
	if deps.PoolMetrics == nil {
		deps.PoolMetrics = metrics.NewNoopPoolMetrics()
	}

	pool, err := workerpool.New(config.Workers, workerpool.WithMetrics(deps.PoolMetrics))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
		logger.Debug("HTTP connection limit: %d", config.MaxConnections)
	} else {
		logger.Debug("HTTP connection limit: unlimited")
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	return &Adapter{
		config:         config,
		guard:          deps.Guard,
		router:         deps.Router,
		limiter:        deps.Limiter,
		cors:           deps.CORS,
		metrics:        deps.Metrics,
		pool:           pool,
		ready:          make(chan struct{}),
		shutdown:       make(chan struct{}),
		connSemaphore:  connSemaphore,
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancelRequests,
		stopped:        make(chan struct{}),
	}, nil
}

// Serve binds the listener and accepts connections until ctx is cancelled
// or Stop is called. A bind failure is returned immediately.
func (s *Adapter) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		s.initiateShutdown()
		_ = s.pool.Shutdown(context.Background())
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}

	s.mu.Lock()
	s.listener = listener
	select {
	case <-s.shutdown:
		// Stopped before bind.
		_ = listener.Close()
	default:
	}
	s.mu.Unlock()
	close(s.ready)

	logger.Info("Gateway listening on %s (workers=%d)", listener.Addr(), s.pool.Size())
	logger.Debug("Gateway config: max_connections=%d max_request_size=%d read_timeout=%v write_timeout=%v",
		s.config.MaxConnections, s.config.MaxRequestSize, s.config.ReadTimeout, s.config.WriteTimeout)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("Gateway shutdown signal received: %v", ctx.Err())
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	for {
		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			case <-s.shutdown:
				return s.gracefulShutdown()
			}
		}

		tcpConn, err := listener.Accept()
		if err != nil {
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}

			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
				logger.Debug("Error accepting connection: %v", err)
				continue
			}
		}

		s.track(tcpConn)
	}
}

// track registers an accepted connection and queues it on the pool.
func (s *Adapter) track(tcpConn net.Conn) {
	conn := newConnection(s, tcpConn)

	s.activeConns.Add(1)
	current := s.connCount.Add(1)
	s.activeConnections.Store(conn.id, tcpConn)

	s.metrics.RecordConnectionAccepted()
	s.metrics.SetActiveConnections(current)

	logger.Debug("Connection %s accepted from %s (active: %d)", conn.id, tcpConn.RemoteAddr(), current)

	err := s.pool.Submit(func() {
		conn.serve(s.shutdownCtx)
	})
	if err != nil {
		logger.Debug("Connection %s dropped: %v", conn.id, err)
		_ = tcpConn.Close()
		s.release(conn.id)
	}
}

// release undoes track once the connection's socket has been shut down.
func (s *Adapter) release(id string) {
	s.activeConnections.Delete(id)

	if s.connSemaphore != nil {
		<-s.connSemaphore
	}
	current := s.connCount.Add(-1)

	s.metrics.RecordConnectionClosed()
	s.metrics.SetActiveConnections(current)
	s.activeConns.Done()

	logger.Debug("Connection %s closed (active: %d)", id, current)
}

// initiateShutdown closes the listener and signals shutdown. Safe to call
// multiple times.
func (s *Adapter) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("Gateway shutdown initiated")

		close(s.shutdown)

		s.mu.Lock()
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Debug("Error closing listener: %v", err)
			}
		}
		s.mu.Unlock()

		s.cancelRequests()
	})
}

// gracefulShutdown waits for active connections, force-closes stragglers and
// shuts the pool down. It runs once, at the end of Serve.
func (s *Adapter) gracefulShutdown() error {
	defer close(s.stopped)

	activeCount := s.connCount.Load()
	logger.Info("Gateway graceful shutdown: waiting for %d active connection(s) (timeout: %v)",
		activeCount, s.config.ShutdownTimeout)

	if !s.waitConnections(s.config.ShutdownTimeout) {
		remaining := s.connCount.Load()
		stats := s.pool.Stats()
		logger.Warn("Gateway shutdown timeout exceeded: %d connection(s) still active after %v (workers busy=%d/%d, queued=%d), forcing closure",
			remaining, s.config.ShutdownTimeout, stats.Busy, stats.Size, stats.Queued)
		s.forceCloseConnections()
		s.stopErr = fmt.Errorf("gateway shutdown timeout: %d connections force-closed", remaining)
	} else {
		logger.Info("Gateway graceful shutdown complete: all connections closed")
	}

	poolCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.pool.Shutdown(poolCtx); err != nil {
		logger.Warn("Worker pool did not stop in time: %v", err)
		if s.stopErr == nil {
			s.stopErr = err
		}
	}

	return s.stopErr
}

func (s *Adapter) waitConnections(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// forceCloseConnections closes every tracked socket. Blocked reads and
// writes fail, which ends the owning task or stream.
func (s *Adapter) forceCloseConnections() {
	logger.Info("Force-closing active connections")

	closedCount := 0
	s.activeConnections.Range(func(key, value any) bool {
		id := key.(string)
		conn := value.(net.Conn)

		if err := conn.Close(); err != nil {
			logger.Debug("Error force-closing connection %s: %v", id, err)
		} else {
			closedCount++
			s.metrics.RecordConnectionForceClosed()
			logger.Debug("Force-closed connection %s", id)
		}
		return true
	})

	if closedCount > 0 {
		logger.Info("Force-closed %d connection(s)", closedCount)
	}
}

// Stop initiates graceful shutdown and waits until Serve has finished or
// ctx expires. Safe to call multiple times and concurrently with Serve.
func (s *Adapter) Stop(ctx context.Context) error {
	s.initiateShutdown()

	select {
	case <-s.ready:
	default:
		// Serve never bound: nothing to drain.
		return s.pool.Shutdown(ctx)
	}

	select {
	case <-s.stopped:
		return s.stopErr
	case <-ctx.Done():
		logger.Warn("Gateway stop: %d connection(s) still active: %v", s.connCount.Load(), ctx.Err())
		return ctx.Err()
	}
}

// Ready is closed once the listener is bound.
func (s *Adapter) Ready() <-chan struct{} {
	return s.ready
}

// ActiveConnections returns the number of open connections.
func (s *Adapter) ActiveConnections() int32 {
	return s.connCount.Load()
}

// Addr returns the bound address, or the configured one before Serve binds.
func (s *Adapter) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Address
}

// Protocol returns "HTTP/1.1".
func (s *Adapter) Protocol() string {
	return "HTTP/1.1"
}
