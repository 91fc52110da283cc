package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/gatekeep/internal/logger"
	"github.com/marmos91/gatekeep/pkg/adapter"
	"github.com/marmos91/gatekeep/pkg/store/user"
)

// DefaultStopTimeout bounds the Stop call issued to each adapter.
const DefaultStopTimeout = 30 * time.Second

// ErrAlreadyServed is returned by a second call to Serve.
var ErrAlreadyServed = errors.New("server: Serve already called")

// Server manages the lifecycle of the gateway's listeners and of the user
// store they share.
//
// Lifecycle:
//  1. Creation: New() with the user store
//  2. Registration: AddAdapter() for each listener
//  3. Startup: Serve() starts all adapters concurrently
//  4. Shutdown: context cancellation or an adapter failure stops every
//     adapter, then the store is closed
//
// Example usage:
//
//	srv := server.New(store)
//	if err := srv.AddAdapter(gateway); err != nil {
//	    return err
//	}
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	return srv.Serve(ctx)
type Server struct {
	store user.Store

	// adapters in registration order.
	adapters []adapter.Adapter

	// mu protects adapters and served.
	mu     sync.Mutex
	served bool

	stopTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithStopTimeout overrides DefaultStopTimeout.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

// New creates a server owning store. The store is closed when Serve returns.
//
// Panics if store is nil.
func New(store user.Store, opts ...Option) *Server {
	if store == nil {
		panic("user store cannot be nil")
	}

	s := &Server{
		store:       store,
		adapters:    make([]adapter.Adapter, 0, 2),
		stopTimeout: DefaultStopTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddAdapter registers an adapter. Two adapters may not share an address.
//
// Panics if a is nil.
func (s *Server) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		return ErrAlreadyServed
	}

	addr := a.Addr()
	for _, existing := range s.adapters {
		if existing.Addr() == addr {
			return fmt.Errorf("address %s already used by %s adapter", addr, existing.Protocol())
		}
	}

	s.adapters = append(s.adapters, a)
	logger.Info("Registered %s adapter on %s", a.Protocol(), addr)

	return nil
}

// Serve starts every adapter and blocks until ctx is cancelled or one of
// them fails.
//
// Returns nil after a shutdown triggered by ctx, or the first adapter error
// (a bind failure, typically). In both cases every adapter has returned and
// the store has been closed. Serve may only be called once.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		return ErrAlreadyServed
	}
	s.served = true
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	s.mu.Unlock()

	defer s.closeStore()

	if len(adapters) == 0 {
		return errors.New("no adapters registered; call AddAdapter() before Serve()")
	}

	logger.Info("Starting gatekeep with %d adapter(s)", len(adapters))

	errChan := make(chan adapterError, len(adapters))
	var wg sync.WaitGroup

	for _, adp := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()

			protocol := a.Protocol()
			logger.Debug("Starting %s adapter on %s", protocol, a.Addr())

			if err := a.Serve(ctx); err != nil {
				if errors.Is(err, context.Canceled) || ctx.Err() != nil {
					logger.Debug("%s adapter stopped: %v", protocol, err)
					return
				}
				logger.Error("%s adapter failed: %v", protocol, err)
				errChan <- adapterError{protocol: protocol, err: err}
				return
			}
			logger.Info("%s adapter stopped", protocol)
		}(adp)
	}

	// allDone lets a clean exit of every adapter end Serve without a signal.
	allDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(allDone)
	}()

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		s.stopAllAdapters(adapters)

	case adapterErr := <-errChan:
		logger.Error("Adapter %s failed, stopping remaining adapters", adapterErr.protocol)
		s.stopAllAdapters(adapters)
		shutdownErr = fmt.Errorf("%s adapter error: %w", adapterErr.protocol, adapterErr.err)

	case <-allDone:
		select {
		case adapterErr := <-errChan:
			shutdownErr = fmt.Errorf("%s adapter error: %w", adapterErr.protocol, adapterErr.err)
		default:
		}
		// Stop is idempotent; this keeps the shutdown order when every
		// adapter returned on ctx before the signal case was selected.
		s.stopAllAdapters(adapters)
	}

	logger.Debug("Waiting for all adapters to complete shutdown")
	<-allDone

	logger.Info("Gatekeep stopped")
	return shutdownErr
}

type adapterError struct {
	protocol string
	err      error
}

// stopAllAdapters stops adapters in reverse registration order. Errors are
// logged; shutdown continues with the next adapter.
func (s *Server) stopAllAdapters(adapters []adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()

	logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))

	for i := len(adapters) - 1; i >= 0; i-- {
		adp := adapters[i]
		if err := adp.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", adp.Protocol(), err)
		} else {
			logger.Debug("%s adapter stopped cleanly", adp.Protocol())
		}
	}
}

func (s *Server) closeStore() {
	if err := s.store.Close(); err != nil {
		logger.Error("Error closing user store: %v", err)
	}
}

// Adapters returns a copy of the registered adapters.
func (s *Server) Adapters() []adapter.Adapter {
	s.mu.Lock()
	defer s.mu.Unlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}
