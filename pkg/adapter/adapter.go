package adapter

import (
	"context"
)

// Adapter is a listener-owning front end that can be managed by server.Server.
//
// Lifecycle:
//  1. Creation: the adapter is built with its configuration and collaborators
//  2. Startup: Serve() binds, accepts and blocks until shutdown
//  3. Shutdown: Stop() or context cancellation drains active connections
//
// Stop may be called concurrently with Serve.
type Adapter interface {
	// Serve binds the listener and blocks until the context is cancelled or
	// Stop is called.
	//
	// Returns nil after a graceful shutdown. A bind failure is returned
	// immediately and is the only error that should abort the process.
	Serve(ctx context.Context) error

	// Stop initiates graceful shutdown and waits for active connections
	// until ctx expires. Safe to call multiple times.
	Stop(ctx context.Context) error

	// Protocol returns the human-readable protocol name for logging.
	Protocol() string

	// Addr returns the bound listener address, or the configured address
	// before Serve has bound.
	Addr() string
}
