package framework

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/gatekeep/internal/logger"
	"github.com/marmos91/gatekeep/pkg/adapter/http1"
	"github.com/marmos91/gatekeep/pkg/config"
	"github.com/marmos91/gatekeep/pkg/server"
)

// StoreType represents the user store backend to run against
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeBadger StoreType = "badger"
	StoreTypeBolt   StoreType = "bolt"
)

// AllStoreTypes lists every backend the suites run against.
func AllStoreTypes() []StoreType {
	return []StoreType{StoreTypeMemory, StoreTypeBadger, StoreTypeBolt}
}

// Persistent reports whether the backend survives a restart.
func (s StoreType) Persistent() bool {
	return s != StoreTypeMemory
}

// TestServerConfig holds configuration for the test server.
type TestServerConfig struct {
	Store          StoreType
	DataDir        string // Reused across restarts for persistent stores
	LogLevel       string
	StartupTimeout time.Duration

	// Mutate adjusts the generated configuration before validation.
	Mutate func(*config.Config)
}

// TestServer wraps a gatekeep server for testing
type TestServer struct {
	t      testing.TB
	config TestServerConfig

	server  *server.Server
	gateway *http1.Adapter
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// NewTestServer creates a new test server instance
func NewTestServer(t testing.TB, config TestServerConfig) *TestServer {
	t.Helper()

	if config.Store == "" {
		config.Store = StoreTypeMemory
	}
	if config.DataDir == "" {
		config.DataDir = t.TempDir()
	}
	if config.LogLevel == "" {
		config.LogLevel = "ERROR" // Keep tests quiet by default
	}
	if config.StartupTimeout == 0 {
		config.StartupTimeout = 10 * time.Second
	}

	return &TestServer{t: t, config: config}
}

// Config builds the gateway configuration the server is started with.
func (ts *TestServer) Config() *config.Config {
	cfg := config.GetDefaultConfig()
	cfg.Logging.Level = ts.config.LogLevel
	cfg.Server.Address = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Auth.AccessSecret = "e2e-access-secret"
	cfg.Auth.RefreshSecret = "e2e-refresh-secret"
	cfg.Metrics.Enabled = false

	cfg.Store.Type = string(ts.config.Store)
	switch ts.config.Store {
	case StoreTypeBadger:
		cfg.Store.Badger = map[string]any{"db_path": filepath.Join(ts.config.DataDir, "badger")}
	case StoreTypeBolt:
		cfg.Store.Bolt = map[string]any{"path": filepath.Join(ts.config.DataDir, "users.db")}
	}

	if ts.config.Mutate != nil {
		ts.config.Mutate(cfg)
	}
	return cfg
}

// Start starts the test server
func (ts *TestServer) Start() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.started {
		return fmt.Errorf("server already started")
	}

	ts.t.Helper()
	logger.SetLevel(ts.config.LogLevel)

	cfg := ts.Config()
	if err := config.Validate(cfg); err != nil {
		return err
	}

	ts.ctx, ts.cancel = context.WithCancel(context.Background())

	store, err := config.CreateUserStore(ts.ctx, &cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to create user store: %w", err)
	}
	ts.t.Logf("Using %s user store", ts.config.Store)

	gateway, err := config.CreateGateway(cfg, nil, store)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to create gateway: %w", err)
	}
	ts.gateway = gateway

	ts.server = server.New(store)
	if err := ts.server.AddAdapter(gateway); err != nil {
		_ = store.Close()
		return err
	}

	ts.wg.Add(1)
	go func() {
		defer ts.wg.Done()
		if err := ts.server.Serve(ts.ctx); err != nil {
			ts.t.Logf("Server error: %v", err)
		}
	}()

	select {
	case <-gateway.Ready():
	case <-time.After(ts.config.StartupTimeout):
		ts.cancel()
		ts.wg.Wait()
		return fmt.Errorf("timeout waiting for server to start")
	}

	if err := ts.waitForServer(); err != nil {
		ts.cancel()
		ts.wg.Wait()
		return err
	}

	ts.started = true
	ts.t.Logf("Server started successfully on %s", gateway.Addr())
	return nil
}

// Stop stops the test server. The data directory is kept so a persistent
// store can be reopened by a later Start.
func (ts *TestServer) Stop() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if !ts.started {
		return nil
	}

	ts.t.Helper()
	ts.cancel()

	done := make(chan struct{})
	go func() {
		ts.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		ts.t.Logf("Server stopped gracefully")
	case <-time.After(10 * time.Second):
		return fmt.Errorf("server stop timeout")
	}

	ts.started = false
	return nil
}

// Addr returns the address the gateway is listening on
func (ts *TestServer) Addr() string {
	return ts.gateway.Addr()
}

// URL returns the base URL of the gateway
func (ts *TestServer) URL() string {
	return "http://" + ts.Addr()
}

func (ts *TestServer) waitForServer() error {
	deadline := time.Now().Add(ts.config.StartupTimeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", ts.gateway.Addr(), 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for %s to accept connections", ts.gateway.Addr())
}
