package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/gatekeep/pkg/store/user/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter blocks in Serve until ctx is cancelled or Stop is called.
type fakeAdapter struct {
	addr     string
	serveErr error

	stopOnce sync.Once
	stopCh   chan struct{}
	started  chan struct{}
	stops    atomic.Int32
	order    *[]string
	orderMu  *sync.Mutex
}

func newFakeAdapter(addr string) *fakeAdapter {
	return &fakeAdapter{
		addr:    addr,
		stopCh:  make(chan struct{}),
		started: make(chan struct{}),
	}
}

func (f *fakeAdapter) Serve(ctx context.Context) error {
	close(f.started)
	if f.serveErr != nil {
		return f.serveErr
	}
	select {
	case <-ctx.Done():
	case <-f.stopCh:
	}
	return nil
}

func (f *fakeAdapter) Stop(context.Context) error {
	f.stops.Add(1)
	if f.order != nil {
		f.orderMu.Lock()
		*f.order = append(*f.order, f.addr)
		f.orderMu.Unlock()
	}
	f.stopOnce.Do(func() { close(f.stopCh) })
	return nil
}

func (f *fakeAdapter) Protocol() string { return "fake" }
func (f *fakeAdapter) Addr() string     { return f.addr }

// closeCounter wraps the memory store to observe Close.
type closeCounter struct {
	*memory.Store
	closed atomic.Int32
}

func (c *closeCounter) Close() error {
	c.closed.Add(1)
	return c.Store.Close()
}

func TestAddAdapterRejectsDuplicateAddress(t *testing.T) {
	srv := New(memory.New())

	require.NoError(t, srv.AddAdapter(newFakeAdapter("127.0.0.1:7878")))
	err := srv.AddAdapter(newFakeAdapter("127.0.0.1:7878"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already used")

	require.NoError(t, srv.AddAdapter(newFakeAdapter("127.0.0.1:7879")))
	assert.Len(t, srv.Adapters(), 2)
}

func TestServeWithoutAdapters(t *testing.T) {
	store := &closeCounter{Store: memory.New()}
	srv := New(store)

	err := srv.Serve(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), store.closed.Load(), "store is closed even on early failure")
}

func TestServeStopsOnCancel(t *testing.T) {
	store := &closeCounter{Store: memory.New()}
	srv := New(store)

	var order []string
	var mu sync.Mutex
	first, second := newFakeAdapter("a"), newFakeAdapter("b")
	for _, f := range []*fakeAdapter{first, second} {
		f.order, f.orderMu = &order, &mu
		require.NoError(t, srv.AddAdapter(f))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	<-first.started
	<-second.started
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}

	assert.Equal(t, []string{"b", "a"}, order, "stopped in reverse order")
	assert.Equal(t, int32(1), store.closed.Load())

	assert.ErrorIs(t, srv.Serve(context.Background()), ErrAlreadyServed)
	assert.ErrorIs(t, srv.AddAdapter(newFakeAdapter("c")), ErrAlreadyServed)
}

func TestServeAdapterFailureStopsOthers(t *testing.T) {
	store := &closeCounter{Store: memory.New()}
	srv := New(store, WithStopTimeout(time.Second))

	healthy := newFakeAdapter("healthy")
	broken := newFakeAdapter("broken")
	broken.serveErr = errors.New("address already in use")

	require.NoError(t, srv.AddAdapter(healthy))
	require.NoError(t, srv.AddAdapter(broken))

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "address already in use")
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}

	assert.GreaterOrEqual(t, healthy.stops.Load(), int32(1))
	assert.Equal(t, int32(1), store.closed.Load())
}

func TestNewPanicsOnNilStore(t *testing.T) {
	assert.Panics(t, func() { New(nil) })
}
