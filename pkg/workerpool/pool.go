// Package workerpool runs connection tasks on a fixed set of goroutines.
//
// Tasks are queued in FIFO order and each is executed exactly once by exactly
// one worker. The queue is unbounded: Submit never blocks the accept loop.
// Backpressure comes from the adapter's connection limit, not from here.
//
// Shutdown enqueues one terminate signal per worker behind every task already
// submitted, so queued work is drained before the workers exit.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/marmos91/gatekeep/internal/logger"
	"github.com/marmos91/gatekeep/pkg/metrics"
)

// ErrPoolClosed is returned by Submit once Shutdown has been called.
var ErrPoolClosed = errors.New("worker pool is shut down")

// Task is a unit of work. It runs to completion on a single worker.
type Task func()

// item is either a task or the terminate signal (task == nil).
type item struct {
	task Task
}

// Stats is a point-in-time snapshot of the pool.
type Stats struct {
	// Size is the number of workers.
	Size int

	// Queued is the number of submitted tasks not yet picked up.
	Queued int

	// Busy is the number of workers currently running a task.
	Busy int
}

// Option configures a Pool.
type Option func(*Pool)

// WithMetrics attaches pool metrics. A nil value keeps the no-op default.
func WithMetrics(m metrics.PoolMetrics) Option {
	return func(p *Pool) {
		if m != nil {
			p.metrics = m
		}
	}
}

// Pool is a fixed-size worker pool.
type Pool struct {
	size int

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []item
	busy   int
	closed bool

	wg      sync.WaitGroup
	done    chan struct{}
	metrics metrics.PoolMetrics
}

// New starts size workers. size must be positive.
func New(size int, opts ...Option) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("worker pool size must be > 0, got %d", size)
	}

	p := &Pool{
		size:    size,
		done:    make(chan struct{}),
		metrics: metrics.NewNoopPoolMetrics(),
	}
	p.cond = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}

	p.wg.Add(size)
	for id := 0; id < size; id++ {
		go p.worker(id)
	}

	go func() {
		p.wg.Wait()
		close(p.done)
	}()

	logger.Debug("Worker pool started with %d workers", size)
	return p, nil
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Submit enqueues a task. It returns ErrPoolClosed after Shutdown.
func (p *Pool) Submit(task Task) error {
	if task == nil {
		return errors.New("nil task")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	p.queue = append(p.queue, item{task: task})
	p.metrics.SetQueueDepth(len(p.queue))
	p.cond.Signal()
	return nil
}

// Stats returns a snapshot of queue depth and busy workers. Pending
// terminate signals are not counted as queued.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	queued := 0
	for _, it := range p.queue {
		if it.task != nil {
			queued++
		}
	}
	return Stats{Size: p.size, Queued: queued, Busy: p.busy}
}

// Shutdown stops accepting tasks, lets every worker finish the queued work
// and waits for all of them to exit.
//
// If ctx expires first, Shutdown returns ctx.Err(); workers keep draining in
// the background. Calling Shutdown more than once is safe.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		for i := 0; i < p.size; i++ {
			p.queue = append(p.queue, item{})
		}
		p.cond.Broadcast()
		logger.Debug("Worker pool shutting down: %d workers signalled", p.size)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		logger.Debug("Worker pool stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// next blocks until an item is available and removes it from the queue.
func (p *Pool) next() item {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) == 0 {
		p.cond.Wait()
	}
	it := p.queue[0]
	p.queue[0] = item{}
	p.queue = p.queue[1:]

	if it.task != nil {
		p.busy++
		p.metrics.SetBusyWorkers(p.busy)
	}
	p.metrics.SetQueueDepth(len(p.queue))
	return it
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		it := p.next()
		if it.task == nil {
			logger.Debug("Worker %d terminating", id)
			return
		}

		panicked := p.run(id, it.task)

		p.mu.Lock()
		p.busy--
		p.metrics.SetBusyWorkers(p.busy)
		p.mu.Unlock()
		p.metrics.RecordTaskCompleted(panicked)
	}
}

// run executes task, recovering from panics so the worker survives.
func (p *Pool) run(id int, task Task) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			logger.Error("Panic in worker %d: %v\n%s", id, r, debug.Stack())
		}
	}()
	task()
	return false
}
