package metrics

// PoolMetrics provides observability for the worker pool.
type PoolMetrics interface {
	// SetQueueDepth updates the number of tasks waiting for a worker.
	SetQueueDepth(depth int)

	// SetBusyWorkers updates the number of workers running a task.
	SetBusyWorkers(busy int)

	// RecordTaskCompleted counts a finished task. panicked is set when the
	// task was aborted by a recovered panic.
	RecordTaskCompleted(panicked bool)
}

// NewNoopPoolMetrics returns a PoolMetrics that discards everything.
func NewNoopPoolMetrics() PoolMetrics {
	return noopPoolMetrics{}
}

type noopPoolMetrics struct{}

func (noopPoolMetrics) SetQueueDepth(int)        {}
func (noopPoolMetrics) SetBusyWorkers(int)       {}
func (noopPoolMetrics) RecordTaskCompleted(bool) {}
