package prometheus

import (
	"github.com/marmos91/gatekeep/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type poolMetrics struct {
	queueDepth     prometheus.Gauge
	busyWorkers    prometheus.Gauge
	tasksCompleted *prometheus.CounterVec
}

// NewPoolMetrics creates a new Prometheus-backed PoolMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled.
func NewPoolMetrics() metrics.PoolMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopPoolMetrics()
	}

	reg := metrics.GetRegistry()

	return &poolMetrics{
		queueDepth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "gatekeep_pool_queue_depth",
				Help: "Number of connections waiting for a worker",
			},
		),
		busyWorkers: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "gatekeep_pool_busy_workers",
				Help: "Number of workers currently handling a connection",
			},
		),
		tasksCompleted: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeep_pool_tasks_completed_total",
				Help: "Total number of tasks run by the pool",
			},
			[]string{"outcome"}, // ok or panic
		),
	}
}

func (m *poolMetrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

func (m *poolMetrics) SetBusyWorkers(busy int) {
	m.busyWorkers.Set(float64(busy))
}

func (m *poolMetrics) RecordTaskCompleted(panicked bool) {
	outcome := "ok"
	if panicked {
		outcome = "panic"
	}
	m.tasksCompleted.WithLabelValues(outcome).Inc()
}
