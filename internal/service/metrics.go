package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels of taskrunner_tasks_completed_total.
const (
	outcomeSuccess    = "success"
	outcomeFailure    = "failure"
	outcomeSignaled   = "signaled"
	outcomeSpawnError = "spawn_error"
	outcomeCancelled  = "cancelled"
)

// Result labels of taskrunner_terminations_total.
const (
	terminationGraceful = "graceful"
	terminationForced   = "forced"
	terminationFailed   = "failed"
)

// Metrics exposes the scheduler state to Prometheus. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	waiting      prometheus.Gauge
	running      prometheus.Gauge
	enqueued     prometheus.Counter
	completed    *prometheus.CounterVec
	terminations *prometheus.CounterVec
	duration     prometheus.Histogram
}

// NewMetrics registers the runner collectors in reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		waiting: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskrunner",
			Subsystem: "queue",
			Name:      "waiting_tasks",
			Help:      "Number of tasks waiting for a running slot",
		}),
		running: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskrunner",
			Subsystem: "queue",
			Name:      "running_tasks",
			Help:      "Number of tasks backed by a live process",
		}),
		enqueued: f.NewCounter(prometheus.CounterOpts{
			Namespace: "taskrunner",
			Name:      "tasks_enqueued_total",
			Help:      "Total number of accepted tasks",
		}),
		// Labels: outcome (success, failure, signaled, spawn_error, cancelled)
		completed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskrunner",
			Name:      "tasks_completed_total",
			Help:      "Total number of completed tasks by outcome",
		}, []string{"outcome"}),
		// Labels: result (graceful, forced, failed)
		terminations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskrunner",
			Name:      "terminations_total",
			Help:      "Total number of stop requests on running tasks by result",
		}, []string{"result"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "taskrunner",
			Name:      "task_duration_seconds",
			Help:      "Wall time of task processes in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
	}
}

func (m *Metrics) queue(waiting, running int) {
	if m == nil {
		return
	}
	m.waiting.Set(float64(waiting))
	m.running.Set(float64(running))
}

func (m *Metrics) taskEnqueued() {
	if m == nil {
		return
	}
	m.enqueued.Inc()
}

func (m *Metrics) taskCompleted(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.completed.WithLabelValues(outcome).Inc()
	if outcome != outcomeCancelled {
		m.duration.Observe(took.Seconds())
	}
}

func (m *Metrics) terminated(result string) {
	if m == nil {
		return
	}
	m.terminations.WithLabelValues(result).Inc()
}
