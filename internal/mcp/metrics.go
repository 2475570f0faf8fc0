package mcp

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts tool invocations. A nil *Metrics records nothing.
type Metrics struct {
	invocations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// Labels: tool, result (ok, error)
		invocations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskrunner",
			Subsystem: "mcp",
			Name:      "tool_invocations_total",
			Help:      "Total number of MCP tool invocations",
		}, []string{"tool", "result"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taskrunner",
			Subsystem: "mcp",
			Name:      "tool_duration_seconds",
			Help:      "Duration of MCP tool invocations",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"tool"}),
	}
}

func (m *Metrics) record(tool string, took time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.invocations.WithLabelValues(tool, result).Inc()
	m.duration.WithLabelValues(tool).Observe(took.Seconds())
}
