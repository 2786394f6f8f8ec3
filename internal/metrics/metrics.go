// Package metrics exposes Prometheus instrumentation for generation
// round-trips and snapshot persistence.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds the service's collectors.
type Metrics struct {
	GenerationRequestsTotal *prometheus.CounterVec
	GenerationDuration      *prometheus.HistogramVec

	StoreOperationsTotal *prometheus.CounterVec
	AutosaveFailures     prometheus.Counter

	ActiveWorkflows prometheus.Gauge
}

// New creates and registers the collectors with the default registry.
// It is safe to call more than once; registration happens a single time.
//
// Metrics:
//   - instrumentation_generation_requests_total{action,outcome}
//   - instrumentation_generation_duration_seconds{action}
//   - instrumentation_store_operations_total{op,outcome}
//   - instrumentation_autosave_failures_total
//   - instrumentation_active_workflows
func New() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			GenerationRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "instrumentation_generation_requests_total",
					Help: "Generation service round-trips by action and outcome",
				},
				[]string{"action", "outcome"}, // outcome: "ok" or "error"
			),
			GenerationDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "instrumentation_generation_duration_seconds",
					Help:    "Generation service round-trip latency",
					Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
				},
				[]string{"action"},
			),
			StoreOperationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "instrumentation_store_operations_total",
					Help: "Snapshot store operations by op and outcome",
				},
				[]string{"op", "outcome"},
			),
			AutosaveFailures: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "instrumentation_autosave_failures_total",
					Help: "Autosaves that failed and were swallowed",
				},
			),
			ActiveWorkflows: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "instrumentation_active_workflows",
					Help: "Workflows currently held in memory",
				},
			),
		}
	})
	return globalMetrics
}

// ObserveGeneration records one generation round-trip.
func (m *Metrics) ObserveGeneration(action string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.GenerationRequestsTotal.WithLabelValues(action, outcome(err)).Inc()
	m.GenerationDuration.WithLabelValues(action).Observe(time.Since(started).Seconds())
}

// ObserveStore records one store operation.
func (m *Metrics) ObserveStore(op string, err error) {
	if m == nil {
		return
	}
	m.StoreOperationsTotal.WithLabelValues(op, outcome(err)).Inc()
}

// AutosaveFailed counts one swallowed autosave failure.
func (m *Metrics) AutosaveFailed() {
	if m == nil {
		return
	}
	m.AutosaveFailures.Inc()
}

// SetActiveWorkflows reports how many workflows are held in memory.
func (m *Metrics) SetActiveWorkflows(n int) {
	if m == nil {
		return
	}
	m.ActiveWorkflows.Set(float64(n))
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
