package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PromSink records events as Prometheus counters and latency histograms.
type PromSink struct {
	ops     *prometheus.CounterVec
	latency *prometheus.HistogramVec
	items   *prometheus.CounterVec
}

// NewPromSink registers the metrics with reg. A nil reg uses the default
// registerer.
func NewPromSink(reg prometheus.Registerer) *PromSink {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &PromSink{
		ops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_operations_total",
			Help: "Scoring and triage operations by outcome",
		}, []string{"operation", "outcome"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_operation_duration_seconds",
			Help:    "Operation latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}, []string{"operation"}),
		items: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_operation_entities_total",
			Help: "Entities touched by operations",
		}, []string{"operation"}),
	}
}

func (s *PromSink) Emit(_ context.Context, ev Event) {
	s.ops.WithLabelValues(ev.Operation, ev.Outcome).Inc()
	s.latency.WithLabelValues(ev.Operation).Observe(ev.Latency.Seconds())
	if ev.Count > 0 {
		s.items.WithLabelValues(ev.Operation).Add(float64(ev.Count))
	}
}
