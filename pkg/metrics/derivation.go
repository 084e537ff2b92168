package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DerivationMetrics covers event ingestion and daily fact recomputation.
type DerivationMetrics struct {
	EventsIngested     *prometheus.CounterVec
	FactsWritten       *prometheus.CounterVec
	DerivationDuration prometheus.Histogram
	DerivationErrors   *prometheus.CounterVec
}

// NewDerivationMetrics creates and registers derivation metrics. A nil reg uses Registry.
func NewDerivationMetrics(reg prometheus.Registerer) *DerivationMetrics {
	m := &DerivationMetrics{
		EventsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "ingest",
				Name:      "events_total",
				Help:      "Total number of attendance events received for ingestion",
			},
			[]string{"result"}, // result: inserted, duplicate
		),
		FactsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "derivation",
				Name:      "facts_written_total",
				Help:      "Total number of daily attendance facts written",
			},
			[]string{"status"},
		),
		DerivationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "derivation",
				Name:      "duration_seconds",
				Help:      "Duration of a single employee/day recomputation",
				Buckets:   prometheus.DefBuckets,
			},
		),
		DerivationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "derivation",
				Name:      "errors_total",
				Help:      "Total number of failed recomputations",
			},
			[]string{"stage"}, // stage: load, policy, store
		),
	}

	mustRegister(reg,
		m.EventsIngested,
		m.FactsWritten,
		m.DerivationDuration,
		m.DerivationErrors,
	)

	return m
}
