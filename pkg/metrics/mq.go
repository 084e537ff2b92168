package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MQMetrics covers punch batches travelling over RabbitMQ from the sync
// sweep to the derivation engine.
type MQMetrics struct {
	// Publishing side.
	BatchesPublished *prometheus.CounterVec
	PublishFailures  *prometheus.CounterVec
	PublishDuration  *prometheus.HistogramVec

	// Broker connection.
	Reconnects      prometheus.Counter
	BrokerConnected prometheus.Gauge

	// Ingesting side.
	BatchesIngested *prometheus.CounterVec
	BatchFailures   *prometheus.CounterVec
	IngestDuration  *prometheus.HistogramVec
	EventsPerBatch  *prometheus.HistogramVec
}

// NewMQMetrics creates and registers batch transport metrics. A nil reg uses Registry.
func NewMQMetrics(reg prometheus.Registerer) *MQMetrics {
	const subsystem = "batch"
	queue := []string{"queue"}
	queueReason := []string{"queue", "reason"}

	counter := func(name, help string, labels []string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help,
		}, labels)
	}
	histogram := func(name, help string, buckets []float64) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets,
		}, queue)
	}

	m := &MQMetrics{
		BatchesPublished: counter("published_total",
			"Punch batches handed to the broker", queue),
		PublishFailures: counter("publish_failures_total",
			"Punch batches the broker did not confirm, by reason", queueReason),
		PublishDuration: histogram("publish_duration_seconds",
			"Time from publishing a batch to its broker confirmation", prometheus.DefBuckets),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: subsystem, Name: "broker_reconnects_total",
			Help: "Reconnection attempts to the broker",
		}),
		BrokerConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace, Subsystem: subsystem, Name: "broker_connected",
			Help: "1 while the broker connection is ready, 0 otherwise",
		}),
		BatchesIngested: counter("ingested_total",
			"Punch batches ingested by the derivation engine and acknowledged", queue),
		BatchFailures: counter("ingest_failures_total",
			"Punch batches that could not be decoded or ingested, by reason", queueReason),
		IngestDuration: histogram("ingest_duration_seconds",
			"Time spent decoding and ingesting one batch", prometheus.DefBuckets),
		EventsPerBatch: histogram("events",
			"Number of punch events carried by an ingested batch", prometheus.ExponentialBuckets(1, 2, 10)),
	}

	mustRegister(reg,
		m.BatchesPublished,
		m.PublishFailures,
		m.PublishDuration,
		m.Reconnects,
		m.BrokerConnected,
		m.BatchesIngested,
		m.BatchFailures,
		m.IngestDuration,
		m.EventsPerBatch,
	)

	return m
}
