package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics covers the device side of the pipeline: connections, sweeps and normalization.
type SyncMetrics struct {
	ConnectAttempts  *prometheus.CounterVec
	ConnectFailures  *prometheus.CounterVec
	ConnectedDevices prometheus.Gauge
	DeviceCallErrors *prometheus.CounterVec
	RecordsRetrieved *prometheus.CounterVec
	RecordsRejected  *prometheus.CounterVec
	SyncDuration     *prometheus.HistogramVec
	SweepsTotal      *prometheus.CounterVec
}

// NewSyncMetrics creates and registers sync metrics. A nil reg uses Registry.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	m := &SyncMetrics{
		ConnectAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "device",
				Name:      "connect_attempts_total",
				Help:      "Total number of device connection attempts",
			},
			[]string{"device_id"},
		),
		ConnectFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "device",
				Name:      "connect_failures_total",
				Help:      "Total number of failed device connection attempts",
			},
			[]string{"device_id"},
		),
		ConnectedDevices: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "device",
				Name:      "connected",
				Help:      "Number of devices with a live session",
			},
		),
		DeviceCallErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "device",
				Name:      "call_errors_total",
				Help:      "Total number of failed device calls",
			},
			[]string{"device_id", "operation", "reason"}, // reason: timeout, error
		),
		RecordsRetrieved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "sync",
				Name:      "records_retrieved_total",
				Help:      "Total number of validated punch records retrieved from devices",
			},
			[]string{"device_id", "mode"},
		),
		RecordsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "sync",
				Name:      "records_rejected_total",
				Help:      "Total number of raw punches rejected during normalization",
			},
			[]string{"device_id", "reason"},
		),
		SyncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "sync",
				Name:      "device_duration_seconds",
				Help:      "Duration of a single device sync",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		SweepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "sync",
				Name:      "sweeps_total",
				Help:      "Total number of all-device sync sweeps",
			},
			[]string{"mode"},
		),
	}

	mustRegister(reg,
		m.ConnectAttempts,
		m.ConnectFailures,
		m.ConnectedDevices,
		m.DeviceCallErrors,
		m.RecordsRetrieved,
		m.RecordsRejected,
		m.SyncDuration,
		m.SweepsTotal,
	)

	return m
}
