// Package metrics provides Prometheus metrics collection for the timeclock services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric exported by this module.
const Namespace = "timeclock"

// Registry is the process-wide Prometheus registry for all metrics.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns an HTTP handler exposing the process-wide registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// mustRegister registers collectors with reg, or with Registry when reg is nil.
// Panics if registration fails.
func mustRegister(reg prometheus.Registerer, cs ...prometheus.Collector) {
	if reg == nil {
		reg = Registry
	}
	reg.MustRegister(cs...)
}
