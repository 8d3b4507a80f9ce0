// Package metrics defines the observability interfaces for the event
// pipeline and holds the process-wide Prometheus registry.
//
// Each subsystem interface is optional: constructors in the prometheus
// sub-package return nil when the registry was never initialized, and
// callers treat a nil interface as "collection disabled" with zero
// overhead.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registry *prometheus.Registry
	enabled  bool
)

// InitRegistry creates the process-wide registry with the standard Go
// and process collectors. Call once at startup when metrics are
// enabled; constructors in the prometheus sub-package return nil before
// this is called.
func InitRegistry() {
	registry = prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	enabled = true
}

// IsEnabled reports whether the registry was initialized.
func IsEnabled() bool {
	return enabled
}

// GetRegistry returns the process-wide registry, or nil when metrics
// are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}
