// Package metrics provides optional Prometheus metrics for DittoCGI.
//
// Every component receives a metrics interface at construction. When
// InitRegistry has not been called the constructors in pkg/metrics/prometheus
// return no-op implementations, so running without metrics costs nothing.
//
//	metrics.InitRegistry()
//	m := prometheus.NewCGIMetrics()
//	srv := server.New(backend, server.WithMetrics(m))
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the process-wide registry. Later calls are no-ops.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			prometheus.NewGoCollector(),
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		)
	})
}

// GetRegistry returns the registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
