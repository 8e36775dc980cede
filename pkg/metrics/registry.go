// Package metrics defines the observability surface of the DittoShare services
// and the Prometheus registry they report to.
//
// Every metrics interface has a no-op implementation, so components can be
// built without metrics. Prometheus-backed implementations live in
// pkg/metrics/prometheus and are only created once InitRegistry has been
// called.
//
// Usage:
//
//	metrics.InitRegistry()
//	verifier := auth.NewHTTPVerifier(cfg, nil, prometheus.NewAuthMetrics())
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the process-wide registry, pre-loaded with the Go
// runtime and process collectors. Later calls are no-ops.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registry = reg
	})
}

// GetRegistry returns the registry, or nil while metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
