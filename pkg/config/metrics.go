package config

import (
	"github.com/marmos91/dittoshare/pkg/metrics"
	promMetrics "github.com/marmos91/dittoshare/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// Auth, Cache and Fanout are never nil; they are no-ops when disabled
	Auth   metrics.AuthMetrics
	Cache  metrics.CacheMetrics
	Fanout metrics.FanoutMetrics

	http map[string]metrics.HTTPMetrics
}

// HTTP returns the request metrics of one service, creating them on first use.
func (r *MetricsResult) HTTP(service string) metrics.HTTPMetrics {
	if r.Server == nil {
		return metrics.NewNoopHTTPMetrics()
	}
	if m, ok := r.http[service]; ok {
		return m
	}
	m := promMetrics.NewHTTPMetrics(service)
	r.http[service] = m
	return m
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns no-op metrics implementations (zero overhead)
func InitializeMetrics(cfg *Config) *MetricsResult {
	result := &MetricsResult{http: make(map[string]metrics.HTTPMetrics)}

	if !cfg.Server.Metrics.Enabled {
		result.Auth = metrics.NewNoopAuthMetrics()
		result.Cache = metrics.NewNoopCacheMetrics()
		result.Fanout = metrics.NewNoopFanoutMetrics()
		return result
	}

	metrics.InitRegistry()

	result.Server = metrics.NewServer(metrics.ServerConfig{
		Port: cfg.Server.Metrics.Port,
	})
	result.Auth = promMetrics.NewAuthMetrics()
	result.Cache = promMetrics.NewCacheMetrics()
	result.Fanout = promMetrics.NewFanoutMetrics()

	return result
}
