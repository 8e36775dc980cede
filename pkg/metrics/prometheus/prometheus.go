// Package prometheus implements the pkg/metrics interfaces on top of the
// global Prometheus registry.
//
// Each constructor registers its collectors, so it must be called at most
// once per process (per service label for NewHTTPMetrics). All constructors
// fall back to the no-op implementation when metrics are disabled.
package prometheus

import (
	"strconv"
	"time"

	"github.com/marmos91/dittoshare/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var latencyBuckets = []float64{
	0.001, // 1ms
	0.005, // 5ms
	0.01,  // 10ms
	0.05,  // 50ms
	0.1,   // 100ms
	0.5,   // 500ms
	1,     // 1s
	3,     // 3s (default verify timeout)
	10,    // 10s
}

type authMetrics struct {
	verifications *prometheus.CounterVec
	duration      prometheus.Histogram
}

// NewAuthMetrics creates a Prometheus-backed AuthMetrics.
func NewAuthMetrics() metrics.AuthMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopAuthMetrics()
	}

	reg := metrics.GetRegistry()

	return &authMetrics{
		verifications: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittoshare_auth_verifications_total",
				Help: "Total number of credential verifications by outcome",
			},
			[]string{"outcome"},
		),
		duration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dittoshare_auth_verification_duration_seconds",
				Help:    "Round-trip time of calls to the identity authority",
				Buckets: latencyBuckets,
			},
		),
	}
}

func (m *authMetrics) RecordVerification(outcome string, duration time.Duration) {
	m.verifications.WithLabelValues(outcome).Inc()
	if duration > 0 {
		m.duration.Observe(duration.Seconds())
	}
}

type cacheMetrics struct {
	lookups       *prometheus.CounterVec
	invalidations prometheus.Counter
	failures      *prometheus.CounterVec
}

// NewCacheMetrics creates a Prometheus-backed CacheMetrics.
func NewCacheMetrics() metrics.CacheMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopCacheMetrics()
	}

	reg := metrics.GetRegistry()

	return &cacheMetrics{
		lookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittoshare_cache_lookups_total",
				Help: "Cache lookups by read shape and result",
			},
			[]string{"shape", "result"},
		),
		invalidations: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittoshare_cache_invalidated_keys_total",
				Help: "Total number of cache keys invalidated after mutations",
			},
		),
		failures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittoshare_cache_failures_total",
				Help: "Cache operations that failed and were degraded",
			},
			[]string{"op"},
		),
	}
}

func (m *cacheMetrics) RecordLookup(shape string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.lookups.WithLabelValues(shape, result).Inc()
}

func (m *cacheMetrics) RecordInvalidation(keys int) {
	m.invalidations.Add(float64(keys))
}

func (m *cacheMetrics) RecordFailure(op string) {
	m.failures.WithLabelValues(op).Inc()
}

type fanoutMetrics struct {
	activeConnections   prometheus.Gauge
	connectionsAccepted prometheus.Counter
	connectionsRejected *prometheus.CounterVec
	connectionsClosed   prometheus.Counter
	deliveries          *prometheus.CounterVec
	skipped             *prometheus.CounterVec
}

// NewFanoutMetrics creates a Prometheus-backed FanoutMetrics.
func NewFanoutMetrics() metrics.FanoutMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopFanoutMetrics()
	}

	reg := metrics.GetRegistry()

	return &fanoutMetrics{
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittoshare_notify_active_connections",
				Help: "Current number of registered live connections",
			},
		),
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittoshare_notify_connections_accepted_total",
				Help: "Total number of live connections accepted",
			},
		),
		connectionsRejected: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittoshare_notify_connections_rejected_total",
				Help: "Total number of handshakes refused, by reason",
			},
			[]string{"reason"},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittoshare_notify_connections_closed_total",
				Help: "Total number of live connections closed",
			},
		),
		deliveries: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittoshare_notify_deliveries_total",
				Help: "Messages handed to live connections, by event",
			},
			[]string{"event"},
		),
		skipped: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittoshare_notify_skipped_total",
				Help: "Connections skipped during fan-out, by event",
			},
			[]string{"event"},
		),
	}
}

func (m *fanoutMetrics) SetActiveConnections(count int) {
	m.activeConnections.Set(float64(count))
}

func (m *fanoutMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *fanoutMetrics) RecordConnectionRejected(reason string) {
	m.connectionsRejected.WithLabelValues(reason).Inc()
}

func (m *fanoutMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *fanoutMetrics) RecordDispatch(event string, delivered, skipped int) {
	m.deliveries.WithLabelValues(event).Add(float64(delivered))
	m.skipped.WithLabelValues(event).Add(float64(skipped))
}

type httpMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTPMetrics creates a Prometheus-backed HTTPMetrics labelled with the
// owning service name.
func NewHTTPMetrics(service string) metrics.HTTPMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopHTTPMetrics()
	}

	reg := metrics.GetRegistry()
	labels := prometheus.Labels{"service": service}

	return &httpMetrics{
		requests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name:        "dittoshare_http_requests_total",
				Help:        "Total number of HTTP requests by route, method and status",
				ConstLabels: labels,
			},
			[]string{"route", "method", "status"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "dittoshare_http_request_duration_seconds",
				Help:        "Duration of HTTP requests in seconds",
				ConstLabels: labels,
				Buckets:     latencyBuckets,
			},
			[]string{"route", "method"},
		),
	}
}

func (m *httpMetrics) RecordRequest(route string, method string, status int, duration time.Duration) {
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(route, method).Observe(duration.Seconds())
}
