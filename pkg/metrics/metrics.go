package metrics

import "time"

// Verification outcomes reported by AuthMetrics.
const (
	OutcomeValid       = "valid"
	OutcomeMissing     = "missing"
	OutcomeInvalid     = "invalid"
	OutcomeUnavailable = "unavailable"
	OutcomeProtocol    = "protocol_error"
)

// AuthMetrics observes calls to the remote identity authority.
type AuthMetrics interface {
	// RecordVerification records one verification attempt.
	//
	// Parameters:
	//   - outcome: one of the Outcome* constants
	//   - duration: time spent waiting for the authority (zero when no call was made)
	RecordVerification(outcome string, duration time.Duration)
}

// CacheMetrics observes the cache-aside layer.
//
// shape identifies the read path ("file" or "owner_list").
type CacheMetrics interface {
	RecordLookup(shape string, hit bool)
	RecordInvalidation(keys int)

	// RecordFailure counts a cache operation that failed and was degraded to
	// a durable-store read or a skipped invalidation.
	RecordFailure(op string)
}

// FanoutMetrics observes live connections and event delivery.
type FanoutMetrics interface {
	SetActiveConnections(count int)
	RecordConnectionAccepted()
	RecordConnectionRejected(reason string)
	RecordConnectionClosed()

	// RecordDispatch records one fan-out of an event.
	//
	// Parameters:
	//   - event: wire event name ("fileShared", "fileRevoked")
	//   - delivered: connections the message was handed to
	//   - skipped: connections that were closed or saturated
	RecordDispatch(event string, delivered, skipped int)
}

// HTTPMetrics observes HTTP request handling of a service.
type HTTPMetrics interface {
	RecordRequest(route string, method string, status int, duration time.Duration)
}

type noopAuthMetrics struct{}

func (noopAuthMetrics) RecordVerification(string, time.Duration) {}

type noopCacheMetrics struct{}

func (noopCacheMetrics) RecordLookup(string, bool) {}
func (noopCacheMetrics) RecordInvalidation(int)    {}
func (noopCacheMetrics) RecordFailure(string)      {}

type noopFanoutMetrics struct{}

func (noopFanoutMetrics) SetActiveConnections(int)        {}
func (noopFanoutMetrics) RecordConnectionAccepted()       {}
func (noopFanoutMetrics) RecordConnectionRejected(string) {}
func (noopFanoutMetrics) RecordConnectionClosed()         {}
func (noopFanoutMetrics) RecordDispatch(string, int, int) {}

type noopHTTPMetrics struct{}

func (noopHTTPMetrics) RecordRequest(string, string, int, time.Duration) {}

// NewNoopAuthMetrics returns an AuthMetrics that discards everything.
func NewNoopAuthMetrics() AuthMetrics { return noopAuthMetrics{} }

// NewNoopCacheMetrics returns a CacheMetrics that discards everything.
func NewNoopCacheMetrics() CacheMetrics { return noopCacheMetrics{} }

// NewNoopFanoutMetrics returns a FanoutMetrics that discards everything.
func NewNoopFanoutMetrics() FanoutMetrics { return noopFanoutMetrics{} }

// NewNoopHTTPMetrics returns an HTTPMetrics that discards everything.
func NewNoopHTTPMetrics() HTTPMetrics { return noopHTTPMetrics{} }
