// Package ratelimiter throttles inbound client messages on live connections.
//
// A Keyed limiter hands out one token bucket per identity so that all of a
// user's sockets share a single budget: opening more tabs does not buy more
// throughput. Buckets are released with Forget once the last connection of
// an identity goes away.
package ratelimiter

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// unlimited is used when a zero rate is configured.
const unlimited = 1_000_000_000

// RateLimiter is a single token bucket.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a token bucket allowing messagesPerSecond with the given burst.
// A zero rate disables limiting.
func New(messagesPerSecond, burst uint) *RateLimiter {
	if messagesPerSecond == 0 {
		messagesPerSecond = unlimited
		burst = messagesPerSecond
	}
	if burst == 0 {
		burst = messagesPerSecond
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(messagesPerSecond), int(burst)),
	}
}

// Allow reports whether one message may be processed now.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Tokens returns the number of tokens currently available.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}

// Keyed holds one RateLimiter per key.
type Keyed struct {
	rate  uint
	burst uint

	mu      sync.Mutex
	buckets map[string]*RateLimiter
}

// NewKeyed creates a per-key limiter. Every key gets its own bucket with the
// same rate and burst.
func NewKeyed(messagesPerSecond, burst uint) *Keyed {
	return &Keyed{
		rate:    messagesPerSecond,
		burst:   burst,
		buckets: make(map[string]*RateLimiter),
	}
}

// Allow consumes one token from the bucket of key, creating it on first use.
func (k *Keyed) Allow(key string) bool {
	return k.bucket(key).Allow()
}

// Forget drops the bucket of key.
func (k *Keyed) Forget(key string) {
	k.mu.Lock()
	delete(k.buckets, key)
	k.mu.Unlock()
}

// Len returns the number of live buckets.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}

func (k *Keyed) bucket(key string) *RateLimiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	b, ok := k.buckets[key]
	if !ok {
		b = New(k.rate, k.burst)
		k.buckets[key] = b
	}
	return b
}
