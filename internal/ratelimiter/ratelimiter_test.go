package ratelimiter

import (
	"context"
	"testing"
	"time"
)

// TestNew verifies rate limiter creation with different parameters.
func TestNew(t *testing.T) {
	tests := []struct {
		name              string
		messagesPerSecond uint
		burst             uint
	}{
		{name: "standard rate", messagesPerSecond: 20, burst: 40},
		{name: "burst defaults to rate", messagesPerSecond: 5, burst: 0},
		{name: "unlimited (zero rate)", messagesPerSecond: 0, burst: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.messagesPerSecond, tt.burst)
			if limiter == nil || limiter.limiter == nil {
				t.Fatal("New() returned an unusable limiter")
			}
			if limiter.limiter.Burst() == 0 {
				t.Fatal("burst must never be zero")
			}
		})
	}
}

// TestAllow verifies that Allow() enforces the burst and refills over time.
func TestAllow(t *testing.T) {
	limiter := New(10, 10)

	for i := 0; i < 10; i++ {
		if !limiter.Allow() {
			t.Fatalf("message %d should be allowed (within burst)", i)
		}
	}

	if limiter.Allow() {
		t.Fatal("message should be limited after burst exhausted")
	}

	time.Sleep(110 * time.Millisecond)

	if !limiter.Allow() {
		t.Fatal("message should be allowed after token replenishment")
	}
}

func TestWaitContextCancellation(t *testing.T) {
	limiter := New(1, 1)
	limiter.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx); err == nil {
		t.Fatal("Wait() should fail once the context expires")
	}
}

func TestUnlimitedRate(t *testing.T) {
	limiter := New(0, 0)

	for i := 0; i < 10000; i++ {
		if !limiter.Allow() {
			t.Fatalf("unlimited limiter rejected message %d", i)
		}
	}
}

func TestKeyed_IndependentBuckets(t *testing.T) {
	k := NewKeyed(1, 2)

	if !k.Allow("u1") || !k.Allow("u1") {
		t.Fatal("first two messages for u1 should pass")
	}
	if k.Allow("u1") {
		t.Fatal("third message for u1 should be limited")
	}
	if !k.Allow("u2") {
		t.Fatal("u2 must not share u1's bucket")
	}
	if k.Len() != 2 {
		t.Fatalf("expected 2 buckets, got %d", k.Len())
	}
}

func TestKeyed_Forget(t *testing.T) {
	k := NewKeyed(1, 1)
	k.Allow("u1")
	k.Forget("u1")

	if k.Len() != 0 {
		t.Fatalf("expected no buckets after Forget, got %d", k.Len())
	}
	if !k.Allow("u1") {
		t.Fatal("a forgotten key starts with a full bucket")
	}
}

func BenchmarkKeyedAllowParallel(b *testing.B) {
	k := NewKeyed(0, 0)
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			k.Allow("bench")
		}
	})
}
