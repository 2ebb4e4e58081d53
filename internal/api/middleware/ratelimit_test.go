package middleware

import (
	"testing"
	"time"
)

func TestRateLimiter_SweepsIdleBucketsOnUse(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := newRateLimiter(1)
	rl.now = func() time.Time { return now }
	rl.lastSweep = now

	rl.allow("ip:10.0.0.1")
	rl.allow("ip:10.0.0.2")
	if n := len(rl.buckets); n != 2 {
		t.Fatalf("buckets = %d, want 2", n)
	}

	now = now.Add(idleAfter + time.Minute)
	rl.allow("ip:10.0.0.2")
	if n := len(rl.buckets); n != 1 {
		t.Errorf("buckets after sweep = %d, want 1", n)
	}
	if _, ok := rl.buckets["ip:10.0.0.1"]; ok {
		t.Error("idle bucket survived the sweep")
	}
}

func TestRateLimiter_BurstThenRefill(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := newRateLimiter(1)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !rl.allow("bidder:a") {
			t.Fatalf("request %d within burst rejected", i+1)
		}
	}
	if rl.allow("bidder:a") {
		t.Fatal("request over burst allowed")
	}
	now = now.Add(time.Second)
	if !rl.allow("bidder:a") {
		t.Error("request after refill rejected")
	}
}
