package channel

import (
	"testing"
	"time"
)

func TestRateLimiter_BurstThenRefill(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(3, 60) // one token per second
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !rl.Allow("a") {
			t.Fatalf("request %d should be within burst", i)
		}
	}
	if rl.Allow("a") {
		t.Fatal("burst exhausted, expected deny")
	}

	now = now.Add(1500 * time.Millisecond)
	if !rl.Allow("a") {
		t.Fatal("expected one refilled token")
	}
	if rl.Allow("a") {
		t.Fatal("only one token should have refilled")
	}
}

func TestRateLimiter_PerActor(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	if !rl.Allow("a") || !rl.Allow("b") {
		t.Fatal("each actor starts with a full bucket")
	}
	if rl.Allow("a") {
		t.Fatal("a should be limited")
	}
}

func TestRateLimiter_SweepsIdleBuckets(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, 60)
	rl.now = func() time.Time { return now }

	rl.Allow("a")
	rl.Allow("b")
	now = now.Add(time.Minute)
	rl.Allow("c")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.buckets) != 1 {
		t.Fatalf("expected idle buckets swept, have %d", len(rl.buckets))
	}
}
