package channel

import (
	"sync"
	"time"
)

// tokenBucket refills at rate tokens per second up to max.
type tokenBucket struct {
	tokens   float64
	max      float64
	rate     float64
	lastTime time.Time
}

func (b *tokenBucket) take(now time.Time) bool {
	elapsed := now.Sub(b.lastTime).Seconds()
	b.tokens += elapsed * b.rate
	if b.tokens > b.max {
		b.tokens = b.max
	}
	b.lastTime = now

	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return true
	}
	return false
}

// RateLimiter keeps one token bucket per actor. Buckets idle long enough to
// be full again are dropped on the next sweep.
type RateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*tokenBucket
	max       float64
	rate      float64 // tokens per second
	lastSweep time.Time
	now       func() time.Time
}

func NewRateLimiter(maxBurst int, ratePerMinute float64) *RateLimiter {
	if maxBurst <= 0 {
		maxBurst = 10
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 60
	}
	return &RateLimiter{
		buckets: make(map[string]*tokenBucket),
		max:     float64(maxBurst),
		rate:    ratePerMinute / 60.0,
		now:     time.Now,
	}
}

// Allow reports whether actor may make a request now, consuming a token.
func (rl *RateLimiter) Allow(actor string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweep(now)

	b, ok := rl.buckets[actor]
	if !ok {
		b = &tokenBucket{tokens: rl.max, max: rl.max, rate: rl.rate, lastTime: now}
		rl.buckets[actor] = b
	}
	return b.take(now)
}

func (rl *RateLimiter) sweep(now time.Time) {
	refill := time.Duration(rl.max / rl.rate * float64(time.Second))
	if now.Sub(rl.lastSweep) < refill {
		return
	}
	rl.lastSweep = now
	for actor, b := range rl.buckets {
		if now.Sub(b.lastTime) >= refill {
			delete(rl.buckets, actor)
		}
	}
}
