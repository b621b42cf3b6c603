package exchange

import (
	"sync"
	"time"
)

// TokenBucket is the global request limiter for the REST gateway. Every call
// consumes one token; when empty the caller gets a RateLimited error with the
// advised wait instead of blocking.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewTokenBucket creates a bucket holding capacity tokens refilled at
// refillPerSec. A zero-value configuration falls back to 20 req/s burst 40,
// comfortably under Binance spot limits.
func NewTokenBucket(capacity int, refillPerSec float64) *TokenBucket {
	if capacity <= 0 {
		capacity = 40
	}
	if refillPerSec <= 0 {
		refillPerSec = 20
	}
	return &TokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: refillPerSec,
		lastRefill: time.Now(),
	}
}

// TryAcquire takes one token. When denied it returns the advised wait until a
// token becomes available.
func (b *TokenBucket) TryAcquire() (ok bool, retryAfter time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(time.Now())

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}

	deficit := 1 - b.tokens
	wait := time.Duration(deficit / b.refillRate * float64(time.Second))
	if wait < 50*time.Millisecond {
		wait = 50 * time.Millisecond
	}
	return false, wait
}

func (b *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}
