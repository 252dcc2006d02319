// ratelimit.go implements a continuously-refilling token bucket used to
// throttle venue-L REST calls — order placement and account polling —
// so a burst of signals or a tight coordinator poll loop can't overrun
// venue L's REST surface.
package venuel

import (
	"context"
	"sync"
	"time"

	"lighter-arb/internal/config"
)

// TokenBucket is a token-bucket rate limiter with continuous refill.
// Wait blocks until a token is available or ctx is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64
	lastTime time.Time
}

// NewTokenBucket creates a rate limiter with the given burst capacity
// and refill rate in tokens per second.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled. A bucket
// with a non-positive rate is treated as unconfigured and never
// throttles — guards against a zero-value config.VenueLConfig (e.g. in
// tests that build a Client by hand) silently hanging forever instead
// of just not rate-limiting.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	if tb.rate <= 0 {
		return nil
	}
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// RateLimiter groups the venue-L REST endpoint categories this client
// calls: order placement and account queries (position/balance polling).
type RateLimiter struct {
	Order   *TokenBucket
	Account *TokenBucket
}

// NewRateLimiter builds a RateLimiter from cfg's per-endpoint burst
// capacity and refill rate, generous relative to this system's 1 Hz
// coordinator cadence — just enough to absorb a retry burst without
// hammering venue L.
func NewRateLimiter(cfg config.VenueLConfig) *RateLimiter {
	return &RateLimiter{
		Order:   NewTokenBucket(cfg.OrderRateBurst, cfg.OrderRateLimit),
		Account: NewTokenBucket(cfg.AccountRateBurst, cfg.AccountRateLimit),
	}
}
