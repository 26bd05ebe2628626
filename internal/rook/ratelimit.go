package rook

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"livmore-rook-sync/internal/metrics"
)

// RateLimiter paces outbound aggregator calls and remembers when the
// aggregator last pushed back
type RateLimiter struct {
	limiter *rate.Limiter

	mu            sync.RWMutex
	waits         int
	totalWait     time.Duration
	throttled     int
	lastThrottled time.Time
	pausedUntil   time.Time
}

// RateLimitStatus represents the current rate limit status
type RateLimitStatus struct {
	RequestsPerSecond float64       `json:"requests_per_second"`
	Burst             int           `json:"burst"`
	Waits             int           `json:"waits"`
	TotalWait         time.Duration `json:"total_wait_ns"`
	Throttled         int           `json:"throttled"`
	LastThrottled     time.Time     `json:"last_throttled"`
	PausedUntil       time.Time     `json:"paused_until"`
}

// NewRateLimiter creates a limiter allowing rps requests per second. A
// non-positive rps disables pacing.
func NewRateLimiter(rps float64) *RateLimiter {
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = max(1, int(rps))
	}
	return &RateLimiter{limiter: rate.NewLimiter(limit, burst)}
}

// Wait blocks until a request may be sent or ctx is done
func (rl *RateLimiter) Wait(ctx context.Context) error {
	rl.mu.RLock()
	pause := time.Until(rl.pausedUntil)
	rl.mu.RUnlock()

	start := time.Now()
	if pause > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pause):
		}
	}
	if err := rl.limiter.Wait(ctx); err != nil {
		return err
	}

	waited := time.Since(start)
	if waited > time.Millisecond {
		metrics.RookRateLimitWaitSeconds.Observe(waited.Seconds())
		rl.mu.Lock()
		rl.waits++
		rl.totalWait += waited
		rl.mu.Unlock()
	}
	return nil
}

// Paused returns how much of a Retry-After pause remains
func (rl *RateLimiter) Paused() time.Duration {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return max(0, time.Until(rl.pausedUntil))
}

// Throttle records a 429 and holds back every caller for retryAfter
func (rl *RateLimiter) Throttle(retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.throttled++
	rl.lastThrottled = now
	if until := now.Add(retryAfter); until.After(rl.pausedUntil) {
		rl.pausedUntil = until
	}
}

// Status returns the current rate limit status
func (rl *RateLimiter) Status() RateLimitStatus {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	return RateLimitStatus{
		RequestsPerSecond: float64(rl.limiter.Limit()),
		Burst:             rl.limiter.Burst(),
		Waits:             rl.waits,
		TotalWait:         rl.totalWait,
		Throttled:         rl.throttled,
		LastThrottled:     rl.lastThrottled,
		PausedUntil:       rl.pausedUntil,
	}
}
