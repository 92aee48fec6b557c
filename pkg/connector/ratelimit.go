package connector

import (
	"math"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter enforces a per-connector requests-per-minute ceiling using a
// token bucket per connector, replacing ZeroTrustGate.CheckCall's
// hand-rolled timestamp-history window with golang.org/x/time/rate.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter builds an empty per-connector rate limiter set.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether connectorID may make one more call right now,
// given its trust policy's RateLimitPerMinute. A policy with no limit
// (RateLimitPerMinute <= 0) always allows.
func (l *RateLimiter) Allow(connectorID string, perMinute int) bool {
	if perMinute <= 0 {
		return true
	}

	l.mu.Lock()
	limiter, ok := l.limiters[connectorID]
	if !ok || limiterRate(limiter) != perMinute {
		// Burst equals the per-minute ceiling: a connector may spend its
		// whole minute's budget in a burst, but no faster than that.
		limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
		l.limiters[connectorID] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}

// Reset drops a connector's limiter state, used when its trust policy
// changes.
func (l *RateLimiter) Reset(connectorID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, connectorID)
}

// limiterRate recovers the per-minute rate a limiter was configured with,
// so Allow can detect a changed policy and rebuild the limiter rather than
// silently keep enforcing a stale rate.
func limiterRate(l *rate.Limiter) int {
	return int(math.Round(float64(l.Limit()) * 60.0))
}
