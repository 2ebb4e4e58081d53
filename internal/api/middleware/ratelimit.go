package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ──────────────────────────────────────────────────────────────────────────────
// Token Bucket Rate Limiter
// ──────────────────────────────────────────────────────────────────────────────

// bucket is a simple in-memory token bucket for one client key.
type bucket struct {
	tokens    float64
	lastRefil time.Time
	mu        sync.Mutex
}

const (
	sweepEvery = 5 * time.Minute
	idleAfter  = 10 * time.Minute
)

// rateLimiter holds per-key buckets and the shared read-write lock.
// Idle buckets are swept from within allow.
type rateLimiter struct {
	mu        sync.RWMutex
	buckets   map[string]*bucket
	rate      float64 // tokens per second
	burst     float64 // maximum token capacity
	now       func() time.Time
	lastSweep time.Time
}

// newRateLimiter creates a rate limiter refilling rps tokens per second with
// a burst of max(3, 2*rps).
func newRateLimiter(rps float64) *rateLimiter {
	burst := 2 * rps
	if burst < 3 {
		burst = 3
	}
	return &rateLimiter{
		buckets:   make(map[string]*bucket),
		rate:      rps,
		burst:     burst,
		now:       time.Now,
		lastSweep: time.Now(),
	}
}

// allow returns true when the given key is allowed to proceed and deducts one
// token from its bucket.
func (rl *rateLimiter) allow(key string) bool {
	now := rl.now()

	// Fast path: bucket exists
	rl.mu.RLock()
	b, ok := rl.buckets[key]
	due := now.Sub(rl.lastSweep) >= sweepEvery
	rl.mu.RUnlock()

	if !ok || due {
		// Slow path: sweep idle buckets, create a new full bucket
		rl.mu.Lock()
		if now.Sub(rl.lastSweep) >= sweepEvery {
			rl.evictIdleLocked(now.Add(-idleAfter))
			rl.lastSweep = now
		}
		if b, ok = rl.buckets[key]; !ok {
			b = &bucket{tokens: rl.burst, lastRefil: now}
			rl.buckets[key] = b
		}
		rl.mu.Unlock()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if elapsed := now.Sub(b.lastRefil).Seconds(); elapsed > 0 {
		b.tokens += elapsed * rl.rate
		if b.tokens > rl.burst {
			b.tokens = rl.burst
		}
		b.lastRefil = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RateLimitMiddleware enforces a token bucket of rps requests per second per
// client. Authenticated requests are keyed by bidder so one account cannot
// spread a bid storm over many addresses; anonymous ones by IP. Clients over
// the limit receive 429 Too Many Requests.
func RateLimitMiddleware(rps float64) gin.HandlerFunc {
	rl := newRateLimiter(rps)

	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if id := GetBidderID(c); id != uuid.Nil {
			key = "bidder:" + id.String()
		}
		if !rl.allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success":   false,
				"error":     "too many requests, slow down",
				"code":      "ERR_RATE_LIMITED",
				"retryable": true,
			})
			return
		}
		c.Next()
	}
}

// evictIdleLocked drops buckets untouched since cutoff. rl.mu must be held.
func (rl *rateLimiter) evictIdleLocked(cutoff time.Time) {
	for key, b := range rl.buckets {
		b.mu.Lock()
		if b.lastRefil.Before(cutoff) {
			delete(rl.buckets, key)
		}
		b.mu.Unlock()
	}
}
