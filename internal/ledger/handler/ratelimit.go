package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	bucketSweepEvery = 5 * time.Minute
	bucketIdleAfter  = 10 * time.Minute
)

// ipRateLimiter keeps one token bucket per client address. Idle buckets
// are swept so a long-running daemon does not hold state for every
// address that ever connected.
type ipRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rps     rate.Limit
	burst   int
}

type bucket struct {
	tokens   *rate.Limiter
	lastSeen time.Time
}

func newIPRateLimiter(rps, burst int) *ipRateLimiter {
	l := &ipRateLimiter{
		buckets: make(map[string]*bucket),
		rps:     rate.Limit(rps),
		burst:   burst,
	}
	go l.sweep()
	return l
}

func (l *ipRateLimiter) allow(addr string) bool {
	l.mu.Lock()
	b, ok := l.buckets[addr]
	if !ok {
		b = &bucket{tokens: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[addr] = b
	}
	b.lastSeen = time.Now()
	l.mu.Unlock()

	return b.tokens.Allow()
}

func (l *ipRateLimiter) sweep() {
	ticker := time.NewTicker(bucketSweepEvery)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-bucketIdleAfter)
		l.mu.Lock()
		for addr, b := range l.buckets {
			if b.lastSeen.Before(cutoff) {
				delete(l.buckets, addr)
			}
		}
		l.mu.Unlock()
	}
}

// RateLimiter returns a Gin middleware enforcing a per-client token
// bucket. Telemetry uploaders send large bursts between quiet stretches,
// so burst is sized independently of the steady-state rate.
func RateLimiter(rps, burst int) gin.HandlerFunc {
	limiter := newIPRateLimiter(rps, burst)

	return func(c *gin.Context) {
		if !limiter.allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
