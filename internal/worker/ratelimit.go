package worker

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// bucket is a token bucket refilled continuously at rate tokens per second.
type bucket struct {
	lastUpdate time.Time
	tokens     float64
}

// RateLimiter limits requests per client key with one token bucket per key.
type RateLimiter struct {
	lastCleanup time.Time
	now         func() time.Time
	buckets     map[string]*bucket
	rate        float64
	burst       int
	maxIdle     time.Duration
	requests    int64
	rejected    int64
	mu          sync.Mutex
}

// NewRateLimiter creates a limiter allowing rate requests per second per
// client with bursts of up to burst requests.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		rate:        rate,
		burst:       burst,
		buckets:     make(map[string]*bucket),
		maxIdle:     10 * time.Minute,
		now:         time.Now,
		lastCleanup: time.Now(),
	}
}

// Allow reports whether a request from key may proceed and consumes a token if so.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.requests++
	if now.Sub(rl.lastCleanup) > rl.maxIdle/2 {
		rl.cleanupLocked(now)
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(rl.burst), lastUpdate: now}
		rl.buckets[key] = b
	}

	b.tokens = min(b.tokens+now.Sub(b.lastUpdate).Seconds()*rl.rate, float64(rl.burst))
	b.lastUpdate = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	rl.rejected++
	return false
}

// retryAfter is the number of seconds until one token is available again.
func (rl *RateLimiter) retryAfter() int {
	if rl.rate <= 0 {
		return 60
	}
	return max(1, int(1/rl.rate+0.5))
}

func (rl *RateLimiter) cleanupLocked(now time.Time) {
	for key, b := range rl.buckets {
		if now.Sub(b.lastUpdate) > rl.maxIdle {
			delete(rl.buckets, key)
		}
	}
	rl.lastCleanup = now
}

// Stats returns rate limiter statistics.
func (rl *RateLimiter) Stats() map[string]any {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return map[string]any{
		"rate":           rl.rate,
		"burst":          rl.burst,
		"active_clients": len(rl.buckets),
		"total_requests": rl.requests,
		"rejected":       rl.rejected,
		"rejection_rate": float64(rl.rejected) / max(float64(rl.requests), 1),
	}
}

// Middleware rejects requests over the limit with 429. Clients are keyed by
// RemoteAddr, which chi's RealIP middleware has already resolved.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if host, _, err := net.SplitHostPort(key); err == nil {
			key = host
		}
		if !rl.Allow(key) {
			w.Header().Set("Retry-After", strconv.Itoa(rl.retryAfter()))
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
