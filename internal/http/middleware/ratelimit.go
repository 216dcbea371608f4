// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements a process-local token-bucket limiter keyed by ClientID,
// so the same identity that scopes Idempotency-Key records also owns a
// request budget. Idempotent replays are served without spending tokens, and
// operational endpoints (health, metrics, WebSocket) can be exempted.
//
// Horizontally scaled deployments get one budget per instance.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	defaultVisitorTTL = 10 * time.Minute
	evictEvery        = 5000
)

// RateLimitOptions configures NewRateLimiter.
//
//   - RPS: tokens replenished per second; 0 admits only the initial burst.
//   - Burst: bucket size; values <= 0 are coerced to 1.
//   - Key: bucket identity; defaults to ClientID.
//   - Exempt: exact request paths that are never limited.
type RateLimitOptions struct {
	RPS    float64
	Burst  int
	Key    func(*gin.Context) string
	Exempt []string
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds one token bucket per client. Idle buckets are evicted
// after a TTL during lookups. Safe for concurrent use.
type RateLimiter struct {
	rps    rate.Limit
	burst  int
	key    func(*gin.Context) string
	exempt map[string]struct{}

	mu       sync.Mutex
	visitors map[string]*visitor
	ttl      time.Duration
	lookups  uint64
	now      func() time.Time
}

// NewRateLimiter builds a limiter ready to be installed via Handler.
func NewRateLimiter(opt RateLimitOptions) *RateLimiter {
	burst := opt.Burst
	if burst <= 0 {
		burst = 1
	}
	key := opt.Key
	if key == nil {
		key = ClientID
	}
	exempt := make(map[string]struct{}, len(opt.Exempt))
	for _, p := range opt.Exempt {
		exempt[p] = struct{}{}
	}
	return &RateLimiter{
		rps:      rate.Limit(opt.RPS),
		burst:    burst,
		key:      key,
		exempt:   exempt,
		visitors: make(map[string]*visitor),
		ttl:      defaultVisitorTTL,
		now:      time.Now,
	}
}

// limiterFor returns the bucket for key, creating it if absent. Every
// evictEvery lookups, idle buckets are dropped first so a stale bucket is
// evicted even when it is the one being requested.
func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.lookups++
	if rl.lookups >= evictEvery {
		rl.evictLocked(now)
		rl.lookups = 0
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

func (rl *RateLimiter) evictLocked(now time.Time) {
	for k, v := range rl.visitors {
		if now.Sub(v.lastSeen) >= rl.ttl {
			delete(rl.visitors, k)
		}
	}
}

// Len returns the number of live buckets.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

// IsRateBypass reports whether IdempotencyValidator marked the request as a
// replay that must not consume tokens.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// retryAfter returns the whole seconds until lim can admit one request.
func retryAfter(lim *rate.Limiter, now time.Time) int {
	if lim.Limit() <= 0 {
		return 60
	}
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return 60
	}
	d := r.DelayFrom(now)
	r.CancelAt(now)
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Handler returns the limiting middleware. Rejected requests get 429 with a
// Retry-After header and the standard error envelope:
//
//	{"request_id": "<id>", "code": "too_many_requests", "message": "rate limit exceeded"}
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := rl.exempt[c.Request.URL.Path]; ok || IsRateBypass(c) {
			c.Next()
			return
		}

		now := rl.now()
		lim := rl.limiterFor(rl.key(c))
		if lim.AllowN(now, 1) {
			c.Next()
			return
		}

		observeRateLimited(c)
		c.Header("Retry-After", strconv.Itoa(retryAfter(lim, now)))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get("X-Request-ID"),
			"code":       "too_many_requests",
			"message":    "rate limit exceeded",
		})
	}
}
