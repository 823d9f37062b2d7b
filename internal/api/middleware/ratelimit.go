package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// ──────────────────────────────────────────────────────────────────────────────
// Per-IP token bucket rate limiter
// ──────────────────────────────────────────────────────────────────────────────

const (
	limiterIdleTTL       = 10 * time.Minute
	limiterSweepInterval = 5 * time.Minute
)

// IPRateLimiter keeps one token bucket per client IP. Buckets idle for longer
// than limiterIdleTTL are evicted so the set cannot grow without bound.
type IPRateLimiter struct {
	limiters *cache.Cache
	r        rate.Limit
	b        int
}

// NewIPRateLimiter creates a limiter allowing r requests per second with a
// burst of b per IP.
func NewIPRateLimiter(r rate.Limit, b int) *IPRateLimiter {
	return &IPRateLimiter{
		limiters: cache.New(limiterIdleTTL, limiterSweepInterval),
		r:        r,
		b:        b,
	}
}

// GetLimiter returns the bucket for ip, creating a full one on first use.
func (i *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	if v, ok := i.limiters.Get(ip); ok {
		l := v.(*rate.Limiter)
		i.limiters.Set(ip, l, cache.DefaultExpiration)
		return l
	}
	l := rate.NewLimiter(i.r, i.b)
	if err := i.limiters.Add(ip, l, cache.DefaultExpiration); err != nil {
		// Lost the race to another request from the same IP.
		if v, ok := i.limiters.Get(ip); ok {
			return v.(*rate.Limiter)
		}
	}
	return l
}

// Allow reports whether ip may proceed, consuming one token.
func (i *IPRateLimiter) Allow(ip string) bool {
	return i.GetLimiter(ip).Allow()
}

// RateLimitMiddleware returns a gin.HandlerFunc that enforces a per-IP token
// bucket of rps requests per second with the given burst. Clients exceeding
// the limit receive 429 Too Many Requests.
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	rl := NewIPRateLimiter(rate.Limit(rps), burst)

	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "too many requests, please slow down",
				"code":    "ERR_RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}
