package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterSweepInterval = 5 * time.Minute
	limiterStaleAfter    = 10 * time.Minute
)

type tenantLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter returns a Gin middleware enforcing a per-tenant
// token-bucket rate limit, falling back to the client IP when no
// tenant header is present. rps is the steady-state requests per
// second; burst is the maximum burst size. Stale buckets are swept
// periodically.
func RateLimiter(rps, burst int) gin.HandlerFunc {
	var mu sync.Mutex
	limiters := make(map[string]*tenantLimiter)

	go func() {
		for {
			time.Sleep(limiterSweepInterval)
			mu.Lock()
			for key, l := range limiters {
				if time.Since(l.lastSeen) > limiterStaleAfter {
					delete(limiters, key)
				}
			}
			mu.Unlock()
		}
	}()

	return func(c *gin.Context) {
		key := c.GetHeader(tenantHeader)
		if key == "" {
			key = c.ClientIP()
		}

		mu.Lock()
		l, ok := limiters[key]
		if !ok {
			l = &tenantLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			limiters[key] = l
		}
		l.lastSeen = time.Now()
		mu.Unlock()

		if !l.limiter.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
