package middleware

import (
	"net/http"
	"strconv"
	"time"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-gonic/gin"
)

// NewRateLimitStore keeps hit counts in memory for one process.
func NewRateLimitStore(rate time.Duration, limit uint) ratelimit.Store {
	if rate <= 0 {
		rate = time.Second
	}
	if limit == 0 {
		limit = 10
	}
	return ratelimit.InMemoryStore(&ratelimit.InMemoryOptions{
		Rate:  rate,
		Limit: limit,
	})
}

// RateLimit limits requests per caller. Authenticated callers are keyed
// by user id, everyone else by client IP.
func RateLimit(store ratelimit.Store) gin.HandlerFunc {
	return ratelimit.RateLimiter(store, &ratelimit.Options{
		ErrorHandler: rateLimitExceeded,
		KeyFunc:      rateLimitKey,
		BeforeResponse: func(c *gin.Context, info ratelimit.Info) {
			c.Header("X-RateLimit-Limit", strconv.FormatUint(uint64(info.Limit), 10))
			c.Header("X-RateLimit-Remaining", strconv.FormatUint(uint64(info.RemainingHits), 10))
		},
	})
}

func rateLimitKey(c *gin.Context) string {
	if s, ok := Session(c); ok && s.Authenticated() {
		return "user:" + s.UserID
	}
	return "ip:" + c.ClientIP()
}

func rateLimitExceeded(c *gin.Context, info ratelimit.Info) {
	retry := time.Until(info.ResetTime).Round(time.Second)
	if retry < time.Second {
		retry = time.Second
	}
	c.Header("Retry-After", strconv.Itoa(int(retry.Seconds())))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error": "Too many requests. Try again in " + retry.String(),
		"kind":  "rate_limited",
	})
}
