package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/printrelease/internal/metrics"
)

// Limiter decides whether key may spend one attempt.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, int64, error)
}

// RateLimit throttles token attempts per client IP. A nil limiter disables
// it; limiter errors fail open.
func RateLimit(limiter Limiter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		allowed, remaining, err := limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		if !allowed {
			metrics.RateLimitRejects.Inc()
			logger.Warn("attempt rate limited",
				zap.String("client_ip", c.ClientIP()),
				zap.String("path", c.Request.URL.Path))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "too many attempts, slow down",
				"kind":  "rate_limited",
			})
			return
		}
		c.Next()
	}
}
