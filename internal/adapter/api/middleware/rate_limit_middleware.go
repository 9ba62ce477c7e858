package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"builderhub/internal/infrastructure/ratelimit"
	"builderhub/pkg/logger"
)

type RateLimitMiddleware struct {
	limiter *ratelimit.RateLimiter
}

func NewRateLimitMiddleware(limiter *ratelimit.RateLimiter) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter: limiter,
	}
}

// Limit enforces the per-user token bucket for the named action. It runs after
// Authenticate; unauthenticated requests fall back to the client IP.
func (m *RateLimitMiddleware) Limit(action string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key, _ := c.Get("uid").(string)
			if key == "" {
				key = c.RealIP()
			}

			allowed, retryAfter := m.limiter.Allow(key, action)
			if !allowed {
				logger.Warn("Rate limit hit: user=%s action=%s", key, action)
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":       "Rate limit exceeded",
					"retry_after": int(retryAfter.Seconds()),
				})
			}

			return next(c)
		}
	}
}
