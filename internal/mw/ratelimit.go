package mw

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"notify-sync-client/internal/ratelimit"
)

// RateLimiter is a middleware for IP-based rate limiting of the local API.
func RateLimiter(r rate.Limit, b int) gin.HandlerFunc {
	limiter := ratelimit.NewKeyed(r, b)
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
