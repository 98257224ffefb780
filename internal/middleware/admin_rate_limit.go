package middleware

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/fairwaygolf/assetsync/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// AdminActionRateLimit limits destructive admin actions, counted from the
// audit log. It runs after AdminAuth.
func AdminActionRateLimit(auditService *services.AuditService, redisClient *redis.Client, action string, maxActions int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		username := c.GetString(ContextUsername)
		if username == "" || maxActions <= 0 {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		blockKey := fmt.Sprintf("admin_blocked:%s:%s", username, action)

		if redisClient != nil {
			blocked, err := redisClient.Get(ctx, blockKey).Result()
			if err == nil && blocked == "1" {
				ttl, _ := redisClient.TTL(ctx, blockKey).Result()
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"success":               false,
					"error":                 "admin_temporarily_blocked",
					"blocked_until_minutes": int(ttl.Minutes()),
				})
				return
			}
		}

		count, err := auditService.GetActionCount(ctx, username, action, time.Now().Add(-window))
		if err != nil {
			// Log error but don't block the request
			log.Printf("WARN: admin action limiter could not count %s: %v", action, err)
			c.Next()
			return
		}

		if count >= int64(maxActions) {
			// three refused attempts within the window earn a one hour block
			if redisClient != nil {
				hitsKey := fmt.Sprintf("admin_limit_hits:%s:%s", username, action)
				hits, err := redisClient.Incr(ctx, hitsKey).Result()
				if err == nil && hits == 1 {
					redisClient.Expire(ctx, hitsKey, window)
				}
				if err == nil && hits >= 3 {
					_ = redisClient.Set(ctx, blockKey, "1", time.Hour).Err()
					c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
						"success":             false,
						"error":               "admin_temporarily_blocked",
						"blocked_for_minutes": 60,
					})
					return
				}
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success":             false,
				"error":               "rate_limit_exceeded",
				"message":             "Too many actions in a short time. Please wait a few minutes.",
				"retry_after_minutes": int(window.Minutes()),
				"warning":             "Further attempts will result in a 1-hour block.",
			})
			return
		}

		c.Next()
	}
}
