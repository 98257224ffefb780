package middleware

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/fairwaygolf/assetsync/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// UploadRateLimit caps image uploads per admin per calendar day. Mount it on
// upload routes only; it runs after AdminAuth.
func UploadRateLimit(redisClient *redis.Client, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		username := c.GetString(ContextUsername)
		if redisClient == nil || cfg.UploadDailyLimit <= 0 || username == "" {
			c.Next()
			return
		}
		ctx := c.Request.Context()

		// Rate limit key: upload_limit:{username}:{date}
		now := time.Now()
		key := fmt.Sprintf("upload_limit:%s:%s", username, now.Format("2006-01-02"))

		count, err := redisClient.Get(ctx, key).Int()
		switch {
		case err == redis.Nil:
			midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
			if err := redisClient.Set(ctx, key, 1, midnight.Sub(now)).Err(); err != nil {
				log.Printf("WARN: upload limiter failed to set key: %v", err)
			}
		case err != nil:
			// Redis error - don't block upload
			log.Printf("WARN: upload limiter failed to get key: %v", err)
		case count >= cfg.UploadDailyLimit:
			ttl, _ := redisClient.TTL(ctx, key).Result()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success":             false,
				"error":               "upload_rate_limit_exceeded",
				"message":             "Too many uploads today. Please try again tomorrow.",
				"retry_after_hours":   int(ttl.Hours()),
				"uploads_today":       count,
				"max_uploads_per_day": cfg.UploadDailyLimit,
			})
			return
		default:
			redisClient.Incr(ctx, key)
		}

		c.Next()
	}
}
