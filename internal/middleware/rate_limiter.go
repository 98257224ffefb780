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

// RateLimiter counts requests per admin (or per client IP before login) in a
// fixed window. Mount it after AdminAuth to key by admin. Without redis the
// limiter lets every request through.
func RateLimiter(redisClient *redis.Client, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if redisClient == nil || cfg.RateLimitRequests <= 0 {
			c.Next()
			return
		}
		ctx := c.Request.Context()

		key := rateLimitKey(c)

		pipe := redisClient.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, cfg.RateLimitDuration)
		if _, err := pipe.Exec(ctx); err != nil {
			log.Printf("WARN: Redis not available for rate limiting: %v", err)
			c.Next()
			return
		}

		count := int(incr.Val())
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.RateLimitRequests))
		if count > cfg.RateLimitRequests {
			ttl, _ := redisClient.TTL(ctx, key).Result()
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(ttl).Unix()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success":     false,
				"error":       "Too many requests",
				"retry_after": ttl.Seconds(),
			})
			return
		}
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", cfg.RateLimitRequests-count))

		c.Next()
	}
}

func rateLimitKey(c *gin.Context) string {
	if name := c.GetString(ContextUsername); name != "" {
		return "rate_limit:admin:" + name
	}
	return "rate_limit:ip:" + c.ClientIP()
}
