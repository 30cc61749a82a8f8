package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mobiledetail/backend/internal/config"
)

// RateLimiter limits requests per client IP within cfg.RateLimitDuration.
// scope separates the counters of different route groups. Without Redis the
// limiter lets every request through.
func RateLimiter(redisClient *redis.Client, cfg *config.Config, scope string, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if redisClient == nil || cfg.RateLimitRequests <= 0 {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		key := fmt.Sprintf("rate_limit:%s:%s", scope, c.ClientIP())

		count, err := redisClient.Get(ctx, key).Int()
		switch {
		case errors.Is(err, redis.Nil):
			if err := redisClient.Set(ctx, key, 1, cfg.RateLimitDuration).Err(); err != nil {
				log.Warn().Err(err).Msg("rate limiter failed to set key")
				c.Next()
				return
			}
			setRateHeaders(c, cfg.RateLimitRequests, cfg.RateLimitRequests-1)
		case err != nil:
			log.Warn().Err(err).Msg("redis not available for rate limiting")
			c.Next()
			return
		case count >= cfg.RateLimitRequests:
			ttl, _ := redisClient.TTL(ctx, key).Result()
			setRateHeaders(c, cfg.RateLimitRequests, 0)
			c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(ttl).Unix()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests",
				"retry_after": ttl.Seconds(),
			})
			return
		default:
			newCount, _ := redisClient.Incr(ctx, key).Result()
			setRateHeaders(c, cfg.RateLimitRequests, cfg.RateLimitRequests-int(newCount))
		}

		c.Next()
	}
}

func setRateHeaders(c *gin.Context, limit, remaining int) {
	if remaining < 0 {
		remaining = 0
	}
	c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
	c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
}
