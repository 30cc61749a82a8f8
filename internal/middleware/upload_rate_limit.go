package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/mobiledetail/backend/internal/config"
)

// UploadRateLimit caps the number of image uploads per admin per day.
// Must run after Auth. Redis errors never block an upload.
func UploadRateLimit(redisClient *redis.Client, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if redisClient == nil || cfg.UploadDailyLimit <= 0 || c.Request.Method != http.MethodPost {
			c.Next()
			return
		}
		admin := c.GetString(ContextAdminEmail)
		if admin == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		// upload_limit:{admin}:{date}, resets at midnight UTC
		now := time.Now().UTC()
		key := fmt.Sprintf("upload_limit:%s:%s", admin, now.Format("2006-01-02"))

		count, err := redisClient.Get(ctx, key).Int()
		switch {
		case errors.Is(err, redis.Nil):
			midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
			if err := redisClient.Set(ctx, key, 1, midnight.Sub(now)).Err(); err != nil {
				c.Next()
				return
			}
		case err != nil:
			c.Next()
			return
		case count >= cfg.UploadDailyLimit:
			ttl, _ := redisClient.TTL(ctx, key).Result()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":               "Too many uploads today. Please try again tomorrow.",
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
