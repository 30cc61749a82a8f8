package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/mobiledetail/backend/internal/services"
)

const ContextAuditAction = "audit_action"

// blockThreshold actions inside the window block the admin for an hour.
const blockThreshold = 5

// AuditAction tags the route with the audit action AdminActionRateLimit counts.
func AuditAction(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ContextAuditAction, action)
		c.Next()
	}
}

// AdminActionRateLimit stops mass destructive actions such as deleting the
// whole gallery. Counts come from the audit log.
func AdminActionRateLimit(auditService *services.AuditService, redisClient *redis.Client, maxActions, windowMinutes int) gin.HandlerFunc {
	return func(c *gin.Context) {
		action := c.GetString(ContextAuditAction)
		admin := c.GetString(ContextAdminEmail)
		if auditService == nil || action == "" || admin == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		blockKey := fmt.Sprintf("admin_blocked:%s:%s", admin, action)

		if redisClient != nil {
			blocked, err := redisClient.Get(ctx, blockKey).Result()
			if err == nil && blocked == "1" {
				ttl, _ := redisClient.TTL(ctx, blockKey).Result()
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error":                 "Your account has been temporarily blocked due to suspicious activity.",
					"blocked_until_minutes": int(ttl.Minutes()),
				})
				return
			}
		}

		since := time.Now().Add(-time.Duration(windowMinutes) * time.Minute)
		count, err := auditService.GetActionCount(admin, action, since)
		if err != nil {
			c.Next()
			return
		}

		if redisClient != nil && count >= int64(maxActions)+blockThreshold {
			_ = redisClient.Set(ctx, blockKey, "1", time.Hour).Err()
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":               "Too many actions detected. Your account has been temporarily blocked for 1 hour.",
				"blocked_for_minutes": 60,
			})
			return
		}

		if count >= int64(maxActions) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":               "Too many actions in a short time. Please wait a few minutes.",
				"retry_after_minutes": windowMinutes,
			})
			return
		}

		c.Next()
	}
}
