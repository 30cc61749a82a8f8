package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type PublicHandler struct {
	db    *gorm.DB
	redis *redis.Client
}

func NewPublicHandler(db *gorm.DB, redisClient *redis.Client) *PublicHandler {
	return &PublicHandler{db: db, redis: redisClient}
}

// Health reports liveness plus the state of the database and Redis. Redis
// is optional, so only a database failure makes the service unhealthy.
// GET /health, GET /api/v1/health
func (h *PublicHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	status := http.StatusOK

	if h.db != nil {
		checks["database"] = "ok"
		if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			checks["database"] = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}

	checks["redis"] = "disabled"
	if h.redis != nil {
		checks["redis"] = "ok"
		if err := h.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = "unavailable"
		}
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "unhealthy"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}
