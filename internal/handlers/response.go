package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mobiledetail/backend/internal/apperr"
	"github.com/mobiledetail/backend/internal/middleware"
	"github.com/mobiledetail/backend/internal/services"
)

// respondError writes err as {"error": ...}. 5xx responses carry fallback,
// never the internal error text.
func respondError(c *gin.Context, log zerolog.Logger, err error, fallback string) {
	status := apperr.HTTPStatus(err)
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		status = http.StatusRequestEntityTooLarge
	}
	msg := apperr.PublicMessage(err, fallback)
	if status >= http.StatusInternalServerError {
		msg = fallback
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg(fallback)
	} else if status == http.StatusRequestEntityTooLarge && maxErr != nil {
		msg = "Upload too large"
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": msg})
}

// pagination reads page and limit query parameters, clamped to sane values.
func pagination(c *gin.Context) (page, limit, offset int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit, (page - 1) * limit
}

// audit records an admin action. Failures are logged, never returned.
func audit(c *gin.Context, auditService *services.AuditService, log zerolog.Logger, action, targetType, targetID string, details map[string]interface{}) {
	if auditService == nil {
		return
	}
	actor := c.GetString(middleware.ContextAdminEmail)
	if err := auditService.LogAction(actor, action, targetType, targetID, details, c.ClientIP(), c.Request.UserAgent()); err != nil {
		log.Warn().Err(err).Str("action", action).Msg("failed to write audit log")
	}
}
