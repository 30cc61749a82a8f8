package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mobiledetail/backend/internal/middleware"
	"github.com/mobiledetail/backend/internal/models"
	"github.com/mobiledetail/backend/internal/services"
)

type AuthHandler struct {
	authService  *services.AuthService
	auditService *services.AuditService
	secureCookie bool
	log          zerolog.Logger
}

func NewAuthHandler(authService *services.AuthService, auditService *services.AuditService, secureCookie bool, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		authService:  authService,
		auditService: auditService,
		secureCookie: secureCookie,
		log:          log.With().Str("handler", "auth").Logger(),
	}
}

// Login handles admin login
// POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email and password are required"})
		return
	}

	token, claims, err := h.authService.Login(req.Email, req.Password)
	if err != nil {
		if services.IsInvalidCredentials(err) {
			h.log.Warn().Str("ip", c.ClientIP()).Msg("failed admin login")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
			return
		}
		respondError(c, h.log, err, "Login failed")
		return
	}

	maxAge := int(time.Until(claims.ExpiresAt.Time).Seconds())
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(middleware.AdminCookie, token, maxAge, "/", "", h.secureCookie, true)

	c.Set(middleware.ContextAdminEmail, claims.Subject)
	audit(c, h.auditService, h.log, models.ActionAdminLogin, "session", claims.ID, nil)

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"expires_at":   claims.ExpiresAt.Time,
		"is_admin":     true,
	})
}

// Logout revokes the current token and clears the cookie
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	if err := h.authService.Logout(c.Request.Context(), claims); err != nil {
		respondError(c, h.log, err, "Failed to logout")
		return
	}

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(middleware.AdminCookie, "", -1, "/", "", h.secureCookie, true)
	c.JSON(http.StatusOK, gin.H{"message": "Logout successful"})
}

// Session reports whether the caller is signed in as admin
// GET /api/v1/auth/session
func (h *AuthHandler) Session(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"is_admin": h.authService.IsAdmin(c.Request.Context(), middleware.TokenFromRequest(c)),
	})
}
