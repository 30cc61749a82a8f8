package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mobiledetail/backend/internal/services"
	jwtpkg "github.com/mobiledetail/backend/pkg/jwt"
)

// AdminCookie is the HttpOnly cookie the login handler sets.
const AdminCookie = "admin_token"

// Context keys set by Auth.
const (
	ContextClaims     = "claims"
	ContextAdminEmail = "adminEmail"
	ContextToken      = "token"
)

// TokenFromRequest returns the bearer token, falling back to the admin cookie.
func TokenFromRequest(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if cookie, err := c.Cookie(AdminCookie); err == nil {
		return cookie
	}
	return ""
}

// Auth validates the access token and stores its claims on the context.
func Auth(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := TokenFromRequest(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		claims, err := authService.ValidateAccessToken(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		c.Set(ContextClaims, claims)
		c.Set(ContextAdminEmail, claims.Subject)
		c.Set(ContextToken, token)
		c.Next()
	}
}

// AdminOnly must run after Auth.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok || claims.Role != jwtpkg.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

// ClaimsFrom returns the claims Auth stored, if any.
func ClaimsFrom(c *gin.Context) (*jwtpkg.Claims, bool) {
	v, exists := c.Get(ContextClaims)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*jwtpkg.Claims)
	return claims, ok
}
