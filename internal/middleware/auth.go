package middleware

import (
	"net/http"
	"strings"

	"github.com/fairwaygolf/assetsync/internal/services"
	"github.com/gin-gonic/gin"
)

// Context keys set by AdminAuth.
const (
	ContextUsername = "username"
	ContextToken    = "token"
)

// AdminAuth requires a valid admin bearer token.
func AdminAuth(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Authorization header required"})
			return
		}

		claims, err := authService.ValidateAccessToken(c.Request.Context(), strings.TrimSpace(token))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Invalid or expired token"})
			return
		}

		c.Set(ContextUsername, claims.Username)
		c.Set(ContextToken, strings.TrimSpace(token))
		c.Next()
	}
}
