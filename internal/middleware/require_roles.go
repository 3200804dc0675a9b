package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireRoles must run after BearerAuth. With no roles it only requires a
// validated token.
func RequireRoles(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		content, ok := AccessTokenFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if !content.ProvidesRoles(roles...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden. Missing required role"})
			return
		}
		c.Next()
	}
}
