package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/jwtguard/pkg/token"
)

func tokenResponse(c *token.Content) gin.H {
	out := gin.H{
		"type":   c.Type().String(),
		"issuer": c.Issuer(),
		"claims": c.Claims(),
	}
	if sub, ok := c.Subject(); ok {
		out["subject"] = sub
	}
	if exp := c.ExpiresAt(); !exp.IsZero() {
		out["expiresAt"] = exp.UTC().Format(time.RFC3339)
	}
	return out
}

// rejectToken never echoes the token or the error message, only the event.
func rejectToken(c *gin.Context, err error) {
	event, ok := token.EventOf(err)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusUnauthorized, gin.H{
		"error":    "invalid token",
		"event":    event.String(),
		"category": event.Category().String(),
	})
}
