package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/jwtguard/internal/middleware"
)

type meController struct{}

func NewMeController() *meController {
	return &meController{}
}

func (h *meController) Handle(c *gin.Context) {
	at, ok := middleware.AccessTokenFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	out := tokenResponse(&at.Content)
	out["scopes"] = at.Scopes()
	out["roles"] = at.Roles()
	out["groups"] = at.Groups()
	if email := at.Email(); email != "" {
		out["email"] = email
	}
	c.JSON(http.StatusOK, out)
}
