package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/jwtguard/internal/metrics"
	"github.com/osvaldoandrade/jwtguard/internal/middleware"
	"github.com/osvaldoandrade/jwtguard/pkg/token"
	"github.com/osvaldoandrade/jwtguard/pkg/validator"
)

type validateTokenRequest struct {
	Token string `json:"token"`
}

type validateTokenController struct{ v *validator.TokenValidator }

func NewValidateTokenController(v *validator.TokenValidator) *validateTokenController {
	return &validateTokenController{v: v}
}

func (h *validateTokenController) Handle(c *gin.Context) {
	typ, ok := token.ParseType(c.Param("type"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown token type"})
		return
	}
	var req validateTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		return
	}

	start := time.Now()
	content, err := h.v.Validate(c.Request.Context(), typ, req.Token)
	metrics.HTTPValidationLatencySeconds.WithLabelValues(typ.String()).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.HTTPValidationsTotal.WithLabelValues(typ.String(), "rejected").Inc()
		event, _ := token.EventOf(err)
		middleware.LoggerFrom(c).Info("token rejected", "type", typ.String(), "event", event.String())
		rejectToken(c, err)
		return
	}
	metrics.HTTPValidationsTotal.WithLabelValues(typ.String(), "accepted").Inc()
	c.JSON(http.StatusOK, tokenResponse(content))
}
