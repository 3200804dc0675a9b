package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/jwtguard/pkg/jwks"
	"github.com/osvaldoandrade/jwtguard/pkg/validator"
)

type issuerHealth struct {
	Issuer string `json:"issuer"`
	Loader string `json:"loader"`
	Status string `json:"status"`
	Keys   int    `json:"keys"`
}

type healthzController struct {
	v       *validator.TokenValidator
	timeout time.Duration
}

func NewHealthzController(v *validator.TokenValidator) *healthzController {
	return &healthzController{v: v, timeout: 3 * time.Second}
}

// Handle reports per issuer loader status. Disabled issuers are not listed.
// Any ERROR status turns the response into a 503.
func (h *healthzController) Handle(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	healthy := true
	issuers := make([]issuerHealth, 0)
	for _, ic := range h.v.Issuers() {
		l := ic.Loader()
		status := l.IsHealthy(ctx)
		if status == jwks.StatusError {
			healthy = false
		}
		issuers = append(issuers, issuerHealth{
			Issuer: ic.Issuer(),
			Loader: l.Type().String(),
			Status: status.String(),
			Keys:   len(l.Keys(ctx)),
		})
	}

	code := http.StatusOK
	state := "ok"
	if !healthy {
		code = http.StatusServiceUnavailable
		state = "degraded"
	}
	c.JSON(code, gin.H{"status": state, "issuers": issuers})
}
