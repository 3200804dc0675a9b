package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/jwtguard/pkg/security"
	"github.com/osvaldoandrade/jwtguard/pkg/validator"
)

type eventCount struct {
	Event    string `json:"event"`
	Category string `json:"category"`
	Count    int64  `json:"count"`
}

type stageStats struct {
	Stage     string  `json:"stage"`
	Count     int64   `json:"count"`
	Samples   int     `json:"samples"`
	AverageMs float64 `json:"averageMs"`
	P50Ms     float64 `json:"p50Ms"`
	P95Ms     float64 `json:"p95Ms"`
	P99Ms     float64 `json:"p99Ms"`
}

type securityEventsController struct{ v *validator.TokenValidator }

func NewSecurityEventsController(v *validator.TokenValidator) *securityEventsController {
	return &securityEventsController{v: v}
}

func (h *securityEventsController) Handle(c *gin.Context) {
	snapshot := h.v.Counter().Snapshot()
	events := make([]eventCount, 0, len(snapshot))
	for _, e := range security.EventTypes() {
		if n, ok := snapshot[e]; ok {
			events = append(events, eventCount{Event: e.String(), Category: e.Category().String(), Count: n})
		}
	}

	all := h.v.Monitor().AllStats()
	stages := make([]stageStats, 0, len(all))
	for _, st := range all {
		stages = append(stages, stageStats{
			Stage:     st.Type.String(),
			Count:     st.Count,
			Samples:   st.Samples,
			AverageMs: ms(st.Average.Seconds()),
			P50Ms:     ms(st.P50.Seconds()),
			P95Ms:     ms(st.P95.Seconds()),
			P99Ms:     ms(st.P99.Seconds()),
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "stages": stages})
}

// ResetHandle clears the counters and the monitor windows.
func (h *securityEventsController) ResetHandle(c *gin.Context) {
	h.v.Counter().ResetAll()
	h.v.Monitor().Reset()
	c.Status(http.StatusNoContent)
}

func ms(seconds float64) float64 { return seconds * 1000 }
