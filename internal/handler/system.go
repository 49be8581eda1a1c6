package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"agproxy/internal/account"
	"agproxy/internal/history"
	"agproxy/internal/metrics"
)

// SystemHandler serves the operational endpoints.
type SystemHandler struct {
	pool    *account.Pool
	metrics *metrics.Metrics
	history *history.Ring
}

func NewSystemHandler(pool *account.Pool, m *metrics.Metrics, ring *history.Ring) *SystemHandler {
	return &SystemHandler{pool: pool, metrics: m, history: ring}
}

// Health handles GET /health. It is served without authentication, so
// it summarizes availability without naming accounts.
func (h *SystemHandler) Health(c *gin.Context) {
	var total, available, limited, invalid, disabled int
	for _, acc := range h.pool.Accounts() {
		total++
		switch {
		case acc.IsInvalid:
			invalid++
		case acc.Disabled:
			disabled++
		case acc.IsRateLimited:
			limited++
		default:
			available++
		}
	}

	snap := h.metrics.Snapshot()
	status := "ok"
	if available == 0 {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         status,
		"uptime_seconds": snap.UptimeSeconds,
		"total_requests": snap.TotalRequests,
		"accounts": gin.H{
			"total":        total,
			"available":    available,
			"rate_limited": limited,
			"invalid":      invalid,
			"disabled":     disabled,
		},
	})
}

// History handles GET /v1/history. The optional limit parameter caps
// how many records come back, newest first.
func (h *SystemHandler) History(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	records := h.history.Recent(limit)
	c.JSON(http.StatusOK, gin.H{
		"count":   len(records),
		"records": records,
	})
}
