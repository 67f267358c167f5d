package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatch/internal/service"
)

// MonitorHandler exposes the unassigned-booking monitor.
type MonitorHandler struct {
	monitor *service.Monitor
}

// NewMonitorHandler creates a new MonitorHandler. monitor may be nil when
// the monitor is disabled.
func NewMonitorHandler(monitor *service.Monitor) *MonitorHandler {
	return &MonitorHandler{monitor: monitor}
}

// Stats handles GET /v1/monitor/stats
func (h *MonitorHandler) Stats(c *gin.Context) {
	if h.monitor == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "monitor disabled"})
		return
	}
	respondJSON(c, http.StatusOK, h.monitor.SharedStats(c.Request.Context()))
}
