package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dispatch/internal/domain"
	"dispatch/internal/service"
)

// DriverHandler handles HTTP requests for driver availability.
type DriverHandler struct {
	capacity *service.CapacityTracker
}

// NewDriverHandler creates a new DriverHandler.
func NewDriverHandler(capacity *service.CapacityTracker) *DriverHandler {
	return &DriverHandler{capacity: capacity}
}

// AvailabilityRequest is the HTTP request body for updating availability.
// Omitted fields keep their current value.
type AvailabilityRequest struct {
	Status             string     `json:"status"`
	BreakUntil         *time.Time `json:"break_until"`
	MaxConcurrentDrops *int       `json:"max_concurrent_drops"`
	MultiDropCapable   *bool      `json:"multi_drop_capable"`
	PreferredAreas     []string   `json:"preferred_areas"`
}

// AvailabilityResponse is the HTTP response for availability data.
type AvailabilityResponse struct {
	DriverID            string   `json:"driver_id"`
	Status              string   `json:"status"`
	BreakUntil          string   `json:"break_until,omitempty"`
	CurrentCapacityUsed int      `json:"current_capacity_used"`
	MaxConcurrentDrops  int      `json:"max_concurrent_drops"`
	MultiDropCapable    bool     `json:"multi_drop_capable"`
	PreferredAreas      []string `json:"preferred_areas"`
}

// UpdateAvailability handles PUT /v1/drivers/:id/availability
func (h *DriverHandler) UpdateAvailability(c *gin.Context) {
	var req AvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	driverID := c.Param("id")
	status := domain.AvailabilityStatus(req.Status)

	var (
		avail *domain.DriverAvailability
		err   error
	)
	if req.MaxConcurrentDrops == nil && req.MultiDropCapable == nil && req.PreferredAreas == nil {
		if status == "" {
			badRequest(c, "status is required")
			return
		}
		avail, err = h.capacity.SetStatus(c.Request.Context(), driverID, status, req.BreakUntil)
	} else {
		avail, err = h.capacity.Configure(c.Request.Context(), driverID, service.AvailabilityUpdate{
			Status:             status,
			BreakUntil:         req.BreakUntil,
			MaxConcurrentDrops: req.MaxConcurrentDrops,
			MultiDropCapable:   req.MultiDropCapable,
			PreferredAreas:     req.PreferredAreas,
		})
	}
	if err != nil {
		respondError(c, err)
		return
	}

	areas := avail.PreferredAreas
	if areas == nil {
		areas = []string{}
	}
	respondJSON(c, http.StatusOK, AvailabilityResponse{
		DriverID:            avail.DriverID,
		Status:              string(avail.Status),
		BreakUntil:          formatTime(avail.BreakUntil),
		CurrentCapacityUsed: avail.CurrentCapacityUsed,
		MaxConcurrentDrops:  avail.MaxConcurrentDrops,
		MultiDropCapable:    avail.MultiDropCapable,
		PreferredAreas:      areas,
	})
}
