package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dispatch/internal/domain"
	"dispatch/internal/service"
)

// RouteHandler handles HTTP requests for multi-drop routes.
type RouteHandler struct {
	routeService *service.RouteService
}

// NewRouteHandler creates a new RouteHandler.
func NewRouteHandler(routeService *service.RouteService) *RouteHandler {
	return &RouteHandler{routeService: routeService}
}

// OptimizeRequest is the HTTP request body for an optimization pass.
type OptimizeRequest struct {
	HorizonStart *time.Time `json:"horizon_start"`
	HorizonEnd   *time.Time `json:"horizon_end"`
	Region       string     `json:"region"`
}

// OptimizeResponse is the HTTP response for an optimization pass.
type OptimizeResponse struct {
	Routes []RouteResponse       `json:"routes"`
	Stats  service.OptimizeStats `json:"stats"`
}

// EditRouteRequest is the HTTP request body for editing a route.
type EditRouteRequest struct {
	Action     string   `json:"action"`
	BookingIDs []string `json:"booking_ids"`
}

// AssignRouteRequest is the HTTP request body for assigning a route.
type AssignRouteRequest struct {
	DriverID string `json:"driver_id"`
}

// DropResponse is one stop of a route.
type DropResponse struct {
	ID          string  `json:"id"`
	BookingID   string  `json:"booking_id"`
	Sequence    int     `json:"sequence"`
	Leg         string  `json:"leg"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	WindowStart string  `json:"window_start"`
	WindowEnd   string  `json:"window_end"`
	Status      string  `json:"status"`
}

// RouteResponse is the HTTP response for route data.
type RouteResponse struct {
	ID                   string         `json:"id"`
	Reference            string         `json:"reference"`
	Status               string         `json:"status"`
	DriverID             string         `json:"driver_id,omitempty"`
	TotalDistanceMiles   float64        `json:"total_distance_miles"`
	TotalDurationMinutes float64        `json:"total_duration_minutes"`
	TotalValue           float64        `json:"total_value"`
	OptimizationScore    float64        `json:"optimization_score"`
	WindowStart          string         `json:"window_start"`
	WindowEnd            string         `json:"window_end"`
	Drops                []DropResponse `json:"drops"`
}

func toRouteResponse(r *domain.Route) RouteResponse {
	drops := make([]DropResponse, 0, len(r.Drops))
	for _, d := range r.Drops {
		drops = append(drops, DropResponse{
			ID:          d.ID,
			BookingID:   d.BookingID,
			Sequence:    d.Sequence,
			Leg:         string(d.Leg),
			Lat:         d.Lat,
			Lng:         d.Lng,
			WindowStart: formatTime(d.WindowStart),
			WindowEnd:   formatTime(d.WindowEnd),
			Status:      string(d.Status),
		})
	}
	return RouteResponse{
		ID:                   r.ID,
		Reference:            r.Reference,
		Status:               string(r.Status),
		DriverID:             r.DriverID,
		TotalDistanceMiles:   r.TotalDistanceMiles,
		TotalDurationMinutes: r.TotalDurationMinutes,
		TotalValue:           r.TotalValue,
		OptimizationScore:    r.OptimizationScore,
		WindowStart:          formatTime(r.WindowStart),
		WindowEnd:            formatTime(r.WindowEnd),
		Drops:                drops,
	}
}

// Optimize handles POST /v1/routes/optimize
func (h *RouteHandler) Optimize(c *gin.Context) {
	var req OptimizeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}

	in := service.OptimizeRequest{Region: req.Region}
	if req.HorizonStart != nil {
		in.HorizonStart = req.HorizonStart.UTC()
	}
	if req.HorizonEnd != nil {
		in.HorizonEnd = req.HorizonEnd.UTC()
	}

	res, err := h.routeService.OptimizeRoutes(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}

	out := OptimizeResponse{Routes: make([]RouteResponse, 0, len(res.Routes)), Stats: res.Stats}
	for _, r := range res.Routes {
		out.Routes = append(out.Routes, toRouteResponse(r))
	}
	respondJSON(c, http.StatusOK, out)
}

// Get handles GET /v1/routes/:id
func (h *RouteHandler) Get(c *gin.Context) {
	r, err := h.routeService.GetRoute(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toRouteResponse(r))
}

// Edit handles PATCH /v1/routes/:id
func (h *RouteHandler) Edit(c *gin.Context) {
	var req EditRouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	res, err := h.routeService.EditRoute(c.Request.Context(), c.Param("id"), service.EditAction(req.Action), req.BookingIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	if res.Deleted {
		respondJSON(c, http.StatusOK, gin.H{"deleted": true})
		return
	}
	respondJSON(c, http.StatusOK, toRouteResponse(res.Route))
}

// Assign handles POST /v1/routes/:id/assign
func (h *RouteHandler) Assign(c *gin.Context) {
	var req AssignRouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.DriverID == "" {
		badRequest(c, "driver_id is required")
		return
	}

	r, err := h.routeService.AssignRoute(c.Request.Context(), c.Param("id"), req.DriverID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toRouteResponse(r))
}

// Decline handles POST /v1/routes/:id/decline
func (h *RouteHandler) Decline(c *gin.Context) {
	reason, ok := bindReason(c)
	if !ok {
		return
	}
	r, err := h.routeService.DeclineRoute(c.Request.Context(), c.Param("id"), reason)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toRouteResponse(r))
}

// Reassign handles POST /v1/routes/:id/reassign
func (h *RouteHandler) Reassign(c *gin.Context) {
	var req AssignRouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.DriverID == "" {
		badRequest(c, "driver_id is required")
		return
	}

	r, err := h.routeService.ReassignRoute(c.Request.Context(), c.Param("id"), req.DriverID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toRouteResponse(r))
}
