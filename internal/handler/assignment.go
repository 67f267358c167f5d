package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dispatch/internal/domain"
	"dispatch/internal/service"
)

// AssignmentHandler handles HTTP requests for claims and assignments.
type AssignmentHandler struct {
	claimService *service.ClaimService
}

// NewAssignmentHandler creates a new AssignmentHandler.
func NewAssignmentHandler(claimService *service.ClaimService) *AssignmentHandler {
	return &AssignmentHandler{claimService: claimService}
}

// ClaimRequest is the HTTP request body for claiming a booking.
type ClaimRequest struct {
	DriverID string `json:"driver_id"`
}

// ClaimResponse is the HTTP response for a successful claim.
type ClaimResponse struct {
	AssignmentID string `json:"assignment_id"`
	Status       string `json:"status"`
	ExpiresAt    string `json:"expires_at"`
}

// ReasonRequest is the optional HTTP request body for decline and cancel.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// AssignmentResponse is the HTTP response for assignment data.
type AssignmentResponse struct {
	ID         string  `json:"id"`
	BookingID  string  `json:"booking_id"`
	DriverID   string  `json:"driver_id"`
	Status     string  `json:"status"`
	Source     string  `json:"source"`
	Score      float64 `json:"score"`
	Reason     string  `json:"reason,omitempty"`
	ExpiresAt  string  `json:"expires_at,omitempty"`
	AcceptedAt string  `json:"accepted_at,omitempty"`
	ClosedAt   string  `json:"closed_at,omitempty"`
}

func toAssignmentResponse(a *domain.Assignment) AssignmentResponse {
	return AssignmentResponse{
		ID:         a.ID,
		BookingID:  a.BookingID,
		DriverID:   a.DriverID,
		Status:     string(a.Status),
		Source:     string(a.Source),
		Score:      a.Score,
		Reason:     a.Reason,
		ExpiresAt:  formatTime(a.ExpiresAt),
		AcceptedAt: formatTime(a.AcceptedAt),
		ClosedAt:   formatTime(a.ClosedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// Claim handles POST /v1/bookings/:id/claim
func (h *AssignmentHandler) Claim(c *gin.Context) {
	var req ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.DriverID == "" {
		badRequest(c, "driver_id is required")
		return
	}

	a, err := h.claimService.Claim(c.Request.Context(), c.Param("id"), req.DriverID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, ClaimResponse{
		AssignmentID: a.ID,
		Status:       string(a.Status),
		ExpiresAt:    formatTime(a.ExpiresAt),
	})
}

// Accept handles POST /v1/assignments/:id/accept
func (h *AssignmentHandler) Accept(c *gin.Context) {
	a, err := h.claimService.Accept(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"status": string(a.Status)})
}

// Decline handles POST /v1/assignments/:id/decline
func (h *AssignmentHandler) Decline(c *gin.Context) {
	reason, ok := bindReason(c)
	if !ok {
		return
	}
	a, err := h.claimService.Decline(c.Request.Context(), c.Param("id"), reason)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toAssignmentResponse(a))
}

// Cancel handles POST /v1/assignments/:id/cancel
func (h *AssignmentHandler) Cancel(c *gin.Context) {
	reason, ok := bindReason(c)
	if !ok {
		return
	}
	a, err := h.claimService.Cancel(c.Request.Context(), c.Param("id"), reason)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toAssignmentResponse(a))
}

// Start handles POST /v1/assignments/:id/start
func (h *AssignmentHandler) Start(c *gin.Context) {
	a, err := h.claimService.Start(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toAssignmentResponse(a))
}

// Complete handles POST /v1/assignments/:id/complete
func (h *AssignmentHandler) Complete(c *gin.Context) {
	a, err := h.claimService.Complete(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toAssignmentResponse(a))
}

// bindReason reads the optional reason body. An empty body is allowed.
func bindReason(c *gin.Context) (string, bool) {
	var req ReasonRequest
	if c.Request.ContentLength == 0 {
		return "", true
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return "", false
	}
	return req.Reason, true
}
