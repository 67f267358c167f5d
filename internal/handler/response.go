package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatch/internal/repository"
	"dispatch/internal/service"
)

// ErrorResponse represents an error response. Code carries the conflict
// kind for business-rule violations.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	resp := ErrorResponse{Error: err.Error()}

	var ce *service.ConflictError
	switch {
	case errors.As(err, &ce):
		resp.Code = string(ce.Kind)
	case errors.Is(err, repository.ErrConflict):
		resp.Code = "CONFLICT"
	case code == http.StatusInternalServerError:
		_ = c.Error(err)
		resp.Error = "internal error"
	}
	c.JSON(code, resp)
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// badRequest sends a 400 with msg.
func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	var ce *service.ConflictError
	switch {
	// Not found errors
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound

	// Validation errors - Bad Request
	case errors.Is(err, service.ErrInvalidBookingID),
		errors.Is(err, service.ErrInvalidDriverID),
		errors.Is(err, service.ErrInvalidAssignmentID),
		errors.Is(err, service.ErrInvalidRouteID),
		errors.Is(err, service.ErrInvalidEditAction),
		errors.Is(err, service.ErrInvalidHorizon),
		errors.Is(err, service.ErrInvalidAvailability):
		return http.StatusBadRequest

	// Business rule violations and lost races
	case errors.As(err, &ce),
		errors.Is(err, repository.ErrConflict),
		errors.Is(err, service.ErrCapacityExceeded):
		return http.StatusConflict

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}
