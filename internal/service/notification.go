package service

import "context"

// Notifier publishes fire-and-forget events. Implementations must not block
// and never report delivery failures to the caller.
type Notifier interface {
	Publish(ctx context.Context, channel, event string, payload map[string]any)
}

// NopNotifier discards every event.
type NopNotifier struct{}

// Publish does nothing.
func (NopNotifier) Publish(context.Context, string, string, map[string]any) {}

// Event types published by the dispatch core.
const (
	EventBookingClaimed       = "booking-claimed"
	EventAssignmentAccepted   = "assignment-accepted"
	EventAssignmentDeclined   = "assignment-declined"
	EventAssignmentCancelled  = "assignment-cancelled"
	EventAssignmentExpired    = "assignment-expired"
	EventJobStarted           = "job-started"
	EventJobCompleted         = "job-completed"
	EventRouteCreated         = "route-created"
	EventRouteUpdated         = "route-updated"
	EventRouteDeleted         = "route-deleted"
	EventRouteAssigned        = "route-assigned"
	EventRouteDeclined        = "route-declined"
	EventRouteReassigned      = "route-reassigned"
	EventOptimizationSummary  = "optimization-summary"
	EventUnassignedEscalation = "unassigned-booking-escalation"
	EventUnassignedSummary    = "unassigned-bookings-summary"
)
