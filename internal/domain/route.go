package domain

import "time"

// RouteStatus represents the lifecycle of a multi-drop route.
type RouteStatus string

const (
	RouteStatusPlanned           RouteStatus = "planned"
	RouteStatusPendingAssignment RouteStatus = "pending_assignment"
	RouteStatusAssigned          RouteStatus = "assigned"
	RouteStatusActive            RouteStatus = "active"
	RouteStatusCompleted         RouteStatus = "completed"
	RouteStatusCancelled         RouteStatus = "cancelled"
	RouteStatusFailed            RouteStatus = "failed"
)

// IsTerminal reports whether the route can no longer be edited.
func (s RouteStatus) IsTerminal() bool {
	switch s {
	case RouteStatusCompleted, RouteStatusCancelled, RouteStatusFailed:
		return true
	case RouteStatusPlanned, RouteStatusPendingAssignment, RouteStatusAssigned, RouteStatusActive:
		return false
	}
	return false
}

// CanTransition reports whether a route may move from s to next.
func (s RouteStatus) CanTransition(next RouteStatus) bool {
	switch s {
	case RouteStatusPlanned:
		return next == RouteStatusPendingAssignment || next == RouteStatusAssigned || next == RouteStatusCancelled
	case RouteStatusPendingAssignment:
		return next == RouteStatusAssigned || next == RouteStatusCancelled
	case RouteStatusAssigned:
		return next == RouteStatusPlanned || next == RouteStatusActive || next == RouteStatusCancelled || next == RouteStatusFailed
	case RouteStatusActive:
		return next == RouteStatusCompleted || next == RouteStatusFailed
	case RouteStatusCompleted, RouteStatusCancelled, RouteStatusFailed:
		return false
	}
	return false
}

// Assignable reports whether a driver can still be attached to the route.
func (s RouteStatus) Assignable() bool {
	return s == RouteStatusPlanned || s == RouteStatusPendingAssignment
}

// DropLeg tells which leg of a booking a drop serves.
type DropLeg string

const (
	DropLegPickup   DropLeg = "pickup"
	DropLegDelivery DropLeg = "delivery"
)

// DropStatus mirrors the lifecycle stage of the drop's booking.
type DropStatus string

const (
	DropStatusPending    DropStatus = "pending"
	DropStatusAssigned   DropStatus = "assigned"
	DropStatusInProgress DropStatus = "in_progress"
	DropStatusCompleted  DropStatus = "completed"
	DropStatusCancelled  DropStatus = "cancelled"
)

// DropStatusFor maps a booking status to the drop status that mirrors it.
func DropStatusFor(s BookingStatus) DropStatus {
	switch s {
	case BookingStatusDraft, BookingStatusConfirmed:
		return DropStatusPending
	case BookingStatusAssigned:
		return DropStatusAssigned
	case BookingStatusInProgress:
		return DropStatusInProgress
	case BookingStatusCompleted:
		return DropStatusCompleted
	case BookingStatusCancelled:
		return DropStatusCancelled
	}
	return DropStatusPending
}

// Drop is one stop inside a route.
type Drop struct {
	ID          string
	RouteID     string
	BookingID   string
	Sequence    int
	Leg         DropLeg
	Lat         float64
	Lng         float64
	WindowStart time.Time
	WindowEnd   time.Time
	Status      DropStatus
}

// Route is an ordered multi-stop bundle of bookings for one driver trip.
type Route struct {
	ID                   string
	Reference            string
	Status               RouteStatus
	DriverID             string
	Drops                []Drop
	TotalDistanceMiles   float64
	TotalDurationMinutes float64
	TotalValue           float64
	OptimizationScore    float64
	WindowStart          time.Time
	WindowEnd            time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Clone returns a deep copy of the route.
func (r *Route) Clone() *Route {
	if r == nil {
		return nil
	}
	c := *r
	c.Drops = append([]Drop(nil), r.Drops...)
	return &c
}

// BookingIDs returns the member bookings in drop order.
func (r *Route) BookingIDs() []string {
	ids := make([]string, 0, len(r.Drops))
	for _, d := range r.Drops {
		ids = append(ids, d.BookingID)
	}
	return ids
}

// Resequence renumbers drops 1..N in their current order.
func (r *Route) Resequence() {
	for i := range r.Drops {
		r.Drops[i].Sequence = i + 1
	}
}

// SequenceIntact reports whether drop sequences are exactly 1..N in order.
func (r *Route) SequenceIntact() bool {
	for i, d := range r.Drops {
		if d.Sequence != i+1 {
			return false
		}
	}
	return true
}

// Transition moves the route to next or returns ErrInvalidTransition.
func (r *Route) Transition(next RouteStatus, now time.Time) error {
	if !r.Status.CanTransition(next) {
		return &TransitionError{Entity: "route", From: string(r.Status), To: string(next)}
	}
	r.Status = next
	r.UpdatedAt = now
	return nil
}
