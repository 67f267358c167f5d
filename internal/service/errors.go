package service

import (
	"errors"
	"fmt"

	"dispatch/internal/domain"
)

// ConflictKind is the machine-readable code of a business-rule violation.
type ConflictKind string

const (
	KindNotAvailable           ConflictKind = "NOT_AVAILABLE"
	KindAlreadyClaimed         ConflictKind = "ALREADY_CLAIMED"
	KindDriverIneligible       ConflictKind = "DRIVER_INELIGIBLE"
	KindDriverBusy             ConflictKind = "DRIVER_BUSY"
	KindTerminalStateViolation ConflictKind = "TERMINAL_STATE_VIOLATION"
	KindClaimExpired           ConflictKind = "CLAIM_EXPIRED"
	KindInvalidTransition      ConflictKind = "INVALID_TRANSITION"
	KindInvalidRouteEdit       ConflictKind = "INVALID_ROUTE_EDIT"
)

// ConflictError reports a request that is well formed but violates a
// business rule. Two ConflictErrors match under errors.Is when their kinds
// are equal, so callers compare against the Err* values below.
type ConflictError struct {
	Kind   ConflictKind
	Detail string
}

func (e *ConflictError) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Is matches any ConflictError of the same kind.
func (e *ConflictError) Is(target error) bool {
	t, ok := target.(*ConflictError)
	return ok && t.Kind == e.Kind
}

func conflictf(kind ConflictKind, format string, args ...any) *ConflictError {
	return &ConflictError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

var (
	// ErrNotAvailable is returned when a booking cannot be claimed in its current state.
	ErrNotAvailable = &ConflictError{Kind: KindNotAvailable}

	// ErrAlreadyClaimed is returned when another driver holds the booking.
	ErrAlreadyClaimed = &ConflictError{Kind: KindAlreadyClaimed}

	// ErrDriverIneligible is returned when the driver fails compliance or capacity checks.
	ErrDriverIneligible = &ConflictError{Kind: KindDriverIneligible}

	// ErrDriverBusy is returned when the driver already holds a live assignment.
	ErrDriverBusy = &ConflictError{Kind: KindDriverBusy}

	// ErrTerminalStateViolation is returned when mutating a finished assignment or route.
	ErrTerminalStateViolation = &ConflictError{Kind: KindTerminalStateViolation}

	// ErrClaimExpired is returned when a claim passed its acceptance deadline.
	ErrClaimExpired = &ConflictError{Kind: KindClaimExpired}

	// ErrInvalidTransition is returned when a lifecycle step is not allowed from the current state.
	ErrInvalidTransition = &ConflictError{Kind: KindInvalidTransition}

	// ErrInvalidRouteEdit is returned when a route edit references bookings it cannot apply to.
	ErrInvalidRouteEdit = &ConflictError{Kind: KindInvalidRouteEdit}
)

var (
	// ErrInvalidBookingID is returned when booking ID is empty.
	ErrInvalidBookingID = errors.New("invalid booking id")

	// ErrInvalidDriverID is returned when driver ID is empty.
	ErrInvalidDriverID = errors.New("invalid driver id")

	// ErrInvalidAssignmentID is returned when assignment ID is empty.
	ErrInvalidAssignmentID = errors.New("invalid assignment id")

	// ErrInvalidRouteID is returned when route ID is empty.
	ErrInvalidRouteID = errors.New("invalid route id")

	// ErrInvalidEditAction is returned for an unknown route edit action.
	ErrInvalidEditAction = errors.New("invalid route edit action")

	// ErrInvalidHorizon is returned when the optimization horizon ends before it starts.
	ErrInvalidHorizon = errors.New("invalid optimization horizon")

	// ErrInvalidAvailability is returned for an unknown availability status or negative capacity.
	ErrInvalidAvailability = errors.New("invalid availability")

	// ErrCapacityExceeded is returned when a reservation would exceed the driver's maximum.
	ErrCapacityExceeded = errors.New("driver capacity exceeded")
)

// transitionConflict turns a domain transition failure into ErrInvalidTransition.
func transitionConflict(err error) error {
	var te *domain.TransitionError
	if errors.As(err, &te) {
		return conflictf(KindInvalidTransition, "%s cannot move from %s to %s", te.Entity, te.From, te.To)
	}
	return err
}
