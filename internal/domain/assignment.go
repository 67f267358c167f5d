package domain

import "time"

// AssignmentStatus represents where a claim is in its lifecycle.
type AssignmentStatus string

const (
	AssignmentClaimed   AssignmentStatus = "claimed"
	AssignmentAccepted  AssignmentStatus = "accepted"
	AssignmentCompleted AssignmentStatus = "completed"
	AssignmentDeclined  AssignmentStatus = "declined"
	AssignmentCancelled AssignmentStatus = "cancelled"
	// AssignmentExpired marks a claim released because it was not accepted in time.
	AssignmentExpired AssignmentStatus = "expired"
)

// IsTerminal reports whether the status can no longer change.
func (s AssignmentStatus) IsTerminal() bool {
	switch s {
	case AssignmentCompleted, AssignmentDeclined, AssignmentCancelled, AssignmentExpired:
		return true
	case AssignmentClaimed, AssignmentAccepted:
		return false
	}
	return false
}

// CanTransition reports whether an assignment may move from s to next.
func (s AssignmentStatus) CanTransition(next AssignmentStatus) bool {
	switch s {
	case AssignmentClaimed:
		switch next {
		case AssignmentAccepted, AssignmentDeclined, AssignmentCancelled, AssignmentExpired:
			return true
		}
		return false
	case AssignmentAccepted:
		switch next {
		case AssignmentCompleted, AssignmentDeclined, AssignmentCancelled:
			return true
		}
		return false
	case AssignmentCompleted, AssignmentDeclined, AssignmentCancelled, AssignmentExpired:
		return false
	}
	return false
}

// AssignmentSource records how an assignment was created.
type AssignmentSource string

const (
	SourceClaim AssignmentSource = "claim"
	SourceRoute AssignmentSource = "route"
)

// Assignment binds one driver to one booking.
type Assignment struct {
	ID         string
	BookingID  string
	DriverID   string
	Status     AssignmentStatus
	Source     AssignmentSource
	Score      float64 // booking value at claim time
	Reason     string  // why it was declined or cancelled
	CreatedAt  time.Time
	ExpiresAt  time.Time // zero for assignments that never expire
	AcceptedAt time.Time
	ClosedAt   time.Time
}

// Clone returns a copy of the assignment.
func (a *Assignment) Clone() *Assignment {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// IsExpired reports whether a claimed assignment has passed its acceptance
// deadline. Every read of a claimed assignment must apply this before
// trusting the claimed status.
func IsExpired(a *Assignment, now time.Time) bool {
	if a == nil || a.Status != AssignmentClaimed || a.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(a.ExpiresAt)
}

// IsLive reports whether the assignment still holds its booking at now.
func IsLive(a *Assignment, now time.Time) bool {
	if a == nil {
		return false
	}
	switch a.Status {
	case AssignmentClaimed:
		return !IsExpired(a, now)
	case AssignmentAccepted:
		return true
	case AssignmentCompleted, AssignmentDeclined, AssignmentCancelled, AssignmentExpired:
		return false
	}
	return false
}

// Transition moves the assignment to next, stamping the matching timestamp.
func (a *Assignment) Transition(next AssignmentStatus, now time.Time) error {
	if !a.Status.CanTransition(next) {
		return &TransitionError{Entity: "assignment", From: string(a.Status), To: string(next)}
	}
	a.Status = next
	switch next {
	case AssignmentAccepted:
		a.AcceptedAt = now
	case AssignmentCompleted, AssignmentDeclined, AssignmentCancelled, AssignmentExpired:
		a.ClosedAt = now
	case AssignmentClaimed:
	}
	return nil
}
