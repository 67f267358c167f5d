package domain

import (
	"strings"
	"time"
)

// BookingStatus represents the current status of a booking.
type BookingStatus string

const (
	BookingStatusDraft      BookingStatus = "draft"
	BookingStatusConfirmed  BookingStatus = "confirmed"
	BookingStatusAssigned   BookingStatus = "assigned"
	BookingStatusInProgress BookingStatus = "in_progress"
	BookingStatusCompleted  BookingStatus = "completed"
	BookingStatusCancelled  BookingStatus = "cancelled"
)

// Valid reports whether s is a known booking status.
func (s BookingStatus) Valid() bool {
	switch s {
	case BookingStatusDraft, BookingStatusConfirmed, BookingStatusAssigned,
		BookingStatusInProgress, BookingStatusCompleted, BookingStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s BookingStatus) IsTerminal() bool {
	switch s {
	case BookingStatusCompleted, BookingStatusCancelled:
		return true
	case BookingStatusDraft, BookingStatusConfirmed, BookingStatusAssigned, BookingStatusInProgress:
		return false
	}
	return false
}

// CanTransition reports whether a booking may move from s to next.
// An assigned booking may fall back to confirmed when its assignment is
// declined, cancelled or expires.
func (s BookingStatus) CanTransition(next BookingStatus) bool {
	switch s {
	case BookingStatusDraft:
		return next == BookingStatusConfirmed || next == BookingStatusCancelled
	case BookingStatusConfirmed:
		return next == BookingStatusAssigned || next == BookingStatusCancelled
	case BookingStatusAssigned:
		return next == BookingStatusInProgress || next == BookingStatusConfirmed || next == BookingStatusCancelled
	case BookingStatusInProgress:
		return next == BookingStatusCompleted || next == BookingStatusCancelled
	case BookingStatusCompleted, BookingStatusCancelled:
		return false
	}
	return false
}

// Priority represents how urgently a booking must be dispatched.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank orders priorities; higher is more urgent. Unknown values rank as normal.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityNormal:
		return 1
	case PriorityHigh:
		return 2
	case PriorityUrgent:
		return 3
	}
	return 1
}

// OrderType tells whether a booking travels alone or inside a multi-drop route.
type OrderType string

const (
	OrderTypeSingle    OrderType = "single"
	OrderTypeMultiDrop OrderType = "multi-drop"
)

// Booking is a customer's requested move, the unit of dispatch work.
type Booking struct {
	ID                string
	Reference         string
	CustomerID        string
	Status            BookingStatus
	WindowStart       time.Time
	WindowEnd         time.Time
	PickupLat         float64
	PickupLng         float64
	PickupPostcode    string
	DropoffLat        float64
	DropoffLng        float64
	DropoffPostcode   string
	Value             float64 // GBP
	Priority          Priority
	MultiDropEligible bool
	OrderType         OrderType
	LoadUnits         float64 // volume proxy in cubic metres
	RouteID           string  // empty when not part of a route
	DeliverySequence  int     // 1-based position in the route, 0 when unrouted
	DriverID          string  // empty while unassigned
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Clone returns a copy of the booking.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}

// RequiresMultiDrop reports whether the driver must be multi-drop capable.
func (b *Booking) RequiresMultiDrop() bool {
	return b.OrderType == OrderTypeMultiDrop
}

// HasValidCoordinates reports whether both legs carry usable geocoordinates.
// A 0,0 pair is treated as missing.
func (b *Booking) HasValidCoordinates() bool {
	return ValidCoordinate(b.PickupLat, b.PickupLng) && ValidCoordinate(b.DropoffLat, b.DropoffLng)
}

// PostcodeArea returns the outward code of the pickup postcode ("M1 1AA" -> "M1").
func (b *Booking) PostcodeArea() string {
	return PostcodeArea(b.PickupPostcode)
}

// Transition moves the booking to next or returns ErrInvalidTransition.
func (b *Booking) Transition(next BookingStatus, now time.Time) error {
	if !b.Status.CanTransition(next) {
		return &TransitionError{Entity: "booking", From: string(b.Status), To: string(next)}
	}
	b.Status = next
	b.UpdatedAt = now
	return nil
}

// ClearRoute detaches the booking from its route.
func (b *Booking) ClearRoute(now time.Time) {
	b.RouteID = ""
	b.DeliverySequence = 0
	b.OrderType = OrderTypeSingle
	b.UpdatedAt = now
}

// ValidCoordinate reports whether lat/lng are in range and not the 0,0 placeholder.
func ValidCoordinate(lat, lng float64) bool {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return false
	}
	return !(lat == 0 && lng == 0)
}

// PostcodeArea returns the upper-cased outward part of a UK postcode.
func PostcodeArea(postcode string) string {
	fields := strings.Fields(strings.ToUpper(postcode))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
