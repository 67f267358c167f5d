package repository

import (
	"context"
	"time"

	"dispatch/internal/domain"
)

// BookingRepository defines the persistence operations for bookings.
type BookingRepository interface {
	// Create adds a new booking.
	Create(ctx context.Context, booking *domain.Booking) error

	// GetByID retrieves a booking by ID.
	GetByID(ctx context.Context, id string) (*domain.Booking, error)

	// GetForUpdate retrieves a booking and locks it for the rest of the transaction.
	GetForUpdate(ctx context.Context, id string) (*domain.Booking, error)

	// Update persists every mutable field of the booking.
	Update(ctx context.Context, booking *domain.Booking) error

	// ListRouteCandidates returns bookings matching the optimizer candidate filter,
	// ordered by ID.
	ListRouteCandidates(ctx context.Context, filter CandidateFilter) ([]*domain.Booking, error)

	// ListUnassigned returns confirmed bookings without a driver created before
	// the given instant, oldest first.
	ListUnassigned(ctx context.Context, createdBefore time.Time) ([]*domain.Booking, error)
}

// CandidateFilter selects bookings eligible for route optimization: confirmed,
// unrouted, without a driver and flagged multi-drop eligible.
type CandidateFilter struct {
	WindowFrom time.Time
	WindowTo   time.Time
	// PostcodePrefix restricts pickups to postcodes starting with it. Empty matches all.
	PostcodePrefix string
}

// DriverRepository defines the persistence operations for drivers.
type DriverRepository interface {
	// Create adds a new driver.
	Create(ctx context.Context, driver *domain.Driver) error

	// GetByID retrieves a driver by ID, including compliance documents.
	GetByID(ctx context.Context, id string) (*domain.Driver, error)
}

// AvailabilityRepository stores per-driver capacity state. It is only
// reachable through a Tx so capacity moves together with the assignment
// change that motivates it.
type AvailabilityRepository interface {
	// GetForUpdate retrieves and locks the availability row of a driver.
	GetForUpdate(ctx context.Context, driverID string) (*domain.DriverAvailability, error)

	// Upsert creates or replaces the availability row of a driver.
	Upsert(ctx context.Context, availability *domain.DriverAvailability) error
}

// AssignmentRepository defines the persistence operations for assignments.
// Assignments are never deleted.
type AssignmentRepository interface {
	// Create adds a new assignment.
	Create(ctx context.Context, assignment *domain.Assignment) error

	// GetForUpdate retrieves and locks an assignment.
	GetForUpdate(ctx context.Context, id string) (*domain.Assignment, error)

	// Update persists the status, reason and timestamps of an assignment.
	Update(ctx context.Context, assignment *domain.Assignment) error

	// ListOpenByBooking returns claimed or accepted assignments of a booking.
	// Expiry has not been applied to the result.
	ListOpenByBooking(ctx context.Context, bookingID string) ([]*domain.Assignment, error)

	// ListOpenByDriver returns claimed or accepted assignments of a driver.
	// Expiry has not been applied to the result.
	ListOpenByDriver(ctx context.Context, driverID string) ([]*domain.Assignment, error)

	// ListExpiredClaims returns claimed assignments whose deadline is at or before now.
	ListExpiredClaims(ctx context.Context, now time.Time, limit int) ([]*domain.Assignment, error)
}

// RouteRepository defines the persistence operations for routes and their drops.
type RouteRepository interface {
	// Create adds a route together with its drops.
	Create(ctx context.Context, route *domain.Route) error

	// GetByID retrieves a route and its drops ordered by sequence.
	GetByID(ctx context.Context, id string) (*domain.Route, error)

	// GetForUpdate retrieves and locks a route and its drops.
	GetForUpdate(ctx context.Context, id string) (*domain.Route, error)

	// Update persists the route and replaces its drops.
	Update(ctx context.Context, route *domain.Route) error

	// Delete removes a route and its drops.
	Delete(ctx context.Context, id string) error
}

// Tx is a unit of work. Every repository obtained from it shares one
// transaction.
type Tx interface {
	Bookings() BookingRepository
	Drivers() DriverRepository
	Availability() AvailabilityRepository
	Assignments() AssignmentRepository
	Routes() RouteRepository
}

// Command is a piece of work executed atomically inside a Tx.
type Command interface {
	Execute(ctx context.Context, tx Tx) error
}

// CommandFunc adapts a function to the Command interface.
type CommandFunc func(ctx context.Context, tx Tx) error

// Execute calls f(ctx, tx).
func (f CommandFunc) Execute(ctx context.Context, tx Tx) error {
	return f(ctx, tx)
}

// Transactor runs commands in strictly isolated transactions. A command that
// returns an error is rolled back. Transient failures surface as ErrConflict.
type Transactor interface {
	Run(ctx context.Context, cmd Command) error
}
