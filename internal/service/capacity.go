package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/logger"
	"dispatch/internal/repository"
)

// Ineligibility reasons reported by CapacityTracker.Check.
const (
	ReasonNoAvailability  = "no_availability"
	ReasonOffline         = "offline"
	ReasonOnBreak         = "on_break"
	ReasonAtCapacity      = "at_capacity"
	ReasonNotMultiDrop    = "not_multi_drop_capable"
	ReasonInsufficientCap = "insufficient_capacity"
)

// Eligibility is the outcome of a capacity check.
type Eligibility struct {
	Eligible bool
	Reason   string // empty when eligible
	// PreferredArea reports whether the booking is inside the driver's
	// service areas. It never gates eligibility.
	PreferredArea bool
	Remaining     int
}

// AvailabilityUpdate changes a driver's availability. Nil fields keep their
// current value.
type AvailabilityUpdate struct {
	Status             domain.AvailabilityStatus
	BreakUntil         *time.Time
	MaxConcurrentDrops *int
	MultiDropCapable   *bool
	PreferredAreas     []string
}

// CapacityTracker owns driver online state and concurrent load. Reserve and
// Release take the caller's Tx so capacity always moves in the same
// transaction as the assignment change behind it.
type CapacityTracker struct {
	deps Deps
	log  logger.Logger
}

// NewCapacityTracker creates a new CapacityTracker.
func NewCapacityTracker(deps Deps) *CapacityTracker {
	return &CapacityTracker{
		deps: deps.withDefaults(),
		log:  logger.New("capacity"),
	}
}

// Check evaluates whether the driver can take one more unit of work for booking.
func (t *CapacityTracker) Check(ctx context.Context, tx repository.Tx, driverID string, booking *domain.Booking) (Eligibility, error) {
	multiDrop := booking != nil && booking.RequiresMultiDrop()
	el, err := t.CheckUnits(ctx, tx, driverID, 1, multiDrop)
	if err != nil {
		return el, err
	}
	if booking != nil {
		avail, err := tx.Availability().GetForUpdate(ctx, driverID)
		if err == nil {
			el.PreferredArea = avail.Prefers(booking.PostcodeArea())
		}
	}
	return el, nil
}

// CheckUnits evaluates whether the driver can take units more drops at once.
func (t *CapacityTracker) CheckUnits(ctx context.Context, tx repository.Tx, driverID string, units int, multiDrop bool) (Eligibility, error) {
	avail, err := tx.Availability().GetForUpdate(ctx, driverID)
	if errors.Is(err, repository.ErrNotFound) {
		return Eligibility{Reason: ReasonNoAvailability}, nil
	}
	if err != nil {
		return Eligibility{}, fmt.Errorf("load availability: %w", err)
	}
	return evaluate(avail, units, multiDrop, t.deps.Clock.Now()), nil
}

func evaluate(avail *domain.DriverAvailability, units int, multiDrop bool, now time.Time) Eligibility {
	el := Eligibility{Remaining: avail.RemainingCapacity()}
	switch {
	case avail.Status != domain.AvailabilityOnline:
		el.Reason = ReasonOffline
		if avail.Status == domain.AvailabilityBreak {
			el.Reason = ReasonOnBreak
		}
	case avail.OnBreak(now):
		el.Reason = ReasonOnBreak
	case el.Remaining == 0:
		el.Reason = ReasonAtCapacity
	case el.Remaining < units:
		el.Reason = ReasonInsufficientCap
	case multiDrop && !avail.MultiDropCapable:
		el.Reason = ReasonNotMultiDrop
	default:
		el.Eligible = true
	}
	return el
}

// IsEligible runs Check in its own transaction.
func (t *CapacityTracker) IsEligible(ctx context.Context, driverID string, booking *domain.Booking) (bool, error) {
	var el Eligibility
	err := t.deps.Store.Run(ctx, repository.CommandFunc(func(ctx context.Context, tx repository.Tx) error {
		var err error
		el, err = t.Check(ctx, tx, driverID, booking)
		return err
	}))
	if err != nil {
		return false, err
	}
	return el.Eligible, nil
}

// Reserve takes n units of the driver's capacity.
func (t *CapacityTracker) Reserve(ctx context.Context, tx repository.Tx, driverID string, n int) error {
	avail, err := tx.Availability().GetForUpdate(ctx, driverID)
	if err != nil {
		return fmt.Errorf("reserve capacity: %w", err)
	}
	if avail.CurrentCapacityUsed+n > avail.MaxConcurrentDrops {
		return fmt.Errorf("%w: driver %s has %d of %d in use, needs %d",
			ErrCapacityExceeded, driverID, avail.CurrentCapacityUsed, avail.MaxConcurrentDrops, n)
	}
	avail.CurrentCapacityUsed += n
	avail.UpdatedAt = t.deps.Clock.Now()
	return tx.Availability().Upsert(ctx, avail)
}

// Release returns n units of the driver's capacity. Releasing more than is
// in use clamps to zero.
func (t *CapacityTracker) Release(ctx context.Context, tx repository.Tx, driverID string, n int) error {
	avail, err := tx.Availability().GetForUpdate(ctx, driverID)
	if errors.Is(err, repository.ErrNotFound) {
		t.log.Warnf("release capacity: driver %s has no availability record", driverID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("release capacity: %w", err)
	}
	avail.CurrentCapacityUsed -= n
	if avail.CurrentCapacityUsed < 0 {
		t.log.Warnf("capacity underflow for driver %s: clamped %d to 0", driverID, avail.CurrentCapacityUsed)
		t.deps.Metrics.CapacityUnderflow()
		avail.CurrentCapacityUsed = 0
	}
	avail.UpdatedAt = t.deps.Clock.Now()
	return tx.Availability().Upsert(ctx, avail)
}

// SetStatus changes the driver's online state.
func (t *CapacityTracker) SetStatus(ctx context.Context, driverID string, status domain.AvailabilityStatus, breakUntil *time.Time) (*domain.DriverAvailability, error) {
	return t.Configure(ctx, driverID, AvailabilityUpdate{Status: status, BreakUntil: breakUntil})
}

// Configure applies update to the driver's availability, creating the record
// on first use. Capacity in use is preserved and the new maximum may not go
// below it.
func (t *CapacityTracker) Configure(ctx context.Context, driverID string, update AvailabilityUpdate) (*domain.DriverAvailability, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}
	if update.Status != "" && !update.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidAvailability, update.Status)
	}
	if update.MaxConcurrentDrops != nil && *update.MaxConcurrentDrops < 0 {
		return nil, fmt.Errorf("%w: max concurrent drops must not be negative", ErrInvalidAvailability)
	}

	var out *domain.DriverAvailability
	err := t.deps.Store.Run(ctx, repository.CommandFunc(func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.Drivers().GetByID(ctx, driverID); err != nil {
			return err
		}
		avail, err := tx.Availability().GetForUpdate(ctx, driverID)
		if errors.Is(err, repository.ErrNotFound) {
			avail = &domain.DriverAvailability{
				DriverID:           driverID,
				Status:             domain.AvailabilityOffline,
				MaxConcurrentDrops: 1,
			}
		} else if err != nil {
			return err
		}

		if update.Status != "" {
			avail.Status = update.Status
		}
		if update.BreakUntil != nil {
			avail.BreakUntil = update.BreakUntil.UTC()
		} else if update.Status == domain.AvailabilityOnline || update.Status == domain.AvailabilityOffline {
			avail.BreakUntil = time.Time{}
		}
		if update.MaxConcurrentDrops != nil {
			if *update.MaxConcurrentDrops < avail.CurrentCapacityUsed {
				return fmt.Errorf("%w: max concurrent drops %d below %d in use",
					ErrInvalidAvailability, *update.MaxConcurrentDrops, avail.CurrentCapacityUsed)
			}
			avail.MaxConcurrentDrops = *update.MaxConcurrentDrops
		}
		if update.MultiDropCapable != nil {
			avail.MultiDropCapable = *update.MultiDropCapable
		}
		if update.PreferredAreas != nil {
			avail.PreferredAreas = update.PreferredAreas
		}
		avail.UpdatedAt = t.deps.Clock.Now()
		if err := tx.Availability().Upsert(ctx, avail); err != nil {
			return err
		}
		out = avail
		return nil
	}))
	if err != nil {
		return nil, err
	}

	t.log.Infow("driver availability updated", map[string]any{
		"driver_id": driverID,
		"status":    out.Status,
		"used":      out.CurrentCapacityUsed,
		"max":       out.MaxConcurrentDrops,
	})
	return out, nil
}
