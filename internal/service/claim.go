package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dispatch/internal/domain"
	"dispatch/internal/logger"
	"dispatch/internal/notify"
	"dispatch/internal/redis"
	"dispatch/internal/repository"
	"dispatch/internal/routing"
)

// ClaimConfig tunes the claim path.
type ClaimConfig struct {
	TTL         time.Duration
	MaxAttempts int
	LockTTL     time.Duration
	ReaperBatch int
	// Constraints re-score a route after one of its drops is declined.
	Constraints routing.Constraints
}

// DefaultClaimConfig returns the claim settings used when none are configured.
func DefaultClaimConfig() ClaimConfig {
	return ClaimConfig{
		TTL:         5 * time.Minute,
		MaxAttempts: 3,
		LockTTL:     5 * time.Second,
		ReaperBatch: 100,
		Constraints: routing.DefaultConstraints(),
	}
}

// ClaimService handles the lifecycle of driver assignments: claim, accept,
// decline, cancel, start, complete and expiry.
type ClaimService struct {
	deps     Deps
	capacity *CapacityTracker
	locker   redis.BookingLocker
	cfg      ClaimConfig
	log      logger.Logger
}

// NewClaimService creates a new ClaimService. locker may be nil.
func NewClaimService(deps Deps, capacity *CapacityTracker, locker redis.BookingLocker, cfg ClaimConfig) *ClaimService {
	def := DefaultClaimConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.ReaperBatch < 1 {
		cfg.ReaperBatch = def.ReaperBatch
	}
	if cfg.Constraints == (routing.Constraints{}) {
		cfg.Constraints = def.Constraints
	}
	return &ClaimService{
		deps:     deps.withDefaults(),
		capacity: capacity,
		locker:   locker,
		cfg:      cfg,
		log:      logger.New("claims"),
	}
}

// Claim gives driverID a time-limited exclusive hold on bookingID. Checks
// run in a fixed order and the first failure wins: NotAvailable,
// AlreadyClaimed, DriverIneligible (compliance), DriverBusy,
// DriverIneligible (capacity).
func (s *ClaimService) Claim(ctx context.Context, bookingID, driverID string) (*domain.Assignment, error) {
	if bookingID == "" {
		return nil, ErrInvalidBookingID
	}
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}

	var created *domain.Assignment
	var expired []*domain.Assignment
	err := withRetry(ctx, s.cfg.MaxAttempts, s.deps.Metrics.ClaimRetry, func() error {
		release, err := s.lockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		defer release()

		created, expired = nil, nil
		return s.deps.Store.Run(ctx, repository.CommandFunc(func(ctx context.Context, tx repository.Tx) error {
			var err error
			created, expired, err = s.claimInTx(ctx, tx, bookingID, driverID, s.deps.Clock.Now())
			return err
		}))
	})
	if errors.Is(err, repository.ErrConflict) {
		err = conflictf(KindAlreadyClaimed, "booking %s is contended", bookingID)
	}
	s.recordOutcome(err)
	if err != nil {
		s.log.Debugf("claim of booking %s by driver %s rejected: %v", bookingID, driverID, err)
		return nil, err
	}

	s.notifyExpired(ctx, expired)
	s.log.Infow("booking claimed", map[string]any{
		"booking_id":    bookingID,
		"driver_id":     driverID,
		"assignment_id": created.ID,
		"expires_at":    created.ExpiresAt,
	})
	s.deps.Notifier.Publish(ctx, notify.DriverChannel(driverID), EventBookingClaimed, map[string]any{
		"assignmentId": created.ID,
		"bookingId":    bookingID,
		"expiresAt":    created.ExpiresAt,
	})
	return created, nil
}

func (s *ClaimService) claimInTx(ctx context.Context, tx repository.Tx, bookingID, driverID string, now time.Time) (*domain.Assignment, []*domain.Assignment, error) {
	var expired []*domain.Assignment

	booking, err := tx.Bookings().GetForUpdate(ctx, bookingID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, conflictf(KindNotAvailable, "booking %s not found", bookingID)
	}
	if err != nil {
		return nil, nil, err
	}
	if booking.Status != domain.BookingStatusConfirmed {
		return nil, nil, conflictf(KindNotAvailable, "booking %s is %s", bookingID, booking.Status)
	}
	if booking.RouteID != "" {
		return nil, nil, conflictf(KindNotAvailable, "booking %s belongs to route %s", bookingID, booking.RouteID)
	}

	open, err := tx.Assignments().ListOpenByBooking(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}
	for _, a := range open {
		if !domain.IsExpired(a, now) {
			return nil, nil, conflictf(KindAlreadyClaimed, "booking %s is held by another driver", bookingID)
		}
		if err := s.expireInTx(ctx, tx, a, now); err != nil {
			return nil, nil, err
		}
		expired = append(expired, a)
	}
	if len(expired) > 0 {
		if booking, err = tx.Bookings().GetForUpdate(ctx, bookingID); err != nil {
			return nil, nil, err
		}
	}
	if booking.DriverID != "" {
		return nil, nil, conflictf(KindAlreadyClaimed, "booking %s already has a driver", bookingID)
	}

	// Stale claims of this driver are released before the capacity check so
	// they do not count against it.
	driverOpen, err := tx.Assignments().ListOpenByDriver(ctx, driverID)
	if err != nil {
		return nil, nil, err
	}
	live := 0
	for _, a := range driverOpen {
		if !domain.IsExpired(a, now) {
			live++
			continue
		}
		if err := s.expireInTx(ctx, tx, a, now); err != nil {
			return nil, nil, err
		}
		expired = append(expired, a)
	}

	driver, err := tx.Drivers().GetByID(ctx, driverID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, conflictf(KindDriverIneligible, "driver %s not found", driverID)
	}
	if err != nil {
		return nil, nil, err
	}
	if !driver.IsCompliant(now) {
		return nil, nil, conflictf(KindDriverIneligible, "driver %s is not compliant", driverID)
	}
	if live > 0 {
		return nil, nil, conflictf(KindDriverBusy, "driver %s holds a live assignment", driverID)
	}
	el, err := s.capacity.Check(ctx, tx, driverID, booking)
	if err != nil {
		return nil, nil, err
	}
	if !el.Eligible {
		return nil, nil, conflictf(KindDriverIneligible, "driver %s: %s", driverID, el.Reason)
	}

	a := &domain.Assignment{
		ID:        uuid.New().String(),
		BookingID: bookingID,
		DriverID:  driverID,
		Status:    domain.AssignmentClaimed,
		Source:    domain.SourceClaim,
		Score:     booking.Value,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.TTL),
	}
	if err := tx.Assignments().Create(ctx, a); err != nil {
		return nil, nil, err
	}
	booking.DriverID = driverID
	booking.UpdatedAt = now
	if err := tx.Bookings().Update(ctx, booking); err != nil {
		return nil, nil, err
	}
	if err := s.capacity.Reserve(ctx, tx, driverID, 1); err != nil {
		if errors.Is(err, ErrCapacityExceeded) {
			return nil, nil, conflictf(KindDriverIneligible, "driver %s: %s", driverID, ReasonAtCapacity)
		}
		return nil, nil, err
	}
	return a, expired, nil
}

// lockBooking takes the optional Redis booking lock. A lock held elsewhere
// is reported as repository.ErrConflict so the caller retries; an
// unreachable Redis degrades to the database guarantees alone.
func (s *ClaimService) lockBooking(ctx context.Context, bookingID string) (func(), error) {
	noop := func() {}
	if s.locker == nil {
		return noop, nil
	}
	token, ok, err := s.locker.AcquireBookingLock(ctx, bookingID, s.cfg.LockTTL)
	if err != nil {
		s.log.Warnf("booking lock unavailable for %s: %v", bookingID, err)
		return noop, nil
	}
	if !ok {
		return nil, fmt.Errorf("booking %s locked: %w", bookingID, repository.ErrConflict)
	}
	return func() {
		if err := s.locker.ReleaseBookingLock(context.WithoutCancel(ctx), bookingID, token); err != nil {
			s.log.Warnf("release booking lock %s: %v", bookingID, err)
		}
	}, nil
}

func (s *ClaimService) recordOutcome(err error) {
	var ce *ConflictError
	switch {
	case err == nil:
		s.deps.Metrics.ClaimOutcome("ok")
	case errors.As(err, &ce):
		s.deps.Metrics.ClaimOutcome(string(ce.Kind))
	default:
		s.deps.Metrics.ClaimOutcome("error")
	}
}

// Accept confirms a live claim. A claim past its deadline is released and
// the call fails with ErrClaimExpired.
func (s *ClaimService) Accept(ctx context.Context, assignmentID string) (*domain.Assignment, error) {
	if assignmentID == "" {
		return nil, ErrInvalidAssignmentID
	}

	var out *domain.Assignment
	var lapsed bool
	err := s.run(ctx, func(ctx context.Context, tx repository.Tx, now time.Time) error {
		out, lapsed = nil, false
		a, err := tx.Assignments().GetForUpdate(ctx, assignmentID)
		if err != nil {
			return err
		}
		switch {
		case a.Status == domain.AssignmentExpired:
			return conflictf(KindClaimExpired, "assignment %s expired at %s", a.ID, a.ExpiresAt.Format(time.RFC3339))
		case a.Status.IsTerminal():
			return conflictf(KindTerminalStateViolation, "assignment %s is %s", a.ID, a.Status)
		case a.Status != domain.AssignmentClaimed:
			return conflictf(KindInvalidTransition, "assignment %s is %s", a.ID, a.Status)
		}
		if domain.IsExpired(a, now) {
			lapsed = true
			out = a
			return s.expireInTx(ctx, tx, a, now)
		}

		if err := a.Transition(domain.AssignmentAccepted, now); err != nil {
			return transitionConflict(err)
		}
		if err := tx.Assignments().Update(ctx, a); err != nil {
			return err
		}
		b, err := tx.Bookings().GetForUpdate(ctx, a.BookingID)
		if err != nil {
			return err
		}
		if err := b.Transition(domain.BookingStatusAssigned, now); err != nil {
			return transitionConflict(err)
		}
		if err := tx.Bookings().Update(ctx, b); err != nil {
			return err
		}
		if err := syncDrop(ctx, tx, b, now); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	if lapsed {
		s.notifyExpired(ctx, []*domain.Assignment{out})
		return nil, conflictf(KindClaimExpired, "assignment %s expired at %s", out.ID, out.ExpiresAt.Format(time.RFC3339))
	}

	s.log.Infof("assignment %s accepted by driver %s", out.ID, out.DriverID)
	s.deps.Notifier.Publish(ctx, notify.AdminChannel, EventAssignmentAccepted, assignmentPayload(out))
	return out, nil
}

// Decline ends an assignment at the driver's request and frees the booking.
func (s *ClaimService) Decline(ctx context.Context, assignmentID, reason string) (*domain.Assignment, error) {
	return s.close(ctx, assignmentID, domain.AssignmentDeclined, reason, EventAssignmentDeclined)
}

// Cancel ends an assignment on behalf of operations and frees the booking.
func (s *ClaimService) Cancel(ctx context.Context, assignmentID, reason string) (*domain.Assignment, error) {
	return s.close(ctx, assignmentID, domain.AssignmentCancelled, reason, EventAssignmentCancelled)
}

func (s *ClaimService) close(ctx context.Context, assignmentID string, next domain.AssignmentStatus, reason, event string) (*domain.Assignment, error) {
	if assignmentID == "" {
		return nil, ErrInvalidAssignmentID
	}

	var out *domain.Assignment
	var lapsed bool
	err := s.run(ctx, func(ctx context.Context, tx repository.Tx, now time.Time) error {
		out, lapsed = nil, false
		a, err := tx.Assignments().GetForUpdate(ctx, assignmentID)
		if err != nil {
			return err
		}
		if a.Status.IsTerminal() {
			return conflictf(KindTerminalStateViolation, "assignment %s is %s", a.ID, a.Status)
		}
		if domain.IsExpired(a, now) {
			lapsed = true
			out = a
			return s.expireInTx(ctx, tx, a, now)
		}

		if err := a.Transition(next, now); err != nil {
			return transitionConflict(err)
		}
		a.Reason = reason
		if err := tx.Assignments().Update(ctx, a); err != nil {
			return err
		}
		if err := s.freeBooking(ctx, tx, a, now); err != nil {
			return err
		}
		if err := s.capacity.Release(ctx, tx, a.DriverID, 1); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	if lapsed {
		s.notifyExpired(ctx, []*domain.Assignment{out})
		return nil, conflictf(KindClaimExpired, "assignment %s expired at %s", out.ID, out.ExpiresAt.Format(time.RFC3339))
	}

	s.log.Infof("assignment %s %s: %s", out.ID, out.Status, reason)
	payload := assignmentPayload(out)
	payload["reason"] = reason
	s.deps.Notifier.Publish(ctx, notify.AdminChannel, event, payload)
	s.deps.Notifier.Publish(ctx, notify.DriverChannel(out.DriverID), event, payload)
	return out, nil
}

// Start marks the accepted job as under way.
func (s *ClaimService) Start(ctx context.Context, assignmentID string) (*domain.Assignment, error) {
	if assignmentID == "" {
		return nil, ErrInvalidAssignmentID
	}

	var out *domain.Assignment
	err := s.run(ctx, func(ctx context.Context, tx repository.Tx, now time.Time) error {
		a, err := tx.Assignments().GetForUpdate(ctx, assignmentID)
		if err != nil {
			return err
		}
		if a.Status.IsTerminal() {
			return conflictf(KindTerminalStateViolation, "assignment %s is %s", a.ID, a.Status)
		}
		if a.Status != domain.AssignmentAccepted {
			return conflictf(KindInvalidTransition, "assignment %s must be accepted before starting", a.ID)
		}
		b, err := tx.Bookings().GetForUpdate(ctx, a.BookingID)
		if err != nil {
			return err
		}
		if err := b.Transition(domain.BookingStatusInProgress, now); err != nil {
			return transitionConflict(err)
		}
		if err := tx.Bookings().Update(ctx, b); err != nil {
			return err
		}
		if err := syncDrop(ctx, tx, b, now); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Infof("assignment %s started", out.ID)
	s.deps.Notifier.Publish(ctx, notify.AdminChannel, EventJobStarted, assignmentPayload(out))
	return out, nil
}

// Complete finishes a started job and frees the driver's capacity.
func (s *ClaimService) Complete(ctx context.Context, assignmentID string) (*domain.Assignment, error) {
	if assignmentID == "" {
		return nil, ErrInvalidAssignmentID
	}

	var out *domain.Assignment
	err := s.run(ctx, func(ctx context.Context, tx repository.Tx, now time.Time) error {
		a, err := tx.Assignments().GetForUpdate(ctx, assignmentID)
		if err != nil {
			return err
		}
		if a.Status.IsTerminal() {
			return conflictf(KindTerminalStateViolation, "assignment %s is %s", a.ID, a.Status)
		}
		if a.Status != domain.AssignmentAccepted {
			return conflictf(KindInvalidTransition, "assignment %s is %s", a.ID, a.Status)
		}
		b, err := tx.Bookings().GetForUpdate(ctx, a.BookingID)
		if err != nil {
			return err
		}
		if err := b.Transition(domain.BookingStatusCompleted, now); err != nil {
			return transitionConflict(err)
		}
		if err := tx.Bookings().Update(ctx, b); err != nil {
			return err
		}
		if err := a.Transition(domain.AssignmentCompleted, now); err != nil {
			return transitionConflict(err)
		}
		if err := tx.Assignments().Update(ctx, a); err != nil {
			return err
		}
		if err := syncDrop(ctx, tx, b, now); err != nil {
			return err
		}
		if err := s.capacity.Release(ctx, tx, a.DriverID, 1); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Infof("assignment %s completed", out.ID)
	s.deps.Notifier.Publish(ctx, notify.AdminChannel, EventJobCompleted, assignmentPayload(out))
	return out, nil
}

// ReapExpired releases up to one batch of claims past their deadline and
// returns how many it released.
func (s *ClaimService) ReapExpired(ctx context.Context) (int, error) {
	var reaped []*domain.Assignment
	err := s.run(ctx, func(ctx context.Context, tx repository.Tx, now time.Time) error {
		reaped = nil
		stale, err := tx.Assignments().ListExpiredClaims(ctx, now, s.cfg.ReaperBatch)
		if err != nil {
			return err
		}
		for _, a := range stale {
			if err := s.expireInTx(ctx, tx, a, now); err != nil {
				return err
			}
			reaped = append(reaped, a)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(reaped) > 0 {
		s.deps.Metrics.ClaimsReaped(len(reaped))
		s.log.Infof("released %d expired claims", len(reaped))
		s.notifyExpired(ctx, reaped)
	}
	return len(reaped), nil
}

// run executes fn in a transaction, retrying transient conflicts. fn
// receives the clock reading for its attempt.
func (s *ClaimService) run(ctx context.Context, fn func(ctx context.Context, tx repository.Tx, now time.Time) error) error {
	return withRetry(ctx, s.cfg.MaxAttempts, nil, func() error {
		return s.deps.Store.Run(ctx, repository.CommandFunc(func(ctx context.Context, tx repository.Tx) error {
			return fn(ctx, tx, s.deps.Clock.Now())
		}))
	})
}

// expireInTx marks a stale claim expired, detaches its driver from the
// booking and returns the reserved unit of capacity.
func (s *ClaimService) expireInTx(ctx context.Context, tx repository.Tx, a *domain.Assignment, now time.Time) error {
	if err := a.Transition(domain.AssignmentExpired, now); err != nil {
		return transitionConflict(err)
	}
	a.Reason = "claim not accepted in time"
	if err := tx.Assignments().Update(ctx, a); err != nil {
		return err
	}
	if err := s.freeBooking(ctx, tx, a, now); err != nil {
		return err
	}
	return s.capacity.Release(ctx, tx, a.DriverID, 1)
}

// freeBooking returns the assignment's booking to the confirmed pool. A
// booking freed from a route drop also leaves the route, so it can be
// claimed or routed again.
func (s *ClaimService) freeBooking(ctx context.Context, tx repository.Tx, a *domain.Assignment, now time.Time) error {
	b, err := tx.Bookings().GetForUpdate(ctx, a.BookingID)
	if err != nil {
		return err
	}
	if b.DriverID != a.DriverID {
		return nil
	}
	b.DriverID = ""
	b.UpdatedAt = now
	if b.Status != domain.BookingStatusConfirmed {
		if err := b.Transition(domain.BookingStatusConfirmed, now); err != nil {
			return transitionConflict(err)
		}
	}
	routeID := b.RouteID
	if routeID != "" && a.Source == domain.SourceRoute {
		b.ClearRoute(now)
	}
	if err := tx.Bookings().Update(ctx, b); err != nil {
		return err
	}
	if b.RouteID == "" && routeID != "" {
		return detachDrop(ctx, tx, routeID, b.ID, s.cfg.Constraints, now)
	}
	return syncDrop(ctx, tx, b, now)
}

// syncDrop mirrors the booking's status onto its drop, and completes the
// route once every drop is done.
func syncDrop(ctx context.Context, tx repository.Tx, b *domain.Booking, now time.Time) error {
	if b.RouteID == "" {
		return nil
	}
	route, err := tx.Routes().GetForUpdate(ctx, b.RouteID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	done := true
	for i := range route.Drops {
		if route.Drops[i].BookingID == b.ID {
			route.Drops[i].Status = domain.DropStatusFor(b.Status)
		}
		if route.Drops[i].Status != domain.DropStatusCompleted {
			done = false
		}
	}
	switch {
	case b.Status == domain.BookingStatusInProgress && route.Status == domain.RouteStatusAssigned:
		if err := route.Transition(domain.RouteStatusActive, now); err != nil {
			return transitionConflict(err)
		}
	case done && route.Status == domain.RouteStatusActive:
		if err := route.Transition(domain.RouteStatusCompleted, now); err != nil {
			return transitionConflict(err)
		}
	default:
		route.UpdatedAt = now
	}
	return tx.Routes().Update(ctx, route)
}

func (s *ClaimService) notifyExpired(ctx context.Context, expired []*domain.Assignment) {
	for _, a := range expired {
		s.deps.Notifier.Publish(ctx, notify.DriverChannel(a.DriverID), EventAssignmentExpired, assignmentPayload(a))
	}
}

func assignmentPayload(a *domain.Assignment) map[string]any {
	return map[string]any{
		"assignmentId": a.ID,
		"bookingId":    a.BookingID,
		"driverId":     a.DriverID,
		"status":       string(a.Status),
	}
}

// Reaper periodically releases expired claims.
type Reaper struct {
	claims   *ClaimService
	interval time.Duration
	log      logger.Logger
}

// NewReaper creates a Reaper running every interval.
func NewReaper(claims *ClaimService, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{claims: claims, interval: interval, log: logger.New("reaper")}
}

// Run reaps until ctx is cancelled. A full batch is followed immediately by
// another pass.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				n, err := r.claims.ReapExpired(ctx)
				if err != nil {
					if ctx.Err() == nil {
						r.log.Errorf("reap expired claims: %v", err)
					}
					break
				}
				if n < r.claims.cfg.ReaperBatch {
					break
				}
			}
		}
	}
}
