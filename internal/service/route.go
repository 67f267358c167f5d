package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"dispatch/internal/domain"
	"dispatch/internal/logger"
	"dispatch/internal/notify"
	"dispatch/internal/repository"
	"dispatch/internal/routing"
)

// RouteConfig tunes route optimization.
type RouteConfig struct {
	Horizon     time.Duration
	Constraints routing.Constraints
	MaxAttempts int
}

// DefaultRouteConfig returns the settings used when none are configured.
func DefaultRouteConfig() RouteConfig {
	return RouteConfig{
		Horizon:     24 * time.Hour,
		Constraints: routing.DefaultConstraints(),
		MaxAttempts: 3,
	}
}

// RouteService builds, edits and assigns multi-drop routes.
type RouteService struct {
	deps     Deps
	capacity *CapacityTracker
	cfg      RouteConfig
	log      logger.Logger
}

// NewRouteService creates a new RouteService.
func NewRouteService(deps Deps, capacity *CapacityTracker, cfg RouteConfig) *RouteService {
	if cfg.Horizon <= 0 {
		cfg.Horizon = DefaultRouteConfig().Horizon
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultRouteConfig().MaxAttempts
	}
	return &RouteService{
		deps:     deps.withDefaults(),
		capacity: capacity,
		cfg:      cfg,
		log:      logger.New("routes"),
	}
}

// OptimizeRequest bounds an optimization pass. Zero times default to now and
// now plus the configured horizon.
type OptimizeRequest struct {
	HorizonStart time.Time
	HorizonEnd   time.Time
	// Region restricts candidates to pickup postcodes with this prefix.
	Region string
}

// OptimizeStats summarises an optimization pass.
type OptimizeStats struct {
	EligibleCount   int `json:"eligibleCount"`
	AssignedCount   int `json:"assignedCount"`
	UnassignedCount int `json:"unassignedCount"`
}

// OptimizeResult contains the routes created by a pass.
type OptimizeResult struct {
	Routes []*domain.Route
	Stats  OptimizeStats
}

// errPlanStale is returned inside a persistence transaction when too few
// plan members are still routable.
var errPlanStale = errors.New("plan no longer viable")

// OptimizeRoutes groups routable bookings in the horizon into planned
// routes. Finding no viable route is not an error.
func (s *RouteService) OptimizeRoutes(ctx context.Context, req OptimizeRequest) (*OptimizeResult, error) {
	started := time.Now()
	now := s.deps.Clock.Now()
	if req.HorizonStart.IsZero() {
		req.HorizonStart = now
	}
	if req.HorizonEnd.IsZero() {
		req.HorizonEnd = req.HorizonStart.Add(s.cfg.Horizon)
	}
	if req.HorizonEnd.Before(req.HorizonStart) {
		return nil, ErrInvalidHorizon
	}

	var candidates []*domain.Booking
	err := s.deps.Store.Run(ctx, repository.CommandFunc(func(ctx context.Context, tx repository.Tx) error {
		var err error
		candidates, err = tx.Bookings().ListRouteCandidates(ctx, repository.CandidateFilter{
			WindowFrom:     req.HorizonStart,
			WindowTo:       req.HorizonEnd,
			PostcodePrefix: strings.ToUpper(strings.TrimSpace(req.Region)),
		})
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("list route candidates: %w", err)
	}

	res := routing.Optimize(candidates, s.cfg.Constraints)
	for _, b := range res.Rejected {
		s.log.Warnf("booking %s skipped by optimizer: invalid coordinates", b.ID)
	}

	out := &OptimizeResult{Routes: []*domain.Route{}}
	for _, plan := range res.Plans {
		route, err := s.persistPlan(ctx, plan)
		if errors.Is(err, errPlanStale) {
			s.log.Infof("plan %v dropped: members no longer routable", plan.BookingIDs())
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.log.Errorf("persist route for %v: %v", plan.BookingIDs(), err)
			continue
		}
		out.Routes = append(out.Routes, route)
		out.Stats.AssignedCount += len(route.Drops)
		s.deps.Notifier.Publish(ctx, notify.DriversChannel, EventRouteCreated, routePayload(route))
	}
	out.Stats.EligibleCount = res.Eligible
	out.Stats.UnassignedCount = res.Eligible - out.Stats.AssignedCount

	s.deps.Metrics.OptimizerRun(len(out.Routes), out.Stats.AssignedCount, out.Stats.UnassignedCount, time.Since(started))
	s.log.Infow("optimization finished", map[string]any{
		"routes":     len(out.Routes),
		"eligible":   out.Stats.EligibleCount,
		"assigned":   out.Stats.AssignedCount,
		"unassigned": out.Stats.UnassignedCount,
		"region":     req.Region,
	})
	if out.Stats.UnassignedCount > 0 {
		s.deps.Notifier.Publish(ctx, notify.AdminChannel, EventOptimizationSummary, map[string]any{
			"routesCreated":   len(out.Routes),
			"eligibleCount":   out.Stats.EligibleCount,
			"assignedCount":   out.Stats.AssignedCount,
			"unassignedCount": out.Stats.UnassignedCount,
		})
	}
	return out, nil
}

// persistPlan writes one plan as a route. Members that stopped being
// routable since the read are dropped and the rest re-sequenced and
// re-scored.
func (s *RouteService) persistPlan(ctx context.Context, plan routing.Plan) (*domain.Route, error) {
	var route *domain.Route
	err := withRetry(ctx, s.cfg.MaxAttempts, nil, func() error {
		return s.deps.Store.Run(ctx, repository.CommandFunc(func(ctx context.Context, tx repository.Tx) error {
			now := s.deps.Clock.Now()
			route = nil

			fresh := make([]*domain.Booking, 0, len(plan.Bookings))
			for _, m := range plan.Bookings {
				b, err := tx.Bookings().GetForUpdate(ctx, m.ID)
				if errors.Is(err, repository.ErrNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				if routable(b) {
					fresh = append(fresh, b)
				}
			}
			if len(fresh) < 2 {
				return errPlanStale
			}
			if len(fresh) != len(plan.Bookings) {
				plan = routing.Evaluate(routing.Sequence(fresh), s.cfg.Constraints)
				if plan.Score <= s.cfg.Constraints.MinScore {
					return errPlanStale
				}
			} else {
				plan.Bookings = fresh
			}

			r := &domain.Route{
				ID:        uuid.New().String(),
				Reference: routeReference(now),
				Status:    domain.RouteStatusPlanned,
				CreatedAt: now,
			}
			applyPlan(r, plan, nil, now)
			if err := tx.Routes().Create(ctx, r); err != nil {
				return err
			}
			if err := attachBookings(ctx, tx, r, plan.Bookings, now); err != nil {
				return err
			}
			route = r
			return nil
		}))
	})
	return route, err
}

// routable reports whether a booking can join a route.
func routable(b *domain.Booking) bool {
	return b.Status == domain.BookingStatusConfirmed &&
		b.RouteID == "" &&
		b.DriverID == "" &&
		b.HasValidCoordinates()
}

// applyPlan copies the plan's metrics and stop order onto r. Existing drop
// IDs are reused for bookings already on the route.
func applyPlan(r *domain.Route, plan routing.Plan, existing map[string]domain.Drop, now time.Time) {
	drops := make([]domain.Drop, 0, len(plan.Bookings))
	for _, b := range plan.Bookings {
		d, ok := existing[b.ID]
		if !ok {
			d = domain.Drop{ID: uuid.New().String(), BookingID: b.ID, Leg: domain.DropLegPickup}
		}
		d.RouteID = r.ID
		d.Lat, d.Lng = b.PickupLat, b.PickupLng
		d.WindowStart, d.WindowEnd = b.WindowStart, b.WindowEnd
		d.Status = domain.DropStatusFor(b.Status)
		drops = append(drops, d)
	}
	r.Drops = drops
	r.Resequence()
	r.TotalDistanceMiles = plan.DistanceMiles
	r.TotalDurationMinutes = plan.DurationMinutes
	r.TotalValue = plan.TotalValue
	r.OptimizationScore = plan.Score
	r.WindowStart, r.WindowEnd = plan.WindowStart, plan.WindowEnd
	r.UpdatedAt = now
}

// attachBookings stamps route membership on every member in stop order.
func attachBookings(ctx context.Context, tx repository.Tx, r *domain.Route, members []*domain.Booking, now time.Time) error {
	for i, b := range members {
		b.RouteID = r.ID
		b.DeliverySequence = i + 1
		b.OrderType = domain.OrderTypeMultiDrop
		b.UpdatedAt = now
		if err := tx.Bookings().Update(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

func routeReference(now time.Time) string {
	return fmt.Sprintf("RT-%s-%s", now.Format("20060102"), strings.ToUpper(uuid.New().String()[:6]))
}

// EditAction is a route membership change.
type EditAction string

const (
	EditAdd     EditAction = "add"
	EditRemove  EditAction = "remove"
	EditReorder EditAction = "reorder"
)

// EditResult is the outcome of EditRoute. Route is nil when Deleted is set.
type EditResult struct {
	Route   *domain.Route
	Deleted bool
}

// EditRoute adds, removes or reorders bookings on a route that has no
// driver yet. Add and remove re-sequence the stops; reorder keeps the given
// order. Every edit re-scores the route, and a route left empty is deleted.
func (s *RouteService) EditRoute(ctx context.Context, routeID string, action EditAction, bookingIDs []string) (*EditResult, error) {
	if routeID == "" {
		return nil, ErrInvalidRouteID
	}
	switch action {
	case EditAdd, EditRemove, EditReorder:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidEditAction, action)
	}
	if len(bookingIDs) == 0 {
		return nil, conflictf(KindInvalidRouteEdit, "no bookings given")
	}
	if dup := firstDuplicate(bookingIDs); dup != "" {
		return nil, conflictf(KindInvalidRouteEdit, "booking %s listed twice", dup)
	}

	var result *EditResult
	err := withRetry(ctx, s.cfg.MaxAttempts, nil, func() error {
		return s.deps.Store.Run(ctx, repository.CommandFunc(func(ctx context.Context, tx repository.Tx) error {
			var err error
			result, err = s.editInTx(ctx, tx, routeID, action, bookingIDs, s.deps.Clock.Now())
			return err
		}))
	})
	if err != nil {
		return nil, err
	}

	if result.Deleted {
		s.log.Infof("route %s deleted after %s", routeID, action)
		s.deps.Notifier.Publish(ctx, notify.AdminChannel, EventRouteDeleted, map[string]any{"routeId": routeID})
		return result, nil
	}
	s.log.Infof("route %s edited: %s %v", routeID, action, bookingIDs)
	s.deps.Notifier.Publish(ctx, notify.AdminChannel, EventRouteUpdated, routePayload(result.Route))
	return result, nil
}

func (s *RouteService) editInTx(ctx context.Context, tx repository.Tx, routeID string, action EditAction, ids []string, now time.Time) (*EditResult, error) {
	route, err := tx.Routes().GetForUpdate(ctx, routeID)
	if err != nil {
		return nil, err
	}
	if route.Status.IsTerminal() {
		return nil, conflictf(KindTerminalStateViolation, "route %s is %s", routeID, route.Status)
	}
	if !route.Status.Assignable() {
		return nil, conflictf(KindInvalidRouteEdit, "route %s is %s", routeID, route.Status)
	}

	existing := make(map[string]domain.Drop, len(route.Drops))
	members := make(map[string]*domain.Booking, len(route.Drops))
	for _, d := range route.Drops {
		b, err := tx.Bookings().GetForUpdate(ctx, d.BookingID)
		if err != nil {
			return nil, fmt.Errorf("load route member %s: %w", d.BookingID, err)
		}
		existing[d.BookingID] = d
		members[d.BookingID] = b
	}

	var ordered []*domain.Booking
	switch action {
	case EditAdd:
		ordered = make([]*domain.Booking, 0, len(members)+len(ids))
		for _, id := range route.BookingIDs() {
			ordered = append(ordered, members[id])
		}
		for _, id := range ids {
			if _, ok := members[id]; ok {
				return nil, conflictf(KindInvalidRouteEdit, "booking %s is already on route %s", id, routeID)
			}
			b, err := tx.Bookings().GetForUpdate(ctx, id)
			if errors.Is(err, repository.ErrNotFound) {
				return nil, conflictf(KindInvalidRouteEdit, "booking %s not found", id)
			}
			if err != nil {
				return nil, err
			}
			if !routable(b) {
				return nil, conflictf(KindInvalidRouteEdit, "booking %s cannot join a route", id)
			}
			ordered = append(ordered, b)
		}
		ordered = routing.Sequence(ordered)

	case EditRemove:
		drop := make(map[string]bool, len(ids))
		for _, id := range ids {
			b, ok := members[id]
			if !ok {
				return nil, conflictf(KindInvalidRouteEdit, "booking %s is not on route %s", id, routeID)
			}
			drop[id] = true
			b.ClearRoute(now)
			if err := tx.Bookings().Update(ctx, b); err != nil {
				return nil, err
			}
		}
		for _, id := range route.BookingIDs() {
			if !drop[id] {
				ordered = append(ordered, members[id])
			}
		}
		if len(ordered) == 0 {
			if err := tx.Routes().Delete(ctx, routeID); err != nil {
				return nil, err
			}
			return &EditResult{Deleted: true}, nil
		}
		ordered = routing.Sequence(ordered)

	case EditReorder:
		if len(ids) != len(members) {
			return nil, conflictf(KindInvalidRouteEdit, "reorder must list all %d bookings of route %s", len(members), routeID)
		}
		ordered = make([]*domain.Booking, 0, len(ids))
		for _, id := range ids {
			b, ok := members[id]
			if !ok {
				return nil, conflictf(KindInvalidRouteEdit, "booking %s is not on route %s", id, routeID)
			}
			ordered = append(ordered, b)
		}
	}

	plan := routing.Evaluate(ordered, s.cfg.Constraints)
	applyPlan(route, plan, existing, now)
	if err := tx.Routes().Update(ctx, route); err != nil {
		return nil, err
	}
	if err := attachBookings(ctx, tx, route, ordered, now); err != nil {
		return nil, err
	}
	return &EditResult{Route: route}, nil
}

func firstDuplicate(ids []string) string {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return id
		}
		seen[id] = true
	}
	return ""
}

// AssignRoute hands every drop of a planned route to one driver. Each drop
// gets an accepted assignment and one unit of the driver's capacity.
func (s *RouteService) AssignRoute(ctx context.Context, routeID, driverID string) (*domain.Route, error) {
	if routeID == "" {
		return nil, ErrInvalidRouteID
	}
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}

	var out *domain.Route
	err := withRetry(ctx, s.cfg.MaxAttempts, nil, func() error {
		return s.deps.Store.Run(ctx, repository.CommandFunc(func(ctx context.Context, tx repository.Tx) error {
			var err error
			out, err = s.assignInTx(ctx, tx, routeID, driverID, s.deps.Clock.Now())
			return err
		}))
	})
	if err != nil {
		return nil, err
	}

	s.log.Infof("route %s assigned to driver %s with %d drops", out.ID, driverID, len(out.Drops))
	s.deps.Notifier.Publish(ctx, notify.DriverChannel(driverID), EventRouteAssigned, routePayload(out))
	return out, nil
}

func (s *RouteService) assignInTx(ctx context.Context, tx repository.Tx, routeID, driverID string, now time.Time) (*domain.Route, error) {
	route, err := tx.Routes().GetForUpdate(ctx, routeID)
	if err != nil {
		return nil, err
	}
	if route.Status.IsTerminal() {
		return nil, conflictf(KindTerminalStateViolation, "route %s is %s", routeID, route.Status)
	}
	if !route.Status.Assignable() {
		return nil, conflictf(KindInvalidTransition, "route %s is already %s", routeID, route.Status)
	}

	driver, err := tx.Drivers().GetByID(ctx, driverID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, conflictf(KindDriverIneligible, "driver %s not found", driverID)
	}
	if err != nil {
		return nil, err
	}
	if !driver.IsCompliant(now) {
		return nil, conflictf(KindDriverIneligible, "driver %s is not compliant", driverID)
	}
	n := len(route.Drops)
	el, err := s.capacity.CheckUnits(ctx, tx, driverID, n, true)
	if err != nil {
		return nil, err
	}
	if !el.Eligible {
		return nil, conflictf(KindDriverIneligible, "driver %s: %s", driverID, el.Reason)
	}

	for i := range route.Drops {
		d := &route.Drops[i]
		b, err := tx.Bookings().GetForUpdate(ctx, d.BookingID)
		if err != nil {
			return nil, fmt.Errorf("load route member %s: %w", d.BookingID, err)
		}
		if b.Status != domain.BookingStatusConfirmed || b.DriverID != "" || b.RouteID != route.ID {
			return nil, conflictf(KindNotAvailable, "booking %s on route %s is no longer available", b.ID, routeID)
		}
		a := &domain.Assignment{
			ID:         uuid.New().String(),
			BookingID:  b.ID,
			DriverID:   driverID,
			Status:     domain.AssignmentAccepted,
			Source:     domain.SourceRoute,
			Score:      b.Value,
			CreatedAt:  now,
			AcceptedAt: now,
		}
		if err := tx.Assignments().Create(ctx, a); err != nil {
			return nil, err
		}
		b.DriverID = driverID
		if err := b.Transition(domain.BookingStatusAssigned, now); err != nil {
			return nil, transitionConflict(err)
		}
		if err := tx.Bookings().Update(ctx, b); err != nil {
			return nil, err
		}
		d.Status = domain.DropStatusFor(b.Status)
	}
	if err := s.capacity.Reserve(ctx, tx, driverID, n); err != nil {
		if errors.Is(err, ErrCapacityExceeded) {
			return nil, conflictf(KindDriverIneligible, "driver %s: %s", driverID, ReasonInsufficientCap)
		}
		return nil, err
	}

	route.DriverID = driverID
	if err := route.Transition(domain.RouteStatusAssigned, now); err != nil {
		return nil, transitionConflict(err)
	}
	if err := tx.Routes().Update(ctx, route); err != nil {
		return nil, err
	}
	return route, nil
}

// DeclineRoute hands an assigned route back. Every open drop assignment of
// the driver is declined, the driver's capacity released and the route
// returned to planned with its bookings confirmed and unheld.
func (s *RouteService) DeclineRoute(ctx context.Context, routeID, reason string) (*domain.Route, error) {
	if routeID == "" {
		return nil, ErrInvalidRouteID
	}

	var out *domain.Route
	var prev string
	err := withRetry(ctx, s.cfg.MaxAttempts, nil, func() error {
		return s.deps.Store.Run(ctx, repository.CommandFunc(func(ctx context.Context, tx repository.Tx) error {
			var err error
			out, prev, err = s.unassignInTx(ctx, tx, routeID, reason, s.deps.Clock.Now())
			return err
		}))
	})
	if err != nil {
		return nil, err
	}

	s.log.Infof("route %s declined by driver %s: %s", routeID, prev, reason)
	payload := routePayload(out)
	payload["driverId"] = prev
	payload["reason"] = reason
	s.deps.Notifier.Publish(ctx, notify.AdminChannel, EventRouteDeclined, payload)
	s.deps.Notifier.Publish(ctx, notify.DriversChannel, EventRouteCreated, routePayload(out))
	return out, nil
}

// ReassignRoute gives the route to driverID. An assigned route is handed
// back by its current driver first; both steps commit together.
func (s *RouteService) ReassignRoute(ctx context.Context, routeID, driverID string) (*domain.Route, error) {
	if routeID == "" {
		return nil, ErrInvalidRouteID
	}
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}

	var out *domain.Route
	var prev string
	err := withRetry(ctx, s.cfg.MaxAttempts, nil, func() error {
		return s.deps.Store.Run(ctx, repository.CommandFunc(func(ctx context.Context, tx repository.Tx) error {
			now := s.deps.Clock.Now()
			prev = ""
			current, err := tx.Routes().GetForUpdate(ctx, routeID)
			if err != nil {
				return err
			}
			if current.Status == domain.RouteStatusAssigned {
				if current.DriverID == driverID {
					return conflictf(KindInvalidTransition, "route %s is already assigned to driver %s", routeID, driverID)
				}
				if _, prev, err = s.unassignInTx(ctx, tx, routeID, "reassigned", now); err != nil {
					return err
				}
			}
			out, err = s.assignInTx(ctx, tx, routeID, driverID, now)
			return err
		}))
	})
	if err != nil {
		return nil, err
	}

	s.log.Infof("route %s reassigned from driver %q to %s", routeID, prev, driverID)
	if prev != "" {
		payload := routePayload(out)
		payload["previousDriverId"] = prev
		s.deps.Notifier.Publish(ctx, notify.AdminChannel, EventRouteReassigned, payload)
		s.deps.Notifier.Publish(ctx, notify.DriverChannel(prev), EventRouteReassigned, payload)
	}
	s.deps.Notifier.Publish(ctx, notify.DriverChannel(driverID), EventRouteAssigned, routePayload(out))
	return out, nil
}

// unassignInTx returns an assigned route to planned and reports the driver
// it was taken from. Drops already under way block the hand-back.
func (s *RouteService) unassignInTx(ctx context.Context, tx repository.Tx, routeID, reason string, now time.Time) (*domain.Route, string, error) {
	route, err := tx.Routes().GetForUpdate(ctx, routeID)
	if err != nil {
		return nil, "", err
	}
	if route.Status.IsTerminal() {
		return nil, "", conflictf(KindTerminalStateViolation, "route %s is %s", routeID, route.Status)
	}
	if route.Status != domain.RouteStatusAssigned {
		return nil, "", conflictf(KindInvalidTransition, "route %s is %s", routeID, route.Status)
	}

	driverID := route.DriverID
	released := 0
	for i := range route.Drops {
		d := &route.Drops[i]
		b, err := tx.Bookings().GetForUpdate(ctx, d.BookingID)
		if err != nil {
			return nil, "", fmt.Errorf("load route member %s: %w", d.BookingID, err)
		}
		open, err := tx.Assignments().ListOpenByBooking(ctx, b.ID)
		if err != nil {
			return nil, "", err
		}
		for _, a := range open {
			if a.Source != domain.SourceRoute || a.DriverID != driverID {
				continue
			}
			if err := a.Transition(domain.AssignmentDeclined, now); err != nil {
				return nil, "", transitionConflict(err)
			}
			a.Reason = reason
			if err := tx.Assignments().Update(ctx, a); err != nil {
				return nil, "", err
			}
			released++
		}
		if b.DriverID == driverID {
			b.DriverID = ""
			if b.Status != domain.BookingStatusConfirmed {
				if err := b.Transition(domain.BookingStatusConfirmed, now); err != nil {
					return nil, "", transitionConflict(err)
				}
			}
			b.UpdatedAt = now
			if err := tx.Bookings().Update(ctx, b); err != nil {
				return nil, "", err
			}
		}
		d.Status = domain.DropStatusFor(b.Status)
	}
	if released > 0 {
		if err := s.capacity.Release(ctx, tx, driverID, released); err != nil {
			return nil, "", err
		}
	}

	route.DriverID = ""
	if err := route.Transition(domain.RouteStatusPlanned, now); err != nil {
		return nil, "", transitionConflict(err)
	}
	if err := tx.Routes().Update(ctx, route); err != nil {
		return nil, "", err
	}
	return route, driverID, nil
}

// detachDrop takes bookingID's stop off the route and re-sequences and
// re-scores the stops left. A route left without stops is deleted; an active
// route whose remaining stops are all done is completed.
func detachDrop(ctx context.Context, tx repository.Tx, routeID, bookingID string, c routing.Constraints, now time.Time) error {
	route, err := tx.Routes().GetForUpdate(ctx, routeID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	existing := make(map[string]domain.Drop, len(route.Drops))
	remaining := make([]*domain.Booking, 0, len(route.Drops))
	for _, d := range route.Drops {
		if d.BookingID == bookingID {
			continue
		}
		b, err := tx.Bookings().GetForUpdate(ctx, d.BookingID)
		if err != nil {
			return fmt.Errorf("load route member %s: %w", d.BookingID, err)
		}
		existing[d.BookingID] = d
		remaining = append(remaining, b)
	}
	if len(remaining) == 0 {
		return tx.Routes().Delete(ctx, routeID)
	}

	applyPlan(route, routing.Evaluate(remaining, c), existing, now)
	done := true
	for _, d := range route.Drops {
		if d.Status != domain.DropStatusCompleted {
			done = false
		}
	}
	if done && route.Status == domain.RouteStatusActive {
		if err := route.Transition(domain.RouteStatusCompleted, now); err != nil {
			return transitionConflict(err)
		}
	}
	if err := tx.Routes().Update(ctx, route); err != nil {
		return err
	}
	return attachBookings(ctx, tx, route, remaining, now)
}

// GetRoute returns a route with its drops.
func (s *RouteService) GetRoute(ctx context.Context, routeID string) (*domain.Route, error) {
	if routeID == "" {
		return nil, ErrInvalidRouteID
	}
	var out *domain.Route
	err := s.deps.Store.Run(ctx, repository.CommandFunc(func(ctx context.Context, tx repository.Tx) error {
		var err error
		out, err = tx.Routes().GetByID(ctx, routeID)
		return err
	}))
	return out, err
}

func routePayload(r *domain.Route) map[string]any {
	return map[string]any{
		"routeId":       r.ID,
		"reference":     r.Reference,
		"status":        string(r.Status),
		"drops":         len(r.Drops),
		"distanceMiles": r.TotalDistanceMiles,
		"totalValue":    r.TotalValue,
		"score":         r.OptimizationScore,
		"windowStart":   r.WindowStart,
		"windowEnd":     r.WindowEnd,
	}
}
