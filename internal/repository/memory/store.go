// Package memory provides an in-process repository.Transactor. Transactions
// run one at a time under a single mutex, which makes them trivially
// serializable, and a failed command restores the snapshot taken before it ran.
package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

// Store is an in-memory implementation of repository.Transactor.
type Store struct {
	mu sync.Mutex
	st *state

	// Counters for verification
	RunCount    int32
	CommitCount int32

	// Conflict injection: the next n runs fail with repository.ErrConflict
	// before executing their command.
	conflicts int32
}

type state struct {
	bookings     map[string]*domain.Booking
	drivers      map[string]*domain.Driver
	availability map[string]*domain.DriverAvailability
	assignments  map[string]*domain.Assignment
	routes       map[string]*domain.Route
	// insertion order of assignments, for stable listing
	assignmentOrder []string
}

var _ repository.Transactor = (*Store)(nil)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{st: newState()}
}

func newState() *state {
	return &state{
		bookings:     make(map[string]*domain.Booking),
		drivers:      make(map[string]*domain.Driver),
		availability: make(map[string]*domain.DriverAvailability),
		assignments:  make(map[string]*domain.Assignment),
		routes:       make(map[string]*domain.Route),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.bookings {
		c.bookings[k] = v.Clone()
	}
	for k, v := range s.drivers {
		c.drivers[k] = v.Clone()
	}
	for k, v := range s.availability {
		c.availability[k] = v.Clone()
	}
	for k, v := range s.assignments {
		c.assignments[k] = v.Clone()
	}
	for k, v := range s.routes {
		c.routes[k] = v.Clone()
	}
	c.assignmentOrder = append([]string(nil), s.assignmentOrder...)
	return c
}

// Run executes cmd atomically. Any error rolls every change back.
func (s *Store) Run(ctx context.Context, cmd repository.Command) error {
	atomic.AddInt32(&s.RunCount, 1)
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if atomic.LoadInt32(&s.conflicts) > 0 {
		atomic.AddInt32(&s.conflicts, -1)
		return repository.ErrConflict
	}

	snapshot := s.st.clone()
	if err := cmd.Execute(ctx, &tx{st: s.st}); err != nil {
		s.st = snapshot
		return err
	}
	atomic.AddInt32(&s.CommitCount, 1)
	return nil
}

// FailNext makes the next n runs fail with repository.ErrConflict.
func (s *Store) FailNext(n int) {
	atomic.StoreInt32(&s.conflicts, int32(n))
}

// tx exposes the live state to a single command. It is only valid while
// the store mutex is held.
type tx struct {
	st *state
}

func (t *tx) Bookings() repository.BookingRepository { return &bookingRepo{st: t.st} }
func (t *tx) Drivers() repository.DriverRepository { return &driverRepo{st: t.st} }
func (t *tx) Availability() repository.AvailabilityRepository { return &availabilityRepo{st: t.st} }
func (t *tx) Assignments() repository.AssignmentRepository { return &assignmentRepo{st: t.st} }
func (t *tx) Routes() repository.RouteRepository { return &routeRepo{st: t.st} }

// ──────────────────────────────────────────────
// SEEDING AND INSPECTION HELPERS
// ──────────────────────────────────────────────

// PutBooking inserts or replaces a booking outside any transaction.
func (s *Store) PutBooking(b *domain.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.bookings[b.ID] = b.Clone()
}

// PutDriver inserts or replaces a driver outside any transaction.
func (s *Store) PutDriver(d *domain.Driver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.drivers[d.ID] = d.Clone()
}

// PutAvailability inserts or replaces a driver availability row.
func (s *Store) PutAvailability(a *domain.DriverAvailability) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.availability[a.DriverID] = a.Clone()
}

// Booking returns a copy of a booking, or nil.
func (s *Store) Booking(id string) *domain.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.bookings[id].Clone()
}

// Availability returns a copy of a driver's availability, or nil.
func (s *Store) Availability(driverID string) *domain.DriverAvailability {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.availability[driverID].Clone()
}

// Assignment returns a copy of an assignment, or nil.
func (s *Store) Assignment(id string) *domain.Assignment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.assignments[id].Clone()
}

// Route returns a copy of a route, or nil.
func (s *Store) Route(id string) *domain.Route {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.routes[id].Clone()
}

// Assignments returns copies of all assignments in creation order.
func (s *Store) Assignments() []*domain.Assignment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Assignment, 0, len(s.st.assignmentOrder))
	for _, id := range s.st.assignmentOrder {
		out = append(out, s.st.assignments[id].Clone())
	}
	return out
}

// Routes returns copies of all routes.
func (s *Store) Routes() []*domain.Route {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Route, 0, len(s.st.routes))
	for _, r := range s.st.routes {
		out = append(out, r.Clone())
	}
	return out
}
