package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

type bookingRepo struct{ st *state }

func (r *bookingRepo) Create(ctx context.Context, b *domain.Booking) error {
	if _, ok := r.st.bookings[b.ID]; ok {
		return repository.ErrConflict
	}
	r.st.bookings[b.ID] = b.Clone()
	return nil
}

func (r *bookingRepo) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	b, ok := r.st.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return b.Clone(), nil
}

func (r *bookingRepo) GetForUpdate(ctx context.Context, id string) (*domain.Booking, error) {
	return r.GetByID(ctx, id)
}

func (r *bookingRepo) Update(ctx context.Context, b *domain.Booking) error {
	if _, ok := r.st.bookings[b.ID]; !ok {
		return repository.ErrNotFound
	}
	r.st.bookings[b.ID] = b.Clone()
	return nil
}

func (r *bookingRepo) ListRouteCandidates(ctx context.Context, f repository.CandidateFilter) ([]*domain.Booking, error) {
	prefix := strings.ToUpper(strings.TrimSpace(f.PostcodePrefix))
	var out []*domain.Booking
	for _, b := range r.st.bookings {
		if b.Status != domain.BookingStatusConfirmed || b.RouteID != "" || b.DriverID != "" || !b.MultiDropEligible {
			continue
		}
		if b.WindowStart.Before(f.WindowFrom) || b.WindowStart.After(f.WindowTo) {
			continue
		}
		if prefix != "" && !strings.HasPrefix(strings.ToUpper(b.PickupPostcode), prefix) {
			continue
		}
		out = append(out, b.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *bookingRepo) ListUnassigned(ctx context.Context, createdBefore time.Time) ([]*domain.Booking, error) {
	var out []*domain.Booking
	for _, b := range r.st.bookings {
		if b.Status == domain.BookingStatusConfirmed && b.DriverID == "" && b.CreatedAt.Before(createdBefore) {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

type driverRepo struct{ st *state }

func (r *driverRepo) Create(ctx context.Context, d *domain.Driver) error {
	if _, ok := r.st.drivers[d.ID]; ok {
		return repository.ErrConflict
	}
	r.st.drivers[d.ID] = d.Clone()
	return nil
}

func (r *driverRepo) GetByID(ctx context.Context, id string) (*domain.Driver, error) {
	d, ok := r.st.drivers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return d.Clone(), nil
}

type availabilityRepo struct{ st *state }

func (r *availabilityRepo) GetForUpdate(ctx context.Context, driverID string) (*domain.DriverAvailability, error) {
	a, ok := r.st.availability[driverID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return a.Clone(), nil
}

func (r *availabilityRepo) Upsert(ctx context.Context, a *domain.DriverAvailability) error {
	r.st.availability[a.DriverID] = a.Clone()
	return nil
}

type assignmentRepo struct{ st *state }

func isOpen(a *domain.Assignment) bool {
	return a.Status == domain.AssignmentClaimed || a.Status == domain.AssignmentAccepted
}

func (r *assignmentRepo) Create(ctx context.Context, a *domain.Assignment) error {
	if _, ok := r.st.assignments[a.ID]; ok {
		return repository.ErrConflict
	}
	// one open assignment per booking, mirroring the partial unique index
	if isOpen(a) {
		for _, existing := range r.st.assignments {
			if existing.BookingID == a.BookingID && isOpen(existing) {
				return repository.ErrConflict
			}
		}
	}
	r.st.assignments[a.ID] = a.Clone()
	r.st.assignmentOrder = append(r.st.assignmentOrder, a.ID)
	return nil
}

func (r *assignmentRepo) GetForUpdate(ctx context.Context, id string) (*domain.Assignment, error) {
	a, ok := r.st.assignments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return a.Clone(), nil
}

func (r *assignmentRepo) Update(ctx context.Context, a *domain.Assignment) error {
	if _, ok := r.st.assignments[a.ID]; !ok {
		return repository.ErrNotFound
	}
	r.st.assignments[a.ID] = a.Clone()
	return nil
}

func (r *assignmentRepo) list(match func(*domain.Assignment) bool, limit int) []*domain.Assignment {
	var out []*domain.Assignment
	for _, id := range r.st.assignmentOrder {
		a := r.st.assignments[id]
		if !match(a) {
			continue
		}
		out = append(out, a.Clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (r *assignmentRepo) ListOpenByBooking(ctx context.Context, bookingID string) ([]*domain.Assignment, error) {
	return r.list(func(a *domain.Assignment) bool { return a.BookingID == bookingID && isOpen(a) }, 0), nil
}

func (r *assignmentRepo) ListOpenByDriver(ctx context.Context, driverID string) ([]*domain.Assignment, error) {
	return r.list(func(a *domain.Assignment) bool { return a.DriverID == driverID && isOpen(a) }, 0), nil
}

func (r *assignmentRepo) ListExpiredClaims(ctx context.Context, now time.Time, limit int) ([]*domain.Assignment, error) {
	return r.list(func(a *domain.Assignment) bool { return domain.IsExpired(a, now) }, limit), nil
}

type routeRepo struct{ st *state }

func (r *routeRepo) Create(ctx context.Context, rt *domain.Route) error {
	if _, ok := r.st.routes[rt.ID]; ok {
		return repository.ErrConflict
	}
	r.st.routes[rt.ID] = rt.Clone()
	return nil
}

func (r *routeRepo) GetByID(ctx context.Context, id string) (*domain.Route, error) {
	rt, ok := r.st.routes[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return rt.Clone(), nil
}

func (r *routeRepo) GetForUpdate(ctx context.Context, id string) (*domain.Route, error) {
	return r.GetByID(ctx, id)
}

func (r *routeRepo) Update(ctx context.Context, rt *domain.Route) error {
	if _, ok := r.st.routes[rt.ID]; !ok {
		return repository.ErrNotFound
	}
	r.st.routes[rt.ID] = rt.Clone()
	return nil
}

func (r *routeRepo) Delete(ctx context.Context, id string) error {
	if _, ok := r.st.routes[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.st.routes, id)
	return nil
}
