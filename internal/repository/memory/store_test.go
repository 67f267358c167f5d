package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func booking(id string) *domain.Booking {
	return &domain.Booking{
		ID:                id,
		Status:            domain.BookingStatusConfirmed,
		WindowStart:       t0.Add(time.Hour),
		WindowEnd:         t0.Add(4 * time.Hour),
		PickupPostcode:    "M1 1AA",
		MultiDropEligible: true,
		OrderType:         domain.OrderTypeSingle,
		CreatedAt:         t0,
	}
}

func TestRun_RollsBackOnError(t *testing.T) {
	s := NewStore()
	s.PutBooking(booking("b1"))

	boom := errors.New("boom")
	err := s.Run(context.Background(), repository.CommandFunc(func(ctx context.Context, tx repository.Tx) error {
		b, err := tx.Bookings().GetForUpdate(ctx, "b1")
		require.NoError(t, err)
		b.DriverID = "d1"
		require.NoError(t, tx.Bookings().Update(ctx, b))
		require.NoError(t, tx.Availability().Upsert(ctx, &domain.DriverAvailability{DriverID: "d1", CurrentCapacityUsed: 1, MaxConcurrentDrops: 2}))
		return boom
	}))

	require.ErrorIs(t, err, boom)
	assert.Empty(t, s.Booking("b1").DriverID)
	assert.Nil(t, s.Availability("d1"))
	assert.EqualValues(t, 0, s.CommitCount)
}

func TestRun_Commits(t *testing.T) {
	s := NewStore()
	s.PutBooking(booking("b1"))

	err := s.Run(context.Background(), repository.CommandFunc(func(ctx context.Context, tx repository.Tx) error {
		b, err := tx.Bookings().GetForUpdate(ctx, "b1")
		if err != nil {
			return err
		}
		b.DriverID = "d1"
		return tx.Bookings().Update(ctx, b)
	}))

	require.NoError(t, err)
	assert.Equal(t, "d1", s.Booking("b1").DriverID)
	assert.EqualValues(t, 1, s.CommitCount)
}

func TestRun_InjectedConflicts(t *testing.T) {
	s := NewStore()
	s.FailNext(2)
	noop := repository.CommandFunc(func(context.Context, repository.Tx) error { return nil })

	assert.ErrorIs(t, s.Run(context.Background(), noop), repository.ErrConflict)
	assert.ErrorIs(t, s.Run(context.Background(), noop), repository.ErrConflict)
	assert.NoError(t, s.Run(context.Background(), noop))
}

func TestRun_CancelledContext(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Run(ctx, repository.CommandFunc(func(context.Context, repository.Tx) error {
		t.Fatal("command must not run")
		return nil
	}))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAssignments_OneOpenPerBooking(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	create := func(id string, status domain.AssignmentStatus) error {
		return s.Run(ctx, repository.CommandFunc(func(ctx context.Context, tx repository.Tx) error {
			return tx.Assignments().Create(ctx, &domain.Assignment{ID: id, BookingID: "b1", DriverID: "d1", Status: status})
		}))
	}

	require.NoError(t, create("a1", domain.AssignmentDeclined))
	require.NoError(t, create("a2", domain.AssignmentClaimed))
	assert.ErrorIs(t, create("a3", domain.AssignmentClaimed), repository.ErrConflict)
	assert.Len(t, s.Assignments(), 2)
}

func TestAssignments_ListExpiredClaims(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	err := s.Run(ctx, repository.CommandFunc(func(ctx context.Context, tx repository.Tx) error {
		repo := tx.Assignments()
		if err := repo.Create(ctx, &domain.Assignment{ID: "a1", BookingID: "b1", Status: domain.AssignmentClaimed, ExpiresAt: t0}); err != nil {
			return err
		}
		if err := repo.Create(ctx, &domain.Assignment{ID: "a2", BookingID: "b2", Status: domain.AssignmentClaimed, ExpiresAt: t0.Add(time.Minute)}); err != nil {
			return err
		}
		return repo.Create(ctx, &domain.Assignment{ID: "a3", BookingID: "b3", Status: domain.AssignmentAccepted, ExpiresAt: t0})
	}))
	require.NoError(t, err)

	var expired []*domain.Assignment
	require.NoError(t, s.Run(ctx, repository.CommandFunc(func(ctx context.Context, tx repository.Tx) error {
		var err error
		expired, err = tx.Assignments().ListExpiredClaims(ctx, t0, 10)
		return err
	})))
	require.Len(t, expired, 1)
	assert.Equal(t, "a1", expired[0].ID)
}

func TestBookings_ListRouteCandidates(t *testing.T) {
	s := NewStore()
	s.PutBooking(booking("b2"))
	s.PutBooking(booking("b1"))

	routed := booking("b3")
	routed.RouteID = "r1"
	s.PutBooking(routed)

	driven := booking("b4")
	driven.DriverID = "d1"
	s.PutBooking(driven)

	notEligible := booking("b5")
	notEligible.MultiDropEligible = false
	s.PutBooking(notEligible)

	elsewhere := booking("b6")
	elsewhere.PickupPostcode = "LS1 4AP"
	s.PutBooking(elsewhere)

	late := booking("b7")
	late.WindowStart = t0.Add(48 * time.Hour)
	s.PutBooking(late)

	var got []*domain.Booking
	require.NoError(t, s.Run(context.Background(), repository.CommandFunc(func(ctx context.Context, tx repository.Tx) error {
		var err error
		got, err = tx.Bookings().ListRouteCandidates(ctx, repository.CandidateFilter{
			WindowFrom:     t0,
			WindowTo:       t0.Add(24 * time.Hour),
			PostcodePrefix: "m1",
		})
		return err
	})))

	require.Len(t, got, 2)
	assert.Equal(t, "b1", got[0].ID)
	assert.Equal(t, "b2", got[1].ID)
}

func TestBookings_ListUnassigned(t *testing.T) {
	s := NewStore()
	old := booking("old")
	old.CreatedAt = t0.Add(-time.Hour)
	s.PutBooking(old)
	s.PutBooking(booking("fresh"))

	claimed := booking("claimed")
	claimed.CreatedAt = t0.Add(-time.Hour)
	claimed.DriverID = "d1"
	s.PutBooking(claimed)

	var got []*domain.Booking
	require.NoError(t, s.Run(context.Background(), repository.CommandFunc(func(ctx context.Context, tx repository.Tx) error {
		var err error
		got, err = tx.Bookings().ListUnassigned(ctx, t0)
		return err
	})))

	require.Len(t, got, 1)
	assert.Equal(t, "old", got[0].ID)
}

func TestRoutes_DeleteMissing(t *testing.T) {
	s := NewStore()
	err := s.Run(context.Background(), repository.CommandFunc(func(ctx context.Context, tx repository.Tx) error {
		return tx.Routes().Delete(ctx, "nope")
	}))
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
