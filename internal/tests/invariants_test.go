package tests

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/service"
)

// ──────────────────────────────────────────────
// EXCLUSIVITY AND CAPACITY UNDER CONCURRENT LOAD
// ──────────────────────────────────────────────

func TestInvariants_ConcurrentLifecycle(t *testing.T) {
	h := newHarness(t)
	const (
		drivers  = 6
		bookings = 20
		workers  = 8
		rounds   = 40
	)
	for i := 0; i < drivers; i++ {
		h.driver(fmt.Sprintf("D%d", i), 1+i%3, false)
	}
	for i := 0; i < bookings; i++ {
		h.booking(fmt.Sprintf("B%d", i), float64(i)*0.001, 0, domain.PriorityNormal)
	}

	ctx := context.Background()
	claims := h.app.Claims

	var wg sync.WaitGroup
	errs := make(chan error, workers*rounds)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for r := 0; r < rounds; r++ {
				bookingID := fmt.Sprintf("B%d", rng.Intn(bookings))
				driverID := fmt.Sprintf("D%d", rng.Intn(drivers))
				a, err := claims.Claim(ctx, bookingID, driverID)
				if err != nil {
					errs <- unexpected(err)
					continue
				}
				switch rng.Intn(4) {
				case 0:
					_, err = claims.Decline(ctx, a.ID, "busy")
				case 1:
					_, err = claims.Cancel(ctx, a.ID, "changed plans")
				case 2:
					if _, err = claims.Accept(ctx, a.ID); err == nil {
						_, err = claims.Complete(ctx, a.ID)
					}
				case 3:
					_, err = claims.Accept(ctx, a.ID)
				}
				errs <- unexpected(err)
			}
		}(int64(w + 1))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}

	checkInvariants(t, h)

	// every open claim lapses; reaping must keep the books balanced
	h.clock.Advance(10 * time.Minute)
	if _, err := claims.ReapExpired(ctx); err != nil {
		t.Fatalf("reap: %v", err)
	}
	checkInvariants(t, h)
	for _, a := range h.store.Assignments() {
		if a.Status == domain.AssignmentClaimed {
			t.Errorf("assignment %s still claimed after reaping", a.ID)
		}
	}
}

// unexpected filters out the business-rule rejections a contended workload
// produces.
func unexpected(err error) error {
	var ce *service.ConflictError
	if err == nil || errors.As(err, &ce) {
		return nil
	}
	return err
}

func checkInvariants(t *testing.T, h *harness) {
	t.Helper()

	openByBooking := map[string]int{}
	openByDriver := map[string]int{}
	for _, a := range h.store.Assignments() {
		if a.Status.IsTerminal() {
			continue
		}
		openByBooking[a.BookingID]++
		openByDriver[a.DriverID]++
	}

	for bookingID, n := range openByBooking {
		if n > 1 {
			t.Errorf("booking %s has %d open assignments", bookingID, n)
		}
		b := h.store.Booking(bookingID)
		if b.DriverID == "" {
			t.Errorf("booking %s has an open assignment but no driver", bookingID)
		}
	}

	for i := 0; i < 6; i++ {
		driverID := fmt.Sprintf("D%d", i)
		avail := h.store.Availability(driverID)
		if avail.CurrentCapacityUsed != openByDriver[driverID] {
			t.Errorf("driver %s capacity used %d, open assignments %d", driverID, avail.CurrentCapacityUsed, openByDriver[driverID])
		}
		if avail.CurrentCapacityUsed > avail.MaxConcurrentDrops {
			t.Errorf("driver %s over capacity: %d > %d", driverID, avail.CurrentCapacityUsed, avail.MaxConcurrentDrops)
		}
	}
}
