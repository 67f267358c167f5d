package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/notify"
	"dispatch/internal/repository/memory"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// Manchester city centre.
const baseLat, baseLng = 53.4808, -2.2426

// ──────────────────────────────────────────────
// MANUAL CLOCK
// ──────────────────────────────────────────────

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock(at time.Time) *manualClock { return &manualClock{now: at} }

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ──────────────────────────────────────────────
// RECORDING NOTIFIER
// ──────────────────────────────────────────────

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (n *recordingNotifier) Publish(_ context.Context, channel, event string, payload map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, notify.Message{Channel: channel, Event: event, Payload: payload})
}

func (n *recordingNotifier) Events(event string) []notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Message
	for _, m := range n.msgs {
		if m.Event == event {
			out = append(out, m)
		}
	}
	return out
}

func (n *recordingNotifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = nil
}

// ──────────────────────────────────────────────
// FIXTURE
// ──────────────────────────────────────────────

type fixture struct {
	store    *memory.Store
	clock    *manualClock
	notifier *recordingNotifier
	deps     Deps
	capacity *CapacityTracker
	claims   *ClaimService
	routes   *RouteService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.NewStore(),
		clock:    newManualClock(t0),
		notifier: &recordingNotifier{},
	}
	f.deps = Deps{Store: f.store, Notifier: f.notifier, Clock: f.clock}
	f.capacity = NewCapacityTracker(f.deps)
	f.claims = NewClaimService(f.deps, f.capacity, nil, DefaultClaimConfig())
	f.routes = NewRouteService(f.deps, f.capacity, DefaultRouteConfig())
	return f
}

// driver seeds a compliant, online driver.
func (f *fixture) driver(id string, maxDrops int, multiDrop bool) {
	f.store.PutDriver(&domain.Driver{
		ID:               id,
		Name:             "Driver " + id,
		Status:           domain.DriverStatusActive,
		OnboardingStatus: domain.OnboardingApproved,
		Documents: []domain.ComplianceDocument{
			{Type: "licence", Required: true, ExpiresAt: t0.AddDate(1, 0, 0)},
		},
	})
	f.store.PutAvailability(&domain.DriverAvailability{
		DriverID:           id,
		Status:             domain.AvailabilityOnline,
		MaxConcurrentDrops: maxDrops,
		MultiDropCapable:   multiDrop,
	})
}

// booking seeds a confirmed, multi-drop eligible booking near the city
// centre, offset north by dLat degrees.
func (f *fixture) booking(id string, dLat float64, mods ...func(*domain.Booking)) *domain.Booking {
	b := &domain.Booking{
		ID:                id,
		Reference:         "BK-" + id,
		Status:            domain.BookingStatusConfirmed,
		WindowStart:       t0.Add(2 * time.Hour),
		WindowEnd:         t0.Add(6 * time.Hour),
		PickupLat:         baseLat + dLat,
		PickupLng:         baseLng,
		PickupPostcode:    "M1 1AA",
		DropoffLat:        baseLat + dLat + 0.02,
		DropoffLng:        baseLng + 0.02,
		DropoffPostcode:   "M4 5BB",
		Value:             120,
		Priority:          domain.PriorityNormal,
		MultiDropEligible: true,
		OrderType:         domain.OrderTypeSingle,
		LoadUnits:         2,
		CreatedAt:         t0,
		UpdatedAt:         t0,
	}
	for _, m := range mods {
		m(b)
	}
	f.store.PutBooking(b)
	return b
}
