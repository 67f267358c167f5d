package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"dispatch/internal/app"
	"dispatch/internal/config"
	"dispatch/internal/domain"
	"dispatch/internal/notify"
	"dispatch/internal/repository/memory"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// Manchester city centre.
const baseLat, baseLng = 53.4808, -2.2426

func init() {
	gin.SetMode(gin.TestMode)
}

// ──────────────────────────────────────────────
// CLOCK AND SINK
// ──────────────────────────────────────────────

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

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

type recordingSink struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (s *recordingSink) Send(_ context.Context, msg notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *recordingSink) events(event string) []notify.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []notify.Message
	for _, m := range s.msgs {
		if m.Event == event {
			out = append(out, m)
		}
	}
	return out
}

// ──────────────────────────────────────────────
// HARNESS
// ──────────────────────────────────────────────

// harness is the fully wired core over the in-memory store, driven through
// its HTTP router.
type harness struct {
	t      *testing.T
	app    *app.App
	store  *memory.Store
	clock  *manualClock
	sink   *recordingSink
	router http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cfg := config.Default()
	cfg.Database.Driver = "memory"
	cfg.Redis.Enabled = false

	h := &harness{
		t:     t,
		store: memory.NewStore(),
		clock: &manualClock{now: t0},
		sink:  &recordingSink{},
	}
	a, err := app.NewWithOptions(&cfg, app.Options{Store: h.store, Clock: h.clock, Sinks: []notify.Sink{h.sink}}, nil)
	if err != nil {
		t.Fatalf("wire app: %v", err)
	}
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	h.app = a
	h.router = a.Router()
	return h
}

// flush delivers every queued notification. Nothing can be published after.
func (h *harness) flush() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.app.Dispatcher.Close(ctx); err != nil {
		h.t.Fatalf("flush notifications: %v", err)
	}
}

func (h *harness) driver(id string, maxDrops int, multiDrop bool) {
	h.store.PutDriver(&domain.Driver{
		ID:               id,
		Name:             "Driver " + id,
		Status:           domain.DriverStatusActive,
		OnboardingStatus: domain.OnboardingApproved,
		Documents: []domain.ComplianceDocument{
			{Type: "licence", Required: true, ExpiresAt: t0.AddDate(1, 0, 0)},
		},
	})
	h.store.PutAvailability(&domain.DriverAvailability{
		DriverID:           id,
		Status:             domain.AvailabilityOnline,
		MaxConcurrentDrops: maxDrops,
		MultiDropCapable:   multiDrop,
	})
}

func (h *harness) booking(id string, dLat, dLng float64, priority domain.Priority) {
	h.store.PutBooking(&domain.Booking{
		ID:                id,
		Reference:         "BK-" + id,
		Status:            domain.BookingStatusConfirmed,
		WindowStart:       t0.Add(2 * time.Hour),
		WindowEnd:         t0.Add(4 * time.Hour),
		PickupLat:         baseLat + dLat,
		PickupLng:         baseLng + dLng,
		PickupPostcode:    "M1 1AA",
		DropoffLat:        baseLat + dLat + 0.02,
		DropoffLng:        baseLng + dLng + 0.02,
		DropoffPostcode:   "M4 5BB",
		Value:             150,
		Priority:          priority,
		MultiDropEligible: true,
		OrderType:         domain.OrderTypeSingle,
		CreatedAt:         t0,
		UpdatedAt:         t0,
	})
}

// do sends a JSON request and decodes the JSON response into a map.
func (h *harness) do(method, path string, body any) (int, map[string]any) {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			h.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			h.t.Fatalf("%s %s: decode %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w.Code, out
}

func (h *harness) claim(bookingID, driverID string) (int, map[string]any) {
	return h.do(http.MethodPost, "/v1/bookings/"+bookingID+"/claim", map[string]string{"driver_id": driverID})
}

func (h *harness) optimize() map[string]any {
	h.t.Helper()
	code, body := h.do(http.MethodPost, "/v1/routes/optimize", nil)
	if code != http.StatusOK {
		h.t.Fatalf("optimize: status %d: %v", code, body)
	}
	return body
}

func routesOf(body map[string]any) []map[string]any {
	raw, _ := body["routes"].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		out = append(out, r.(map[string]any))
	}
	return out
}

func stat(body map[string]any, name string) int {
	stats, _ := body["stats"].(map[string]any)
	n, _ := stats[name].(float64)
	return int(n)
}
