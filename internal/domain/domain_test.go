package domain

import (
	"errors"
	"testing"
	"time"
)

var now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestBookingTransitions(t *testing.T) {
	testCases := []struct {
		from, to BookingStatus
		ok       bool
	}{
		{BookingStatusDraft, BookingStatusConfirmed, true},
		{BookingStatusConfirmed, BookingStatusAssigned, true},
		{BookingStatusAssigned, BookingStatusConfirmed, true},
		{BookingStatusAssigned, BookingStatusInProgress, true},
		{BookingStatusInProgress, BookingStatusCompleted, true},
		{BookingStatusConfirmed, BookingStatusCompleted, false},
		{BookingStatusCompleted, BookingStatusConfirmed, false},
		{BookingStatusCancelled, BookingStatusConfirmed, false},
	}

	for _, tc := range testCases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			b := &Booking{Status: tc.from}
			err := b.Transition(tc.to, now)
			if tc.ok && err != nil {
				t.Fatalf("expected transition to succeed, got %v", err)
			}
			if !tc.ok {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("expected ErrInvalidTransition, got %v", err)
				}
				if b.Status != tc.from {
					t.Errorf("status changed on rejected transition: %s", b.Status)
				}
			}
		})
	}
}

func TestIsExpired(t *testing.T) {
	claim := &Assignment{Status: AssignmentClaimed, ExpiresAt: now}

	if IsExpired(claim, now.Add(-time.Second)) {
		t.Error("claim expired before its deadline")
	}
	if !IsExpired(claim, now) {
		t.Error("claim not expired at its deadline")
	}
	if IsLive(claim, now) {
		t.Error("expired claim reported live")
	}

	accepted := &Assignment{Status: AssignmentAccepted, ExpiresAt: now}
	if IsExpired(accepted, now.Add(time.Hour)) {
		t.Error("accepted assignment must never expire")
	}
	if !IsLive(accepted, now.Add(time.Hour)) {
		t.Error("accepted assignment not live")
	}
}

func TestAssignmentTerminalStatesAreImmutable(t *testing.T) {
	for _, s := range []AssignmentStatus{AssignmentCompleted, AssignmentDeclined, AssignmentCancelled, AssignmentExpired} {
		a := &Assignment{Status: s}
		if err := a.Transition(AssignmentAccepted, now); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s: expected ErrInvalidTransition, got %v", s, err)
		}
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestAssignmentTransitionStampsTimes(t *testing.T) {
	a := &Assignment{Status: AssignmentClaimed}
	if err := a.Transition(AssignmentAccepted, now); err != nil {
		t.Fatal(err)
	}
	if !a.AcceptedAt.Equal(now) {
		t.Errorf("AcceptedAt = %v", a.AcceptedAt)
	}
	if err := a.Transition(AssignmentCompleted, now.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if !a.ClosedAt.Equal(now.Add(time.Hour)) {
		t.Errorf("ClosedAt = %v", a.ClosedAt)
	}
}

func TestDriverCompliance(t *testing.T) {
	d := &Driver{
		Status:           DriverStatusActive,
		OnboardingStatus: OnboardingApproved,
		Documents: []ComplianceDocument{
			{Type: "licence", Required: true, ExpiresAt: now.Add(time.Hour)},
			{Type: "photo", Required: false, ExpiresAt: now.Add(-time.Hour)},
		},
	}
	if !d.IsCompliant(now) {
		t.Fatal("expected compliant driver")
	}
	if d.IsCompliant(now.Add(2 * time.Hour)) {
		t.Error("expired required document should fail compliance")
	}

	d.OnboardingStatus = OnboardingSuspended
	if d.IsCompliant(now) {
		t.Error("suspended driver should not be compliant")
	}
}

func TestRouteResequence(t *testing.T) {
	r := &Route{Drops: []Drop{{BookingID: "c", Sequence: 3}, {BookingID: "a", Sequence: 1}}}
	if r.SequenceIntact() {
		t.Fatal("sequence should be broken")
	}
	r.Resequence()
	if !r.SequenceIntact() {
		t.Fatal("sequence should be 1..N after Resequence")
	}
	if got := r.BookingIDs(); got[0] != "c" || got[1] != "a" {
		t.Errorf("Resequence must keep order, got %v", got)
	}
}

func TestRouteTerminal(t *testing.T) {
	r := &Route{Status: RouteStatusCompleted}
	if !r.Status.IsTerminal() {
		t.Error("completed route should be terminal")
	}
	if err := r.Transition(RouteStatusActive, now); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestRouteHandBack(t *testing.T) {
	r := &Route{Status: RouteStatusAssigned, DriverID: "d1"}
	if err := r.Transition(RouteStatusPlanned, now); err != nil {
		t.Fatalf("assigned route should return to planned: %v", err)
	}
	r.Status = RouteStatusActive
	if err := r.Transition(RouteStatusPlanned, now); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("active route must not return to planned, got %v", err)
	}
}

func TestPostcodeArea(t *testing.T) {
	testCases := map[string]string{
		"M1 1AA":   "M1",
		"sw1a 2aa": "SW1A",
		"":         "",
	}
	for in, want := range testCases {
		if got := PostcodeArea(in); got != want {
			t.Errorf("PostcodeArea(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidCoordinate(t *testing.T) {
	if ValidCoordinate(0, 0) {
		t.Error("0,0 must be treated as missing")
	}
	if ValidCoordinate(91, 0) || ValidCoordinate(0, 181) {
		t.Error("out of range accepted")
	}
	if !ValidCoordinate(53.48, -2.24) {
		t.Error("Manchester rejected")
	}
}
