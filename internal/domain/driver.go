package domain

import (
	"strings"
	"time"
)

// DriverStatus represents whether a driver account can take work at all.
type DriverStatus string

const (
	DriverStatusActive   DriverStatus = "active"
	DriverStatusInactive DriverStatus = "inactive"
)

// OnboardingStatus is the outcome of the driver's onboarding review.
type OnboardingStatus string

const (
	OnboardingPending   OnboardingStatus = "pending"
	OnboardingApproved  OnboardingStatus = "approved"
	OnboardingRejected  OnboardingStatus = "rejected"
	OnboardingSuspended OnboardingStatus = "suspended"
)

// ComplianceDocument is a document the driver holds, such as a licence or insurance.
type ComplianceDocument struct {
	Type      string
	Required  bool
	ExpiresAt time.Time // zero means it never expires
}

// Driver represents a driver in the system.
type Driver struct {
	ID               string
	Name             string
	Status           DriverStatus
	BaseLat          float64
	BaseLng          float64
	VehicleClass     string
	Rating           float64
	OnboardingStatus OnboardingStatus
	Documents        []ComplianceDocument
}

// Clone returns a deep copy of the driver.
func (d *Driver) Clone() *Driver {
	if d == nil {
		return nil
	}
	c := *d
	c.Documents = append([]ComplianceDocument(nil), d.Documents...)
	return &c
}

// IsCompliant reports whether the driver is active, approved and holds no
// expired required document at now.
func (d *Driver) IsCompliant(now time.Time) bool {
	if d.Status != DriverStatusActive || d.OnboardingStatus != OnboardingApproved {
		return false
	}
	for _, doc := range d.Documents {
		if doc.Required && !doc.ExpiresAt.IsZero() && !now.Before(doc.ExpiresAt) {
			return false
		}
	}
	return true
}

// AvailabilityStatus is the driver's self-reported working state.
type AvailabilityStatus string

const (
	AvailabilityOnline  AvailabilityStatus = "online"
	AvailabilityOffline AvailabilityStatus = "offline"
	AvailabilityBreak   AvailabilityStatus = "break"
)

// Valid reports whether s is a known availability status.
func (s AvailabilityStatus) Valid() bool {
	switch s {
	case AvailabilityOnline, AvailabilityOffline, AvailabilityBreak:
		return true
	}
	return false
}

// DriverAvailability tracks a driver's working state and concurrent load.
// CurrentCapacityUsed stays within [0, MaxConcurrentDrops].
type DriverAvailability struct {
	DriverID            string
	Status              AvailabilityStatus
	BreakUntil          time.Time // zero when no break is scheduled
	CurrentCapacityUsed int
	MaxConcurrentDrops  int
	MultiDropCapable    bool
	PreferredAreas      []string // postcode areas, e.g. "M1", "SW1A"
	UpdatedAt           time.Time
}

// Clone returns a deep copy of the availability record.
func (a *DriverAvailability) Clone() *DriverAvailability {
	if a == nil {
		return nil
	}
	c := *a
	c.PreferredAreas = append([]string(nil), a.PreferredAreas...)
	return &c
}

// OnBreak reports whether the driver is inside a break window at now.
func (a *DriverAvailability) OnBreak(now time.Time) bool {
	return !a.BreakUntil.IsZero() && now.Before(a.BreakUntil)
}

// RemainingCapacity returns how many more concurrent drops fit.
func (a *DriverAvailability) RemainingCapacity() int {
	if r := a.MaxConcurrentDrops - a.CurrentCapacityUsed; r > 0 {
		return r
	}
	return 0
}

// Prefers reports whether area is one of the driver's preferred service areas.
// A driver without preferences serves everywhere.
func (a *DriverAvailability) Prefers(area string) bool {
	if len(a.PreferredAreas) == 0 {
		return true
	}
	for _, p := range a.PreferredAreas {
		if strings.EqualFold(p, area) {
			return true
		}
	}
	return false
}
