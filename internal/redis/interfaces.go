package redis

import (
	"context"
	"time"
)

// BookingLocker guards a booking while a claim transaction runs.
type BookingLocker interface {
	AcquireBookingLock(ctx context.Context, bookingID string, ttl time.Duration) (string, bool, error)
	ReleaseBookingLock(ctx context.Context, bookingID, token string) error
}

// LeaseStore elects a single holder for periodic work across instances.
type LeaseStore interface {
	AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, holder string) error
}

// StatsCache shares monitor snapshots across instances.
type StatsCache interface {
	GetMonitorStats(ctx context.Context) (*CachedMonitorStats, error)
	SetMonitorStats(ctx context.Context, stats *CachedMonitorStats) error
}

// Ensure concrete types implement interfaces.
var (
	_ BookingLocker = (*LockStore)(nil)
	_ LeaseStore    = (*LockStore)(nil)
	_ StatsCache    = (*CacheStore)(nil)
)
