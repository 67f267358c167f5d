package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestLockStore_BookingLock(t *testing.T) {
	mr, client := newClient(t)
	store := NewLockStore(client)
	ctx := context.Background()

	token, ok, err := store.AcquireBookingLock(ctx, "b1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, token)

	_, ok, err = store.AcquireBookingLock(ctx, "b1", time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while held")

	// a stale token must not release someone else's lock
	require.NoError(t, store.ReleaseBookingLock(ctx, "b1", "not-mine"))
	assert.True(t, mr.Exists("lock:booking:b1"))

	require.NoError(t, store.ReleaseBookingLock(ctx, "b1", token))
	assert.False(t, mr.Exists("lock:booking:b1"))

	_, ok, err = store.AcquireBookingLock(ctx, "b1", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockStore_BookingLockExpires(t *testing.T) {
	mr, client := newClient(t)
	store := NewLockStore(client)
	ctx := context.Background()

	_, ok, err := store.AcquireBookingLock(ctx, "b1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = store.AcquireBookingLock(ctx, "b1", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockStore_Lease(t *testing.T) {
	mr, client := newClient(t)
	store := NewLockStore(client)
	ctx := context.Background()

	ok, err := store.AcquireLease(ctx, "monitor", "node-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.AcquireLease(ctx, "monitor", "node-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// the holder renews
	mr.FastForward(50 * time.Second)
	ok, err = store.AcquireLease(ctx, "monitor", "node-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Greater(t, mr.TTL("lease:monitor"), 50*time.Second)

	require.NoError(t, store.ReleaseLease(ctx, "monitor", "node-a"))
	ok, err = store.AcquireLease(ctx, "monitor", "node-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCacheStore_MonitorStats(t *testing.T) {
	_, client := newClient(t)
	store := NewCacheStore(client)
	ctx := context.Background()

	got, err := store.GetMonitorStats(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	in := &CachedMonitorStats{
		Instance:        "node-a",
		LastScanAt:      time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		Cycles:          3,
		Breaches:        2,
		BreachesByClass: map[string]int{"urgent": 1, "normal": 1},
	}
	require.NoError(t, store.SetMonitorStats(ctx, in))

	got, err = store.GetMonitorStats(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "node-a", got.Instance)
	assert.True(t, in.LastScanAt.Equal(got.LastScanAt))
	assert.Equal(t, 1, got.BreachesByClass["urgent"])
}
