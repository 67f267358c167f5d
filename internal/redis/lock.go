package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes a key only while it still holds the caller's token,
// so an expired lock re-acquired by someone else is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends a lease only for its current holder.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// LockStore handles distributed locking in Redis.
type LockStore struct {
	client *redis.Client
}

// NewLockStore creates a new LockStore.
func NewLockStore(client *redis.Client) *LockStore {
	return &LockStore{client: client}
}

func bookingLockKey(bookingID string) string {
	return fmt.Sprintf("lock:booking:%s", bookingID)
}

func leaseKey(name string) string {
	return fmt.Sprintf("lease:%s", name)
}

// AcquireBookingLock attempts to lock a booking for a claim. It returns a
// token to release the lock with; ok is false when someone else holds it.
func (s *LockStore) AcquireBookingLock(ctx context.Context, bookingID string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, bookingLockKey(bookingID), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// ReleaseBookingLock releases the booking lock if token still owns it.
func (s *LockStore) ReleaseBookingLock(ctx context.Context, bookingID, token string) error {
	return releaseScript.Run(ctx, s.client, []string{bookingLockKey(bookingID)}, token).Err()
}

// AcquireLease acquires or renews a named lease for holder. It returns true
// while holder owns the lease.
func (s *LockStore) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	key := leaseKey(name)
	ok, err := s.client.SetNX(ctx, key, holder, ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	renewed, err := renewScript.Run(ctx, s.client, []string{key}, holder, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return renewed == 1, nil
}

// ReleaseLease gives up a lease held by holder.
func (s *LockStore) ReleaseLease(ctx context.Context, name, holder string) error {
	return releaseScript.Run(ctx, s.client, []string{leaseKey(name)}, holder).Err()
}
