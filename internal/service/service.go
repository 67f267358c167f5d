package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"dispatch/internal/metrics"
	"dispatch/internal/repository"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Deps are the collaborators shared by the services.
type Deps struct {
	Store    repository.Transactor
	Notifier Notifier
	Clock    Clock
	Metrics  metrics.Recorder
}

func (d Deps) withDefaults() Deps {
	if d.Notifier == nil {
		d.Notifier = NopNotifier{}
	}
	if d.Clock == nil {
		d.Clock = SystemClock{}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.Nop{}
	}
	return d
}

// Retry timings for transactions that lost a race.
const (
	retryInitialInterval = 20 * time.Millisecond
	retryMaxInterval     = 200 * time.Millisecond
)

// withRetry runs op up to attempts times while it fails with
// repository.ErrConflict, backing off exponentially between attempts. Any
// other error stops immediately. onRetry is called before each new attempt.
func withRetry(ctx context.Context, attempts int, onRetry func(), op func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	return backoff.RetryNotify(func() error {
		err := op()
		if err == nil || errors.Is(err, repository.ErrConflict) {
			return err
		}
		return backoff.Permanent(err)
	}, policy, func(error, time.Duration) {
		if onRetry != nil {
			onRetry()
		}
	})
}
