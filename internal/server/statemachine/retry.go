package statemachine

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy is applied uniformly to every step kind.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Factor      float64
	Cap         time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Base:        time.Second,
		Factor:      2,
		Cap:         10 * time.Second,
	}
}

// Exhausted reports whether a job that has run attempts times may not run again.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// Delay is the wait before attempt number attempts+1, given attempts already made (>= 1).
// Attempt 1 failing waits Base, then Base*Factor, and so on up to Cap. No jitter.
func (p RetryPolicy) Delay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.Base),
		backoff.WithMultiplier(p.Factor),
		backoff.WithMaxInterval(p.Cap),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxElapsedTime(0),
	)
	d := b.NextBackOff()
	for i := 1; i < attempts; i++ {
		d = b.NextBackOff()
	}
	return d
}
