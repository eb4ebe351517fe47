package persist

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff is an exponential retry policy without jitter: Base, 2*Base, ...
// capped at Max, for at most Attempts calls.
type Backoff struct {
	Base     time.Duration
	Max      time.Duration
	Attempts int
}

func (b Backoff) policy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.Base
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	if b.Max > 0 {
		eb.MaxInterval = b.Max
	}
	eb.Reset()

	attempts := b.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
}

// Retry runs fn until it succeeds, attempts run out or ctx ends. It returns
// the last error from fn.
func (b Backoff) Retry(ctx context.Context, fn func(ctx context.Context) error) error {
	var last error
	err := backoff.Retry(func() error {
		last = fn(ctx)
		return last
	}, b.policy(ctx))
	if err != nil && last != nil {
		return last
	}
	return err
}
