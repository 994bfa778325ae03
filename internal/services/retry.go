package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds how long an operation is retried when a store reports ErrBusy.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    250 * time.Millisecond,
	}
}

// Do calls fn until it returns nil or a non-busy error, or the attempts run
// out. The last ErrBusy is returned on exhaustion.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := max(p.MaxAttempts, 1)
	var err error
	for attempt := range attempts {
		if attempt > 0 {
			t := time.NewTimer(p.backoff(attempt))
			select {
			case <-ctx.Done():
				t.Stop()
				return fmt.Errorf("%w: %w", ErrBusy, ctx.Err())
			case <-t.C:
			}
		}
		err = fn(ctx)
		if !errors.Is(err, ErrBusy) {
			return err
		}
	}
	return err
}

// backoff is exponential in the attempt number with equal jitter, capped at MaxDelay.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay << (attempt - 1)
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		d = p.MaxDelay
	}
	half := d / 2
	return half + rand.N(half+1)
}
