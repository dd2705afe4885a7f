package retry

import (
	"context"
	"time"
)

// Policy bounds how many times an operation is attempted.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
}

// FailureFunc is called after every failed attempt, including the last one.
type FailureFunc func(attempt int, err error)

// Do runs fn until it succeeds or the attempt budget is exhausted. The delay
// between attempts doubles after each failure. The last error is returned.
func Do(ctx context.Context, policy Policy, onFailure FailureFunc, fn func(context.Context) error) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := policy.BaseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if onFailure != nil {
			onFailure(attempt, err)
		}
		if attempt >= attempts {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
	}
}
