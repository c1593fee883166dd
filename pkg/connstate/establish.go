package connstate

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is returned once a tracker has spent its retry budget
var ErrExhausted = errors.New("retry budget exhausted")

// Establish runs attempt, waiting out the backoff between failures, until
// it succeeds, the retry budget is spent or ctx ends. It is used at startup
// before the owning worker exists.
func (t *Tracker) Establish(ctx context.Context, attempt func(context.Context) error) error {
	var lastErr error
	for {
		if t.Due() {
			err := attempt(ctx)
			if err == nil {
				t.Succeeded()
				return nil
			}
			lastErr = err
			if !t.Failed() {
				return fmt.Errorf("%w: %v", ErrExhausted, lastErr)
			}
		}

		snap := t.Snapshot()
		switch snap.State {
		case StateConnected:
			return nil
		case StateFailed:
			return fmt.Errorf("%w: %v", ErrExhausted, lastErr)
		}

		wait := snap.NextAttempt.Sub(t.now())
		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			if lastErr != nil {
				return fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
			}
			return ctx.Err()
		case <-timer.C:
		}
	}
}
