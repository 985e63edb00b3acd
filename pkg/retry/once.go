package retry

import (
	"context"
	"time"
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep is the default Sleeper.
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Once calls fn and, if it fails with an error retryable reports true, calls
// it exactly one more time after the policy delay. The second error is
// returned as is; there is never a third call.
func Once(ctx context.Context, policy Policy, key Key, sleep Sleeper, retryable func(error) bool, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if err == nil || !retryable(err) || ctx.Err() != nil {
		return err
	}
	if sleep == nil {
		sleep = ContextSleep
	}
	key.Attempt = 1
	if serr := sleep(ctx, policy.Delay(key)); serr != nil {
		return err
	}
	return fn(ctx)
}
