package adapter

import (
	"context"
	"fmt"
	"time"
)

// BaseBackoff is the delay before the first retry; it doubles per attempt.
const BaseBackoff = 500 * time.Millisecond

// BackoffDelay returns the delay before retry attempt (1-based).
func BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return time.Duration(1<<uint(attempt-1)) * BaseBackoff
}

// Backoff sleeps for BackoffDelay(attempt) or until ctx ends.
func Backoff(ctx context.Context, attempt int) error {
	t := time.NewTimer(BackoffDelay(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retry calls op up to 1+retries times, sleeping with Backoff between
// attempts. An error for which permanent reports true ends the loop early.
// The returned error wraps the last failure.
func Retry(ctx context.Context, retries int, permanent func(error) bool, op func(context.Context) error) error {
	var last error
	attempts := 1 + retries
	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context canceled: %w", err)
		}
		if i > 0 {
			if err := Backoff(ctx, i); err != nil {
				return fmt.Errorf("context canceled during backoff: %w", err)
			}
		}
		if last = op(ctx); last == nil {
			return nil
		}
		if permanent != nil && permanent(last) {
			return fmt.Errorf("non-retriable error: %w", last)
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, last)
}
