package util

import (
	"context"
	"time"
)

// Retry calls fn up to maxAttempts times with exponential backoff starting at
// baseDelay. It returns nil on the first successful call, or the last error
// if all attempts fail. The function respects context cancellation between
// retries.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	var err error
	delay := baseDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Don't sleep after the last failed attempt.
		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return err
}

// RetrySchedule calls fn once plus once per delay in the schedule, sleeping
// the scheduled delay before each re-attempt, but only while retryable
// classifies the failure as transient. A non-retryable error propagates
// immediately. When the schedule is exhausted the FIRST error is returned,
// not the last: the original failure is the one worth reporting once the
// retries turned into rate-limit noise.
func RetrySchedule(ctx context.Context, schedule []time.Duration, retryable func(error) bool, fn func() error) error {
	first := fn()
	if first == nil || !retryable(first) {
		return first
	}

	for _, delay := range schedule {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		err := fn()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
	}

	return first
}
