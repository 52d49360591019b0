package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRetryScheduleSucceedsMidway(t *testing.T) {
	attempts := 0
	err := RetrySchedule(context.Background(), []time.Duration{0, 0, 0}, func(error) bool { return true }, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("rate limited")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RetrySchedule returned unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("fn called %d times, want 3", attempts)
	}
}

func TestRetryScheduleReturnsOriginalError(t *testing.T) {
	first := errors.New("first failure")
	attempts := 0
	err := RetrySchedule(context.Background(), []time.Duration{0, 0, 0}, func(error) bool { return true }, func() error {
		attempts++
		if attempts == 1 {
			return first
		}
		return errors.New("later failure")
	})
	if !errors.Is(err, first) {
		t.Errorf("RetrySchedule returned %v, want the original error", err)
	}
	if attempts != 4 {
		t.Errorf("fn called %d times, want 4 (1 + 3 retries)", attempts)
	}
}

func TestRetryScheduleNonRetryableStopsImmediately(t *testing.T) {
	fatal := errors.New("validation failure")
	attempts := 0
	err := RetrySchedule(context.Background(), []time.Duration{0, 0, 0}, func(error) bool { return false }, func() error {
		attempts++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Errorf("RetrySchedule returned %v, want %v", err, fatal)
	}
	if attempts != 1 {
		t.Errorf("fn called %d times, want 1", attempts)
	}
}

func TestRateLimiterNew(t *testing.T) {
	rl := NewRateLimiter(60)
	if rl == nil {
		t.Fatal("NewRateLimiter returned nil")
	}
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait should not block: %v", err)
	}
}
