package broker

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions the engine branches on.
var (
	// ErrNotFound reports that the broker knows no order with the given id.
	ErrNotFound = errors.New("broker: order not found")

	// ErrNotReplaceable reports that an order has passed the replaceable
	// window. The planner falls back to cancel-and-recreate on this error;
	// it is not terminal.
	ErrNotReplaceable = errors.New("broker: order is no longer replaceable")
)

// RateLimitError wraps a transport failure caused by broker rate limiting.
// It is the only error class the retry gateway re-attempts.
type RateLimitError struct {
	Err error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("broker: rate limited: %v", e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// IsRateLimit reports whether err is rate-limit-class.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// RejectionError is a business-rule rejection from the broker: the request
// reached the broker and was refused for a non-transport reason. Never
// retried.
type RejectionError struct {
	Code    int
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("broker: rejected (code %d): %s", e.Code, e.Message)
}
