package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"saturn/internal/util"
)

// Compile-time interface check.
var _ Gateway = (*RetryGateway)(nil)

// RetryGateway decorates another Gateway with bounded retry. Only
// rate-limit-class errors are re-attempted, at the configured delay
// schedule; everything else propagates immediately. After exhausting the
// schedule the original error is returned.
type RetryGateway struct {
	inner    Gateway
	schedule []time.Duration
}

// NewRetryGateway wraps inner with the given delay schedule. A nil schedule
// falls back to the default 1s/3s/10s ladder.
func NewRetryGateway(inner Gateway, schedule []time.Duration) *RetryGateway {
	if len(schedule) == 0 {
		schedule = []time.Duration{time.Second, 3 * time.Second, 10 * time.Second}
	}
	return &RetryGateway{inner: inner, schedule: schedule}
}

// Name returns the wrapped gateway's name.
func (g *RetryGateway) Name() string { return g.inner.Name() }

// Submit retries rate-limited submissions.
func (g *RetryGateway) Submit(ctx context.Context, req OrderRequest) (*Order, error) {
	var out *Order
	err := util.RetrySchedule(ctx, g.schedule, IsRateLimit, func() error {
		o, err := g.inner.Submit(ctx, req)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, err
}

// Get retries rate-limited fetches.
func (g *RetryGateway) Get(ctx context.Context, id string) (*Order, error) {
	var out *Order
	err := util.RetrySchedule(ctx, g.schedule, IsRateLimit, func() error {
		o, err := g.inner.Get(ctx, id)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, err
}

// Cancel retries rate-limited cancellations.
func (g *RetryGateway) Cancel(ctx context.Context, id string) error {
	return util.RetrySchedule(ctx, g.schedule, IsRateLimit, func() error {
		return g.inner.Cancel(ctx, id)
	})
}

// Replace retries rate-limited replacements. ErrNotReplaceable is a business
// outcome, not a transport failure, so it propagates on the first attempt.
func (g *RetryGateway) Replace(ctx context.Context, id string, req ReplaceRequest) (*Order, error) {
	var out *Order
	err := util.RetrySchedule(ctx, g.schedule, IsRateLimit, func() error {
		o, err := g.inner.Replace(ctx, id, req)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, err
}

// List retries rate-limited listings.
func (g *RetryGateway) List(ctx context.Context, req ListRequest) ([]Order, error) {
	var out []Order
	err := util.RetrySchedule(ctx, g.schedule, IsRateLimit, func() error {
		o, err := g.inner.List(ctx, req)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, err
}

// Position retries rate-limited position lookups.
func (g *RetryGateway) Position(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var out decimal.Decimal
	err := util.RetrySchedule(ctx, g.schedule, IsRateLimit, func() error {
		q, err := g.inner.Position(ctx, symbol)
		if err != nil {
			return err
		}
		out = q
		return nil
	})
	return out, err
}
