package engine

import (
	"context"
	"fmt"
	"log/slog"

	"saturn/internal/broker"
	"saturn/internal/domain"
	"saturn/internal/ledger"
)

// resolver fires orders that wait on another order's outcome. A dependent
// stays PENDING indefinitely until its parent resolves; there is no timeout.
type resolver struct {
	store ledger.Store
	gw    broker.Gateway
	legs  *legManager
	log   *slog.Logger
	tif   string
}

// run evaluates every PENDING row carrying a dependency. Each dependent is
// processed inside its own error boundary so one failure never aborts the
// batch. Firing transitions the row out of PENDING, which makes it
// fire-once across repeated passes.
func (r *resolver) run(ctx context.Context) error {
	deps, err := r.store.PendingDependents(ctx)
	if err != nil {
		return fmt.Errorf("loading pending dependents: %w", err)
	}
	for i := range deps {
		r.resolve(ctx, &deps[i])
	}
	return nil
}

func (r *resolver) resolve(ctx context.Context, o *domain.Order) {
	parent, err := r.store.GetOrder(ctx, o.DependsOnID)
	if err != nil {
		r.log.Error("loading dependency parent", "order", o.ID, "parent", o.DependsOnID, "err", err)
		return
	}
	if parent == nil {
		r.fail(ctx, o, fmt.Errorf("depends on missing order %s", o.DependsOnID))
		return
	}
	if !o.DependencySatisfiedBy(parent.Status) {
		return
	}

	// A parent without a positive quantity is a systemic error, not a
	// condition to wait out. Fail fast rather than skip silently.
	if parent.Qty.Sign() <= 0 {
		r.fail(ctx, o, fmt.Errorf("parent order %s has non-positive quantity %s", parent.ID, parent.Qty))
		return
	}

	remote, err := submitRow(ctx, r.store, r.gw, r.tif, o)
	if err != nil {
		// submitRow already recorded the failure; the row is not retried
		// at this layer.
		r.log.Error("firing dependent order", "order", o.ID, "err", err)
		return
	}
	r.log.Info("dependent order fired",
		"order", o.ID, "parent", parent.ID, "trigger", parent.Status,
		"broker_order", o.BrokerOrderID)
	if len(remote.Legs) > 0 {
		r.legs.handleAck(ctx, o, remote)
	}
}

func (r *resolver) fail(ctx context.Context, o *domain.Order, cause error) {
	o.Status = domain.OrderStatusError
	o.ErrorMsg = cause.Error()
	if err := r.store.UpdateOrder(ctx, o); err != nil {
		r.log.Error("marking dependent failed", "order", o.ID, "err", err)
		return
	}
	r.log.Error("dependent order failed", "order", o.ID, "err", cause)
}
