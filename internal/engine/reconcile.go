package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"saturn/internal/broker"
	"saturn/internal/domain"
	"saturn/internal/ledger"
	"saturn/internal/util"
)

// reconcileOptions selects the flavour of a pass. Heuristic enables comment
// matching for rows that never got a broker id. FetchAll paginates the
// broker's history to exhaustion; only such a complete snapshot can prove an
// order's absence, so the stale sweep runs only with FetchAll set.
type reconcileOptions struct {
	Heuristic bool
	FetchAll  bool
}

// reconciler merges broker-reported truth into the ledger. One pass pulls
// the order history, applies field updates row by row, sweeps stale rows,
// refreshes bracket legs, rolls transaction state forward, and finally fires
// satisfied dependents.
type reconciler struct {
	store    ledger.Store
	gw       broker.Gateway
	legs     *legManager
	resolver *resolver
	log      *slog.Logger
	limiter  *util.RateLimiter
	pageSize int
	maxPages int
	grace    time.Duration
}

func (c *reconciler) run(ctx context.Context, opts reconcileOptions) error {
	seen, err := c.syncRemote(ctx, opts)
	if err != nil {
		return err
	}
	if opts.FetchAll {
		c.sweepStale(ctx, seen)
	}
	c.legs.refresh(ctx)
	c.syncTransactions(ctx)
	return c.resolver.run(ctx)
}

// syncRemote pulls the broker's order history, paginating backward in time
// with the creation timestamp as cursor. Pages are deduplicated by broker
// order id; the loop stops on a short page, on a page yielding no unseen
// ids, or at the hard page cap. Returns the set of broker ids observed.
func (c *reconciler) syncRemote(ctx context.Context, opts reconcileOptions) (map[string]bool, error) {
	seen := make(map[string]bool)
	pages := c.maxPages
	if !opts.FetchAll {
		pages = 1
	}

	var cursor time.Time
	for page := 0; page < pages; page++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		batch, err := c.gw.List(ctx, broker.ListRequest{Until: cursor, Limit: c.pageSize})
		if err != nil {
			return nil, fmt.Errorf("listing broker orders: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		fresh := 0
		for i := range batch {
			remote := &batch[i]
			if seen[remote.ID] {
				continue
			}
			seen[remote.ID] = true
			fresh++
			c.syncOrder(ctx, remote, opts.Heuristic)
		}
		if len(batch) < c.pageSize || fresh == 0 {
			break
		}
		// Listing is strictly-before-Until, so the cursor advances inclusively:
		// the boundary row comes back on the next page and the seen set drops
		// it, but orders sharing its exact creation timestamp across the page
		// break are not lost.
		cursor = batch[len(batch)-1].CreatedAt.Add(time.Nanosecond)
	}
	return seen, nil
}

// syncOrder merges one remote order into the ledger, inside its own error
// boundary. Remote orders with no local row are not ours to manage (a human
// may trade the same account) and are left alone unless heuristic comment
// matching links them.
func (c *reconciler) syncOrder(ctx context.Context, remote *broker.Order, heuristic bool) {
	local, err := c.store.OrderByBrokerID(ctx, remote.ID)
	if err != nil {
		c.log.Error("looking up order by broker id", "broker_order", remote.ID, "err", err)
		return
	}

	linked := false
	if local == nil && heuristic && remote.ClientOrderID != "" {
		local, err = c.store.OrderByComment(ctx, remote.ClientOrderID)
		if err != nil {
			c.log.Error("looking up order by comment", "comment", remote.ClientOrderID, "err", err)
			return
		}
		// Only a row that never got a broker id may be linked; anything else
		// is already matched and must not be re-linked.
		if local != nil && local.BrokerOrderID != "" {
			c.log.Warn("comment matches an already linked row, skipping",
				"comment", remote.ClientOrderID, "order", local.ID)
			local = nil
		}
		if local != nil {
			local.BrokerOrderID = remote.ID
			linked = true
			c.log.Info("linked local order by comment", "order", local.ID, "broker_order", remote.ID)
		}
	}
	if local == nil {
		return
	}

	if mergeRemote(local, remote) || linked {
		if err := c.store.UpdateOrder(ctx, local); err != nil {
			c.log.Error("updating order from snapshot", "order", local.ID, "err", err)
			return
		}
	}
	if local.Type == domain.OrderTypeBracket && len(remote.Legs) > 0 {
		c.legs.handleAck(ctx, local, remote)
	}
}

// sweepStale cancels local rows the complete snapshot failed to mention: a
// non-terminal row with a broker id that the broker no longer reports is
// gone. Rows younger than the grace window are spared, since a just-submitted
// order may not have reached the listing yet, and bracket legs are spared
// because listings never contain them.
func (c *reconciler) sweepStale(ctx context.Context, seen map[string]bool) {
	open, err := c.store.OpenWithBrokerID(ctx)
	if err != nil {
		c.log.Error("loading open orders for sweep", "err", err)
		return
	}
	cutoff := time.Now().UTC().Add(-c.grace)
	for i := range open {
		o := &open[i]
		if o.IsLeg() || seen[o.BrokerOrderID] {
			continue
		}
		if o.CreatedAt.After(cutoff) {
			continue
		}
		o.Status = domain.OrderStatusCanceled
		if err := c.store.UpdateOrder(ctx, o); err != nil {
			c.log.Error("sweeping stale order", "order", o.ID, "err", err)
			continue
		}
		c.log.Warn("order absent from broker snapshot, marked canceled",
			"order", o.ID, "broker_order", o.BrokerOrderID)
	}
}

// syncTransactions rolls transaction state forward from the entry order: a
// fill opens the transaction and records the open price, a dead entry
// cancels it, and a filled exit closes it.
func (c *reconciler) syncTransactions(ctx context.Context) {
	txns, err := c.store.ListTransactions(ctx)
	if err != nil {
		c.log.Error("loading transactions", "err", err)
		return
	}
	for i := range txns {
		t := &txns[i]
		if t.Status.Terminal() || t.EntryOrderID == "" {
			continue
		}
		entry, err := c.store.GetOrder(ctx, t.EntryOrderID)
		if err != nil || entry == nil {
			continue
		}

		changed := false
		switch {
		case entry.Status == domain.OrderStatusFilled || entry.Status == domain.OrderStatusPartiallyFilled:
			if t.Status == domain.TransactionStatusPending {
				t.Status = domain.TransactionStatusOpen
				changed = true
			}
			if t.OpenPrice == nil && entry.AvgFillPrice != nil {
				t.OpenPrice = entry.AvgFillPrice
				changed = true
			}
		case entry.Status == domain.OrderStatusError:
			t.Status = domain.TransactionStatusError
			changed = true
		case entry.Status.Terminal() && entry.Status != domain.OrderStatusReplaced:
			t.Status = domain.TransactionStatusCanceled
			changed = true
		}

		if t.Status == domain.TransactionStatusOpen && c.exitFilled(ctx, t) {
			t.Status = domain.TransactionStatusClosed
			changed = true
		}
		if !changed {
			continue
		}
		if err := c.store.UpdateTransaction(ctx, t); err != nil {
			c.log.Error("updating transaction", "transaction", t.ID, "err", err)
			continue
		}
		c.log.Info("transaction state advanced", "transaction", t.ID, "status", t.Status)
	}
}

func (c *reconciler) exitFilled(ctx context.Context, t *domain.Transaction) bool {
	orders, err := c.store.OrdersByTransaction(ctx, t.ID)
	if err != nil {
		c.log.Error("loading transaction orders", "transaction", t.ID, "err", err)
		return false
	}
	for i := range orders {
		o := &orders[i]
		if o.ID == t.EntryOrderID {
			continue
		}
		if o.Status == domain.OrderStatusFilled {
			return true
		}
	}
	return false
}

// mergeRemote applies the broker snapshot onto a local row, reporting
// whether anything changed. Three guards protect local state: a terminal
// status is never left, a row in PENDING_CANCEL adopts only the canceled
// status (any other remote status is stale while the cancellation is in
// flight), and an unrecognised remote status changes nothing.
func mergeRemote(local *domain.Order, remote *broker.Order) bool {
	changed := false
	st := domain.ParseOrderStatus(remote.Status)
	switch {
	case st == domain.OrderStatusUnknown:
	case local.Status.Terminal():
	case local.Status == domain.OrderStatusPendingCancel && st != domain.OrderStatusCanceled:
	case st != local.Status:
		local.Status = st
		changed = true
	}
	if !remote.FilledQty.Equal(local.FilledQty) {
		local.FilledQty = remote.FilledQty
		changed = true
	}
	if remote.FilledAvgPrice != nil && !eqDec(remote.FilledAvgPrice, local.AvgFillPrice) {
		p := *remote.FilledAvgPrice
		local.AvgFillPrice = &p
		changed = true
	}
	return changed
}
