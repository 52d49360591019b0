package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"saturn/internal/broker"
	"saturn/internal/domain"
	"saturn/internal/ledger"
)

// planner decides the exit-order shape of a transaction and transitions
// between shapes as targets and entry-order state change. A transaction
// holds at most one active exit construct: either one bracket row carrying
// both prices, or a single-sided take-profit or stop-loss row.
type planner struct {
	store ledger.Store
	gw    broker.Gateway
	legs  *legManager
	log   *slog.Logger
	tif   string
}

func (p *planner) plan(ctx context.Context, txn *domain.Transaction) error {
	if txn.EntryOrderID == "" {
		return fmt.Errorf("transaction %s has no entry order", txn.ID)
	}
	entry, err := p.store.GetOrder(ctx, txn.EntryOrderID)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("transaction %s: entry order %s: %w", txn.ID, txn.EntryOrderID, ErrOrderNotFound)
	}

	exits, err := p.activeExits(ctx, txn)
	if err != nil {
		return err
	}

	if txn.TakeProfit == nil && txn.StopLoss == nil {
		return p.cancelExits(ctx, exits)
	}

	// Idempotent skip: repeated calls with unchanged targets must not touch
	// the broker again.
	if p.satisfied(txn, exits) {
		return nil
	}

	switch {
	case entry.Status == domain.OrderStatusPending:
		return p.planUnsent(ctx, txn, entry, exits)
	case entry.Status == domain.OrderStatusFilled || entry.Status == domain.OrderStatusPartiallyFilled:
		return p.planFilled(ctx, txn, entry, exits)
	case entry.Status.Terminal():
		// The entry never produced a position; pending exits are moot.
		return p.cancelExits(ctx, exits)
	default:
		return p.planSubmitted(ctx, txn, entry, exits)
	}
}

// activeExits returns the non-terminal exit rows of the transaction: every
// order that is neither the entry nor a bracket leg.
func (p *planner) activeExits(ctx context.Context, txn *domain.Transaction) ([]domain.Order, error) {
	all, err := p.store.OrdersByTransaction(ctx, txn.ID)
	if err != nil {
		return nil, err
	}
	var exits []domain.Order
	for _, o := range all {
		if o.ID == txn.EntryOrderID || o.IsLeg() {
			continue
		}
		if o.Status.Terminal() {
			continue
		}
		exits = append(exits, o)
	}
	return exits, nil
}

// satisfied reports whether the live exit rows already implement the
// transaction's targets, either as one combined row or as a matching
// take-profit/stop-loss pair.
func (p *planner) satisfied(txn *domain.Transaction, exits []domain.Order) bool {
	typ, limit, stop := desiredExit(txn)

	var tp, sl *domain.Order
	for i := range exits {
		o := &exits[i]
		if o.Status == domain.OrderStatusPendingCancel {
			continue
		}
		if o.Type == typ && eqDec(o.LimitPrice, limit) && eqDec(o.StopPrice, stop) {
			return true
		}
		switch o.Type {
		case domain.OrderTypeLimit:
			tp = o
		case domain.OrderTypeStop:
			sl = o
		}
	}
	if typ == domain.OrderTypeBracket && tp != nil && sl != nil {
		return eqDec(tp.LimitPrice, limit) && eqDec(sl.StopPrice, stop)
	}
	return false
}

// planUnsent keeps exactly one PENDING exit row of the desired shape,
// waiting on the entry's fill. Nothing has reached the broker yet, so wrong
// rows cancel locally and a right-shaped row is edited in place.
func (p *planner) planUnsent(ctx context.Context, txn *domain.Transaction, entry *domain.Order, exits []domain.Order) error {
	typ, limit, stop := desiredExit(txn)

	var keep *domain.Order
	for i := range exits {
		o := &exits[i]
		if keep == nil && o.Type == typ && o.Status == domain.OrderStatusPending {
			keep = o
			continue
		}
		if err := p.cancelExit(ctx, o); err != nil {
			return err
		}
	}

	if keep != nil {
		keep.LimitPrice = limit
		keep.StopPrice = stop
		keep.Qty = txn.Qty
		return p.store.UpdateOrder(ctx, keep)
	}
	return p.createTriggered(ctx, txn, entry, typ, limit, stop)
}

// planSubmitted handles a live but unfilled entry: every existing exit is
// canceled and a fresh PENDING row of the desired shape is queued behind the
// entry's fill. Nothing is sent to the broker for the exit side until the
// position exists.
func (p *planner) planSubmitted(ctx context.Context, txn *domain.Transaction, entry *domain.Order, exits []domain.Order) error {
	if err := p.cancelExits(ctx, exits); err != nil {
		return err
	}
	typ, limit, stop := desiredExit(txn)
	return p.createTriggered(ctx, txn, entry, typ, limit, stop)
}

// planFilled handles a filled entry: existing exits are canceled at the
// broker and the new exit is submitted immediately, sized by the current
// position rather than the original entry quantity so partial closes keep
// working.
func (p *planner) planFilled(ctx context.Context, txn *domain.Transaction, entry *domain.Order, exits []domain.Order) error {
	if err := p.cancelExits(ctx, exits); err != nil {
		return err
	}

	qty, err := p.gw.Position(ctx, txn.Symbol)
	if err != nil {
		return fmt.Errorf("looking up position for %s: %w", txn.Symbol, err)
	}
	qty = qty.Abs()
	if qty.Sign() == 0 {
		p.log.Warn("no position to exit", "transaction", txn.ID, "symbol", txn.Symbol)
		return nil
	}

	typ, limit, stop := desiredExit(txn)
	exit := &domain.Order{
		Symbol:        txn.Symbol,
		Side:          entry.Side.Opposite(),
		Type:          typ,
		Qty:           qty,
		LimitPrice:    limit,
		StopPrice:     stop,
		Status:        domain.OrderStatusPending,
		TransactionID: txn.ID,
	}
	if err := p.store.CreateOrder(ctx, exit); err != nil {
		return fmt.Errorf("creating exit order: %w", err)
	}
	remote, err := submitRow(ctx, p.store, p.gw, p.tif, exit)
	if err != nil {
		return err
	}
	p.log.Info("exit order submitted",
		"transaction", txn.ID, "order", exit.ID, "type", typ, "qty", qty)
	if len(remote.Legs) > 0 {
		p.legs.handleAck(ctx, exit, remote)
	}
	return nil
}

func (p *planner) createTriggered(ctx context.Context, txn *domain.Transaction, entry *domain.Order, typ domain.OrderType, limit, stop *decimal.Decimal) error {
	exit := &domain.Order{
		Symbol:         txn.Symbol,
		Side:           entry.Side.Opposite(),
		Type:           typ,
		Qty:            txn.Qty,
		LimitPrice:     limit,
		StopPrice:      stop,
		Status:         domain.OrderStatusPending,
		TransactionID:  txn.ID,
		DependsOnID:    entry.ID,
		DependsOnState: domain.OrderStatusFilled,
	}
	if err := p.store.CreateOrder(ctx, exit); err != nil {
		return fmt.Errorf("queueing exit order: %w", err)
	}
	p.log.Info("exit order queued on entry fill",
		"transaction", txn.ID, "order", exit.ID, "type", typ)
	return nil
}

func (p *planner) cancelExits(ctx context.Context, exits []domain.Order) error {
	for i := range exits {
		if err := p.cancelExit(ctx, &exits[i]); err != nil {
			return err
		}
	}
	return nil
}

func (p *planner) cancelExit(ctx context.Context, o *domain.Order) error {
	if o.Status.Terminal() || o.Status == domain.OrderStatusPendingCancel {
		return nil
	}
	if o.BrokerOrderID != "" && o.Status.Acknowledged() {
		if err := p.gw.Cancel(ctx, o.BrokerOrderID); err != nil {
			if !errors.Is(err, broker.ErrNotFound) {
				return fmt.Errorf("canceling exit %s: %w", o.ID, err)
			}
			o.Status = domain.OrderStatusCanceled
		} else {
			o.Status = domain.OrderStatusPendingCancel
		}
	} else {
		o.Status = domain.OrderStatusCanceled
	}
	return p.store.UpdateOrder(ctx, o)
}

// desiredExit derives the exit shape from the targets: both prices combine
// into one bracket row, a lone target becomes a single-sided order.
func desiredExit(txn *domain.Transaction) (domain.OrderType, *decimal.Decimal, *decimal.Decimal) {
	switch {
	case txn.TakeProfit != nil && txn.StopLoss != nil:
		return domain.OrderTypeBracket, txn.TakeProfit, txn.StopLoss
	case txn.TakeProfit != nil:
		return domain.OrderTypeLimit, txn.TakeProfit, nil
	default:
		return domain.OrderTypeStop, nil, txn.StopLoss
	}
}
