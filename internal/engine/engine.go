// Package engine is the order dependency and reconciliation engine. It keeps
// a locally-authoritative ledger of orders and transactions consistent with
// an asynchronous, rate-limited broker: planning exit-order shapes as targets
// change, firing orders that wait on another order's outcome, and merging
// broker-reported truth back into the ledger without losing or duplicating
// state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"saturn/internal/broker"
	"saturn/internal/domain"
	"saturn/internal/ledger"
	"saturn/internal/util"
)

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrOrderTerminal       = errors.New("order is in a terminal state")
)

// Options tunes the engine. Zero values fall back to conservative defaults.
type Options struct {
	// Account labels idempotency comment tokens.
	Account string

	// TimeInForce applies to every submitted order.
	TimeInForce string

	// CancelGraceWindow is how long a freshly created row may be absent from
	// the broker's listing before the stale sweep presumes it canceled.
	CancelGraceWindow time.Duration

	// ListPageSize and MaxListPages bound the backward pagination of the
	// broker's order history during a reconciliation pass.
	ListPageSize int
	MaxListPages int

	// HeuristicMapping lets reconciliation link local rows that have no
	// broker id yet to remote orders by the idempotency comment.
	HeuristicMapping bool

	// ListRateLimitPerMin throttles history listing calls; zero disables
	// the throttle.
	ListRateLimitPerMin int
}

func (o Options) withDefaults() Options {
	if o.TimeInForce == "" {
		o.TimeInForce = "gtc"
	}
	if o.CancelGraceWindow <= 0 {
		o.CancelGraceWindow = 5 * time.Minute
	}
	if o.ListPageSize <= 0 {
		o.ListPageSize = 500
	}
	if o.MaxListPages <= 0 {
		o.MaxListPages = 20
	}
	return o
}

// SubmitSpec describes a new entry order, optionally with exit targets that
// the planner turns into dependent exit orders.
type SubmitSpec struct {
	Symbol     string
	Side       domain.Side
	Type       domain.OrderType
	Qty        decimal.Decimal
	LimitPrice *decimal.Decimal
	StopPrice  *decimal.Decimal
	TakeProfit *decimal.Decimal
	StopLoss   *decimal.Decimal
}

// Engine is the public facade. One mutex serializes every mutating entry
// point, so a scheduled reconciliation pass and a caller-triggered operation
// never interleave their read-then-write sequences.
type Engine struct {
	mu    sync.Mutex
	store ledger.Store
	gw    broker.Gateway
	log   *slog.Logger
	opts  Options

	planner  *planner
	legs     *legManager
	resolver *resolver
	recon    *reconciler
}

// New wires the engine with its ledger and broker gateway. The gateway is
// expected to already carry retry behaviour (see broker.NewRetryGateway).
func New(st ledger.Store, gw broker.Gateway, opts Options, log *slog.Logger) *Engine {
	opts = opts.withDefaults()
	legs := &legManager{store: st, gw: gw, log: log}
	res := &resolver{store: st, gw: gw, legs: legs, log: log, tif: opts.TimeInForce}
	pl := &planner{store: st, gw: gw, legs: legs, log: log, tif: opts.TimeInForce}
	rec := &reconciler{
		store:    st,
		gw:       gw,
		legs:     legs,
		resolver: res,
		log:      log,
		pageSize: opts.ListPageSize,
		maxPages: opts.MaxListPages,
		grace:    opts.CancelGraceWindow,
	}
	if opts.ListRateLimitPerMin > 0 {
		rec.limiter = util.NewRateLimiter(opts.ListRateLimitPerMin)
	}
	return &Engine{
		store:    st,
		gw:       gw,
		log:      log,
		opts:     opts,
		planner:  pl,
		legs:     legs,
		resolver: res,
		recon:    rec,
	}
}

// SubmitOrder creates a transaction with one entry order, submits the entry
// to the broker, and plans exit orders for any take-profit/stop-loss targets.
// The returned order carries the broker id and acknowledged status.
func (e *Engine) SubmitOrder(ctx context.Context, spec SubmitSpec) (*domain.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	txn := &domain.Transaction{
		Symbol:     spec.Symbol,
		Qty:        spec.Qty,
		TakeProfit: spec.TakeProfit,
		StopLoss:   spec.StopLoss,
		Status:     domain.TransactionStatusPending,
	}
	if err := e.store.CreateTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("creating transaction: %w", err)
	}
	entry := &domain.Order{
		Symbol:        spec.Symbol,
		Side:          spec.Side,
		Type:          spec.Type,
		Qty:           spec.Qty,
		LimitPrice:    spec.LimitPrice,
		StopPrice:     spec.StopPrice,
		Status:        domain.OrderStatusPending,
		TransactionID: txn.ID,
	}
	if err := e.store.CreateOrder(ctx, entry); err != nil {
		return nil, fmt.Errorf("creating entry order: %w", err)
	}
	txn.EntryOrderID = entry.ID
	if err := e.store.UpdateTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("linking entry order: %w", err)
	}

	if err := validateSpec(spec); err != nil {
		e.failOrder(ctx, entry, err)
		txn.Status = domain.TransactionStatusError
		if uerr := e.store.UpdateTransaction(ctx, txn); uerr != nil {
			e.log.Error("marking transaction failed", "transaction", txn.ID, "err", uerr)
		}
		return entry, err
	}

	if _, err := submitRow(ctx, e.store, e.gw, e.opts.TimeInForce, entry); err != nil {
		txn.Status = domain.TransactionStatusError
		if uerr := e.store.UpdateTransaction(ctx, txn); uerr != nil {
			e.log.Error("marking transaction failed", "transaction", txn.ID, "err", uerr)
		}
		return entry, err
	}
	e.log.Info("entry order submitted",
		"order", entry.ID, "broker_order", entry.BrokerOrderID,
		"symbol", entry.Symbol, "side", entry.Side, "qty", entry.Qty)

	if spec.TakeProfit != nil || spec.StopLoss != nil {
		if err := e.planner.plan(ctx, txn); err != nil {
			return entry, fmt.Errorf("planning exits: %w", err)
		}
	}
	e.reconcileLocked(ctx)
	return entry, nil
}

// ModifyOrder changes the prices of an order. A locally-pending order is
// edited in place. An acknowledged order goes through the replacement
// protocol: an in-place broker replace creates a fresh row with the new
// broker id and marks the old row REPLACED; when the broker refuses because
// the order passed the replaceable window, the old row is marked
// PENDING_CANCEL, a successor row depending on its cancellation is queued,
// and a cancel is issued. Either way the returned row is the one carrying
// the requested prices.
func (e *Engine) ModifyOrder(ctx context.Context, id string, limitPrice, stopPrice *decimal.Decimal) (*domain.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, ErrOrderNotFound
	}
	if o.Status.Terminal() {
		return nil, ErrOrderTerminal
	}

	if o.BrokerOrderID == "" || !o.Status.Acknowledged() {
		if limitPrice != nil {
			o.LimitPrice = limitPrice
		}
		if stopPrice != nil {
			o.StopPrice = stopPrice
		}
		if err := e.store.UpdateOrder(ctx, o); err != nil {
			return nil, err
		}
		return o, nil
	}

	out, err := e.replaceOrder(ctx, o, limitPrice, stopPrice)
	if err != nil {
		return nil, err
	}
	e.reconcileLocked(ctx)
	return out, nil
}

func (e *Engine) replaceOrder(ctx context.Context, o *domain.Order, limitPrice, stopPrice *decimal.Decimal) (*domain.Order, error) {
	// The comment is an idempotency key; the broker rejects reuse, so every
	// replacement carries a fresh one.
	comment := domain.NewComment(time.Now().UTC(), o.Type, e.opts.Account, o.TransactionID, o.ParentOrderID)
	remote, err := e.gw.Replace(ctx, o.BrokerOrderID, broker.ReplaceRequest{
		LimitPrice:    limitPrice,
		StopPrice:     stopPrice,
		ClientOrderID: comment,
	})
	switch {
	case err == nil:
		succ := successorRow(o, limitPrice, stopPrice)
		succ.Comment = comment
		succ.BrokerOrderID = remote.ID
		succ.Status = domain.ParseOrderStatus(remote.Status)
		if err := e.store.CreateOrder(ctx, succ); err != nil {
			return nil, fmt.Errorf("recording replacement: %w", err)
		}
		o.Status = domain.OrderStatusReplaced
		if err := e.store.UpdateOrder(ctx, o); err != nil {
			return nil, err
		}
		e.relinkEntry(ctx, o, succ)
		e.relinkDependents(ctx, o, succ)
		e.log.Info("order replaced in place",
			"order", o.ID, "successor", succ.ID, "broker_order", remote.ID)
		return succ, nil

	case errors.Is(err, broker.ErrNotReplaceable):
		// Past the replaceable window: cancel the live order and queue a
		// successor that fires once the cancellation is observed.
		o.Status = domain.OrderStatusPendingCancel
		if err := e.store.UpdateOrder(ctx, o); err != nil {
			return nil, err
		}
		succ := successorRow(o, limitPrice, stopPrice)
		succ.Status = domain.OrderStatusPending
		succ.DependsOnID = o.ID
		succ.DependsOnState = domain.OrderStatusCanceled
		if err := e.store.CreateOrder(ctx, succ); err != nil {
			return nil, fmt.Errorf("queueing replacement: %w", err)
		}
		if cerr := e.gw.Cancel(ctx, o.BrokerOrderID); cerr != nil {
			e.log.Error("canceling order for replacement", "order", o.ID, "err", cerr)
		}
		e.relinkEntry(ctx, o, succ)
		e.relinkDependents(ctx, o, succ)
		e.log.Info("order not replaceable, queued cancel-and-recreate",
			"order", o.ID, "successor", succ.ID)
		return succ, nil

	default:
		return nil, fmt.Errorf("replacing order %s: %w", o.ID, err)
	}
}

// relinkEntry points the transaction at the successor when the replaced row
// was its entry order.
func (e *Engine) relinkEntry(ctx context.Context, old, succ *domain.Order) {
	if old.TransactionID == "" {
		return
	}
	txn, err := e.store.GetTransaction(ctx, old.TransactionID)
	if err != nil || txn == nil || txn.EntryOrderID != old.ID {
		return
	}
	txn.EntryOrderID = succ.ID
	if err := e.store.UpdateTransaction(ctx, txn); err != nil {
		e.log.Error("relinking entry order", "transaction", txn.ID, "err", err)
	}
}

// relinkDependents re-points queued rows waiting on the replaced order at its
// successor. The successor inherits the replaced order's role, and a REPLACED
// status can never satisfy a trigger, so a dependent left behind would wait
// forever. The successor row itself is skipped: in the cancel-and-recreate
// path it legitimately waits on the old row's cancellation.
func (e *Engine) relinkDependents(ctx context.Context, old, succ *domain.Order) {
	deps, err := e.store.OrdersByDependsOn(ctx, old.ID)
	if err != nil {
		e.log.Error("loading dependents of replaced order", "order", old.ID, "err", err)
		return
	}
	for i := range deps {
		d := &deps[i]
		if d.ID == succ.ID || d.Status != domain.OrderStatusPending {
			continue
		}
		d.DependsOnID = succ.ID
		if err := e.store.UpdateOrder(ctx, d); err != nil {
			e.log.Error("re-pointing dependent at replacement", "order", d.ID, "err", err)
			continue
		}
		e.log.Info("dependent re-pointed at replacement",
			"order", d.ID, "old", old.ID, "successor", succ.ID)
	}
}

// CancelOrder requests cancellation. An acknowledged order only moves to
// PENDING_CANCEL here; CANCELED is adopted once reconciliation observes it
// from the broker. A row never sent to the broker cancels locally.
func (e *Engine) CancelOrder(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.store.GetOrder(ctx, id)
	if err != nil {
		return err
	}
	if o == nil {
		return ErrOrderNotFound
	}
	if o.Status.Terminal() || o.Status == domain.OrderStatusPendingCancel {
		return nil
	}

	if o.BrokerOrderID != "" && o.Status.Acknowledged() {
		if err := e.gw.Cancel(ctx, o.BrokerOrderID); err != nil {
			if !errors.Is(err, broker.ErrNotFound) {
				return fmt.Errorf("canceling order %s: %w", o.ID, err)
			}
			// The broker no longer knows the order; nothing to wait for.
			o.Status = domain.OrderStatusCanceled
		} else {
			o.Status = domain.OrderStatusPendingCancel
		}
	} else {
		o.Status = domain.OrderStatusCanceled
	}
	if err := e.store.UpdateOrder(ctx, o); err != nil {
		return err
	}
	e.log.Info("cancel requested", "order", o.ID, "status", o.Status)
	e.reconcileLocked(ctx)
	return nil
}

// AdjustTPSL sets or updates the take-profit and/or stop-loss targets of a
// transaction and replans its exit orders. A nil price leaves the current
// target unchanged.
func (e *Engine) AdjustTPSL(ctx context.Context, txnID string, takeProfit, stopLoss *decimal.Decimal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	txn, err := e.store.GetTransaction(ctx, txnID)
	if err != nil {
		return err
	}
	if txn == nil {
		return ErrTransactionNotFound
	}
	if txn.Status.Terminal() {
		return fmt.Errorf("transaction %s is %s", txn.ID, txn.Status)
	}

	if takeProfit != nil {
		txn.TakeProfit = takeProfit
	}
	if stopLoss != nil {
		txn.StopLoss = stopLoss
	}
	if err := e.store.UpdateTransaction(ctx, txn); err != nil {
		return err
	}
	if err := e.planner.plan(ctx, txn); err != nil {
		return err
	}
	e.reconcileLocked(ctx)
	return nil
}

// RefreshOrders runs one reconciliation pass. With fetchAll the broker's
// history is paginated to exhaustion and the stale-order sweep runs;
// without it only the most recent page is merged, which is cheap but cannot
// prove absence, so nothing is swept.
func (e *Engine) RefreshOrders(ctx context.Context, heuristicMapping, fetchAll bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recon.run(ctx, reconcileOptions{Heuristic: heuristicMapping, FetchAll: fetchAll})
}

// BrokerName identifies the gateway behind the engine.
func (e *Engine) BrokerName() string {
	return e.gw.Name()
}

// Orders returns all ledger rows, newest first.
func (e *Engine) Orders(ctx context.Context) ([]domain.Order, error) {
	return e.store.ListOrders(ctx)
}

// Order returns one ledger row.
func (e *Engine) Order(ctx context.Context, id string) (*domain.Order, error) {
	o, err := e.store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

// TransactionOrders returns every ledger row of one transaction.
func (e *Engine) TransactionOrders(ctx context.Context, txnID string) ([]domain.Order, error) {
	return e.store.OrdersByTransaction(ctx, txnID)
}

// Transactions returns all transactions, newest first.
func (e *Engine) Transactions(ctx context.Context) ([]domain.Transaction, error) {
	return e.store.ListTransactions(ctx)
}

// Transaction returns one transaction.
func (e *Engine) Transaction(ctx context.Context, id string) (*domain.Transaction, error) {
	t, err := e.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrTransactionNotFound
	}
	return t, nil
}

// Run executes scheduled reconciliation passes until the context is done.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.RefreshOrders(ctx, e.opts.HeuristicMapping, true); err != nil {
				e.log.Error("reconciliation pass failed", "err", err)
			}
		}
	}
}

// reconcileLocked runs a full pass after a state-changing operation. The
// operation itself already succeeded, so a sync failure is logged rather
// than returned.
func (e *Engine) reconcileLocked(ctx context.Context) {
	if err := e.recon.run(ctx, reconcileOptions{Heuristic: e.opts.HeuristicMapping, FetchAll: true}); err != nil {
		e.log.Error("post-operation reconciliation failed", "err", err)
	}
}

func (e *Engine) failOrder(ctx context.Context, o *domain.Order, cause error) {
	o.Status = domain.OrderStatusError
	o.ErrorMsg = cause.Error()
	if err := e.store.UpdateOrder(ctx, o); err != nil {
		e.log.Error("marking order failed", "order", o.ID, "err", err)
	}
}

func validateSpec(s SubmitSpec) error {
	if s.Symbol == "" {
		return errors.New("symbol is required")
	}
	if s.Qty.Sign() <= 0 {
		return errors.New("quantity must be positive")
	}
	switch s.Type {
	case domain.OrderTypeLimit:
		if s.LimitPrice == nil {
			return errors.New("limit order requires a limit price")
		}
	case domain.OrderTypeStop:
		if s.StopPrice == nil {
			return errors.New("stop order requires a stop price")
		}
	case domain.OrderTypeStopLimit:
		if s.LimitPrice == nil || s.StopPrice == nil {
			return errors.New("stop-limit order requires both prices")
		}
	case domain.OrderTypeMarket:
	default:
		return fmt.Errorf("unsupported entry order type %q", s.Type)
	}
	return nil
}

// successorRow copies the identity of a row being replaced into a fresh row
// carrying the requested prices. The broker id and comment are left empty:
// a replacement is a new order, never a mutation.
func successorRow(o *domain.Order, limitPrice, stopPrice *decimal.Decimal) *domain.Order {
	succ := &domain.Order{
		Symbol:        o.Symbol,
		Side:          o.Side,
		Type:          o.Type,
		Qty:           o.Qty,
		LimitPrice:    o.LimitPrice,
		StopPrice:     o.StopPrice,
		TransactionID: o.TransactionID,
		ParentOrderID: o.ParentOrderID,
	}
	if limitPrice != nil {
		succ.LimitPrice = limitPrice
	}
	if stopPrice != nil {
		succ.StopPrice = stopPrice
	}
	return succ
}

// submitRow sends a locally-pending row to the broker and records the
// acknowledgement, returning the broker's view (which carries inline leg
// descriptors for bracket-class orders). A failure is recorded on the row as
// ERROR before being returned.
func submitRow(ctx context.Context, st ledger.Store, gw broker.Gateway, tif string, o *domain.Order) (*broker.Order, error) {
	remote, err := gw.Submit(ctx, orderRequest(o, tif))
	if err != nil {
		o.Status = domain.OrderStatusError
		o.ErrorMsg = err.Error()
		if uerr := st.UpdateOrder(ctx, o); uerr != nil {
			return nil, fmt.Errorf("recording submit failure: %w", uerr)
		}
		return nil, fmt.Errorf("submitting order %s: %w", o.ID, err)
	}
	o.BrokerOrderID = remote.ID
	o.Status = domain.ParseOrderStatus(remote.Status)
	o.FilledQty = remote.FilledQty
	if remote.FilledAvgPrice != nil {
		o.AvgFillPrice = remote.FilledAvgPrice
	}
	return remote, st.UpdateOrder(ctx, o)
}

// orderRequest maps a ledger row onto the broker's wire request. A bracket
// row becomes an oco-class order pairing its take-profit limit price with
// its stop-loss stop price.
func orderRequest(o *domain.Order, tif string) broker.OrderRequest {
	req := broker.OrderRequest{
		Symbol:        o.Symbol,
		Side:          string(o.Side),
		Qty:           o.Qty,
		TimeInForce:   tif,
		ClientOrderID: o.Comment,
	}
	if o.Type == domain.OrderTypeBracket {
		req.Type = string(domain.OrderTypeLimit)
		req.Class = broker.ClassOCO
		req.TakeProfit = o.LimitPrice
		req.StopLoss = o.StopPrice
		return req
	}
	req.Type = string(o.Type)
	req.LimitPrice = o.LimitPrice
	req.StopPrice = o.StopPrice
	return req
}

func eqDec(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
