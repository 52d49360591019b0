package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"saturn/internal/broker"
	"saturn/internal/domain"
	"saturn/internal/ledger"
	"saturn/internal/util"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func newTestEngine(t *testing.T, opts Options) (*Engine, *broker.Simulator, ledger.Store) {
	t.Helper()
	if opts.Account == "" {
		opts.Account = "test-acct"
	}
	sim := broker.NewSimulator()
	st, err := ledger.NewSQLiteStore(filepath.Join(t.TempDir(), "engine.db"), opts.Account)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, sim, opts, util.NewLogger("error")), sim, st
}

func TestSubmitOrderWithTargets(t *testing.T) {
	e, _, st := newTestEngine(t, Options{})
	ctx := context.Background()

	entry, err := e.SubmitOrder(ctx, SubmitSpec{
		Symbol:     "AAPL",
		Side:       domain.SideBuy,
		Type:       domain.OrderTypeLimit,
		Qty:        dec("10"),
		LimitPrice: decPtr("100"),
		TakeProfit: decPtr("110"),
		StopLoss:   decPtr("90"),
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if entry.BrokerOrderID == "" {
		t.Fatal("entry should carry a broker id after submission")
	}
	if entry.Status != domain.OrderStatusNew {
		t.Errorf("entry status = %s, want NEW", entry.Status)
	}

	orders, err := st.OrdersByTransaction(ctx, entry.TransactionID)
	if err != nil {
		t.Fatalf("OrdersByTransaction: %v", err)
	}
	var exit *domain.Order
	for i := range orders {
		if orders[i].ID != entry.ID {
			exit = &orders[i]
		}
	}
	if exit == nil {
		t.Fatal("expected one queued exit order")
	}
	if exit.Status != domain.OrderStatusPending || exit.Type != domain.OrderTypeBracket {
		t.Errorf("exit = %s %s, want PENDING bracket", exit.Status, exit.Type)
	}
	if exit.DependsOnID != entry.ID || exit.DependsOnState != domain.OrderStatusFilled {
		t.Errorf("exit dependency = %q/%s, want entry/FILLED", exit.DependsOnID, exit.DependsOnState)
	}
	if exit.Side != domain.SideSell {
		t.Errorf("exit side = %s, want sell", exit.Side)
	}
}

func TestSubmitOrderValidation(t *testing.T) {
	e, sim, st := newTestEngine(t, Options{})
	ctx := context.Background()

	entry, err := e.SubmitOrder(ctx, SubmitSpec{
		Symbol: "AAPL",
		Side:   domain.SideBuy,
		Type:   domain.OrderTypeLimit, // no limit price
		Qty:    dec("10"),
	})
	if err == nil {
		t.Fatal("expected a validation error")
	}
	if sim.SubmitCount() != 0 {
		t.Error("invalid order must not reach the broker")
	}
	got, _ := st.GetOrder(ctx, entry.ID)
	if got.Status != domain.OrderStatusError || got.ErrorMsg == "" {
		t.Errorf("order = %s %q, want ERROR with a message", got.Status, got.ErrorMsg)
	}
	txn, _ := st.GetTransaction(ctx, entry.TransactionID)
	if txn.Status != domain.TransactionStatusError {
		t.Errorf("transaction status = %s, want ERROR", txn.Status)
	}
}

func TestModifyOrderLocalRow(t *testing.T) {
	e, sim, st := newTestEngine(t, Options{})
	ctx := context.Background()

	entry, err := e.SubmitOrder(ctx, SubmitSpec{
		Symbol: "AAPL", Side: domain.SideBuy, Type: domain.OrderTypeLimit,
		Qty: dec("10"), LimitPrice: decPtr("100"), TakeProfit: decPtr("110"),
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	orders, _ := st.OrdersByTransaction(ctx, entry.TransactionID)
	var exit *domain.Order
	for i := range orders {
		if orders[i].ID != entry.ID {
			exit = &orders[i]
		}
	}

	before := sim.SubmitCount()
	got, err := e.ModifyOrder(ctx, exit.ID, decPtr("112"), nil)
	if err != nil {
		t.Fatalf("ModifyOrder: %v", err)
	}
	if got.ID != exit.ID {
		t.Error("a pending row should be edited in place, not replaced")
	}
	if !got.LimitPrice.Equal(dec("112")) {
		t.Errorf("limit = %s, want 112", got.LimitPrice)
	}
	if sim.SubmitCount() != before {
		t.Error("editing a pending row must not touch the broker")
	}
}

func TestModifyOrderReplacesInPlace(t *testing.T) {
	e, _, st := newTestEngine(t, Options{})
	ctx := context.Background()

	entry, err := e.SubmitOrder(ctx, SubmitSpec{
		Symbol: "AAPL", Side: domain.SideBuy, Type: domain.OrderTypeLimit,
		Qty: dec("10"), LimitPrice: decPtr("100"),
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}

	succ, err := e.ModifyOrder(ctx, entry.ID, decPtr("101"), nil)
	if err != nil {
		t.Fatalf("ModifyOrder: %v", err)
	}
	if succ.ID == entry.ID {
		t.Fatal("replacement must create a new row")
	}
	if succ.BrokerOrderID == "" || succ.BrokerOrderID == entry.BrokerOrderID {
		t.Errorf("successor broker id = %q, want a fresh one", succ.BrokerOrderID)
	}
	if succ.Comment == entry.Comment {
		t.Error("replacement must regenerate the idempotency comment")
	}
	if !succ.LimitPrice.Equal(dec("101")) {
		t.Errorf("successor limit = %s, want 101", succ.LimitPrice)
	}

	old, _ := st.GetOrder(ctx, entry.ID)
	if old.Status != domain.OrderStatusReplaced {
		t.Errorf("old row status = %s, want REPLACED", old.Status)
	}
	if old.BrokerOrderID != entry.BrokerOrderID {
		t.Error("old row must keep its original broker id")
	}

	txn, _ := st.GetTransaction(ctx, entry.TransactionID)
	if txn.EntryOrderID != succ.ID {
		t.Errorf("transaction entry = %s, want relinked to successor %s", txn.EntryOrderID, succ.ID)
	}
}

func TestModifyOrderNotReplaceableFallback(t *testing.T) {
	e, sim, st := newTestEngine(t, Options{})
	ctx := context.Background()

	// A filled entry, then a live single take-profit exit at the broker.
	sim.FillOnSubmit(true)
	entry, err := e.SubmitOrder(ctx, SubmitSpec{
		Symbol: "AAPL", Side: domain.SideBuy, Type: domain.OrderTypeLimit,
		Qty: dec("10"), LimitPrice: decPtr("100"),
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	sim.FillOnSubmit(false)
	if err := e.AdjustTPSL(ctx, entry.TransactionID, decPtr("110"), nil); err != nil {
		t.Fatalf("AdjustTPSL: %v", err)
	}

	orders, _ := st.OrdersByTransaction(ctx, entry.TransactionID)
	var exit *domain.Order
	for i := range orders {
		o := &orders[i]
		if o.ID != entry.ID && o.Status == domain.OrderStatusNew {
			exit = o
		}
	}
	if exit == nil {
		t.Fatal("expected a live exit order")
	}

	sim.ReplaceFails(true)
	before := sim.SubmitCount()
	succ, err := e.ModifyOrder(ctx, exit.ID, decPtr("120"), nil)
	if err != nil {
		t.Fatalf("ModifyOrder: %v", err)
	}
	if succ.DependsOnID != exit.ID || succ.DependsOnState != domain.OrderStatusCanceled {
		t.Errorf("successor dependency = %q/%s, want old row/CANCELED", succ.DependsOnID, succ.DependsOnState)
	}

	// The cancel was observed during the post-operation pass, so the old row
	// is canceled and the successor already fired.
	old, _ := st.GetOrder(ctx, exit.ID)
	if old.Status != domain.OrderStatusCanceled {
		t.Errorf("old row status = %s, want CANCELED", old.Status)
	}
	fired, _ := st.GetOrder(ctx, succ.ID)
	if fired.BrokerOrderID == "" || fired.Status != domain.OrderStatusNew {
		t.Errorf("successor = %s broker %q, want fired NEW", fired.Status, fired.BrokerOrderID)
	}
	if !fired.LimitPrice.Equal(dec("120")) {
		t.Errorf("successor limit = %s, want 120", fired.LimitPrice)
	}
	if sim.SubmitCount() != before+1 {
		t.Errorf("submit count delta = %d, want 1", sim.SubmitCount()-before)
	}
}

func TestReplacedEntryKeepsQueuedExit(t *testing.T) {
	e, sim, st := newTestEngine(t, Options{})
	ctx := context.Background()

	entry, err := e.SubmitOrder(ctx, SubmitSpec{
		Symbol: "AAPL", Side: domain.SideBuy, Type: domain.OrderTypeLimit,
		Qty: dec("10"), LimitPrice: decPtr("100"),
		TakeProfit: decPtr("110"), StopLoss: decPtr("90"),
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}

	succ, err := e.ModifyOrder(ctx, entry.ID, decPtr("101"), nil)
	if err != nil {
		t.Fatalf("ModifyOrder: %v", err)
	}

	exit := queuedExit(t, st, entry.TransactionID, entry.ID, succ.ID)
	if exit.DependsOnID != succ.ID {
		t.Fatalf("exit depends on %s, want successor %s", exit.DependsOnID, succ.ID)
	}

	sim.SetFilled(succ.BrokerOrderID, dec("10"), dec("101"))
	if err := e.RefreshOrders(ctx, false, true); err != nil {
		t.Fatalf("RefreshOrders: %v", err)
	}

	fired, _ := st.GetOrder(ctx, exit.ID)
	if fired.Status != domain.OrderStatusNew || fired.BrokerOrderID == "" {
		t.Errorf("exit = %s broker %q, want fired NEW after entry fill", fired.Status, fired.BrokerOrderID)
	}
	txn, _ := st.GetTransaction(ctx, entry.TransactionID)
	if txn.Status != domain.TransactionStatusOpen {
		t.Errorf("transaction status = %s, want OPEN", txn.Status)
	}
}

func TestNotReplaceableEntryKeepsQueuedExit(t *testing.T) {
	e, sim, st := newTestEngine(t, Options{})
	ctx := context.Background()

	entry, err := e.SubmitOrder(ctx, SubmitSpec{
		Symbol: "AAPL", Side: domain.SideBuy, Type: domain.OrderTypeLimit,
		Qty: dec("10"), LimitPrice: decPtr("100"),
		TakeProfit: decPtr("110"), StopLoss: decPtr("90"),
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}

	sim.ReplaceFails(true)
	succ, err := e.ModifyOrder(ctx, entry.ID, decPtr("101"), nil)
	if err != nil {
		t.Fatalf("ModifyOrder: %v", err)
	}

	exit := queuedExit(t, st, entry.TransactionID, entry.ID, succ.ID)
	if exit.DependsOnID != succ.ID {
		t.Fatalf("exit depends on %s, want successor %s", exit.DependsOnID, succ.ID)
	}

	// The post-operation pass observed the cancellation and fired the
	// successor entry; the exit keeps waiting for its fill.
	sent, _ := st.GetOrder(ctx, succ.ID)
	if sent.Status != domain.OrderStatusNew || sent.BrokerOrderID == "" {
		t.Fatalf("successor = %s broker %q, want fired NEW", sent.Status, sent.BrokerOrderID)
	}

	sim.SetFilled(sent.BrokerOrderID, dec("10"), dec("101"))
	if err := e.RefreshOrders(ctx, false, true); err != nil {
		t.Fatalf("RefreshOrders: %v", err)
	}

	fired, _ := st.GetOrder(ctx, exit.ID)
	if fired.Status != domain.OrderStatusNew || fired.BrokerOrderID == "" {
		t.Errorf("exit = %s broker %q, want fired NEW after successor fill", fired.Status, fired.BrokerOrderID)
	}
	txn, _ := st.GetTransaction(ctx, entry.TransactionID)
	if txn.Status != domain.TransactionStatusOpen || txn.EntryOrderID != succ.ID {
		t.Errorf("transaction = %s entry %s, want OPEN with successor entry", txn.Status, txn.EntryOrderID)
	}
}

// queuedExit returns the pending exit row of a transaction, excluding the
// entry and its replacement successor.
func queuedExit(t *testing.T, st ledger.Store, txnID, entryID, succID string) *domain.Order {
	t.Helper()
	orders, err := st.OrdersByTransaction(context.Background(), txnID)
	if err != nil {
		t.Fatalf("OrdersByTransaction: %v", err)
	}
	for i := range orders {
		o := &orders[i]
		if o.ID != entryID && o.ID != succID && o.Status == domain.OrderStatusPending {
			return o
		}
	}
	t.Fatal("expected a queued exit row")
	return nil
}

func TestCancelOrderAdoptsBrokerCancellation(t *testing.T) {
	e, _, st := newTestEngine(t, Options{})
	ctx := context.Background()

	entry, err := e.SubmitOrder(ctx, SubmitSpec{
		Symbol: "AAPL", Side: domain.SideBuy, Type: domain.OrderTypeLimit,
		Qty: dec("10"), LimitPrice: decPtr("100"),
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if err := e.CancelOrder(ctx, entry.ID); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}

	got, _ := st.GetOrder(ctx, entry.ID)
	if got.Status != domain.OrderStatusCanceled {
		t.Errorf("entry status = %s, want CANCELED after reconciliation", got.Status)
	}
	txn, _ := st.GetTransaction(ctx, entry.TransactionID)
	if txn.Status != domain.TransactionStatusCanceled {
		t.Errorf("transaction status = %s, want CANCELED", txn.Status)
	}
}

func TestReconcilePaginatesFullHistory(t *testing.T) {
	e, sim, st := newTestEngine(t, Options{ListPageSize: 2, MaxListPages: 10})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		entry, err := e.SubmitOrder(ctx, SubmitSpec{
			Symbol: "AAPL", Side: domain.SideBuy, Type: domain.OrderTypeLimit,
			Qty: dec("1"), LimitPrice: decPtr("100"),
		})
		if err != nil {
			t.Fatalf("SubmitOrder: %v", err)
		}
		ids = append(ids, entry.ID)
	}
	for _, id := range ids {
		o, _ := st.GetOrder(ctx, id)
		sim.SetStatus(o.BrokerOrderID, "canceled")
	}

	if err := e.RefreshOrders(ctx, false, true); err != nil {
		t.Fatalf("RefreshOrders: %v", err)
	}
	for _, id := range ids {
		o, _ := st.GetOrder(ctx, id)
		if o.Status != domain.OrderStatusCanceled {
			t.Errorf("order %s status = %s, want CANCELED via paginated sync", id, o.Status)
		}
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	e, _, _ := newTestEngine(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		e.Run(ctx, 10*time.Millisecond)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
