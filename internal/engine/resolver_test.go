package engine

import (
	"context"
	"strings"
	"testing"

	"saturn/internal/broker"
	"saturn/internal/domain"
	"saturn/internal/ledger"
)

// seedDependent writes a parent row and a PENDING dependent straight into
// the ledger.
func seedDependent(t *testing.T, st ledger.Store, parentStatus domain.OrderStatus, trigger domain.OrderStatus) (*domain.Order, *domain.Order) {
	t.Helper()
	ctx := context.Background()
	parent := &domain.Order{
		Symbol: "AAPL", Side: domain.SideBuy, Type: domain.OrderTypeLimit,
		Qty: dec("10"), LimitPrice: decPtr("100"),
		Status: parentStatus, TransactionID: "txn-dep",
	}
	if err := st.CreateOrder(ctx, parent); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	dep := &domain.Order{
		Symbol: "AAPL", Side: domain.SideSell, Type: domain.OrderTypeLimit,
		Qty: dec("10"), LimitPrice: decPtr("110"),
		Status: domain.OrderStatusPending, TransactionID: "txn-dep",
		DependsOnID: parent.ID, DependsOnState: trigger,
	}
	if err := st.CreateOrder(ctx, dep); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return parent, dep
}

func TestDependentFiresOnce(t *testing.T) {
	e, sim, st := newTestEngine(t, Options{})
	ctx := context.Background()
	_, dep := seedDependent(t, st, domain.OrderStatusFilled, domain.OrderStatusFilled)

	if err := e.resolver.run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sim.SubmitCount() != 1 {
		t.Fatalf("submit count = %d, want 1", sim.SubmitCount())
	}
	fired, _ := st.GetOrder(ctx, dep.ID)
	if fired.Status != domain.OrderStatusNew || fired.BrokerOrderID == "" {
		t.Fatalf("dependent = %s broker %q, want fired NEW", fired.Status, fired.BrokerOrderID)
	}

	// The trigger status is observed again on later passes; the dependent
	// must not fire twice.
	for i := 0; i < 3; i++ {
		if err := e.resolver.run(ctx); err != nil {
			t.Fatalf("run: %v", err)
		}
	}
	if sim.SubmitCount() != 1 {
		t.Errorf("submit count = %d after repeated passes, want 1", sim.SubmitCount())
	}
}

func TestDependentWaitsForTrigger(t *testing.T) {
	e, sim, st := newTestEngine(t, Options{})
	ctx := context.Background()
	parent, dep := seedDependent(t, st, domain.OrderStatusNew, domain.OrderStatusFilled)

	if err := e.resolver.run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sim.SubmitCount() != 0 {
		t.Error("dependent fired before its trigger status")
	}

	// CANCELED is terminal but is not the configured trigger.
	parent.Status = domain.OrderStatusCanceled
	if err := st.UpdateOrder(ctx, parent); err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}
	if err := e.resolver.run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sim.SubmitCount() != 0 {
		t.Error("dependent with an explicit trigger fired on a different terminal status")
	}
	got, _ := st.GetOrder(ctx, dep.ID)
	if got.Status != domain.OrderStatusPending {
		t.Errorf("dependent = %s, want still PENDING", got.Status)
	}
}

func TestDependentDefaultTriggerFiresOnAnyTerminal(t *testing.T) {
	e, sim, st := newTestEngine(t, Options{})
	ctx := context.Background()
	_, dep := seedDependent(t, st, domain.OrderStatusCanceled, "")

	if err := e.resolver.run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sim.SubmitCount() != 1 {
		t.Errorf("submit count = %d, want fired on terminal parent", sim.SubmitCount())
	}
	fired, _ := st.GetOrder(ctx, dep.ID)
	if fired.Status != domain.OrderStatusNew {
		t.Errorf("dependent = %s, want NEW", fired.Status)
	}
}

func TestDependentZeroQuantityParentFailsFast(t *testing.T) {
	e, sim, st := newTestEngine(t, Options{})
	ctx := context.Background()
	parent, dep := seedDependent(t, st, domain.OrderStatusFilled, domain.OrderStatusFilled)
	parent.Qty = dec("0")
	if err := st.UpdateOrder(ctx, parent); err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}

	if err := e.resolver.run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sim.SubmitCount() != 0 {
		t.Error("dependent with an invalid parent must not reach the broker")
	}
	got, _ := st.GetOrder(ctx, dep.ID)
	if got.Status != domain.OrderStatusError {
		t.Fatalf("dependent = %s, want ERROR rather than a silent skip", got.Status)
	}
	if !strings.Contains(got.ErrorMsg, "quantity") {
		t.Errorf("error message = %q, want the quantity problem recorded", got.ErrorMsg)
	}
}

func TestDependentMissingParentFailsFast(t *testing.T) {
	e, _, st := newTestEngine(t, Options{})
	ctx := context.Background()

	dep := &domain.Order{
		Symbol: "AAPL", Side: domain.SideSell, Type: domain.OrderTypeLimit,
		Qty: dec("10"), LimitPrice: decPtr("110"),
		Status: domain.OrderStatusPending, TransactionID: "txn-dep",
		DependsOnID: "no-such-order", DependsOnState: domain.OrderStatusFilled,
	}
	if err := st.CreateOrder(ctx, dep); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if err := e.resolver.run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, _ := st.GetOrder(ctx, dep.ID)
	if got.Status != domain.OrderStatusError {
		t.Errorf("dependent = %s, want ERROR for a missing parent", got.Status)
	}
}

func TestDependentSubmitFailureMarksError(t *testing.T) {
	e, sim, st := newTestEngine(t, Options{})
	ctx := context.Background()
	_, dep := seedDependent(t, st, domain.OrderStatusFilled, domain.OrderStatusFilled)

	sim.RejectSubmissions(&broker.RejectionError{Code: 40310000, Message: "insufficient buying power"})
	if err := e.resolver.run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, _ := st.GetOrder(ctx, dep.ID)
	if got.Status != domain.OrderStatusError {
		t.Fatalf("dependent = %s, want ERROR", got.Status)
	}
	if !strings.Contains(got.ErrorMsg, "buying power") {
		t.Errorf("error message = %q, want the rejection recorded", got.ErrorMsg)
	}

	// Not retried at this layer: the row left PENDING, so later passes skip it.
	sim.RejectSubmissions(nil)
	if err := e.resolver.run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sim.SubmitCount() != 0 {
		t.Error("failed dependent must not be resubmitted automatically")
	}
}
