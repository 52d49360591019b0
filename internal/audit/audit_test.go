package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"saturn/internal/domain"
	"saturn/internal/ledger"
)

func TestExportRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st, err := ledger.NewSQLiteStore(filepath.Join(dir, "ledger.db"), "test-acct")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer st.Close()
	ctx := context.Background()

	limit := decimal.RequireFromString("101.5")
	txn := &domain.Transaction{
		Symbol:     "AAPL",
		Qty:        decimal.RequireFromString("10"),
		TakeProfit: &limit,
		Status:     domain.TransactionStatusOpen,
	}
	if err := st.CreateTransaction(ctx, txn); err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	order := &domain.Order{
		Symbol: "AAPL", Side: domain.SideBuy, Type: domain.OrderTypeLimit,
		Qty: decimal.RequireFromString("10"), LimitPrice: &limit,
		Status: domain.OrderStatusFilled, BrokerOrderID: "bro-1",
		TransactionID: txn.ID,
	}
	if err := st.CreateOrder(ctx, order); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	exp := NewExporter(dir, st)
	out, err := exp.Export(ctx, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	orders, err := ReadOrders(out)
	if err != nil {
		t.Fatalf("ReadOrders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(orders))
	}
	if orders[0].ID != order.ID || orders[0].LimitPrice != "101.5" || orders[0].Status != "FILLED" {
		t.Errorf("exported order = %+v", orders[0])
	}

	txns, err := ReadTransactions(out)
	if err != nil {
		t.Fatalf("ReadTransactions: %v", err)
	}
	if len(txns) != 1 {
		t.Fatalf("transactions = %d, want 1", len(txns))
	}
	if txns[0].TakeProfit != "101.5" || txns[0].StopLoss != "" {
		t.Errorf("exported transaction = %+v", txns[0])
	}
}
