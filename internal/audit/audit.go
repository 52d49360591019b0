// Package audit exports the order ledger to Parquet files on disk for
// offline analysis. Ledger rows are never deleted, so an export is a full,
// self-contained snapshot of the audit trail.
package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"saturn/internal/domain"
	"saturn/internal/ledger"
)

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// OrderRecord is the Parquet schema for exported order rows. Decimal fields
// travel as strings so no precision is lost; absent optional prices are
// empty strings.
type OrderRecord struct {
	ID             string `parquet:"id"`
	Symbol         string `parquet:"symbol"`
	Side           string `parquet:"side"`
	Type           string `parquet:"type"`
	Qty            string `parquet:"qty"`
	LimitPrice     string `parquet:"limit_price"`
	StopPrice      string `parquet:"stop_price"`
	Status         string `parquet:"status"`
	BrokerOrderID  string `parquet:"broker_order_id"`
	FilledQty      string `parquet:"filled_qty"`
	AvgFillPrice   string `parquet:"avg_fill_price"`
	Comment        string `parquet:"comment"`
	TransactionID  string `parquet:"transaction_id"`
	ParentOrderID  string `parquet:"parent_order_id"`
	DependsOnID    string `parquet:"depends_on_id"`
	DependsOnState string `parquet:"depends_on_state"`
	ErrorMsg       string `parquet:"error_msg"`
	CreatedAt      int64  `parquet:"created_at,timestamp(millisecond)"`
	UpdatedAt      int64  `parquet:"updated_at,timestamp(millisecond)"`
}

// TransactionRecord is the Parquet schema for exported transactions.
type TransactionRecord struct {
	ID           string `parquet:"id"`
	Symbol       string `parquet:"symbol"`
	Qty          string `parquet:"qty"`
	TakeProfit   string `parquet:"take_profit"`
	StopLoss     string `parquet:"stop_loss"`
	Status       string `parquet:"status"`
	OpenPrice    string `parquet:"open_price"`
	EntryOrderID string `parquet:"entry_order_id"`
	CreatedAt    int64  `parquet:"created_at,timestamp(millisecond)"`
	UpdatedAt    int64  `parquet:"updated_at,timestamp(millisecond)"`
}

// Exporter writes ledger snapshots under <DataDir>/audit/<YYYY-MM-DD>/.
type Exporter struct {
	DataDir string
	store   ledger.Store
}

// NewExporter creates an Exporter reading from the given ledger.
func NewExporter(dataDir string, st ledger.Store) *Exporter {
	return &Exporter{DataDir: dataDir, store: st}
}

// Export writes orders.parquet and transactions.parquet for the given day
// and returns the directory written.
func (e *Exporter) Export(ctx context.Context, day time.Time) (string, error) {
	dir := filepath.Join(e.DataDir, "audit", day.Format("2006-01-02"))

	orders, err := e.store.ListOrders(ctx)
	if err != nil {
		return "", fmt.Errorf("loading orders: %w", err)
	}
	orderRecs := make([]OrderRecord, 0, len(orders))
	for i := range orders {
		orderRecs = append(orderRecs, orderRecord(&orders[i]))
	}
	if err := writeParquetFile(filepath.Join(dir, "orders.parquet"), orderRecs); err != nil {
		return "", fmt.Errorf("writing order export: %w", err)
	}

	txns, err := e.store.ListTransactions(ctx)
	if err != nil {
		return "", fmt.Errorf("loading transactions: %w", err)
	}
	txnRecs := make([]TransactionRecord, 0, len(txns))
	for i := range txns {
		txnRecs = append(txnRecs, transactionRecord(&txns[i]))
	}
	if err := writeParquetFile(filepath.Join(dir, "transactions.parquet"), txnRecs); err != nil {
		return "", fmt.Errorf("writing transaction export: %w", err)
	}
	return dir, nil
}

// ReadOrders loads a previously exported order snapshot.
func ReadOrders(dir string) ([]OrderRecord, error) {
	return parquet.ReadFile[OrderRecord](filepath.Join(dir, "orders.parquet"))
}

// ReadTransactions loads a previously exported transaction snapshot.
func ReadTransactions(dir string) ([]TransactionRecord, error) {
	return parquet.ReadFile[TransactionRecord](filepath.Join(dir, "transactions.parquet"))
}

func orderRecord(o *domain.Order) OrderRecord {
	return OrderRecord{
		ID:             o.ID,
		Symbol:         o.Symbol,
		Side:           string(o.Side),
		Type:           string(o.Type),
		Qty:            o.Qty.String(),
		LimitPrice:     decString(o.LimitPrice),
		StopPrice:      decString(o.StopPrice),
		Status:         string(o.Status),
		BrokerOrderID:  o.BrokerOrderID,
		FilledQty:      o.FilledQty.String(),
		AvgFillPrice:   decString(o.AvgFillPrice),
		Comment:        o.Comment,
		TransactionID:  o.TransactionID,
		ParentOrderID:  o.ParentOrderID,
		DependsOnID:    o.DependsOnID,
		DependsOnState: string(o.DependsOnState),
		ErrorMsg:       o.ErrorMsg,
		CreatedAt:      o.CreatedAt.UnixMilli(),
		UpdatedAt:      o.UpdatedAt.UnixMilli(),
	}
}

func transactionRecord(t *domain.Transaction) TransactionRecord {
	return TransactionRecord{
		ID:           t.ID,
		Symbol:       t.Symbol,
		Qty:          t.Qty.String(),
		TakeProfit:   decString(t.TakeProfit),
		StopLoss:     decString(t.StopLoss),
		Status:       string(t.Status),
		OpenPrice:    decString(t.OpenPrice),
		EntryOrderID: t.EntryOrderID,
		CreatedAt:    t.CreatedAt.UnixMilli(),
		UpdatedAt:    t.UpdatedAt.UnixMilli(),
	}
}

func decString(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}
