package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"saturn/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id               TEXT PRIMARY KEY,
	symbol           TEXT NOT NULL,
	side             TEXT NOT NULL,
	type             TEXT NOT NULL,
	qty              TEXT NOT NULL,
	limit_price      TEXT,
	stop_price       TEXT,
	status           TEXT NOT NULL,
	broker_order_id  TEXT,
	filled_qty       TEXT NOT NULL DEFAULT '0',
	avg_fill_price   TEXT,
	comment          TEXT NOT NULL,
	transaction_id   TEXT NOT NULL,
	parent_order_id  TEXT,
	depends_on_id    TEXT,
	depends_on_state TEXT,
	error_msg        TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMP NOT NULL,
	updated_at       TIMESTAMP NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_comment ON orders(comment);
CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_broker_id ON orders(broker_order_id) WHERE broker_order_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_orders_transaction ON orders(transaction_id);
CREATE INDEX IF NOT EXISTS idx_orders_depends_on ON orders(depends_on_id);
CREATE INDEX IF NOT EXISTS idx_orders_parent ON orders(parent_order_id);

CREATE TABLE IF NOT EXISTS transactions (
	id             TEXT PRIMARY KEY,
	symbol         TEXT NOT NULL,
	qty            TEXT NOT NULL,
	take_profit    TEXT,
	stop_loss      TEXT,
	status         TEXT NOT NULL,
	open_price     TEXT,
	entry_order_id TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL
);
`

// SQLiteStore implements Store backed by a SQLite database.
type SQLiteStore struct {
	db      *sql.DB
	account string
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns
// a ready-to-use SQLiteStore. The account label goes into generated
// idempotency comment tokens.
func NewSQLiteStore(dbPath, account string) (*SQLiteStore, error) {
	// _time_format makes the driver store time.Time in a format it can scan
	// back into time.Time.
	db, err := sql.Open("sqlite", dbPath+"?_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// database/sql pools connections; SQLite wants a single writer.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialising schema: %w", err)
	}
	return &SQLiteStore{db: db, account: account}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

const orderColumns = `id, symbol, side, type, qty, limit_price, stop_price,
	status, broker_order_id, filled_qty, avg_fill_price, comment,
	transaction_id, parent_order_id, depends_on_id, depends_on_state,
	error_msg, created_at, updated_at`

// CreateOrder inserts a new order row. The id, comment token, and timestamps
// are generated when absent.
func (s *SQLiteStore) CreateOrder(ctx context.Context, o *domain.Order) error {
	now := time.Now().UTC()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Comment == "" {
		o.Comment = domain.NewComment(now, o.Type, s.account, o.TransactionID, o.ParentOrderID)
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.Symbol, o.Side, o.Type, o.Qty.String(),
		decPtrToNull(o.LimitPrice), decPtrToNull(o.StopPrice),
		o.Status, strToNull(o.BrokerOrderID), o.FilledQty.String(),
		decPtrToNull(o.AvgFillPrice), o.Comment, o.TransactionID,
		strToNull(o.ParentOrderID), strToNull(o.DependsOnID),
		strToNull(string(o.DependsOnState)), o.ErrorMsg,
		o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting order %s: %w", o.ID, err)
	}
	return nil
}

// GetOrder retrieves a single order by its ID.
func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return s.queryOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
}

// UpdateOrder persists changes to an existing order. The broker order id
// column only moves from NULL to a value, never from one value to another:
// a new broker id means a new row.
func (s *SQLiteStore) UpdateOrder(ctx context.Context, o *domain.Order) error {
	o.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE orders SET
		symbol = ?, side = ?, type = ?, qty = ?, limit_price = ?,
		stop_price = ?, status = ?,
		broker_order_id = COALESCE(broker_order_id, ?),
		filled_qty = ?, avg_fill_price = ?, comment = ?,
		depends_on_id = ?, depends_on_state = ?, error_msg = ?, updated_at = ?
		WHERE id = ?`,
		o.Symbol, o.Side, o.Type, o.Qty.String(),
		decPtrToNull(o.LimitPrice), decPtrToNull(o.StopPrice), o.Status,
		strToNull(o.BrokerOrderID), o.FilledQty.String(),
		decPtrToNull(o.AvgFillPrice), o.Comment,
		strToNull(o.DependsOnID), strToNull(string(o.DependsOnState)),
		o.ErrorMsg, o.UpdatedAt, o.ID)
	if err != nil {
		return fmt.Errorf("updating order %s: %w", o.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("updating order %s: no such row", o.ID)
	}
	return nil
}

// OrdersByTransaction returns every order row of a transaction.
func (s *SQLiteStore) OrdersByTransaction(ctx context.Context, txnID string) ([]domain.Order, error) {
	return s.queryMany(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE transaction_id = ? ORDER BY created_at`, txnID)
}

// OrdersByDependsOn returns rows waiting on the given order.
func (s *SQLiteStore) OrdersByDependsOn(ctx context.Context, orderID string) ([]domain.Order, error) {
	return s.queryMany(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE depends_on_id = ? ORDER BY created_at`, orderID)
}

// OrdersByParent returns the leg rows of a bracket order.
func (s *SQLiteStore) OrdersByParent(ctx context.Context, parentID string) ([]domain.Order, error) {
	return s.queryMany(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE parent_order_id = ? ORDER BY created_at`, parentID)
}

// OrderByBrokerID retrieves the row carrying the given broker order id.
func (s *SQLiteStore) OrderByBrokerID(ctx context.Context, brokerID string) (*domain.Order, error) {
	if brokerID == "" {
		return nil, nil
	}
	return s.queryOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE broker_order_id = ?`, brokerID)
}

// OrderByComment retrieves the row carrying the given idempotency token.
func (s *SQLiteStore) OrderByComment(ctx context.Context, comment string) (*domain.Order, error) {
	if comment == "" {
		return nil, nil
	}
	return s.queryOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE comment = ?`, comment)
}

// PendingDependents returns PENDING rows that carry a dependency.
func (s *SQLiteStore) PendingDependents(ctx context.Context) ([]domain.Order, error) {
	return s.queryMany(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE status = ? AND depends_on_id IS NOT NULL ORDER BY created_at`,
		domain.OrderStatusPending)
}

// OpenWithBrokerID returns non-terminal rows that have a broker id.
func (s *SQLiteStore) OpenWithBrokerID(ctx context.Context) ([]domain.Order, error) {
	return s.queryMany(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE broker_order_id IS NOT NULL AND status NOT IN (?, ?, ?, ?, ?, ?)
		ORDER BY created_at`,
		domain.OrderStatusFilled, domain.OrderStatusCanceled,
		domain.OrderStatusExpired, domain.OrderStatusRejected,
		domain.OrderStatusReplaced, domain.OrderStatusError)
}

// OpenLegs returns non-terminal leg rows with a broker id.
func (s *SQLiteStore) OpenLegs(ctx context.Context) ([]domain.Order, error) {
	return s.queryMany(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE parent_order_id IS NOT NULL AND broker_order_id IS NOT NULL
		AND status NOT IN (?, ?, ?, ?, ?, ?)
		ORDER BY created_at`,
		domain.OrderStatusFilled, domain.OrderStatusCanceled,
		domain.OrderStatusExpired, domain.OrderStatusRejected,
		domain.OrderStatusReplaced, domain.OrderStatusError)
}

// UpsertLeg inserts a leg row unless one with the same broker order id
// already exists. The check-and-insert runs inside one transaction so
// concurrent reconciliation passes cannot both insert.
func (s *SQLiteStore) UpsertLeg(ctx context.Context, leg *domain.Order) (bool, error) {
	if leg.BrokerOrderID == "" {
		return false, fmt.Errorf("leg for parent %s has no broker order id", leg.ParentOrderID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning leg upsert: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT id FROM orders WHERE broker_order_id = ?`,
		leg.BrokerOrderID).Scan(&existing)
	if err == nil {
		return false, nil
	}
	if err != sql.ErrNoRows {
		return false, fmt.Errorf("checking leg %s: %w", leg.BrokerOrderID, err)
	}

	now := time.Now().UTC()
	if leg.ID == "" {
		leg.ID = uuid.NewString()
	}
	if leg.Comment == "" {
		leg.Comment = domain.NewComment(now, leg.Type, s.account, leg.TransactionID, leg.ParentOrderID)
	}
	if leg.CreatedAt.IsZero() {
		leg.CreatedAt = now
	}
	leg.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		leg.ID, leg.Symbol, leg.Side, leg.Type, leg.Qty.String(),
		decPtrToNull(leg.LimitPrice), decPtrToNull(leg.StopPrice),
		leg.Status, leg.BrokerOrderID, leg.FilledQty.String(),
		decPtrToNull(leg.AvgFillPrice), leg.Comment, leg.TransactionID,
		strToNull(leg.ParentOrderID), strToNull(leg.DependsOnID),
		strToNull(string(leg.DependsOnState)), leg.ErrorMsg,
		leg.CreatedAt, leg.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("inserting leg %s: %w", leg.BrokerOrderID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing leg upsert: %w", err)
	}
	return true, nil
}

// ListOrders returns all order rows, newest first.
func (s *SQLiteStore) ListOrders(ctx context.Context) ([]domain.Order, error) {
	return s.queryMany(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC`)
}

// ---------------------------------------------------------------------------
// Transactions
// ---------------------------------------------------------------------------

const txnColumns = `id, symbol, qty, take_profit, stop_loss, status,
	open_price, entry_order_id, created_at, updated_at`

// CreateTransaction inserts a new transaction row.
func (s *SQLiteStore) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	now := time.Now().UTC()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `INSERT INTO transactions (`+txnColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Symbol, t.Qty.String(), decPtrToNull(t.TakeProfit),
		decPtrToNull(t.StopLoss), t.Status, decPtrToNull(t.OpenPrice),
		t.EntryOrderID, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting transaction %s: %w", t.ID, err)
	}
	return nil
}

// GetTransaction retrieves a transaction by id, (nil, nil) when absent.
func (s *SQLiteStore) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+txnColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting transaction %s: %w", id, err)
	}
	return t, nil
}

// UpdateTransaction persists changes to an existing transaction.
func (s *SQLiteStore) UpdateTransaction(ctx context.Context, t *domain.Transaction) error {
	t.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE transactions SET
		symbol = ?, qty = ?, take_profit = ?, stop_loss = ?, status = ?,
		open_price = ?, entry_order_id = ?, updated_at = ?
		WHERE id = ?`,
		t.Symbol, t.Qty.String(), decPtrToNull(t.TakeProfit),
		decPtrToNull(t.StopLoss), t.Status, decPtrToNull(t.OpenPrice),
		t.EntryOrderID, t.UpdatedAt, t.ID)
	if err != nil {
		return fmt.Errorf("updating transaction %s: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("updating transaction %s: no such row", t.ID)
	}
	return nil
}

// ListTransactions returns all transactions, newest first.
func (s *SQLiteStore) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+txnColumns+` FROM transactions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Scanning helpers
// ---------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) queryOne(ctx context.Context, query string, args ...any) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, query, args...)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying order: %w", err)
	}
	return o, nil
}

func (s *SQLiteStore) queryMany(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying orders: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func scanOrder(r rowScanner) (*domain.Order, error) {
	var (
		o                                   domain.Order
		qty, filledQty                      string
		limitPrice, stopPrice, avgFillPrice sql.NullString
		brokerID, parentID, depID, depState sql.NullString
	)
	err := r.Scan(&o.ID, &o.Symbol, &o.Side, &o.Type, &qty, &limitPrice,
		&stopPrice, &o.Status, &brokerID, &filledQty, &avgFillPrice,
		&o.Comment, &o.TransactionID, &parentID, &depID, &depState,
		&o.ErrorMsg, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if o.Qty, err = decimal.NewFromString(qty); err != nil {
		return nil, fmt.Errorf("order %s qty: %w", o.ID, err)
	}
	if o.FilledQty, err = decimal.NewFromString(filledQty); err != nil {
		return nil, fmt.Errorf("order %s filled_qty: %w", o.ID, err)
	}
	if o.LimitPrice, err = nullToDecPtr(limitPrice); err != nil {
		return nil, fmt.Errorf("order %s limit_price: %w", o.ID, err)
	}
	if o.StopPrice, err = nullToDecPtr(stopPrice); err != nil {
		return nil, fmt.Errorf("order %s stop_price: %w", o.ID, err)
	}
	if o.AvgFillPrice, err = nullToDecPtr(avgFillPrice); err != nil {
		return nil, fmt.Errorf("order %s avg_fill_price: %w", o.ID, err)
	}
	o.BrokerOrderID = brokerID.String
	o.ParentOrderID = parentID.String
	o.DependsOnID = depID.String
	o.DependsOnState = domain.OrderStatus(depState.String)
	return &o, nil
}

func scanTransaction(r rowScanner) (*domain.Transaction, error) {
	var (
		t                          domain.Transaction
		qty                        string
		takeProfit, stopLoss, open sql.NullString
	)
	err := r.Scan(&t.ID, &t.Symbol, &qty, &takeProfit, &stopLoss, &t.Status,
		&open, &t.EntryOrderID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if t.Qty, err = decimal.NewFromString(qty); err != nil {
		return nil, fmt.Errorf("transaction %s qty: %w", t.ID, err)
	}
	if t.TakeProfit, err = nullToDecPtr(takeProfit); err != nil {
		return nil, fmt.Errorf("transaction %s take_profit: %w", t.ID, err)
	}
	if t.StopLoss, err = nullToDecPtr(stopLoss); err != nil {
		return nil, fmt.Errorf("transaction %s stop_loss: %w", t.ID, err)
	}
	if t.OpenPrice, err = nullToDecPtr(open); err != nil {
		return nil, fmt.Errorf("transaction %s open_price: %w", t.ID, err)
	}
	return &t, nil
}

func decPtrToNull(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func strToNull(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullToDecPtr(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
