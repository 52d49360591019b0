// Package ledger is the durable, locally-authoritative store of order and
// transaction state. Rows are never deleted: every order transitions into a
// terminal status and stays, forming the audit trail.
package ledger

import (
	"context"

	"saturn/internal/domain"
)

// Store persists and retrieves order and transaction records. Single-row
// getters return (nil, nil) when no row matches; absence is an expected
// outcome during reconciliation, not an error.
type Store interface {
	// CreateOrder inserts a new order row, generating the id and the
	// idempotency comment token when absent.
	CreateOrder(ctx context.Context, o *domain.Order) error

	// GetOrder retrieves a single order by its id.
	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	// UpdateOrder persists changes to an existing order. An already-assigned
	// broker order id is immutable: the stored value wins over whatever the
	// caller passes.
	UpdateOrder(ctx context.Context, o *domain.Order) error

	// OrdersByTransaction returns every order row of a transaction.
	OrdersByTransaction(ctx context.Context, txnID string) ([]domain.Order, error)

	// OrdersByDependsOn returns rows waiting on the given order.
	OrdersByDependsOn(ctx context.Context, orderID string) ([]domain.Order, error)

	// OrdersByParent returns the leg rows of a bracket order.
	OrdersByParent(ctx context.Context, parentID string) ([]domain.Order, error)

	// OrderByBrokerID retrieves the row carrying the given broker order id.
	OrderByBrokerID(ctx context.Context, brokerID string) (*domain.Order, error)

	// OrderByComment retrieves the row carrying the given idempotency token.
	OrderByComment(ctx context.Context, comment string) (*domain.Order, error)

	// PendingDependents returns PENDING rows that carry a dependency.
	PendingDependents(ctx context.Context) ([]domain.Order, error)

	// OpenWithBrokerID returns non-terminal rows that have a broker id,
	// the candidate set for the stale-order sweep.
	OpenWithBrokerID(ctx context.Context) ([]domain.Order, error)

	// OpenLegs returns non-terminal leg rows with a broker id; these are
	// refreshed by individual fetch since listings exclude them.
	OpenLegs(ctx context.Context) ([]domain.Order, error)

	// UpsertLeg inserts a leg row unless one with the same broker order id
	// already exists. Reports whether a row was inserted. Concurrent
	// reconciliation passes may race on the same leg; the duplicate loses
	// silently.
	UpsertLeg(ctx context.Context, leg *domain.Order) (bool, error)

	// ListOrders returns all order rows, newest first.
	ListOrders(ctx context.Context) ([]domain.Order, error)

	// CreateTransaction inserts a new transaction, generating its id when
	// absent.
	CreateTransaction(ctx context.Context, t *domain.Transaction) error

	// GetTransaction retrieves a transaction by id.
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)

	// UpdateTransaction persists changes to an existing transaction.
	UpdateTransaction(ctx context.Context, t *domain.Transaction) error

	// ListTransactions returns all transactions, newest first.
	ListTransactions(ctx context.Context) ([]domain.Transaction, error)

	// Close releases the underlying database.
	Close() error
}
