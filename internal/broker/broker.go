// Package broker defines the Gateway interface to the remote brokerage and
// provides the Alpaca implementation, a retrying decorator, and an in-memory
// simulator for paper trading and tests.
package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Order classes understood by the gateway. An empty class is a plain order;
// bracket attaches exit legs to a new entry, oco pairs exits for an existing
// position.
const (
	ClassSimple  = ""
	ClassBracket = "bracket"
	ClassOCO     = "oco"
)

// Order is the typed snapshot of a broker-side order. Optional fields the
// broker sometimes omits are pointers rather than guarded dynamic lookups.
type Order struct {
	ID             string
	ClientOrderID  string
	Symbol         string
	Side           string
	Type           string
	OrderClass     string
	Qty            decimal.Decimal
	FilledQty      decimal.Decimal
	LimitPrice     *decimal.Decimal
	StopPrice      *decimal.Decimal
	FilledAvgPrice *decimal.Decimal
	Status         string
	CreatedAt      time.Time

	// Legs is populated inline on bracket/oco submissions only. Later
	// snapshots may carry bare descriptors holding nothing but an ID.
	Legs []Order
}

// OrderRequest describes an order to submit.
type OrderRequest struct {
	Symbol        string
	Side          string
	Type          string
	Class         string
	Qty           decimal.Decimal
	LimitPrice    *decimal.Decimal
	StopPrice     *decimal.Decimal
	TakeProfit    *decimal.Decimal // bracket/oco classes only
	StopLoss      *decimal.Decimal // bracket/oco classes only
	TimeInForce   string
	ClientOrderID string
}

// ReplaceRequest is a price-only in-place modification. The client order id
// must be regenerated by the caller: the broker treats it as an idempotency
// key and rejects reuse.
type ReplaceRequest struct {
	LimitPrice    *decimal.Decimal
	StopPrice     *decimal.Decimal
	ClientOrderID string
}

// ListRequest filters a backward-paginated order history listing. Until is
// the pagination cursor: only orders created strictly before it are
// returned, newest first.
type ListRequest struct {
	Until   time.Time
	Limit   int
	Symbols []string
}

// Gateway abstracts the brokerage operations the engine depends on. Bracket
// legs are not returned by List; they must be fetched individually with Get.
type Gateway interface {
	// Name returns the gateway identifier (e.g. "alpaca", "simulator").
	Name() string

	// Submit sends a new order.
	Submit(ctx context.Context, req OrderRequest) (*Order, error)

	// Get fetches a single order by broker id.
	Get(ctx context.Context, id string) (*Order, error)

	// Cancel requests cancellation. Cancellation is asynchronous: the order
	// is only truly canceled once a later Get/List reports it so.
	Cancel(ctx context.Context, id string) error

	// Replace modifies prices in place, returning the replacement order
	// (which carries a NEW broker id). Returns ErrNotReplaceable when the
	// order has passed the replaceable window.
	Replace(ctx context.Context, id string, req ReplaceRequest) (*Order, error)

	// List returns a page of order history, newest first.
	List(ctx context.Context, req ListRequest) ([]Order, error)

	// Position returns the signed current position quantity for a symbol,
	// zero when flat.
	Position(ctx context.Context, symbol string) (decimal.Decimal, error)
}
