// Package domain defines the core entities of the order engine: orders,
// transactions, and the enumerations describing their lifecycle.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the opposing side, used when deriving exit orders from an
// entry order.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType identifies the shape of an order. Bracket is a local construct:
// a single row carrying both a take-profit limit price and a stop-loss stop
// price, submitted to the broker as a combined OCO/bracket order.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
	OrderTypeBracket   OrderType = "bracket"
)

// OrderStatus is the lifecycle state of an order row.
type OrderStatus string

const (
	// OrderStatusPending marks a row created locally but not yet sent to the
	// broker. Dependent orders stay in this state until their parent fires
	// them.
	OrderStatusPending OrderStatus = "PENDING"

	OrderStatusPendingNew      OrderStatus = "PENDING_NEW"
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusAccepted        OrderStatus = "ACCEPTED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"

	// OrderStatusPendingCancel marks an in-flight cancellation. The row only
	// leaves this state when the broker reports the terminal canceled status.
	OrderStatusPendingCancel OrderStatus = "PENDING_CANCEL"

	OrderStatusCanceled OrderStatus = "CANCELED"
	OrderStatusExpired  OrderStatus = "EXPIRED"
	OrderStatusRejected OrderStatus = "REJECTED"
	OrderStatusReplaced OrderStatus = "REPLACED"
	OrderStatusError    OrderStatus = "ERROR"

	// OrderStatusUnknown is the sanitizer fallback for broker statuses this
	// version does not recognise. Reconciliation ignores it rather than
	// overwriting local state.
	OrderStatusUnknown OrderStatus = "UNKNOWN"
)

// Terminal reports whether the status is final. Rows are never deleted, only
// transitioned into one of these states.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusExpired,
		OrderStatusRejected, OrderStatusReplaced, OrderStatusError:
		return true
	}
	return false
}

// Acknowledged reports whether the broker has accepted the order, meaning
// cancellation must go through the broker rather than a local transition.
func (s OrderStatus) Acknowledged() bool {
	switch s {
	case OrderStatusPendingNew, OrderStatusNew, OrderStatusAccepted,
		OrderStatusPartiallyFilled, OrderStatusPendingCancel:
		return true
	}
	return false
}

// Order is a single order row in the ledger. BrokerOrderID is immutable once
// assigned: a replacement never mutates the row, it creates a new row with a
// fresh broker id and marks the old one REPLACED.
type Order struct {
	ID             string
	Symbol         string
	Side           Side
	Type           OrderType
	Qty            decimal.Decimal
	LimitPrice     *decimal.Decimal
	StopPrice      *decimal.Decimal
	Status         OrderStatus
	BrokerOrderID  string
	FilledQty      decimal.Decimal
	AvgFillPrice   *decimal.Decimal
	Comment        string
	TransactionID  string
	ParentOrderID  string // set on bracket-leg rows; references the bracket row
	DependsOnID    string // set on rows waiting for another order's outcome
	DependsOnState OrderStatus
	ErrorMsg       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsLeg reports whether the row is a bracket leg. Legs are excluded from the
// broker's bulk listings and from stale-order sweeps.
func (o *Order) IsLeg() bool { return o.ParentOrderID != "" }

// HasDependency reports whether the row waits on another order's outcome.
func (o *Order) HasDependency() bool { return o.DependsOnID != "" }

// DependencySatisfiedBy reports whether reaching status s on the parent order
// unblocks this row. With a configured trigger the parent must reach exactly
// that status; without one, any terminal status fires.
func (o *Order) DependencySatisfiedBy(s OrderStatus) bool {
	if o.DependsOnState != "" {
		return s == o.DependsOnState
	}
	return s.Terminal()
}
