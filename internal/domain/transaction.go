package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the lifecycle state of a transaction.
type TransactionStatus string

const (
	// TransactionStatusPending marks a transaction whose entry order has not
	// filled yet.
	TransactionStatusPending TransactionStatus = "PENDING"

	// TransactionStatusOpen marks a transaction with a live position.
	TransactionStatusOpen TransactionStatus = "OPEN"

	TransactionStatusClosed   TransactionStatus = "CLOSED"
	TransactionStatusCanceled TransactionStatus = "CANCELED"
	TransactionStatusError    TransactionStatus = "ERROR"
)

// Terminal reports whether the transaction has reached a final state.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case TransactionStatusClosed, TransactionStatusCanceled, TransactionStatusError:
		return true
	}
	return false
}

// Transaction groups one entry order with its current exit-order set. At most
// one exit construct is active at a time: either a single bracket row, or up
// to one take-profit row plus one stop-loss row.
type Transaction struct {
	ID           string
	Symbol       string
	Qty          decimal.Decimal
	TakeProfit   *decimal.Decimal
	StopLoss     *decimal.Decimal
	Status       TransactionStatus
	OpenPrice    *decimal.Decimal
	EntryOrderID string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
