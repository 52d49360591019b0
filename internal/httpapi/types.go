package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"saturn/internal/domain"
)

// OrderJSON is the JSON representation of a ledger order row.
type OrderJSON struct {
	ID             string           `json:"id"`
	Symbol         string           `json:"symbol"`
	Side           string           `json:"side"`
	Type           string           `json:"type"`
	Qty            decimal.Decimal  `json:"qty"`
	LimitPrice     *decimal.Decimal `json:"limitPrice,omitempty"`
	StopPrice      *decimal.Decimal `json:"stopPrice,omitempty"`
	Status         string           `json:"status"`
	BrokerOrderID  string           `json:"brokerOrderId,omitempty"`
	FilledQty      decimal.Decimal  `json:"filledQty"`
	AvgFillPrice   *decimal.Decimal `json:"avgFillPrice,omitempty"`
	Comment        string           `json:"comment,omitempty"`
	TransactionID  string           `json:"transactionId,omitempty"`
	ParentOrderID  string           `json:"parentOrderId,omitempty"`
	DependsOnID    string           `json:"dependsOnId,omitempty"`
	DependsOnState string           `json:"dependsOnState,omitempty"`
	ErrorMsg       string           `json:"errorMsg,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// TransactionJSON is the JSON representation of a transaction.
type TransactionJSON struct {
	ID           string           `json:"id"`
	Symbol       string           `json:"symbol"`
	Qty          decimal.Decimal  `json:"qty"`
	TakeProfit   *decimal.Decimal `json:"takeProfit,omitempty"`
	StopLoss     *decimal.Decimal `json:"stopLoss,omitempty"`
	Status       string           `json:"status"`
	OpenPrice    *decimal.Decimal `json:"openPrice,omitempty"`
	EntryOrderID string           `json:"entryOrderId,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// TransactionDetailJSON adds the transaction's order rows and a live
// valuation. The price fields are only present when a price cache is
// configured and the quote lookup succeeded.
type TransactionDetailJSON struct {
	TransactionJSON
	Orders       []OrderJSON      `json:"orders"`
	LastPrice    *decimal.Decimal `json:"lastPrice,omitempty"`
	UnrealizedPL *decimal.Decimal `json:"unrealizedPl,omitempty"`
}

// SubmitOrderRequest is the body of POST /api/orders.
type SubmitOrderRequest struct {
	Symbol     string           `json:"symbol"`
	Side       string           `json:"side"`
	Type       string           `json:"type"`
	Qty        decimal.Decimal  `json:"qty"`
	LimitPrice *decimal.Decimal `json:"limitPrice,omitempty"`
	StopPrice  *decimal.Decimal `json:"stopPrice,omitempty"`
	TakeProfit *decimal.Decimal `json:"takeProfit,omitempty"`
	StopLoss   *decimal.Decimal `json:"stopLoss,omitempty"`
}

// ModifyOrderRequest is the body of PATCH /api/orders/{id}. Absent fields
// leave the corresponding price unchanged.
type ModifyOrderRequest struct {
	LimitPrice *decimal.Decimal `json:"limitPrice,omitempty"`
	StopPrice  *decimal.Decimal `json:"stopPrice,omitempty"`
}

// TPSLRequest is the body of POST /api/transactions/{id}/tpsl. Absent fields
// leave the corresponding target unchanged.
type TPSLRequest struct {
	TakeProfit *decimal.Decimal `json:"takeProfit,omitempty"`
	StopLoss   *decimal.Decimal `json:"stopLoss,omitempty"`
}

// OrdersResponse lists order rows.
type OrdersResponse struct {
	Orders []OrderJSON `json:"orders"`
}

// TransactionsResponse lists transactions.
type TransactionsResponse struct {
	Transactions []TransactionJSON `json:"transactions"`
}

// ExportResponse reports where an audit export landed.
type ExportResponse struct {
	Dir string `json:"dir"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status string `json:"status"`
	Broker string `json:"broker"`
}

func orderJSON(o *domain.Order) OrderJSON {
	return OrderJSON{
		ID:             o.ID,
		Symbol:         o.Symbol,
		Side:           string(o.Side),
		Type:           string(o.Type),
		Qty:            o.Qty,
		LimitPrice:     o.LimitPrice,
		StopPrice:      o.StopPrice,
		Status:         string(o.Status),
		BrokerOrderID:  o.BrokerOrderID,
		FilledQty:      o.FilledQty,
		AvgFillPrice:   o.AvgFillPrice,
		Comment:        o.Comment,
		TransactionID:  o.TransactionID,
		ParentOrderID:  o.ParentOrderID,
		DependsOnID:    o.DependsOnID,
		DependsOnState: string(o.DependsOnState),
		ErrorMsg:       o.ErrorMsg,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

func transactionJSON(t *domain.Transaction) TransactionJSON {
	return TransactionJSON{
		ID:           t.ID,
		Symbol:       t.Symbol,
		Qty:          t.Qty,
		TakeProfit:   t.TakeProfit,
		StopLoss:     t.StopLoss,
		Status:       string(t.Status),
		OpenPrice:    t.OpenPrice,
		EntryOrderID: t.EntryOrderID,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}
