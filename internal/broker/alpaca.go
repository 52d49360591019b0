package broker

import (
	"context"
	"errors"
	"net/http"
	"strings"

	alpacaapi "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
)

// Compile-time interface check.
var _ Gateway = (*AlpacaGateway)(nil)

// AlpacaGateway implements Gateway against the Alpaca trading API.
type AlpacaGateway struct {
	client *alpacaapi.Client
}

// NewAlpacaGateway creates an AlpacaGateway configured with the given
// credentials and API endpoint. The SDK's built-in retry is disabled; retry
// policy belongs to the RetryGateway decorator so it stays test-visible.
func NewAlpacaGateway(apiKey, apiSecret, baseURL string) *AlpacaGateway {
	return &AlpacaGateway{
		client: alpacaapi.NewClient(alpacaapi.ClientOpts{
			APIKey:     apiKey,
			APISecret:  apiSecret,
			BaseURL:    baseURL,
			RetryLimit: 0,
		}),
	}
}

// Name returns "alpaca".
func (g *AlpacaGateway) Name() string { return "alpaca" }

// Submit sends a new order to Alpaca.
func (g *AlpacaGateway) Submit(_ context.Context, req OrderRequest) (*Order, error) {
	qty := req.Qty
	placeReq := alpacaapi.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Qty:           &qty,
		Side:          alpacaapi.Side(req.Side),
		Type:          alpacaapi.OrderType(req.Type),
		TimeInForce:   alpacaapi.TimeInForce(req.TimeInForce),
		LimitPrice:    req.LimitPrice,
		StopPrice:     req.StopPrice,
		ClientOrderID: req.ClientOrderID,
	}

	switch req.Class {
	case ClassBracket:
		placeReq.OrderClass = alpacaapi.Bracket
		placeReq.TakeProfit = &alpacaapi.TakeProfit{LimitPrice: req.TakeProfit}
		placeReq.StopLoss = &alpacaapi.StopLoss{StopPrice: req.StopLoss}
	case ClassOCO:
		// OCO is a pair of exits for an existing position: a limit order
		// carrying the take-profit price plus a stop leg.
		placeReq.OrderClass = alpacaapi.OCO
		placeReq.Type = alpacaapi.Limit
		placeReq.LimitPrice = nil
		placeReq.StopPrice = nil
		placeReq.TakeProfit = &alpacaapi.TakeProfit{LimitPrice: req.TakeProfit}
		placeReq.StopLoss = &alpacaapi.StopLoss{StopPrice: req.StopLoss}
	}

	out, err := g.client.PlaceOrder(placeReq)
	if err != nil {
		return nil, mapError(err)
	}
	o := fromAlpaca(out)
	return &o, nil
}

// Get fetches a single order by broker id. Bracket legs are only reachable
// through this call; Alpaca excludes them from bulk listing.
func (g *AlpacaGateway) Get(_ context.Context, id string) (*Order, error) {
	out, err := g.client.GetOrder(id)
	if err != nil {
		return nil, mapError(err)
	}
	o := fromAlpaca(out)
	return &o, nil
}

// Cancel requests cancellation of an open order.
func (g *AlpacaGateway) Cancel(_ context.Context, id string) error {
	if err := g.client.CancelOrder(id); err != nil {
		return mapError(err)
	}
	return nil
}

// Replace modifies prices of an acknowledged order in place.
func (g *AlpacaGateway) Replace(_ context.Context, id string, req ReplaceRequest) (*Order, error) {
	out, err := g.client.ReplaceOrder(id, alpacaapi.ReplaceOrderRequest{
		LimitPrice:    req.LimitPrice,
		StopPrice:     req.StopPrice,
		ClientOrderID: req.ClientOrderID,
	})
	if err != nil {
		return nil, mapReplaceError(err)
	}
	o := fromAlpaca(out)
	return &o, nil
}

// List returns a page of order history, newest first, paginated backward via
// the Until cursor.
func (g *AlpacaGateway) List(_ context.Context, req ListRequest) ([]Order, error) {
	out, err := g.client.GetOrders(alpacaapi.GetOrdersRequest{
		Status:    "all",
		Limit:     req.Limit,
		Until:     req.Until,
		Direction: "desc",
		Symbols:   req.Symbols,
	})
	if err != nil {
		return nil, mapError(err)
	}
	orders := make([]Order, 0, len(out))
	for i := range out {
		orders = append(orders, fromAlpaca(&out[i]))
	}
	return orders, nil
}

// Position returns the current signed position quantity for a symbol. A
// missing position is zero, not an error.
func (g *AlpacaGateway) Position(_ context.Context, symbol string) (decimal.Decimal, error) {
	pos, err := g.client.GetPosition(symbol)
	if err != nil {
		mapped := mapError(err)
		if errors.Is(mapped, ErrNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, mapped
	}
	return pos.Qty, nil
}

// ---------------------------------------------------------------------------
// Mapping
// ---------------------------------------------------------------------------

// fromAlpaca converts an SDK order into the gateway DTO.
func fromAlpaca(o *alpacaapi.Order) Order {
	out := Order{
		ID:             o.ID,
		ClientOrderID:  o.ClientOrderID,
		Symbol:         o.Symbol,
		Side:           string(o.Side),
		Type:           string(o.Type),
		OrderClass:     string(o.OrderClass),
		FilledQty:      o.FilledQty,
		LimitPrice:     o.LimitPrice,
		StopPrice:      o.StopPrice,
		FilledAvgPrice: o.FilledAvgPrice,
		Status:         o.Status,
		CreatedAt:      o.CreatedAt,
	}
	if o.Qty != nil {
		out.Qty = *o.Qty
	}
	for i := range o.Legs {
		out.Legs = append(out.Legs, fromAlpaca(&o.Legs[i]))
	}
	return out
}

// mapError translates SDK errors into the gateway taxonomy.
func mapError(err error) error {
	var apiErr *alpacaapi.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{Err: err}
	case apiErr.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case apiErr.StatusCode == http.StatusUnprocessableEntity,
		apiErr.StatusCode == http.StatusForbidden:
		return &RejectionError{Code: apiErr.Code, Message: apiErr.Message}
	default:
		return err
	}
}

// mapReplaceError treats a business rejection of a replace as
// ErrNotReplaceable: Alpaca answers 422 when the order has progressed past
// the replaceable window.
func mapReplaceError(err error) error {
	var apiErr *alpacaapi.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusUnprocessableEntity ||
			strings.Contains(strings.ToLower(apiErr.Message), "replace") {
			return ErrNotReplaceable
		}
	}
	return mapError(err)
}
