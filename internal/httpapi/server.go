// Package httpapi exposes the order engine over a JSON REST API: order
// submission, modification and cancellation, transaction views with live
// valuation, reconciliation triggers, and audit exports.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"saturn/internal/audit"
	"saturn/internal/domain"
	"saturn/internal/engine"
	"saturn/internal/pricecache"
)

// Server serves the engine HTTP API.
type Server struct {
	engine *engine.Engine
	prices *pricecache.Cache // nil when no market data is configured
	audit  *audit.Exporter   // nil when exports are disabled
	log    *slog.Logger
}

// NewServer creates the HTTP API server. prices and exporter may be nil; the
// corresponding endpoints degrade gracefully.
func NewServer(eng *engine.Engine, prices *pricecache.Cache, exporter *audit.Exporter, log *slog.Logger) *Server {
	return &Server{engine: eng, prices: prices, audit: exporter, log: log}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/orders", s.handleSubmitOrder)
	mux.HandleFunc("GET /api/orders", s.handleListOrders)
	mux.HandleFunc("GET /api/orders/{id}", s.handleGetOrder)
	mux.HandleFunc("PATCH /api/orders/{id}", s.handleModifyOrder)
	mux.HandleFunc("DELETE /api/orders/{id}", s.handleCancelOrder)
	mux.HandleFunc("GET /api/transactions", s.handleListTransactions)
	mux.HandleFunc("GET /api/transactions/{id}", s.handleGetTransaction)
	mux.HandleFunc("POST /api/transactions/{id}/tpsl", s.handleTPSL)
	mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/export", s.handleExport)
	mux.HandleFunc("GET /api/health", s.handleHealth)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeEngineError maps engine sentinels onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrOrderNotFound), errors.Is(err, engine.ErrTransactionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrOrderTerminal):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	if req.Qty.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, "qty must be positive")
		return
	}

	spec := engine.SubmitSpec{
		Symbol:     req.Symbol,
		Side:       domain.ParseSide(req.Side),
		Type:       domain.ParseOrderType(req.Type),
		Qty:        req.Qty,
		LimitPrice: req.LimitPrice,
		StopPrice:  req.StopPrice,
		TakeProfit: req.TakeProfit,
		StopLoss:   req.StopLoss,
	}
	o, err := s.engine.SubmitOrder(r.Context(), spec)
	if err != nil {
		// The entry row exists even on failure; surface it so the caller can
		// inspect the recorded error.
		if o != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(orderJSON(o))
			return
		}
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, orderJSON(o))
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.engine.Orders(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	out := make([]OrderJSON, 0, len(orders))
	for i := range orders {
		out = append(out, orderJSON(&orders[i]))
	}
	writeJSON(w, OrdersResponse{Orders: out})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.engine.Order(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, orderJSON(o))
}

func (s *Server) handleModifyOrder(w http.ResponseWriter, r *http.Request) {
	var req ModifyOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.LimitPrice == nil && req.StopPrice == nil {
		writeError(w, http.StatusBadRequest, "at least one of limitPrice, stopPrice is required")
		return
	}
	o, err := s.engine.ModifyOrder(r.Context(), r.PathValue("id"), req.LimitPrice, req.StopPrice)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, orderJSON(o))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.CancelOrder(r.Context(), r.PathValue("id")); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := s.engine.Transactions(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	out := make([]TransactionJSON, 0, len(txns))
	for i := range txns {
		out = append(out, transactionJSON(&txns[i]))
	}
	writeJSON(w, TransactionsResponse{Transactions: out})
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txn, err := s.engine.Transaction(ctx, r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	orders, err := s.engine.TransactionOrders(ctx, txn.ID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	detail := TransactionDetailJSON{TransactionJSON: transactionJSON(txn)}
	detail.Orders = make([]OrderJSON, 0, len(orders))
	for i := range orders {
		detail.Orders = append(detail.Orders, orderJSON(&orders[i]))
	}
	s.addValuation(ctx, txn, orders, &detail)
	writeJSON(w, detail)
}

// addValuation fills LastPrice and, for open positions, UnrealizedPL. A quote
// failure is logged and leaves the fields empty; the transaction data itself
// is still served.
func (s *Server) addValuation(ctx context.Context, txn *domain.Transaction, orders []domain.Order, detail *TransactionDetailJSON) {
	if s.prices == nil {
		return
	}
	last, err := s.prices.Price(ctx, txn.Symbol, pricecache.PriceTrade)
	if err != nil {
		s.log.Warn("fetching last price", "symbol", txn.Symbol, "error", err)
		return
	}
	detail.LastPrice = &last

	if txn.Status != domain.TransactionStatusOpen || txn.OpenPrice == nil {
		return
	}
	// Direction comes from the entry order; without one there is nothing to
	// value.
	var entry *domain.Order
	for i := range orders {
		if orders[i].ID == txn.EntryOrderID {
			entry = &orders[i]
			break
		}
	}
	if entry == nil {
		return
	}
	pl := last.Sub(*txn.OpenPrice).Mul(entry.FilledQty)
	if entry.Side == domain.SideSell {
		pl = pl.Neg()
	}
	detail.UnrealizedPL = &pl
}

func (s *Server) handleTPSL(w http.ResponseWriter, r *http.Request) {
	var req TPSLRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TakeProfit == nil && req.StopLoss == nil {
		writeError(w, http.StatusBadRequest, "at least one of takeProfit, stopLoss is required")
		return
	}
	id := r.PathValue("id")
	if err := s.engine.AdjustTPSL(r.Context(), id, req.TakeProfit, req.StopLoss); err != nil {
		writeEngineError(w, err)
		return
	}
	txn, err := s.engine.Transaction(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, transactionJSON(txn))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	heuristic := q.Get("heuristic") == "true"
	fetchAll := q.Get("fetch_all") != "false"
	if err := s.engine.RefreshOrders(r.Context(), heuristic, fetchAll); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit export not configured")
		return
	}
	day := time.Now().UTC()
	if d := r.URL.Query().Get("date"); d != "" {
		parsed, err := time.Parse("2006-01-02", d)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		day = parsed
	}
	dir, err := s.audit.Export(r.Context(), day)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, ExportResponse{Dir: dir})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, HealthResponse{Status: "ok", Broker: s.engine.BrokerName()})
}

// Serve runs the API on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.log.Info("http api listening", "addr", addr)
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
