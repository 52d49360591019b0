package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Compile-time interface check.
var _ Gateway = (*Simulator)(nil)

// Simulator implements Gateway in memory for paper trading and tests. It
// reproduces the broker behaviours the engine has to survive: inline leg
// descriptors on bracket/oco submissions, legs excluded from listings,
// replace-by-new-id, asynchronous-looking cancellation, and (on demand)
// rate limiting and replace rejection.
type Simulator struct {
	mu        sync.Mutex
	seq       int
	orders    map[string]*Order
	byClient  map[string]string // client order id -> broker id
	legs      map[string]bool   // broker ids excluded from List
	positions map[string]decimal.Decimal
	base      time.Time

	fillOnSubmit    bool
	bareLegs        bool
	replaceFails    bool
	rateLimitLeft   int
	submitCount     int
	submitRejection error
}

// NewSimulator creates an empty Simulator.
func NewSimulator() *Simulator {
	return &Simulator{
		orders:    make(map[string]*Order),
		byClient:  make(map[string]string),
		legs:      make(map[string]bool),
		positions: make(map[string]decimal.Decimal),
		base:      time.Now().Add(-time.Hour),
	}
}

// Name returns "simulator".
func (s *Simulator) Name() string { return "simulator" }

// ---------------------------------------------------------------------------
// Behaviour knobs (test & paper-mode configuration)
// ---------------------------------------------------------------------------

// FillOnSubmit makes subsequent submissions fill immediately.
func (s *Simulator) FillOnSubmit(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fillOnSubmit = v
}

// BareLegDescriptors makes bracket submissions return legs that carry only
// their broker id, as later history syncs do.
func (s *Simulator) BareLegDescriptors(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bareLegs = v
}

// ReplaceFails makes Replace return ErrNotReplaceable.
func (s *Simulator) ReplaceFails(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceFails = v
}

// RateLimitNext makes the next n gateway calls fail with a RateLimitError.
func (s *Simulator) RateLimitNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateLimitLeft = n
}

// RejectSubmissions makes Submit fail with the given error (nil to clear).
func (s *Simulator) RejectSubmissions(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitRejection = err
}

// SubmitCount reports how many submissions reached the simulator.
func (s *Simulator) SubmitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitCount
}

// SetStatus forces a broker-side status, as if the order progressed remotely.
func (s *Simulator) SetStatus(id, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[id]; ok {
		o.Status = status
	}
}

// SetFilled marks an order filled broker-side and adjusts the position.
func (s *Simulator) SetFilled(id string, qty, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return
	}
	o.Status = "filled"
	o.FilledQty = qty
	p := price
	o.FilledAvgPrice = &p
	delta := qty
	if o.Side == "sell" {
		delta = qty.Neg()
	}
	s.positions[o.Symbol] = s.positions[o.Symbol].Add(delta)
}

// SetPosition forces the position for a symbol.
func (s *Simulator) SetPosition(symbol string, qty decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[symbol] = qty
}

// Drop removes an order from the simulator entirely, so later listings no
// longer include it (a lossy broker snapshot).
func (s *Simulator) Drop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, id)
}

// SetCreatedAt backdates an order, for grace-window scenarios.
func (s *Simulator) SetCreatedAt(id string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[id]; ok {
		o.CreatedAt = t
	}
}

// ---------------------------------------------------------------------------
// Gateway implementation
// ---------------------------------------------------------------------------

func (s *Simulator) rateLimited() error {
	if s.rateLimitLeft > 0 {
		s.rateLimitLeft--
		return &RateLimitError{Err: fmt.Errorf("simulated 429")}
	}
	return nil
}

// Submit records the order. Duplicate client order ids return the existing
// order, mirroring the broker's idempotency behaviour.
func (s *Simulator) Submit(_ context.Context, req OrderRequest) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.rateLimited(); err != nil {
		return nil, err
	}
	if s.submitRejection != nil {
		return nil, s.submitRejection
	}
	if id, ok := s.byClient[req.ClientOrderID]; ok && req.ClientOrderID != "" {
		out := s.copyOrder(s.orders[id])
		return &out, nil
	}

	s.submitCount++
	o := &Order{
		ID:            s.nextID(),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		OrderClass:    req.Class,
		Qty:           req.Qty,
		LimitPrice:    req.LimitPrice,
		StopPrice:     req.StopPrice,
		Status:        "new",
		CreatedAt:     s.nextCreatedAt(),
	}

	switch req.Class {
	case ClassBracket, ClassOCO:
		if req.Class == ClassOCO {
			o.Type = "limit"
			o.LimitPrice = req.TakeProfit
		}
		tp := &Order{
			ID:         s.nextID(),
			Symbol:     req.Symbol,
			Side:       req.Side,
			Type:       "limit",
			Qty:        req.Qty,
			LimitPrice: req.TakeProfit,
			Status:     "held",
			CreatedAt:  o.CreatedAt,
		}
		sl := &Order{
			ID:        s.nextID(),
			Symbol:    req.Symbol,
			Side:      req.Side,
			Type:      "stop",
			Qty:       req.Qty,
			StopPrice: req.StopLoss,
			Status:    "held",
			CreatedAt: o.CreatedAt,
		}
		for _, leg := range []*Order{tp, sl} {
			s.orders[leg.ID] = leg
			s.legs[leg.ID] = true
		}
		if s.bareLegs {
			o.Legs = []Order{{ID: tp.ID}, {ID: sl.ID}}
		} else {
			o.Legs = []Order{s.copyOrder(tp), s.copyOrder(sl)}
		}
	}

	if s.fillOnSubmit {
		o.Status = "filled"
		o.FilledQty = req.Qty
		if req.LimitPrice != nil {
			p := *req.LimitPrice
			o.FilledAvgPrice = &p
		}
		delta := req.Qty
		if req.Side == "sell" {
			delta = delta.Neg()
		}
		s.positions[req.Symbol] = s.positions[req.Symbol].Add(delta)
	}

	s.orders[o.ID] = o
	if req.ClientOrderID != "" {
		s.byClient[req.ClientOrderID] = o.ID
	}
	out := s.copyOrder(o)
	return &out, nil
}

// Get returns a copy of the order, legs included for bracket parents.
func (s *Simulator) Get(_ context.Context, id string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.rateLimited(); err != nil {
		return nil, err
	}
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := s.copyOrder(o)
	return &out, nil
}

// Cancel marks the order canceled broker-side. Filled orders reject.
func (s *Simulator) Cancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.rateLimited(); err != nil {
		return err
	}
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	if o.Status == "filled" {
		return &RejectionError{Code: 42210000, Message: "order already filled"}
	}
	o.Status = "canceled"
	return nil
}

// Replace marks the old order replaced and creates the replacement under a
// new broker id.
func (s *Simulator) Replace(_ context.Context, id string, req ReplaceRequest) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.rateLimited(); err != nil {
		return nil, err
	}
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.replaceFails {
		return nil, ErrNotReplaceable
	}

	repl := s.copyOrder(o)
	repl.ID = s.nextID()
	repl.ClientOrderID = req.ClientOrderID
	repl.Status = "new"
	repl.CreatedAt = s.nextCreatedAt()
	if req.LimitPrice != nil {
		p := *req.LimitPrice
		repl.LimitPrice = &p
	}
	if req.StopPrice != nil {
		p := *req.StopPrice
		repl.StopPrice = &p
	}

	o.Status = "replaced"
	stored := repl
	s.orders[stored.ID] = &stored
	if req.ClientOrderID != "" {
		s.byClient[req.ClientOrderID] = stored.ID
	}
	out := s.copyOrder(&stored)
	return &out, nil
}

// List returns non-leg orders, newest first, created strictly before the
// Until cursor (zero cursor means "now").
func (s *Simulator) List(_ context.Context, req ListRequest) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.rateLimited(); err != nil {
		return nil, err
	}

	var out []Order
	for id, o := range s.orders {
		if s.legs[id] {
			continue
		}
		if !req.Until.IsZero() && !o.CreatedAt.Before(req.Until) {
			continue
		}
		out = append(out, s.copyOrder(o))
	}
	// Newest first.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.After(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out, nil
}

// Position returns the current simulated position, zero when flat.
func (s *Simulator) Position(_ context.Context, symbol string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.rateLimited(); err != nil {
		return decimal.Zero, err
	}
	return s.positions[symbol], nil
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

func (s *Simulator) nextID() string {
	s.seq++
	return fmt.Sprintf("sim-%d", s.seq)
}

// nextCreatedAt spaces creation times so backward pagination is
// deterministic.
func (s *Simulator) nextCreatedAt() time.Time {
	return s.base.Add(time.Duration(s.seq) * time.Millisecond)
}

// copyOrder deep-copies price pointers so callers never alias internal state.
func (s *Simulator) copyOrder(o *Order) Order {
	out := *o
	if o.LimitPrice != nil {
		p := *o.LimitPrice
		out.LimitPrice = &p
	}
	if o.StopPrice != nil {
		p := *o.StopPrice
		out.StopPrice = &p
	}
	if o.FilledAvgPrice != nil {
		p := *o.FilledAvgPrice
		out.FilledAvgPrice = &p
	}
	if len(o.Legs) > 0 {
		out.Legs = append([]Order(nil), o.Legs...)
	}
	return out
}
