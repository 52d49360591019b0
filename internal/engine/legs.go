package engine

import (
	"context"
	"log/slog"

	"saturn/internal/broker"
	"saturn/internal/domain"
	"saturn/internal/ledger"
)

// legManager tracks the child orders of bracket constructs. The broker
// excludes legs from ordinary listings, so they are inserted from the inline
// descriptors on acknowledgement and thereafter refreshed one by one.
type legManager struct {
	store ledger.Store
	gw    broker.Gateway
	log   *slog.Logger
}

// handleAck inserts one local leg row per descriptor reported on the remote
// bracket order. Descriptors that arrive as a bare id are backfilled with an
// individual fetch. Safe against double invocation: the insert is idempotent
// by broker leg id, so a race between concurrent reconciliation passes
// produces exactly one row. Each leg has its own error boundary.
func (m *legManager) handleAck(ctx context.Context, parent *domain.Order, remote *broker.Order) {
	for i := range remote.Legs {
		leg := remote.Legs[i]
		if leg.Symbol == "" {
			fetched, err := m.gw.Get(ctx, leg.ID)
			if err != nil {
				m.log.Error("backfilling bracket leg", "leg", leg.ID, "err", err)
				continue
			}
			leg = *fetched
		}
		inserted, err := m.store.UpsertLeg(ctx, legRow(parent, &leg))
		if err != nil {
			m.log.Error("inserting bracket leg", "leg", leg.ID, "parent", parent.ID, "err", err)
			continue
		}
		if inserted {
			m.log.Info("bracket leg recorded", "leg", leg.ID, "parent", parent.ID)
		}
	}
}

// refresh fetches every open leg individually and merges its state. Bulk
// listing never returns legs, so this is the only way their fills and
// cancellations reach the ledger.
func (m *legManager) refresh(ctx context.Context) {
	legs, err := m.store.OpenLegs(ctx)
	if err != nil {
		m.log.Error("loading open legs", "err", err)
		return
	}
	for i := range legs {
		leg := &legs[i]
		remote, err := m.gw.Get(ctx, leg.BrokerOrderID)
		if err != nil {
			m.log.Error("refreshing bracket leg", "leg", leg.ID, "err", err)
			continue
		}
		if !mergeRemote(leg, remote) {
			continue
		}
		if err := m.store.UpdateOrder(ctx, leg); err != nil {
			m.log.Error("updating bracket leg", "leg", leg.ID, "err", err)
		}
	}
}

// legRow builds the local row for a leg descriptor. The leg's role is
// derived purely from which price fields are present; the broker attaches no
// label of its own.
func legRow(parent *domain.Order, leg *broker.Order) *domain.Order {
	var typ domain.OrderType
	switch {
	case leg.LimitPrice != nil && leg.StopPrice != nil:
		typ = domain.OrderTypeStopLimit
	case leg.StopPrice != nil:
		typ = domain.OrderTypeStop
	default:
		typ = domain.OrderTypeLimit
	}
	return &domain.Order{
		Symbol:        leg.Symbol,
		Side:          domain.ParseSide(leg.Side),
		Type:          typ,
		Qty:           leg.Qty,
		LimitPrice:    leg.LimitPrice,
		StopPrice:     leg.StopPrice,
		Status:        domain.ParseOrderStatus(leg.Status),
		BrokerOrderID: leg.ID,
		FilledQty:     leg.FilledQty,
		AvgFillPrice:  leg.FilledAvgPrice,
		Comment:       leg.ClientOrderID,
		TransactionID: parent.TransactionID,
		ParentOrderID: parent.ID,
	}
}
