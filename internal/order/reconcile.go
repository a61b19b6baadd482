package order

import (
	"context"
	"errors"
	"fmt"

	"cryptotrader/internal/gateway/exchange"
	"cryptotrader/internal/logger"
	"cryptotrader/internal/pkg/symbol"
	"cryptotrader/internal/store"
	"cryptotrader/internal/trading"
)

const reasonNotAtVenue = "not found at venue"

// ErrVenueDivergence marks a ledger verdict the venue contradicted.
var ErrVenueDivergence = errors.New("ledger diverged from venue")

type ReconcileError struct {
	ExchangeID string `json:"exchange_id,omitempty"`
	OrderID    string `json:"order_id,omitempty"`
	Error      string `json:"error"`
}

type ReconcileReport struct {
	Created   int              `json:"created"`
	Updated   int              `json:"updated"`
	Unchanged int              `json:"unchanged"`
	Expired   int              `json:"expired"`
	Errors    []ReconcileError `json:"errors,omitempty"`
}

func (r *ReconcileReport) fail(exchangeID, orderID string, err error) {
	r.Errors = append(r.Errors, ReconcileError{ExchangeID: exchangeID, OrderID: orderID, Error: err.Error()})
}

// Reconcile merges the venue's open and closed orders into the ledger. The
// venue is authoritative: unknown venue orders are inserted, known ones are
// advanced along the state machine and never moved backwards.
func (m *Manager) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	venueOrders, err := m.fetchVenueOrders(ctx)
	if err != nil {
		m.metrics.ReconcileRun(err)
		return report, err
	}

	matched := make(map[string]struct{}, len(venueOrders))
	for _, vo := range venueOrders {
		if err := ctx.Err(); err != nil {
			m.metrics.ReconcileRun(err)
			return report, err
		}
		localID, outcome, err := m.reconcileOne(ctx, vo)
		if localID != "" {
			matched[localID] = struct{}{}
		}
		if err != nil {
			logger.Warnf("OrderManager: reconcile venue order %s failed: %v", vo.ExchangeID, err)
			report.fail(vo.ExchangeID, localID, err)
			continue
		}
		switch outcome {
		case outcomeCreated:
			report.Created++
		case outcomeUpdated:
			report.Updated++
		case outcomeReinstated:
			report.Updated++
			report.fail(vo.ExchangeID, localID, fmt.Errorf("%w: rejected locally, venue reports %s executed %.8f",
				ErrVenueDivergence, vo.Status, vo.ExecutedQty))
		default:
			report.Unchanged++
		}
	}

	if m.pendingGrace > 0 {
		m.expirePending(ctx, matched, &report)
	}

	m.metrics.ReconcileRun(nil)
	if report.Created+report.Updated+report.Expired > 0 || len(report.Errors) > 0 {
		logger.Infof("OrderManager: reconcile created=%d updated=%d unchanged=%d expired=%d errors=%d",
			report.Created, report.Updated, report.Unchanged, report.Expired, len(report.Errors))
	}
	return report, nil
}

// fetchVenueOrders returns closed then open orders, one entry per venue id.
// When a venue id shows up in both lists the terminal entry wins.
func (m *Manager) fetchVenueOrders(ctx context.Context) ([]exchange.VenueOrder, error) {
	var open, closed []exchange.VenueOrder
	if _, err := m.retrier.Do(ctx, exchange.OpOpenOrders, func(ctx context.Context) error {
		var err error
		open, err = m.exchange.OpenOrders(ctx)
		return err
	}); err != nil {
		return nil, fmt.Errorf("list open orders: %w", err)
	}
	if _, err := m.retrier.Do(ctx, exchange.OpClosedOrders, func(ctx context.Context) error {
		var err error
		closed, err = m.exchange.ClosedOrders(ctx)
		return err
	}); err != nil {
		return nil, fmt.Errorf("list closed orders: %w", err)
	}

	seen := make(map[string]struct{}, len(open)+len(closed))
	out := make([]exchange.VenueOrder, 0, len(open)+len(closed))
	for _, list := range [][]exchange.VenueOrder{closed, open} {
		for _, vo := range list {
			if vo.ExchangeID == "" {
				continue
			}
			if _, dup := seen[vo.ExchangeID]; dup {
				continue
			}
			seen[vo.ExchangeID] = struct{}{}
			out = append(out, vo)
		}
	}
	return out, nil
}

type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomeCreated
	outcomeUpdated
	outcomeReinstated
)

func (m *Manager) reconcileOne(ctx context.Context, vo exchange.VenueOrder) (string, outcome, error) {
	local, err := m.findLocal(ctx, vo)
	if errors.Is(err, store.ErrNotFound) {
		created, err := m.adopt(ctx, vo)
		if errors.Is(err, store.ErrDuplicate) {
			// Raced with a concurrent insert; merge into that row instead.
			if local, err = m.findLocal(ctx, vo); err != nil {
				return "", outcomeUnchanged, err
			}
		} else {
			return created.ID, outcomeCreated, err
		}
	} else if err != nil {
		return "", outcomeUnchanged, err
	}

	unlock := m.locks.Lock(local.ID)
	defer unlock()

	wasRejected := local.Status == trading.OrderRejected
	updated, changed, err := m.update(ctx, local.ID, func(o *trading.Order) error {
		return m.advance(o, vo)
	})
	if err != nil {
		return local.ID, outcomeUnchanged, err
	}
	if changed && wasRejected && updated.Status != trading.OrderRejected {
		logger.Warnf("OrderManager: order %s was REJECTED locally but venue %s reports %s (executed %.8f @ %.8f), reinstated",
			local.ID, vo.ExchangeID, vo.Status, vo.ExecutedQty, vo.AvgPrice)
		return local.ID, outcomeReinstated, nil
	}
	if changed {
		logger.Infof("OrderManager: reconciled order %s with venue %s (%s)", local.ID, vo.ExchangeID, vo.Status)
		return local.ID, outcomeUpdated, nil
	}
	return local.ID, outcomeUnchanged, nil
}

// findLocal looks the venue order up by venue id, then by the client id the
// order was placed with. The second lookup finds PENDING orders whose
// acknowledgement never made it into the ledger.
func (m *Manager) findLocal(ctx context.Context, vo exchange.VenueOrder) (trading.Order, error) {
	local, err := m.ledger.GetOrderByExchangeID(ctx, vo.ExchangeID)
	if err == nil || !errors.Is(err, store.ErrNotFound) || vo.ClientID == "" {
		return local, err
	}
	local, err = m.ledger.GetOrder(ctx, vo.ClientID)
	if err != nil {
		return local, err
	}
	if local.ExchangeID != "" && local.ExchangeID != vo.ExchangeID {
		return trading.Order{}, fmt.Errorf("%w: client id %s bound to %s, venue reports %s",
			trading.ErrExchangeIDBound, vo.ClientID, local.ExchangeID, vo.ExchangeID)
	}
	return local, nil
}

// adopt inserts a venue order that has no local row.
func (m *Manager) adopt(ctx context.Context, vo exchange.VenueOrder) (trading.Order, error) {
	o := trading.Order{
		ID:           m.newID(),
		Pair:         symbol.Normalize(vo.Pair),
		Side:         vo.Side,
		Kind:         vo.Kind,
		Quantity:     vo.Quantity,
		LimitPrice:   vo.LimitPrice,
		TriggerPrice: vo.TriggerPrice,
		ExchangeID:   vo.ExchangeID,
		Status:       vo.Status,
		PlacedAt:     vo.OpenedAt,
		FilledQty:    vo.ExecutedQty,
		AvgFillPrice: vo.AvgPrice,
		Fee:          vo.Fee,
		Simulated:    m.exchange.Simulated(),
		RawPayload:   vo.Raw,
	}
	if o.PlacedAt.IsZero() {
		o.PlacedAt = m.now()
	}
	if o.Status == "" {
		o.Status = trading.OrderOpen
	}
	closedAt := vo.ClosedAt
	if closedAt.IsZero() {
		closedAt = m.now()
	}
	switch o.Status {
	case trading.OrderFilled:
		o.FilledAt = &closedAt
		if o.FilledQty <= 0 {
			o.FilledQty = o.Quantity
		}
		if o.Fee <= 0 {
			o.Fee = m.fees.Fee(o.Kind, o.FilledQty, o.AvgFillPrice)
		}
	case trading.OrderCancelled:
		o.CancelledAt = &closedAt
	case trading.OrderRejected:
		o.Error = vo.Reason
	}

	created, err := m.ledger.InsertOrder(ctx, o)
	if err != nil {
		return trading.Order{}, err
	}
	m.observe(created, "")
	logger.Warnf("OrderManager: venue order %s had no local row, inserted as %s (%s)", vo.ExchangeID, created.ID, created.Status)
	return created, nil
}

// advance moves o toward the venue's view. It returns errUnchanged when the
// venue adds nothing.
func (m *Manager) advance(o *trading.Order, vo exchange.VenueOrder) error {
	bound := false
	if o.ExchangeID == "" {
		if err := o.BindExchangeID(vo.ExchangeID); err != nil {
			return err
		}
		bound = true
	}
	if len(vo.Raw) > 0 {
		o.RawPayload = vo.Raw
	}

	target := vo.Status
	fillAdvanced := vo.ExecutedQty >= o.FilledQty &&
		(vo.ExecutedQty > o.FilledQty+1e-12 ||
			(vo.AvgPrice > 0 && o.AvgFillPrice == 0) ||
			(vo.Fee > 0 && o.Fee == 0))

	switch {
	case target == o.Status:
		if !fillAdvanced && !bound {
			return errUnchanged
		}
	case trading.CanTransition(o.Status, target):
		at := vo.ClosedAt
		if at.IsZero() {
			at = m.now()
		}
		// OPEN first so a PENDING order passes through the acknowledged state.
		if o.Status == trading.OrderPending && target != trading.OrderRejected && target != trading.OrderOpen {
			if err := o.Transition(trading.OrderOpen, at); err != nil {
				return err
			}
		}
		if err := o.Transition(target, at); err != nil {
			return err
		}
		if target == trading.OrderRejected && vo.Reason != "" {
			o.Error = vo.Reason
		}
	case reinstatable(o.Status, vo):
		// A local rejection (retries exhausted, lost acknowledgement) that
		// the venue nonetheless executed. The venue wins.
		at := vo.ClosedAt
		if at.IsZero() {
			at = m.now()
		}
		if err := o.Reinstate(target, at); err != nil {
			return err
		}
	default:
		// The venue view is behind ours (or contradicts a terminal state).
		if !bound {
			return errUnchanged
		}
		return nil
	}

	if fillAdvanced {
		fee := vo.Fee
		if fee <= 0 && target == trading.OrderFilled {
			fee = m.fees.Fee(o.Kind, vo.ExecutedQty, vo.AvgPrice)
		}
		if err := o.ApplyFill(vo.ExecutedQty, vo.AvgPrice, fee); err != nil {
			return err
		}
	}
	return nil
}

// reinstatable reports whether a locally REJECTED order is live or has
// executed at the venue.
func reinstatable(local trading.OrderStatus, vo exchange.VenueOrder) bool {
	if local != trading.OrderRejected {
		return false
	}
	switch vo.Status {
	case trading.OrderOpen, trading.OrderPartiallyFilled, trading.OrderFilled:
		return true
	case trading.OrderCancelled:
		return vo.ExecutedQty > 0
	}
	return false
}

// expirePending rejects PENDING orders older than the grace period that no
// venue order matched.
func (m *Manager) expirePending(ctx context.Context, matched map[string]struct{}, report *ReconcileReport) {
	simulated := m.exchange.Simulated()
	pending, err := m.ledger.ListOrders(ctx, store.OrderFilter{
		Statuses:  []trading.OrderStatus{trading.OrderPending},
		Simulated: &simulated,
	})
	if err != nil {
		logger.Warnf("OrderManager: list pending orders failed: %v", err)
		report.fail("", "", err)
		return
	}
	cutoff := m.now().Add(-m.pendingGrace)
	for _, p := range pending {
		if _, ok := matched[p.ID]; ok || p.PlacedAt.After(cutoff) {
			continue
		}
		unlock := m.locks.Lock(p.ID)
		_, changed, err := m.update(ctx, p.ID, func(o *trading.Order) error {
			if o.Status != trading.OrderPending {
				return errUnchanged
			}
			o.Error = reasonNotAtVenue
			return o.Transition(trading.OrderRejected, m.now())
		})
		unlock()
		if err != nil {
			report.fail("", p.ID, err)
			continue
		}
		if changed {
			report.Expired++
			logger.Warnf("OrderManager: pending order %s expired: %s", p.ID, reasonNotAtVenue)
		}
	}
}
