// Package position owns the Position lifecycle: opening with protective
// orders, re-pricing, trigger evaluation and closing.
package position

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cryptotrader/internal/events"
	"cryptotrader/internal/gateway/exchange"
	"cryptotrader/internal/logger"
	"cryptotrader/internal/metrics"
	"cryptotrader/internal/order"
	"cryptotrader/internal/pkg/keylock"
	"cryptotrader/internal/pkg/symbol"
	"cryptotrader/internal/store"
	"cryptotrader/internal/trading"

	"github.com/google/uuid"
)

var (
	ErrNotFound = store.ErrNotFound

	errUnchanged = errors.New("unchanged")
)

// Orders is the order lifecycle the position manager delegates to.
type Orders interface {
	Place(ctx context.Context, spec order.Spec) (trading.Order, error)
	Cancel(ctx context.Context, id string) (trading.Order, error)
	Settle(ctx context.Context, id string, price float64) (trading.Order, error)
	Get(ctx context.Context, id string) (trading.Order, error)
	List(ctx context.Context, f store.OrderFilter) ([]trading.Order, error)
}

// Exchange supplies market prices.
type Exchange interface {
	Simulated() bool
	Ticker(ctx context.Context, pair string) (exchange.Ticker, error)
}

// Protection names a protective order slot on a position.
type Protection string

const (
	StopLoss   Protection = "STOP_LOSS"
	TakeProfit Protection = "TAKE_PROFIT"
)

func ParseProtection(raw string) (Protection, bool) {
	switch Protection(raw) {
	case StopLoss, TakeProfit:
		return Protection(raw), true
	}
	return "", false
}

type OpenRequest struct {
	Pair       string
	Side       trading.PositionSide
	Quantity   float64
	EntryPrice float64
	StrategyID string
	StopLoss   float64
	TakeProfit float64
}

type Manager struct {
	ledger      store.Ledger
	orders      Orders
	exchange    Exchange
	retrier     *exchange.Retrier
	bus         events.Publisher
	metrics     *metrics.Metrics
	locks       *keylock.Map
	maxParallel int
	now         func() time.Time
	newID       func() string
}

type Option func(*Manager)

func WithBus(b events.Publisher) Option { return func(m *Manager) { m.bus = b } }

func WithMetrics(mt *metrics.Metrics) Option { return func(m *Manager) { m.metrics = mt } }

// WithMaxParallelPairs bounds how many pairs SyncAll prices at once.
func WithMaxParallelPairs(n int) Option { return func(m *Manager) { m.maxParallel = n } }

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func WithIDGenerator(fn func() string) Option { return func(m *Manager) { m.newID = fn } }

func NewManager(ledger store.Ledger, orders Orders, ex Exchange, retrier *exchange.Retrier, opts ...Option) *Manager {
	if retrier == nil {
		retrier = exchange.NewRetrier(exchange.DefaultRetryPolicy())
	}
	m := &Manager{
		ledger:      ledger,
		orders:      orders,
		exchange:    ex,
		retrier:     retrier,
		locks:       keylock.New(),
		maxParallel: 4,
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open executes the entry order, records the position and attaches the
// requested protective orders. Protective placement failures are logged and
// leave the position open with reduced protection.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (trading.Position, error) {
	p := trading.Position{
		ID:              m.newID(),
		StrategyID:      req.StrategyID,
		Pair:            symbol.Normalize(req.Pair),
		Side:            req.Side,
		Quantity:        req.Quantity,
		EntryPrice:      req.EntryPrice,
		StopLossPrice:   req.StopLoss,
		TakeProfitPrice: req.TakeProfit,
		Status:          trading.PositionOpen,
	}
	if req.EntryPrice < 0 {
		return trading.Position{}, fmt.Errorf("%w: entry price must not be negative", trading.ErrInvalidPosition)
	}
	reference := req.EntryPrice
	if reference == 0 {
		// Validate everything but the price before touching the venue.
		draft := p
		draft.EntryPrice = 1
		draft.StopLossPrice, draft.TakeProfitPrice = 0, 0
		if err := draft.Validate(); err != nil {
			return trading.Position{}, err
		}
		price, err := m.marketPrice(ctx, p.Pair)
		if err != nil {
			return trading.Position{}, fmt.Errorf("entry reference price: %w", err)
		}
		reference = price
	} else if err := p.Validate(); err != nil {
		return trading.Position{}, err
	}

	unlock := m.locks.Lock(p.ID)
	defer unlock()

	entry, err := m.orders.Place(ctx, order.Spec{
		PositionID:     p.ID,
		Pair:           p.Pair,
		Side:           p.Side.EntryOrderSide(),
		Kind:           trading.KindMarket,
		Quantity:       p.Quantity,
		ReferencePrice: reference,
	})
	if err != nil {
		return trading.Position{}, fmt.Errorf("entry order: %w", err)
	}
	if entry.Status != trading.OrderFilled && entry.Status != trading.OrderOpen && entry.Status != trading.OrderPartiallyFilled {
		return trading.Position{}, fmt.Errorf("entry order %s ended %s", entry.ID, entry.Status)
	}

	// From here on the entry has executed: the position is recorded no
	// matter what the venue reported about the price.
	if p.EntryPrice == 0 {
		p.EntryPrice = entry.AvgFillPrice
		if !(p.EntryPrice > 0) {
			logger.Warnf("PositionManager: entry order %s for %s reported no fill price, using reference %.8f", entry.ID, p.ID, reference)
			p.EntryPrice = reference
		}
		if err := trading.ValidateProtection(p.Side, p.EntryPrice, p.StopLossPrice, p.TakeProfitPrice); err != nil {
			logger.Warnf("PositionManager: protection dropped for %s: %v", p.ID, err)
			p.StopLossPrice, p.TakeProfitPrice = 0, 0
		}
	}
	p.EntryOrderID = entry.ID
	p.OpenedAt = m.now()
	p.Reprice(p.EntryPrice, p.OpenedAt)

	opened, err := m.ledger.InsertPosition(context.WithoutCancel(ctx), p)
	if err != nil {
		logger.Errorf("PositionManager: entry order %s executed but position %s could not be stored: %v", entry.ID, p.ID, err)
		return trading.Position{}, fmt.Errorf("persist position: %w", err)
	}
	m.metrics.PositionOpened(string(opened.Side), m.exchange.Simulated())
	m.publish(opened)
	logger.Infof("PositionManager: opened %s %s %.8f %s @ %.8f (entry order %s)",
		opened.ID, opened.Side, opened.Quantity, opened.Pair, opened.EntryPrice, entry.ID)

	var stopID, targetID string
	if opened.StopLossPrice > 0 {
		stopID = m.placeProtective(ctx, opened, StopLoss, opened.StopLossPrice)
	}
	if opened.TakeProfitPrice > 0 {
		targetID = m.placeProtective(ctx, opened, TakeProfit, opened.TakeProfitPrice)
	}
	if stopID != "" || targetID != "" {
		protected, err := m.mutate(context.WithoutCancel(ctx), opened.ID, func(p *trading.Position) error {
			p.StopLossOrderID = stopID
			p.TakeProfitOrderID = targetID
			return nil
		})
		if err != nil {
			logger.Errorf("PositionManager: store protective order ids on %s failed: %v", opened.ID, err)
		} else {
			opened = protected
		}
	}
	return opened, nil
}

// placeProtective places one protective order and returns its id, or ""
// when placement failed.
func (m *Manager) placeProtective(ctx context.Context, p trading.Position, kind Protection, price float64) string {
	spec := order.Spec{
		PositionID:     p.ID,
		Pair:           p.Pair,
		Side:           p.Side.ExitOrderSide(),
		Quantity:       p.Quantity,
		TriggerPrice:   price,
		ReferencePrice: price,
	}
	if kind == StopLoss {
		spec.Kind = trading.KindStopLoss
	} else {
		spec.Kind = trading.KindTakeProfitLimit
		spec.LimitPrice = price
	}
	o, err := m.orders.Place(ctx, spec)
	if err != nil {
		logger.Warnf("PositionManager: %s order for %s at %.8f failed, position left with reduced protection: %v", kind, p.ID, price, err)
		return ""
	}
	return o.ID
}

// UpdatePrice re-prices an open position and closes it if a protective
// trigger fires (stop-loss is checked first). Closed positions are returned
// unchanged.
func (m *Manager) UpdatePrice(ctx context.Context, id string, price float64) (trading.Position, error) {
	if !(price > 0) {
		return trading.Position{}, fmt.Errorf("update price %s: price must be positive", id)
	}
	unlock := m.locks.Lock(id)
	defer unlock()

	p, err := m.mutate(ctx, id, func(p *trading.Position) error {
		if !p.IsOpen() {
			return errUnchanged
		}
		before := *p
		p.Reprice(price, m.now())
		if before.LastPrice == p.LastPrice && before.UnrealizedPnL == p.UnrealizedPnL && before.UnrealizedPnLPct == p.UnrealizedPnLPct {
			return errUnchanged
		}
		return nil
	})
	if err != nil {
		return trading.Position{}, err
	}
	if !p.IsOpen() {
		return p, nil
	}
	if reason, ok := m.filledProtection(ctx, p); ok {
		logger.Infof("PositionManager: %s order of %s already filled at the venue", reason, p.ID)
		return m.closeLocked(ctx, p, price, reason)
	}
	reason, fired := p.TriggeredBy(price)
	if !fired {
		return p, nil
	}
	logger.Infof("PositionManager: %s trigger fired for %s at %.8f", reason, p.ID, price)
	return m.closeLocked(ctx, p, price, reason)
}

// Close closes the position at exitPrice. A MANUAL close first sends an
// exit-side market order; trigger closes resolve the protective order that
// fired (see triggeredExit). Remaining protective orders are cancelled. Closing a CLOSED
// position returns it with trading.ErrPositionClosed.
func (m *Manager) Close(ctx context.Context, id string, exitPrice float64, reason trading.CloseReason) (trading.Position, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	p, err := m.ledger.GetPosition(ctx, id)
	if err != nil {
		return trading.Position{}, err
	}
	return m.closeLocked(ctx, p, exitPrice, reason)
}

func (m *Manager) closeLocked(ctx context.Context, p trading.Position, exitPrice float64, reason trading.CloseReason) (trading.Position, error) {
	if !p.IsOpen() {
		return p, trading.ErrPositionClosed
	}
	if reason == "" {
		reason = trading.CloseManual
	}
	if reason != trading.CloseManual && !reason.Triggered() {
		return p, fmt.Errorf("%w: unknown close reason %q", trading.ErrInvalidPosition, reason)
	}

	exitOrderID := ""
	exitQty := p.Quantity
	if reason.Triggered() {
		fired := p.StopLossOrderID
		if reason == trading.CloseTakeProfit {
			fired = p.TakeProfitOrderID
		}
		if fired != "" {
			exit, err := m.triggeredExit(ctx, p, fired, exitPrice)
			if err != nil {
				return p, err
			}
			switch {
			case exit.Status == trading.OrderFilled:
				exitOrderID = exit.ID
				if exit.AvgFillPrice > 0 && !m.exchange.Simulated() {
					exitPrice = exit.AvgFillPrice
				}
			case trading.FullyFilled(exit.FilledQty, p.Quantity):
				exitOrderID = exit.ID
			case exit.FilledQty > 0:
				// Partly executed before it was cancelled: flatten the rest.
				exitQty = p.Quantity - exit.FilledQty
			}
		}
	}
	// Manual closes, and triggers whose protective order did not execute at
	// the venue, flatten with a market order.
	if exitOrderID == "" {
		exit, err := m.orders.Place(ctx, order.Spec{
			PositionID:     p.ID,
			Pair:           p.Pair,
			Side:           p.Side.ExitOrderSide(),
			Kind:           trading.KindMarket,
			Quantity:       exitQty,
			ReferencePrice: exitPrice,
		})
		if err != nil {
			return p, fmt.Errorf("exit order: %w", err)
		}
		exitOrderID = exit.ID
		if !(exitPrice > 0) || (!m.exchange.Simulated() && exit.Status == trading.OrderFilled && exit.AvgFillPrice > 0) {
			exitPrice = exit.AvgFillPrice
		}
	}
	if !(exitPrice > 0) {
		exitPrice = p.LastPrice
	}

	for _, oid := range p.ProtectiveOrderIDs() {
		if oid != exitOrderID {
			m.cancelProtective(ctx, p.ID, oid)
		}
	}

	closed, err := m.mutate(context.WithoutCancel(ctx), p.ID, func(p *trading.Position) error {
		if err := p.Close(exitPrice, reason, m.now()); err != nil {
			return err
		}
		p.ExitOrderID = exitOrderID
		return nil
	})
	if err != nil {
		return p, fmt.Errorf("persist closed position %s: %w", p.ID, err)
	}
	m.metrics.PositionClosed(string(reason))
	logger.Infof("PositionManager: closed %s (%s) @ %.8f realized %.8f (%.4f%%)",
		closed.ID, reason, closed.ExitPrice, closed.RealizedPnL, closed.RealizedPnLPct)
	return closed, nil
}

// triggeredExit resolves the protective order whose trigger fired. On the
// paper venue it is settled locally. On a live venue the ledger only follows
// the venue: a FILLED order is the exit, otherwise the order is cancelled at
// the venue and a zero-value order is returned so the caller sends a market
// exit. A cancel that fails leaves the position open for the next pass.
func (m *Manager) triggeredExit(ctx context.Context, p trading.Position, firedID string, price float64) (trading.Order, error) {
	if m.exchange.Simulated() {
		o, err := m.orders.Settle(ctx, firedID, price)
		if err != nil {
			logger.Warnf("PositionManager: settle order %s for %s failed: %v", firedID, p.ID, err)
			return trading.Order{ID: firedID, Status: trading.OrderFilled}, nil
		}
		return o, nil
	}

	if o, err := m.orders.Get(ctx, firedID); err == nil && o.Status == trading.OrderFilled {
		return o, nil
	}
	o, err := m.orders.Cancel(ctx, firedID)
	switch {
	case err == nil, errors.Is(err, order.ErrAlreadyTerminal):
		return o, nil
	case errors.Is(err, store.ErrNotFound):
		return trading.Order{}, nil
	default:
		logger.Warnf("PositionManager: cancel of fired order %s for %s failed, position left open: %v", firedID, p.ID, err)
		return trading.Order{}, fmt.Errorf("cancel fired order %s: %w", firedID, err)
	}
}

// filledProtection reports a protective order that the ledger already
// records as FILLED, typically after reconciliation caught a venue-side
// trigger.
func (m *Manager) filledProtection(ctx context.Context, p trading.Position) (trading.CloseReason, bool) {
	for _, slot := range []struct {
		id     string
		reason trading.CloseReason
	}{
		{p.StopLossOrderID, trading.CloseStopLoss},
		{p.TakeProfitOrderID, trading.CloseTakeProfit},
	} {
		if slot.id == "" {
			continue
		}
		o, err := m.orders.Get(ctx, slot.id)
		if err != nil {
			continue
		}
		if o.Status == trading.OrderFilled {
			return slot.reason, true
		}
	}
	return "", false
}

// cancelProtective cancels an outstanding protective order. Orders that
// already reached a terminal state are fine; venue failures are logged and
// left for the orphan sweep.
func (m *Manager) cancelProtective(ctx context.Context, positionID, orderID string) bool {
	_, err := m.orders.Cancel(ctx, orderID)
	switch {
	case err == nil, errors.Is(err, order.ErrAlreadyTerminal):
		return true
	default:
		logger.Warnf("PositionManager: cancel protective order %s of %s failed: %v", orderID, positionID, err)
		return false
	}
}

// AttachProtection sets the stop-loss or take-profit of an open position.
// An existing order of the same kind is cancelled before the new one is
// placed.
func (m *Manager) AttachProtection(ctx context.Context, id string, kind Protection, price float64) (trading.Position, error) {
	if _, ok := ParseProtection(string(kind)); !ok {
		return trading.Position{}, fmt.Errorf("%w: unknown protection %q", trading.ErrInvalidPosition, kind)
	}
	unlock := m.locks.Lock(id)
	defer unlock()

	p, err := m.ledger.GetPosition(ctx, id)
	if err != nil {
		return trading.Position{}, err
	}
	if !p.IsOpen() {
		return p, trading.ErrPositionClosed
	}
	stop, target := p.StopLossPrice, p.TakeProfitPrice
	if kind == StopLoss {
		stop = price
	} else {
		target = price
	}
	if !(price > 0) {
		return p, fmt.Errorf("%w: protective price must be positive", trading.ErrInvalidPosition)
	}
	if err := trading.ValidateProtection(p.Side, p.EntryPrice, stop, target); err != nil {
		return p, err
	}

	if old := protectiveID(p, kind); old != "" {
		if !m.cancelProtective(ctx, p.ID, old) {
			return p, fmt.Errorf("replace %s on %s: cancel of %s failed", kind, p.ID, old)
		}
	}
	newID := m.placeProtective(ctx, p, kind, price)

	updated, err := m.mutate(context.WithoutCancel(ctx), id, func(p *trading.Position) error {
		setProtection(p, kind, price, newID)
		return nil
	})
	if err != nil {
		return p, err
	}
	if newID == "" {
		return updated, fmt.Errorf("place %s order for %s failed", kind, id)
	}
	return updated, nil
}

// DetachProtection cancels and forgets the protective order of kind.
func (m *Manager) DetachProtection(ctx context.Context, id string, kind Protection) (trading.Position, error) {
	if _, ok := ParseProtection(string(kind)); !ok {
		return trading.Position{}, fmt.Errorf("%w: unknown protection %q", trading.ErrInvalidPosition, kind)
	}
	unlock := m.locks.Lock(id)
	defer unlock()

	p, err := m.ledger.GetPosition(ctx, id)
	if err != nil {
		return trading.Position{}, err
	}
	if !p.IsOpen() {
		return p, trading.ErrPositionClosed
	}
	if old := protectiveID(p, kind); old != "" {
		if !m.cancelProtective(ctx, p.ID, old) {
			return p, fmt.Errorf("detach %s from %s: cancel of %s failed", kind, p.ID, old)
		}
	}
	return m.mutate(context.WithoutCancel(ctx), id, func(p *trading.Position) error {
		setProtection(p, kind, 0, "")
		return nil
	})
}

func protectiveID(p trading.Position, kind Protection) string {
	if kind == StopLoss {
		return p.StopLossOrderID
	}
	return p.TakeProfitOrderID
}

func setProtection(p *trading.Position, kind Protection, price float64, orderID string) {
	if kind == StopLoss {
		p.StopLossPrice, p.StopLossOrderID = price, orderID
		return
	}
	p.TakeProfitPrice, p.TakeProfitOrderID = price, orderID
}

func (m *Manager) Get(ctx context.Context, id string) (trading.Position, error) {
	return m.ledger.GetPosition(ctx, id)
}

func (m *Manager) List(ctx context.Context, f store.PositionFilter) ([]trading.Position, error) {
	return m.ledger.ListPositions(ctx, f)
}

// mutate updates through the ledger and publishes the change. errUnchanged
// from fn returns the current row without writing.
func (m *Manager) mutate(ctx context.Context, id string, fn func(*trading.Position) error) (trading.Position, error) {
	p, err := m.ledger.UpdatePosition(ctx, id, fn)
	if errors.Is(err, errUnchanged) {
		return m.ledger.GetPosition(ctx, id)
	}
	if err != nil {
		return trading.Position{}, err
	}
	m.publish(p)
	return p, nil
}

func (m *Manager) publish(p trading.Position) {
	if m.bus != nil {
		m.bus.Publish(events.PositionEvent(p))
	}
}
