// Package order owns the Order state machine: durable write-before-call
// placement, cancellation and reconciliation against the venue.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cryptotrader/internal/events"
	"cryptotrader/internal/gateway/exchange"
	"cryptotrader/internal/logger"
	"cryptotrader/internal/metrics"
	"cryptotrader/internal/pkg/keylock"
	"cryptotrader/internal/pkg/symbol"
	"cryptotrader/internal/store"
	"cryptotrader/internal/trading"

	"github.com/google/uuid"
)

var (
	ErrAlreadyTerminal = errors.New("order already terminal")
	ErrNotFound        = store.ErrNotFound

	errUnchanged = errors.New("unchanged")
)

// OrderError reports an order the venue refused. Reason is the venue's
// message verbatim.
type OrderError struct {
	OrderID string
	Status  trading.OrderStatus
	Reason  string
	Err     error
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("order %s %s: %s", e.OrderID, strings.ToLower(string(e.Status)), e.Reason)
}

func (e *OrderError) Unwrap() error { return e.Err }

// Exchange is the subset of the exchange client the manager drives.
type Exchange interface {
	Simulated() bool
	PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.PlaceResult, error)
	CancelOrder(ctx context.Context, exchangeID string) error
	OpenOrders(ctx context.Context) ([]exchange.VenueOrder, error)
	ClosedOrders(ctx context.Context) ([]exchange.VenueOrder, error)
}

// Spec describes an order to place.
type Spec struct {
	PositionID   string
	Pair         string
	Side         trading.OrderSide
	Kind         trading.OrderKind
	Quantity     float64
	LimitPrice   float64
	TriggerPrice float64
	// ReferencePrice is the expected execution price; used as the fill
	// price of market orders whose acknowledgement carries none.
	ReferencePrice float64
}

type Manager struct {
	ledger       store.Ledger
	exchange     Exchange
	retrier      *exchange.Retrier
	fees         trading.FeeSchedule
	bus          events.Publisher
	metrics      *metrics.Metrics
	locks        *keylock.Map
	pendingGrace time.Duration
	now          func() time.Time
	newID        func() string
}

type Option func(*Manager)

func WithFees(f trading.FeeSchedule) Option { return func(m *Manager) { m.fees = f } }

func WithBus(b events.Publisher) Option { return func(m *Manager) { m.bus = b } }

func WithMetrics(mt *metrics.Metrics) Option { return func(m *Manager) { m.metrics = mt } }

// WithPendingGrace sets how old a PENDING order without a venue counterpart
// must be before reconciliation rejects it. Zero disables the sweep.
func WithPendingGrace(d time.Duration) Option { return func(m *Manager) { m.pendingGrace = d } }

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func WithIDGenerator(fn func() string) Option { return func(m *Manager) { m.newID = fn } }

func NewManager(ledger store.Ledger, ex Exchange, retrier *exchange.Retrier, opts ...Option) *Manager {
	if retrier == nil {
		retrier = exchange.NewRetrier(exchange.DefaultRetryPolicy())
	}
	m := &Manager{
		ledger:   ledger,
		exchange: ex,
		retrier:  retrier,
		fees:     trading.DefaultFeeSchedule(),
		locks:    keylock.New(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Simulated() bool { return m.exchange.Simulated() }

// Place records the order as PENDING, then sends it to the venue. The
// PENDING row is durable before the first network call; if it cannot be
// written the venue is never called.
func (m *Manager) Place(ctx context.Context, spec Spec) (trading.Order, error) {
	o := trading.Order{
		ID:           m.newID(),
		PositionID:   spec.PositionID,
		Pair:         symbol.Normalize(spec.Pair),
		Side:         spec.Side,
		Kind:         spec.Kind,
		Quantity:     spec.Quantity,
		LimitPrice:   spec.LimitPrice,
		TriggerPrice: spec.TriggerPrice,
		Status:       trading.OrderPending,
		PlacedAt:     m.now(),
		Simulated:    m.exchange.Simulated(),
	}
	if err := o.Validate(); err != nil {
		return trading.Order{}, err
	}

	// Nothing else knows the id until the insert commits. The per-order lock
	// is only taken around the ledger writes so a reconcile pass never waits
	// out a backoff.
	pending, err := m.ledger.InsertOrder(ctx, o)
	if err != nil {
		return trading.Order{}, fmt.Errorf("persist pending order: %w", err)
	}
	m.observe(pending, "")

	var res exchange.PlaceResult
	req := exchange.RequestFromOrder(pending, spec.ReferencePrice)
	attempts, callErr := m.retrier.Do(ctx, exchange.OpPlaceOrder, func(ctx context.Context) error {
		r, err := m.exchange.PlaceOrder(ctx, req)
		if err == nil {
			res = r
		}
		return err
	})

	// The venue may have acted on the request: record the outcome even if
	// the caller has gone away.
	persistCtx := context.WithoutCancel(ctx)

	if callErr != nil {
		if ctx.Err() != nil || exchange.Classify(callErr) == exchange.Cancelled {
			kept, _, err := m.updateLocked(persistCtx, pending.ID, func(o *trading.Order) error {
				o.Attempts = attempts
				return nil
			})
			if err != nil {
				logger.Errorf("OrderManager: record attempts for %s failed: %v", pending.ID, err)
				kept = pending
			}
			logger.Warnf("OrderManager: placement of %s interrupted after %d attempt(s), left PENDING for reconciliation", pending.ID, attempts)
			return kept, callErr
		}
		reason := exchange.Reason(callErr)
		rejected, _, err := m.updateLocked(persistCtx, pending.ID, func(o *trading.Order) error {
			o.Attempts = attempts
			if o.Status != trading.OrderPending {
				// Reconciliation already found it at the venue.
				return nil
			}
			o.Error = reason
			return o.Transition(trading.OrderRejected, m.now())
		})
		if err != nil {
			return pending, fmt.Errorf("persist rejected order %s: %w", pending.ID, err)
		}
		if rejected.Status != trading.OrderRejected {
			logger.Warnf("OrderManager: order %s failed to place (%s) but the venue reports it %s", rejected.ID, reason, rejected.Status)
			return rejected, nil
		}
		logger.Warnf("OrderManager: order %s %s %s rejected after %d attempt(s): %s", rejected.ID, rejected.Kind, rejected.Pair, attempts, reason)
		return rejected, &OrderError{OrderID: rejected.ID, Status: rejected.Status, Reason: reason, Err: callErr}
	}

	placed, _, err := m.updateLocked(persistCtx, pending.ID, func(o *trading.Order) error {
		return m.applyAck(o, res, attempts, spec.ReferencePrice)
	})
	if err != nil {
		// Reconciliation binds the venue order through its client id.
		return pending, fmt.Errorf("persist acknowledged order %s (venue id %s): %w", pending.ID, res.PrimaryID(), err)
	}
	logger.Infof("OrderManager: order %s %s %s %.8f %s -> %s (venue id %s, attempts %d)",
		placed.ID, placed.Side, placed.Kind, placed.Quantity, placed.Pair, placed.Status, placed.ExchangeID, attempts)
	return placed, nil
}

func (m *Manager) applyAck(o *trading.Order, res exchange.PlaceResult, attempts int, reference float64) error {
	o.Attempts = attempts
	if len(res.Raw) > 0 {
		o.RawPayload = res.Raw
	}
	if err := o.BindExchangeID(res.PrimaryID()); err != nil {
		return err
	}
	if o.Status != trading.OrderPending {
		// Reconciliation got there first; its venue view stands.
		return nil
	}
	now := m.now()
	if err := o.Transition(trading.OrderOpen, now); err != nil {
		return err
	}

	fill := res.Fill
	immediate := o.Kind == trading.KindMarket || (fill != nil && trading.FullyFilled(fill.Quantity, o.Quantity))
	if !immediate {
		if fill != nil && fill.Quantity > 0 {
			if err := o.ApplyFill(fill.Quantity, fill.AvgPrice, fill.Fee); err != nil {
				return err
			}
			return o.Transition(trading.OrderPartiallyFilled, now)
		}
		return nil
	}

	qty := o.Quantity
	price := reference
	fee := 0.0
	if fill != nil {
		if fill.Quantity > 0 {
			qty = fill.Quantity
		}
		if fill.AvgPrice > 0 {
			price = fill.AvgPrice
		}
		fee = fill.Fee
	}
	if price <= 0 {
		price = o.LimitPrice
	}
	if price <= 0 {
		// Executed at an unknown price: stay OPEN until reconciliation
		// reports the fill.
		logger.Warnf("OrderManager: venue acknowledged %s %s without a fill price, left OPEN for reconciliation", o.ID, o.Kind)
		return nil
	}
	if fee <= 0 {
		fee = m.fees.Fee(o.Kind, qty, price)
	}
	if err := o.ApplyFill(qty, price, fee); err != nil {
		return err
	}
	return o.Transition(trading.OrderFilled, now)
}

// Cancel cancels the order at the venue, then locally. Orders never
// acknowledged by the venue are cancelled locally only. Cancelling a
// CANCELLED order succeeds without doing anything.
func (m *Manager) Cancel(ctx context.Context, id string) (trading.Order, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	o, err := m.ledger.GetOrder(ctx, id)
	if err != nil {
		return trading.Order{}, err
	}
	if o.Status == trading.OrderCancelled {
		return o, nil
	}
	if o.Status.Terminal() {
		return o, fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, id, o.Status)
	}

	if o.ExchangeID != "" {
		_, err := m.retrier.Do(ctx, exchange.OpCancelOrder, func(ctx context.Context) error {
			return m.exchange.CancelOrder(ctx, o.ExchangeID)
		})
		if err != nil {
			logger.Warnf("OrderManager: cancel %s (venue id %s) failed: %s", id, o.ExchangeID, exchange.Reason(err))
			return o, err
		}
	}

	cancelled, _, err := m.update(context.WithoutCancel(ctx), id, func(o *trading.Order) error {
		return o.Transition(trading.OrderCancelled, m.now())
	})
	if err != nil {
		return o, fmt.Errorf("persist cancelled order %s: %w", id, err)
	}
	logger.Infof("OrderManager: order %s cancelled", id)
	return cancelled, nil
}

// Settle marks an order FILLED at price without asking the venue. It is
// used when a protective order's trigger fires locally. Terminal orders are
// returned unchanged.
func (m *Manager) Settle(ctx context.Context, id string, price float64) (trading.Order, error) {
	if !(price > 0) {
		return trading.Order{}, fmt.Errorf("settle %s: price must be positive", id)
	}
	unlock := m.locks.Lock(id)
	defer unlock()

	settled, changed, err := m.update(ctx, id, func(o *trading.Order) error {
		if o.Status.Terminal() {
			return errUnchanged
		}
		qty := o.Quantity
		if err := o.ApplyFill(qty, price, m.fees.Fee(o.Kind, qty, price)); err != nil {
			return err
		}
		return o.Transition(trading.OrderFilled, m.now())
	})
	if err != nil {
		return trading.Order{}, err
	}
	if changed {
		logger.Infof("OrderManager: order %s settled at %.8f", id, price)
	}
	return settled, nil
}

func (m *Manager) Get(ctx context.Context, id string) (trading.Order, error) {
	return m.ledger.GetOrder(ctx, id)
}

func (m *Manager) List(ctx context.Context, f store.OrderFilter) ([]trading.Order, error) {
	return m.ledger.ListOrders(ctx, f)
}

func (m *Manager) updateLocked(ctx context.Context, id string, fn func(*trading.Order) error) (trading.Order, bool, error) {
	unlock := m.locks.Lock(id)
	defer unlock()
	return m.update(ctx, id, fn)
}

// update applies fn through the ledger and publishes the result. A mutator
// returning errUnchanged yields the current row and changed=false.
func (m *Manager) update(ctx context.Context, id string, fn func(*trading.Order) error) (trading.Order, bool, error) {
	var prev trading.OrderStatus
	o, err := m.ledger.UpdateOrder(ctx, id, func(o *trading.Order) error {
		prev = o.Status
		return fn(o)
	})
	if errors.Is(err, errUnchanged) {
		cur, gerr := m.ledger.GetOrder(ctx, id)
		return cur, false, gerr
	}
	if err != nil {
		return trading.Order{}, false, err
	}
	m.observe(o, prev)
	return o, true, nil
}

func (m *Manager) observe(o trading.Order, prev trading.OrderStatus) {
	if o.Status != prev {
		m.metrics.OrderStatus(string(o.Kind), string(o.Status), o.Simulated)
	}
	if m.bus != nil {
		m.bus.Publish(events.OrderEvent(o))
	}
}
