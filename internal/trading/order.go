// Package trading holds the order and position entities shared by the ledger,
// the lifecycle managers and the venues, together with their state machines.
package trading

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrExchangeIDBound   = errors.New("exchange order id already bound")
	ErrOverfill          = errors.New("filled quantity exceeds order quantity")
	ErrInvalidOrder      = errors.New("invalid order")
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Opposite returns the side that unwinds s.
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func (s OrderSide) Valid() bool { return s == SideBuy || s == SideSell }

// ParseOrderSide accepts buy/sell in any case.
func ParseOrderSide(raw string) (OrderSide, bool) {
	switch OrderSide(strings.ToUpper(strings.TrimSpace(raw))) {
	case SideBuy:
		return SideBuy, true
	case SideSell:
		return SideSell, true
	}
	return "", false
}

// OrderKind is the venue order type.
type OrderKind string

const (
	KindMarket          OrderKind = "MARKET"
	KindLimit           OrderKind = "LIMIT"
	KindStopLoss        OrderKind = "STOP_LOSS"
	KindStopLossLimit   OrderKind = "STOP_LOSS_LIMIT"
	KindTakeProfit      OrderKind = "TAKE_PROFIT"
	KindTakeProfitLimit OrderKind = "TAKE_PROFIT_LIMIT"
)

var allKinds = []OrderKind{KindMarket, KindLimit, KindStopLoss, KindStopLossLimit, KindTakeProfit, KindTakeProfitLimit}

// ParseOrderKind accepts the canonical names plus lower/dashed spellings.
func ParseOrderKind(raw string) (OrderKind, bool) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), "-", "_"))
	for _, k := range allKinds {
		if string(k) == norm {
			return k, true
		}
	}
	return "", false
}

// IsLimit reports whether the order rests with a limit price once active.
func (k OrderKind) IsLimit() bool {
	return k == KindLimit || k == KindStopLossLimit || k == KindTakeProfitLimit
}

// HasTrigger reports whether the order needs a trigger price.
func (k OrderKind) HasTrigger() bool {
	switch k {
	case KindStopLoss, KindStopLossLimit, KindTakeProfit, KindTakeProfitLimit:
		return true
	}
	return false
}

// IsProtective reports whether the kind guards a position (stop or target).
func (k OrderKind) IsProtective() bool { return k.HasTrigger() }

// IsStop reports whether the kind is a stop-loss variant.
func (k OrderKind) IsStop() bool { return k == KindStopLoss || k == KindStopLossLimit }

// IsTakeProfit reports whether the kind is a take-profit variant.
func (k OrderKind) IsTakeProfit() bool { return k == KindTakeProfit || k == KindTakeProfitLimit }

// OrderStatus is a node of the order state machine.
type OrderStatus string

const (
	OrderPending         OrderStatus = "PENDING"
	OrderOpen            OrderStatus = "OPEN"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCancelled       OrderStatus = "CANCELLED"
	OrderRejected        OrderStatus = "REJECTED"
)

// Terminal reports whether no further transitions are possible.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCancelled || s == OrderRejected
}

// Active reports whether the order may still execute at the venue.
func (s OrderStatus) Active() bool {
	return s == OrderPending || s == OrderOpen || s == OrderPartiallyFilled
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	// PENDING may jump past OPEN when the acknowledgement was lost and
	// reconciliation finds the order already working, filled or cancelled.
	OrderPending:         {OrderOpen, OrderRejected, OrderPartiallyFilled, OrderFilled, OrderCancelled},
	OrderOpen:            {OrderPartiallyFilled, OrderFilled, OrderCancelled},
	OrderPartiallyFilled: {OrderPartiallyFilled, OrderFilled, OrderCancelled},
}

// CanTransition reports whether from → to is an edge of the state machine.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Order is one request to buy or sell a quantity of a pair.
type Order struct {
	ID           string
	PositionID   string
	Pair         string
	Side         OrderSide
	Kind         OrderKind
	Quantity     float64
	LimitPrice   float64
	TriggerPrice float64
	ExchangeID   string
	Status       OrderStatus
	PlacedAt     time.Time
	FilledAt     *time.Time
	CancelledAt  *time.Time
	FilledQty    float64
	AvgFillPrice float64
	Fee          float64
	Error        string
	Attempts     int
	Simulated    bool
	RawPayload   []byte
	Version      int64
	UpdatedAt    time.Time
}

// Validate checks the fields a venue needs before the order may be placed.
func (o *Order) Validate() error {
	if o == nil {
		return fmt.Errorf("%w: nil order", ErrInvalidOrder)
	}
	if strings.TrimSpace(o.Pair) == "" {
		return fmt.Errorf("%w: pair is required", ErrInvalidOrder)
	}
	if !o.Side.Valid() {
		return fmt.Errorf("%w: side must be BUY or SELL", ErrInvalidOrder)
	}
	if _, ok := ParseOrderKind(string(o.Kind)); !ok {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidOrder, o.Kind)
	}
	if !(o.Quantity > 0) {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}
	if o.Kind.IsLimit() && !(o.LimitPrice > 0) {
		return fmt.Errorf("%w: %s requires a limit price", ErrInvalidOrder, o.Kind)
	}
	if o.Kind.HasTrigger() && !(o.TriggerPrice > 0) {
		return fmt.Errorf("%w: %s requires a trigger price", ErrInvalidOrder, o.Kind)
	}
	return nil
}

// Transition moves the order along the state machine and stamps terminal times.
func (o *Order) Transition(to OrderStatus, at time.Time) error {
	if o.Status == to && to == OrderPartiallyFilled {
		return nil
	}
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}
	o.Status = to
	switch to {
	case OrderFilled:
		t := at
		o.FilledAt = &t
	case OrderCancelled:
		t := at
		o.CancelledAt = &t
	}
	return nil
}

// Reinstate overrides a local REJECTED verdict with the status the venue
// reports. Only rejections concluded locally can be overturned this way.
func (o *Order) Reinstate(to OrderStatus, at time.Time) error {
	switch to {
	case OrderOpen, OrderPartiallyFilled, OrderFilled, OrderCancelled:
	default:
		return fmt.Errorf("%w: reinstate %s -> %s", ErrInvalidTransition, o.Status, to)
	}
	if o.Status != OrderRejected {
		return fmt.Errorf("%w: reinstate %s -> %s", ErrInvalidTransition, o.Status, to)
	}
	if o.Error != "" {
		o.Error = "reinstated by venue: " + o.Error
	}
	o.Status = to
	switch to {
	case OrderFilled:
		t := at
		o.FilledAt = &t
	case OrderCancelled:
		t := at
		o.CancelledAt = &t
	}
	return nil
}

// BindExchangeID assigns the venue id. Rebinding the same id is a no-op.
func (o *Order) BindExchangeID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	if o.ExchangeID != "" && o.ExchangeID != id {
		return fmt.Errorf("%w: %s (got %s)", ErrExchangeIDBound, o.ExchangeID, id)
	}
	o.ExchangeID = id
	return nil
}

// ApplyFill records cumulative fill progress. qty is the total executed
// quantity, not an increment.
func (o *Order) ApplyFill(qty, avgPrice, fee float64) error {
	if qty < 0 || avgPrice < 0 || fee < 0 {
		return fmt.Errorf("%w: negative fill values", ErrInvalidOrder)
	}
	if qty > o.Quantity+quantityEpsilon {
		return fmt.Errorf("%w: %.8f > %.8f", ErrOverfill, qty, o.Quantity)
	}
	if qty > o.Quantity {
		qty = o.Quantity
	}
	o.FilledQty = qty
	if avgPrice > 0 {
		o.AvgFillPrice = avgPrice
	}
	if fee > 0 {
		o.Fee = fee
	}
	return nil
}

// Remaining is the unexecuted quantity.
func (o *Order) Remaining() float64 {
	r := o.Quantity - o.FilledQty
	if r < 0 {
		return 0
	}
	return r
}

const quantityEpsilon = 1e-9

// FullyFilled reports whether qty covers q within float tolerance.
func FullyFilled(qty, total float64) bool {
	return total > 0 && qty >= total-quantityEpsilon
}
