// Package paper is the simulated venue used for paper trading. It keeps the
// account's own order book, balances and a price table in memory, fills
// orders against that price table and never touches the network.
//
// The account is margin-like: the quote balance must cover buys, while base
// balances may go negative so short positions can be simulated.
package paper

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"cryptotrader/internal/gateway/exchange"
	"cryptotrader/internal/logger"
	"cryptotrader/internal/pkg/symbol"
	"cryptotrader/internal/trading"

	"github.com/shopspring/decimal"
)

const (
	msgInsufficientFunds = "EOrder:Insufficient funds"
	msgUnknownPair       = "EQuery:Unknown asset pair"
	msgUnknownOrder      = "EOrder:Unknown order"
	msgDuplicateOrder    = "EOrder:Duplicate client order id"
)

type Config struct {
	Balances    map[string]float64
	Prices      map[string]float64
	Fees        trading.FeeSchedule
	SlippageBps float64
	SpreadBps   float64
	// StatePath, when set, is where the venue snapshots itself after every
	// mutation and reloads from on start.
	StatePath string
}

type order struct {
	venue     exchange.VenueOrder
	triggered bool
}

type Venue struct {
	mu       sync.Mutex
	cfg      Config
	prices   map[string]float64
	balances map[string]float64
	orders   map[string]*order
	seq      int64
	faults   map[string][]error
	calls    map[string]int
	now      func() time.Time
}

var _ exchange.Venue = (*Venue)(nil)

func New(cfg Config) (*Venue, error) {
	if cfg.Fees == (trading.FeeSchedule{}) {
		cfg.Fees = trading.DefaultFeeSchedule()
	}
	v := &Venue{
		cfg:      cfg,
		prices:   make(map[string]float64),
		balances: make(map[string]float64),
		orders:   make(map[string]*order),
		faults:   make(map[string][]error),
		calls:    make(map[string]int),
		now:      time.Now,
	}
	for pair, price := range cfg.Prices {
		v.prices[symbol.Normalize(pair)] = price
	}
	for asset, amount := range cfg.Balances {
		v.balances[strings.ToUpper(strings.TrimSpace(asset))] = amount
	}
	if cfg.StatePath != "" {
		loaded, err := v.load()
		if err != nil {
			return nil, err
		}
		if loaded {
			logger.Infof("PaperVenue: restored state from %s (%d orders)", cfg.StatePath, len(v.orders))
		}
	}
	return v, nil
}

func (v *Venue) Name() string { return "paper" }

func (v *Venue) Simulated() bool { return true }

// SetClock replaces the time source.
func (v *Venue) SetClock(now func() time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = now
}

// FailNext queues errors returned by the next calls of op (exchange.Op*),
// one per call, before the simulated operation runs.
func (v *Venue) FailNext(op string, errs ...error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.faults[op] = append(v.faults[op], errs...)
}

// Calls reports how many times op was invoked, faults included.
func (v *Venue) Calls(op string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls[op]
}

// enter counts the call and pops a queued fault. Callers hold mu.
func (v *Venue) enter(ctx context.Context, op string) error {
	v.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if q := v.faults[op]; len(q) > 0 {
		v.faults[op] = q[1:]
		return q[0]
	}
	return nil
}

// SetPrice moves the market for pair and executes any resting order the
// move crosses.
func (v *Venue) SetPrice(pair string, price float64) error {
	if !(price > 0) {
		return fmt.Errorf("paper: price must be positive")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	pair = symbol.Normalize(pair)
	v.prices[pair] = price
	for _, id := range v.sortedIDs() {
		o := v.orders[id]
		if o.venue.Pair == pair && o.venue.Status.Active() {
			v.evaluate(o, price)
		}
	}
	v.persist()
	return nil
}

func (v *Venue) Price(pair string) (float64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.prices[symbol.Normalize(pair)]
	return p, ok
}

func (v *Venue) Balance(ctx context.Context) (exchange.Balance, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.enter(ctx, exchange.OpBalance); err != nil {
		return exchange.Balance{}, err
	}
	assets := make(map[string]float64, len(v.balances))
	for k, val := range v.balances {
		assets[k] = val
	}
	return exchange.Balance{Assets: assets, UpdatedAt: v.now()}, nil
}

func (v *Venue) Ticker(ctx context.Context, pair string) (exchange.Ticker, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.enter(ctx, exchange.OpTicker); err != nil {
		return exchange.Ticker{}, err
	}
	pair = symbol.Normalize(pair)
	last, ok := v.prices[pair]
	if !ok {
		return exchange.Ticker{}, exchange.BusinessError(exchange.OpTicker, msgUnknownPair)
	}
	half := last * v.cfg.SpreadBps / 20000
	return exchange.Ticker{
		Pair:      pair,
		Bid:       last - half,
		Ask:       last + half,
		Last:      last,
		High:      last,
		Low:       last,
		UpdatedAt: v.now(),
	}, nil
}

func (v *Venue) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.PlaceResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.enter(ctx, exchange.OpPlaceOrder); err != nil {
		return exchange.PlaceResult{}, err
	}
	if !(req.Quantity > 0) {
		return exchange.PlaceResult{}, exchange.BusinessError(exchange.OpPlaceOrder, "EGeneral:Invalid arguments:volume")
	}
	if req.ClientID != "" {
		for _, o := range v.orders {
			if o.venue.ClientID == req.ClientID {
				return exchange.PlaceResult{}, exchange.BusinessError(exchange.OpPlaceOrder, msgDuplicateOrder)
			}
		}
	}
	pair := symbol.Normalize(req.Pair)
	price, ok := v.prices[pair]
	if !ok {
		if !(req.ReferencePrice > 0) {
			return exchange.PlaceResult{}, exchange.BusinessError(exchange.OpPlaceOrder, msgUnknownPair)
		}
		price = req.ReferencePrice
		v.prices[pair] = price
	}
	if req.Side == trading.SideBuy {
		need := v.cost(req.Quantity, estimatePrice(req, price), v.cfg.Fees.Taker)
		if v.balances[quoteOf(pair)] < need {
			return exchange.PlaceResult{}, exchange.BusinessError(exchange.OpPlaceOrder, msgInsufficientFunds)
		}
	}

	v.seq++
	id := fmt.Sprintf("PAPER-%08d", v.seq)
	o := &order{venue: exchange.VenueOrder{
		ExchangeID:   id,
		ClientID:     req.ClientID,
		Pair:         pair,
		Side:         req.Side,
		Kind:         req.Kind,
		Status:       trading.OrderOpen,
		Quantity:     req.Quantity,
		LimitPrice:   req.Price,
		TriggerPrice: req.TriggerPrice,
		OpenedAt:     v.now(),
	}}
	v.orders[id] = o
	v.evaluate(o, price)
	v.persist()

	res := exchange.PlaceResult{ExchangeIDs: []string{id}}
	if o.venue.Status == trading.OrderFilled {
		res.Fill = &exchange.Fill{Quantity: o.venue.ExecutedQty, AvgPrice: o.venue.AvgPrice, Fee: o.venue.Fee}
	}
	return res, nil
}

func (v *Venue) CancelOrder(ctx context.Context, exchangeID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.enter(ctx, exchange.OpCancelOrder); err != nil {
		return err
	}
	o, ok := v.orders[exchangeID]
	if !ok || !o.venue.Status.Active() {
		return exchange.BusinessError(exchange.OpCancelOrder, msgUnknownOrder)
	}
	o.venue.Status = trading.OrderCancelled
	o.venue.ClosedAt = v.now()
	o.venue.Reason = "User requested"
	v.persist()
	return nil
}

func (v *Venue) OpenOrders(ctx context.Context) ([]exchange.VenueOrder, error) {
	return v.list(ctx, exchange.OpOpenOrders, func(s trading.OrderStatus) bool { return s.Active() })
}

func (v *Venue) ClosedOrders(ctx context.Context) ([]exchange.VenueOrder, error) {
	return v.list(ctx, exchange.OpClosedOrders, func(s trading.OrderStatus) bool { return s.Terminal() })
}

func (v *Venue) list(ctx context.Context, op string, keep func(trading.OrderStatus) bool) ([]exchange.VenueOrder, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.enter(ctx, op); err != nil {
		return nil, err
	}
	out := make([]exchange.VenueOrder, 0)
	for _, id := range v.sortedIDs() {
		if o := v.orders[id]; keep(o.venue.Status) {
			out = append(out, o.venue)
		}
	}
	return out, nil
}

// evaluate executes o if price allows it. Callers hold mu.
func (v *Venue) evaluate(o *order, price float64) {
	vo := &o.venue
	switch vo.Kind {
	case trading.KindMarket:
		v.fill(o, v.slipped(vo.Side, price), v.cfg.Fees.Taker)
	case trading.KindLimit:
		if crossesLimit(vo.Side, price, vo.LimitPrice) {
			v.fill(o, vo.LimitPrice, v.cfg.Fees.Maker)
		}
	default:
		if !o.triggered {
			if !triggerHit(vo.Kind, vo.Side, price, vo.TriggerPrice) {
				return
			}
			o.triggered = true
		}
		if vo.Kind.IsLimit() {
			if crossesLimit(vo.Side, price, vo.LimitPrice) {
				v.fill(o, vo.LimitPrice, v.cfg.Fees.Maker)
			}
			return
		}
		v.fill(o, vo.TriggerPrice, v.cfg.Fees.Taker)
	}
}

func (v *Venue) fill(o *order, price, rate float64) {
	vo := &o.venue
	qty := vo.Quantity
	fee := v.cfg.Fees.FeeAt(rate, qty, price)
	notional := decimal.NewFromFloat(qty).Mul(decimal.NewFromFloat(price))
	base, quote := baseOf(vo.Pair), quoteOf(vo.Pair)
	if vo.Side == trading.SideBuy {
		v.balances[base] = add(v.balances[base], qty)
		v.balances[quote] = sub(v.balances[quote], notional.Add(decimal.NewFromFloat(fee)))
	} else {
		v.balances[base] = add(v.balances[base], -qty)
		v.balances[quote] = sub(v.balances[quote], decimal.NewFromFloat(fee).Sub(notional))
	}
	vo.ExecutedQty = qty
	vo.AvgPrice = price
	vo.Fee = fee
	vo.Status = trading.OrderFilled
	vo.ClosedAt = v.now()
}

func (v *Venue) slipped(side trading.OrderSide, price float64) float64 {
	if v.cfg.SlippageBps <= 0 {
		return price
	}
	adj := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(v.cfg.SlippageBps)).Div(decimal.NewFromInt(10000))
	p := decimal.NewFromFloat(price)
	if side == trading.SideBuy {
		p = p.Add(adj)
	} else {
		p = p.Sub(adj)
	}
	f, _ := p.Round(8).Float64()
	return f
}

func (v *Venue) cost(qty, price, rate float64) float64 {
	n := decimal.NewFromFloat(qty).Mul(decimal.NewFromFloat(price))
	f, _ := n.Add(n.Mul(decimal.NewFromFloat(rate))).Float64()
	return f
}

func (v *Venue) sortedIDs() []string {
	ids := make([]string, 0, len(v.orders))
	for id := range v.orders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// estimatePrice is the worst price a buy may execute at, for the funds check.
func estimatePrice(req exchange.OrderRequest, market float64) float64 {
	switch {
	case req.Kind.IsLimit() && req.Price > 0:
		return req.Price
	case req.Kind.HasTrigger() && req.TriggerPrice > 0:
		return req.TriggerPrice
	default:
		return market
	}
}

func crossesLimit(side trading.OrderSide, price, limit float64) bool {
	if side == trading.SideBuy {
		return price <= limit
	}
	return price >= limit
}

// triggerHit: a sell stop fires on the way down and a buy stop on the way
// up; take-profit is the mirror image.
func triggerHit(kind trading.OrderKind, side trading.OrderSide, price, trigger float64) bool {
	if trigger <= 0 {
		return true
	}
	down := price <= trigger
	up := price >= trigger
	if kind.IsStop() {
		if side == trading.SideSell {
			return down
		}
		return up
	}
	if side == trading.SideSell {
		return up
	}
	return down
}

func baseOf(pair string) string {
	return symbol.Parse(pair).Base
}

func quoteOf(pair string) string {
	return symbol.Parse(pair).Quote
}

func add(bal, delta float64) float64 {
	f, _ := decimal.NewFromFloat(bal).Add(decimal.NewFromFloat(delta)).Round(8).Float64()
	return f
}

func sub(bal float64, delta decimal.Decimal) float64 {
	f, _ := decimal.NewFromFloat(bal).Sub(delta).Round(8).Float64()
	return f
}
