package livehttp

import (
	"time"

	"cryptotrader/internal/events"
	"cryptotrader/internal/trading"
)

type placeOrderRequest struct {
	PositionID     string  `json:"position_id"`
	Pair           string  `json:"pair"`
	Side           string  `json:"side"`
	Kind           string  `json:"kind"`
	Quantity       float64 `json:"quantity"`
	LimitPrice     float64 `json:"limit_price"`
	TriggerPrice   float64 `json:"trigger_price"`
	ReferencePrice float64 `json:"reference_price"`
}

type openPositionRequest struct {
	Pair       string  `json:"pair"`
	Side       string  `json:"side"`
	Quantity   float64 `json:"quantity"`
	EntryPrice float64 `json:"entry_price"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	StrategyID string  `json:"strategy_id"`
}

type closePositionRequest struct {
	ExitPrice float64 `json:"exit_price"`
	Reason    string  `json:"reason"`
}

type protectionRequest struct {
	Kind  string  `json:"kind"`
	Price float64 `json:"price"`
}

type paperPriceRequest struct {
	Pair  string  `json:"pair"`
	Price float64 `json:"price"`
}

type orderView struct {
	ID           string     `json:"id"`
	PositionID   string     `json:"position_id,omitempty"`
	Pair         string     `json:"pair"`
	Side         string     `json:"side"`
	Kind         string     `json:"kind"`
	Quantity     float64    `json:"quantity"`
	LimitPrice   float64    `json:"limit_price,omitempty"`
	TriggerPrice float64    `json:"trigger_price,omitempty"`
	ExchangeID   string     `json:"exchange_id,omitempty"`
	Status       string     `json:"status"`
	FilledQty    float64    `json:"filled_qty"`
	AvgFillPrice float64    `json:"avg_fill_price,omitempty"`
	Fee          float64    `json:"fee"`
	Error        string     `json:"error,omitempty"`
	Attempts     int        `json:"attempts"`
	Simulated    bool       `json:"simulated"`
	PlacedAt     time.Time  `json:"placed_at"`
	FilledAt     *time.Time `json:"filled_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	Version      int64      `json:"version"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func newOrderView(o trading.Order) orderView {
	return orderView{
		ID:           o.ID,
		PositionID:   o.PositionID,
		Pair:         o.Pair,
		Side:         string(o.Side),
		Kind:         string(o.Kind),
		Quantity:     o.Quantity,
		LimitPrice:   o.LimitPrice,
		TriggerPrice: o.TriggerPrice,
		ExchangeID:   o.ExchangeID,
		Status:       string(o.Status),
		FilledQty:    o.FilledQty,
		AvgFillPrice: o.AvgFillPrice,
		Fee:          o.Fee,
		Error:        o.Error,
		Attempts:     o.Attempts,
		Simulated:    o.Simulated,
		PlacedAt:     o.PlacedAt,
		FilledAt:     o.FilledAt,
		CancelledAt:  o.CancelledAt,
		Version:      o.Version,
		UpdatedAt:    o.UpdatedAt,
	}
}

type positionView struct {
	ID                string     `json:"id"`
	StrategyID        string     `json:"strategy_id,omitempty"`
	Pair              string     `json:"pair"`
	Side              string     `json:"side"`
	Status            string     `json:"status"`
	Quantity          float64    `json:"quantity"`
	EntryPrice        float64    `json:"entry_price"`
	EntryOrderID      string     `json:"entry_order_id,omitempty"`
	OpenedAt          time.Time  `json:"opened_at"`
	StopLossPrice     float64    `json:"stop_loss_price,omitempty"`
	StopLossOrderID   string     `json:"stop_loss_order_id,omitempty"`
	TakeProfitPrice   float64    `json:"take_profit_price,omitempty"`
	TakeProfitOrderID string     `json:"take_profit_order_id,omitempty"`
	LastPrice         float64    `json:"last_price,omitempty"`
	UnrealizedPnL     float64    `json:"unrealized_pnl"`
	UnrealizedPnLPct  float64    `json:"unrealized_pnl_pct"`
	ExitPrice         float64    `json:"exit_price,omitempty"`
	ExitOrderID       string     `json:"exit_order_id,omitempty"`
	ClosedAt          *time.Time `json:"closed_at,omitempty"`
	CloseReason       string     `json:"close_reason,omitempty"`
	RealizedPnL       float64    `json:"realized_pnl"`
	RealizedPnLPct    float64    `json:"realized_pnl_pct"`
	Version           int64      `json:"version"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func newPositionView(p trading.Position) positionView {
	return positionView{
		ID:                p.ID,
		StrategyID:        p.StrategyID,
		Pair:              p.Pair,
		Side:              string(p.Side),
		Status:            string(p.Status),
		Quantity:          p.Quantity,
		EntryPrice:        p.EntryPrice,
		EntryOrderID:      p.EntryOrderID,
		OpenedAt:          p.OpenedAt,
		StopLossPrice:     p.StopLossPrice,
		StopLossOrderID:   p.StopLossOrderID,
		TakeProfitPrice:   p.TakeProfitPrice,
		TakeProfitOrderID: p.TakeProfitOrderID,
		LastPrice:         p.LastPrice,
		UnrealizedPnL:     p.UnrealizedPnL,
		UnrealizedPnLPct:  p.UnrealizedPnLPct,
		ExitPrice:         p.ExitPrice,
		ExitOrderID:       p.ExitOrderID,
		ClosedAt:          p.ClosedAt,
		CloseReason:       string(p.CloseReason),
		RealizedPnL:       p.RealizedPnL,
		RealizedPnLPct:    p.RealizedPnLPct,
		Version:           p.Version,
		UpdatedAt:         p.UpdatedAt,
	}
}

type eventView struct {
	Type     string        `json:"type"`
	At       time.Time     `json:"at"`
	Order    *orderView    `json:"order,omitempty"`
	Position *positionView `json:"position,omitempty"`
}

func newEventView(ev events.Event) eventView {
	out := eventView{Type: string(ev.Type), At: ev.At}
	if ev.Order != nil {
		v := newOrderView(*ev.Order)
		out.Order = &v
	}
	if ev.Position != nil {
		v := newPositionView(*ev.Position)
		out.Position = &v
	}
	return out
}

func orderViews(list []trading.Order) []orderView {
	out := make([]orderView, 0, len(list))
	for _, o := range list {
		out = append(out, newOrderView(o))
	}
	return out
}

func positionViews(list []trading.Position) []positionView {
	out := make([]positionView, 0, len(list))
	for _, p := range list {
		out = append(out, newPositionView(p))
	}
	return out
}
