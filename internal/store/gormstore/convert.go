package gormstore

import (
	"time"

	"cryptotrader/internal/trading"

	"gorm.io/datatypes"
)

func newOrderModel(o trading.Order) orderModel {
	m := orderModel{
		ID:            o.ID,
		PositionID:    o.PositionID,
		Pair:          o.Pair,
		Side:          string(o.Side),
		Kind:          string(o.Kind),
		Quantity:      o.Quantity,
		LimitPrice:    o.LimitPrice,
		TriggerPrice:  o.TriggerPrice,
		Status:        string(o.Status),
		FilledQty:     o.FilledQty,
		AvgFillPrice:  o.AvgFillPrice,
		Fee:           o.Fee,
		Error:         o.Error,
		Attempts:      o.Attempts,
		IsSimulated:   o.Simulated,
		Version:       o.Version,
		PlacedAt:      o.PlacedAt.UnixMilli(),
		FilledAt:      millisPtr(o.FilledAt),
		CancelledAt:   millisPtr(o.CancelledAt),
		UpdatedAtUnix: o.UpdatedAt.UnixMilli(),
	}
	if o.ExchangeID != "" {
		id := o.ExchangeID
		m.ExchangeID = &id
	}
	if len(o.RawPayload) > 0 {
		m.RawPayload = datatypes.JSON(o.RawPayload)
	}
	return m
}

// orderColumns lists every mutable column so zero values are written too.
func orderColumns(m orderModel) map[string]any {
	return map[string]any{
		"position_id":    m.PositionID,
		"pair":           m.Pair,
		"side":           m.Side,
		"kind":           m.Kind,
		"quantity":       m.Quantity,
		"limit_price":    m.LimitPrice,
		"trigger_price":  m.TriggerPrice,
		"exchange_id":    m.ExchangeID,
		"status":         m.Status,
		"filled_qty":     m.FilledQty,
		"avg_fill_price": m.AvgFillPrice,
		"fee":            m.Fee,
		"error":          m.Error,
		"attempts":       m.Attempts,
		"is_simulated":   m.IsSimulated,
		"raw_payload":    m.RawPayload,
		"version":        m.Version,
		"placed_at":      m.PlacedAt,
		"filled_at":      m.FilledAt,
		"cancelled_at":   m.CancelledAt,
		"updated_at":     m.UpdatedAtUnix,
	}
}

func orderFromModel(m orderModel) trading.Order {
	o := trading.Order{
		ID:           m.ID,
		PositionID:   m.PositionID,
		Pair:         m.Pair,
		Side:         trading.OrderSide(m.Side),
		Kind:         trading.OrderKind(m.Kind),
		Quantity:     m.Quantity,
		LimitPrice:   m.LimitPrice,
		TriggerPrice: m.TriggerPrice,
		Status:       trading.OrderStatus(m.Status),
		FilledQty:    m.FilledQty,
		AvgFillPrice: m.AvgFillPrice,
		Fee:          m.Fee,
		Error:        m.Error,
		Attempts:     m.Attempts,
		Simulated:    m.IsSimulated,
		Version:      m.Version,
		PlacedAt:     time.UnixMilli(m.PlacedAt),
		FilledAt:     timePtr(m.FilledAt),
		CancelledAt:  timePtr(m.CancelledAt),
		UpdatedAt:    time.UnixMilli(m.UpdatedAtUnix),
	}
	if m.ExchangeID != nil {
		o.ExchangeID = *m.ExchangeID
	}
	if len(m.RawPayload) > 0 {
		o.RawPayload = []byte(m.RawPayload)
	}
	return o
}

func newPositionModel(p trading.Position) positionModel {
	return positionModel{
		ID:                p.ID,
		StrategyID:        p.StrategyID,
		Pair:              p.Pair,
		Side:              string(p.Side),
		Quantity:          p.Quantity,
		EntryPrice:        p.EntryPrice,
		EntryOrderID:      p.EntryOrderID,
		StopLossPrice:     p.StopLossPrice,
		StopLossOrderID:   p.StopLossOrderID,
		TakeProfitPrice:   p.TakeProfitPrice,
		TakeProfitOrderID: p.TakeProfitOrderID,
		ExitPrice:         p.ExitPrice,
		ExitOrderID:       p.ExitOrderID,
		CloseReason:       string(p.CloseReason),
		LastPrice:         p.LastPrice,
		UnrealizedPnL:     p.UnrealizedPnL,
		UnrealizedPnLPct:  p.UnrealizedPnLPct,
		RealizedPnL:       p.RealizedPnL,
		RealizedPnLPct:    p.RealizedPnLPct,
		Status:            string(p.Status),
		Version:           p.Version,
		OpenedAt:          p.OpenedAt.UnixMilli(),
		ClosedAt:          millisPtr(p.ClosedAt),
		UpdatedAtUnix:     p.UpdatedAt.UnixMilli(),
	}
}

func positionColumns(m positionModel) map[string]any {
	return map[string]any{
		"strategy_id":          m.StrategyID,
		"pair":                 m.Pair,
		"side":                 m.Side,
		"quantity":             m.Quantity,
		"entry_price":          m.EntryPrice,
		"entry_order_id":       m.EntryOrderID,
		"stop_loss_price":      m.StopLossPrice,
		"stop_loss_order_id":   m.StopLossOrderID,
		"take_profit_price":    m.TakeProfitPrice,
		"take_profit_order_id": m.TakeProfitOrderID,
		"exit_price":           m.ExitPrice,
		"exit_order_id":        m.ExitOrderID,
		"close_reason":         m.CloseReason,
		"last_price":           m.LastPrice,
		"unrealized_pnl":       m.UnrealizedPnL,
		"unrealized_pnl_pct":   m.UnrealizedPnLPct,
		"realized_pnl":         m.RealizedPnL,
		"realized_pnl_pct":     m.RealizedPnLPct,
		"status":               m.Status,
		"version":              m.Version,
		"opened_at":            m.OpenedAt,
		"closed_at":            m.ClosedAt,
		"updated_at":           m.UpdatedAtUnix,
	}
}

func positionFromModel(m positionModel) trading.Position {
	return trading.Position{
		ID:                m.ID,
		StrategyID:        m.StrategyID,
		Pair:              m.Pair,
		Side:              trading.PositionSide(m.Side),
		Quantity:          m.Quantity,
		EntryPrice:        m.EntryPrice,
		EntryOrderID:      m.EntryOrderID,
		StopLossPrice:     m.StopLossPrice,
		StopLossOrderID:   m.StopLossOrderID,
		TakeProfitPrice:   m.TakeProfitPrice,
		TakeProfitOrderID: m.TakeProfitOrderID,
		ExitPrice:         m.ExitPrice,
		ExitOrderID:       m.ExitOrderID,
		CloseReason:       trading.CloseReason(m.CloseReason),
		LastPrice:         m.LastPrice,
		UnrealizedPnL:     m.UnrealizedPnL,
		UnrealizedPnLPct:  m.UnrealizedPnLPct,
		RealizedPnL:       m.RealizedPnL,
		RealizedPnLPct:    m.RealizedPnLPct,
		Status:            trading.PositionStatus(m.Status),
		Version:           m.Version,
		OpenedAt:          time.UnixMilli(m.OpenedAt),
		ClosedAt:          timePtr(m.ClosedAt),
		UpdatedAt:         time.UnixMilli(m.UpdatedAtUnix),
	}
}

func millisPtr(t *time.Time) *int64 {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.UnixMilli()
	return &v
}

func timePtr(v *int64) *time.Time {
	if v == nil {
		return nil
	}
	t := time.UnixMilli(*v)
	return &t
}
