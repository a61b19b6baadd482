package model

import (
	"gorm.io/datatypes"
)

// OrderModel maps to the 'orders' table. Times are unix milliseconds.
type OrderModel struct {
	ID            string         `gorm:"column:id;primaryKey"`
	PositionID    string         `gorm:"column:position_id;index"`
	Pair          string         `gorm:"column:pair;index"`
	Side          string         `gorm:"column:side"`
	Kind          string         `gorm:"column:kind"`
	Quantity      float64        `gorm:"column:quantity"`
	LimitPrice    float64        `gorm:"column:limit_price"`
	TriggerPrice  float64        `gorm:"column:trigger_price"`
	ExchangeID    *string        `gorm:"column:exchange_id;uniqueIndex"`
	Status        string         `gorm:"column:status;index"`
	FilledQty     float64        `gorm:"column:filled_qty"`
	AvgFillPrice  float64        `gorm:"column:avg_fill_price"`
	Fee           float64        `gorm:"column:fee"`
	Error         string         `gorm:"column:error"`
	Attempts      int            `gorm:"column:attempts"`
	IsSimulated   bool           `gorm:"column:is_simulated"`
	RawPayload    datatypes.JSON `gorm:"column:raw_payload;type:TEXT"`
	Version       int64          `gorm:"column:version"`
	PlacedAt      int64          `gorm:"column:placed_at"`
	FilledAt      *int64         `gorm:"column:filled_at"`
	CancelledAt   *int64         `gorm:"column:cancelled_at"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`
}

func (OrderModel) TableName() string { return "orders" }

// PositionModel maps to the 'positions' table.
type PositionModel struct {
	ID                string  `gorm:"column:id;primaryKey"`
	StrategyID        string  `gorm:"column:strategy_id;index"`
	Pair              string  `gorm:"column:pair;index"`
	Side              string  `gorm:"column:side"`
	Quantity          float64 `gorm:"column:quantity"`
	EntryPrice        float64 `gorm:"column:entry_price"`
	EntryOrderID      string  `gorm:"column:entry_order_id"`
	StopLossPrice     float64 `gorm:"column:stop_loss_price"`
	StopLossOrderID   string  `gorm:"column:stop_loss_order_id"`
	TakeProfitPrice   float64 `gorm:"column:take_profit_price"`
	TakeProfitOrderID string  `gorm:"column:take_profit_order_id"`
	ExitPrice         float64 `gorm:"column:exit_price"`
	ExitOrderID       string  `gorm:"column:exit_order_id"`
	CloseReason       string  `gorm:"column:close_reason"`
	LastPrice         float64 `gorm:"column:last_price"`
	UnrealizedPnL     float64 `gorm:"column:unrealized_pnl"`
	UnrealizedPnLPct  float64 `gorm:"column:unrealized_pnl_pct"`
	RealizedPnL       float64 `gorm:"column:realized_pnl"`
	RealizedPnLPct    float64 `gorm:"column:realized_pnl_pct"`
	Status            string  `gorm:"column:status;index"`
	Version           int64   `gorm:"column:version"`
	OpenedAt          int64   `gorm:"column:opened_at"`
	ClosedAt          *int64  `gorm:"column:closed_at"`
	UpdatedAtUnix     int64   `gorm:"column:updated_at"`
}

func (PositionModel) TableName() string { return "positions" }
