// Package store defines the durable ledger of orders and positions.
package store

import (
	"context"
	"errors"
	"time"

	"cryptotrader/internal/trading"
)

var (
	ErrNotFound  = errors.New("ledger: record not found")
	ErrConflict  = errors.New("ledger: concurrent update conflict")
	ErrDuplicate = errors.New("ledger: duplicate record")
)

// OrderFilter narrows ListOrders. Zero fields match everything.
type OrderFilter struct {
	PositionID string
	Pair       string
	Statuses   []trading.OrderStatus
	Simulated  *bool
	Limit      int
}

// PositionFilter narrows ListPositions. Zero fields match everything.
type PositionFilter struct {
	Pair       string
	StrategyID string
	Status     trading.PositionStatus
	Limit      int
}

// HistoryRecord is one audited status change of an order or position.
type HistoryRecord struct {
	ID         int64
	EntityType string
	EntityID   string
	FromStatus string
	ToStatus   string
	Version    int64
	Detail     []byte
	At         time.Time
}

const (
	EntityOrder    = "order"
	EntityPosition = "position"
)

// Ledger is the durable store. Update* are atomic read-modify-write
// operations: the mutator sees the current row and its changes are written
// only if nobody else wrote in between. A mutator error aborts the update.
type Ledger interface {
	InsertOrder(ctx context.Context, o trading.Order) (trading.Order, error)
	GetOrder(ctx context.Context, id string) (trading.Order, error)
	GetOrderByExchangeID(ctx context.Context, exchangeID string) (trading.Order, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]trading.Order, error)
	UpdateOrder(ctx context.Context, id string, mutate func(*trading.Order) error) (trading.Order, error)

	InsertPosition(ctx context.Context, p trading.Position) (trading.Position, error)
	GetPosition(ctx context.Context, id string) (trading.Position, error)
	ListPositions(ctx context.Context, f PositionFilter) ([]trading.Position, error)
	UpdatePosition(ctx context.Context, id string, mutate func(*trading.Position) error) (trading.Position, error)

	History(ctx context.Context, entityID string, limit int) ([]HistoryRecord, error)
	Close() error
}
