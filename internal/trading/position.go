package trading

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrPositionClosed  = errors.New("position already closed")
	ErrInvalidPosition = errors.New("invalid position")
)

// PositionSide is the direction of a held exposure.
type PositionSide string

const (
	Long  PositionSide = "LONG"
	Short PositionSide = "SHORT"
)

func (s PositionSide) Valid() bool { return s == Long || s == Short }

// ParsePositionSide accepts long/short in any case.
func ParsePositionSide(raw string) (PositionSide, bool) {
	switch PositionSide(strings.ToUpper(strings.TrimSpace(raw))) {
	case Long:
		return Long, true
	case Short:
		return Short, true
	}
	return "", false
}

// EntryOrderSide is the order side that opens the position.
func (s PositionSide) EntryOrderSide() OrderSide {
	if s == Short {
		return SideSell
	}
	return SideBuy
}

// ExitOrderSide is the order side that flattens the position.
func (s PositionSide) ExitOrderSide() OrderSide {
	return s.EntryOrderSide().Opposite()
}

type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// CloseReason explains why a position was closed.
type CloseReason string

const (
	CloseStopLoss   CloseReason = "STOP_LOSS"
	CloseTakeProfit CloseReason = "TAKE_PROFIT"
	CloseManual     CloseReason = "MANUAL"
)

// Triggered reports whether the reason comes from a protective order firing.
func (r CloseReason) Triggered() bool {
	return r == CloseStopLoss || r == CloseTakeProfit
}

// Position is a held exposure opened by an entry order.
type Position struct {
	ID                string
	StrategyID        string
	Pair              string
	Side              PositionSide
	Quantity          float64
	EntryPrice        float64
	EntryOrderID      string
	OpenedAt          time.Time
	StopLossPrice     float64
	StopLossOrderID   string
	TakeProfitPrice   float64
	TakeProfitOrderID string
	ExitPrice         float64
	ExitOrderID       string
	ClosedAt          *time.Time
	CloseReason       CloseReason
	LastPrice         float64
	UnrealizedPnL     float64
	UnrealizedPnLPct  float64
	RealizedPnL       float64
	RealizedPnLPct    float64
	Status            PositionStatus
	Version           int64
	UpdatedAt         time.Time
}

func (p *Position) IsOpen() bool { return p != nil && p.Status == PositionOpen }

// Validate checks the fields required to open the position.
func (p *Position) Validate() error {
	if strings.TrimSpace(p.Pair) == "" {
		return fmt.Errorf("%w: pair is required", ErrInvalidPosition)
	}
	if !p.Side.Valid() {
		return fmt.Errorf("%w: side must be LONG or SHORT", ErrInvalidPosition)
	}
	if !(p.Quantity > 0) {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidPosition)
	}
	if !(p.EntryPrice > 0) {
		return fmt.Errorf("%w: entry price must be positive", ErrInvalidPosition)
	}
	return ValidateProtection(p.Side, p.EntryPrice, p.StopLossPrice, p.TakeProfitPrice)
}

// ValidateProtection checks that stop and target sit on the losing and
// winning side of entry respectively. Zero means unset.
func ValidateProtection(side PositionSide, entry, stop, target float64) error {
	if stop < 0 || target < 0 {
		return fmt.Errorf("%w: protective prices must not be negative", ErrInvalidPosition)
	}
	switch side {
	case Long:
		if stop > 0 && stop >= entry {
			return fmt.Errorf("%w: long stop-loss %.8f must be below entry %.8f", ErrInvalidPosition, stop, entry)
		}
		if target > 0 && target <= entry {
			return fmt.Errorf("%w: long take-profit %.8f must be above entry %.8f", ErrInvalidPosition, target, entry)
		}
	case Short:
		if stop > 0 && stop <= entry {
			return fmt.Errorf("%w: short stop-loss %.8f must be above entry %.8f", ErrInvalidPosition, stop, entry)
		}
		if target > 0 && target >= entry {
			return fmt.Errorf("%w: short take-profit %.8f must be below entry %.8f", ErrInvalidPosition, target, entry)
		}
	}
	return nil
}

// Reprice refreshes the unrealized P&L at price.
func (p *Position) Reprice(price float64, at time.Time) {
	p.LastPrice = price
	p.UnrealizedPnL, p.UnrealizedPnLPct = PnL(p.Side, p.EntryPrice, price, p.Quantity)
	p.UpdatedAt = at
}

// TriggeredBy returns the close reason fired at price, stop-loss first.
func (p *Position) TriggeredBy(price float64) (CloseReason, bool) {
	if p.StopLossPrice > 0 && StopLossHit(p.Side, price, p.StopLossPrice) {
		return CloseStopLoss, true
	}
	if p.TakeProfitPrice > 0 && TakeProfitHit(p.Side, price, p.TakeProfitPrice) {
		return CloseTakeProfit, true
	}
	return "", false
}

// Close freezes realized P&L at exitPrice and marks the position CLOSED.
func (p *Position) Close(exitPrice float64, reason CloseReason, at time.Time) error {
	if p.Status == PositionClosed {
		return ErrPositionClosed
	}
	if !(exitPrice > 0) {
		return fmt.Errorf("%w: exit price must be positive", ErrInvalidPosition)
	}
	if reason == "" {
		return fmt.Errorf("%w: close reason is required", ErrInvalidPosition)
	}
	p.RealizedPnL, p.RealizedPnLPct = PnL(p.Side, p.EntryPrice, exitPrice, p.Quantity)
	p.ExitPrice = exitPrice
	p.CloseReason = reason
	closed := at
	p.ClosedAt = &closed
	p.LastPrice = exitPrice
	p.UnrealizedPnL = 0
	p.UnrealizedPnLPct = 0
	p.Status = PositionClosed
	p.UpdatedAt = at
	return nil
}

// ProtectiveOrderIDs lists the attached stop-loss and take-profit ids.
func (p *Position) ProtectiveOrderIDs() []string {
	ids := make([]string, 0, 2)
	if p.StopLossOrderID != "" {
		ids = append(ids, p.StopLossOrderID)
	}
	if p.TakeProfitOrderID != "" {
		ids = append(ids, p.TakeProfitOrderID)
	}
	return ids
}
