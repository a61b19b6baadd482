package trading

import (
	"math"

	"github.com/shopspring/decimal"
)

var decHundred = decimal.NewFromInt(100)

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

// PnL returns the profit in quote currency and as a percentage of the entry
// notional. LONG gains when price rises above entry, SHORT when it falls.
func PnL(side PositionSide, entry, price, qty float64) (abs float64, pct float64) {
	e := decFromFloat(entry)
	p := decFromFloat(price)
	q := decFromFloat(qty)
	var diff decimal.Decimal
	if side == Short {
		diff = e.Sub(p)
	} else {
		diff = p.Sub(e)
	}
	pnl := diff.Mul(q)
	notional := e.Mul(q)
	if notional.IsZero() {
		return decToFloat(pnl), 0
	}
	return decToFloat(pnl), decToFloat(pnl.Div(notional).Mul(decHundred).Round(6))
}

// StopLossHit: LONG fires at or below the stop, SHORT at or above.
func StopLossHit(side PositionSide, price, stop float64) bool {
	if stop <= 0 || price <= 0 {
		return false
	}
	cmp := decFromFloat(price).Cmp(decFromFloat(stop))
	if side == Short {
		return cmp >= 0
	}
	return cmp <= 0
}

// TakeProfitHit mirrors StopLossHit.
func TakeProfitHit(side PositionSide, price, target float64) bool {
	if target <= 0 || price <= 0 {
		return false
	}
	cmp := decFromFloat(price).Cmp(decFromFloat(target))
	if side == Short {
		return cmp <= 0
	}
	return cmp >= 0
}
