package trading

const (
	DefaultMakerRate = 0.0016
	DefaultTakerRate = 0.0026
)

// FeeSchedule is the venue fee tier. Orders that take liquidity on arrival
// (market and triggered market kinds) pay Taker; resting limits pay Maker.
type FeeSchedule struct {
	Maker float64
	Taker float64
}

func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{Maker: DefaultMakerRate, Taker: DefaultTakerRate}
}

// Rate returns the fee rate for kind.
func (f FeeSchedule) Rate(kind OrderKind) float64 {
	if kind.IsLimit() {
		return f.Maker
	}
	return f.Taker
}

// Fee is qty × price × rate(kind), rounded to 8 decimal places.
func (f FeeSchedule) Fee(kind OrderKind, qty, price float64) float64 {
	return f.FeeAt(f.Rate(kind), qty, price)
}

// FeeAt computes the fee for an explicit rate.
func (f FeeSchedule) FeeAt(rate, qty, price float64) float64 {
	if qty <= 0 || price <= 0 || rate <= 0 {
		return 0
	}
	fee := decFromFloat(qty).Mul(decFromFloat(price)).Mul(decFromFloat(rate)).Round(8)
	return decToFloat(fee)
}
