package exchange

import (
	"time"

	"cryptotrader/internal/trading"
)

// Balance represents per-asset account totals.
type Balance struct {
	Assets    map[string]float64
	UpdatedAt time.Time
}

// Of returns the balance of asset, 0 when absent.
func (b Balance) Of(asset string) float64 {
	if b.Assets == nil {
		return 0
	}
	return b.Assets[asset]
}

// Ticker is the 24h market summary for a pair.
type Ticker struct {
	Pair      string
	Bid       float64
	Ask       float64
	Last      float64
	High      float64
	Low       float64
	Volume    float64
	UpdatedAt time.Time
}

// Mid returns the bid/ask midpoint, falling back to Last.
func (t Ticker) Mid() float64 {
	if t.Bid > 0 && t.Ask > 0 {
		return (t.Bid + t.Ask) / 2
	}
	return t.Last
}

// OrderRequest is what a venue needs to place an order.
type OrderRequest struct {
	ClientID     string
	Pair         string
	Side         trading.OrderSide
	Kind         trading.OrderKind
	Quantity     float64
	Price        float64 // limit price
	TriggerPrice float64
	// ReferencePrice is the caller's expected execution price. Venues
	// ignore it; paper mode uses it when it has no price for the pair.
	ReferencePrice float64
}

// RequestFromOrder maps a local order to a venue request.
func RequestFromOrder(o trading.Order, reference float64) OrderRequest {
	return OrderRequest{
		ClientID:       o.ID,
		Pair:           o.Pair,
		Side:           o.Side,
		Kind:           o.Kind,
		Quantity:       o.Quantity,
		Price:          o.LimitPrice,
		TriggerPrice:   o.TriggerPrice,
		ReferencePrice: reference,
	}
}

// Fill is execution progress reported by a venue.
type Fill struct {
	Quantity float64
	AvgPrice float64
	Fee      float64
}

// PlaceResult is the venue acknowledgement. Some venues return several ids
// for one request; the first one is bound to the local order.
type PlaceResult struct {
	ExchangeIDs []string
	Fill        *Fill
	Raw         []byte
}

func (r PlaceResult) PrimaryID() string {
	for _, id := range r.ExchangeIDs {
		if id != "" {
			return id
		}
	}
	return ""
}

// VenueOrder is one order as the venue reports it during reconciliation.
type VenueOrder struct {
	ExchangeID   string
	ClientID     string
	Pair         string
	Side         trading.OrderSide
	Kind         trading.OrderKind
	Status       trading.OrderStatus
	Quantity     float64
	LimitPrice   float64
	TriggerPrice float64
	ExecutedQty  float64
	AvgPrice     float64
	Fee          float64
	OpenedAt     time.Time
	ClosedAt     time.Time
	Reason       string
	Raw          []byte
}
