package paper

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cryptotrader/internal/gateway/exchange"
	"cryptotrader/internal/logger"
	"cryptotrader/internal/trading"

	"gopkg.in/yaml.v3"
)

type snapshot struct {
	Seq      int64              `yaml:"seq"`
	SavedAt  time.Time          `yaml:"saved_at"`
	Prices   map[string]float64 `yaml:"prices"`
	Balances map[string]float64 `yaml:"balances"`
	Orders   []orderState       `yaml:"orders"`
}

type orderState struct {
	ExchangeID   string    `yaml:"exchange_id"`
	ClientID     string    `yaml:"client_id,omitempty"`
	Pair         string    `yaml:"pair"`
	Side         string    `yaml:"side"`
	Kind         string    `yaml:"kind"`
	Status       string    `yaml:"status"`
	Quantity     float64   `yaml:"quantity"`
	LimitPrice   float64   `yaml:"limit_price,omitempty"`
	TriggerPrice float64   `yaml:"trigger_price,omitempty"`
	Triggered    bool      `yaml:"triggered,omitempty"`
	ExecutedQty  float64   `yaml:"executed_qty,omitempty"`
	AvgPrice     float64   `yaml:"avg_price,omitempty"`
	Fee          float64   `yaml:"fee,omitempty"`
	OpenedAt     time.Time `yaml:"opened_at"`
	ClosedAt     time.Time `yaml:"closed_at,omitempty"`
	Reason       string    `yaml:"reason,omitempty"`
}

// persist writes the snapshot atomically (tmp file + rename). Failures are
// logged: the in-memory venue stays authoritative for this process.
func (v *Venue) persist() {
	if v.cfg.StatePath == "" {
		return
	}
	snap := snapshot{
		Seq:      v.seq,
		SavedAt:  v.now().UTC(),
		Prices:   v.prices,
		Balances: v.balances,
	}
	for _, id := range v.sortedIDs() {
		o := v.orders[id]
		vo := o.venue
		snap.Orders = append(snap.Orders, orderState{
			ExchangeID:   vo.ExchangeID,
			ClientID:     vo.ClientID,
			Pair:         vo.Pair,
			Side:         string(vo.Side),
			Kind:         string(vo.Kind),
			Status:       string(vo.Status),
			Quantity:     vo.Quantity,
			LimitPrice:   vo.LimitPrice,
			TriggerPrice: vo.TriggerPrice,
			Triggered:    o.triggered,
			ExecutedQty:  vo.ExecutedQty,
			AvgPrice:     vo.AvgPrice,
			Fee:          vo.Fee,
			OpenedAt:     vo.OpenedAt,
			ClosedAt:     vo.ClosedAt,
			Reason:       vo.Reason,
		})
	}
	if err := writeSnapshot(v.cfg.StatePath, snap); err != nil {
		logger.Errorf("PaperVenue: persist state failed: %v", err)
	}
}

func writeSnapshot(path string, snap snapshot) error {
	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode paper state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// load replaces the in-memory state with the snapshot at StatePath, if any.
func (v *Venue) load() (bool, error) {
	data, err := os.ReadFile(v.cfg.StatePath)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read paper state: %w", err)
	}
	var snap snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return false, fmt.Errorf("decode paper state %s: %w", v.cfg.StatePath, err)
	}
	v.seq = snap.Seq
	if snap.Prices != nil {
		v.prices = snap.Prices
	}
	if snap.Balances != nil {
		v.balances = snap.Balances
	}
	v.orders = make(map[string]*order, len(snap.Orders))
	for _, st := range snap.Orders {
		v.orders[st.ExchangeID] = &order{
			triggered: st.Triggered,
			venue: exchange.VenueOrder{
				ExchangeID:   st.ExchangeID,
				ClientID:     st.ClientID,
				Pair:         st.Pair,
				Side:         trading.OrderSide(st.Side),
				Kind:         trading.OrderKind(st.Kind),
				Status:       trading.OrderStatus(st.Status),
				Quantity:     st.Quantity,
				LimitPrice:   st.LimitPrice,
				TriggerPrice: st.TriggerPrice,
				ExecutedQty:  st.ExecutedQty,
				AvgPrice:     st.AvgPrice,
				Fee:          st.Fee,
				OpenedAt:     st.OpenedAt,
				ClosedAt:     st.ClosedAt,
				Reason:       st.Reason,
			},
		}
	}
	return true, nil
}
