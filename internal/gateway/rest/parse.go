package rest

import (
	"sort"
	"strings"

	"cryptotrader/internal/gateway/exchange"
	"cryptotrader/internal/pkg/convert"
	"cryptotrader/internal/pkg/symbol"
	"cryptotrader/internal/trading"

	"github.com/tidwall/gjson"
)

// parseOrders reads a txid-keyed order map (OpenOrders.open or
// ClosedOrders.closed). Output is sorted by open time for stable processing.
func parseOrders(node gjson.Result, conv symbol.Converter) []exchange.VenueOrder {
	var out []exchange.VenueOrder
	node.ForEach(func(key, value gjson.Result) bool {
		out = append(out, parseOrder(key.String(), value, conv))
		return true
	})
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

func parseOrder(txid string, v gjson.Result, conv symbol.Converter) exchange.VenueOrder {
	descr := v.Get("descr")
	kind, ok := trading.ParseOrderKind(descr.Get("ordertype").String())
	if !ok {
		kind = trading.KindMarket
	}
	side, _ := trading.ParseOrderSide(descr.Get("type").String())

	o := exchange.VenueOrder{
		ExchangeID:  txid,
		ClientID:    v.Get("cl_ord_id").String(),
		Pair:        conv.FromExchange(descr.Get("pair").String()),
		Side:        side,
		Kind:        kind,
		Quantity:    v.Get("vol").Float(),
		ExecutedQty: v.Get("vol_exec").Float(),
		AvgPrice:    v.Get("price").Float(),
		Fee:         v.Get("fee").Float(),
		OpenedAt:    convert.UnixSeconds(v.Get("opentm").Float()),
		ClosedAt:    convert.UnixSeconds(v.Get("closetm").Float()),
		Reason:      v.Get("reason").String(),
		Raw:         []byte(v.Raw),
	}
	price := descr.Get("price").Float()
	price2 := descr.Get("price2").Float()
	switch {
	case kind.HasTrigger():
		o.TriggerPrice = price
		if kind.IsLimit() {
			o.LimitPrice = price2
		}
	case kind.IsLimit():
		o.LimitPrice = price
	}
	if o.AvgPrice == 0 && o.ExecutedQty > 0 {
		if cost := v.Get("cost").Float(); cost > 0 {
			o.AvgPrice = cost / o.ExecutedQty
		}
	}
	o.Status = statusOf(v.Get("status").String(), o.ExecutedQty)
	return o
}

func statusOf(raw string, executed float64) trading.OrderStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending", "open":
		if executed > 0 {
			return trading.OrderPartiallyFilled
		}
		return trading.OrderOpen
	case "closed":
		return trading.OrderFilled
	case "canceled", "cancelled", "expired":
		return trading.OrderCancelled
	default:
		return trading.OrderOpen
	}
}
