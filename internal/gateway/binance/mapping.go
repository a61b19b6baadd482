package binance

import (
	"errors"
	"net/http"

	"cryptotrader/internal/gateway/exchange"
	"cryptotrader/internal/pkg/convert"
	symbolpkg "cryptotrader/internal/pkg/symbol"
	"cryptotrader/internal/trading"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
)

func sideType(s trading.OrderSide) binance.SideType {
	if s == trading.SideSell {
		return binance.SideTypeSell
	}
	return binance.SideTypeBuy
}

func orderType(k trading.OrderKind) binance.OrderType {
	switch k {
	case trading.KindLimit:
		return binance.OrderTypeLimit
	case trading.KindStopLoss:
		return binance.OrderTypeStopLoss
	case trading.KindStopLossLimit:
		return binance.OrderTypeStopLossLimit
	case trading.KindTakeProfit:
		return binance.OrderTypeTakeProfit
	case trading.KindTakeProfitLimit:
		return binance.OrderTypeTakeProfitLimit
	default:
		return binance.OrderTypeMarket
	}
}

func kindOf(t binance.OrderType) trading.OrderKind {
	switch t {
	case binance.OrderTypeLimit, binance.OrderTypeLimitMaker:
		return trading.KindLimit
	case binance.OrderTypeStopLoss:
		return trading.KindStopLoss
	case binance.OrderTypeStopLossLimit:
		return trading.KindStopLossLimit
	case binance.OrderTypeTakeProfit:
		return trading.KindTakeProfit
	case binance.OrderTypeTakeProfitLimit:
		return trading.KindTakeProfitLimit
	default:
		return trading.KindMarket
	}
}

func statusOf(s binance.OrderStatusType) trading.OrderStatus {
	switch s {
	case binance.OrderStatusTypePartiallyFilled:
		return trading.OrderPartiallyFilled
	case binance.OrderStatusTypeFilled:
		return trading.OrderFilled
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeExpired:
		return trading.OrderCancelled
	case binance.OrderStatusTypeRejected:
		return trading.OrderRejected
	default:
		return trading.OrderOpen
	}
}

func toVenueOrder(o *binance.Order) exchange.VenueOrder {
	kind := kindOf(o.Type)
	vo := exchange.VenueOrder{
		ExchangeID:  encodeID(o.Symbol, o.OrderID),
		ClientID:    o.ClientOrderID,
		Pair:        symbolpkg.Binance.FromExchange(o.Symbol),
		Side:        trading.SideBuy,
		Kind:        kind,
		Status:      statusOf(o.Status),
		Quantity:    convert.ParseFloat(o.OrigQuantity),
		ExecutedQty: convert.ParseFloat(o.ExecutedQuantity),
		OpenedAt:    convert.UnixMillis(o.Time),
	}
	if o.Side == binance.SideTypeSell {
		vo.Side = trading.SideSell
	}
	if kind.IsLimit() {
		vo.LimitPrice = convert.ParseFloat(o.Price)
	}
	if kind.HasTrigger() {
		vo.TriggerPrice = convert.ParseFloat(o.StopPrice)
	}
	if vo.ExecutedQty > 0 {
		if quote := convert.ParseFloat(o.CummulativeQuoteQuantity); quote > 0 {
			vo.AvgPrice = quote / vo.ExecutedQty
		}
	}
	if vo.Status.Terminal() {
		vo.ClosedAt = convert.UnixMillis(o.UpdateTime)
	}
	return vo
}

// transientCodes are API error codes that describe venue load rather than a
// bad request: -1003 too many requests, -1001 disconnected, -1007 timeout,
// -1015 too many orders.
var transientCodes = map[int64]bool{-1003: true, -1001: true, -1007: true, -1015: true}

func mapError(op string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		outcome := exchange.Terminal
		if transientCodes[apiErr.Code] || exchange.IsTransientMessage(apiErr.Message) {
			outcome = exchange.Retryable
		}
		status := 0
		if apiErr.Code == -1003 {
			status = http.StatusTooManyRequests
		}
		return &exchange.Error{Op: op, Outcome: outcome, StatusCode: status, Message: apiErr.Message, Err: err}
	}
	return exchange.Wrap(op, err)
}
