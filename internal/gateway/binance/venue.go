// Package binance implements exchange.Venue on the Binance spot REST API
// through the go-binance SDK.
package binance

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"cryptotrader/internal/gateway/exchange"
	"cryptotrader/internal/logger"
	"cryptotrader/internal/pkg/convert"
	symbolpkg "cryptotrader/internal/pkg/symbol"

	binance "github.com/adshao/go-binance/v2"
)

type Venue struct {
	cfg    Config
	client *binance.Client
}

var _ exchange.Venue = (*Venue)(nil)

func New(cfg Config) (*Venue, error) {
	final := cfg.withDefaults()
	if strings.TrimSpace(final.APIKey) == "" || strings.TrimSpace(final.SecretKey) == "" {
		return nil, fmt.Errorf("binance venue: api key and secret are required")
	}
	client := binance.NewClient(final.APIKey, final.SecretKey)
	client.BaseURL = final.RESTBaseURL
	httpClient, err := final.httpClient()
	if err != nil {
		return nil, err
	}
	client.HTTPClient = httpClient
	return &Venue{cfg: final, client: client}, nil
}

func (v *Venue) Name() string { return "binance" }

func (v *Venue) Simulated() bool { return false }

func (v *Venue) Balance(ctx context.Context) (exchange.Balance, error) {
	acct, err := v.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return exchange.Balance{}, mapError(exchange.OpBalance, err)
	}
	bal := exchange.Balance{Assets: make(map[string]float64, len(acct.Balances)), UpdatedAt: time.Now()}
	for _, b := range acct.Balances {
		total := convert.ParseFloat(b.Free) + convert.ParseFloat(b.Locked)
		if total == 0 {
			continue
		}
		bal.Assets[strings.ToUpper(b.Asset)] = total
	}
	return bal, nil
}

func (v *Venue) Ticker(ctx context.Context, pair string) (exchange.Ticker, error) {
	sym := symbolpkg.Binance.ToExchange(pair)
	stats, err := v.client.NewListPriceChangeStatsService().Symbol(sym).Do(ctx)
	if err != nil {
		return exchange.Ticker{}, mapError(exchange.OpTicker, err)
	}
	for _, st := range stats {
		if st == nil || !strings.EqualFold(st.Symbol, sym) {
			continue
		}
		return exchange.Ticker{
			Pair:      symbolpkg.Normalize(pair),
			Bid:       convert.ParseFloat(st.BidPrice),
			Ask:       convert.ParseFloat(st.AskPrice),
			Last:      convert.ParseFloat(st.LastPrice),
			High:      convert.ParseFloat(st.HighPrice),
			Low:       convert.ParseFloat(st.LowPrice),
			Volume:    convert.ParseFloat(st.Volume),
			UpdatedAt: time.Now(),
		}, nil
	}
	return exchange.Ticker{}, exchange.BusinessError(exchange.OpTicker, "unknown symbol "+sym)
}

func (v *Venue) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.PlaceResult, error) {
	sym := symbolpkg.Binance.ToExchange(req.Pair)
	svc := v.client.NewCreateOrderService().
		Symbol(sym).
		Side(sideType(req.Side)).
		Type(orderType(req.Kind)).
		Quantity(formatFloat(req.Quantity)).
		NewOrderRespType(binance.NewOrderRespTypeFULL)
	if req.ClientID != "" {
		svc = svc.NewClientOrderID(req.ClientID)
	}
	if req.Kind.IsLimit() {
		svc = svc.Price(formatFloat(req.Price)).TimeInForce(binance.TimeInForceTypeGTC)
	}
	if req.Kind.HasTrigger() {
		svc = svc.StopPrice(formatFloat(req.TriggerPrice))
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return exchange.PlaceResult{}, mapError(exchange.OpPlaceOrder, err)
	}
	out := exchange.PlaceResult{ExchangeIDs: []string{encodeID(resp.Symbol, resp.OrderID)}}
	executed := convert.ParseFloat(resp.ExecutedQuantity)
	if executed > 0 {
		fill := &exchange.Fill{Quantity: executed}
		if quote := convert.ParseFloat(resp.CummulativeQuoteQuantity); quote > 0 {
			fill.AvgPrice = quote / executed
		}
		for _, f := range resp.Fills {
			if f != nil {
				fill.Fee += convert.ParseFloat(f.Commission)
			}
		}
		out.Fill = fill
	}
	return out, nil
}

func (v *Venue) CancelOrder(ctx context.Context, exchangeID string) error {
	sym, id, err := decodeID(exchangeID)
	if err != nil {
		return &exchange.Error{Op: exchange.OpCancelOrder, Outcome: exchange.Terminal, Message: err.Error()}
	}
	if _, err := v.client.NewCancelOrderService().Symbol(sym).OrderID(id).Do(ctx); err != nil {
		return mapError(exchange.OpCancelOrder, err)
	}
	return nil
}

func (v *Venue) OpenOrders(ctx context.Context) ([]exchange.VenueOrder, error) {
	orders, err := v.client.NewListOpenOrdersService().Do(ctx)
	if err != nil {
		return nil, mapError(exchange.OpOpenOrders, err)
	}
	out := make([]exchange.VenueOrder, 0, len(orders))
	for _, o := range orders {
		if o != nil {
			out = append(out, toVenueOrder(o))
		}
	}
	return out, nil
}

// ClosedOrders scans the order history of each configured pair and keeps
// the terminal ones.
func (v *Venue) ClosedOrders(ctx context.Context) ([]exchange.VenueOrder, error) {
	if len(v.cfg.Pairs) == 0 {
		logger.Warnf("BinanceVenue: no pairs configured, closed order scan skipped")
		return nil, nil
	}
	var out []exchange.VenueOrder
	for _, pair := range v.cfg.Pairs {
		orders, err := v.client.NewListOrdersService().
			Symbol(symbolpkg.Binance.ToExchange(pair)).
			Limit(v.cfg.HistoryLimit).
			Do(ctx)
		if err != nil {
			return nil, mapError(exchange.OpClosedOrders, err)
		}
		for _, o := range orders {
			if o == nil {
				continue
			}
			vo := toVenueOrder(o)
			if vo.Status.Terminal() {
				out = append(out, vo)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

// encodeID keeps the symbol with the order id: spot cancels need both.
func encodeID(sym string, id int64) string {
	return sym + ":" + strconv.FormatInt(id, 10)
}

func decodeID(raw string) (string, int64, error) {
	sym, idPart, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok || sym == "" {
		return "", 0, fmt.Errorf("malformed binance order id %q", raw)
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed binance order id %q", raw)
	}
	return sym, id, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
