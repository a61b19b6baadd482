// Package rest is the live venue for Kraken-shaped REST exchanges: a public
// ticker endpoint plus nonce-authenticated private endpoints answering with
// an {"error": [...], "result": {...}} envelope.
package rest

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cryptotrader/internal/gateway/exchange"
	"cryptotrader/internal/pkg/symbol"
	"cryptotrader/internal/trading"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

const (
	pathTicker       = "/0/public/Ticker"
	pathBalance      = "/0/private/Balance"
	pathAddOrder     = "/0/private/AddOrder"
	pathCancelOrder  = "/0/private/CancelOrder"
	pathOpenOrders   = "/0/private/OpenOrders"
	pathClosedOrders = "/0/private/ClosedOrders"
)

type Venue struct {
	cfg    Config
	client *resty.Client
	nonces *NonceSource
	conv   symbol.Converter
}

var _ exchange.Venue = (*Venue)(nil)

// New builds the venue. Retries are disabled on the HTTP client: the
// exchange client's policy owns them.
func New(cfg Config, nonces NonceStore) (*Venue, error) {
	final := cfg.withDefaults()
	if final.APIKey == "" || final.APISecret == "" {
		return nil, errors.New("rest venue: api key and secret are required")
	}
	client := resty.New().
		SetBaseURL(final.BaseURL).
		SetTimeout(final.Timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", final.UserAgent).
		SetHeader("Accept", "application/json")
	return &Venue{
		cfg:    final,
		client: client,
		nonces: NewNonceSource(final.APIKey, nonces),
		conv:   symbol.REST,
	}, nil
}

func (v *Venue) Name() string { return "rest" }

func (v *Venue) Simulated() bool { return false }

func (v *Venue) Balance(ctx context.Context) (exchange.Balance, error) {
	res, err := v.private(ctx, exchange.OpBalance, pathBalance, url.Values{})
	if err != nil {
		return exchange.Balance{}, err
	}
	bal := exchange.Balance{Assets: make(map[string]float64), UpdatedAt: time.Now()}
	res.ForEach(func(key, value gjson.Result) bool {
		bal.Assets[symbol.RESTAsset(key.String())] += value.Float()
		return true
	})
	return bal, nil
}

func (v *Venue) Ticker(ctx context.Context, pair string) (exchange.Ticker, error) {
	resp, err := v.client.R().
		SetContext(ctx).
		SetQueryParam("pair", v.conv.ToExchange(pair)).
		Get(pathTicker)
	res, err := v.envelope(exchange.OpTicker, resp, err)
	if err != nil {
		return exchange.Ticker{}, err
	}
	var entry gjson.Result
	res.ForEach(func(_, value gjson.Result) bool {
		entry = value
		return false
	})
	if !entry.Exists() {
		return exchange.Ticker{}, exchange.BusinessError(exchange.OpTicker, "EQuery:Unknown asset pair")
	}
	return exchange.Ticker{
		Pair:      symbol.Normalize(pair),
		Ask:       entry.Get("a.0").Float(),
		Bid:       entry.Get("b.0").Float(),
		Last:      entry.Get("c.0").Float(),
		Volume:    entry.Get("v.1").Float(),
		High:      entry.Get("h.1").Float(),
		Low:       entry.Get("l.1").Float(),
		UpdatedAt: time.Now(),
	}, nil
}

func (v *Venue) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.PlaceResult, error) {
	form := url.Values{}
	form.Set("pair", v.conv.ToExchange(req.Pair))
	form.Set("type", strings.ToLower(string(req.Side)))
	form.Set("ordertype", orderTypeOf(req.Kind))
	form.Set("volume", formatFloat(req.Quantity))
	if price, price2 := pricesOf(req); price > 0 {
		form.Set("price", formatFloat(price))
		if price2 > 0 {
			form.Set("price2", formatFloat(price2))
		}
	}
	if req.ClientID != "" {
		form.Set("cl_ord_id", req.ClientID)
	}

	res, err := v.private(ctx, exchange.OpPlaceOrder, pathAddOrder, form)
	if err != nil {
		return exchange.PlaceResult{}, err
	}
	out := exchange.PlaceResult{Raw: []byte(res.Raw)}
	for _, id := range res.Get("txid").Array() {
		out.ExchangeIDs = append(out.ExchangeIDs, id.String())
	}
	return out, nil
}

func (v *Venue) CancelOrder(ctx context.Context, exchangeID string) error {
	form := url.Values{}
	form.Set("txid", exchangeID)
	_, err := v.private(ctx, exchange.OpCancelOrder, pathCancelOrder, form)
	return err
}

func (v *Venue) OpenOrders(ctx context.Context) ([]exchange.VenueOrder, error) {
	res, err := v.private(ctx, exchange.OpOpenOrders, pathOpenOrders, url.Values{})
	if err != nil {
		return nil, err
	}
	return parseOrders(res.Get("open"), v.conv), nil
}

func (v *Venue) ClosedOrders(ctx context.Context) ([]exchange.VenueOrder, error) {
	res, err := v.private(ctx, exchange.OpClosedOrders, pathClosedOrders, url.Values{})
	if err != nil {
		return nil, err
	}
	return parseOrders(res.Get("closed"), v.conv), nil
}

func (v *Venue) private(ctx context.Context, op, path string, form url.Values) (gjson.Result, error) {
	nonce, err := v.nonces.Next(ctx)
	if err != nil {
		return gjson.Result{}, &exchange.Error{Op: op, Outcome: exchange.Terminal, Message: "nonce store unavailable", Err: err}
	}
	form.Set("nonce", strconv.FormatUint(nonce, 10))
	sig, err := Sign(path, form, v.cfg.APISecret)
	if err != nil {
		return gjson.Result{}, &exchange.Error{Op: op, Outcome: exchange.Terminal, Err: err}
	}
	resp, err := v.client.R().
		SetContext(ctx).
		SetHeader("API-Key", v.cfg.APIKey).
		SetHeader("API-Sign", sig).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(form.Encode()).
		Post(path)
	return v.envelope(op, resp, err)
}

// envelope turns a response into its result node or a classified error.
func (v *Venue) envelope(op string, resp *resty.Response, err error) (gjson.Result, error) {
	if err != nil {
		return gjson.Result{}, exchange.Wrap(op, errors.Wrapf(err, "%s request", op))
	}
	body := resp.Body()
	if !resp.IsSuccess() {
		return gjson.Result{}, exchange.HTTPError(op, resp.StatusCode(), truncate(string(body), 256))
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, &exchange.Error{Op: op, Outcome: exchange.Retryable, StatusCode: http.StatusOK, Message: "malformed venue response"}
	}
	parsed := gjson.ParseBytes(body)
	if errs := parsed.Get("error").Array(); len(errs) > 0 {
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, e.String())
		}
		return gjson.Result{}, exchange.BusinessError(op, strings.Join(msgs, "; "))
	}
	return parsed.Get("result"), nil
}

func orderTypeOf(kind trading.OrderKind) string {
	return strings.ToLower(strings.ReplaceAll(string(kind), "_", "-"))
}

// pricesOf maps request prices onto price/price2: trigger kinds put the
// trigger in price and any limit in price2.
func pricesOf(req exchange.OrderRequest) (float64, float64) {
	if req.Kind.HasTrigger() {
		if req.Kind.IsLimit() {
			return req.TriggerPrice, req.Price
		}
		return req.TriggerPrice, 0
	}
	if req.Kind.IsLimit() {
		return req.Price, 0
	}
	return 0, 0
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
