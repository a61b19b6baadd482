package livehttp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cryptotrader/internal/diagnostics"
	"cryptotrader/internal/events"
	"cryptotrader/internal/gateway/exchange"
	"cryptotrader/internal/gateway/paper"
	"cryptotrader/internal/metrics"
	"cryptotrader/internal/order"
	"cryptotrader/internal/position"
	"cryptotrader/internal/ratelimit"
	"cryptotrader/internal/store"
	"cryptotrader/internal/store/gormstore"
	"cryptotrader/internal/trading"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiHarness struct {
	server    *Server
	positions *position.Manager
	bus       *events.Bus
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	ledger, err := gormstore.NewGormStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })

	venue, err := paper.New(paper.Config{
		Balances: map[string]float64{"USD": 1000000},
		Prices:   map[string]float64{"BTC/USD": 50000, "ETH/USD": 3000},
	})
	require.NoError(t, err)
	retrier := exchange.NewRetrier(exchange.RetryPolicy{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		Sleep:       func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	})
	client := exchange.NewClient(venue, ratelimit.Unlimited())
	bus := events.NewBus()
	mt := metrics.New()
	orders := order.NewManager(ledger, client, retrier, order.WithBus(bus), order.WithMetrics(mt))
	positions := position.NewManager(ledger, orders, client, retrier, position.WithBus(bus), position.WithMetrics(mt))

	srv, err := NewServer(ServerConfig{
		Orders:      orders,
		Positions:   positions,
		Events:      bus,
		Diagnostics: diagnostics.NewCollector("paper", "paper", nil),
		Paper:       venue,
		Metrics:     mt.Handler(),
	})
	require.NoError(t, err)
	return &apiHarness{server: srv, positions: positions, bus: bus}
}

func (h *apiHarness) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (h *apiHarness) openLong(t *testing.T) map[string]interface{} {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/api/positions",
		`{"pair":"BTC/USD","side":"LONG","quantity":1,"entry_price":50000,"stop_loss":49000,"take_profit":52000}`,
		"X-Strategy-ID", "grid-7")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody(t, rec)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = h.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/diagnostics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "paper", decodeBody(t, rec)["mode"])
}

func TestOpenPositionOverHTTP(t *testing.T) {
	h := newAPIHarness(t)
	body := h.openLong(t)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "OPEN", body["status"])
	assert.Equal(t, "grid-7", body["strategy_id"])
	assert.NotEmpty(t, body["stop_loss_order_id"])
	assert.NotEmpty(t, body["take_profit_order_id"])

	rec := h.do(t, http.MethodGet, "/api/positions/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decodeBody(t, rec)["id"])

	rec = h.do(t, http.MethodGet, "/api/orders?position_id="+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	orders, _ := decodeBody(t, rec)["orders"].([]interface{})
	assert.Len(t, orders, 3)

	rec = h.do(t, http.MethodGet, "/api/positions?status=open&strategy_id=grid-7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	positions, _ := decodeBody(t, rec)["positions"].([]interface{})
	assert.Len(t, positions, 1)
}

func TestBodyStrategyIDWinsOverHeader(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodPost, "/api/positions",
		`{"pair":"ETH/USD","side":"SHORT","quantity":2,"strategy_id":"mean-rev"}`,
		"X-Strategy-ID", "grid-7")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "mean-rev", body["strategy_id"])
	assert.Greater(t, body["entry_price"].(float64), 0.0)
}

func TestRequestBodiesAreValidated(t *testing.T) {
	h := newAPIHarness(t)
	cases := []struct {
		name string
		path string
		body string
		want string
	}{
		{"bad side", "/api/positions", `{"pair":"BTC/USD","side":"UP","quantity":1}`, "side"},
		{"zero quantity", "/api/positions", `{"pair":"BTC/USD","side":"LONG","quantity":0}`, "quantity"},
		{"unknown field", "/api/positions", `{"pair":"BTC/USD","side":"LONG","quantity":1,"leverage":5}`, "invalid request"},
		{"not json", "/api/orders", `{"pair":`, "invalid json"},
		{"missing kind", "/api/orders", `{"pair":"BTC/USD","side":"BUY","quantity":1}`, "kind"},
		{"empty body", "/api/orders", ``, "invalid json"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, tc.path, tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Contains(t, decodeBody(t, rec)["error"], tc.want)
		})
	}
}

func TestRejectedOrderReportsVenueReason(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodPost, "/api/orders", `{"pair":"BTC/USD","side":"BUY","kind":"MARKET","quantity":100}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "EOrder:Insufficient funds", body["reason"])
	placed, _ := body["order"].(map[string]interface{})
	require.NotNil(t, placed)
	assert.Equal(t, "REJECTED", placed["status"])
	assert.Equal(t, body["order_id"], placed["id"])
}

func TestPlaceAndCancelOrder(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodPost, "/api/orders", `{"pair":"BTC/USD","side":"BUY","kind":"LIMIT","quantity":0.5,"limit_price":45000}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "OPEN", body["status"])
	assert.NotEmpty(t, body["exchange_id"])
	id := body["id"].(string)

	rec = h.do(t, http.MethodDelete, "/api/orders/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "CANCELLED", decodeBody(t, rec)["status"])

	rec = h.do(t, http.MethodGet, "/api/orders/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClosePositionTwiceConflicts(t *testing.T) {
	h := newAPIHarness(t)
	id := h.openLong(t)["id"].(string)

	rec := h.do(t, http.MethodPost, "/api/positions/"+id+"/close", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "CLOSED", body["status"])
	assert.Equal(t, "MANUAL", body["close_reason"])
	assert.NotEmpty(t, body["exit_order_id"])

	rec = h.do(t, http.MethodPost, "/api/positions/"+id+"/close", `{"reason":"MANUAL"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPaperPriceMoveThenSyncClosesPosition(t *testing.T) {
	h := newAPIHarness(t)
	id := h.openLong(t)["id"].(string)

	rec := h.do(t, http.MethodPost, "/api/paper/prices", `{"pair":"BTC/USD","price":48000}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodPost, "/api/sync", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeBody(t, rec)
	assert.Equal(t, 1.0, report["closed"])

	rec = h.do(t, http.MethodGet, "/api/positions/"+id, "")
	body := decodeBody(t, rec)
	assert.Equal(t, "CLOSED", body["status"])
	assert.Equal(t, "STOP_LOSS", body["close_reason"])
	assert.Less(t, body["realized_pnl"].(float64), 0.0)
}

func TestProtectionRoutes(t *testing.T) {
	h := newAPIHarness(t)
	id := h.openLong(t)["id"].(string)

	rec := h.do(t, http.MethodPut, "/api/positions/"+id+"/protection", `{"kind":"STOP_LOSS","price":49500}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 49500.0, decodeBody(t, rec)["stop_loss_price"])

	rec = h.do(t, http.MethodDelete, "/api/positions/"+id+"/protection/take_profit", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	_, hasTP := body["take_profit_order_id"]
	assert.False(t, hasTP)

	rec = h.do(t, http.MethodDelete, "/api/positions/"+id+"/protection/trailing", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListLimitValidation(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodGet, "/api/orders?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = h.do(t, http.MethodGet, "/api/positions?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventStreamDeliversPositionUpdates(t *testing.T) {
	h := newAPIHarness(t)
	ts := httptest.NewServer(h.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected\n", line)

	_, err = h.positions.Open(context.Background(), position.OpenRequest{
		Pair: "ETH/USD", Side: trading.Long, Quantity: 1,
	})
	require.NoError(t, err)

	for {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		if ev["type"] == string(events.PositionUpdated) {
			pos, _ := ev["position"].(map[string]interface{})
			assert.Equal(t, "ETH/USD", pos["pair"])
			return
		}
	}
}

func TestStatusForMapsDomainErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: bad", trading.ErrInvalidOrder), http.StatusBadRequest},
		{store.ErrNotFound, http.StatusNotFound},
		{trading.ErrPositionClosed, http.StatusConflict},
		{order.ErrAlreadyTerminal, http.StatusConflict},
		{fmt.Errorf("update: %w", store.ErrConflict), http.StatusConflict},
		{&order.OrderError{OrderID: "o1", Reason: "EOrder:Insufficient funds"}, http.StatusUnprocessableEntity},
		{exchange.ErrCircuitOpen, http.StatusServiceUnavailable},
		{&exchange.Error{Op: "ticker", Outcome: exchange.Retryable}, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestNewServerRequiresServices(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
}

func TestSchemasCompile(t *testing.T) {
	set, err := loadSchemas()
	require.NoError(t, err)
	for _, name := range []string{schemaPlaceOrder, schemaOpenPosition, schemaClose, schemaProtection, schemaPaperPrice} {
		assert.Contains(t, set, name)
	}
	assert.NoError(t, set.validate(schemaClose, []byte(`{}`)))
}
