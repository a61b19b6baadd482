package position

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"cryptotrader/internal/gateway/exchange"
	"cryptotrader/internal/gateway/exchange/exchangetest"
	"cryptotrader/internal/order"
	"cryptotrader/internal/ratelimit"
	"cryptotrader/internal/store/gormstore"
	"cryptotrader/internal/trading"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type liveHarness struct {
	ledger  *gormstore.GormStore
	venue   *exchangetest.MockVenue
	orders  *order.Manager
	manager *Manager
}

func newLiveHarness(t *testing.T) *liveHarness {
	t.Helper()
	ledger, err := gormstore.NewGormStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })

	venue := &exchangetest.MockVenue{}
	retrier := exchange.NewRetrier(exchange.RetryPolicy{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		Sleep:       func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	})
	client := exchange.NewClient(venue, ratelimit.Unlimited())
	orders := order.NewManager(ledger, client, retrier)
	return &liveHarness{
		ledger:  ledger,
		venue:   venue,
		orders:  orders,
		manager: NewManager(ledger, orders, client, retrier),
	}
}

func placed(kind trading.OrderKind, side trading.OrderSide) interface{} {
	return mock.MatchedBy(func(req exchange.OrderRequest) bool {
		return req.Kind == kind && req.Side == side
	})
}

// openProtectedLong opens LONG 1 BTC/USD @ 50000 with venue ids E-1 (entry),
// S-1 (stop at 49000) and T-1 (target at 52000).
func (h *liveHarness) openProtectedLong(t *testing.T) trading.Position {
	t.Helper()
	h.venue.On("PlaceOrder", mock.Anything, placed(trading.KindMarket, trading.SideBuy)).
		Return(exchange.PlaceResult{ExchangeIDs: []string{"E-1"}}, nil).Once()
	h.venue.On("PlaceOrder", mock.Anything, placed(trading.KindStopLoss, trading.SideSell)).
		Return(exchange.PlaceResult{ExchangeIDs: []string{"S-1"}}, nil).Once()
	h.venue.On("PlaceOrder", mock.Anything, placed(trading.KindTakeProfitLimit, trading.SideSell)).
		Return(exchange.PlaceResult{ExchangeIDs: []string{"T-1"}}, nil).Once()

	p, err := h.manager.Open(context.Background(), OpenRequest{
		Pair: "BTC/USD", Side: trading.Long, Quantity: 1, EntryPrice: 50000, StopLoss: 49000, TakeProfit: 52000,
	})
	require.NoError(t, err)
	require.NotEmpty(t, p.StopLossOrderID)
	require.NotEmpty(t, p.TakeProfitOrderID)
	return p
}

func TestLiveStopTriggerCancelsAtVenueBeforeMarketExit(t *testing.T) {
	h := newLiveHarness(t)
	ctx := context.Background()
	p := h.openProtectedLong(t)

	h.venue.On("CancelOrder", mock.Anything, "S-1").Return(nil).Once()
	h.venue.On("CancelOrder", mock.Anything, "T-1").Return(nil).Once()
	h.venue.On("PlaceOrder", mock.Anything, placed(trading.KindMarket, trading.SideSell)).
		Return(exchange.PlaceResult{ExchangeIDs: []string{"X-1"}, Fill: &exchange.Fill{Quantity: 1, AvgPrice: 48850}}, nil).Once()

	closed, err := h.manager.UpdatePrice(ctx, p.ID, 48900)
	require.NoError(t, err)
	assert.Equal(t, trading.PositionClosed, closed.Status)
	assert.Equal(t, trading.CloseStopLoss, closed.CloseReason)
	assert.Equal(t, 48850.0, closed.ExitPrice, "the venue fill is the exit price")
	assert.InDelta(t, -1150, closed.RealizedPnL, 1e-9)

	// Ledger and venue agree: the stop was cancelled there, the exit filled.
	stop, err := h.orders.Get(ctx, p.StopLossOrderID)
	require.NoError(t, err)
	assert.Equal(t, trading.OrderCancelled, stop.Status)
	target, err := h.orders.Get(ctx, p.TakeProfitOrderID)
	require.NoError(t, err)
	assert.Equal(t, trading.OrderCancelled, target.Status)

	exit, err := h.orders.Get(ctx, closed.ExitOrderID)
	require.NoError(t, err)
	assert.Equal(t, "X-1", exit.ExchangeID)
	assert.Equal(t, trading.OrderFilled, exit.Status)
	assert.Equal(t, trading.SideSell, exit.Side)
	assert.Equal(t, 1.0, exit.Quantity)

	h.venue.AssertCalled(t, "CancelOrder", mock.Anything, "S-1")
	h.venue.AssertNumberOfCalls(t, "PlaceOrder", 4)
	h.venue.AssertExpectations(t)
}

func TestLiveStopTriggerWithFailedCancelLeavesPositionOpen(t *testing.T) {
	h := newLiveHarness(t)
	ctx := context.Background()
	p := h.openProtectedLong(t)

	// The stop already executed at the venue, which refuses the cancel.
	h.venue.On("CancelOrder", mock.Anything, "S-1").
		Return(exchange.BusinessError(exchange.OpCancelOrder, "EOrder:Unknown order")).Once()

	_, err := h.manager.UpdatePrice(ctx, p.ID, 48900)
	require.Error(t, err)

	still, err := h.manager.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, trading.PositionOpen, still.Status)
	stop, err := h.orders.Get(ctx, p.StopLossOrderID)
	require.NoError(t, err)
	assert.Equal(t, trading.OrderOpen, stop.Status, "never marked FILLED without the venue")
	h.venue.AssertNumberOfCalls(t, "PlaceOrder", 3)

	// Reconciliation learns the stop's fill; the next price closes on it.
	h.venue.On("OpenOrders", mock.Anything).Return([]exchange.VenueOrder(nil), nil)
	h.venue.On("ClosedOrders", mock.Anything).Return([]exchange.VenueOrder{{
		ExchangeID: "S-1", Pair: "BTC/USD", Side: trading.SideSell, Kind: trading.KindStopLoss,
		Status: trading.OrderFilled, Quantity: 1, TriggerPrice: 49000, ExecutedQty: 1, AvgPrice: 48950,
	}}, nil)
	_, err = h.orders.Reconcile(ctx)
	require.NoError(t, err)

	h.venue.On("CancelOrder", mock.Anything, "T-1").Return(nil).Once()
	closed, err := h.manager.UpdatePrice(ctx, p.ID, 48800)
	require.NoError(t, err)
	assert.Equal(t, trading.PositionClosed, closed.Status)
	assert.Equal(t, trading.CloseStopLoss, closed.CloseReason)
	assert.Equal(t, p.StopLossOrderID, closed.ExitOrderID)
	assert.Equal(t, 48950.0, closed.ExitPrice)
	h.venue.AssertNumberOfCalls(t, "PlaceOrder", 3)

	target, err := h.orders.Get(ctx, p.TakeProfitOrderID)
	require.NoError(t, err)
	assert.Equal(t, trading.OrderCancelled, target.Status)
}

func TestLiveOpenWithoutEntryPriceUsesTicker(t *testing.T) {
	h := newLiveHarness(t)
	ctx := context.Background()
	h.venue.On("Ticker", mock.Anything, "BTC/USD").Return(exchange.Ticker{Pair: "BTC/USD", Last: 50100}, nil).Once()
	// The acknowledgement carries ids only, no execution details.
	h.venue.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(req exchange.OrderRequest) bool {
		return req.Kind == trading.KindMarket && req.ReferencePrice == 50100
	})).Return(exchange.PlaceResult{ExchangeIDs: []string{"E-2"}}, nil).Once()

	p, err := h.manager.Open(ctx, OpenRequest{Pair: "BTC/USD", Side: trading.Long, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, trading.PositionOpen, p.Status)
	assert.Equal(t, 50100.0, p.EntryPrice)

	entry, err := h.orders.Get(ctx, p.EntryOrderID)
	require.NoError(t, err)
	assert.Equal(t, trading.OrderFilled, entry.Status)
	assert.Equal(t, 50100.0, entry.AvgFillPrice)
}

func TestLiveOpenWithoutEntryPriceNeedsTicker(t *testing.T) {
	h := newLiveHarness(t)
	h.venue.On("Ticker", mock.Anything, "BTC/USD").
		Return(exchange.Ticker{}, exchange.BusinessError(exchange.OpTicker, "EQuery:Unknown asset pair"))

	_, err := h.manager.Open(context.Background(), OpenRequest{Pair: "BTC/USD", Side: trading.Long, Quantity: 1})
	require.Error(t, err)
	assert.False(t, errors.Is(err, trading.ErrInvalidPosition))
	h.venue.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}
