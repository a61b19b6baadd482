package exchange_test

import (
	"context"
	"testing"
	"time"

	"cryptotrader/internal/gateway/exchange"
	"cryptotrader/internal/gateway/exchange/exchangetest"
	"cryptotrader/internal/pkg/circuit"
	"cryptotrader/internal/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type scopeRecorder struct {
	scopes []ratelimit.Scope
}

func (r *scopeRecorder) Acquire(ctx context.Context, scope ratelimit.Scope) error {
	r.scopes = append(r.scopes, scope)
	return ctx.Err()
}

func (r *scopeRecorder) Stats(ratelimit.Scope) ratelimit.Stats { return ratelimit.Stats{} }

func TestClientAcquiresScopePerOperation(t *testing.T) {
	venue := &exchangetest.MockVenue{}
	venue.On("Ticker", mock.Anything, "BTC/USD").Return(exchange.Ticker{Pair: "BTC/USD", Last: 50000}, nil)
	venue.On("Balance", mock.Anything).Return(exchange.Balance{}, nil)
	venue.On("CancelOrder", mock.Anything, "OX-1").Return(nil)
	venue.On("OpenOrders", mock.Anything).Return([]exchange.VenueOrder{}, nil)
	venue.On("ClosedOrders", mock.Anything).Return([]exchange.VenueOrder{}, nil)
	venue.On("PlaceOrder", mock.Anything, mock.Anything).Return(exchange.PlaceResult{ExchangeIDs: []string{"OX-2"}}, nil)

	lim := &scopeRecorder{}
	c := exchange.NewClient(venue, lim)
	ctx := context.Background()

	tk, err := c.Ticker(ctx, "BTC/USD")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, tk.Last)
	_, err = c.Balance(ctx)
	require.NoError(t, err)
	require.NoError(t, c.CancelOrder(ctx, "OX-1"))
	_, err = c.OpenOrders(ctx)
	require.NoError(t, err)
	_, err = c.ClosedOrders(ctx)
	require.NoError(t, err)
	res, err := c.PlaceOrder(ctx, exchange.OrderRequest{ClientID: "a"})
	require.NoError(t, err)
	assert.Equal(t, "OX-2", res.PrimaryID())

	assert.Equal(t, []ratelimit.Scope{
		ratelimit.Public,
		ratelimit.Private, ratelimit.Private, ratelimit.Private, ratelimit.Private, ratelimit.Private,
	}, lim.scopes)
}

func TestClientSimulatedVenueBypassesLimiter(t *testing.T) {
	venue := &exchangetest.MockVenue{Sim: true}
	venue.On("Balance", mock.Anything).Return(exchange.Balance{}, nil)
	lim := &scopeRecorder{}
	c := exchange.NewClient(venue, lim)

	_, err := c.Balance(context.Background())
	require.NoError(t, err)
	assert.Empty(t, lim.scopes)
	assert.True(t, c.Simulated())
}

func TestClientPlaceWithoutIDIsTerminal(t *testing.T) {
	venue := &exchangetest.MockVenue{}
	venue.On("PlaceOrder", mock.Anything, mock.Anything).Return(exchange.PlaceResult{}, nil)
	c := exchange.NewClient(venue, ratelimit.Unlimited())

	_, err := c.PlaceOrder(context.Background(), exchange.OrderRequest{})
	assert.Equal(t, exchange.Terminal, exchange.Classify(err))
}

func TestClientBreakerFailsFast(t *testing.T) {
	venue := &exchangetest.MockVenue{}
	venue.On("Ticker", mock.Anything, mock.Anything).Return(exchange.Ticker{}, exchange.HTTPError("", 503, ""))

	b := circuit.New("test", 2, time.Hour)
	b.SetStateChangeHandler(func(string, circuit.State, circuit.State) {})
	c := exchange.NewClient(venue, ratelimit.Unlimited(), exchange.WithBreaker(b))

	for i := 0; i < 2; i++ {
		_, err := c.Ticker(context.Background(), "BTC/USD")
		assert.Equal(t, exchange.Retryable, exchange.Classify(err))
	}
	_, err := c.Ticker(context.Background(), "BTC/USD")
	assert.ErrorIs(t, err, exchange.ErrCircuitOpen)
	venue.AssertNumberOfCalls(t, "Ticker", 2)
}

func TestClientTransportErrorIsClassified(t *testing.T) {
	venue := &exchangetest.MockVenue{}
	venue.On("CancelOrder", mock.Anything, "OX").Return(exchange.BusinessError("", "EOrder:Unknown order"))
	c := exchange.NewClient(venue, ratelimit.Unlimited())

	err := c.CancelOrder(context.Background(), "OX")
	var ve *exchange.Error
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, exchange.OpCancelOrder, ve.Op)
	assert.Equal(t, exchange.Terminal, ve.Outcome)
}
