// Package exchangetest provides a testify mock of exchange.Venue.
package exchangetest

import (
	"context"
	"sync"

	"cryptotrader/internal/gateway/exchange"

	"github.com/stretchr/testify/mock"
)

// MockVenue records calls and returns scripted results. BeforeCall, when
// set, runs before every method with the method name.
type MockVenue struct {
	mock.Mock

	mu         sync.Mutex
	BeforeCall func(method string)
	Sim        bool
}

func (m *MockVenue) before(method string) {
	m.mu.Lock()
	hook := m.BeforeCall
	m.mu.Unlock()
	if hook != nil {
		hook(method)
	}
}

func (m *MockVenue) Name() string { return "mock" }

func (m *MockVenue) Simulated() bool { return m.Sim }

func (m *MockVenue) Balance(ctx context.Context) (exchange.Balance, error) {
	m.before("Balance")
	args := m.Called(ctx)
	bal, _ := args.Get(0).(exchange.Balance)
	return bal, args.Error(1)
}

func (m *MockVenue) Ticker(ctx context.Context, pair string) (exchange.Ticker, error) {
	m.before("Ticker")
	args := m.Called(ctx, pair)
	t, _ := args.Get(0).(exchange.Ticker)
	return t, args.Error(1)
}

func (m *MockVenue) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.PlaceResult, error) {
	m.before("PlaceOrder")
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(exchange.PlaceResult)
	return res, args.Error(1)
}

func (m *MockVenue) CancelOrder(ctx context.Context, exchangeID string) error {
	m.before("CancelOrder")
	args := m.Called(ctx, exchangeID)
	return args.Error(0)
}

func (m *MockVenue) OpenOrders(ctx context.Context) ([]exchange.VenueOrder, error) {
	m.before("OpenOrders")
	args := m.Called(ctx)
	out, _ := args.Get(0).([]exchange.VenueOrder)
	return out, args.Error(1)
}

func (m *MockVenue) ClosedOrders(ctx context.Context) ([]exchange.VenueOrder, error) {
	m.before("ClosedOrders")
	args := m.Called(ctx)
	out, _ := args.Get(0).([]exchange.VenueOrder)
	return out, args.Error(1)
}

// Placed returns the requests passed to PlaceOrder so far.
func (m *MockVenue) Placed() []exchange.OrderRequest {
	var out []exchange.OrderRequest
	for _, call := range m.Calls {
		if call.Method == "PlaceOrder" {
			out = append(out, call.Arguments.Get(1).(exchange.OrderRequest))
		}
	}
	return out
}
