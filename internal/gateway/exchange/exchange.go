// Package exchange defines the venue abstraction and the client that every
// order and position path goes through: rate limiting, failure
// classification, circuit breaking and retry with backoff. Live REST,
// Binance and paper venues all satisfy Venue, so the lifecycle managers never
// know which one is active.
package exchange

import "context"

// Venue is the raw transport for one exchange account. Implementations do
// not retry and do not rate limit; Client does both.
type Venue interface {
	Name() string

	// Simulated reports whether orders never leave the process.
	Simulated() bool

	Balance(ctx context.Context) (Balance, error)

	Ticker(ctx context.Context, pair string) (Ticker, error)

	PlaceOrder(ctx context.Context, req OrderRequest) (PlaceResult, error)

	CancelOrder(ctx context.Context, exchangeID string) error

	OpenOrders(ctx context.Context) ([]VenueOrder, error)

	ClosedOrders(ctx context.Context) ([]VenueOrder, error)
}
