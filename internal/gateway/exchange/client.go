package exchange

import (
	"context"
	"errors"
	"time"

	"cryptotrader/internal/logger"
	"cryptotrader/internal/metrics"
	"cryptotrader/internal/pkg/circuit"
	"cryptotrader/internal/ratelimit"
)

const (
	OpBalance      = "balance"
	OpTicker       = "ticker"
	OpPlaceOrder   = "place_order"
	OpCancelOrder  = "cancel_order"
	OpOpenOrders   = "open_orders"
	OpClosedOrders = "closed_orders"
)

// Client is the gate every venue call passes through. It acquires the rate
// limit scope of the operation, consults the circuit breaker and classifies
// the result. It makes exactly one venue call per method invocation;
// retrying is the caller's job via RetryPolicy.
type Client struct {
	venue   Venue
	limiter ratelimit.Limiter
	breaker *circuit.Breaker
	metrics *metrics.Metrics
}

type ClientOption func(*Client)

func WithBreaker(b *circuit.Breaker) ClientOption {
	return func(c *Client) { c.breaker = b }
}

func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient wraps venue. Simulated venues bypass limiter and breaker.
func NewClient(venue Venue, limiter ratelimit.Limiter, opts ...ClientOption) *Client {
	c := &Client{venue: venue, limiter: limiter}
	for _, opt := range opts {
		opt(c)
	}
	if c.limiter == nil || venue.Simulated() {
		c.limiter = ratelimit.Unlimited()
	}
	if venue.Simulated() {
		c.breaker = nil
	}
	return c
}

func (c *Client) Name() string { return c.venue.Name() }

func (c *Client) Simulated() bool { return c.venue.Simulated() }

func (c *Client) Balance(ctx context.Context) (Balance, error) {
	var out Balance
	err := c.call(ctx, OpBalance, ratelimit.Private, func(ctx context.Context) error {
		var err error
		out, err = c.venue.Balance(ctx)
		return err
	})
	return out, err
}

func (c *Client) Ticker(ctx context.Context, pair string) (Ticker, error) {
	var out Ticker
	err := c.call(ctx, OpTicker, ratelimit.Public, func(ctx context.Context) error {
		var err error
		out, err = c.venue.Ticker(ctx, pair)
		return err
	})
	return out, err
}

func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (PlaceResult, error) {
	var out PlaceResult
	err := c.call(ctx, OpPlaceOrder, ratelimit.Private, func(ctx context.Context) error {
		var err error
		out, err = c.venue.PlaceOrder(ctx, req)
		if err == nil && out.PrimaryID() == "" {
			err = &Error{Op: OpPlaceOrder, Outcome: Terminal, Message: "venue returned no order id"}
		}
		return err
	})
	return out, err
}

func (c *Client) CancelOrder(ctx context.Context, exchangeID string) error {
	return c.call(ctx, OpCancelOrder, ratelimit.Private, func(ctx context.Context) error {
		return c.venue.CancelOrder(ctx, exchangeID)
	})
}

func (c *Client) OpenOrders(ctx context.Context) ([]VenueOrder, error) {
	var out []VenueOrder
	err := c.call(ctx, OpOpenOrders, ratelimit.Private, func(ctx context.Context) error {
		var err error
		out, err = c.venue.OpenOrders(ctx)
		return err
	})
	return out, err
}

func (c *Client) ClosedOrders(ctx context.Context) ([]VenueOrder, error) {
	var out []VenueOrder
	err := c.call(ctx, OpClosedOrders, ratelimit.Private, func(ctx context.Context) error {
		var err error
		out, err = c.venue.ClosedOrders(ctx)
		return err
	})
	return out, err
}

func (c *Client) call(ctx context.Context, op string, scope ratelimit.Scope, fn func(context.Context) error) error {
	if !c.breaker.Allow() {
		c.metrics.VenueCall(op, Retryable.String())
		return &Error{Op: op, Outcome: Retryable, Message: "venue circuit open", Err: ErrCircuitOpen}
	}
	if err := c.limiter.Acquire(ctx, scope); err != nil {
		c.breaker.Release()
		c.metrics.VenueCall(op, Cancelled.String())
		return err
	}

	start := time.Now()
	err := Wrap(op, fn(ctx))
	outcome := Classify(err)
	c.metrics.VenueCall(op, outcome.String())

	switch outcome {
	case Success:
		c.breaker.RecordSuccess()
	case Retryable:
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			// caller's own deadline, not a venue fault
			c.breaker.Release()
		} else {
			c.breaker.RecordFailure()
		}
		logger.Warnf("ExchangeClient: %s %s failed (retryable) after %s: %v", c.venue.Name(), op, time.Since(start).Round(time.Millisecond), err)
	case Terminal:
		c.breaker.Release()
		logger.Debugf("ExchangeClient: %s %s failed (terminal): %v", c.venue.Name(), op, err)
	default:
		c.breaker.Release()
	}
	return err
}
