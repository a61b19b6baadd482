package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"cryptotrader/internal/config"
	"cryptotrader/internal/diagnostics"
	"cryptotrader/internal/events"
	"cryptotrader/internal/gateway/binance"
	"cryptotrader/internal/gateway/exchange"
	"cryptotrader/internal/gateway/paper"
	"cryptotrader/internal/gateway/rest"
	"cryptotrader/internal/logger"
	"cryptotrader/internal/metrics"
	"cryptotrader/internal/order"
	"cryptotrader/internal/pkg/circuit"
	"cryptotrader/internal/position"
	"cryptotrader/internal/ratelimit"
	"cryptotrader/internal/store/gormstore"
	"cryptotrader/internal/trading"
	livehttp "cryptotrader/internal/transport/http/live"
)

// LiveVenueFunc builds the venue that sends real orders. The closer, when
// not nil, is released with the app.
type LiveVenueFunc func(cfg config.ExchangeConfig) (exchange.Venue, io.Closer, error)

type AppBuilder struct {
	cfg   *config.Config
	flags config.FeatureFlags

	liveVenueFn  LiveVenueFunc
	paperVenueFn func(cfg config.PaperConfig, fees trading.FeeSchedule) (*paper.Venue, error)
	ledgerFn     func(path string) (*gormstore.GormStore, error)
	httpEnabled  bool
}

type AppBuilderOption func(*AppBuilder)

// WithLiveVenue replaces the live venue constructor.
func WithLiveVenue(fn LiveVenueFunc) AppBuilderOption {
	return func(b *AppBuilder) { b.liveVenueFn = fn }
}

// WithoutHTTP skips the HTTP server.
func WithoutHTTP() AppBuilderOption {
	return func(b *AppBuilder) { b.httpEnabled = false }
}

func NewAppBuilder(cfg *config.Config, flags config.FeatureFlags, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:          cfg,
		flags:        flags,
		liveVenueFn:  buildLiveVenue,
		paperVenueFn: buildPaperVenue,
		ledgerFn:     gormstore.NewGormStore,
		httpEnabled:  true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// PaperMode reports whether orders stay in-process. The feature flag can
// force paper trading on but never off.
func (b *AppBuilder) PaperMode() bool {
	return b.cfg.Exchange.PaperTrading || b.flags.IsEnabled(config.FlagPaperTrading, false)
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	a := &App{cfg: cfg, flags: b.flags}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	ledger, err := b.ledgerFn(cfg.Ledger.Path)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", cfg.Ledger.Path, err)
	}
	a.ledger = ledger
	a.closers = append(a.closers, ledger)
	logger.Infof("✓ ledger opened: %s", cfg.Ledger.Path)

	a.metrics = metrics.New()
	a.bus = events.NewBus()
	a.bus.OnDrop(a.metrics.EventDropped)

	fees := trading.FeeSchedule{Maker: cfg.Fees.Maker, Taker: cfg.Fees.Taker}
	venue, limiter, err := b.buildVenue(a, fees)
	if err != nil {
		return nil, err
	}

	breaker := circuit.New(venue.Name(), cfg.Exchange.BreakerThreshold, cfg.Exchange.BreakerCooldown())
	breaker.SetStateChangeHandler(func(name string, from, to circuit.State) {
		logger.Warnf("Venue[%s]: circuit %s -> %s", name, from, to)
	})
	a.client = exchange.NewClient(venue, limiter, exchange.WithBreaker(breaker), exchange.WithMetrics(a.metrics))

	a.retrier = exchange.NewRetrier(retryPolicy(cfg.Retry, a.metrics))
	a.orders = order.NewManager(ledger, a.client, a.retrier,
		order.WithFees(fees),
		order.WithBus(a.bus),
		order.WithMetrics(a.metrics),
		order.WithPendingGrace(cfg.Sync.PendingGrace()),
	)
	a.positions = position.NewManager(ledger, a.orders, a.client, a.retrier,
		position.WithBus(a.bus),
		position.WithMetrics(a.metrics),
		position.WithMaxParallelPairs(cfg.Sync.MaxParallelPairs),
	)

	mode := "live"
	if a.client.Simulated() {
		mode = "paper"
	}
	a.diagnostics = diagnostics.NewCollector(mode, venue.Name(), b.flags.All())

	if b.httpEnabled {
		srvCfg := livehttp.ServerConfig{
			Addr:        cfg.App.HTTPAddr,
			Orders:      a.orders,
			Positions:   a.positions,
			Events:      a.bus,
			Diagnostics: a.diagnostics,
			Metrics:     a.metrics.Handler(),
		}
		if a.paper != nil {
			srvCfg.Paper = a.paper
		}
		srv, err := livehttp.NewServer(srvCfg)
		if err != nil {
			return nil, fmt.Errorf("build http server: %w", err)
		}
		a.http = srv
	}

	a.Summary = b.summary(mode, venue.Name())
	ok = true
	return a, nil
}

// buildVenue never touches the live constructor in paper mode.
func (b *AppBuilder) buildVenue(a *App, fees trading.FeeSchedule) (exchange.Venue, ratelimit.Limiter, error) {
	cfg := b.cfg
	if b.PaperMode() {
		venue, err := b.paperVenueFn(cfg.Paper, fees)
		if err != nil {
			return nil, nil, fmt.Errorf("build paper venue: %w", err)
		}
		a.paper = venue
		logger.Infof("✓ paper trading: orders are simulated in-process")
		return venue, ratelimit.Unlimited(), nil
	}
	venue, closer, err := b.liveVenueFn(cfg.Exchange)
	if err != nil {
		return nil, nil, fmt.Errorf("build %s venue: %w", cfg.Exchange.VenueName(), err)
	}
	if closer != nil {
		a.closers = append(a.closers, closer)
	}
	if venue.Simulated() {
		return nil, nil, fmt.Errorf("live venue %s reports simulated", venue.Name())
	}
	limiter := ratelimit.New(rateLimitConfig(cfg.RateLimit))
	limiter.OnWait(func(scope ratelimit.Scope, d time.Duration) {
		a.metrics.RateLimitWait(scope.String(), d.Seconds())
	})
	logger.Warnf("✓ LIVE trading on %s: orders reach the exchange", venue.Name())
	return venue, limiter, nil
}

func buildLiveVenue(cfg config.ExchangeConfig) (exchange.Venue, io.Closer, error) {
	switch cfg.VenueName() {
	case "binance":
		venue, err := binance.New(binance.Config{
			RESTBaseURL:  cfg.BaseURL,
			APIKey:       cfg.APIKey,
			SecretKey:    cfg.APISecret,
			HTTPTimeout:  cfg.Timeout(),
			Pairs:        cfg.Pairs,
			ProxyEnabled: strings.TrimSpace(cfg.ProxyURL) != "",
			RESTProxyURL: cfg.ProxyURL,
		})
		return venue, nil, err
	case "rest", "":
		var nonces rest.NonceStore
		var closer io.Closer
		if path := strings.TrimSpace(cfg.NonceStorePath); path != "" {
			store, err := rest.OpenBadgerNonceStore(path)
			if err != nil {
				return nil, nil, fmt.Errorf("open nonce store: %w", err)
			}
			nonces, closer = store, store
		} else {
			logger.Warnf("Venue[rest]: no nonce_store_path, nonces restart from the clock")
			nonces = rest.NewMemoryNonceStore()
		}
		venue, err := rest.New(rest.Config{
			BaseURL:   cfg.BaseURL,
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			Timeout:   cfg.Timeout(),
		}, nonces)
		if err != nil {
			if closer != nil {
				_ = closer.Close()
			}
			return nil, nil, err
		}
		return venue, closer, nil
	default:
		return nil, nil, fmt.Errorf("unknown venue %q", cfg.Venue)
	}
}

func buildPaperVenue(cfg config.PaperConfig, fees trading.FeeSchedule) (*paper.Venue, error) {
	return paper.New(paper.Config{
		Balances:    cfg.Balances,
		Prices:      cfg.Prices,
		Fees:        fees,
		SlippageBps: cfg.SlippageBps,
		SpreadBps:   cfg.SpreadBps,
		StatePath:   cfg.StatePath,
	})
}

func rateLimitConfig(cfg config.RateLimitConfig) ratelimit.Config {
	spacing := time.Duration(cfg.MinSpacingMS) * time.Millisecond
	return ratelimit.Config{
		Public: ratelimit.Policy{
			Limit:      cfg.PublicLimit,
			Window:     time.Duration(cfg.PublicWindowMS) * time.Millisecond,
			MinSpacing: spacing,
		},
		Private: ratelimit.Policy{
			Limit:      cfg.PrivateLimit,
			Window:     time.Duration(cfg.PrivateWindowMS) * time.Millisecond,
			MinSpacing: spacing,
		},
	}
}

func retryPolicy(cfg config.RetryConfig, mt *metrics.Metrics) exchange.RetryPolicy {
	return exchange.RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseBackoff(),
		MaxDelay:    cfg.MaxBackoff(),
		OnRetry: func(op string, attempt int, delay time.Duration, err error) {
			mt.VenueRetry(op)
			logger.Warnf("Venue: %s attempt %d failed, retrying in %s: %v", op, attempt, delay, err)
		},
	}
}

func (b *AppBuilder) summary(mode, venue string) *StartupSummary {
	cfg := b.cfg
	return &StartupSummary{
		Mode:              mode,
		Venue:             venue,
		HTTPAddr:          cfg.App.HTTPAddr,
		Ledger:            cfg.Ledger.Path,
		Pairs:             cfg.Exchange.Pairs,
		PublicLimit:       fmt.Sprintf("%d / %dms", cfg.RateLimit.PublicLimit, cfg.RateLimit.PublicWindowMS),
		PrivateLimit:      fmt.Sprintf("%d / %dms", cfg.RateLimit.PrivateLimit, cfg.RateLimit.PrivateWindowMS),
		Retry:             fmt.Sprintf("%d attempts, backoff %s..%s", cfg.Retry.MaxAttempts, cfg.Retry.BaseBackoff(), cfg.Retry.MaxBackoff()),
		PriceInterval:     cfg.Sync.PriceInterval().String(),
		ReconcileInterval: cfg.Sync.ReconcileInterval().String(),
		Flags:             b.flags.All(),
	}
}
