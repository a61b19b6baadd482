package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cryptotrader/internal/config"
	"cryptotrader/internal/gateway/exchange"
	"cryptotrader/internal/gateway/exchange/exchangetest"
	"cryptotrader/internal/order"
	"cryptotrader/internal/trading"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`app:
  log_path: ""
ledger:
  path: %q
paper:
  state_path: ""
  prices:
    BTC/USD: 50000
%s`, filepath.Join(dir, "ledger.db"), extra)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func forbidLive(t *testing.T) AppBuilderOption {
	return WithLiveVenue(func(config.ExchangeConfig) (exchange.Venue, io.Closer, error) {
		t.Fatal("live venue must not be built in paper mode")
		return nil, nil, nil
	})
}

type countingCloser struct{ closed int }

func (c *countingCloser) Close() error {
	c.closed++
	return nil
}

func TestPaperModeNeverBuildsLiveVenue(t *testing.T) {
	cfg := loadConfig(t, "")
	require.True(t, cfg.Exchange.PaperTrading)

	a, err := NewAppBuilder(cfg, config.ParseFlags(nil), forbidLive(t), WithoutHTTP()).Build(context.Background())
	require.NoError(t, err)
	defer a.Close()

	assert.True(t, a.Simulated())
	o, err := a.Orders().Place(context.Background(), order.Spec{
		Pair: "BTC/USD", Side: trading.SideBuy, Kind: trading.KindMarket, Quantity: 0.1,
	})
	require.NoError(t, err)
	assert.True(t, o.Simulated)
	assert.Equal(t, trading.OrderFilled, o.Status)
	assert.Equal(t, "paper", a.Diagnostics().Mode)
}

func TestFlagForcesPaperMode(t *testing.T) {
	cfg := loadConfig(t, `exchange:
  paper_trading: false
  api_key: key
  api_secret: c2VjcmV0
`)
	require.False(t, cfg.Exchange.PaperTrading)
	flags := config.ParseFlags([]string{"CRYPTO_FLAG_PAPER_TRADING=true"})

	b := NewAppBuilder(cfg, flags, forbidLive(t), WithoutHTTP())
	assert.True(t, b.PaperMode())
	a, err := b.Build(context.Background())
	require.NoError(t, err)
	defer a.Close()
	assert.True(t, a.Simulated())
}

func TestFlagCannotForceLiveMode(t *testing.T) {
	cfg := loadConfig(t, "")
	flags := config.ParseFlags([]string{"CRYPTO_FLAG_PAPER_TRADING=false"})
	assert.True(t, NewAppBuilder(cfg, flags).PaperMode())
}

func TestLiveModeUsesLiveVenue(t *testing.T) {
	cfg := loadConfig(t, `exchange:
  paper_trading: false
  api_key: key
  api_secret: c2VjcmV0
`)
	venue := &exchangetest.MockVenue{}
	closer := &countingCloser{}
	built := 0
	a, err := NewAppBuilder(cfg, config.ParseFlags(nil), WithoutHTTP(),
		WithLiveVenue(func(ec config.ExchangeConfig) (exchange.Venue, io.Closer, error) {
			built++
			assert.Equal(t, "key", ec.APIKey)
			return venue, closer, nil
		}),
	).Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, built)
	assert.False(t, a.Simulated())
	assert.Equal(t, "live", a.Diagnostics().Mode)
	// Building the app makes no venue calls.
	venue.AssertExpectations(t)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.Equal(t, 1, closer.closed)
}

func TestLiveVenueMustNotBeSimulated(t *testing.T) {
	cfg := loadConfig(t, `exchange:
  paper_trading: false
  api_key: key
  api_secret: c2VjcmV0
`)
	closer := &countingCloser{}
	_, err := NewAppBuilder(cfg, config.ParseFlags(nil), WithoutHTTP(),
		WithLiveVenue(func(config.ExchangeConfig) (exchange.Venue, io.Closer, error) {
			return &exchangetest.MockVenue{Sim: true}, closer, nil
		}),
	).Build(context.Background())
	require.Error(t, err)
	// The ledger and the venue resources are released on failure.
	assert.Equal(t, 1, closer.closed)
}

func TestLiveVenueErrorFailsBuild(t *testing.T) {
	cfg := loadConfig(t, `exchange:
  paper_trading: false
  api_key: key
  api_secret: c2VjcmV0
`)
	_, err := NewAppBuilder(cfg, config.ParseFlags(nil), WithoutHTTP(),
		WithLiveVenue(func(config.ExchangeConfig) (exchange.Venue, io.Closer, error) {
			return nil, nil, errors.New("dial failed")
		}),
	).Build(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial failed")
}

func TestRunStopsWithContext(t *testing.T) {
	cfg := loadConfig(t, `sync:
  price_interval_seconds: 1
  reconcile_interval_seconds: 1
`)
	a, err := NewAppBuilder(cfg, config.ParseFlags(nil), forbidLive(t), WithoutHTTP()).Build(context.Background())
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestApplyRuntimeUpdatesRetrier(t *testing.T) {
	cfg := loadConfig(t, "")
	a, err := NewAppBuilder(cfg, config.ParseFlags(nil), forbidLive(t), WithoutHTTP()).Build(context.Background())
	require.NoError(t, err)
	defer a.Close()

	a.ApplyRuntime(config.Runtime{
		Version:  2,
		LogLevel: "info",
		Retry:    config.RetryConfig{MaxAttempts: 7, BaseBackoffMS: 250, MaxBackoffMS: 1000},
	})
	p := a.retrier.Policy()
	assert.Equal(t, 7, p.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, p.BaseDelay)
	assert.NotNil(t, p.OnRetry)
}

func TestSummaryListsModeAndFlags(t *testing.T) {
	cfg := loadConfig(t, "")
	flags := config.ParseFlags([]string{"CRYPTO_FLAG_DISABLE_RECONCILE=1"})
	a, err := NewApp(context.Background(), cfg, flags)
	require.NoError(t, err)
	defer a.Close()

	text := a.Summary.String()
	assert.Contains(t, text, "mode:      paper")
	assert.Contains(t, text, "disable_reconcile=true")
}
