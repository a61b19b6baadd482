package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "app:\n  env: test\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":9991", cfg.App.HTTPAddr)
	assert.True(t, cfg.Exchange.PaperTrading)
	assert.Equal(t, "rest", cfg.Exchange.Venue)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 1000, cfg.Retry.BaseBackoffMS)
	assert.Equal(t, 0.0016, cfg.Fees.Maker)
	assert.Equal(t, 0.0026, cfg.Fees.Taker)
	assert.Equal(t, 10, cfg.Sync.PriceIntervalSeconds)
	assert.Equal(t, 30, cfg.Sync.ReconcileIntervalSeconds)
	assert.Equal(t, map[string]float64{"USD": 100000}, cfg.Paper.Balances)
}

func TestLoadKeepsExplicitValues(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
sync:
  pending_grace_seconds: 0
retry:
  base_backoff_ms: 0
paper:
  balances:
    usdt: 2500
  prices:
    btc/usdt: 64000
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Zero(t, cfg.Sync.PendingGraceSeconds)
	assert.Zero(t, cfg.Retry.BaseBackoffMS)
	assert.Equal(t, map[string]float64{"USDT": 2500}, cfg.Paper.Balances)
	assert.Equal(t, map[string]float64{"BTC/USDT": 64000}, cfg.Paper.Prices)
}

func TestLoadMergesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "retry:\n  max_attempts: 5\nfees:\n  maker: 0.001\n")
	path := writeFile(t, dir, "config.yaml", "include:\n  - base.yaml\nfees:\n  maker: 0.002\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 0.002, cfg.Fees.Maker, "the including file wins")
}

func TestLoadRejectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include:\n  - b.yaml\n")
	writeFile(t, dir, "b.yaml", "include:\n  - a.yaml\n")

	_, err := Load(filepath.Join(dir, "a.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "exchange:\n  paper_trading: false\n  api_key: from-file\n")
	t.Setenv("CRYPTOTRADER_EXCHANGE_API_SECRET", "s3cret")
	t.Setenv("CRYPTOTRADER_RETRY_MAX_ATTEMPTS", "4")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Exchange.PaperTrading)
	assert.Equal(t, "from-file", cfg.Exchange.APIKey)
	assert.Equal(t, "s3cret", cfg.Exchange.APISecret)
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"live without credentials", "exchange:\n  paper_trading: false\n", "api_key"},
		{"unknown venue", "exchange:\n  venue: ftx\n", "exchange.venue"},
		{"bad log level", "app:\n  log_level: loud\n", "app.log_level"},
		{"zero attempts", "retry:\n  max_attempts: 0\n", "retry.max_attempts"},
		{"fee out of range", "fees:\n  taker: 0.5\n", "fees.taker"},
		{"negative paper balance", "paper:\n  balances:\n    usd: -1\n", "paper.balances"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", tc.body)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadRequiresPath(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)
}

func TestDurations(t *testing.T) {
	cfg := Config{
		Retry: RetryConfig{BaseBackoffMS: 1500},
		Sync:  SyncConfig{PriceIntervalSeconds: 10, PendingGraceSeconds: 120},
	}
	assert.Equal(t, "1.5s", cfg.Retry.BaseBackoff().String())
	assert.Equal(t, "10s", cfg.Sync.PriceInterval().String())
	assert.Equal(t, "2m0s", cfg.Sync.PendingGrace().String())
}

func TestLoadAcceptsSingleInclude(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "retry:\n  max_attempts: 6\n")
	path := writeFile(t, dir, "config.yaml", "include: base.yaml\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Retry.MaxAttempts)
}

func TestLoadEnvironmentZeroIsExplicit(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "app:\n  env: test\n")
	t.Setenv("CRYPTOTRADER_SYNC_PENDING_GRACE_SECONDS", "0")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Zero(t, cfg.Sync.PendingGraceSeconds)
}
