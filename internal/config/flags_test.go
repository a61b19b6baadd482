package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFlags(t *testing.T) {
	flags := ParseFlags([]string{
		"CRYPTO_FLAG_EXPERIMENTAL=true",
		"CRYPTO_FLAG_PAPER_TRADING=On",
		"CRYPTO_FLAG_DISABLE_RECONCILE=0",
		"CRYPTO_FLAG_=1",
		"PATH=/usr/bin",
		"CRYPTOTRADER_APP_ENV=prod",
	})

	assert.True(t, flags.IsEnabled("experimental", false))
	assert.True(t, flags.IsEnabled(FlagPaperTrading, false))
	assert.False(t, flags.IsEnabled(FlagDisableReconcile, true), "a set flag overrides the default")
	assert.True(t, flags.IsEnabled("missing", true))
	assert.False(t, flags.IsEnabled("missing", false))
	assert.Equal(t, []string{"disable_reconcile", "experimental", "paper_trading"}, flags.Names())
}

func TestFlagsFromEnv(t *testing.T) {
	t.Setenv("CRYPTO_FLAG_DISABLE_PRICE_SYNC", "yes")
	flags := FlagsFromEnv()
	assert.True(t, flags.IsEnabled("DISABLE_PRICE_SYNC", false))
	assert.True(t, flags.All()[FlagDisablePriceSync])
}
