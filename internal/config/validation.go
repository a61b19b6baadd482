package config

import (
	"fmt"
	"strings"
)

const maxFeeRate = 0.1

// validate rejects configurations the process cannot run with.
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Exchange.validate(); err != nil {
		return err
	}
	if err := c.RateLimit.validate(); err != nil {
		return err
	}
	if err := c.Retry.validate(); err != nil {
		return err
	}
	if err := c.Fees.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Ledger.Path) == "" {
		return fmt.Errorf("ledger.path cannot be empty")
	}
	if err := c.Sync.validate(); err != nil {
		return err
	}
	if err := c.Paper.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch a.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("app.log_level must be one of debug/info/warn/error, got %q", a.LogLevel)
	}
	if a.LogMaxSizeMB < 0 || a.LogMaxBackups < 0 || a.LogMaxAgeDays < 0 {
		return fmt.Errorf("app log rotation settings must be >= 0")
	}
	return nil
}

func (e *ExchangeConfig) validate() error {
	switch e.Venue {
	case "rest", "binance":
	default:
		return fmt.Errorf("exchange.venue must be rest or binance, got %q", e.Venue)
	}
	if e.TimeoutSeconds <= 0 {
		return fmt.Errorf("exchange.timeout_seconds must be > 0")
	}
	if e.BreakerThreshold < 0 || e.BreakerCooldownSeconds < 0 {
		return fmt.Errorf("exchange breaker settings must be >= 0")
	}
	if e.PaperTrading {
		return nil
	}
	if e.APIKey == "" || e.APISecret == "" {
		return fmt.Errorf("exchange.api_key and exchange.api_secret are required when paper_trading is false")
	}
	if e.Venue == "binance" && len(e.Pairs) == 0 {
		return fmt.Errorf("exchange.pairs is required for the binance venue")
	}
	return nil
}

func (r *RateLimitConfig) validate() error {
	if r.PublicLimit <= 0 || r.PrivateLimit <= 0 {
		return fmt.Errorf("rate_limit limits must be > 0")
	}
	if r.PublicWindowMS <= 0 || r.PrivateWindowMS <= 0 {
		return fmt.Errorf("rate_limit windows must be > 0")
	}
	if r.MinSpacingMS < 0 {
		return fmt.Errorf("rate_limit.min_spacing_ms must be >= 0")
	}
	return nil
}

func (r *RetryConfig) validate() error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}
	if r.BaseBackoffMS < 0 {
		return fmt.Errorf("retry.base_backoff_ms must be >= 0")
	}
	if r.MaxBackoffMS > 0 && r.MaxBackoffMS < r.BaseBackoffMS {
		return fmt.Errorf("retry.max_backoff_ms must be >= retry.base_backoff_ms")
	}
	return nil
}

func (f *FeesConfig) validate() error {
	if f.Maker < 0 || f.Maker >= maxFeeRate {
		return fmt.Errorf("fees.maker must be in [0, %.2f)", maxFeeRate)
	}
	if f.Taker < 0 || f.Taker >= maxFeeRate {
		return fmt.Errorf("fees.taker must be in [0, %.2f)", maxFeeRate)
	}
	return nil
}

func (s *SyncConfig) validate() error {
	if s.PriceIntervalSeconds <= 0 {
		return fmt.Errorf("sync.price_interval_seconds must be > 0")
	}
	if s.ReconcileIntervalSeconds <= 0 {
		return fmt.Errorf("sync.reconcile_interval_seconds must be > 0")
	}
	if s.PendingGraceSeconds < 0 {
		return fmt.Errorf("sync.pending_grace_seconds must be >= 0")
	}
	if s.MaxParallelPairs < 1 {
		return fmt.Errorf("sync.max_parallel_pairs must be >= 1")
	}
	return nil
}

func (p *PaperConfig) validate() error {
	if p.SlippageBps < 0 || p.SpreadBps < 0 {
		return fmt.Errorf("paper slippage_bps and spread_bps must be >= 0")
	}
	for asset, amount := range p.Balances {
		if amount < 0 {
			return fmt.Errorf("paper.balances.%s must be >= 0", asset)
		}
	}
	for pair, price := range p.Prices {
		if !(price > 0) {
			return fmt.Errorf("paper.prices.%s must be > 0", pair)
		}
	}
	return nil
}
