package config

import (
	"strings"

	"cryptotrader/internal/pkg/symbol"
)

const (
	defaultAppEnv             = "dev"
	defaultAppLogLevel        = "info"
	defaultAppHTTPAddr        = ":9991"
	defaultAppLogPath         = "data/logs/cryptotrader.log"
	defaultAppLogMaxSizeMB    = 100
	defaultAppLogMaxBackups   = 5
	defaultAppLogMaxAgeDays   = 14
	defaultExchangeVenue      = "rest"
	defaultExchangeTimeout    = 15
	defaultExchangeNoncePath  = "data/nonce"
	defaultBreakerThreshold   = 5
	defaultBreakerCooldown    = 30
	defaultPublicLimit        = 20
	defaultPublicWindowMS     = 1000
	defaultPrivateLimit       = 15
	defaultPrivateWindowMS    = 3000
	defaultMinSpacingMS       = 50
	defaultRetryMaxAttempts   = 3
	defaultRetryBaseBackoffMS = 1000
	defaultRetryMaxBackoffMS  = 60000
	defaultMakerFee           = 0.0016
	defaultTakerFee           = 0.0026
	defaultLedgerPath         = "data/ledger.db"
	defaultPriceInterval      = 10
	defaultReconcileInterval  = 30
	defaultPendingGrace       = 120
	defaultMaxParallelPairs   = 4
	defaultPaperStatePath     = "data/paper_state.yaml"
	defaultPaperQuoteAsset    = "USD"
	defaultPaperQuoteBalance  = 100000
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Exchange.applyDefaults(keys)
	c.RateLimit.applyDefaults(keys)
	c.Retry.applyDefaults(keys)
	c.Fees.applyDefaults(keys)
	c.Ledger.applyDefaults(keys)
	c.Sync.applyDefaults(keys)
	c.Paper.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		intFieldDefault("app.log_max_size_mb", &a.LogMaxSizeMB, defaultAppLogMaxSizeMB),
		intFieldDefault("app.log_max_backups", &a.LogMaxBackups, defaultAppLogMaxBackups),
		intFieldDefault("app.log_max_age_days", &a.LogMaxAgeDays, defaultAppLogMaxAgeDays),
	)
	a.LogLevel = strings.ToLower(strings.TrimSpace(a.LogLevel))
}

func (e *ExchangeConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("exchange.venue", &e.Venue, defaultExchangeVenue),
		intFieldDefault("exchange.timeout_seconds", &e.TimeoutSeconds, defaultExchangeTimeout),
		// Unset means paper: live trading has to be asked for.
		boolFieldDefault("exchange.paper_trading", &e.PaperTrading, true),
		stringFieldDefault("exchange.nonce_store_path", &e.NonceStorePath, defaultExchangeNoncePath),
		intFieldDefault("exchange.breaker_threshold", &e.BreakerThreshold, defaultBreakerThreshold),
		intFieldDefault("exchange.breaker_cooldown_seconds", &e.BreakerCooldownSeconds, defaultBreakerCooldown),
	)
	e.Venue = e.VenueName()
	e.APIKey = strings.TrimSpace(e.APIKey)
	e.APISecret = strings.TrimSpace(e.APISecret)
	e.Pairs = symbol.NormalizeList(e.Pairs)
}

func (r *RateLimitConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("rate_limit.public_limit", &r.PublicLimit, defaultPublicLimit),
		intFieldDefault("rate_limit.public_window_ms", &r.PublicWindowMS, defaultPublicWindowMS),
		intFieldDefault("rate_limit.private_limit", &r.PrivateLimit, defaultPrivateLimit),
		intFieldDefault("rate_limit.private_window_ms", &r.PrivateWindowMS, defaultPrivateWindowMS),
		intFieldDefault("rate_limit.min_spacing_ms", &r.MinSpacingMS, defaultMinSpacingMS),
	)
}

func (r *RetryConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("retry.max_attempts", &r.MaxAttempts, defaultRetryMaxAttempts),
		intFieldDefault("retry.base_backoff_ms", &r.BaseBackoffMS, defaultRetryBaseBackoffMS),
		intFieldDefault("retry.max_backoff_ms", &r.MaxBackoffMS, defaultRetryMaxBackoffMS),
	)
}

func (f *FeesConfig) applyDefaults(keys keySet) {
	if f == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "fees.maker",
			need:  func() bool { return f.Maker <= 0 },
			apply: func() { f.Maker = defaultMakerFee },
		},
		fieldDefault{
			key:   "fees.taker",
			need:  func() bool { return f.Taker <= 0 },
			apply: func() { f.Taker = defaultTakerFee },
		},
	)
}

func (l *LedgerConfig) applyDefaults(keys keySet) {
	if l == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("ledger.path", &l.Path, defaultLedgerPath),
	)
}

func (s *SyncConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("sync.price_interval_seconds", &s.PriceIntervalSeconds, defaultPriceInterval),
		intFieldDefault("sync.reconcile_interval_seconds", &s.ReconcileIntervalSeconds, defaultReconcileInterval),
		intFieldDefault("sync.pending_grace_seconds", &s.PendingGraceSeconds, defaultPendingGrace),
		intFieldDefault("sync.max_parallel_pairs", &s.MaxParallelPairs, defaultMaxParallelPairs),
	)
}

func (p *PaperConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("paper.state_path", &p.StatePath, defaultPaperStatePath),
		fieldDefault{
			key:   "paper.balances",
			need:  func() bool { return len(p.Balances) == 0 },
			apply: func() { p.Balances = map[string]float64{defaultPaperQuoteAsset: defaultPaperQuoteBalance} },
		},
	)
	// Map keys come back lower-cased from the loader.
	if len(p.Balances) > 0 {
		balances := make(map[string]float64, len(p.Balances))
		for asset, amount := range p.Balances {
			balances[strings.ToUpper(strings.TrimSpace(asset))] = amount
		}
		p.Balances = balances
	}
	if len(p.Prices) > 0 {
		prices := make(map[string]float64, len(p.Prices))
		for pair, price := range p.Prices {
			prices[symbol.Normalize(pair)] = price
		}
		p.Prices = prices
	}
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
