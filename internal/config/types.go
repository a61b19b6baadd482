package config

import (
	"strings"
	"time"
)

// Config is the process configuration.
type Config struct {
	App       AppConfig       `toml:"app"`
	Exchange  ExchangeConfig  `toml:"exchange"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Retry     RetryConfig     `toml:"retry"`
	Fees      FeesConfig      `toml:"fees"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Sync      SyncConfig      `toml:"sync"`
	Paper     PaperConfig     `toml:"paper"`
}

type AppConfig struct {
	Env           string `toml:"env"`
	LogLevel      string `toml:"log_level"`
	LogPath       string `toml:"log_path"`
	LogMaxSizeMB  int    `toml:"log_max_size_mb"`
	LogMaxBackups int    `toml:"log_max_backups"`
	LogMaxAgeDays int    `toml:"log_max_age_days"`
	HTTPAddr      string `toml:"http_addr"`
}

// ExchangeConfig selects and authenticates the live venue.
type ExchangeConfig struct {
	Venue                  string   `toml:"venue"` // "rest" | "binance"
	BaseURL                string   `toml:"base_url"`
	APIKey                 string   `toml:"api_key"`
	APISecret              string   `toml:"api_secret"`
	TimeoutSeconds         int      `toml:"timeout_seconds"`
	PaperTrading           bool     `toml:"paper_trading"`
	Pairs                  []string `toml:"pairs"`
	NonceStorePath         string   `toml:"nonce_store_path"`
	BreakerThreshold       int      `toml:"breaker_threshold"`
	BreakerCooldownSeconds int      `toml:"breaker_cooldown_seconds"`
	ProxyURL               string   `toml:"proxy_url"`
}

func (e ExchangeConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

func (e ExchangeConfig) BreakerCooldown() time.Duration {
	return time.Duration(e.BreakerCooldownSeconds) * time.Second
}

// VenueName returns the normalized venue selector.
func (e ExchangeConfig) VenueName() string {
	return strings.ToLower(strings.TrimSpace(e.Venue))
}

// RateLimitConfig holds one window per scope. Public covers market data,
// private covers authenticated endpoints.
type RateLimitConfig struct {
	PublicLimit     int `toml:"public_limit"`
	PublicWindowMS  int `toml:"public_window_ms"`
	PrivateLimit    int `toml:"private_limit"`
	PrivateWindowMS int `toml:"private_window_ms"`
	MinSpacingMS    int `toml:"min_spacing_ms"`
}

type RetryConfig struct {
	MaxAttempts   int `toml:"max_attempts"`
	BaseBackoffMS int `toml:"base_backoff_ms"`
	MaxBackoffMS  int `toml:"max_backoff_ms"`
}

func (r RetryConfig) BaseBackoff() time.Duration {
	return time.Duration(r.BaseBackoffMS) * time.Millisecond
}

func (r RetryConfig) MaxBackoff() time.Duration {
	return time.Duration(r.MaxBackoffMS) * time.Millisecond
}

// FeesConfig is the maker/taker rate table used when the venue reports no
// fee.
type FeesConfig struct {
	Maker float64 `toml:"maker"`
	Taker float64 `toml:"taker"`
}

type LedgerConfig struct {
	Path string `toml:"path"`
}

type SyncConfig struct {
	PriceIntervalSeconds     int `toml:"price_interval_seconds"`
	ReconcileIntervalSeconds int `toml:"reconcile_interval_seconds"`
	PendingGraceSeconds      int `toml:"pending_grace_seconds"`
	MaxParallelPairs         int `toml:"max_parallel_pairs"`
}

func (s SyncConfig) PriceInterval() time.Duration {
	return time.Duration(s.PriceIntervalSeconds) * time.Second
}

func (s SyncConfig) ReconcileInterval() time.Duration {
	return time.Duration(s.ReconcileIntervalSeconds) * time.Second
}

func (s SyncConfig) PendingGrace() time.Duration {
	return time.Duration(s.PendingGraceSeconds) * time.Second
}

// PaperConfig seeds the simulated venue.
type PaperConfig struct {
	StatePath   string             `toml:"state_path"`
	SlippageBps float64            `toml:"slippage_bps"`
	SpreadBps   float64            `toml:"spread_bps"`
	Balances    map[string]float64 `toml:"balances"`
	Prices      map[string]float64 `toml:"prices"`
}

// keySet tracks the dotted paths set explicitly by a file or the
// environment.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
