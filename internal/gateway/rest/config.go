package rest

import (
	"strings"
	"time"
)

const defaultBaseURL = "https://api.kraken.com"

type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
	UserAgent string
}

func (c *Config) withDefaults() Config {
	out := *c
	out.BaseURL = strings.TrimRight(strings.TrimSpace(out.BaseURL), "/")
	if out.BaseURL == "" {
		out.BaseURL = defaultBaseURL
	}
	if out.Timeout <= 0 {
		out.Timeout = 15 * time.Second
	}
	if out.UserAgent == "" {
		out.UserAgent = "cryptotrader/1.0"
	}
	out.APIKey = strings.TrimSpace(out.APIKey)
	out.APISecret = strings.TrimSpace(out.APISecret)
	return out
}
