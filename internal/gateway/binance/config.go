package binance

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	symbolpkg "cryptotrader/internal/pkg/symbol"
)

type Config struct {
	RESTBaseURL string
	APIKey      string
	SecretKey   string
	HTTPTimeout time.Duration
	// Pairs scopes the closed-order scan; the spot API lists order history
	// per symbol only.
	Pairs        []string
	HistoryLimit int

	ProxyEnabled bool
	RESTProxyURL string
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimRight(strings.TrimSpace(out.RESTBaseURL), "/")
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = "https://api.binance.com"
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	if out.HistoryLimit <= 0 {
		out.HistoryLimit = 100
	}
	if out.HistoryLimit > 1000 {
		out.HistoryLimit = 1000
	}
	out.Pairs = symbolpkg.NormalizeList(out.Pairs)
	out.RESTProxyURL = strings.TrimSpace(out.RESTProxyURL)
	return out
}

func (c Config) httpClient() (*http.Client, error) {
	httpClient := &http.Client{Timeout: c.HTTPTimeout}
	if !c.ProxyEnabled || c.RESTProxyURL == "" {
		return httpClient, nil
	}
	proxyURL, err := url.Parse(c.RESTProxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REST proxy url: %w", err)
	}
	baseTransport, ok := http.DefaultTransport.(*http.Transport)
	if !ok || baseTransport == nil {
		return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
	}
	transport := baseTransport.Clone()
	transport.Proxy = http.ProxyURL(proxyURL)
	httpClient.Transport = transport
	return httpClient, nil
}
