package config

import (
	"os"
	"sort"
	"strings"
)

const FlagEnvPrefix = "CRYPTO_FLAG_"

// Flags consulted at startup.
const (
	FlagPaperTrading     = "paper_trading"
	FlagDisablePriceSync = "disable_price_sync"
	FlagDisableReconcile = "disable_reconcile"
)

// FeatureFlags are boolean switches read from CRYPTO_FLAG_* variables.
type FeatureFlags struct {
	flags map[string]bool
}

// FlagsFromEnv reads the process environment.
func FlagsFromEnv() FeatureFlags {
	return ParseFlags(os.Environ())
}

// ParseFlags reads KEY=VALUE pairs. Names are lower-cased; 1, true, yes and
// on are truthy, anything else is false.
func ParseFlags(environ []string) FeatureFlags {
	parsed := make(map[string]bool)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, FlagEnvPrefix) {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, FlagEnvPrefix))
		if name == "" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "on":
			parsed[name] = true
		default:
			parsed[name] = false
		}
	}
	return FeatureFlags{flags: parsed}
}

// IsEnabled returns the flag value, or def when the flag is not set.
func (f FeatureFlags) IsEnabled(name string, def bool) bool {
	v, ok := f.flags[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return def
	}
	return v
}

// All returns a copy of the parsed flags.
func (f FeatureFlags) All() map[string]bool {
	out := make(map[string]bool, len(f.flags))
	for k, v := range f.flags {
		out[k] = v
	}
	return out
}

// Names lists the set flags in order.
func (f FeatureFlags) Names() []string {
	names := make([]string, 0, len(f.flags))
	for k := range f.flags {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
