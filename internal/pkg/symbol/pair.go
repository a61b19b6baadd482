// Package symbol parses currency pairs and spells them for each venue.
package symbol

import "strings"

// Pair is a BASE/QUOTE currency pair. The zero value is invalid.
type Pair struct {
	Base  string
	Quote string
}

func (p Pair) Valid() bool { return p.Base != "" && p.Quote != "" }

// String returns BASE/QUOTE, or "" for an invalid pair.
func (p Pair) String() string { return p.join("/") }

func (p Pair) join(sep string) string {
	if !p.Valid() {
		return ""
	}
	return p.Base + sep + p.Quote
}

func (p Pair) mapAssets(fn func(string) string) Pair {
	return Pair{Base: fn(p.Base), Quote: fn(p.Quote)}
}

// knownQuotes is ordered so longer codes win (USDT before USD).
var knownQuotes = []string{"USDT", "USDC", "BUSD", "ZUSD", "ZEUR", "USD", "EUR", "GBP", "BTC", "XBT", "ETH"}

// Parse accepts BTC/USD, BTC-USD, BTC_USD, BTCUSD and futures-style
// BTC/USDT:USDT. Unknown concatenated spellings return the zero Pair.
func Parse(raw string) Pair {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if settle := strings.IndexByte(s, ':'); settle >= 0 {
		s = s[:settle]
	}
	if s == "" {
		return Pair{}
	}
	if i := strings.IndexAny(s, "/-_"); i >= 0 {
		return Pair{Base: strings.TrimSpace(s[:i]), Quote: strings.TrimSpace(s[i+1:])}
	}
	for _, q := range knownQuotes {
		if len(s) > len(q) && strings.HasSuffix(s, q) {
			return Pair{Base: strings.TrimSuffix(s, q), Quote: q}
		}
	}
	return Pair{}
}

// Normalize returns BASE/QUOTE, or the upper-cased input when it cannot be
// split.
func Normalize(raw string) string {
	if p := Parse(raw); p.Valid() {
		return p.String()
	}
	return strings.ToUpper(strings.TrimSpace(raw))
}

// NormalizeList normalizes pairs, dropping blanks and duplicates.
func NormalizeList(pairs []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, raw := range pairs {
		p := Normalize(raw)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
