package symbol

import "strings"

// Converter maps the internal BASE/QUOTE pair to a venue spelling and back.
type Converter interface {
	ToExchange(pair string) string
	FromExchange(raw string) string
	Venue() string
}

// spelling drops the separator and renames assets the venue spells
// differently. legacyCodes strips the X/Z prefix of four letter codes such
// as XXBT and ZUSD.
type spelling struct {
	venue       string
	aliases     map[string]string
	legacyCodes bool
}

var (
	// Binance: BTC/USDT <-> BTCUSDT.
	Binance Converter = spelling{venue: "binance"}
	// REST: BTC/USD <-> XBTUSD, also reading XXBTZUSD.
	REST Converter = spelling{
		venue:       "rest",
		aliases:     map[string]string{"BTC": "XBT", "DOGE": "XDG"},
		legacyCodes: true,
	}
)

func (s spelling) Venue() string { return s.venue }

func (s spelling) ToExchange(pair string) string {
	p := Parse(pair)
	if !p.Valid() {
		return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(pair), "/", ""))
	}
	return p.mapAssets(s.venueAsset).join("")
}

func (s spelling) FromExchange(raw string) string {
	p := Parse(raw)
	if !p.Valid() {
		return strings.ToUpper(strings.TrimSpace(raw))
	}
	return p.mapAssets(s.internalAsset).String()
}

func (s spelling) venueAsset(asset string) string {
	if alias, ok := s.aliases[asset]; ok {
		return alias
	}
	return asset
}

func (s spelling) internalAsset(asset string) string {
	if s.legacyCodes && len(asset) == 4 && strings.ContainsRune("XZ", rune(asset[0])) {
		asset = asset[1:]
	}
	for internal, alias := range s.aliases {
		if alias == asset {
			return internal
		}
	}
	return asset
}

// RESTAsset normalizes a REST balance key such as XXBT or ZUSD.
func RESTAsset(asset string) string {
	return REST.(spelling).internalAsset(strings.ToUpper(strings.TrimSpace(asset)))
}
