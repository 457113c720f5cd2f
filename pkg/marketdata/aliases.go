package marketdata

import "strings"

// tickerAliases maps common asset names to their canonical data-source
// symbols. Best-effort convenience only: unmapped names are upper-cased and
// passed through, never rejected.
var tickerAliases = map[string]string{
	"bitcoin":   "BTC-USD",
	"btc":       "BTC-USD",
	"ethereum":  "ETH-USD",
	"eth":       "ETH-USD",
	"tesla":     "TSLA",
	"apple":     "AAPL",
	"google":    "GOOGL",
	"amazon":    "AMZN",
	"microsoft": "MSFT",
	"meta":      "META",
	"facebook":  "META",
	"nvidia":    "NVDA",
	"netflix":   "NFLX",
}

// NormalizeTicker converts common names to ticker symbols. The mapping is
// idempotent: normalizing an already-normalized symbol returns it unchanged.
func NormalizeTicker(ticker string) string {
	normalized := strings.ToLower(strings.TrimSpace(ticker))
	if symbol, ok := tickerAliases[normalized]; ok {
		return symbol
	}
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// RegisterAlias adds or overrides an alias mapping. Intended for
// configuration-supplied extensions at startup, before concurrent use.
func RegisterAlias(name, symbol string) {
	tickerAliases[strings.ToLower(strings.TrimSpace(name))] = strings.ToUpper(strings.TrimSpace(symbol))
}
