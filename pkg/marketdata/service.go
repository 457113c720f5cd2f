// Package marketdata fetches quotes and historical series for stocks and
// cryptocurrencies. It is the external data-source collaborator behind the
// market tools; callers pass validated, normalized symbols.
package marketdata

import (
	"context"
	"time"
)

// Quote is a point-in-time price snapshot.
type Quote struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	Currency      string  `json:"currency"`
	PreviousClose float64 `json:"previous_close"`
}

// Candle is one aggregation interval of a historical series.
type Candle struct {
	Date  time.Time `json:"date"`
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
}

// Series is an ordered historical price series, oldest first.
type Series struct {
	Symbol  string   `json:"symbol"`
	Period  string   `json:"period"`
	Candles []Candle `json:"candles"`
}

// Service is the capability contract the tools depend on. Implementations
// may perform any number of remote calls and fallbacks; failures surface as
// typed TOOL_FAILURE errors.
type Service interface {
	// Quote returns the current price snapshot for a symbol.
	Quote(ctx context.Context, symbol string) (*Quote, error)

	// History returns the daily series for a symbol over a period token
	// (1d, 5d, 1mo, 3mo, 6mo, 1y, 2y, 5y, 10y, ytd, max).
	History(ctx context.Context, symbol string, period string) (*Series, error)
}

// Closes returns the close values of the series, oldest first.
func (s *Series) Closes() []float64 {
	out := make([]float64, 0, len(s.Candles))
	for _, c := range s.Candles {
		out = append(out, c.Close)
	}
	return out
}

// Tail returns the last n candles, or all of them if fewer exist.
func (s *Series) Tail(n int) []Candle {
	if len(s.Candles) <= n {
		return s.Candles
	}
	return s.Candles[len(s.Candles)-n:]
}
