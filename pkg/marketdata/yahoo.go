package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/everme/stockagent/pkg/errors"
)

const defaultYahooBaseURL = "https://query1.finance.yahoo.com"

// YahooClient implements Service against the Yahoo Finance v8 chart API.
type YahooClient struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

// YahooOption configures the client.
type YahooOption func(*YahooClient)

// WithYahooBaseURL overrides the API host (for tests).
func WithYahooBaseURL(base string) YahooOption {
	return func(c *YahooClient) {
		c.baseURL = base
	}
}

// WithYahooTimeout sets the per-request timeout.
func WithYahooTimeout(d time.Duration) YahooOption {
	return func(c *YahooClient) {
		c.client.Timeout = d
	}
}

// NewYahooClient creates a Yahoo Finance chart-API client.
func NewYahooClient(opts ...YahooOption) *YahooClient {
	c := &YahooClient{
		baseURL:   defaultYahooBaseURL,
		userAgent: "stockagent/1.0",
		client:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				Currency           string  `json:"currency"`
				ShortName          string  `json:"shortName"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				PreviousClose      float64 `json:"chartPreviousClose"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open  []*float64 `json:"open"`
					High  []*float64 `json:"high"`
					Low   []*float64 `json:"low"`
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Quote returns the current price snapshot for a symbol. The regular market
// price from chart metadata is preferred; the last close in the series is
// the fallback when metadata is missing.
func (c *YahooClient) Quote(ctx context.Context, symbol string) (*Quote, error) {
	series, meta, err := c.chart(ctx, symbol, "5d")
	if err != nil {
		return nil, err
	}

	price := meta.RegularMarketPrice
	if price == 0 && len(series.Candles) > 0 {
		price = series.Candles[len(series.Candles)-1].Close
	}
	if price == 0 {
		return nil, errors.Newf(errors.CodeToolFailure,
			"could not fetch price for %s, please try again", symbol)
	}

	previous := meta.PreviousClose
	if previous == 0 && len(series.Candles) >= 2 {
		previous = series.Candles[len(series.Candles)-2].Close
	}

	name := meta.ShortName
	if name == "" {
		name = symbol
	}
	currency := meta.Currency
	if currency == "" {
		currency = "USD"
	}

	return &Quote{
		Symbol:        symbol,
		Name:          name,
		Price:         price,
		Currency:      currency,
		PreviousClose: previous,
	}, nil
}

// History returns the daily series for a symbol over a period token.
func (c *YahooClient) History(ctx context.Context, symbol string, period string) (*Series, error) {
	series, _, err := c.chart(ctx, symbol, period)
	if err != nil {
		return nil, err
	}
	if len(series.Candles) == 0 {
		return nil, errors.Newf(errors.CodeToolFailure, "no historical data for %s", symbol)
	}
	return series, nil
}

type chartMeta struct {
	Symbol             string
	Currency           string
	ShortName          string
	RegularMarketPrice float64
	PreviousClose      float64
}

func (c *YahooClient) chart(ctx context.Context, symbol string, period string) (*Series, *chartMeta, error) {
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?range=%s&interval=1d",
		c.baseURL, url.PathEscape(symbol), url.QueryEscape(period))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, nil, errors.New(errors.CodeToolFailure, "failed to create chart request", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, errors.New(errors.CodeToolFailure,
			fmt.Sprintf("chart api call failed for %s", symbol), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil, errors.Newf(errors.CodeNotFound, "no data for symbol %s", symbol)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, errors.Newf(errors.CodeToolFailure,
			"chart api returned status %d for %s", resp.StatusCode, symbol)
	}

	var chart chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&chart); err != nil {
		return nil, nil, errors.New(errors.CodeToolFailure, "failed to decode chart response", err)
	}
	if chart.Chart.Error != nil {
		return nil, nil, errors.Newf(errors.CodeToolFailure, "chart api error for %s: %s",
			symbol, chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 {
		return nil, nil, errors.Newf(errors.CodeNotFound, "no data for symbol %s", symbol)
	}

	result := chart.Chart.Result[0]
	meta := &chartMeta{
		Symbol:             result.Meta.Symbol,
		Currency:           result.Meta.Currency,
		ShortName:          result.Meta.ShortName,
		RegularMarketPrice: result.Meta.RegularMarketPrice,
		PreviousClose:      result.Meta.PreviousClose,
	}

	series := &Series{Symbol: symbol, Period: period}
	if len(result.Indicators.Quote) > 0 {
		quote := result.Indicators.Quote[0]
		for i, ts := range result.Timestamp {
			// Intervals without a close (holidays, partial data) are dropped.
			if i >= len(quote.Close) || quote.Close[i] == nil {
				continue
			}
			candle := Candle{
				Date:  time.Unix(ts, 0).UTC(),
				Close: *quote.Close[i],
			}
			if i < len(quote.Open) && quote.Open[i] != nil {
				candle.Open = *quote.Open[i]
			}
			if i < len(quote.High) && quote.High[i] != nil {
				candle.High = *quote.High[i]
			}
			if i < len(quote.Low) && quote.Low[i] != nil {
				candle.Low = *quote.Low[i]
			}
			series.Candles = append(series.Candles, candle)
		}
	}

	return series, meta, nil
}

// Ensure YahooClient implements Service.
var _ Service = (*YahooClient)(nil)
