package tools

import (
	"context"
	"strconv"
	"time"

	"github.com/everme/stockagent/pkg/errors"
	"github.com/everme/stockagent/pkg/llm"
	"github.com/everme/stockagent/pkg/marketdata"
	"github.com/everme/stockagent/pkg/ratelimit"
	"github.com/everme/stockagent/pkg/validate"
)

const (
	defaultAverageDays = 7
	defaultPeriod      = "1mo"
	compareMinSymbols  = 2
	compareMaxSymbols  = 5
)

// marketTool carries the static descriptor shared by all market tools.
type marketTool struct {
	name  string
	label string
	ttl   time.Duration
	def   llm.Tool
	svc   marketdata.Service
}

func (t *marketTool) Name() string                 { return t.name }
func (t *marketTool) Label() string                { return t.label }
func (t *marketTool) Definition() llm.Tool         { return t.def }
func (t *marketTool) Resource() ratelimit.Resource { return ratelimit.ResourceMarketData }
func (t *marketTool) TTL() time.Duration           { return t.ttl }

func (t *marketTool) Key(args map[string]any) []string {
	return []string{marketdata.NormalizeTicker(stringArg(args, "ticker"))}
}

// normalizedTicker maps common names through the alias table, then
// validates the resulting symbol.
func normalizedTicker(args map[string]any) (string, error) {
	symbol := marketdata.NormalizeTicker(stringArg(args, "ticker"))
	return validate.Ticker(symbol)
}

var tickerProperty = map[string]any{
	"ticker": map[string]any{
		"type":        "string",
		"description": "Stock symbol or name (e.g., 'AAPL', 'Tesla', 'Bitcoin', 'BTC')",
	},
}

// CurrentPriceTool returns the current price of a stock or cryptocurrency.
type CurrentPriceTool struct {
	marketTool
}

// NewCurrentPriceTool builds the get_current_price handler.
func NewCurrentPriceTool(svc marketdata.Service) *CurrentPriceTool {
	return &CurrentPriceTool{marketTool{
		name:  "get_current_price",
		label: "Fetching current price",
		ttl:   QuoteTTL,
		svc:   svc,
		def: functionDef("get_current_price",
			"Get the current price of a stock or cryptocurrency. Use this for questions about current/latest prices.",
			objectSchema(tickerProperty, "ticker")),
	}}
}

func (t *CurrentPriceTool) Call(ctx context.Context, args map[string]any) (Result, error) {
	symbol, err := normalizedTicker(args)
	if err != nil {
		return nil, err
	}
	quote, err := t.svc.Quote(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return Result{
		"symbol":   quote.Symbol,
		"price":    round2(quote.Price),
		"currency": quote.Currency,
		"name":     quote.Name,
	}, nil
}

// YesterdayPriceTool returns the previous close.
type YesterdayPriceTool struct {
	marketTool
}

// NewYesterdayPriceTool builds the get_price_yesterday handler.
func NewYesterdayPriceTool(svc marketdata.Service) *YesterdayPriceTool {
	return &YesterdayPriceTool{marketTool{
		name:  "get_price_yesterday",
		label: "Fetching yesterday's price",
		ttl:   QuoteTTL,
		svc:   svc,
		def: functionDef("get_price_yesterday",
			"Get yesterday's closing price for a stock or cryptocurrency.",
			objectSchema(tickerProperty, "ticker")),
	}}
}

func (t *YesterdayPriceTool) Call(ctx context.Context, args map[string]any) (Result, error) {
	symbol, err := normalizedTicker(args)
	if err != nil {
		return nil, err
	}
	series, err := t.svc.History(ctx, symbol, "5d")
	if err != nil {
		return nil, err
	}
	if len(series.Candles) < 2 {
		return nil, errors.Newf(errors.CodeToolFailure, "not enough historical data for %s", symbol)
	}
	yesterday := series.Candles[len(series.Candles)-2]
	return Result{
		"symbol": symbol,
		"price":  round2(yesterday.Close),
		"date":   yesterday.Date.Format("2006-01-02"),
	}, nil
}

// PriceChangeTool returns absolute and percentage change since previous close.
type PriceChangeTool struct {
	marketTool
}

// NewPriceChangeTool builds the get_price_change handler.
func NewPriceChangeTool(svc marketdata.Service) *PriceChangeTool {
	return &PriceChangeTool{marketTool{
		name:  "get_price_change",
		label: "Calculating price change",
		ttl:   QuoteTTL,
		svc:   svc,
		def: functionDef("get_price_change",
			"Get the price change and percentage change compared to yesterday.",
			objectSchema(tickerProperty, "ticker")),
	}}
}

func (t *PriceChangeTool) Call(ctx context.Context, args map[string]any) (Result, error) {
	symbol, err := normalizedTicker(args)
	if err != nil {
		return nil, err
	}
	series, err := t.svc.History(ctx, symbol, "5d")
	if err != nil {
		return nil, err
	}
	if len(series.Candles) < 2 {
		return nil, errors.Newf(errors.CodeToolFailure, "not enough data for %s", symbol)
	}
	current := series.Candles[len(series.Candles)-1].Close
	yesterday := series.Candles[len(series.Candles)-2].Close
	change := current - yesterday
	return Result{
		"symbol":          symbol,
		"current_price":   round2(current),
		"yesterday_price": round2(yesterday),
		"change":          round2(change),
		"percent_change":  round2(change / yesterday * 100),
	}, nil
}

// AveragePriceTool computes the mean close over the last N days.
type AveragePriceTool struct {
	marketTool
}

// NewAveragePriceTool builds the get_average_price handler.
func NewAveragePriceTool(svc marketdata.Service) *AveragePriceTool {
	return &AveragePriceTool{marketTool{
		name:  "get_average_price",
		label: "Calculating average price",
		ttl:   HistoricalTTL,
		svc:   svc,
		def: functionDef("get_average_price",
			"Calculate the average closing price over a specified number of days.",
			objectSchema(map[string]any{
				"ticker": tickerProperty["ticker"],
				"days": map[string]any{
					"type":        "integer",
					"description": "Number of days to calculate average (default: 7)",
					"default":     defaultAverageDays,
				},
			}, "ticker")),
	}}
}

func (t *AveragePriceTool) Key(args map[string]any) []string {
	days := defaultAverageDays
	if d, err := validate.Days(argOrDefault(args, "days", defaultAverageDays)); err == nil {
		days = d
	}
	return []string{
		marketdata.NormalizeTicker(stringArg(args, "ticker")),
		strconv.Itoa(days),
	}
}

func (t *AveragePriceTool) Call(ctx context.Context, args map[string]any) (Result, error) {
	symbol, err := normalizedTicker(args)
	if err != nil {
		return nil, err
	}
	days, err := validate.Days(argOrDefault(args, "days", defaultAverageDays))
	if err != nil {
		return nil, err
	}

	series, err := t.svc.History(ctx, symbol, periodCovering(days))
	if err != nil {
		return nil, err
	}
	recent := series.Tail(days)
	if len(recent) < days {
		return nil, errors.Newf(errors.CodeToolFailure,
			"not enough data for %d-day average of %s", days, symbol)
	}

	sum := 0.0
	daily := make(map[string]float64, len(recent))
	for _, c := range recent {
		sum += c.Close
		daily[c.Date.Format("2006-01-02")] = round2(c.Close)
	}

	return Result{
		"symbol":        symbol,
		"average_price": round2(sum / float64(len(recent))),
		"days":          len(recent),
		"period_start":  recent[0].Date.Format("2006-01-02"),
		"period_end":    recent[len(recent)-1].Date.Format("2006-01-02"),
		"daily_prices":  daily,
	}, nil
}

// HistoricalDataTool summarizes high, low, and range over a period.
type HistoricalDataTool struct {
	marketTool
}

// NewHistoricalDataTool builds the get_historical_data handler.
func NewHistoricalDataTool(svc marketdata.Service) *HistoricalDataTool {
	return &HistoricalDataTool{marketTool{
		name:  "get_historical_data",
		label: "Fetching historical data",
		ttl:   HistoricalTTL,
		svc:   svc,
		def: functionDef("get_historical_data",
			"Get historical price data including high, low, and price range for a period.",
			objectSchema(map[string]any{
				"ticker": tickerProperty["ticker"],
				"period": periodProperty,
			}, "ticker")),
	}}
}

func (t *HistoricalDataTool) Key(args map[string]any) []string {
	return periodKey(args)
}

func (t *HistoricalDataTool) Call(ctx context.Context, args map[string]any) (Result, error) {
	symbol, period, err := tickerAndPeriod(args)
	if err != nil {
		return nil, err
	}
	series, err := t.svc.History(ctx, symbol, period)
	if err != nil {
		return nil, err
	}
	if len(series.Candles) == 0 {
		return nil, errors.Newf(errors.CodeToolFailure, "no historical data for %s", symbol)
	}

	high, low := series.Candles[0].High, series.Candles[0].Low
	for _, c := range series.Candles {
		if c.High > high {
			high = c.High
		}
		if c.Low != 0 && (low == 0 || c.Low < low) {
			low = c.Low
		}
	}

	first := series.Candles[0]
	last := series.Candles[len(series.Candles)-1]
	return Result{
		"symbol":      symbol,
		"period":      period,
		"data_points": len(series.Candles),
		"high":        round2(high),
		"low":         round2(low),
		"start_price": round2(first.Close),
		"end_price":   round2(last.Close),
		"start_date":  first.Date.Format("2006-01-02"),
		"end_date":    last.Date.Format("2006-01-02"),
	}, nil
}

// ChartDataTool returns the full OHLC/close series for rendering charts.
type ChartDataTool struct {
	marketTool
}

// NewChartDataTool builds the get_chart_data handler.
func NewChartDataTool(svc marketdata.Service) *ChartDataTool {
	return &ChartDataTool{marketTool{
		name:  "get_chart_data",
		label: "Fetching chart data",
		ttl:   HistoricalTTL,
		svc:   svc,
		def: functionDef("get_chart_data",
			"Get the daily OHLC price series for a period, for chart rendering.",
			objectSchema(map[string]any{
				"ticker": tickerProperty["ticker"],
				"period": periodProperty,
			}, "ticker")),
	}}
}

func (t *ChartDataTool) Key(args map[string]any) []string {
	return periodKey(args)
}

func (t *ChartDataTool) Call(ctx context.Context, args map[string]any) (Result, error) {
	symbol, period, err := tickerAndPeriod(args)
	if err != nil {
		return nil, err
	}
	series, err := t.svc.History(ctx, symbol, period)
	if err != nil {
		return nil, err
	}

	points := make([]map[string]any, 0, len(series.Candles))
	for _, c := range series.Candles {
		points = append(points, map[string]any{
			"date":  c.Date.Format("2006-01-02"),
			"open":  round2(c.Open),
			"high":  round2(c.High),
			"low":   round2(c.Low),
			"close": round2(c.Close),
		})
	}
	return Result{
		"symbol": symbol,
		"period": period,
		"points": points,
	}, nil
}

// CompareTool quotes 2-5 symbols side by side.
type CompareTool struct {
	marketTool
}

// NewCompareTool builds the compare_tickers handler.
func NewCompareTool(svc marketdata.Service) *CompareTool {
	return &CompareTool{marketTool{
		name:  "compare_tickers",
		label: "Comparing tickers",
		ttl:   QuoteTTL,
		svc:   svc,
		def: functionDef("compare_tickers",
			"Compare current prices and daily changes for 2 to 5 stocks or cryptocurrencies side by side.",
			objectSchema(map[string]any{
				"symbols": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Between 2 and 5 stock symbols or names to compare",
				},
			}, "symbols")),
	}}
}

func (t *CompareTool) Key(args map[string]any) []string {
	raw := stringsArg(args, "symbols")
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		out = append(out, marketdata.NormalizeTicker(s))
	}
	return out
}

func (t *CompareTool) Call(ctx context.Context, args map[string]any) (Result, error) {
	raw := stringsArg(args, "symbols")
	normalized := make([]string, 0, len(raw))
	for _, s := range raw {
		normalized = append(normalized, marketdata.NormalizeTicker(s))
	}
	symbols, err := validate.Symbols(normalized, compareMinSymbols, compareMaxSymbols)
	if err != nil {
		return nil, err
	}

	rows := make([]map[string]any, 0, len(symbols))
	for _, symbol := range symbols {
		quote, err := t.svc.Quote(ctx, symbol)
		if err != nil {
			// One failed symbol degrades to an error row; the others still
			// render so the model can explain partial results.
			rows = append(rows, map[string]any{
				"symbol": symbol,
				"error":  errorMessage(err),
			})
			continue
		}
		row := map[string]any{
			"symbol":   quote.Symbol,
			"name":     quote.Name,
			"price":    round2(quote.Price),
			"currency": quote.Currency,
		}
		if quote.PreviousClose > 0 {
			change := quote.Price - quote.PreviousClose
			row["change"] = round2(change)
			row["percent_change"] = round2(change / quote.PreviousClose * 100)
		}
		rows = append(rows, row)
	}

	return Result{
		"symbols":    symbols,
		"comparison": rows,
	}, nil
}

// RegisterDefaults registers the full engine tool set: the seven market
// tools backed by svc plus the local calculator.
func RegisterDefaults(r *Registry, svc marketdata.Service) {
	r.MustRegister(NewCurrentPriceTool(svc))
	r.MustRegister(NewYesterdayPriceTool(svc))
	r.MustRegister(NewPriceChangeTool(svc))
	r.MustRegister(NewAveragePriceTool(svc))
	r.MustRegister(NewHistoricalDataTool(svc))
	r.MustRegister(NewChartDataTool(svc))
	r.MustRegister(NewCompareTool(svc))
	r.MustRegister(NewCalculateTool())
}

var periodProperty = map[string]any{
	"type":        "string",
	"description": "Time period: 1d, 5d, 1mo, 3mo, 6mo, 1y, 2y, 5y, 10y, ytd, max",
	"default":     defaultPeriod,
}

func tickerAndPeriod(args map[string]any) (string, string, error) {
	symbol, err := normalizedTicker(args)
	if err != nil {
		return "", "", err
	}
	period, err := validate.Period(stringOrDefault(args, "period", defaultPeriod))
	if err != nil {
		return "", "", err
	}
	return symbol, period, nil
}

func periodKey(args map[string]any) []string {
	period := defaultPeriod
	if p, err := validate.Period(stringOrDefault(args, "period", defaultPeriod)); err == nil {
		period = p
	}
	return []string{marketdata.NormalizeTicker(stringArg(args, "ticker")), period}
}

// periodCovering picks the smallest fetch period guaranteed to contain at
// least the requested number of trading days.
func periodCovering(days int) string {
	switch {
	case days <= 20:
		return "1mo"
	case days <= 60:
		return "3mo"
	case days <= 120:
		return "6mo"
	case days <= 250:
		return "1y"
	default:
		return "2y"
	}
}

func argOrDefault(args map[string]any, key string, def any) any {
	if v, ok := args[key]; ok && v != nil {
		return v
	}
	return def
}

func stringOrDefault(args map[string]any, key string, def string) string {
	if s := stringArg(args, key); s != "" {
		return s
	}
	return def
}

func errorMessage(err error) string {
	if ae, ok := err.(*errors.AgentError); ok {
		return ae.Message
	}
	return err.Error()
}

