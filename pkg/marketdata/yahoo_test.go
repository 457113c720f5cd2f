package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/everme/stockagent/pkg/errors"
)

const chartBody = `{
	"chart": {
		"result": [{
			"meta": {
				"symbol": "TSLA",
				"currency": "USD",
				"shortName": "Tesla, Inc.",
				"regularMarketPrice": 248.50,
				"chartPreviousClose": 245.00
			},
			"timestamp": [1755000000, 1755086400, 1755172800],
			"indicators": {
				"quote": [{
					"open":  [240.0, 244.0, 246.0],
					"high":  [246.0, 249.0, 251.0],
					"low":   [238.0, 243.0, 244.0],
					"close": [245.0, 247.2, 248.5]
				}]
			}
		}],
		"error": null
	}
}`

func newChartServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *YahooClient) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server, NewYahooClient(WithYahooBaseURL(server.URL))
}

func TestQuote(t *testing.T) {
	_, client := newChartServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/v8/finance/chart/TSLA") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("range") != "5d" {
			t.Errorf("quote should fetch 5d range, got %q", r.URL.Query().Get("range"))
		}
		fmt.Fprint(w, chartBody)
	})

	quote, err := client.Quote(context.Background(), "TSLA")
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if quote.Price != 248.50 {
		t.Errorf("price = %f", quote.Price)
	}
	if quote.PreviousClose != 245.00 {
		t.Errorf("previous close = %f", quote.PreviousClose)
	}
	if quote.Name != "Tesla, Inc." || quote.Currency != "USD" {
		t.Errorf("metadata not mapped: %+v", quote)
	}
}

func TestQuoteFallsBackToLastClose(t *testing.T) {
	body := strings.Replace(chartBody, `"regularMarketPrice": 248.50,`, "", 1)
	_, client := newChartServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	})

	quote, err := client.Quote(context.Background(), "TSLA")
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if quote.Price != 248.5 {
		t.Errorf("expected last close fallback 248.5, got %f", quote.Price)
	}
}

func TestHistory(t *testing.T) {
	_, client := newChartServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("range") != "1mo" {
			t.Errorf("range = %q", r.URL.Query().Get("range"))
		}
		fmt.Fprint(w, chartBody)
	})

	series, err := client.History(context.Background(), "TSLA", "1mo")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(series.Candles) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(series.Candles))
	}
	if series.Candles[0].Close != 245.0 || series.Candles[2].Close != 248.5 {
		t.Errorf("candles out of order: %+v", series.Candles)
	}
	if got := series.Closes(); len(got) != 3 || got[1] != 247.2 {
		t.Errorf("Closes() = %v", got)
	}
	if tail := series.Tail(2); len(tail) != 2 || tail[0].Close != 247.2 {
		t.Errorf("Tail(2) = %+v", tail)
	}
}

func TestHistorySkipsNullCloses(t *testing.T) {
	body := strings.Replace(chartBody, "247.2", "null", 1)
	_, client := newChartServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	})

	series, err := client.History(context.Background(), "TSLA", "1mo")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(series.Candles) != 2 {
		t.Errorf("null close should be dropped, got %d candles", len(series.Candles))
	}
}

func TestChartAPIError(t *testing.T) {
	_, client := newChartServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chart": {"result": null,
			"error": {"code": "Not Found", "description": "No data found"}}}`)
	})

	_, err := client.Quote(context.Background(), "NOPE")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.CodeOf(err) != errors.CodeToolFailure {
		t.Errorf("expected CodeToolFailure, got %s", errors.CodeOf(err))
	}
}

func TestChartNotFound(t *testing.T) {
	_, client := newChartServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := client.Quote(context.Background(), "NOPE")
	if errors.CodeOf(err) != errors.CodeNotFound {
		t.Errorf("expected CodeNotFound, got %v", err)
	}
}
