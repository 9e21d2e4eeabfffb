package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"finance-scraper/models"
)

const yahooChartBaseURL = "https://query1.finance.yahoo.com/v8/finance/chart/"

// YahooProvider fetches snapshots and daily price history from the Yahoo
// chart API. It holds no state beyond the HTTP client; all pacing is done
// by the scheduler's rate limiter around it.
type YahooProvider struct {
	httpClient *http.Client
	baseURL    string
}

// NewYahooProvider creates a provider with a bounded request timeout.
func NewYahooProvider() *YahooProvider {
	return &YahooProvider{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: yahooChartBaseURL,
	}
}

// yahooChartResponse mirrors the chart API payload. Quote arrays use
// pointers because individual values may be null.
type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency           string  `json:"currency"`
				Symbol             string  `json:"symbol"`
				ExchangeName       string  `json:"exchangeName"`
				InstrumentType     string  `json:"instrumentType"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				ChartPreviousClose float64 `json:"chartPreviousClose"`
				Timezone           string  `json:"timezone"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
				Adjclose []struct {
					Adjclose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// FetchSnapshot returns the provider's current field map for a symbol,
// built from the chart metadata of a one-day request.
func (p *YahooProvider) FetchSnapshot(ctx context.Context, symbol string) (map[string]interface{}, error) {
	params := url.Values{}
	params.Set("interval", "1d")
	params.Set("range", "1d")

	resp, err := p.get(ctx, symbol, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Chart.Result) == 0 {
		return nil, fmt.Errorf("no result in response for %s", symbol)
	}

	meta := resp.Chart.Result[0].Meta
	if meta.RegularMarketPrice == 0 && meta.Symbol == "" {
		return nil, fmt.Errorf("no valid data received for %s", symbol)
	}

	data := map[string]interface{}{
		"symbol":             meta.Symbol,
		"currency":           meta.Currency,
		"exchange":           meta.ExchangeName,
		"instrumentType":     meta.InstrumentType,
		"regularMarketPrice": meta.RegularMarketPrice,
		"previousClose":      meta.ChartPreviousClose,
		"timezone":           meta.Timezone,
	}
	if meta.RegularMarketTime > 0 {
		data["regularMarketTime"] = time.Unix(meta.RegularMarketTime, 0).UTC().Format(time.RFC3339)
	}
	return data, nil
}

// FetchPriceRange returns daily bars for [start, end] in chronological
// order. An empty result (holidays, no trading) is not an error.
func (p *YahooProvider) FetchPriceRange(ctx context.Context, symbol string, start, end time.Time) ([]models.PriceBar, error) {
	params := url.Values{}
	params.Set("interval", "1d")
	params.Set("period1", fmt.Sprintf("%d", start.Unix()))
	// period2 is exclusive upstream, push it past the end of the last day.
	params.Set("period2", fmt.Sprintf("%d", end.AddDate(0, 0, 1).Unix()))
	params.Set("events", "div,splits")

	resp, err := p.get(ctx, symbol, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Chart.Result) == 0 {
		return nil, nil
	}

	result := resp.Chart.Result[0]
	if len(result.Timestamp) == 0 || len(result.Indicators.Quote) == 0 {
		return nil, nil
	}

	quote := result.Indicators.Quote[0]
	var adjClose []*float64
	if len(result.Indicators.Adjclose) > 0 {
		adjClose = result.Indicators.Adjclose[0].Adjclose
	}

	fetchedAt := time.Now().UTC()
	bars := make([]models.PriceBar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		day := time.Unix(ts, 0).UTC()
		date := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
		if date.Before(start) || date.After(end) {
			continue
		}

		bar := models.PriceBar{
			Symbol:    models.NormalizeSymbol(symbol),
			Date:      date,
			Source:    models.SourceYahoo,
			FetchedAt: fetchedAt,
		}
		if i < len(quote.Open) {
			bar.Open = quote.Open[i]
		}
		if i < len(quote.High) {
			bar.High = quote.High[i]
		}
		if i < len(quote.Low) {
			bar.Low = quote.Low[i]
		}
		if i < len(quote.Close) {
			bar.Close = quote.Close[i]
		}
		if i < len(quote.Volume) {
			bar.Volume = quote.Volume[i]
		}
		if i < len(adjClose) {
			bar.AdjClose = adjClose[i]
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// get performs one chart API request and decodes the envelope.
func (p *YahooProvider) get(ctx context.Context, symbol string, params url.Values) (*yahooChartResponse, error) {
	requestURL := p.baseURL + url.PathEscape(models.NormalizeSymbol(symbol)) + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", symbol, err)
	}
	req.Header.Set("User-Agent", "finance-scraper/1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch from provider for %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response for %s: %w", symbol, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned status %d for %s", resp.StatusCode, symbol)
	}

	var chartResp yahooChartResponse
	if err := json.Unmarshal(body, &chartResp); err != nil {
		return nil, fmt.Errorf("failed to parse response for %s: %w", symbol, err)
	}
	if chartResp.Chart.Error != nil {
		return nil, fmt.Errorf("provider error for %s: %s - %s",
			symbol, chartResp.Chart.Error.Code, chartResp.Chart.Error.Description)
	}
	return &chartResp, nil
}
