package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/Rajchodisetti/tradeloop/internal/observ"
)

// AlphaVantageSource implements BarSource against the Alpha Vantage time
// series endpoints. Intraday frequencies map to TIME_SERIES_INTRADAY with a
// 1min/60min interval, daily maps to TIME_SERIES_DAILY.
type AlphaVantageSource struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// AlphaVantageConfig holds construction settings for the bar source.
type AlphaVantageConfig struct {
	APIKey             string
	BaseURL            string
	TimeoutMs          int
	RateLimitPerMinute int
}

func NewAlphaVantageSource(cfg AlphaVantageConfig) (*AlphaVantageSource, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("alpha vantage API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.alphavantage.co"
	}
	if cfg.TimeoutMs <= 0 {
		cfg.TimeoutMs = 10000
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 5 // free tier
	}
	return &AlphaVantageSource{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPerMinute)/60), 1),
	}, nil
}

func (av *AlphaVantageSource) FetchBars(ctx context.Context, symbols []string, barCount int, frequency Frequency) (map[string][]Bar, error) {
	if !frequency.Valid() {
		return nil, fmt.Errorf("unsupported frequency %q", frequency)
	}
	if barCount <= 0 {
		barCount = 1
	}

	out := make(map[string][]Bar, len(symbols))
	for _, symbol := range symbols {
		bars, err := av.fetchSymbol(ctx, symbol, barCount, frequency)
		if err != nil {
			observ.LogError("bar_fetch_failed", err, map[string]any{"symbol": symbol})
			observ.IncCounter("bar_fetch_error_total", map[string]string{"symbol": symbol})
			// partial results are fine; the cache synthesizes for misses
			continue
		}
		if len(bars) > 0 {
			out[symbol] = bars
		}
	}
	return out, nil
}

func (av *AlphaVantageSource) fetchSymbol(ctx context.Context, symbol string, barCount int, frequency Frequency) ([]Bar, error) {
	if err := av.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("apikey", av.apiKey)
	q.Set("outputsize", "compact")
	var seriesKey string
	switch frequency {
	case Minute:
		q.Set("function", "TIME_SERIES_INTRADAY")
		q.Set("interval", "1min")
		seriesKey = "Time Series (1min)"
	case Hour:
		q.Set("function", "TIME_SERIES_INTRADAY")
		q.Set("interval", "60min")
		seriesKey = "Time Series (60min)"
	case Day:
		q.Set("function", "TIME_SERIES_DAILY")
		seriesKey = "Time Series (Daily)"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, av.baseURL+"/query?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := av.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed for %s: %w", symbol, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d for %s", resp.StatusCode, symbol)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if note, ok := payload["Note"]; ok {
		return nil, fmt.Errorf("rate limited: %s", string(note))
	}
	raw, ok := payload[seriesKey]
	if !ok {
		// empty series, not an error
		return nil, nil
	}

	var series map[string]struct {
		Open   string `json:"1. open"`
		High   string `json:"2. high"`
		Low    string `json:"3. low"`
		Close  string `json:"4. close"`
		Volume string `json:"5. volume"`
	}
	if err := json.Unmarshal(raw, &series); err != nil {
		return nil, fmt.Errorf("decode series: %w", err)
	}

	layout := "2006-01-02 15:04:05"
	if frequency == Day {
		layout = "2006-01-02"
	}

	bars := make([]Bar, 0, len(series))
	for stamp, v := range series {
		ts, err := time.ParseInLocation(layout, stamp, time.Local)
		if err != nil {
			continue
		}
		closeF := parseFloat(v.Close)
		b := EmptyBar(ts)
		b.Open = parseFloat(v.Open)
		b.High = parseFloat(v.High)
		b.Low = parseFloat(v.Low)
		b.Close = closeF
		b.Price = closeF
		b.Volume = parseInt(v.Volume)
		bars = append(bars, b)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	if len(bars) > barCount {
		bars = bars[len(bars)-barCount:]
	}
	return bars, nil
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func parseInt(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
