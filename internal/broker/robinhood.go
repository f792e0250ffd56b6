package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/Rajchodisetti/tradeloop/internal/observ"
)

// RobinhoodClient implements Client against a Robinhood-style REST API.
// The wire format reports numbers as decimal strings; everything is parsed
// at this boundary so the engine only ever sees typed values.
type RobinhoodClient struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	maxRetries  int
	backoffBase time.Duration

	// instrument detail rarely changes; cache resolved refs for the
	// process lifetime to keep position reconciles cheap
	mu          sync.Mutex
	instruments map[string]InstrumentDetail // ref URL -> detail
}

// RobinhoodConfig holds construction settings for the REST client.
type RobinhoodConfig struct {
	BaseURL            string
	Token              string
	TimeoutMs          int
	MaxRetries         int
	BackoffBaseMs      int
	RateLimitPerMinute int
}

func NewRobinhoodClient(cfg RobinhoodConfig) (*RobinhoodClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("broker base URL is required")
	}
	if cfg.TimeoutMs <= 0 {
		cfg.TimeoutMs = 10000
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBaseMs <= 0 {
		cfg.BackoffBaseMs = 250
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 60
	}
	return &RobinhoodClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPerMinute)/60), 1),
		maxRetries:  cfg.MaxRetries,
		backoffBase: time.Duration(cfg.BackoffBaseMs) * time.Millisecond,
		instruments: make(map[string]InstrumentDetail),
	}, nil
}

// wire payloads

type hoursPayload struct {
	OpensAt       string `json:"opens_at"`
	ClosesAt      string `json:"closes_at"`
	NextOpenHours string `json:"next_open_hours"`
}

type accountPayload struct {
	Cash              string `json:"cash"`
	UnsettledFunds    string `json:"unsettled_funds"`
	UnclearedDeposits string `json:"uncleared_deposits"`
	CashHeldForOrders string `json:"cash_held_for_orders"`
	MarginBalances    struct {
		MarginLimit string `json:"margin_limit"`
	} `json:"margin_balances"`
}

type portfolioPayload struct {
	MarketValue         string `json:"market_value"`
	Equity              string `json:"equity"`
	EquityPreviousClose string `json:"equity_previous_close"`
	ExcessMargin        string `json:"excess_margin"`
}

type positionPayload struct {
	Instrument      string `json:"instrument"`
	Quantity        string `json:"quantity"`
	AverageBuyPrice string `json:"average_buy_price"`
	CreatedAt       string `json:"created_at"`
}

type instrumentPayload struct {
	Symbol      string `json:"symbol"`
	SimpleName  string `json:"simple_name"`
	MinTickSize string `json:"min_tick_size"`
	Tradeable   bool   `json:"tradeable"`
	Type        string `json:"type"`
}

type quotePayload struct {
	Symbol         string `json:"symbol"`
	LastTradePrice string `json:"last_trade_price"`
	BidPrice       string `json:"bid_price"`
	BidSize        string `json:"bid_size"`
	AskPrice       string `json:"ask_price"`
	AskSize        string `json:"ask_size"`
}

type orderPayload struct {
	ID                 string `json:"id"`
	State              string `json:"state"`
	CreatedAt          string `json:"created_at"`
	UpdatedAt          string `json:"updated_at"`
	Trigger            string `json:"trigger"`
	Type               string `json:"type"`
	Price              string `json:"price"`
	StopPrice          string `json:"stop_price"`
	Quantity           string `json:"quantity"`
	CumulativeQuantity string `json:"cumulative_quantity"`
	Side               string `json:"side"`
	Symbol             string `json:"symbol"`
	Fees               string `json:"fees"`
	RejectReason       string `json:"reject_reason"`
	TimeInForce        string `json:"time_in_force"`
}

type resultsPayload[T any] struct {
	Results []T `json:"results"`
}

func (c *RobinhoodClient) MarketHours(ctx context.Context) (MarketHours, error) {
	var p hoursPayload
	if err := c.getJSON(ctx, "/markets/hours/today/", &p); err != nil {
		return MarketHours{}, err
	}
	return parseHours(p)
}

func (c *RobinhoodClient) NextOpenHours(ctx context.Context, ref string) (MarketHours, error) {
	path := ref
	if path == "" {
		path = "/markets/hours/next/"
	}
	var p hoursPayload
	if err := c.getJSON(ctx, path, &p); err != nil {
		return MarketHours{}, err
	}
	hours, err := parseHours(p)
	if err != nil {
		return MarketHours{}, err
	}
	if !hours.Valid() {
		return MarketHours{}, NewProviderError("next_open_hours", "session record missing open/close", nil)
	}
	return hours, nil
}

func parseHours(p hoursPayload) (MarketHours, error) {
	h := MarketHours{NextOpenHoursRef: p.NextOpenHours}
	if p.OpensAt != "" {
		t, err := time.Parse("2006-01-02T15:04:05Z", p.OpensAt)
		if err != nil {
			return h, NewProviderError("market_hours", "bad opens_at "+p.OpensAt, err)
		}
		h.OpensAt = t
	}
	if p.ClosesAt != "" {
		t, err := time.Parse("2006-01-02T15:04:05Z", p.ClosesAt)
		if err != nil {
			return h, NewProviderError("market_hours", "bad closes_at "+p.ClosesAt, err)
		}
		h.ClosesAt = t
	}
	return h, nil
}

func (c *RobinhoodClient) Account(ctx context.Context) (AccountInfo, error) {
	var p resultsPayload[accountPayload]
	if err := c.getJSON(ctx, "/accounts/", &p); err != nil {
		return AccountInfo{}, err
	}
	if len(p.Results) == 0 {
		return AccountInfo{}, NewProviderError("account", "empty accounts response", nil)
	}
	a := p.Results[0]
	return AccountInfo{
		Cash:              parseFloat(a.Cash),
		UnsettledFunds:    parseFloat(a.UnsettledFunds),
		UnclearedDeposits: parseFloat(a.UnclearedDeposits),
		CashHeldForOrders: parseFloat(a.CashHeldForOrders),
		MarginLimit:       parseFloat(a.MarginBalances.MarginLimit),
	}, nil
}

func (c *RobinhoodClient) Portfolio(ctx context.Context) (PortfolioInfo, error) {
	var p resultsPayload[portfolioPayload]
	if err := c.getJSON(ctx, "/portfolios/", &p); err != nil {
		return PortfolioInfo{}, err
	}
	if len(p.Results) == 0 {
		return PortfolioInfo{}, NewProviderError("portfolio", "empty portfolios response", nil)
	}
	r := p.Results[0]
	return PortfolioInfo{
		MarketValue:         parseFloat(r.MarketValue),
		Equity:              parseFloat(r.Equity),
		EquityPreviousClose: parseFloat(r.EquityPreviousClose),
		ExcessMargin:        parseFloat(r.ExcessMargin),
	}, nil
}

func (c *RobinhoodClient) Positions(ctx context.Context) ([]RawPosition, error) {
	var p resultsPayload[positionPayload]
	if err := c.getJSON(ctx, "/positions/?nonzero=true", &p); err != nil {
		return nil, err
	}
	out := make([]RawPosition, 0, len(p.Results))
	for _, r := range p.Results {
		detail, err := c.instrumentByRef(ctx, r.Instrument)
		if err != nil {
			return nil, err
		}
		created, err := parseWireTime("positions", "created_at", r.CreatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, RawPosition{
			Symbol:          detail.Symbol,
			Quantity:        parseFloat(r.Quantity),
			AverageBuyPrice: parseFloat(r.AverageBuyPrice),
			CreatedAt:       created,
			Instrument:      detail,
		})
	}
	return out, nil
}

func (c *RobinhoodClient) Instrument(ctx context.Context, symbol string) (InstrumentDetail, error) {
	var p resultsPayload[instrumentPayload]
	if err := c.getJSON(ctx, "/instruments/?symbol="+url.QueryEscape(symbol), &p); err != nil {
		return InstrumentDetail{}, err
	}
	for _, r := range p.Results {
		if r.Symbol == symbol {
			return instrumentFromPayload(r), nil
		}
	}
	return InstrumentDetail{}, NewBadSymbolError("instrument", symbol)
}

// instrumentByRef resolves an instrument resource URL, caching the result.
func (c *RobinhoodClient) instrumentByRef(ctx context.Context, ref string) (InstrumentDetail, error) {
	c.mu.Lock()
	if d, ok := c.instruments[ref]; ok {
		c.mu.Unlock()
		return d, nil
	}
	c.mu.Unlock()

	var p instrumentPayload
	if err := c.getJSON(ctx, ref, &p); err != nil {
		return InstrumentDetail{}, err
	}
	d := instrumentFromPayload(p)

	c.mu.Lock()
	c.instruments[ref] = d
	c.mu.Unlock()
	return d, nil
}

func instrumentFromPayload(p instrumentPayload) InstrumentDetail {
	return InstrumentDetail{
		Symbol:      p.Symbol,
		SimpleName:  p.SimpleName,
		MinTickSize: parseFloat(p.MinTickSize),
		Tradeable:   p.Tradeable,
		Type:        p.Type,
		Raw: map[string]any{
			"symbol":        p.Symbol,
			"simple_name":   p.SimpleName,
			"min_tick_size": p.MinTickSize,
			"tradeable":     p.Tradeable,
			"type":          p.Type,
		},
	}
}

func (c *RobinhoodClient) Quote(ctx context.Context, symbol string) (LiveQuote, error) {
	var p quotePayload
	if err := c.getJSON(ctx, "/quotes/"+url.PathEscape(symbol)+"/", &p); err != nil {
		return LiveQuote{}, err
	}
	if p.LastTradePrice == "" {
		return LiveQuote{}, NewProviderError("quote", "quote missing last_trade_price for "+symbol, nil)
	}
	return LiveQuote{
		Symbol:         symbol,
		LastTradePrice: parseFloat(p.LastTradePrice),
		BidPrice:       parseFloat(p.BidPrice),
		BidSize:        parseFloat(p.BidSize),
		AskPrice:       parseFloat(p.AskPrice),
		AskSize:        parseFloat(p.AskSize),
	}, nil
}

func (c *RobinhoodClient) PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	if req.RefID == "" {
		req.RefID = ulid.Make().String()
	}
	body := map[string]any{
		"symbol":        req.Symbol,
		"quantity":      strconv.Itoa(req.Quantity),
		"side":          req.Transaction,
		"trigger":       req.Trigger,
		"type":          req.Type,
		"time_in_force": req.TimeInForce,
		"ref_id":        req.RefID,
	}
	if req.Price != nil {
		body["price"] = strconv.FormatFloat(*req.Price, 'f', -1, 64)
	}
	if req.StopPrice != nil {
		body["stop_price"] = strconv.FormatFloat(*req.StopPrice, 'f', -1, 64)
	}

	var p struct {
		ID           string `json:"id"`
		RejectReason string `json:"reject_reason"`
	}
	if err := c.postJSON(ctx, "/orders/", body, &p); err != nil {
		return OrderAck{}, err
	}
	return OrderAck{ID: p.ID, RejectReason: p.RejectReason}, nil
}

func (c *RobinhoodClient) Order(ctx context.Context, id string) (RawOrder, error) {
	var p orderPayload
	if err := c.getJSON(ctx, "/orders/"+url.PathEscape(id)+"/", &p); err != nil {
		return RawOrder{}, err
	}
	return rawOrderFromPayload(p)
}

func (c *RobinhoodClient) Orders(ctx context.Context) ([]RawOrder, error) {
	var p resultsPayload[orderPayload]
	if err := c.getJSON(ctx, "/orders/", &p); err != nil {
		return nil, err
	}
	out := make([]RawOrder, 0, len(p.Results))
	for _, r := range p.Results {
		o, err := rawOrderFromPayload(r)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (c *RobinhoodClient) CancelOrder(ctx context.Context, id string) error {
	return c.postJSON(ctx, "/orders/"+url.PathEscape(id)+"/cancel/", map[string]any{}, nil)
}

func rawOrderFromPayload(p orderPayload) (RawOrder, error) {
	created, err := parseWireTime("orders", "created_at", p.CreatedAt)
	if err != nil {
		return RawOrder{}, err
	}
	updated, err := parseWireTime("orders", "updated_at", p.UpdatedAt)
	if err != nil {
		return RawOrder{}, err
	}
	return RawOrder{
		ID:                 p.ID,
		State:              p.State,
		CreatedAt:          created,
		UpdatedAt:          updated,
		Trigger:            p.Trigger,
		Type:               p.Type,
		Price:              parseFloat(p.Price),
		StopPrice:          parseFloat(p.StopPrice),
		Quantity:           parseFloat(p.Quantity),
		CumulativeQuantity: parseFloat(p.CumulativeQuantity),
		Side:               p.Side,
		Symbol:             p.Symbol,
		Fees:               parseFloat(p.Fees),
		RejectReason:       p.RejectReason,
		TimeInForce:        p.TimeInForce,
	}, nil
}

// parseWireTime decodes a position/order timestamp. Absent fields stay zero;
// a present but malformed value means we no longer understand the wire format
// and is surfaced as a provider error.
func parseWireTime(op, field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02T15:04:05.000000Z", s)
	if err != nil {
		return time.Time{}, NewProviderError(op, "bad "+field+" "+s, err)
	}
	return t, nil
}

// parseFloat tolerates the broker's habit of sending numbers as strings and
// omitting fields entirely; absent or malformed values become 0.
func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// HTTP plumbing with rate limiting and retry/backoff.

func (c *RobinhoodClient) getJSON(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

func (c *RobinhoodClient) postJSON(ctx context.Context, path string, body map[string]any, out any) error {
	return c.doJSON(ctx, http.MethodPost, path, body, out)
}

func (c *RobinhoodClient) doJSON(ctx context.Context, method, path string, body map[string]any, out any) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return NewRateLimitError(path, "rate limiter wait: "+err.Error())
	}

	target := path
	if !strings.HasPrefix(path, "http") {
		target = c.baseURL + path
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			// exponential backoff with jitter, same shape as the quote adapters
			backoff := c.backoffBase * time.Duration(1<<(attempt-1))
			backoff += time.Duration(rand.Int63n(int64(c.backoffBase)))
			select {
			case <-ctx.Done():
				return NewNetworkError(path, "context cancelled during backoff", ctx.Err())
			case <-time.After(backoff):
			}
		}

		var reader io.Reader
		if body != nil {
			b, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("marshal request body: %w", err)
			}
			reader = bytes.NewReader(b)
		}

		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return NewNetworkError(path, "build request", err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = NewNetworkError(path, "request failed", err)
			observ.IncCounter("broker_request_error_total", map[string]string{"path": path})
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = NewNetworkError(path, "read body", readErr)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return NewAuthError(path, fmt.Sprintf("status %d", resp.StatusCode))
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = NewRateLimitError(path, "status 429")
			continue
		case resp.StatusCode >= 500:
			lastErr = NewProviderError(path, fmt.Sprintf("status %d", resp.StatusCode), nil)
			continue
		case resp.StatusCode >= 400:
			return NewProviderError(path, fmt.Sprintf("status %d: %s", resp.StatusCode, string(data)), nil)
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			// data-shape failures are treated like transport failures
			lastErr = NewProviderError(path, "decode response", err)
			continue
		}
		return nil
	}
	return lastErr
}
