// Package broker wraps the brokerage REST API behind a narrow interface the
// engine consumes. The engine never parses wire payloads itself; everything
// crossing this boundary is already normalized into the types below.
package broker

import (
	"context"
	"fmt"
	"time"
)

// Client is the brokerage surface the engine depends on. All calls are
// synchronous and may return a transport or authorization failure; callers
// decide per call site whether that is recoverable.
type Client interface {
	// MarketHours returns today's session record. OpensAt/ClosesAt may be
	// zero on market holidays; NextOpenHoursRef then points at the next
	// session resource.
	MarketHours(ctx context.Context) (MarketHours, error)
	// NextOpenHours resolves the next session record, either from an
	// explicit ref or from the API default when ref is empty.
	NextOpenHours(ctx context.Context, ref string) (MarketHours, error)

	Account(ctx context.Context) (AccountInfo, error)
	Portfolio(ctx context.Context) (PortfolioInfo, error)
	Positions(ctx context.Context) ([]RawPosition, error)

	// Instrument looks up tradable-instrument detail for a symbol.
	Instrument(ctx context.Context, symbol string) (InstrumentDetail, error)
	// Quote returns the lightweight live quote (last trade, bid, ask).
	Quote(ctx context.Context, symbol string) (LiveQuote, error)

	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	Order(ctx context.Context, id string) (RawOrder, error)
	Orders(ctx context.Context) ([]RawOrder, error)
	CancelOrder(ctx context.Context, id string) error
}

// MarketHours is one trading-session record in wire (UTC) time.
type MarketHours struct {
	OpensAt          time.Time
	ClosesAt         time.Time
	NextOpenHoursRef string
}

// Valid reports whether the record carries both session instants.
func (m MarketHours) Valid() bool {
	return !m.OpensAt.IsZero() && !m.ClosesAt.IsZero()
}

// AccountInfo carries the account-level cash and margin figures the
// reconciler needs. Field names follow the broker's vocabulary.
type AccountInfo struct {
	Cash              float64
	UnsettledFunds    float64
	UnclearedDeposits float64
	CashHeldForOrders float64
	MarginLimit       float64
}

// PortfolioInfo is the broker's portfolio summary.
type PortfolioInfo struct {
	MarketValue         float64
	Equity              float64
	EquityPreviousClose float64
	ExcessMargin        float64
}

// RawPosition is one holding as reported by the broker, instrument detail
// already resolved.
type RawPosition struct {
	Symbol          string
	Quantity        float64
	AverageBuyPrice float64
	CreatedAt       time.Time
	Instrument      InstrumentDetail
}

// InstrumentDetail describes one tradable instrument.
type InstrumentDetail struct {
	Symbol      string
	SimpleName  string
	MinTickSize float64 // 0 when the instrument has no tick constraint
	Tradeable   bool
	Type        string
	Raw         map[string]any
}

// LiveQuote is the lightweight quote used for live price overlays.
type LiveQuote struct {
	Symbol         string
	LastTradePrice float64
	BidPrice       float64
	BidSize        float64
	AskPrice       float64
	AskSize        float64
}

// OrderRequest is a normalized order submission.
type OrderRequest struct {
	Symbol      string
	Quantity    int      // always positive; side carried by Transaction
	Price       *float64 // limit price, nil for market
	StopPrice   *float64 // nil for non-stop orders
	Transaction string   // "buy" | "sell"
	Trigger     string   // "immediate" | "stop"
	Type        string   // "market" | "limit"
	TimeInForce string   // e.g. "gfd", "gtc"
	RefID       string   // client-generated idempotency reference
}

// OrderAck is the broker's response to an order submission.
type OrderAck struct {
	ID           string
	RejectReason string
}

// RawOrder is one order record exactly as the broker reports it; the engine's
// order translator owns turning this into a canonical Order.
type RawOrder struct {
	ID                 string
	State              string // broker state string, e.g. "partially_filled"
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Trigger            string // "immediate" | "stop"
	Type               string // "market" | "limit"
	Price              float64
	StopPrice          float64
	Quantity           float64
	CumulativeQuantity float64
	Side               string // "buy" | "sell"
	Symbol             string
	Fees               float64
	RejectReason       string
	TimeInForce        string
}

// Error classifies broker failures the way the quote adapters do, so callers
// can branch on kind without string matching.
type Error struct {
	Kind    string // "network", "rate_limit", "provider_error", "bad_symbol", "auth"
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error in %s: %s (%v)", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error in %s: %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func NewNetworkError(op, message string, cause error) *Error {
	return &Error{Kind: "network", Op: op, Message: message, Cause: cause}
}

func NewRateLimitError(op, message string) *Error {
	return &Error{Kind: "rate_limit", Op: op, Message: message}
}

func NewProviderError(op, message string, cause error) *Error {
	return &Error{Kind: "provider_error", Op: op, Message: message, Cause: cause}
}

func NewBadSymbolError(op, symbol string) *Error {
	return &Error{Kind: "bad_symbol", Op: op, Message: "unknown symbol " + symbol}
}

func NewAuthError(op, message string) *Error {
	return &Error{Kind: "auth", Op: op, Message: message}
}
