package broker

import (
	"context"
	"sync"
	"time"
)

// Stub is an in-memory Client for tests. Every method records a call count
// so tests can assert on traffic, and every response is settable per field.
// Error injection is per method name via FailWith.
type Stub struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error

	Hours        MarketHours
	NextHours    MarketHours
	AccountInfo  AccountInfo
	PortfolioSum PortfolioInfo
	RawPositions []RawPosition
	Instruments  map[string]InstrumentDetail
	Quotes       map[string]LiveQuote
	RawOrders    map[string]RawOrder
	Ack          OrderAck
	PlacedOrders []OrderRequest
	Cancelled    []string
}

func NewStub() *Stub {
	return &Stub{
		calls:       map[string]int{},
		fail:        map[string]error{},
		Instruments: map[string]InstrumentDetail{},
		Quotes:      map[string]LiveQuote{},
		RawOrders:   map[string]RawOrder{},
	}
}

// FailWith makes the named method return err until cleared with a nil err.
func (s *Stub) FailWith(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, method)
		return
	}
	s.fail[method] = err
}

// Calls returns how many times the named method was invoked.
func (s *Stub) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// TotalCalls returns the count across all methods.
func (s *Stub) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func (s *Stub) record(method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[method]++
	return s.fail[method]
}

func (s *Stub) MarketHours(ctx context.Context) (MarketHours, error) {
	if err := s.record("MarketHours"); err != nil {
		return MarketHours{}, err
	}
	return s.Hours, nil
}

func (s *Stub) NextOpenHours(ctx context.Context, ref string) (MarketHours, error) {
	if err := s.record("NextOpenHours"); err != nil {
		return MarketHours{}, err
	}
	return s.NextHours, nil
}

func (s *Stub) Account(ctx context.Context) (AccountInfo, error) {
	if err := s.record("Account"); err != nil {
		return AccountInfo{}, err
	}
	return s.AccountInfo, nil
}

func (s *Stub) Portfolio(ctx context.Context) (PortfolioInfo, error) {
	if err := s.record("Portfolio"); err != nil {
		return PortfolioInfo{}, err
	}
	return s.PortfolioSum, nil
}

func (s *Stub) Positions(ctx context.Context) ([]RawPosition, error) {
	if err := s.record("Positions"); err != nil {
		return nil, err
	}
	return s.RawPositions, nil
}

func (s *Stub) Instrument(ctx context.Context, symbol string) (InstrumentDetail, error) {
	if err := s.record("Instrument"); err != nil {
		return InstrumentDetail{}, err
	}
	d, ok := s.Instruments[symbol]
	if !ok {
		return InstrumentDetail{}, NewBadSymbolError("instrument", symbol)
	}
	return d, nil
}

func (s *Stub) Quote(ctx context.Context, symbol string) (LiveQuote, error) {
	if err := s.record("Quote"); err != nil {
		return LiveQuote{}, err
	}
	q, ok := s.Quotes[symbol]
	if !ok {
		return LiveQuote{}, NewBadSymbolError("quote", symbol)
	}
	return q, nil
}

func (s *Stub) PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	if err := s.record("PlaceOrder"); err != nil {
		return OrderAck{}, err
	}
	s.mu.Lock()
	s.PlacedOrders = append(s.PlacedOrders, req)
	s.mu.Unlock()
	return s.Ack, nil
}

func (s *Stub) Order(ctx context.Context, id string) (RawOrder, error) {
	if err := s.record("Order"); err != nil {
		return RawOrder{}, err
	}
	o, ok := s.RawOrders[id]
	if !ok {
		return RawOrder{}, NewProviderError("order", "unknown order "+id, nil)
	}
	return o, nil
}

func (s *Stub) Orders(ctx context.Context) ([]RawOrder, error) {
	if err := s.record("Orders"); err != nil {
		return nil, err
	}
	out := make([]RawOrder, 0, len(s.RawOrders))
	for _, o := range s.RawOrders {
		out = append(out, o)
	}
	return out, nil
}

func (s *Stub) CancelOrder(ctx context.Context, id string) error {
	if err := s.record("CancelOrder"); err != nil {
		return err
	}
	s.mu.Lock()
	s.Cancelled = append(s.Cancelled, id)
	s.mu.Unlock()
	return nil
}

// SetOpenToday is a convenience for tests: a session spanning [open, close]
// around the given instant.
func (s *Stub) SetOpenToday(open, close time.Time) {
	s.Hours = MarketHours{OpensAt: open.UTC(), ClosesAt: close.UTC()}
}

var _ Client = (*Stub)(nil)
