package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/tradeloop/internal/broker"
	"github.com/Rajchodisetti/tradeloop/internal/quotes"
)

// fakeClock is a settable clock shared by all engine components under test.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// tradingDay is a Tuesday; hours helpers hang sessions off it.
var tradingDay = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return tradingDay.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func newTestEngine(t *testing.T, freq quotes.Frequency, now time.Time) (*Engine, *broker.Stub, *quotes.MockSource, *fakeClock) {
	t.Helper()
	stub := broker.NewStub()
	stub.SetOpenToday(at(9, 30), at(16, 0))
	stub.NextHours = broker.MarketHours{
		OpensAt:  at(9, 30).AddDate(0, 0, 1),
		ClosesAt: at(16, 0).AddDate(0, 0, 1),
	}
	src := quotes.NewMockSource()

	e, err := New(Options{Broker: stub, Source: src, Frequency: freq, Location: time.UTC})
	require.NoError(t, err)

	clk := newFakeClock(now)
	e.clock = clk.Now
	e.calendar.clock = clk.Now
	e.cache.clock = clk.Now
	e.cache.sleep = func(time.Duration) {}
	e.reconciler.clock = clk.Now
	e.sched.clock = clk.Now
	return e, stub, src, clk
}

// countingAlgo records callback invocations.
type countingAlgo struct {
	initCalls  int
	openCalls  int
	dataCalls  int
	dataPanics bool
}

func (a *countingAlgo) Initialize(ctx *Context, data *DataAccessor) error {
	a.initCalls++
	return nil
}

func (a *countingAlgo) OnMarketOpen(ctx *Context, data *DataAccessor) error {
	a.openCalls++
	return nil
}

func (a *countingAlgo) HandleData(ctx *Context, data *DataAccessor) error {
	a.dataCalls++
	if a.dataPanics {
		panic("algo blew up")
	}
	return nil
}

// plainAlgo has no market-open capability.
type plainAlgo struct {
	dataCalls int
}

func (a *plainAlgo) Initialize(ctx *Context, data *DataAccessor) error { return nil }
func (a *plainAlgo) HandleData(ctx *Context, data *DataAccessor) error {
	a.dataCalls++
	return nil
}

func testSecurity(symbol string) *Security {
	return &Security{Symbol: symbol, SimpleName: symbol, IsTradeable: true, SecurityType: "stock"}
}
