package engine

import (
	"runtime/debug"

	"github.com/Rajchodisetti/tradeloop/internal/observ"
)

// Algorithm is the user-supplied strategy. Initialize runs exactly once at
// registration; HandleData runs once per eligible cycle. Returned errors are
// logged and swallowed; panics are recovered. A failing algorithm never
// kills the scheduler.
type Algorithm interface {
	Initialize(ctx *Context, data *DataAccessor) error
	HandleData(ctx *Context, data *DataAccessor) error
}

// MarketOpenHandler is the optional open-transition callback. Implement it
// on the Algorithm to be told about each closed-to-open transition. The
// capability is resolved once at registration, not probed every cycle.
type MarketOpenHandler interface {
	OnMarketOpen(ctx *Context, data *DataAccessor) error
}

// algoDriver wraps every callback invocation with error and panic isolation.
type algoDriver struct {
	algo   Algorithm
	onOpen MarketOpenHandler // nil when the algorithm does not implement it
}

func newAlgoDriver(algo Algorithm) *algoDriver {
	d := &algoDriver{algo: algo}
	if h, ok := algo.(MarketOpenHandler); ok {
		d.onOpen = h
	}
	return d
}

func (d *algoDriver) initialize(ctx *Context, data *DataAccessor) {
	d.safeInvoke("initialize", func() error { return d.algo.Initialize(ctx, data) })
}

func (d *algoDriver) marketOpen(ctx *Context, data *DataAccessor) {
	if d.onOpen == nil {
		return
	}
	d.safeInvoke("on_market_open", func() error { return d.onOpen.OnMarketOpen(ctx, data) })
}

func (d *algoDriver) handleData(ctx *Context, data *DataAccessor) {
	d.safeInvoke("handle_data", func() error { return d.algo.HandleData(ctx, data) })
}

// safeInvoke runs one callback; errors and panics are logged with context
// and never propagate to the scheduler.
func (d *algoDriver) safeInvoke(name string, fn func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			observ.Log("algo_panic", map[string]any{
				"callback": name,
				"panic":    rec,
				"stack":    string(debug.Stack()),
			})
			observ.IncCounter("algo_error_total", map[string]string{"callback": name})
		}
	}()
	if err := fn(); err != nil {
		observ.LogError("algo_error", err, map[string]any{"callback": name})
		observ.IncCounter("algo_error_total", map[string]string{"callback": name})
	}
}
