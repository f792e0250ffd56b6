package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Rajchodisetti/tradeloop/internal/broker"
	"github.com/Rajchodisetti/tradeloop/internal/observ"
	"github.com/Rajchodisetti/tradeloop/internal/quotes"
)

// Options configure an Engine.
type Options struct {
	Broker    broker.Client
	Source    quotes.BarSource
	Frequency quotes.Frequency // cycle and bar frequency: 1m, 1h or 1d
	Location  *time.Location   // engine-local zone; defaults to time.Local
	PnL       PnLPolicy        // defaults to EquityChangePnL
	Tick      time.Duration    // scheduler poll interval; defaults to 1s
}

// Engine sequences calls between the market calendar, the portfolio
// reconciler, the price cache and the algorithm. One background loop runs
// cycles; a cycle refreshes state, may invoke the algorithm, and always
// re-arms the scheduler for the next wake time.
type Engine struct {
	broker    broker.Client
	source    quotes.BarSource
	frequency quotes.Frequency
	loc       *time.Location
	clock     func() time.Time

	calendar   *MarketCalendar
	cache      *PriceCache
	securities *securityCache
	reconciler *PortfolioReconciler
	sched      *TriggerScheduler

	context *Context
	data    *DataAccessor
	driver  *algoDriver

	mu             sync.Mutex
	activeTime     time.Time
	running        bool
	stopped        bool
	initialized    bool
	closingCatchUp bool
}

func New(opts Options) (*Engine, error) {
	if opts.Broker == nil {
		return nil, fmt.Errorf("broker client is required")
	}
	if opts.Source == nil {
		return nil, fmt.Errorf("bar source is required")
	}
	if opts.Frequency == "" {
		opts.Frequency = quotes.Hour
	}
	if !opts.Frequency.Valid() {
		return nil, fmt.Errorf("unsupported frequency %q", opts.Frequency)
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	e := &Engine{
		broker:    opts.Broker,
		source:    opts.Source,
		frequency: opts.Frequency,
		loc:       opts.Location,
		clock:     time.Now,
		context:   &Context{},
	}
	e.calendar = NewMarketCalendar(opts.Broker, opts.Location)
	e.cache = NewPriceCache(opts.Broker, opts.Source, opts.Frequency)
	e.securities = newSecurityCache(opts.Broker)
	e.reconciler = NewPortfolioReconciler(opts.Broker, e.calendar, e.cache, e.securities, e.context, opts.PnL)
	e.sched = NewTriggerScheduler(opts.Tick)
	e.data = &DataAccessor{engine: e}
	return e, nil
}

// Context returns the algorithm-visible state. The engine owns it; hosts
// should treat it as read-only.
func (e *Engine) Context() *Context { return e.context }

// SetActiveAlgo registers the algorithm, loads a first full snapshot of
// calendar/account/portfolio state, and runs Initialize exactly once. The
// optional market-open capability is resolved here, not re-probed per cycle.
func (e *Engine) SetActiveAlgo(ctx context.Context, algo Algorithm) error {
	e.mu.Lock()
	e.activeTime = e.clock().In(e.loc).Truncate(time.Minute)
	e.mu.Unlock()

	e.cache.Invalidate()
	if err := e.reconciler.Reconcile(ctx); err != nil {
		return fmt.Errorf("initial reconcile: %w", err)
	}
	e.context.IsMarketOpen = e.calendar.IsOpen()
	e.driver = newAlgoDriver(algo)
	e.driver.initialize(e.context, e.data)
	return nil
}

// Start runs the first cycle inline, then launches the scheduler loop in the
// background. Returns an error if no algorithm is registered or the engine
// has already been stopped; an engine is not restartable.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.driver == nil {
		e.mu.Unlock()
		return fmt.Errorf("no active algorithm; call SetActiveAlgo first")
	}
	if e.stopped {
		e.mu.Unlock()
		return fmt.Errorf("engine is stopped and cannot be restarted")
	}
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.mu.Unlock()

	if !e.initialized {
		e.cycle()
		e.initialized = true
	}
	go e.sched.Run()
	observ.Log("engine_started", map[string]any{"frequency": string(e.frequency)})
	return nil
}

// Stop cooperatively stops the scheduler loop. The stop flag is checked once
// per tick, so shutdown is best effort within one tick interval. Stop is
// terminal: a stopped engine rejects further Start calls.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.stopped = true
	e.mu.Unlock()

	e.sched.Stop()
	observ.Log("engine_stopped", nil)
}

// Stalled reports the scheduler's fatal-stall signal; a host can watch it to
// distinguish "no new data yet" from "the loop has died".
func (e *Engine) Stalled() <-chan struct{} { return e.sched.Stalled }

// GetCurrentTime returns the engine's cycle instant, truncated to the
// minute: seeded at algorithm registration, re-captured each cycle.
func (e *Engine) GetCurrentTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeTime
}

// LookupSecurity resolves a symbol to its canonical Security instance,
// idempotently: repeat lookups return the identical instance.
func (e *Engine) LookupSecurity(ctx context.Context, symbol string) (*Security, error) {
	return e.securities.fetchAndBuild(ctx, symbol, nil)
}

// cycle is one scheduler firing: refresh calendar and portfolio state, run
// the algorithm callbacks that are due, then compute and arm the next wake
// time. Every path out of cycle re-arms exactly once.
func (e *Engine) cycle() {
	ctx := context.Background()
	now := e.clock().In(e.loc)
	first := !e.initialized
	observ.IncCounter("engine_cycle_total", nil)

	// weekends skip the cycle body entirely but still re-arm below
	if wd := now.Weekday(); wd != time.Saturday && wd != time.Sunday {
		e.mu.Lock()
		e.activeTime = now.Truncate(time.Minute)
		e.mu.Unlock()

		wasOpen := e.calendar.IsOpen()
		e.cache.Invalidate()

		if err := e.reconciler.Reconcile(ctx); err != nil {
			// stale data is worse than no cycle; retry in one minute and
			// keep the algorithm out of it
			observ.LogError("cycle_data_reload_failed", err, nil)
			observ.IncCounter("engine_cycle_retry_total", nil)
			e.sched.Arm(nextMinute(now), e.cycle)
			return
		}

		isOpen := e.calendar.IsOpen()
		e.context.IsMarketOpen = isOpen

		if (first || !wasOpen) && isOpen {
			e.driver.marketOpen(e.context, e.data)
		}

		// frequency-specific "minutes after open" gate for handle_data
		var gate time.Time
		switch e.frequency {
		case quotes.Day:
			// daily cycles fire after close; the catch-up flag drives the call
			e.closingCatchUp = true
		case quotes.Hour:
			gate = floorHour(e.calendar.OpensAt().Add(time.Hour))
		default:
			gate = e.calendar.OpensAt().Add(time.Minute)
		}

		if wasOpen && !isOpen {
			// open-to-closed transition: one extra call beyond the gate
			e.closingCatchUp = true
		}

		if (isOpen && !gate.IsZero() && !now.Before(gate)) || e.closingCatchUp {
			e.driver.handleData(e.context, e.data)
			e.closingCatchUp = false
		}
	}

	e.sched.Arm(e.nextWake(ctx, now), e.cycle)
}

// nextWake computes the next cycle instant for the configured frequency.
// Always strictly in the future relative to now.
func (e *Engine) nextWake(ctx context.Context, now time.Time) time.Time {
	switch e.frequency {
	case quotes.Day:
		direct := e.calendar.ClosesAt()
		if !now.Before(direct) {
			// today's close already passed; wait out the next session
			_, closes, err := e.calendar.NextOpenHours(ctx)
			if err != nil {
				observ.LogError("next_open_hours_failed", err, nil)
				return nextMinute(now)
			}
			direct = closes
		}
		return direct.Add(5 * time.Minute)

	case quotes.Hour:
		switch {
		case !e.calendar.IsOpen() && now.Before(e.calendar.OpensAt()):
			return e.calendar.OpensAt()
		case !e.calendar.IsOpen() && now.After(e.calendar.ClosesAt()):
			opens, _, err := e.calendar.NextOpenHours(ctx)
			if err != nil {
				observ.LogError("next_open_hours_failed", err, nil)
				return nextMinute(now)
			}
			return opens
		default:
			// one bar width ahead, floored to the hour grid
			return floorHour(now.Add(e.frequency.Interval()))
		}

	default:
		return nextMinute(now)
	}
}

// nextMinute returns the start of the minute after now.
func nextMinute(now time.Time) time.Time {
	return now.Add(time.Minute).Truncate(time.Minute)
}

// DataAccessor is the data surface handed to algorithm callbacks.
type DataAccessor struct {
	engine *Engine
}

// History returns barCount bars for one security at the given frequency.
func (d *DataAccessor) History(ctx context.Context, security *Security, barCount int, frequency quotes.Frequency) ([]quotes.Bar, error) {
	series, err := d.engine.cache.History(ctx, []*Security{security}, barCount, frequency)
	if err != nil {
		return nil, err
	}
	return series[security], nil
}

// HistoryAll returns barCount bars per security at the given frequency.
// Securities the feed knows nothing about are absent from the result.
func (d *DataAccessor) HistoryAll(ctx context.Context, securities []*Security, barCount int, frequency quotes.Frequency) (map[*Security][]quotes.Bar, error) {
	return d.engine.cache.History(ctx, securities, barCount, frequency)
}

// Current returns the latest bar for one security with live fields
// refreshed; it may block for the feed-readiness wait.
func (d *DataAccessor) Current(ctx context.Context, security *Security) quotes.Bar {
	return d.engine.cache.Current(ctx, security)
}

// CurrentAll is Current over a list, served from one coherent cache pass.
func (d *DataAccessor) CurrentAll(ctx context.Context, securities []*Security) map[*Security]quotes.Bar {
	return d.engine.cache.CurrentAll(ctx, securities)
}

// CanTrade reports whether the instrument is tradeable at the broker.
func (d *DataAccessor) CanTrade(security *Security) bool {
	return security.IsTradeable
}
