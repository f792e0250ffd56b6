package engine

import (
	"context"
	"math"
	"time"

	"github.com/Rajchodisetti/tradeloop/internal/broker"
	"github.com/Rajchodisetti/tradeloop/internal/observ"
)

// ProfileFigures are the fetched inputs a P&L policy may draw on.
type ProfileFigures struct {
	Equity              float64
	UnclearedDeposits   float64
	EquityPreviousClose float64
	UnrealizedPL        float64
	UnsettledFunds      float64
}

// PnLPolicy computes portfolio P&L from the reconciled figures. The exact
// formula is a policy, not a law; two variants ship.
type PnLPolicy func(ProfileFigures) float64

// EquityChangePnL: today's equity net of uncleared deposits versus the
// previous close. The default.
func EquityChangePnL(f ProfileFigures) float64 {
	return f.Equity - f.UnclearedDeposits - f.EquityPreviousClose
}

// SettlementPnL: open-position unrealized P&L plus unsettled funds.
func SettlementPnL(f ProfileFigures) float64 {
	return f.UnrealizedPL + f.UnsettledFunds
}

// PortfolioReconciler rebuilds the Context's account and portfolio snapshots
// from the broker, throttled by a watermark that tightens near market hours
// and relaxes off-hours. The Context is never half-updated: either the prior
// snapshots persist or fully rebuilt ones replace them.
type PortfolioReconciler struct {
	broker     broker.Client
	calendar   *MarketCalendar
	cache      *PriceCache
	securities *securityCache
	target     *Context
	pnl        PnLPolicy
	clock      func() time.Time

	nextReloadableTime time.Time

	// latched on first successful reconcile, fixed for the process lifetime
	startingCash float64
	startDate    time.Time
	started      bool

	// last successfully observed price per security; updated only on
	// success, never cleared on failure
	lastKnownPrice map[*Security]float64
}

func NewPortfolioReconciler(b broker.Client, cal *MarketCalendar, cache *PriceCache, secs *securityCache, target *Context, pnl PnLPolicy) *PortfolioReconciler {
	if pnl == nil {
		pnl = EquityChangePnL
	}
	return &PortfolioReconciler{
		broker:         b,
		calendar:       cal,
		cache:          cache,
		securities:     secs,
		target:         target,
		pnl:            pnl,
		clock:          time.Now,
		lastKnownPrice: map[*Security]float64{},
	}
}

// Reconcile refreshes the calendar and rebuilds account/portfolio state.
// Skipped entirely (nil, no broker calls) while the watermark is in the
// future. A calendar failure is tolerated only when a previous session is
// known; a profile failure fails the whole call and the caller must skip
// the algorithm this cycle.
func (r *PortfolioReconciler) Reconcile(ctx context.Context) error {
	now := r.clock()
	if now.Before(r.nextReloadableTime) {
		observ.IncCounter("reconcile_skipped_total", nil)
		return nil
	}

	if err := r.calendar.Refresh(ctx); err != nil {
		observ.LogError("market_hours_refresh_failed", err, nil)
		if !r.calendar.Known() {
			return err
		}
		// stale calendar is better than none
	}

	if err := r.loadProfile(ctx); err != nil {
		observ.LogError("profile_reconcile_failed", err, nil)
		return err
	}

	// off-hours the broker is polled at most hourly; intraday every 10s
	afterClose := r.calendar.ClosesAt().Add(time.Hour)
	beforeOpen := r.calendar.OpensAt().Add(-2 * time.Hour)
	if now.After(afterClose) || now.Before(beforeOpen) {
		r.nextReloadableTime = floorHour(now.Add(time.Hour))
	} else {
		r.nextReloadableTime = now.Add(10 * time.Second)
	}
	return nil
}

// NextReloadableTime exposes the watermark, mainly for tests.
func (r *PortfolioReconciler) NextReloadableTime() time.Time { return r.nextReloadableTime }

func (r *PortfolioReconciler) loadProfile(ctx context.Context) error {
	posInfos, err := r.broker.Positions(ctx)
	if err != nil {
		return err
	}
	portInfo, err := r.broker.Portfolio(ctx)
	if err != nil {
		return err
	}
	acctInfo, err := r.broker.Account(ctx)
	if err != nil {
		return err
	}

	totalCash := acctInfo.Cash + acctInfo.UnsettledFunds
	portfolioValue := portInfo.Equity
	buyingPower := portInfo.Equity - portInfo.MarketValue - acctInfo.CashHeldForOrders

	if !r.started {
		r.startingCash = portfolioValue
		r.startDate = r.clock()
		r.started = true
	}

	returns := 0.0
	if r.startingCash > 0 {
		returns = (portfolioValue - r.startingCash) / r.startingCash
	}

	longValue := 0.0
	shortValue := 0.0
	unrealizedPL := 0.0
	positions := map[*Security]*Position{}

	for _, raw := range posInfos {
		amount := int(raw.Quantity)
		if amount == 0 {
			continue
		}
		detail := raw.Instrument
		sec, err := r.securities.fetchAndBuild(ctx, raw.Symbol, &detail)
		if err != nil {
			return err
		}

		lastPrice := r.resolvePrice(ctx, sec)
		costBasis := raw.AverageBuyPrice
		positions[sec] = &Position{
			Amount:        amount,
			CostBasis:     costBasis,
			LastSalePrice: lastPrice,
			CreatedAt:     raw.CreatedAt,
		}

		if amount > 0 {
			unrealizedPL += (lastPrice * float64(amount)) - (costBasis * float64(amount))
			longValue += costBasis * float64(amount)
		} else {
			abs := math.Abs(float64(amount))
			unrealizedPL += (costBasis * abs) - (lastPrice * abs)
			shortValue += costBasis * abs
		}
	}

	pnl := r.pnl(ProfileFigures{
		Equity:              portInfo.Equity,
		UnclearedDeposits:   acctInfo.UnclearedDeposits,
		EquityPreviousClose: portInfo.EquityPreviousClose,
		UnrealizedPL:        unrealizedPL,
		UnsettledFunds:      acctInfo.UnsettledFunds,
	})

	leverage := 0.0
	netLeverage := 0.0
	cushion := 0.0
	if portfolioValue > 0 {
		leverage = (longValue + shortValue) / portfolioValue
		netLeverage = portInfo.MarketValue / portfolioValue
		cushion = totalCash / portfolioValue
	}

	portfolio := &Portfolio{
		CapitalUsed:    math.Abs(shortValue - longValue),
		Cash:           totalCash,
		PnL:            pnl,
		Positions:      positions,
		PortfolioValue: portfolioValue,
		PositionsValue: portInfo.MarketValue,
		Returns:        returns,
		StartingCash:   r.startingCash,
		StartDate:      r.startDate,
	}

	account := &Account{
		AvailableFunds:               portfolioValue,
		BuyingPower:                  buyingPower,
		Cushion:                      cushion,
		DayTradesRemaining:           math.Inf(1),
		EquityWithLoan:               portfolioValue,
		ExcessLiquidity:              portInfo.ExcessMargin,
		InitialMarginRequirement:     acctInfo.MarginLimit,
		Leverage:                     leverage,
		MaintenanceMarginRequirement: portfolioValue - portInfo.ExcessMargin,
		NetLeverage:                  netLeverage,
		NetLiquidation:               portfolioValue,
		SettledCash:                  acctInfo.Cash,
		TotalPositionsValue:          portInfo.MarketValue,
	}

	// both snapshots are complete; only now does the Context see them
	r.target.Portfolio = portfolio
	r.target.Account = account
	observ.IncCounter("reconcile_success_total", nil)
	observ.SetGauge("portfolio_value", portfolioValue, nil)
	observ.SetGauge("portfolio_cash", totalCash, nil)
	observ.SetGauge("positions_held", float64(len(positions)), nil)
	return nil
}

// resolvePrice fetches the current price for a position's security: one
// retry on failure, then the last successfully observed price.
func (r *PortfolioReconciler) resolvePrice(ctx context.Context, sec *Security) float64 {
	bar := r.cache.Current(ctx, sec)
	if !bar.HasPrice() {
		bar = r.cache.Current(ctx, sec)
	}
	if !bar.HasPrice() {
		if last, ok := r.lastKnownPrice[sec]; ok {
			observ.Log("price_fallback_last_known", map[string]any{"symbol": sec.Symbol, "price": last})
			return last
		}
		return bar.Price
	}
	r.lastKnownPrice[sec] = bar.Price
	return bar.Price
}

// floorHour truncates t to the top of its hour.
func floorHour(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}
