// Package engine drives a trading algorithm against a live market session:
// a self-re-arming wall-clock scheduler, a rate-limited view of account,
// portfolio and price state, and exception isolation around the algorithm
// callbacks.
package engine

import (
	"math"
	"time"

	"github.com/Rajchodisetti/tradeloop/internal/broker"
)

// Context is the mutable state visible to the algorithm. The engine owns it;
// Account and Portfolio are replaced wholesale once per reconciliation cycle,
// never mutated field by field.
type Context struct {
	IsMarketOpen bool
	Account      *Account
	Portfolio    *Portfolio
}

// Security identifies one tradable instrument. Immutable after construction
// and cached per symbol for the process lifetime, so pointer identity is
// meaningful.
type Security struct {
	Symbol       string
	SimpleName   string
	MinTickSize  float64 // 0 when unconstrained
	IsTradeable  bool
	SecurityType string
	Detail       broker.InstrumentDetail
}

// PriceRoundUpByTick rounds price up to the instrument's tick grid.
func (s *Security) PriceRoundUpByTick(price float64) float64 {
	if s.MinTickSize == 0 {
		return price
	}
	return round7(math.Ceil(price/s.MinTickSize) * s.MinTickSize)
}

// PriceRoundDownByTick rounds price down to the instrument's tick grid.
func (s *Security) PriceRoundDownByTick(price float64) float64 {
	if s.MinTickSize == 0 {
		return price
	}
	return round7(math.Floor(price/s.MinTickSize) * s.MinTickSize)
}

func round7(f float64) float64 {
	return math.Round(f*1e7) / 1e7
}

// OrderType selects market, limit, stop, or stop-limit execution. The zero
// value is a market order.
type OrderType struct {
	Price     *float64
	StopPrice *float64
}

// IsMarketOrder reports whether neither price constraint is set.
func (o OrderType) IsMarketOrder() bool {
	return o.Price == nil && o.StopPrice == nil
}

// MarketOrder returns the zero OrderType, spelled out for readability.
func MarketOrder() OrderType { return OrderType{} }

// LimitOrder returns an OrderType with a limit price.
func LimitOrder(price float64) OrderType { return OrderType{Price: &price} }

// StopOrder returns an OrderType with a stop trigger price.
func StopOrder(stop float64) OrderType { return OrderType{StopPrice: &stop} }

// OrderStatus is the canonical closed set of order states.
type OrderStatus int

const (
	OrderOpen OrderStatus = iota
	OrderFilled
	OrderCancelled
	OrderRejected
	OrderHeld
	OrderFailed
)

func (s OrderStatus) String() string {
	switch s {
	case OrderOpen:
		return "open"
	case OrderFilled:
		return "filled"
	case OrderCancelled:
		return "cancelled"
	case OrderRejected:
		return "rejected"
	case OrderHeld:
		return "held"
	default:
		return "failed"
	}
}

// Order is the canonical order representation. Amount and Filled are signed:
// negative means sell. Orders are never mutated after construction; re-fetch
// to observe a fresh snapshot.
type Order struct {
	ID             string
	Status         OrderStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Stop           *float64
	Limit          *float64
	Amount         int
	Symbol         string
	Filled         int
	Commission     float64
	RejectedReason string
	TimeInForce    string
}

// Position is one open holding. Amount is signed; zero-amount positions are
// filtered out at reconciliation time and never stored.
type Position struct {
	Amount        int
	CostBasis     float64
	LastSalePrice float64
	CreatedAt     time.Time
}

// Portfolio aggregates the account's holdings. Fully replaced each
// reconciliation cycle.
type Portfolio struct {
	CapitalUsed    float64
	Cash           float64
	PnL            float64
	Positions      map[*Security]*Position
	PortfolioValue float64
	PositionsValue float64
	Returns        float64
	StartingCash   float64
	StartDate      time.Time
}

// Account carries broker-level risk and margin figures. Same
// replace-wholesale lifecycle as Portfolio.
type Account struct {
	AccruedInterest              float64
	AvailableFunds               float64
	BuyingPower                  float64
	Cushion                      float64
	DayTradesRemaining           float64
	EquityWithLoan               float64
	ExcessLiquidity              float64
	InitialMarginRequirement     float64
	Leverage                     float64
	MaintenanceMarginRequirement float64
	NetLeverage                  float64
	NetLiquidation               float64
	SettledCash                  float64
	TotalPositionsValue          float64
}
