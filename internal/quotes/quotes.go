// Package quotes provides historical bar data from external quote providers.
package quotes

import (
	"context"
	"math"
	"time"
)

// Frequency is the bar sampling interval.
type Frequency string

const (
	Minute Frequency = "1m"
	Hour   Frequency = "1h"
	Day    Frequency = "1d"
)

// Valid reports whether f is a supported frequency.
func (f Frequency) Valid() bool {
	switch f {
	case Minute, Hour, Day:
		return true
	}
	return false
}

// Interval returns the bar width as a duration.
func (f Frequency) Interval() time.Duration {
	switch f {
	case Hour:
		return time.Hour
	case Day:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Bar is one time-indexed quote record. Price mirrors Close for historical
// bars and is overwritten by the live overlay; bid/ask fields are NaN until
// a live quote has been seen.
type Bar struct {
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Price     float64
	Volume    int64
	Timestamp time.Time
	BidPrice  float64
	BidSize   float64
	AskPrice  float64
	AskSize   float64
}

// EmptyBar returns a placeholder bar at ts with every numeric field NaN and
// zero volume. Used when a provider has nothing for a symbol; callers must
// not treat it as a fetch failure.
func EmptyBar(ts time.Time) Bar {
	nan := math.NaN()
	return Bar{
		Open: nan, High: nan, Low: nan, Close: nan, Price: nan,
		Volume:    0,
		Timestamp: ts,
		BidPrice:  nan, BidSize: nan, AskPrice: nan, AskSize: nan,
	}
}

// HasPrice reports whether the bar carries a usable live/close price.
func (b Bar) HasPrice() bool {
	return !math.IsNaN(b.Price) && b.Price > 0
}

// BarSource fetches historical bar series per symbol. Implementations may
// return partial results: a symbol absent from the map means the provider
// had nothing for it, which is not an error.
type BarSource interface {
	FetchBars(ctx context.Context, symbols []string, barCount int, frequency Frequency) (map[string][]Bar, error)
}
