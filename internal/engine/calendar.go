package engine

import (
	"context"
	"time"

	"github.com/Rajchodisetti/tradeloop/internal/broker"
	"github.com/Rajchodisetti/tradeloop/internal/observ"
)

// MarketCalendar resolves today's open/close instants from the broker and
// derives the current open/closed verdict. It keeps the last successfully
// resolved session so callers can fall back to a stale calendar when a
// refresh fails.
type MarketCalendar struct {
	broker broker.Client
	loc    *time.Location
	clock  func() time.Time

	opensAt    time.Time
	closesAt   time.Time
	nextHours  string // ref to the next session resource
	isOpen     bool
	everLoaded bool
}

func NewMarketCalendar(b broker.Client, loc *time.Location) *MarketCalendar {
	if loc == nil {
		loc = time.Local
	}
	return &MarketCalendar{broker: b, loc: loc, clock: time.Now}
}

// Refresh fetches today's session record. When the record lacks open/close
// instants (holiday) it re-queries the next-open-hours resource before
// giving up; on total failure the previous session, if any, is left intact
// and the error is returned. Open/close times are never fabricated.
func (c *MarketCalendar) Refresh(ctx context.Context) error {
	hours, err := c.broker.MarketHours(ctx)
	if err != nil {
		return err
	}
	if !hours.Valid() {
		hours, err = c.broker.NextOpenHours(ctx, hours.NextOpenHoursRef)
		if err != nil {
			return err
		}
	}

	c.opensAt = hours.OpensAt.In(c.loc)
	c.closesAt = hours.ClosesAt.In(c.loc)
	c.nextHours = hours.NextOpenHoursRef
	c.everLoaded = true

	now := c.clock().In(c.loc)
	c.isOpen = !now.Before(c.opensAt) && now.Before(c.closesAt)

	observ.Log("market_hours", map[string]any{
		"opens_at":  c.opensAt.Format(time.RFC3339),
		"closes_at": c.closesAt.Format(time.RFC3339),
		"is_open":   c.isOpen,
	})
	return nil
}

// NextOpenHours resolves the session after the current one, in local time.
func (c *MarketCalendar) NextOpenHours(ctx context.Context) (opens, closes time.Time, err error) {
	hours, err := c.broker.NextOpenHours(ctx, c.nextHours)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return hours.OpensAt.In(c.loc), hours.ClosesAt.In(c.loc), nil
}

// Known reports whether any session has ever been resolved; a stale calendar
// is usable, an unknown one is not.
func (c *MarketCalendar) Known() bool { return c.everLoaded }

// IsOpen returns the verdict derived at the last Refresh.
func (c *MarketCalendar) IsOpen() bool { return c.isOpen }

func (c *MarketCalendar) OpensAt() time.Time  { return c.opensAt }
func (c *MarketCalendar) ClosesAt() time.Time { return c.closesAt }
