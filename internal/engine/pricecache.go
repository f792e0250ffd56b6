package engine

import (
	"context"
	"sync"
	"time"

	"github.com/Rajchodisetti/tradeloop/internal/broker"
	"github.com/Rajchodisetti/tradeloop/internal/observ"
	"github.com/Rajchodisetti/tradeloop/internal/quotes"
)

// feedReadySecond: the upstream minute-bar feed is not guaranteed ready in
// the first seconds of a minute; reads block until this second.
const feedReadySecond = 10

// PriceCache is a synchronized read-through cache of the most recent bar per
// security. Cached history is served as-is; the live fields (price, bid,
// ask) are refreshed on every read. One mutex guards the whole
// refresh-and-read sequence for the cache instance, serializing concurrent
// callers; a caller may block for the duration of another caller's refresh,
// including the feed-readiness wait.
//
// A read never fails: a security the feed knows nothing about yields a bar
// with NaN prices and zero volume.
type PriceCache struct {
	mu        sync.Mutex
	broker    broker.Client
	source    quotes.BarSource
	frequency quotes.Frequency

	bars map[*Security]quotes.Bar
	// instant of the last successful live overlay per security; a second
	// read within the same second reuses the overlay instead of re-fetching
	overlayAt map[*Security]time.Time

	clock func() time.Time
	sleep func(time.Duration)
}

func NewPriceCache(b broker.Client, src quotes.BarSource, freq quotes.Frequency) *PriceCache {
	return &PriceCache{
		broker:    b,
		source:    src,
		frequency: freq,
		bars:      map[*Security]quotes.Bar{},
		overlayAt: map[*Security]time.Time{},
		clock:     time.Now,
		sleep:     time.Sleep,
	}
}

// Invalidate drops all cached bars. The engine calls this at the top of
// every cycle so each cycle reads fresh history.
func (c *PriceCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bars = map[*Security]quotes.Bar{}
	c.overlayAt = map[*Security]time.Time{}
}

// Current returns the latest bar for one security, never more than one
// feed-refresh-interval stale. The whole sequence (readiness wait, miss
// seeding, live overlay) runs under the cache mutex.
func (c *PriceCache) Current(ctx context.Context, security *Security) quotes.Bar {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.waitForFeed()
	return c.refreshLocked(ctx, security)
}

// CurrentAll is Current for a list of securities; one locked pass covers
// all of them, so concurrent callers observe a single coherent snapshot.
func (c *PriceCache) CurrentAll(ctx context.Context, securities []*Security) map[*Security]quotes.Bar {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.waitForFeed()
	out := make(map[*Security]quotes.Bar, len(securities))
	for _, sec := range securities {
		out[sec] = c.refreshLocked(ctx, sec)
	}
	return out
}

// waitForFeed suspends the caller until second 10 of the current minute.
func (c *PriceCache) waitForFeed() {
	if s := c.clock().Second(); s < feedReadySecond {
		c.sleep(time.Duration(feedReadySecond-s) * time.Second)
	}
}

func (c *PriceCache) refreshLocked(ctx context.Context, security *Security) quotes.Bar {
	bar, ok := c.bars[security]
	if !ok {
		bar = c.seedBar(ctx, security)
		observ.IncCounter("price_cache_miss_total", map[string]string{"symbol": security.Symbol})
	} else {
		observ.IncCounter("price_cache_hit_total", map[string]string{"symbol": security.Symbol})
	}

	// live overlay: refresh price/bid/ask in place, OHLCV of the closed bar
	// is never altered. A read in the same second as the last successful
	// overlay reuses it, so serialized concurrent callers observe the same
	// values off a single upstream fetch.
	now := c.clock()
	if at, ok := c.overlayAt[security]; ok && at.Truncate(time.Second).Equal(now.Truncate(time.Second)) {
		return bar
	}

	q, err := c.broker.Quote(ctx, security.Symbol)
	if err != nil {
		// keep the last-known overlay values
		observ.LogError("live_quote_failed", err, map[string]any{"symbol": security.Symbol})
	} else {
		bar.Price = q.LastTradePrice
		bar.BidPrice = q.BidPrice
		bar.BidSize = q.BidSize
		bar.AskPrice = q.AskPrice
		bar.AskSize = q.AskSize
		c.overlayAt[security] = now
	}

	c.bars[security] = bar
	return bar
}

// seedBar resolves a base bar for a cache miss: one history bar at the
// configured frequency, or a synthesized all-NaN bar when the feed has
// nothing, rather than failing the read.
func (c *PriceCache) seedBar(ctx context.Context, security *Security) quotes.Bar {
	series, err := c.source.FetchBars(ctx, []string{security.Symbol}, 1, c.frequency)
	if err != nil {
		observ.LogError("bar_seed_failed", err, map[string]any{"symbol": security.Symbol})
	}
	if bars := series[security.Symbol]; len(bars) > 0 {
		return bars[len(bars)-1]
	}
	return quotes.EmptyBar(c.clock().Truncate(time.Minute))
}

// History fetches barCount bars at the given frequency straight from the
// quote source, bypassing the cache.
func (c *PriceCache) History(ctx context.Context, securities []*Security, barCount int, frequency quotes.Frequency) (map[*Security][]quotes.Bar, error) {
	symbols := make([]string, len(securities))
	bySym := make(map[string]*Security, len(securities))
	for i, sec := range securities {
		symbols[i] = sec.Symbol
		bySym[sec.Symbol] = sec
	}
	series, err := c.source.FetchBars(ctx, symbols, barCount, frequency)
	if err != nil {
		return nil, err
	}
	out := make(map[*Security][]quotes.Bar, len(series))
	for sym, bars := range series {
		if sec, ok := bySym[sym]; ok {
			out[sec] = bars
		}
	}
	return out, nil
}
