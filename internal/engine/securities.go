package engine

import (
	"context"
	"sync"

	"github.com/Rajchodisetti/tradeloop/internal/broker"
)

// securityCache holds at most one Security per symbol for the process
// lifetime. Owned by the engine instance, not process-wide, so engines under
// test do not share state.
type securityCache struct {
	mu     sync.Mutex
	broker broker.Client
	bySym  map[string]*Security
}

func newSecurityCache(b broker.Client) *securityCache {
	return &securityCache{broker: b, bySym: map[string]*Security{}}
}

// fetchAndBuild is idempotent: repeat lookups for a symbol return the
// identical instance. detail may be pre-resolved (position reconciles carry
// it); when nil the broker is queried.
func (c *securityCache) fetchAndBuild(ctx context.Context, symbol string, detail *broker.InstrumentDetail) (*Security, error) {
	c.mu.Lock()
	if sec, ok := c.bySym[symbol]; ok {
		c.mu.Unlock()
		return sec, nil
	}
	c.mu.Unlock()

	var d broker.InstrumentDetail
	if detail != nil {
		d = *detail
	} else {
		var err error
		d, err = c.broker.Instrument(ctx, symbol)
		if err != nil {
			return nil, err
		}
	}

	sec := &Security{
		Symbol:       d.Symbol,
		SimpleName:   d.SimpleName,
		MinTickSize:  d.MinTickSize,
		IsTradeable:  d.Tradeable,
		SecurityType: d.Type,
		Detail:       d,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// lost the race: keep the first instance so identity stays stable
	if existing, ok := c.bySym[symbol]; ok {
		return existing, nil
	}
	c.bySym[symbol] = sec
	return sec, nil
}
