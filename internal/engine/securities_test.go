package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/tradeloop/internal/broker"
	"github.com/Rajchodisetti/tradeloop/internal/quotes"
)

func TestLookupSecurityIdempotent(t *testing.T) {
	e, stub, _, _ := newTestEngine(t, quotes.Minute, at(10, 0))
	stub.Instruments["AAA"] = broker.InstrumentDetail{
		Symbol:      "AAA",
		SimpleName:  "AAA Corp",
		MinTickSize: 0.01,
		Tradeable:   true,
		Type:        "stock",
	}

	first, err := e.LookupSecurity(context.Background(), "AAA")
	require.NoError(t, err)
	require.Equal(t, "AAA", first.Symbol)
	require.Equal(t, 0.01, first.MinTickSize)
	require.True(t, first.IsTradeable)

	second, err := e.LookupSecurity(context.Background(), "AAA")
	require.NoError(t, err)
	require.Same(t, first, second, "repeat lookups return the identical instance")
	require.Equal(t, 1, stub.Calls("Instrument"), "instrument fetched once")
}

func TestLookupSecurityPropagatesBrokerError(t *testing.T) {
	e, stub, _, _ := newTestEngine(t, quotes.Minute, at(10, 0))
	stub.FailWith("Instrument", errors.New("instrument endpoint down"))

	_, err := e.LookupSecurity(context.Background(), "AAA")
	require.Error(t, err)

	// failures are not cached; a later lookup succeeds
	stub.FailWith("Instrument", nil)
	stub.Instruments["AAA"] = broker.InstrumentDetail{Symbol: "AAA", Tradeable: true}
	sec, err := e.LookupSecurity(context.Background(), "AAA")
	require.NoError(t, err)
	require.Equal(t, "AAA", sec.Symbol)
}

func TestFetchAndBuildPreResolvedDetailSkipsBroker(t *testing.T) {
	e, stub, _, _ := newTestEngine(t, quotes.Minute, at(10, 0))
	detail := broker.InstrumentDetail{Symbol: "BBB", Tradeable: true, Type: "stock"}

	sec, err := e.securities.fetchAndBuild(context.Background(), "BBB", &detail)
	require.NoError(t, err)
	require.Equal(t, "BBB", sec.Symbol)
	require.Equal(t, 0, stub.Calls("Instrument"))
}

func TestLookupSecurityConcurrentSingleInstance(t *testing.T) {
	e, stub, _, _ := newTestEngine(t, quotes.Minute, at(10, 0))
	stub.Instruments["AAA"] = broker.InstrumentDetail{Symbol: "AAA", Tradeable: true}

	const n = 16
	out := make([]*Security, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sec, err := e.LookupSecurity(context.Background(), "AAA")
			require.NoError(t, err)
			out[i] = sec
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		require.Same(t, out[0], out[i])
	}
}
