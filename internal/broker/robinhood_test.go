package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*RobinhoodClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewRobinhoodClient(RobinhoodConfig{
		BaseURL:            srv.URL,
		Token:              "test-token",
		BackoffBaseMs:      1,
		RateLimitPerMinute: 60000,
	})
	require.NoError(t, err)
	return c, srv
}

func TestMarketHoursParsing(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/markets/hours/today/", r.URL.Path)
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"opens_at":        "2026-03-10T14:30:00Z",
			"closes_at":       "2026-03-10T21:00:00Z",
			"next_open_hours": "/markets/hours/2026-03-11/",
		})
	}))

	h, err := c.MarketHours(context.Background())
	require.NoError(t, err)
	require.True(t, h.Valid())
	require.Equal(t, time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC), h.OpensAt)
	require.Equal(t, time.Date(2026, 3, 10, 21, 0, 0, 0, time.UTC), h.ClosesAt)
	require.Equal(t, "/markets/hours/2026-03-11/", h.NextOpenHoursRef)
}

func TestMarketHoursHolidayHasNoSession(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"next_open_hours": "/markets/hours/2026-03-11/",
		})
	}))

	h, err := c.MarketHours(context.Background())
	require.NoError(t, err)
	require.False(t, h.Valid())
	require.NotEmpty(t, h.NextOpenHoursRef)
}

func TestAccountParsesStringNumbers(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{
				"cash":                 "1234.5600",
				"unsettled_funds":      "10.00",
				"uncleared_deposits":   "",
				"cash_held_for_orders": "5.25",
				"margin_balances":      map[string]any{"margin_limit": "0.00"},
			}},
		})
	}))

	a, err := c.Account(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1234.56, a.Cash)
	require.Equal(t, 10.0, a.UnsettledFunds)
	require.Equal(t, 0.0, a.UnclearedDeposits, "absent figures default to zero")
	require.Equal(t, 5.25, a.CashHeldForOrders)
}

func TestPositionsResolveInstrumentRefOnce(t *testing.T) {
	var instrumentHits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/positions/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"instrument": "/instruments/ref-1/", "quantity": "10.0000", "average_buy_price": "100.00", "created_at": "2026-03-09T15:00:00.000000Z"},
				{"instrument": "/instruments/ref-1/", "quantity": "2.0000", "average_buy_price": "101.00", "created_at": "2026-03-09T16:00:00.000000Z"},
			},
		})
	})
	mux.HandleFunc("/instruments/ref-1/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&instrumentHits, 1)
		json.NewEncoder(w).Encode(map[string]any{
			"symbol": "AAA", "simple_name": "AAA Corp", "min_tick_size": "0.01", "tradeable": true, "type": "stock",
		})
	})
	c, _ := newTestClient(t, mux)

	positions, err := c.Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2)
	require.Equal(t, "AAA", positions[0].Symbol)
	require.Equal(t, 10.0, positions[0].Quantity)
	require.Equal(t, 100.0, positions[0].AverageBuyPrice)
	require.Equal(t, 0.01, positions[0].Instrument.MinTickSize)
	require.Equal(t, int32(1), atomic.LoadInt32(&instrumentHits), "instrument ref cached")

	// and a second reconcile hits the cache too
	_, err = c.Positions(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&instrumentHits))
}

func TestQuoteRejectsEmptyLastTrade(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"symbol": "AAA"})
	}))

	_, err := c.Quote(context.Background(), "AAA")
	var be *Error
	require.ErrorAs(t, err, &be)
	require.Equal(t, "provider_error", be.Kind)
}

func TestPlaceOrderWireFormat(t *testing.T) {
	var got map[string]any
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/orders/", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]any{"id": "ord-1"})
	}))

	price := 10.5
	ack, err := c.PlaceOrder(context.Background(), OrderRequest{
		Symbol:      "AAA",
		Quantity:    4,
		Price:       &price,
		Transaction: "buy",
		Trigger:     "immediate",
		Type:        "limit",
		TimeInForce: "gfd",
	})
	require.NoError(t, err)
	require.Equal(t, "ord-1", ack.ID)

	require.Equal(t, "AAA", got["symbol"])
	require.Equal(t, "4", got["quantity"], "quantity goes over the wire as a string")
	require.Equal(t, "10.5", got["price"])
	require.Equal(t, "buy", got["side"])
	require.NotEmpty(t, got["ref_id"], "idempotency reference generated when absent")
	_, hasStop := got["stop_price"]
	require.False(t, hasStop)
}

func TestAuthFailureIsFatalNotRetried(t *testing.T) {
	var hits int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := c.Account(context.Background())
	var be *Error
	require.ErrorAs(t, err, &be)
	require.Equal(t, "auth", be.Kind)
	require.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestServerErrorRetriesThenSucceeds(t *testing.T) {
	var hits int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{"equity": "2000.00"}},
		})
	}))

	p, err := c.Portfolio(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2000.0, p.Equity)
	require.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestRateLimitExhaustsRetries(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := c.Account(context.Background())
	var be *Error
	require.ErrorAs(t, err, &be)
	require.Equal(t, "rate_limit", be.Kind)
}

func TestInstrumentUnknownSymbol(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"results": []map[string]any{}})
	}))

	_, err := c.Instrument(context.Background(), "NOPE")
	var be *Error
	require.ErrorAs(t, err, &be)
	require.Equal(t, "bad_symbol", be.Kind)
}

func TestMalformedOrderTimestampIsProviderError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":         "o-1",
			"state":      "confirmed",
			"created_at": "not-a-time",
		})
	}))

	_, err := c.Order(context.Background(), "o-1")
	var be *Error
	require.ErrorAs(t, err, &be)
	require.Equal(t, "provider_error", be.Kind)
	require.Contains(t, be.Message, "created_at")
}

func TestAbsentTimestampsDecodeAsZero(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":    "o-2",
			"state": "filled",
		})
	}))

	o, err := c.Order(context.Background(), "o-2")
	require.NoError(t, err)
	require.True(t, o.CreatedAt.IsZero())
	require.True(t, o.UpdatedAt.IsZero())
}

func TestParseFloatTolerance(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"", 0},
		{"garbage", 0},
		{"10.5000", 10.5},
		{"-3.25", -3.25},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, parseFloat(tc.in), "parseFloat(%q)", tc.in)
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := NewNetworkError("/accounts/", "request failed", cause)
	require.ErrorIs(t, err, cause)
}
