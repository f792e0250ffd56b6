package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/tradeloop/internal/broker"
	"github.com/Rajchodisetti/tradeloop/internal/quotes"
)

func TestStatusFromState(t *testing.T) {
	cases := []struct {
		state string
		want  OrderStatus
	}{
		{"confirmed", OrderOpen},
		{"partially_filled", OrderOpen},
		{"filled", OrderFilled},
		{"cancelled", OrderCancelled},
		{"rejected", OrderRejected},
		{"queued", OrderHeld},
		{"unconfirmed", OrderHeld},
		{"failed", OrderFailed},
		{"some_new_state", OrderFailed},
	}
	for _, tc := range cases {
		t.Run(tc.state, func(t *testing.T) {
			require.Equal(t, tc.want, statusFromState(tc.state))
		})
	}
}

func TestTranslateOrderSellNegatesQuantities(t *testing.T) {
	o := translateOrder(broker.RawOrder{
		ID:                 "o-1",
		State:              "partially_filled",
		Side:               "sell",
		Quantity:           5,
		CumulativeQuantity: 2,
		Symbol:             "AAA",
	})
	require.Equal(t, -5, o.Amount)
	require.Equal(t, -2, o.Filled)
	require.Equal(t, OrderOpen, o.Status)
	require.Nil(t, o.Stop)
	require.Nil(t, o.Limit)
}

func TestTranslateOrderSurfacesStopAndLimit(t *testing.T) {
	o := translateOrder(broker.RawOrder{
		ID:        "o-2",
		State:     "confirmed",
		Side:      "buy",
		Quantity:  3,
		Trigger:   "stop",
		Type:      "limit",
		Price:     10.5,
		StopPrice: 10.25,
		Symbol:    "AAA",
	})
	require.NotNil(t, o.Stop)
	require.Equal(t, 10.25, *o.Stop)
	require.NotNil(t, o.Limit)
	require.Equal(t, 10.5, *o.Limit)

	// market order with an immediate trigger carries neither price
	m := translateOrder(broker.RawOrder{State: "confirmed", Type: "market", Trigger: "immediate", Price: 10.5, StopPrice: 10.25})
	require.Nil(t, m.Stop)
	require.Nil(t, m.Limit)
}

func TestOrderSharesMarketBuy(t *testing.T) {
	e, stub, _, _ := newTestEngine(t, quotes.Minute, at(10, 0))
	stub.Ack = broker.OrderAck{ID: "ord-1"}
	sec := testSecurity("AAA")

	id, err := e.OrderShares(context.Background(), sec, 4, MarketOrder(), "")
	require.NoError(t, err)
	require.Equal(t, "ord-1", id)

	require.Len(t, stub.PlacedOrders, 1)
	req := stub.PlacedOrders[0]
	require.Equal(t, "AAA", req.Symbol)
	require.Equal(t, 4, req.Quantity)
	require.Equal(t, "buy", req.Transaction)
	require.Equal(t, "immediate", req.Trigger)
	require.Equal(t, "market", req.Type)
	require.Equal(t, "gfd", req.TimeInForce, "default time in force")
	require.Nil(t, req.Price)
	require.Nil(t, req.StopPrice)
}

func TestOrderSharesSellSubmitsPositiveQuantity(t *testing.T) {
	e, stub, _, _ := newTestEngine(t, quotes.Minute, at(10, 0))
	stub.Ack = broker.OrderAck{ID: "ord-2"}

	_, err := e.OrderShares(context.Background(), testSecurity("AAA"), -7, MarketOrder(), "gtc")
	require.NoError(t, err)

	req := stub.PlacedOrders[0]
	require.Equal(t, 7, req.Quantity)
	require.Equal(t, "sell", req.Transaction)
	require.Equal(t, "gtc", req.TimeInForce)
}

func TestOrderSharesStopBuyCollarsAtTickGrid(t *testing.T) {
	e, stub, _, _ := newTestEngine(t, quotes.Minute, at(10, 0))
	stub.Ack = broker.OrderAck{ID: "ord-3"}
	sec := testSecurity("AAA")
	sec.MinTickSize = 0.05

	_, err := e.OrderShares(context.Background(), sec, 2, StopOrder(10.26), "")
	require.NoError(t, err)

	req := stub.PlacedOrders[0]
	require.Equal(t, "stop", req.Trigger)
	require.Equal(t, "market", req.Type)
	require.NotNil(t, req.StopPrice)
	require.Equal(t, 10.26, *req.StopPrice)
	require.NotNil(t, req.Price, "stop buys carry a collar limit")
	require.Equal(t, 10.3, *req.Price, "stop rounded up to the 0.05 grid")
}

func TestOrderValueDerivesSharesFromCurrentPrice(t *testing.T) {
	e, stub, src, clk := newTestEngine(t, quotes.Minute, at(10, 0))
	stub.Ack = broker.OrderAck{ID: "ord-4"}
	sec := testSecurity("AAA")
	src.SetBars("AAA", []quotes.Bar{historyBar(clk.Now().Add(-time.Minute), 50)})
	stub.Quotes["AAA"] = broker.LiveQuote{Symbol: "AAA", LastTradePrice: 50}

	_, err := e.OrderValue(context.Background(), sec, 175, MarketOrder(), "")
	require.NoError(t, err)
	require.Equal(t, 3, stub.PlacedOrders[0].Quantity, "175/50 floored")
}

func TestOrderValueFailsWithoutUsablePrice(t *testing.T) {
	e, stub, _, _ := newTestEngine(t, quotes.Minute, at(10, 0))
	stub.FailWith("Quote", broker.NewNetworkError("quote", "down", nil))

	_, err := e.OrderValue(context.Background(), testSecurity("AAA"), 100, MarketOrder(), "")
	require.Error(t, err)
	require.Empty(t, stub.PlacedOrders)
}

func TestOrderValueUsesStopPriceWhenPresent(t *testing.T) {
	e, stub, _, _ := newTestEngine(t, quotes.Minute, at(10, 0))
	stub.Ack = broker.OrderAck{ID: "ord-5"}

	_, err := e.OrderValue(context.Background(), testSecurity("AAA"), 100, StopOrder(20), "")
	require.NoError(t, err)
	require.Equal(t, 5, stub.PlacedOrders[0].Quantity)
	require.Equal(t, 0, stub.Calls("Quote"), "no market lookup when a stop price sizes the order")
}

func TestGetOpenOrdersFiltersAndGroups(t *testing.T) {
	e, stub, _, _ := newTestEngine(t, quotes.Minute, at(10, 0))
	stub.RawOrders["a"] = broker.RawOrder{ID: "a", State: "confirmed", Symbol: "AAA", Quantity: 1, Side: "buy"}
	stub.RawOrders["b"] = broker.RawOrder{ID: "b", State: "queued", Symbol: "AAA", Quantity: 2, Side: "buy"}
	stub.RawOrders["c"] = broker.RawOrder{ID: "c", State: "filled", Symbol: "AAA", Quantity: 3, Side: "buy"}
	stub.RawOrders["d"] = broker.RawOrder{ID: "d", State: "confirmed", Symbol: "BBB", Quantity: 4, Side: "buy"}

	all, err := e.GetOpenOrders(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, all["AAA"], 2, "filled order excluded")
	require.Len(t, all["BBB"], 1)

	only, err := e.GetOpenOrders(context.Background(), testSecurity("BBB"))
	require.NoError(t, err)
	require.Len(t, only, 1)
	require.Equal(t, "d", only["BBB"][0].ID)
}

func TestGetOrderTranslates(t *testing.T) {
	e, stub, _, _ := newTestEngine(t, quotes.Minute, at(10, 0))
	stub.RawOrders["x"] = broker.RawOrder{ID: "x", State: "filled", Symbol: "AAA", Quantity: 2, CumulativeQuantity: 2, Side: "sell"}

	o, err := e.GetOrder(context.Background(), "x")
	require.NoError(t, err)
	require.Equal(t, OrderFilled, o.Status)
	require.Equal(t, -2, o.Amount)
	require.Equal(t, -2, o.Filled)
}

func TestCancelOrderForwards(t *testing.T) {
	e, stub, _, _ := newTestEngine(t, quotes.Minute, at(10, 0))
	require.NoError(t, e.CancelOrder(context.Background(), "x"))
	require.Equal(t, []string{"x"}, stub.Cancelled)
}
