package engine

import (
	"context"
	"math"

	"github.com/Rajchodisetti/tradeloop/internal/broker"
	"github.com/Rajchodisetti/tradeloop/internal/observ"
)

// statusFromState maps a broker order-state string onto the canonical
// status set. Total: unrecognized states fall through to OrderFailed.
func statusFromState(state string) OrderStatus {
	switch state {
	case "confirmed", "partially_filled":
		return OrderOpen
	case "filled":
		return OrderFilled
	case "cancelled":
		return OrderCancelled
	case "rejected":
		return OrderRejected
	case "queued", "unconfirmed":
		return OrderHeld
	case "failed":
		return OrderFailed
	default:
		observ.Log("order_state_unrecognized", map[string]any{"state": state})
		return OrderFailed
	}
}

// translateOrder normalizes a raw broker order record into the canonical
// representation: sell quantities become negative, stop/limit prices are
// surfaced only when the trigger/type says they apply.
func translateOrder(raw broker.RawOrder) *Order {
	o := &Order{
		ID:             raw.ID,
		Status:         statusFromState(raw.State),
		CreatedAt:      raw.CreatedAt,
		UpdatedAt:      raw.UpdatedAt,
		Amount:         int(raw.Quantity),
		Symbol:         raw.Symbol,
		Filled:         int(raw.CumulativeQuantity),
		Commission:     raw.Fees,
		RejectedReason: raw.RejectReason,
		TimeInForce:    raw.TimeInForce,
	}
	if raw.Trigger == "stop" {
		stop := raw.StopPrice
		o.Stop = &stop
	}
	if raw.Type == "limit" {
		limit := raw.Price
		o.Limit = &limit
	}
	if raw.Side == "sell" {
		o.Amount = -o.Amount
		o.Filled = -o.Filled
	}
	return o
}

// OrderShares places an order for a signed share count (negative = sell).
// A nil-equivalent zero OrderType means market execution. Returns the broker
// order id, or "" when the broker did not acknowledge the order.
func (e *Engine) OrderShares(ctx context.Context, security *Security, shares int, orderType OrderType, timeInForce string) (string, error) {
	if timeInForce == "" {
		timeInForce = "gfd"
	}

	trigger := "immediate"
	if orderType.StopPrice != nil {
		trigger = "stop"
	}
	tranType := "market"
	if orderType.Price != nil {
		tranType = "limit"
	}
	transaction := "buy"
	if shares < 0 {
		transaction = "sell"
	}

	price := orderType.Price
	if shares > 0 && orderType.StopPrice != nil && price == nil {
		// broker collars stop buys; submit the stop price rounded up to
		// the instrument's tick grid as the limit
		p := security.PriceRoundUpByTick(*orderType.StopPrice)
		price = &p
	}
	if price != nil {
		p := math.Round(*price*100) / 100
		price = &p
	}

	ack, err := e.broker.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:      security.Symbol,
		Quantity:    absInt(shares),
		Price:       price,
		StopPrice:   orderType.StopPrice,
		Transaction: transaction,
		Trigger:     trigger,
		Type:        tranType,
		TimeInForce: timeInForce,
	})
	if err != nil {
		return "", err
	}
	if ack.RejectReason != "" {
		observ.Log("order_rejected", map[string]any{
			"symbol": security.Symbol,
			"reason": ack.RejectReason,
		})
	}
	return ack.ID, nil
}

// OrderValue places an order sized by dollar amount: the share count is
// derived from the stop price when present, otherwise the current price.
func (e *Engine) OrderValue(ctx context.Context, security *Security, amount float64, orderType OrderType, timeInForce string) (string, error) {
	var price float64
	if orderType.StopPrice != nil {
		price = *orderType.StopPrice
	} else {
		price = e.cache.Current(ctx, security).Price
	}
	if math.IsNaN(price) || price <= 0 {
		return "", &broker.Error{Kind: "provider_error", Op: "order_value", Message: "no usable price for " + security.Symbol}
	}
	shares := int(amount / price)
	return e.OrderShares(ctx, security, shares, orderType, timeInForce)
}

// GetOrder fetches and translates a single order snapshot.
func (e *Engine) GetOrder(ctx context.Context, id string) (*Order, error) {
	raw, err := e.broker.Order(ctx, id)
	if err != nil {
		return nil, err
	}
	return translateOrder(raw), nil
}

// GetOpenOrders returns Open and Held orders grouped by symbol. With a
// non-nil security only that symbol's orders are returned.
func (e *Engine) GetOpenOrders(ctx context.Context, security *Security) (map[string][]*Order, error) {
	raws, err := e.broker.Orders(ctx)
	if err != nil {
		return nil, err
	}
	open := map[string][]*Order{}
	for _, raw := range raws {
		o := translateOrder(raw)
		if o.Status != OrderOpen && o.Status != OrderHeld {
			continue
		}
		if security != nil && security.Symbol != o.Symbol {
			continue
		}
		open[o.Symbol] = append(open[o.Symbol], o)
	}
	return open, nil
}

// CancelOrder asks the broker to cancel the given order.
func (e *Engine) CancelOrder(ctx context.Context, id string) error {
	return e.broker.CancelOrder(ctx, id)
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
