// Package stubs provides a local stand-in for the brokerage REST API so the
// engine can be exercised end to end without credentials or market access.
package stubs

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// BrokerServer serves canned broker payloads in the live wire format:
// numbers as decimal strings, session instants in UTC.
type BrokerServer struct {
	mu sync.Mutex

	OpensAt  time.Time
	ClosesAt time.Time

	Cash       float64
	Equity     float64
	PrevEquity float64
	Market     float64

	Quotes    map[string]float64 // symbol -> last trade price
	orderSeq  int
	orders    map[string]map[string]any
}

// NewBrokerServer returns a server whose session brackets the current hour,
// convenient for poking the engine locally.
func NewBrokerServer() *BrokerServer {
	now := time.Now().UTC()
	return &BrokerServer{
		OpensAt:    now.Add(-1 * time.Hour),
		ClosesAt:   now.Add(6 * time.Hour),
		Cash:       25000,
		Equity:     31200.55,
		PrevEquity: 30950.10,
		Market:     6200.55,
		Quotes: map[string]float64{
			"AAPL": 206.80,
			"NVDA": 450.00,
		},
		orders: map[string]map[string]any{},
	}
}

func (s *BrokerServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/markets/hours/today/", s.handleHours)
	mux.HandleFunc("/markets/hours/next/", s.handleHours)
	mux.HandleFunc("/accounts/", s.handleAccounts)
	mux.HandleFunc("/portfolios/", s.handlePortfolios)
	mux.HandleFunc("/positions/", s.handlePositions)
	mux.HandleFunc("/instruments/", s.handleInstruments)
	mux.HandleFunc("/quotes/", s.handleQuotes)
	mux.HandleFunc("/orders/", s.handleOrders)
	return mux
}

func (s *BrokerServer) handleHours(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"opens_at":        s.OpensAt.Format("2006-01-02T15:04:05Z"),
		"closes_at":       s.ClosesAt.Format("2006-01-02T15:04:05Z"),
		"next_open_hours": "/markets/hours/next/",
	})
}

func (s *BrokerServer) handleAccounts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, results(map[string]any{
		"cash":                 num(s.Cash),
		"unsettled_funds":      "0.00",
		"uncleared_deposits":   "0.00",
		"cash_held_for_orders": "0.00",
		"margin_balances":      map[string]any{"margin_limit": "0.00"},
	}))
}

func (s *BrokerServer) handlePortfolios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, results(map[string]any{
		"market_value":          num(s.Market),
		"equity":                num(s.Equity),
		"equity_previous_close": num(s.PrevEquity),
		"excess_margin":         num(s.Equity * 0.8),
	}))
}

func (s *BrokerServer) handlePositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, results(map[string]any{
		"instrument":        "/instruments/AAPL/",
		"quantity":          "10.0000",
		"average_buy_price": "180.0000",
		"created_at":        "2026-01-05T14:30:00.000000Z",
	}))
}

func (s *BrokerServer) handleInstruments(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/instruments/"), "/")
	if symbol == "" {
		symbol = r.URL.Query().Get("symbol")
	}
	inst := map[string]any{
		"symbol":        symbol,
		"simple_name":   symbol + " Inc",
		"min_tick_size": "0.01",
		"tradeable":     true,
		"type":          "stock",
	}
	if r.URL.Query().Get("symbol") != "" {
		writeJSON(w, results(inst))
		return
	}
	// instrument-by-ref returns the bare record
	writeJSON(w, inst)
}

func (s *BrokerServer) handleQuotes(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/quotes/"), "/")
	s.mu.Lock()
	last, ok := s.Quotes[symbol]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, map[string]any{
		"symbol":           symbol,
		"last_trade_price": num(last),
		"bid_price":        num(last - 0.05),
		"bid_size":         "200",
		"ask_price":        num(last + 0.05),
		"ask_size":         "300",
	})
}

func (s *BrokerServer) handleOrders(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rest := strings.TrimPrefix(r.URL.Path, "/orders/")
	switch {
	case r.Method == http.MethodPost && rest == "":
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		s.orderSeq++
		id := fmt.Sprintf("stub-order-%d", s.orderSeq)
		order := map[string]any{
			"id":                  id,
			"state":               "confirmed",
			"created_at":          time.Now().UTC().Format("2006-01-02T15:04:05.000000Z"),
			"updated_at":          time.Now().UTC().Format("2006-01-02T15:04:05.000000Z"),
			"trigger":             req["trigger"],
			"type":                req["type"],
			"price":               req["price"],
			"stop_price":          req["stop_price"],
			"quantity":            req["quantity"],
			"cumulative_quantity": "0",
			"side":                req["side"],
			"symbol":              req["symbol"],
			"fees":                "0.00",
			"reject_reason":       "",
			"time_in_force":       req["time_in_force"],
		}
		s.orders[id] = order
		writeJSON(w, map[string]any{"id": id, "reject_reason": ""})
	case r.Method == http.MethodPost && strings.HasSuffix(rest, "/cancel/"):
		id := strings.TrimSuffix(rest, "/cancel/")
		if o, ok := s.orders[id]; ok {
			o["state"] = "cancelled"
		}
		writeJSON(w, map[string]any{})
	case rest == "":
		all := make([]map[string]any, 0, len(s.orders))
		for _, o := range s.orders {
			all = append(all, o)
		}
		writeJSON(w, map[string]any{"results": all})
	default:
		id := strings.TrimSuffix(rest, "/")
		o, ok := s.orders[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, o)
	}
}

func results(items ...map[string]any) map[string]any {
	return map[string]any{"results": items}
}

func num(f float64) string {
	return fmt.Sprintf("%.4f", f)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
