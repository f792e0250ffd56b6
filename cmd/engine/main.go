package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Rajchodisetti/tradeloop/internal/broker"
	"github.com/Rajchodisetti/tradeloop/internal/config"
	"github.com/Rajchodisetti/tradeloop/internal/engine"
	"github.com/Rajchodisetti/tradeloop/internal/observ"
	"github.com/Rajchodisetti/tradeloop/internal/quotes"
)

// demoAlgo is a placeholder strategy that watches one symbol and logs what
// the engine hands it. Replace with a real Algorithm implementation.
type demoAlgo struct {
	watch *engine.Security
}

func (a *demoAlgo) Initialize(ctx *engine.Context, data *engine.DataAccessor) error {
	observ.Log("algo_initialized", map[string]any{"market_open": ctx.IsMarketOpen})
	return nil
}

func (a *demoAlgo) OnMarketOpen(ctx *engine.Context, data *engine.DataAccessor) error {
	observ.Log("algo_market_open", map[string]any{
		"cash":  ctx.Portfolio.Cash,
		"value": ctx.Portfolio.PortfolioValue,
	})
	return nil
}

func (a *demoAlgo) HandleData(ctx *engine.Context, data *engine.DataAccessor) error {
	if a.watch == nil {
		return nil
	}
	bar := data.Current(context.Background(), a.watch)
	observ.Log("algo_tick", map[string]any{
		"symbol": a.watch.Symbol,
		"price":  bar.Price,
		"bid":    bar.BidPrice,
		"ask":    bar.AskPrice,
	})
	return nil
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	watchSymbol := flag.String("watch", "AAPL", "symbol for the demo algorithm to watch")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	loc, err := time.LoadLocation(cfg.Engine.Timezone)
	if err != nil {
		log.Fatalf("load timezone %s: %v", cfg.Engine.Timezone, err)
	}

	brokerClient, err := broker.NewRobinhoodClient(broker.RobinhoodConfig{
		BaseURL:            cfg.Broker.BaseURL,
		Token:              os.Getenv(cfg.Broker.TokenEnv),
		TimeoutMs:          cfg.Broker.TimeoutMs,
		MaxRetries:         cfg.Broker.MaxRetries,
		BackoffBaseMs:      cfg.Broker.BackoffBaseMs,
		RateLimitPerMinute: cfg.Broker.RateLimitPerMinute,
	})
	if err != nil {
		log.Fatalf("broker client: %v", err)
	}

	var source quotes.BarSource
	switch cfg.Quotes.Provider {
	case "mock":
		source = quotes.NewMockSource()
	default:
		source, err = quotes.NewAlphaVantageSource(quotes.AlphaVantageConfig{
			APIKey:             os.Getenv(cfg.Quotes.APIKeyEnv),
			BaseURL:            cfg.Quotes.BaseURL,
			TimeoutMs:          cfg.Quotes.TimeoutMs,
			RateLimitPerMinute: cfg.Quotes.RateLimitPerMinute,
		})
		if err != nil {
			log.Fatalf("quote source: %v", err)
		}
	}

	eng, err := engine.New(engine.Options{
		Broker:    brokerClient,
		Source:    source,
		Frequency: quotes.Frequency(cfg.Engine.DataFrequency),
		Location:  loc,
		Tick:      time.Duration(cfg.Engine.TickMs) * time.Millisecond,
		PnL:       pnlPolicy(cfg.Engine.PnLPolicy),
	})
	if err != nil {
		log.Fatalf("engine: %v", err)
	}

	algo := &demoAlgo{}
	if *watchSymbol != "" {
		sec, err := eng.LookupSecurity(context.Background(), *watchSymbol)
		if err != nil {
			log.Printf("lookup %s: %v (demo algo will idle)", *watchSymbol, err)
		} else {
			algo.watch = sec
		}
	}

	if err := eng.SetActiveAlgo(context.Background(), algo); err != nil {
		log.Fatalf("set active algo: %v", err)
	}
	if err := eng.Start(); err != nil {
		log.Fatalf("start engine: %v", err)
	}

	if cfg.Engine.MetricsAddr != "" {
		metrics := observ.NewMetricsServer(cfg.Engine.MetricsAddr)
		metrics.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = metrics.Stop(shutdownCtx)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		observ.Log("shutdown_signal", map[string]any{"signal": sig.String()})
		eng.Stop()
	case <-eng.Stalled():
		// distinct from a network hiccup: the loop has died
		log.Fatal("engine scheduler stalled; exiting")
	}
}

func pnlPolicy(name string) engine.PnLPolicy {
	if name == "settlement" {
		return engine.SettlementPnL
	}
	return engine.EquityChangePnL
}
