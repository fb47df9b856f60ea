// Replay pushes a fixture feed of disclosures through the full
// pipeline against the paper broker and prints what would have traded.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/momentumalpha/trading-engine/internal/announce"
	"github.com/momentumalpha/trading-engine/internal/broker"
	"github.com/momentumalpha/trading-engine/internal/classify"
	"github.com/momentumalpha/trading-engine/internal/config"
	"github.com/momentumalpha/trading-engine/internal/observ"
	"github.com/momentumalpha/trading-engine/internal/order"
	"github.com/momentumalpha/trading-engine/internal/pipeline"
	"github.com/momentumalpha/trading-engine/internal/recordstore"
	"github.com/momentumalpha/trading-engine/internal/risk"
	"github.com/momentumalpha/trading-engine/internal/strategy"
)

type pricesFile struct {
	Prices []struct {
		Symbol     string  `json:"symbol"`
		Price      float64 `json:"price"`
		Volatility float64 `json:"volatility"`
		Depth      int64   `json:"depth"`
	} `json:"prices"`
}

func mustRead(path string, v any) {
	b, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read %s: %v", path, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		log.Fatalf("json %s: %v", path, err)
	}
}

func main() {
	log.SetFlags(0)

	var cfgPath, feedPath, pricesPath, storePath string
	flag.StringVar(&cfgPath, "config", "config/config.yaml", "config path")
	flag.StringVar(&feedPath, "feed", "fixtures/announcements.jsonl", "announcement fixture, jsonl")
	flag.StringVar(&pricesPath, "prices", "fixtures/prices.json", "paper market seed prices")
	flag.StringVar(&storePath, "store", "", "sqlite path override (default in-memory)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	observ.SetDebug(cfg.Debug)

	// Replay defaults to a throwaway store so runs stay repeatable.
	if storePath == "" {
		storePath = "file::memory:?cache=shared"
	}
	store, err := recordstore.New(storePath)
	if err != nil {
		log.Fatalf("recordstore: %v", err)
	}
	defer store.Close()

	var symbols *classify.SymbolTable
	if cfg.Symbols != "" {
		symbols, err = classify.LoadSymbolTable(cfg.Symbols)
		if err != nil {
			log.Fatalf("symbol table: %v", err)
		}
	} else {
		symbols = classify.NewSymbolTable(nil)
	}

	brk := broker.NewSimulator(cfg.CapitalBase)
	var pf pricesFile
	mustRead(pricesPath, &pf)
	for _, p := range pf.Prices {
		brk.Seed(p.Symbol, p.Price, p.Volatility, p.Depth)
	}

	ks := risk.NewKillSwitch()
	gate := risk.NewGate(risk.Config{
		MaxDailyTrades:          cfg.Risk.MaxDailyTrades,
		MaxWeeklyTrades:         cfg.Risk.MaxWeeklyTrades,
		MaxPortfolioRisk:        cfg.Risk.MaxPortfolioRisk,
		CircuitBreakerThreshold: cfg.Risk.CircuitBreakerThreshold,
		VIXThreshold:            cfg.Risk.VIXThreshold,
		MinBookDepth:            cfg.Risk.MinBookDepth,
		Capital:                 cfg.CapitalBase,
		CallTimeout:             time.Duration(cfg.Broker.TimeoutMs) * time.Millisecond,
	}, ks, brk)

	cls := classify.NewClassifier(classify.Config{
		Rules: classify.Rules{
			Primary:   cfg.Classifier.Keywords.Primary,
			Secondary: cfg.Classifier.Keywords.Secondary,
			Negation:  cfg.Classifier.Keywords.Negation,
		},
		MinOrderValue:       cfg.Classifier.MinOrderValue,
		ConfidenceThreshold: cfg.Classifier.ConfidenceThreshold,
	}, symbols)

	calc := strategy.NewCalculator(store, strategy.Config{
		LookbackDays:            cfg.Strategy.LookbackDays,
		MinHistoricalDataPoints: cfg.Strategy.MinHistoricalDataPoints,
		TargetMultiplier:        cfg.Strategy.TargetMultiplier,
		VolatilityMultiplier:    cfg.Strategy.VolatilityMultiplier,
		MaxHoldingPeriodDays:    cfg.Strategy.MaxHoldingPeriodDays,
		MaxPositionSize:         cfg.Strategy.MaxPositionSize,
		RiskPerTrade:            cfg.Strategy.RiskPerTrade,
	})

	mgr := order.NewManager(brk, gate, ks, store, order.Config{
		PollInterval:      10 * time.Millisecond, // fast-forward the monitor clock
		CallTimeout:       time.Duration(cfg.Broker.TimeoutMs) * time.Millisecond,
		MaxSubmitAttempts: cfg.Broker.MaxRetries,
		BackoffBase:       time.Duration(cfg.Broker.BackoffBaseMs) * time.Millisecond,
		BackoffMax:        time.Duration(cfg.Broker.BackoffMaxMs) * time.Millisecond,
	})

	norm := announce.NewNormalizer(time.Duration(cfg.Ingest.DedupeRetentionSec) * time.Second)
	pipe := pipeline.New(pipeline.Config{
		Capital:     cfg.CapitalBase,
		RatePerSec:  1000, // replay is not rate limited
		Burst:       1000,
		CallTimeout: time.Duration(cfg.Broker.TimeoutMs) * time.Millisecond,
	}, norm, cls, calc, gate, mgr, store, brk)

	f, err := os.Open(feedPath)
	if err != nil {
		log.Fatalf("feed: %v", err)
	}
	defer f.Close()

	ctx := context.Background()
	if err := pipe.Run(ctx, pipeline.NewJSONLSource(f)); err != nil {
		log.Fatalf("replay: %v", err)
	}

	// Let monitors tick a little, then force close whatever is open.
	time.Sleep(200 * time.Millisecond)
	mgr.CancelAll("replay_end")
	mgr.Shutdown()

	st := gate.Status()
	fmt.Printf("replay complete\n")
	fmt.Printf("  announcements ingested : %d\n", observ.CounterValue("announcements_ingested_total"))
	fmt.Printf("  duplicates dropped     : %d\n", observ.CounterValue("announcements_duplicate_total"))
	fmt.Printf("  signals accepted       : %d\n", observ.CounterValue("signals_accepted_total"))
	fmt.Printf("  orders closed          : %d\n", observ.CounterValue("orders_closed_total"))
	fmt.Printf("  daily trades used      : %d/%d\n", st.DailyTradeCount, cfg.Risk.MaxDailyTrades)
	fmt.Printf("  daily pnl              : %.2f\n", st.DailyPnL)
	fmt.Printf("  paper balance          : %.2f\n", brk.Balance())
}
