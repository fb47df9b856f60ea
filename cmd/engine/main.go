package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
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

func main() {
	var cfgPath, mode, feedPath, pricesPath string
	flag.StringVar(&cfgPath, "config", "config/config.yaml", "config path")
	flag.StringVar(&mode, "mode", "", "override run mode: paper | live")
	flag.StringVar(&feedPath, "feed", "-", "announcement feed, jsonl ('-' for stdin)")
	flag.StringVar(&pricesPath, "prices", "fixtures/prices.json", "paper market seed prices")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if mode != "" {
		cfg.Mode = mode
	}
	observ.SetDebug(cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	observ.Log("startup", map[string]any{
		"mode":    cfg.Mode,
		"capital": cfg.CapitalBase,
		"store":   cfg.StorePath,
	})

	store, err := recordstore.New(cfg.StorePath)
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

	// Live brokerage connectivity is out of scope for now; live mode
	// runs against the simulator until a real adapter lands.
	brk := broker.NewSimulator(cfg.CapitalBase)
	if cfg.Mode == "live" {
		observ.Log("live_mode_simulated", map[string]any{"note": "no live adapter configured, using simulator"})
	}
	if raw, err := os.ReadFile(pricesPath); err == nil {
		var pf pricesFile
		if err := json.Unmarshal(raw, &pf); err != nil {
			log.Fatalf("prices %s: %v", pricesPath, err)
		}
		for _, p := range pf.Prices {
			brk.Seed(p.Symbol, p.Price, p.Volatility, p.Depth)
		}
		observ.Log("paper_market_seeded", map[string]any{"symbols": len(pf.Prices)})
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
		PollInterval:      time.Duration(cfg.Monitor.PollIntervalMs) * time.Millisecond,
		CallTimeout:       time.Duration(cfg.Broker.TimeoutMs) * time.Millisecond,
		MaxSubmitAttempts: cfg.Broker.MaxRetries,
		BackoffBase:       time.Duration(cfg.Broker.BackoffBaseMs) * time.Millisecond,
		BackoffMax:        time.Duration(cfg.Broker.BackoffMaxMs) * time.Millisecond,
	})

	norm := announce.NewNormalizer(time.Duration(cfg.Ingest.DedupeRetentionSec) * time.Second)
	pipe := pipeline.New(pipeline.Config{
		Capital:     cfg.CapitalBase,
		RatePerSec:  cfg.Ingest.RatePerSec,
		Burst:       cfg.Ingest.Burst,
		CallTimeout: time.Duration(cfg.Broker.TimeoutMs) * time.Millisecond,
	}, norm, cls, calc, gate, mgr, store, brk)

	if err := pipeline.WatchOverrides(ctx, cfg.OverridesPath, ks, gate); err != nil {
		observ.Log("overrides_watch_unavailable", map[string]any{"error": err.Error()})
	}

	// In-process metrics endpoint, also serves the risk status snapshot.
	mux := http.NewServeMux()
	mux.Handle("/metrics", observ.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(gate.Status())
	})
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			observ.Log("metrics_server_error", map[string]any{"error": err.Error()})
		}
	}()
	defer srv.Shutdown(context.Background())

	feed := os.Stdin
	if feedPath != "-" {
		f, err := os.Open(feedPath)
		if err != nil {
			log.Fatalf("feed: %v", err)
		}
		defer f.Close()
		feed = f
	}

	if err := pipe.Run(ctx, pipeline.NewJSONLSource(feed)); err != nil && ctx.Err() == nil {
		observ.Log("pipeline_stopped", map[string]any{"error": err.Error()})
	}

	// Drain open orders before exit and write the day's summary.
	mgr.CancelAll("shutdown")
	mgr.Shutdown()
	if _, err := store.WriteDailySummary(context.Background(), time.Now()); err != nil {
		observ.Log("daily_summary_failed", map[string]any{"error": err.Error()})
	}

	st := gate.Status()
	observ.Log("shutdown", map[string]any{
		"daily_trades":  st.DailyTradeCount,
		"weekly_trades": st.WeeklyTradeCount,
		"daily_pnl":     st.DailyPnL,
		"exposure":      st.PortfolioExposure,
		"halted":        st.Halted,
		"observe_only":  pipe.ObserveOnly(),
	})
}
