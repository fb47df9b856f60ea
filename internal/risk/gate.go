package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/momentumalpha/trading-engine/internal/broker"
	"github.com/momentumalpha/trading-engine/internal/classify"
	"github.com/momentumalpha/trading-engine/internal/observ"
	"github.com/momentumalpha/trading-engine/internal/strategy"
)

// RejectReason enumerates the ordered admission checks. Each check
// produces a distinct reason; the first failure wins.
type RejectReason string

const (
	ReasonHaltedMarket          RejectReason = "halted_market"
	ReasonVolatilityHalt        RejectReason = "volatility_halt"
	ReasonTradeCapReached       RejectReason = "trade_cap_reached"
	ReasonDuplicatePosition     RejectReason = "duplicate_position"
	ReasonLiquidityUnavailable  RejectReason = "liquidity_unavailable"
	ReasonPortfolioRiskExceeded RejectReason = "portfolio_risk_exceeded"
)

// Rejection is a terminal admission failure for one signal. Counters
// are untouched by a rejection, and nothing is retried.
type Rejection struct {
	Reason RejectReason
	Detail string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("risk: rejected (%s): %s", r.Reason, r.Detail)
}

type Config struct {
	MaxDailyTrades          int
	MaxWeeklyTrades         int
	MaxPortfolioRisk        float64 // fraction of capital
	CircuitBreakerThreshold float64 // daily loss fraction of capital that trips the kill switch
	VIXThreshold            float64
	MinBookDepth            int64
	Capital                 float64
	CallTimeout             time.Duration // per liquidity query
}

// Status is a read-only snapshot of the risk state for dashboards and
// the run summary.
type Status struct {
	DailyTradeCount   int        `json:"daily_trade_count"`
	WeeklyTradeCount  int        `json:"weekly_trade_count"`
	DailyPnL          float64    `json:"daily_pnl"`
	PortfolioExposure float64    `json:"portfolio_exposure"`
	VIXLevel          float64    `json:"vix_level"`
	Halted            bool       `json:"halted"`
	HaltReason        TripReason `json:"halt_reason,omitempty"`
	OpenPositions     []string   `json:"open_positions"`
}

// Counter resets happen on exchange-local boundaries: calendar day and
// ISO week in Asia/Kolkata, evaluated lazily at each admission.
var exchangeTZ = mustLoadLocation("Asia/Kolkata")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Gate enforces hard limits before any order is allowed. All mutable
// risk state lives behind one mutex: each admission decision (checks
// plus counter increments plus symbol-slot claim) is a single critical
// section, so two concurrent signals can never both pass a cap check.
type Gate struct {
	mu        sync.Mutex
	cfg       Config
	ks        *KillSwitch
	liquidity broker.Broker

	dailyTradeCount   int
	weeklyTradeCount  int
	dailyPnL          float64
	portfolioExposure float64
	vixLevel          float64

	// one live order per symbol
	openOrders map[string]string // symbol -> order id

	day  string // YYYY-MM-DD in exchange tz
	week string // ISO year-week

	now func() time.Time
}

func NewGate(cfg Config, ks *KillSwitch, b broker.Broker) *Gate {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	g := &Gate{
		cfg:        cfg,
		ks:         ks,
		liquidity:  b,
		openOrders: make(map[string]string),
		now:        time.Now,
	}
	now := g.now().In(exchangeTZ)
	g.day = now.Format("2006-01-02")
	g.week = isoWeek(now)
	return g
}

// UpdateVIX records the latest volatility index level.
func (g *Gate) UpdateVIX(level float64) {
	g.mu.Lock()
	g.vixLevel = level
	g.mu.Unlock()
	observ.SetGauge("risk_vix_level", level, nil)
}

// Admit runs the ordered checks for one signal and, on pass, commits
// the admission: increments the trade counters, reserves exposure and
// claims the symbol slot, all without interleaving from another
// admission. A nil return means admitted.
func (g *Gate) Admit(ctx context.Context, sig *classify.Signal, params strategy.TradeParameters) *Rejection {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.resetCountersLocked()

	// 1. Kill switch / circuit breaker.
	if tripped, reason := g.ks.Tripped(); tripped {
		return g.rejectLocked(sig, ReasonHaltedMarket, string(reason))
	}

	// 2. Market-wide volatility. A breach trips the circuit breaker as
	// a side effect so every later signal fails check 1.
	if g.vixLevel > g.cfg.VIXThreshold {
		g.ks.Trip(TripVIXBreach, fmt.Sprintf("vix=%.2f threshold=%.2f", g.vixLevel, g.cfg.VIXThreshold))
		return g.rejectLocked(sig, ReasonVolatilityHalt,
			fmt.Sprintf("vix=%.2f threshold=%.2f", g.vixLevel, g.cfg.VIXThreshold))
	}

	// 3. Trade caps.
	if g.dailyTradeCount >= g.cfg.MaxDailyTrades {
		return g.rejectLocked(sig, ReasonTradeCapReached,
			fmt.Sprintf("daily %d/%d", g.dailyTradeCount, g.cfg.MaxDailyTrades))
	}
	if g.weeklyTradeCount >= g.cfg.MaxWeeklyTrades {
		return g.rejectLocked(sig, ReasonTradeCapReached,
			fmt.Sprintf("weekly %d/%d", g.weeklyTradeCount, g.cfg.MaxWeeklyTrades))
	}

	// 4. One live order per symbol.
	if id, open := g.openOrders[sig.Symbol]; open {
		return g.rejectLocked(sig, ReasonDuplicatePosition, fmt.Sprintf("open order %s", id))
	}

	// 5. Exchange price band / book depth. A failed liquidity query is
	// treated as unavailable liquidity (fail closed). The per-call
	// timeout bounds how long the admission lock is held on a hung
	// broker.
	liqCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	liq, err := g.liquidity.GetLiquidity(liqCtx, sig.Symbol)
	cancel()
	if err != nil {
		return g.rejectLocked(sig, ReasonLiquidityUnavailable, fmt.Sprintf("liquidity query: %v", err))
	}
	if liq.AtPriceBand {
		return g.rejectLocked(sig, ReasonLiquidityUnavailable, "at exchange price band")
	}
	if liq.AskDepth < g.cfg.MinBookDepth {
		return g.rejectLocked(sig, ReasonLiquidityUnavailable,
			fmt.Sprintf("ask depth %d below %d", liq.AskDepth, g.cfg.MinBookDepth))
	}

	// 6. Portfolio risk budget.
	positionNotional := float64(params.PositionSize) * params.EntryReference
	if g.portfolioExposure+positionNotional > g.cfg.MaxPortfolioRisk*g.cfg.Capital {
		return g.rejectLocked(sig, ReasonPortfolioRiskExceeded,
			fmt.Sprintf("exposure %.0f + %.0f exceeds %.0f",
				g.portfolioExposure, positionNotional, g.cfg.MaxPortfolioRisk*g.cfg.Capital))
	}

	// Re-check the kill switch immediately before committing so a trip
	// during the liquidity call cannot slip an admission through.
	if tripped, reason := g.ks.Tripped(); tripped {
		return g.rejectLocked(sig, ReasonHaltedMarket, string(reason))
	}

	// Commit: counters, exposure and the symbol slot move together.
	g.dailyTradeCount++
	g.weeklyTradeCount++
	g.portfolioExposure += positionNotional
	g.openOrders[sig.Symbol] = "pending"

	observ.IncCounter("risk_admissions_total", map[string]string{"symbol": sig.Symbol})
	observ.SetGauge("risk_daily_trade_count", float64(g.dailyTradeCount), nil)
	observ.SetGauge("risk_portfolio_exposure", g.portfolioExposure, nil)
	observ.Log("risk_admitted", map[string]any{
		"symbol":   sig.Symbol,
		"daily":    g.dailyTradeCount,
		"weekly":   g.weeklyTradeCount,
		"notional": positionNotional,
	})
	return nil
}

// BindOrder records the broker order id for an admitted symbol.
func (g *Gate) BindOrder(symbol, orderID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.openOrders[symbol]; ok {
		g.openOrders[symbol] = orderID
	}
}

// Release frees an admitted symbol slot without a close, used when
// submission is rejected by the broker. The exposure reservation is
// returned. Trade counters stay spent; a rejected submission still
// consumed an admission.
func (g *Gate) Release(symbol string, reservedNotional float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.openOrders[symbol]; !ok {
		return
	}
	delete(g.openOrders, symbol)
	g.portfolioExposure -= reservedNotional
	if g.portfolioExposure < 0 {
		g.portfolioExposure = 0
	}
	observ.SetGauge("risk_portfolio_exposure", g.portfolioExposure, nil)
}

// ReduceExposure hands back part of a reservation while the symbol
// slot stays held, used when a bracket fills only partially.
func (g *Gate) ReduceExposure(notional float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.portfolioExposure -= notional
	if g.portfolioExposure < 0 {
		g.portfolioExposure = 0
	}
	observ.SetGauge("risk_portfolio_exposure", g.portfolioExposure, nil)
}

// RecordClose settles a closed order back into the risk state and
// trips the circuit breaker when the daily loss limit is breached.
func (g *Gate) RecordClose(symbol string, pnl, closedNotional float64) {
	g.mu.Lock()
	g.resetCountersLocked()
	delete(g.openOrders, symbol)
	g.dailyPnL += pnl
	g.portfolioExposure -= closedNotional
	if g.portfolioExposure < 0 {
		g.portfolioExposure = 0
	}
	dailyPnL := g.dailyPnL
	exposure := g.portfolioExposure
	limit := -g.cfg.CircuitBreakerThreshold * g.cfg.Capital
	g.mu.Unlock()

	observ.SetGauge("risk_daily_pnl", dailyPnL, nil)
	observ.SetGauge("risk_portfolio_exposure", exposure, nil)

	if dailyPnL <= limit {
		g.ks.Trip(TripDailyLossLimit, fmt.Sprintf("daily_pnl=%.2f limit=%.2f", dailyPnL, limit))
	}
}

// HasOpenOrder reports whether a symbol currently holds its slot.
func (g *Gate) HasOpenOrder(symbol string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.openOrders[symbol]
	return ok
}

// Status returns a snapshot of the current risk state.
func (g *Gate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	tripped, reason := g.ks.Tripped()
	open := make([]string, 0, len(g.openOrders))
	for sym := range g.openOrders {
		open = append(open, sym)
	}
	return Status{
		DailyTradeCount:   g.dailyTradeCount,
		WeeklyTradeCount:  g.weeklyTradeCount,
		DailyPnL:          g.dailyPnL,
		PortfolioExposure: g.portfolioExposure,
		VIXLevel:          g.vixLevel,
		Halted:            tripped,
		HaltReason:        reason,
		OpenPositions:     open,
	}
}

func (g *Gate) rejectLocked(sig *classify.Signal, reason RejectReason, detail string) *Rejection {
	observ.IncCounter("risk_rejections_total", map[string]string{"reason": string(reason)})
	observ.Log("risk_rejected", map[string]any{
		"symbol": sig.Symbol,
		"reason": string(reason),
		"detail": detail,
	})
	return &Rejection{Reason: reason, Detail: detail}
}

// resetCountersLocked applies the lazy session boundaries: daily
// counters and pnl reset on a new exchange-local day, weekly counters
// on a new ISO week.
func (g *Gate) resetCountersLocked() {
	now := g.now().In(exchangeTZ)
	day := now.Format("2006-01-02")
	if day != g.day {
		g.day = day
		g.dailyTradeCount = 0
		g.dailyPnL = 0
		observ.Log("risk_daily_reset", map[string]any{"day": day})
	}
	week := isoWeek(now)
	if week != g.week {
		g.week = week
		g.weeklyTradeCount = 0
		observ.Log("risk_weekly_reset", map[string]any{"week": week})
	}
}

func isoWeek(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}
