package strategy

import (
	"context"
	"math"
	"time"

	"github.com/momentumalpha/trading-engine/internal/classify"
	"github.com/momentumalpha/trading-engine/internal/observ"
)

// HistoricalStat aggregates past same-class events for a symbol or
// sector. Read-only here; the record store recomputes it on query.
type HistoricalStat struct {
	SampleSize    int
	AvgPeakPct    float64 // average post-announcement peak gain, e.g. 0.09
	AvgDaysToPeak float64
	AvgVolatility float64 // ATR-based, in price units per share
}

// StatProvider is the record-store collaborator boundary.
type StatProvider interface {
	SymbolStats(ctx context.Context, symbol string, lookbackDays int) (HistoricalStat, error)
	SectorStats(ctx context.Context, sector string, lookbackDays int) (HistoricalStat, error)
}

// TradeParameters are the concrete trade inputs handed to the risk
// gate and order manager.
type TradeParameters struct {
	EntryReference       float64
	TargetPrice          float64
	TrailingStopDistance float64 // price units
	PositionSize         int     // shares
	MaxHoldingPeriod     time.Duration
	Profile              string // "symbol" | "sector" | "default"
}

type Config struct {
	LookbackDays            int
	MinHistoricalDataPoints int
	TargetMultiplier        float64 // < 1: keeps target strictly below avg peak
	VolatilityMultiplier    float64
	MaxHoldingPeriodDays    int
	MaxPositionSize         float64 // rupees
	RiskPerTrade            float64 // fraction of capital
}

// Default profile used when neither symbol- nor sector-level history
// has enough samples. Deliberately conservative.
const (
	defaultPeakPct       = 0.05
	defaultStopPct       = 0.02
	defaultDaysToPeak    = 3
	largeOrderValue      = 50 * classify.Crore
	smallOrderValue      = 5 * classify.Crore
	largeOrderTargetMult = 1.2
	smallOrderTargetMult = 0.8
)

// Calculator converts a confirmed signal plus historical statistics
// into trade parameters. It never fails: insufficient data degrades to
// the conservative default profile, logged as a downgrade, because a
// failure here would be indistinguishable from a risk rejection.
type Calculator struct {
	stats StatProvider
	cfg   Config
}

func NewCalculator(stats StatProvider, cfg Config) *Calculator {
	return &Calculator{stats: stats, cfg: cfg}
}

// Compute derives parameters for sig at the given entry reference
// price, sizing against current capital.
func (c *Calculator) Compute(ctx context.Context, sig *classify.Signal, entryRef, capital float64) TradeParameters {
	stat, profile := c.lookup(ctx, sig)

	var peakPct, stopDistance float64
	switch profile {
	case "default":
		peakPct = defaultPeakPct * orderValueScale(sig.OrderValue)
		stopDistance = entryRef * defaultStopPct
	default:
		peakPct = stat.AvgPeakPct
		stopDistance = stat.AvgVolatility * c.cfg.VolatilityMultiplier
		// A degenerate history (no recorded peak or volatility) falls
		// back per component; a zero peak would put the target at the
		// entry price and close every order on its first poll.
		if peakPct <= 0 {
			peakPct = defaultPeakPct * orderValueScale(sig.OrderValue)
		}
		if stopDistance <= 0 {
			stopDistance = entryRef * defaultStopPct
		}
	}

	// target_multiplier < 1 keeps the implied gain strictly below the
	// historical average peak ("slightly below peak" rule).
	target := entryRef * (1 + peakPct*c.cfg.TargetMultiplier)

	size := c.positionSize(entryRef, stopDistance, capital)

	params := TradeParameters{
		EntryReference:       entryRef,
		TargetPrice:          target,
		TrailingStopDistance: stopDistance,
		PositionSize:         size,
		MaxHoldingPeriod:     time.Duration(c.cfg.MaxHoldingPeriodDays) * 24 * time.Hour,
		Profile:              profile,
	}
	observ.Log("strategy_params", map[string]any{
		"symbol":   sig.Symbol,
		"profile":  profile,
		"target":   target,
		"stop_d":   stopDistance,
		"size":     size,
		"peak_pct": peakPct,
	})
	return params
}

// lookup applies the fallback chain: symbol stats when the sample is
// big enough, else sector stats when that sample is big enough, else
// the default profile. No blending of marginal samples.
func (c *Calculator) lookup(ctx context.Context, sig *classify.Signal) (HistoricalStat, string) {
	stat, err := c.stats.SymbolStats(ctx, sig.Symbol, c.cfg.LookbackDays)
	if err == nil && stat.SampleSize >= c.cfg.MinHistoricalDataPoints {
		return stat, "symbol"
	}
	if err != nil {
		observ.IncCounter("strategy_stat_errors_total", map[string]string{"level": "symbol"})
	}

	stat, err = c.stats.SectorStats(ctx, sig.Sector, c.cfg.LookbackDays)
	if err == nil && stat.SampleSize >= c.cfg.MinHistoricalDataPoints {
		observ.IncCounter("strategy_fallbacks_total", map[string]string{"to": "sector"})
		return stat, "sector"
	}
	if err != nil {
		observ.IncCounter("strategy_stat_errors_total", map[string]string{"level": "sector"})
	}

	observ.IncCounter("strategy_fallbacks_total", map[string]string{"to": "default"})
	observ.Log("strategy_downgrade", map[string]any{
		"symbol": sig.Symbol,
		"sector": sig.Sector,
		"to":     "default_profile",
	})
	return HistoricalStat{}, "default"
}

// positionSize risks RiskPerTrade of capital against the stop
// distance, capped by MaxPositionSize notional.
func (c *Calculator) positionSize(entryRef, stopDistance, capital float64) int {
	if entryRef <= 0 || stopDistance <= 0 {
		return 0
	}
	byRisk := c.cfg.RiskPerTrade * capital / stopDistance
	byNotional := c.cfg.MaxPositionSize / entryRef
	size := int(math.Floor(math.Min(byRisk, byNotional)))
	if size < 1 {
		return 1
	}
	return size
}

func orderValueScale(orderValue float64) float64 {
	switch {
	case orderValue > largeOrderValue:
		return largeOrderTargetMult
	case orderValue < smallOrderValue && orderValue > 0:
		return smallOrderTargetMult
	default:
		return 1
	}
}
