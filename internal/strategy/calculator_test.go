package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/momentumalpha/trading-engine/internal/classify"
)

type stubStats struct {
	symbol    HistoricalStat
	symbolErr error
	sector    HistoricalStat
	sectorErr error
}

func (s *stubStats) SymbolStats(ctx context.Context, symbol string, lookbackDays int) (HistoricalStat, error) {
	return s.symbol, s.symbolErr
}

func (s *stubStats) SectorStats(ctx context.Context, sector string, lookbackDays int) (HistoricalStat, error) {
	return s.sector, s.sectorErr
}

func testConfig() Config {
	return Config{
		LookbackDays:            30,
		MinHistoricalDataPoints: 10,
		TargetMultiplier:        0.9,
		VolatilityMultiplier:    2.0,
		MaxHoldingPeriodDays:    5,
		MaxPositionSize:         50_000,
		RiskPerTrade:            0.02,
	}
}

func sig(orderValue float64) *classify.Signal {
	return &classify.Signal{Symbol: "XYZ", Sector: "Infrastructure", OrderValue: orderValue}
}

// Historical average peak of 9% with target_multiplier 0.9 implies an
// 8.1% gain target.
func TestComputeTargetBelowHistoricalPeak(t *testing.T) {
	stats := &stubStats{symbol: HistoricalStat{SampleSize: 15, AvgPeakPct: 0.09, AvgVolatility: 2.0}}
	c := NewCalculator(stats, testConfig())

	p := c.Compute(context.Background(), sig(50*classify.Crore), 100, 1_000_000)

	assert.Equal(t, "symbol", p.Profile)
	assert.InDelta(t, 108.1, p.TargetPrice, 1e-9)
	assert.InDelta(t, 4.0, p.TrailingStopDistance, 1e-9) // 2.0 ATR * 2.0
}

func TestComputeFallsBackToSector(t *testing.T) {
	stats := &stubStats{
		symbol: HistoricalStat{SampleSize: 3, AvgPeakPct: 0.20},
		sector: HistoricalStat{SampleSize: 12, AvgPeakPct: 0.06, AvgVolatility: 1.5},
	}
	c := NewCalculator(stats, testConfig())

	p := c.Compute(context.Background(), sig(50*classify.Crore), 100, 1_000_000)

	assert.Equal(t, "sector", p.Profile)
	assert.InDelta(t, 100*(1+0.06*0.9), p.TargetPrice, 1e-9)
}

// Neither level has enough samples: the conservative default profile
// applies, and the stat-provider error path must not bubble up.
func TestComputeDefaultProfile(t *testing.T) {
	stats := &stubStats{symbolErr: errors.New("db down"), sectorErr: errors.New("db down")}
	c := NewCalculator(stats, testConfig())

	p := c.Compute(context.Background(), sig(20*classify.Crore), 100, 1_000_000)

	assert.Equal(t, "default", p.Profile)
	assert.InDelta(t, 100*(1+0.05*0.9), p.TargetPrice, 1e-9)
	assert.InDelta(t, 2.0, p.TrailingStopDistance, 1e-9) // 2% of entry
}

func TestComputeDefaultProfileOrderValueScaling(t *testing.T) {
	c := NewCalculator(&stubStats{}, testConfig())

	large := c.Compute(context.Background(), sig(80*classify.Crore), 100, 1_000_000)
	small := c.Compute(context.Background(), sig(2*classify.Crore), 100, 1_000_000)
	mid := c.Compute(context.Background(), sig(20*classify.Crore), 100, 1_000_000)

	// 5% base peak scaled 1.2x / 0.8x, all times the 0.9 multiplier
	assert.InDelta(t, 100*(1+0.05*1.2*0.9), large.TargetPrice, 1e-9)
	assert.InDelta(t, 100*(1+0.05*0.8*0.9), small.TargetPrice, 1e-9)
	assert.InDelta(t, 100*(1+0.05*0.9), mid.TargetPrice, 1e-9)
}

func TestPositionSizing(t *testing.T) {
	c := NewCalculator(&stubStats{}, testConfig())

	cases := []struct {
		name     string
		entry    float64
		stopDist float64
		capital  float64
		want     int
	}{
		// risk budget binds: 0.02*1e6/4 = 5000, notional cap 50000/100 = 500
		{"notional cap binds", 100, 4, 1_000_000, 500},
		// risk budget binds: 0.02*100000/10 = 200 vs notional 50000/100=500
		{"risk budget binds", 100, 10, 100_000, 200},
		{"floor at one share", 4000, 500, 10_000, 1},
		{"zero stop distance", 100, 0, 1_000_000, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, c.positionSize(tc.entry, tc.stopDist, tc.capital))
		})
	}
}

// A sufficient sample whose recorded peaks average zero must not put
// the target at the entry price.
func TestComputePeakFallbackWhenHistoryDegenerate(t *testing.T) {
	stats := &stubStats{symbol: HistoricalStat{SampleSize: 15, AvgPeakPct: 0, AvgVolatility: 2.0}}
	c := NewCalculator(stats, testConfig())

	p := c.Compute(context.Background(), sig(20*classify.Crore), 100, 1_000_000)
	assert.Equal(t, "symbol", p.Profile)
	assert.InDelta(t, 100*(1+0.05*0.9), p.TargetPrice, 1e-9)
	assert.Greater(t, p.TargetPrice, 100.0)
}

func TestComputeStopFallbackWhenVolatilityMissing(t *testing.T) {
	stats := &stubStats{symbol: HistoricalStat{SampleSize: 15, AvgPeakPct: 0.09, AvgVolatility: 0}}
	c := NewCalculator(stats, testConfig())

	p := c.Compute(context.Background(), sig(50*classify.Crore), 200, 1_000_000)
	assert.InDelta(t, 4.0, p.TrailingStopDistance, 1e-9) // 2% of 200
}

func TestMaxHoldingPeriod(t *testing.T) {
	c := NewCalculator(&stubStats{}, testConfig())
	p := c.Compute(context.Background(), sig(20*classify.Crore), 100, 1_000_000)
	assert.Equal(t, 5*24.0, p.MaxHoldingPeriod.Hours())
}
