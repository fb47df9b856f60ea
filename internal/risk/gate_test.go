package risk

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentumalpha/trading-engine/internal/broker"
	"github.com/momentumalpha/trading-engine/internal/classify"
	"github.com/momentumalpha/trading-engine/internal/strategy"
)

func testGate(t *testing.T) (*Gate, *KillSwitch, *broker.Simulator) {
	t.Helper()
	ks := NewKillSwitch()
	sim := broker.NewSimulator(1_000_000)
	sim.Seed("XYZ", 250, 0, 8000)
	sim.Seed("RVNL", 420, 0, 8000)
	g := NewGate(Config{
		MaxDailyTrades:          5,
		MaxWeeklyTrades:         20,
		MaxPortfolioRisk:        0.10,
		CircuitBreakerThreshold: 0.05,
		VIXThreshold:            25,
		MinBookDepth:            500,
		Capital:                 1_000_000,
	}, ks, sim)
	return g, ks, sim
}

func gateSig(symbol string) *classify.Signal {
	return &classify.Signal{Symbol: symbol, Sector: "Infrastructure", OrderValue: 500 * classify.Crore}
}

func gateParams(qty int, entry float64) strategy.TradeParameters {
	return strategy.TradeParameters{EntryReference: entry, PositionSize: qty}
}

func TestAdmitCommitsState(t *testing.T) {
	g, _, _ := testGate(t)

	rej := g.Admit(context.Background(), gateSig("XYZ"), gateParams(100, 250))
	require.Nil(t, rej)

	st := g.Status()
	assert.Equal(t, 1, st.DailyTradeCount)
	assert.Equal(t, 1, st.WeeklyTradeCount)
	assert.InDelta(t, 25_000, st.PortfolioExposure, 1e-9)
	assert.True(t, g.HasOpenOrder("XYZ"))
}

// The sixth same-day signal rejects with the cap reason and leaves the
// counter untouched.
func TestAdmitDailyCap(t *testing.T) {
	g, _, sim := testGate(t)
	for i := 0; i < 5; i++ {
		sym := fmt.Sprintf("S%d", i)
		sim.Seed(sym, 100, 0, 8000)
		require.Nil(t, g.Admit(context.Background(), gateSig(sym), gateParams(10, 100)))
	}

	rej := g.Admit(context.Background(), gateSig("XYZ"), gateParams(10, 100))
	require.NotNil(t, rej)
	assert.Equal(t, ReasonTradeCapReached, rej.Reason)
	assert.Equal(t, 5, g.Status().DailyTradeCount)
}

func TestAdmitWeeklyCap(t *testing.T) {
	g, _, sim := testGate(t)
	g.cfg.MaxDailyTrades = 100
	g.cfg.MaxWeeklyTrades = 3
	for i := 0; i < 3; i++ {
		sym := fmt.Sprintf("W%d", i)
		sim.Seed(sym, 100, 0, 8000)
		require.Nil(t, g.Admit(context.Background(), gateSig(sym), gateParams(10, 100)))
	}
	rej := g.Admit(context.Background(), gateSig("XYZ"), gateParams(10, 100))
	require.NotNil(t, rej)
	assert.Equal(t, ReasonTradeCapReached, rej.Reason)
}

func TestAdmitDuplicatePosition(t *testing.T) {
	g, _, _ := testGate(t)
	require.Nil(t, g.Admit(context.Background(), gateSig("XYZ"), gateParams(10, 250)))

	rej := g.Admit(context.Background(), gateSig("XYZ"), gateParams(10, 250))
	require.NotNil(t, rej)
	assert.Equal(t, ReasonDuplicatePosition, rej.Reason)
	assert.Equal(t, 1, g.Status().DailyTradeCount)
}

func TestAdmitVIXTripsCircuitBreaker(t *testing.T) {
	g, ks, _ := testGate(t)
	g.UpdateVIX(30)

	rej := g.Admit(context.Background(), gateSig("XYZ"), gateParams(10, 250))
	require.NotNil(t, rej)
	assert.Equal(t, ReasonVolatilityHalt, rej.Reason)

	tripped, reason := ks.Tripped()
	assert.True(t, tripped)
	assert.Equal(t, TripVIXBreach, reason)

	// every later signal now fails the kill-switch check first
	rej = g.Admit(context.Background(), gateSig("RVNL"), gateParams(10, 420))
	require.NotNil(t, rej)
	assert.Equal(t, ReasonHaltedMarket, rej.Reason)
}

func TestAdmitLiquidityFailClosed(t *testing.T) {
	g, _, sim := testGate(t)

	// unknown symbol: the liquidity query itself fails
	rej := g.Admit(context.Background(), gateSig("GHOST"), gateParams(10, 100))
	require.NotNil(t, rej)
	assert.Equal(t, ReasonLiquidityUnavailable, rej.Reason)

	// thin book
	sim.SetDepth("XYZ", 100)
	rej = g.Admit(context.Background(), gateSig("XYZ"), gateParams(10, 250))
	require.NotNil(t, rej)
	assert.Equal(t, ReasonLiquidityUnavailable, rej.Reason)

	// pinned at the exchange price band
	sim.SetDepth("RVNL", 8000)
	sim.SetPriceBand("RVNL", true)
	rej = g.Admit(context.Background(), gateSig("RVNL"), gateParams(10, 420))
	require.NotNil(t, rej)
	assert.Equal(t, ReasonLiquidityUnavailable, rej.Reason)
}

// stallBroker hangs every liquidity query until its context expires.
type stallBroker struct{}

func (stallBroker) SubmitBracket(ctx context.Context, req broker.BracketRequest) (string, error) {
	return "", &broker.CommError{Op: "submit_bracket", Err: ctx.Err()}
}

func (stallBroker) GetStatus(ctx context.Context, orderID string) (broker.StatusSnapshot, error) {
	return broker.StatusSnapshot{}, &broker.CommError{Op: "get_status", Err: ctx.Err()}
}

func (stallBroker) Cancel(ctx context.Context, orderID string) error { return nil }

func (stallBroker) GetLiquidity(ctx context.Context, symbol string) (broker.Liquidity, error) {
	<-ctx.Done()
	return broker.Liquidity{}, &broker.CommError{Op: "get_liquidity", Timeout: true, Err: ctx.Err()}
}

// A hung liquidity feed must not hold the admission lock open-endedly:
// the per-call timeout bounds the query and the signal fails closed.
func TestAdmitBoundsHungLiquidityQuery(t *testing.T) {
	ks := NewKillSwitch()
	g := NewGate(Config{
		MaxDailyTrades:   5,
		MaxWeeklyTrades:  20,
		MaxPortfolioRisk: 0.10,
		VIXThreshold:     25,
		MinBookDepth:     500,
		Capital:          1_000_000,
		CallTimeout:      20 * time.Millisecond,
	}, ks, stallBroker{})

	start := time.Now()
	rej := g.Admit(context.Background(), gateSig("XYZ"), gateParams(10, 100))
	require.NotNil(t, rej)
	assert.Equal(t, ReasonLiquidityUnavailable, rej.Reason)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, g.Status().DailyTradeCount)
}

func TestAdmitPortfolioRiskBudget(t *testing.T) {
	g, _, sim := testGate(t)
	sim.Seed("BIG", 100, 0, 8000)

	// 10% of 1,000,000 = 100,000 budget; 900*100 = 90,000 fits
	require.Nil(t, g.Admit(context.Background(), gateSig("BIG"), gateParams(900, 100)))

	// another 20,000 breaches the budget
	rej := g.Admit(context.Background(), gateSig("XYZ"), gateParams(80, 250))
	require.NotNil(t, rej)
	assert.Equal(t, ReasonPortfolioRiskExceeded, rej.Reason)
}

func TestReleaseFreesSlotKeepsCounters(t *testing.T) {
	g, _, _ := testGate(t)
	require.Nil(t, g.Admit(context.Background(), gateSig("XYZ"), gateParams(100, 250)))

	g.Release("XYZ", 25_000)

	st := g.Status()
	assert.False(t, g.HasOpenOrder("XYZ"))
	assert.InDelta(t, 0, st.PortfolioExposure, 1e-9)
	assert.Equal(t, 1, st.DailyTradeCount, "a rejected submission still spends its admission")
}

func TestRecordCloseTripsCircuitBreaker(t *testing.T) {
	g, ks, _ := testGate(t)
	require.Nil(t, g.Admit(context.Background(), gateSig("XYZ"), gateParams(100, 250)))

	// 5% of 1,000,000 = 50,000 daily loss limit
	g.RecordClose("XYZ", -60_000, 25_000)

	tripped, reason := ks.Tripped()
	assert.True(t, tripped)
	assert.Equal(t, TripDailyLossLimit, reason)
}

func TestRecordCloseBelowLimitKeepsTrading(t *testing.T) {
	g, ks, _ := testGate(t)
	require.Nil(t, g.Admit(context.Background(), gateSig("XYZ"), gateParams(100, 250)))

	g.RecordClose("XYZ", -10_000, 25_000)

	tripped, _ := ks.Tripped()
	assert.False(t, tripped)
	assert.False(t, g.HasOpenOrder("XYZ"))
	require.Nil(t, g.Admit(context.Background(), gateSig("XYZ"), gateParams(10, 250)))
}

func TestDailyResetAtExchangeBoundary(t *testing.T) {
	g, _, sim := testGate(t)
	base := time.Date(2026, 8, 28, 15, 0, 0, 0, exchangeTZ) // friday
	g.now = func() time.Time { return base }
	g.day = base.Format("2006-01-02")
	g.week = isoWeek(base)

	for i := 0; i < 5; i++ {
		sym := fmt.Sprintf("D%d", i)
		sim.Seed(sym, 100, 0, 8000)
		require.Nil(t, g.Admit(context.Background(), gateSig(sym), gateParams(10, 100)))
	}
	rej := g.Admit(context.Background(), gateSig("XYZ"), gateParams(10, 100))
	require.NotNil(t, rej)

	// next exchange-local day, same ISO week: daily resets, weekly holds
	g.now = func() time.Time { return base.Add(24 * time.Hour) }
	require.Nil(t, g.Admit(context.Background(), gateSig("XYZ"), gateParams(10, 250)))

	st := g.Status()
	assert.Equal(t, 1, st.DailyTradeCount)
	assert.Equal(t, 6, st.WeeklyTradeCount)
}

func TestWeeklyResetAtISOWeekBoundary(t *testing.T) {
	g, _, _ := testGate(t)
	base := time.Date(2026, 8, 28, 15, 0, 0, 0, exchangeTZ) // friday, week 35
	g.now = func() time.Time { return base }
	g.day = base.Format("2006-01-02")
	g.week = isoWeek(base)

	require.Nil(t, g.Admit(context.Background(), gateSig("XYZ"), gateParams(10, 250)))

	// monday of the next ISO week
	g.now = func() time.Time { return base.Add(72 * time.Hour) }
	g.Release("XYZ", 2_500)
	require.Nil(t, g.Admit(context.Background(), gateSig("XYZ"), gateParams(10, 250)))

	st := g.Status()
	assert.Equal(t, 1, st.DailyTradeCount)
	assert.Equal(t, 1, st.WeeklyTradeCount)
}

func TestKillSwitchTripIdempotent(t *testing.T) {
	ks := NewKillSwitch()
	var calls int
	ks.OnTrip(func(TripReason, string) { calls++ })

	ks.Trip(TripVIXBreach, "vix=30")
	ks.Trip(TripExternalHalt, "later trip must not override")

	tripped, reason := ks.Tripped()
	assert.True(t, tripped)
	assert.Equal(t, TripVIXBreach, reason, "original reason wins")
	assert.Equal(t, 1, calls, "listeners fire once per trip")

	ks.Reset("ops")
	tripped, _ = ks.Tripped()
	assert.False(t, tripped)
}
