package order

import (
	"context"
	"time"

	"github.com/momentumalpha/trading-engine/internal/broker"
)

// Order is one bracket position from submission through close. At most
// one live Order exists per symbol; the risk gate enforces that.
type Order struct {
	ID               string
	BrokerOrderID    string
	Symbol           string
	Sector           string
	AnnouncementHash string
	Side             broker.Side
	Quantity         int
	FilledQuantity   int
	EntryPrice       float64
	TargetPrice      float64
	StopPrice        float64 // trailing; only ever tightens toward the market
	State            State
	CloseReason      State // which terminal path closed it
	ClosePrice       float64
	OpenedAt         time.Time
	ClosedAt         *time.Time

	// outstanding gate reservation, in the admission's reference
	// notional; shrinks on partial fills, settled in full at close
	reservedNotional float64

	// monitoring telemetry carried into the historical record
	peakPrice    float64
	peakAt       time.Time
	rangeSum     float64 // sum of |tick-to-tick| moves for the ATR proxy
	rangeSamples int
	lastPrice    float64
}

// transition applies a legal state change or reports the violation.
func (o *Order) transition(to State) error {
	if !o.State.CanTransition(to) {
		return &ErrIllegalTransition{From: o.State, To: to}
	}
	o.State = to
	return nil
}

// observePrice folds one price sample into the telemetry.
func (o *Order) observePrice(price float64, at time.Time) {
	if price <= 0 {
		return
	}
	if o.lastPrice > 0 {
		diff := price - o.lastPrice
		if diff < 0 {
			diff = -diff
		}
		o.rangeSum += diff
		o.rangeSamples++
	}
	o.lastPrice = price
	if price > o.peakPrice {
		o.peakPrice = price
		o.peakAt = at
	}
}

// Outcome is the closed-order record appended to the record store for
// future historical aggregation.
type Outcome struct {
	OrderID          string
	AnnouncementHash string
	Symbol           string
	Sector           string
	Side             broker.Side
	Quantity         int
	EntryTime        time.Time
	ExitTime         time.Time
	EntryPrice       float64
	ExitPrice        float64
	TargetPrice      float64
	StopPrice        float64
	PnL              float64
	PeakPct          float64 // (peak-entry)/entry over the holding window
	DaysToPeak       float64
	Volatility       float64 // mean absolute per-poll move, ATR proxy
	CloseReason      State
}

// Recorder is the record-store collaborator boundary for closed orders.
type Recorder interface {
	AppendOutcome(ctx context.Context, out Outcome) error
}

func (o *Order) outcome(now time.Time) Outcome {
	peakPct := 0.0
	daysToPeak := 0.0
	if o.EntryPrice > 0 && o.peakPrice > o.EntryPrice {
		peakPct = (o.peakPrice - o.EntryPrice) / o.EntryPrice
		daysToPeak = o.peakAt.Sub(o.OpenedAt).Hours() / 24
	}
	volatility := 0.0
	if o.rangeSamples > 0 {
		volatility = o.rangeSum / float64(o.rangeSamples)
	}
	pnl := (o.ClosePrice - o.EntryPrice) * float64(o.FilledQuantity)
	if o.Side == broker.SideSell {
		pnl = -pnl
	}
	return Outcome{
		OrderID:          o.ID,
		AnnouncementHash: o.AnnouncementHash,
		Symbol:           o.Symbol,
		Sector:           o.Sector,
		Side:             o.Side,
		Quantity:         o.FilledQuantity,
		EntryTime:        o.OpenedAt,
		ExitTime:         now,
		EntryPrice:       o.EntryPrice,
		ExitPrice:        o.ClosePrice,
		TargetPrice:      o.TargetPrice,
		StopPrice:        o.StopPrice,
		PnL:              pnl,
		PeakPct:          peakPct,
		DaysToPeak:       daysToPeak,
		Volatility:       volatility,
		CloseReason:      o.CloseReason,
	}
}
