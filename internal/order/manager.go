package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/momentumalpha/trading-engine/internal/broker"
	"github.com/momentumalpha/trading-engine/internal/classify"
	"github.com/momentumalpha/trading-engine/internal/observ"
	"github.com/momentumalpha/trading-engine/internal/risk"
	"github.com/momentumalpha/trading-engine/internal/strategy"
)

type Config struct {
	PollInterval      time.Duration // price poll for monitoring
	CallTimeout       time.Duration // per broker call
	MaxSubmitAttempts int
	BackoffBase       time.Duration
	BackoffMax        time.Duration
}

// Manager owns the bracket-order state machine from submission through
// close. One monitor goroutine runs per open order; kill-switch trips
// cancel every non-terminal order immediately.
type Manager struct {
	mu     sync.Mutex
	cfg    Config
	broker broker.Broker
	gate   *risk.Gate
	ks     *risk.KillSwitch
	rec    Recorder

	orders map[string]*Order // by order ID
	open   map[string]*Order // by symbol, non-terminal only

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	now     func() time.Time
}

func NewManager(b broker.Broker, gate *risk.Gate, ks *risk.KillSwitch, rec Recorder, cfg Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:     cfg,
		broker:  b,
		gate:    gate,
		ks:      ks,
		rec:     rec,
		orders:  make(map[string]*Order),
		open:    make(map[string]*Order),
		rootCtx: ctx,
		cancel:  cancel,
		now:     time.Now,
	}
	ks.OnTrip(func(reason risk.TripReason, detail string) {
		go m.CancelAll(string(reason))
	})
	return m
}

// Open submits a bracket order for an admitted signal and drives it to
// Monitoring. The caller must have passed the risk gate; on any
// failure before the order is live, the symbol slot is released.
func (m *Manager) Open(ctx context.Context, sig *classify.Signal, params strategy.TradeParameters) (*Order, error) {
	o := &Order{
		ID:               uuid.NewString(),
		Symbol:           sig.Symbol,
		Sector:           sig.Sector,
		AnnouncementHash: sig.Announcement.ContentHash,
		Side:             broker.SideBuy,
		Quantity:         params.PositionSize,
		EntryPrice:       params.EntryReference,
		TargetPrice:      params.TargetPrice,
		StopPrice:        params.EntryReference - params.TrailingStopDistance,
		State:            StatePending,
		OpenedAt:         m.now(),
	}
	reservedNotional := float64(params.PositionSize) * params.EntryReference
	o.reservedNotional = reservedNotional

	m.mu.Lock()
	m.orders[o.ID] = o
	m.open[o.Symbol] = o
	m.mu.Unlock()

	brokerID, err := m.submitWithBackoff(ctx, o, params)
	if err != nil {
		m.rejectOrder(o, reservedNotional, err)
		return o, err
	}
	m.mu.Lock()
	o.BrokerOrderID = brokerID
	_ = o.transition(StateSubmitted)
	m.mu.Unlock()
	m.gate.BindOrder(o.Symbol, brokerID)
	observ.Log("order_submitted", map[string]any{
		"order_id": o.ID, "broker_id": brokerID, "symbol": o.Symbol, "qty": o.Quantity,
	})

	if err := m.awaitAck(ctx, o, reservedNotional); err != nil {
		return o, err
	}

	m.mu.Lock()
	if o.State.Terminal() {
		// a kill-switch trip closed the order between fill and monitoring
		m.mu.Unlock()
		return o, nil
	}
	_ = o.transition(StateMonitoring)
	m.mu.Unlock()
	observ.IncCounter("orders_monitoring_total", map[string]string{"symbol": o.Symbol})

	m.wg.Add(1)
	go m.monitor(o, params)
	return o, nil
}

// submitWithBackoff issues the bracket request, retrying communication
// failures with bounded exponential backoff. Exhaustion, fatal broker
// errors and kill-switch trips all abort the submission.
func (m *Manager) submitWithBackoff(ctx context.Context, o *Order, params strategy.TradeParameters) (string, error) {
	req := broker.BracketRequest{
		Symbol:      o.Symbol,
		Side:        o.Side,
		Quantity:    o.Quantity,
		EntryType:   broker.EntryMarket,
		TargetPrice: o.TargetPrice,
		StopPrice:   o.StopPrice,
	}

	backoff := m.cfg.BackoffBase
	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxSubmitAttempts; attempt++ {
		if tripped, reason := m.ks.Tripped(); tripped {
			return "", fmt.Errorf("order: submission aborted, kill switch tripped (%s)", reason)
		}
		callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
		id, err := m.broker.SubmitBracket(callCtx, req)
		cancel()
		if err == nil {
			return id, nil
		}
		lastErr = err

		var authErr *broker.AuthError
		if errors.As(err, &authErr) {
			return "", err
		}
		var commErr *broker.CommError
		if !errors.As(err, &commErr) {
			return "", err
		}
		observ.IncCounter("broker_retries_total", map[string]string{"op": "submit_bracket"})
		observ.Log("order_submit_retry", map[string]any{
			"order_id": o.ID, "attempt": attempt, "backoff_ms": backoff.Milliseconds(), "error": err.Error(),
		})
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > m.cfg.BackoffMax {
			backoff = m.cfg.BackoffMax
		}
	}
	return "", fmt.Errorf("order: submission exhausted %d attempts: %w", m.cfg.MaxSubmitAttempts, lastErr)
}

// awaitAck polls the broker for the submission acknowledgment and
// applies the Filled / PartiallyFilled / Rejected transition.
func (m *Manager) awaitAck(ctx context.Context, o *Order, reservedNotional float64) error {
	backoff := m.cfg.BackoffBase
	for attempt := 1; attempt <= m.cfg.MaxSubmitAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
		snap, err := m.broker.GetStatus(callCtx, o.BrokerOrderID)
		cancel()
		if err != nil {
			var commErr *broker.CommError
			if !errors.As(err, &commErr) {
				m.rejectOrder(o, reservedNotional, err)
				return err
			}
			observ.IncCounter("broker_retries_total", map[string]string{"op": "get_status"})
			select {
			case <-ctx.Done():
				m.rejectOrder(o, reservedNotional, ctx.Err())
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > m.cfg.BackoffMax {
				backoff = m.cfg.BackoffMax
			}
			continue
		}

		switch snap.Status {
		case broker.StatusFilled:
			m.mu.Lock()
			o.FilledQuantity = snap.FilledQuantity
			o.EntryPrice = snap.AvgFillPrice
			o.observePrice(snap.LastPrice, snap.AsOf)
			_ = o.transition(StateFilled)
			m.mu.Unlock()
			return nil
		case broker.StatusPartial:
			m.reconcilePartialFill(o, snap, reservedNotional)
			return nil
		case broker.StatusRejected:
			err := fmt.Errorf("order: broker rejected %s", o.BrokerOrderID)
			m.rejectOrder(o, reservedNotional, err)
			return err
		case broker.StatusOpen:
			// entry leg still working; keep polling
			select {
			case <-ctx.Done():
				m.rejectOrder(o, reservedNotional, ctx.Err())
				return ctx.Err()
			case <-time.After(m.cfg.BackoffBase):
			}
		case broker.StatusCancelled:
			err := fmt.Errorf("order: %s cancelled before fill", o.BrokerOrderID)
			m.rejectOrder(o, reservedNotional, err)
			return err
		}
	}
	err := fmt.Errorf("order: no fill acknowledgment for %s after %d polls", o.BrokerOrderID, m.cfg.MaxSubmitAttempts)
	m.rejectOrder(o, reservedNotional, err)
	return err
}

// reconcilePartialFill resizes the bracket to the filled quantity
// instead of cancelling: target and stop legs shrink proportionally
// and the unfilled exposure reservation is handed back.
func (m *Manager) reconcilePartialFill(o *Order, snap broker.StatusSnapshot, reservedNotional float64) {
	m.mu.Lock()
	o.FilledQuantity = snap.FilledQuantity
	o.EntryPrice = snap.AvgFillPrice
	o.observePrice(snap.LastPrice, snap.AsOf)
	_ = o.transition(StatePartiallyFilled)
	unfilled := o.Quantity - o.FilledQuantity
	filled := o.FilledQuantity
	var released float64
	if unfilled > 0 {
		released = reservedNotional * float64(unfilled) / float64(o.Quantity)
		o.reservedNotional -= released
	}
	m.mu.Unlock()
	if released > 0 {
		m.gate.ReduceExposure(released)
	}
	observ.IncCounter("orders_partial_fills_total", map[string]string{"symbol": o.Symbol})
	observ.Log("order_partial_fill_reconciled", map[string]any{
		"order_id": o.ID,
		"symbol":   o.Symbol,
		"filled":   filled,
		"ordered":  o.Quantity,
	})
}

// monitor is the per-order task: polls price, ratchets the trailing
// stop, and closes on target, stop, holding-period expiry or halt.
func (m *Manager) monitor(o *Order, params strategy.TradeParameters) {
	defer m.wg.Done()

	deadline := o.OpenedAt.Add(params.MaxHoldingPeriod)
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.rootCtx.Done():
			return
		case <-ticker.C:
		}

		if tripped, reason := m.ks.Tripped(); tripped {
			m.mu.Lock()
			last := o.lastPrice
			m.mu.Unlock()
			m.closeOrder(o, StateManuallyClosed, last, string(reason))
			return
		}
		if m.terminal(o) {
			return
		}

		callCtx, cancel := context.WithTimeout(m.rootCtx, m.cfg.CallTimeout)
		snap, err := m.broker.GetStatus(callCtx, o.BrokerOrderID)
		cancel()
		if err != nil {
			// recoverable: skip the tick, the next poll retries
			observ.IncCounter("broker_retries_total", map[string]string{"op": "monitor_status"})
			continue
		}

		m.mu.Lock()
		o.observePrice(snap.LastPrice, snap.AsOf)

		// Trailing stop only ever tightens toward the market.
		if newStop := snap.LastPrice - params.TrailingStopDistance; newStop > o.StopPrice {
			o.StopPrice = newStop
			observ.SetGauge("order_stop_price", o.StopPrice, map[string]string{"symbol": o.Symbol})
		}

		var closeAs State
		switch {
		case snap.LastPrice >= o.TargetPrice:
			closeAs = StateTargetHit
		case snap.LastPrice <= o.StopPrice:
			closeAs = StateStopHit
		case !m.now().Before(deadline):
			closeAs = StateTimeExpired
		}
		m.mu.Unlock()

		if closeAs != "" {
			m.closeOrder(o, closeAs, snap.LastPrice, "")
			return
		}
	}
}

// closeOrder drives an order through its terminal path, settles risk
// state and appends the outcome to the record store.
func (m *Manager) closeOrder(o *Order, reason State, price float64, detail string) {
	m.mu.Lock()
	if o.State.Terminal() {
		m.mu.Unlock()
		return
	}
	if !o.State.CanTransition(reason) {
		// cancel path from a pre-monitoring state goes straight to Closed
		reason = StateClosed
	}
	if reason != StateClosed {
		_ = o.transition(reason)
		o.CloseReason = reason
	} else {
		o.CloseReason = StateManuallyClosed
	}
	if price <= 0 {
		price = o.EntryPrice
	}
	o.ClosePrice = price
	_ = o.transition(StateClosed)
	now := m.now()
	o.ClosedAt = &now
	delete(m.open, o.Symbol)
	out := o.outcome(now)
	reserved := o.reservedNotional
	m.mu.Unlock()

	// Best-effort broker cancel tears down any resting bracket legs.
	callCtx, cancel := context.WithTimeout(context.Background(), m.cfg.CallTimeout)
	if err := m.broker.Cancel(callCtx, o.BrokerOrderID); err != nil {
		observ.Log("order_cancel_failed", map[string]any{"order_id": o.ID, "error": err.Error()})
	}
	cancel()

	// Settle with the notional that was actually reserved, net of any
	// partial-fill handback; settling at the fill price would leave the
	// slippage difference stranded in the exposure gauge.
	m.gate.RecordClose(o.Symbol, out.PnL, reserved)

	if m.rec != nil {
		callCtx, cancel := context.WithTimeout(context.Background(), m.cfg.CallTimeout)
		if err := m.rec.AppendOutcome(callCtx, out); err != nil {
			observ.Log("order_outcome_append_failed", map[string]any{"order_id": o.ID, "error": err.Error()})
		}
		cancel()
	}

	observ.IncCounter("orders_closed_total", map[string]string{
		"symbol": o.Symbol, "reason": string(o.CloseReason),
	})
	observ.Log("order_closed", map[string]any{
		"order_id": o.ID,
		"symbol":   o.Symbol,
		"reason":   string(o.CloseReason),
		"pnl":      out.PnL,
		"detail":   detail,
	})
}

// rejectOrder finalizes a submission failure: Rejected is terminal and
// the symbol slot plus reserved exposure return to the gate. A broker
// order that was submitted but never acknowledged is still working at
// the broker and must be cancelled before its slot is freed.
func (m *Manager) rejectOrder(o *Order, reservedNotional float64, cause error) {
	m.mu.Lock()
	brokerID := o.BrokerOrderID
	if o.State.CanTransition(StateRejected) {
		_ = o.transition(StateRejected)
	}
	delete(m.open, o.Symbol)
	m.mu.Unlock()

	if brokerID != "" {
		callCtx, cancel := context.WithTimeout(context.Background(), m.cfg.CallTimeout)
		if err := m.broker.Cancel(callCtx, brokerID); err != nil {
			observ.Log("order_cancel_failed", map[string]any{"order_id": o.ID, "error": err.Error()})
		}
		cancel()
	}

	m.gate.Release(o.Symbol, reservedNotional)
	observ.IncCounter("orders_rejected_total", map[string]string{"symbol": o.Symbol})
	observ.Log("order_rejected", map[string]any{
		"order_id": o.ID, "symbol": o.Symbol, "error": cause.Error(),
	})
}

// CancelAll closes every non-terminal order, used on kill-switch trips
// and shutdown.
func (m *Manager) CancelAll(reason string) {
	m.mu.Lock()
	type pending struct {
		o    *Order
		last float64
	}
	open := make([]pending, 0, len(m.open))
	for _, o := range m.open {
		open = append(open, pending{o: o, last: o.lastPrice})
	}
	m.mu.Unlock()

	for _, p := range open {
		m.closeOrder(p.o, StateManuallyClosed, p.last, reason)
	}
}

// Get returns an order by ID.
func (m *Manager) Get(id string) (*Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	return o, ok
}

// OpenCount reports the number of non-terminal orders.
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

func (m *Manager) terminal(o *Order) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return o.State.Terminal()
}

// Shutdown stops all monitor tasks and waits for them to drain.
func (m *Manager) Shutdown() {
	m.cancel()
	m.wg.Wait()
}
