// Package pipeline wires ingestion, classification, strategy, risk and
// order management into the single announcement-to-order path.
package pipeline

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/momentumalpha/trading-engine/internal/announce"
	"github.com/momentumalpha/trading-engine/internal/broker"
	"github.com/momentumalpha/trading-engine/internal/classify"
	"github.com/momentumalpha/trading-engine/internal/observ"
	"github.com/momentumalpha/trading-engine/internal/order"
	"github.com/momentumalpha/trading-engine/internal/recordstore"
	"github.com/momentumalpha/trading-engine/internal/risk"
	"github.com/momentumalpha/trading-engine/internal/strategy"
)

// Source feeds raw disclosure payloads into the pipeline. Next blocks
// until a payload is available and returns io.EOF when drained.
type Source interface {
	Next(ctx context.Context) (announce.RawPayload, error)
}

type Config struct {
	Capital     float64
	RatePerSec  float64
	Burst       int
	CallTimeout time.Duration // per broker and record-store call
}

type Pipeline struct {
	cfg     Config
	norm    *announce.Normalizer
	cls     *classify.Classifier
	calc    *strategy.Calculator
	gate    *risk.Gate
	orders  *order.Manager
	store   *recordstore.Store
	broker  broker.Broker
	limiter *rate.Limiter

	// observeOnly latches on broker auth failure: signals keep
	// flowing to the log and record store, orders stop.
	observeOnly atomic.Bool
}

func New(cfg Config, norm *announce.Normalizer, cls *classify.Classifier, calc *strategy.Calculator,
	gate *risk.Gate, orders *order.Manager, store *recordstore.Store, b broker.Broker) *Pipeline {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	return &Pipeline{
		cfg:     cfg,
		norm:    norm,
		cls:     cls,
		calc:    calc,
		gate:    gate,
		orders:  orders,
		store:   store,
		broker:  b,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
	}
}

// Run drains the source through HandleRaw under the ingestion rate
// limit. A duplicate or rejected announcement is not an error; only
// source and context failures stop the loop.
func (p *Pipeline) Run(ctx context.Context, src Source) error {
	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
		payload, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := p.HandleRaw(ctx, payload); err != nil {
			observ.Log("pipeline_handle_error", map[string]any{"error": err.Error()})
		}
	}
}

// HandleRaw pushes one raw payload through the full path. The returned
// error covers only infrastructure failures; business rejections are
// logged, counted and absorbed here.
func (p *Pipeline) HandleRaw(ctx context.Context, payload announce.RawPayload) error {
	a, err := p.norm.Normalize(payload)
	if errors.Is(err, announce.ErrDuplicate) {
		observ.IncCounter("announcements_duplicate_total", nil)
		return nil
	}
	if errors.Is(err, announce.ErrMalformedInput) {
		observ.IncCounter("announcements_malformed_total", nil)
		observ.Log("announcement_malformed", map[string]any{"title": payload.Title})
		return nil
	}
	if err != nil {
		return err
	}
	observ.IncCounter("announcements_ingested_total", nil)

	// Persistence is best effort; a store hiccup must not stall the
	// trading path, and every store call is bounded by the call timeout.
	saveCtx, cancelSave := context.WithTimeout(ctx, p.cfg.CallTimeout)
	if err := p.store.SaveAnnouncement(saveCtx, a); err != nil {
		observ.Log("announcement_save_failed", map[string]any{"hash": a.ContentHash, "error": err.Error()})
	}
	cancelSave()

	sig, rej := p.cls.Classify(a)
	markCtx, cancelMark := context.WithTimeout(ctx, p.cfg.CallTimeout)
	if err := p.store.MarkProcessed(markCtx, a.ContentHash, sig, rej); err != nil {
		observ.Log("announcement_mark_failed", map[string]any{"hash": a.ContentHash, "error": err.Error()})
	}
	cancelMark()
	if rej != nil {
		observ.IncCounter("signals_rejected_total", map[string]string{"reason": string(rej.Reason)})
		return nil
	}
	observ.IncCounter("signals_accepted_total", map[string]string{"symbol": sig.Symbol})

	liqCtx, cancelLiq := context.WithTimeout(ctx, p.cfg.CallTimeout)
	liq, err := p.broker.GetLiquidity(liqCtx, sig.Symbol)
	cancelLiq()
	if err != nil || liq.LastPrice <= 0 {
		// no reliable entry reference, treat like the gate's
		// liquidity fail-closed path
		observ.IncCounter("risk_rejections_total", map[string]string{"reason": string(risk.ReasonLiquidityUnavailable)})
		observ.Log("entry_reference_unavailable", map[string]any{"symbol": sig.Symbol})
		return nil
	}

	params := p.calc.Compute(ctx, sig, liq.LastPrice, p.cfg.Capital)

	if p.observeOnly.Load() {
		observ.IncCounter("signals_observed_total", map[string]string{"symbol": sig.Symbol})
		observ.Log("signal_observed", map[string]any{
			"symbol": sig.Symbol, "qty": params.PositionSize,
			"target": params.TargetPrice, "profile": params.Profile,
		})
		return nil
	}

	if rrej := p.gate.Admit(ctx, sig, params); rrej != nil {
		observ.IncCounter("risk_rejections_total", map[string]string{"reason": string(rrej.Reason)})
		return nil
	}

	o, err := p.orders.Open(ctx, sig, params)
	if err != nil {
		var authErr *broker.AuthError
		if errors.As(err, &authErr) {
			p.observeOnly.Store(true)
			observ.Log("observe_only_latched", map[string]any{"error": err.Error()})
		}
		return nil // Open already settled gate state and logged
	}
	// The monitor goroutine owns mutable order fields from here; log
	// from the computed parameters, not the live order.
	observ.Log("order_opened", map[string]any{
		"order_id": o.ID, "symbol": sig.Symbol, "qty": params.PositionSize,
		"target": params.TargetPrice, "stop": params.EntryReference - params.TrailingStopDistance,
		"profile": params.Profile,
	})
	return nil
}

// ObserveOnly reports whether order placement is latched off.
func (p *Pipeline) ObserveOnly() bool {
	return p.observeOnly.Load()
}
