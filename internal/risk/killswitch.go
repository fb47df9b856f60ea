package risk

import (
	"sync"
	"time"

	"github.com/momentumalpha/trading-engine/internal/observ"
)

// TripReason records what tripped the kill switch.
type TripReason string

const (
	TripVIXBreach      TripReason = "vix_breach"
	TripDailyLossLimit TripReason = "daily_loss_limit"
	TripExternalHalt   TripReason = "external_halt"
)

// KillSwitch is the process-wide halt flag. Once tripped it stays
// tripped until an explicit Reset; the condition that caused it may
// recur immediately, so it never auto-clears.
type KillSwitch struct {
	mu        sync.RWMutex
	tripped   bool
	reason    TripReason
	detail    string
	trippedAt time.Time

	// listeners are notified once per trip; used by the order manager
	// to cancel all non-terminal orders immediately.
	listeners []func(TripReason, string)
}

func NewKillSwitch() *KillSwitch {
	return &KillSwitch{}
}

// OnTrip registers a callback invoked (on the tripping goroutine) each
// time the switch transitions from clear to tripped.
func (k *KillSwitch) OnTrip(fn func(TripReason, string)) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.listeners = append(k.listeners, fn)
}

// Trip sets the halt. Idempotent: re-tripping while tripped keeps the
// original reason.
func (k *KillSwitch) Trip(reason TripReason, detail string) {
	k.mu.Lock()
	if k.tripped {
		k.mu.Unlock()
		return
	}
	k.tripped = true
	k.reason = reason
	k.detail = detail
	k.trippedAt = time.Now()
	listeners := append([]func(TripReason, string){}, k.listeners...)
	k.mu.Unlock()

	observ.IncCounter("killswitch_trips_total", map[string]string{"reason": string(reason)})
	observ.SetGauge("killswitch_tripped", 1, nil)
	observ.Log("killswitch_tripped", map[string]any{"reason": string(reason), "detail": detail})

	for _, fn := range listeners {
		fn(reason, detail)
	}
}

// Reset clears the halt. Only an explicit external action calls this.
func (k *KillSwitch) Reset(by string) {
	k.mu.Lock()
	wasTripped := k.tripped
	k.tripped = false
	k.reason = ""
	k.detail = ""
	k.mu.Unlock()

	if wasTripped {
		observ.SetGauge("killswitch_tripped", 0, nil)
		observ.Log("killswitch_reset", map[string]any{"by": by})
	}
}

// Tripped reports the halt state and its reason.
func (k *KillSwitch) Tripped() (bool, TripReason) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.tripped, k.reason
}
