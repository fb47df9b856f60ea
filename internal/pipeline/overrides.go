package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/momentumalpha/trading-engine/internal/observ"
	"github.com/momentumalpha/trading-engine/internal/risk"
)

// Overrides is the operator control file. Writing it flips the kill
// switch or feeds a fresh VIX level without a restart.
type Overrides struct {
	Halt    bool     `json:"halt"`
	Reason  string   `json:"reason,omitempty"`
	ResetBy string   `json:"reset_by,omitempty"`
	VIX     *float64 `json:"vix,omitempty"`
}

// WatchOverrides applies the override file once at start, then on
// every change until the context ends. Editors and config tools
// replace files atomically, so the watch is on the parent directory
// and events are filtered by name.
func WatchOverrides(ctx context.Context, path string, ks *risk.KillSwitch, gate *risk.Gate) error {
	if err := applyOverrides(path, ks, gate); err != nil {
		observ.Log("overrides_initial_load_failed", map[string]any{"path": path, "error": err.Error()})
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("pipeline: overrides watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("pipeline: watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(path)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if err := applyOverrides(path, ks, gate); err != nil {
					observ.Log("overrides_reload_failed", map[string]any{"path": path, "error": err.Error()})
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				observ.Log("overrides_watch_error", map[string]any{"error": err.Error()})
			}
		}
	}()
	return nil
}

func applyOverrides(path string, ks *risk.KillSwitch, gate *risk.Gate) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // nothing to apply until an operator writes one
		}
		return err
	}
	var ov Overrides
	if err := json.Unmarshal(raw, &ov); err != nil {
		return fmt.Errorf("parse overrides: %w", err)
	}

	if ov.VIX != nil {
		gate.UpdateVIX(*ov.VIX)
		observ.SetGauge("market_vix", *ov.VIX, nil)
	}

	tripped, _ := ks.Tripped()
	switch {
	case ov.Halt && !tripped:
		reason := ov.Reason
		if reason == "" {
			reason = "operator override"
		}
		ks.Trip(risk.TripExternalHalt, reason)
		observ.Log("overrides_halt_applied", map[string]any{"reason": reason})
	case !ov.Halt && tripped && ov.ResetBy != "":
		ks.Reset(ov.ResetBy)
		observ.Log("overrides_reset_applied", map[string]any{"by": ov.ResetBy})
	}
	return nil
}
