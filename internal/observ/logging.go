package observ

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

var debugEnabled atomic.Bool

// SetDebug toggles emission of debug-level events.
func SetDebug(on bool) {
	debugEnabled.Store(on)
}

// Log emits a single-line JSON event to stdout.
func Log(event string, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	kv["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	kv["event"] = event
	b, _ := json.Marshal(kv)
	fmt.Println(string(b))
}

// Debug emits an event only when debug logging is enabled. Used on the
// hot ingestion path (duplicate drops, per-announcement traces).
func Debug(event string, kv map[string]any) {
	if !debugEnabled.Load() {
		return
	}
	if kv == nil {
		kv = map[string]any{}
	}
	kv["level"] = "debug"
	Log(event, kv)
}
