package announce

import (
	"errors"
	"testing"
	"time"
)

func TestNormalizeMalformed(t *testing.T) {
	n := NewNormalizer(time.Hour)
	_, err := n.Normalize(RawPayload{Title: "   "})
	if !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("expected ErrMalformedInput, got %v", err)
	}
}

func TestNormalizeCanonicalFields(t *testing.T) {
	n := NewNormalizer(time.Hour)
	a, err := n.Normalize(RawPayload{
		Title:       "  XYZ Ltd Secures Contract  ",
		CompanyName: " XYZ Limited ",
		SymbolHint:  " xyz ",
		Date:        "2026-08-28",
	})
	if err != nil {
		t.Fatal(err)
	}
	if a.RawTitle != "XYZ Ltd Secures Contract" {
		t.Errorf("title not trimmed: %q", a.RawTitle)
	}
	if a.SymbolHint != "XYZ" {
		t.Errorf("symbol hint not uppercased: %q", a.SymbolHint)
	}
	if a.ContentHash == "" {
		t.Error("missing content hash")
	}
	if a.ReceivedAt.IsZero() {
		t.Error("received_at not stamped")
	}
}

func TestNormalizeDuplicateWithinRetention(t *testing.T) {
	n := NewNormalizer(time.Hour)
	p := RawPayload{Title: "RVNL Receives Order worth Rs. 1,200 Crore", SymbolHint: "RVNL", Date: "2026-08-28"}

	if _, err := n.Normalize(p); err != nil {
		t.Fatal(err)
	}
	if _, err := n.Normalize(p); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

// Whitespace and case changes must not defeat the dedupe key.
func TestNormalizeDuplicateIgnoresFormatting(t *testing.T) {
	n := NewNormalizer(time.Hour)
	if _, err := n.Normalize(RawPayload{Title: "KEC Bags Order of Rs. 85 Crore", SymbolHint: "KEC", Date: "2026-08-28"}); err != nil {
		t.Fatal(err)
	}
	_, err := n.Normalize(RawPayload{Title: "  kec  BAGS order of rs. 85 crore ", SymbolHint: "kec", Date: "2026-08-28"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestNormalizeDistinctDateIsNotDuplicate(t *testing.T) {
	n := NewNormalizer(time.Hour)
	if _, err := n.Normalize(RawPayload{Title: "KEC Bags Order of Rs. 85 Crore", SymbolHint: "KEC", Date: "2026-08-28"}); err != nil {
		t.Fatal(err)
	}
	if _, err := n.Normalize(RawPayload{Title: "KEC Bags Order of Rs. 85 Crore", SymbolHint: "KEC", Date: "2026-08-29"}); err != nil {
		t.Fatalf("distinct date should be a fresh announcement, got %v", err)
	}
}

func TestNormalizeRetentionExpiry(t *testing.T) {
	n := NewNormalizer(time.Hour)
	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return base }

	p := RawPayload{Title: "IRCON Secures Contract", SymbolHint: "IRCON", Date: "2026-08-28"}
	if _, err := n.Normalize(p); err != nil {
		t.Fatal(err)
	}

	// past the retention window the same content is fresh again
	n.now = func() time.Time { return base.Add(2 * time.Hour) }
	if _, err := n.Normalize(p); err != nil {
		t.Fatalf("expected re-admission after retention, got %v", err)
	}
}

func TestSweepEvictsStaleEntries(t *testing.T) {
	n := NewNormalizer(time.Hour)
	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return base }

	for _, title := range []string{"a wins order", "b wins order", "c wins order"} {
		if _, err := n.Normalize(RawPayload{Title: title}); err != nil {
			t.Fatal(err)
		}
	}

	n.now = func() time.Time { return base.Add(3 * time.Hour) }
	if _, err := n.Normalize(RawPayload{Title: "d wins order"}); err != nil {
		t.Fatal(err)
	}

	n.mu.Lock()
	size := len(n.seen)
	n.mu.Unlock()
	if size != 1 {
		t.Errorf("stale entries not evicted, set size = %d", size)
	}
}

func TestContentHashStable(t *testing.T) {
	h1 := ContentHash("XYZ Secures  Contract", "xyz", "2026-08-28")
	h2 := ContentHash("xyz secures contract", "XYZ", "2026-08-28")
	if h1 != h2 {
		t.Errorf("hash not canonical: %s vs %s", h1, h2)
	}
	if len(h1) != 32 {
		t.Errorf("unexpected hash length %d", len(h1))
	}
}
