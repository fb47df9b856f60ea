package announce

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/momentumalpha/trading-engine/internal/observ"
)

// RawPayload is what the announcement source pushes at us. Fields come
// straight off the disclosure feed and are untrusted.
type RawPayload struct {
	Title        string    `json:"title"`
	CompanyName  string    `json:"company_name"`
	SymbolHint   string    `json:"symbol_hint"`
	Date         string    `json:"date"` // disclosure date as published, e.g. "2026-08-30"
	PDFReference string    `json:"pdf_reference"`
	ReceivedAt   time.Time `json:"received_at"`
}

// Announcement is the canonical, immutable record handed to the classifier.
type Announcement struct {
	ContentHash  string
	RawTitle     string
	CompanyName  string
	SymbolHint   string
	ReceivedAt   time.Time
	PDFReference string
}

// ErrMalformedInput marks payloads that cannot become an Announcement.
// They are dropped, never retried.
var ErrMalformedInput = errors.New("announce: malformed payload")

// ErrDuplicate marks a content hash already seen inside the retention
// window. Duplicates are dropped silently (debug log only).
var ErrDuplicate = errors.New("announce: duplicate announcement")

// Normalizer canonicalizes raw payloads and drops repeats. The recency
// set is bounded by age: entries older than the retention window are
// evicted on the next insert.
type Normalizer struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	retention time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func NewNormalizer(retention time.Duration) *Normalizer {
	return &Normalizer{
		seen:      make(map[string]time.Time),
		retention: retention,
		now:       time.Now,
	}
}

// Normalize turns a raw payload into an Announcement, or reports why it
// cannot: ErrMalformedInput for unusable payloads, ErrDuplicate for
// repeats within the retention window.
func (n *Normalizer) Normalize(p RawPayload) (*Announcement, error) {
	title := strings.TrimSpace(p.Title)
	if title == "" {
		observ.IncCounter("announce_malformed_total", nil)
		return nil, ErrMalformedInput
	}

	received := p.ReceivedAt
	if received.IsZero() {
		received = n.now()
	}

	hash := ContentHash(title, p.SymbolHint, p.Date)

	n.mu.Lock()
	now := n.now()
	n.sweepLocked(now)
	if seenAt, ok := n.seen[hash]; ok && now.Sub(seenAt) < n.retention {
		n.mu.Unlock()
		observ.IncCounter("announce_duplicates_total", nil)
		observ.Debug("announce_duplicate_dropped", map[string]any{"hash": hash, "title": title})
		return nil, ErrDuplicate
	}
	n.seen[hash] = now
	n.mu.Unlock()

	observ.IncCounter("announce_accepted_total", nil)
	return &Announcement{
		ContentHash:  hash,
		RawTitle:     title,
		CompanyName:  strings.TrimSpace(p.CompanyName),
		SymbolHint:   strings.ToUpper(strings.TrimSpace(p.SymbolHint)),
		ReceivedAt:   received,
		PDFReference: p.PDFReference,
	}, nil
}

// sweepLocked evicts entries past the retention window. Sweeping at
// most once per minute keeps the set bounded without scanning on every
// announcement in a burst.
func (n *Normalizer) sweepLocked(now time.Time) {
	if now.Sub(n.lastSweep) < time.Minute && len(n.seen) < 10_000 {
		return
	}
	cutoff := now.Add(-n.retention)
	for h, ts := range n.seen {
		if ts.Before(cutoff) {
			delete(n.seen, h)
		}
	}
	n.lastSweep = now
	observ.SetGauge("announce_dedupe_set_size", float64(len(n.seen)), nil)
}

// ContentHash computes the dedupe key over a canonicalized form of
// title+symbol+date: lowercased, whitespace collapsed to single spaces.
func ContentHash(title, symbol, date string) string {
	canon := canonicalize(title) + "|" + canonicalize(symbol) + "|" + canonicalize(date)
	sum := sha256.Sum256([]byte(canon))
	return hex.EncodeToString(sum[:16])
}

func canonicalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
