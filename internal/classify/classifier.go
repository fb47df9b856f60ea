package classify

import (
	"fmt"
	"strings"
	"time"

	"github.com/momentumalpha/trading-engine/internal/announce"
	"github.com/momentumalpha/trading-engine/internal/observ"
)

// RejectReason enumerates why an announcement is not tradable.
// Classification rejections are terminal, never retried.
type RejectReason string

const (
	ReasonNoKeyword        RejectReason = "no_keyword"
	ReasonNegation         RejectReason = "negation_detected"
	ReasonUnresolvedSymbol RejectReason = "unresolved_symbol"
	ReasonBelowMinValue    RejectReason = "below_min_value"
	ReasonLowConfidence    RejectReason = "low_confidence"
)

// Rejection carries the terminal classification outcome.
type Rejection struct {
	Reason RejectReason
	Detail string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("classify: rejected (%s): %s", r.Reason, r.Detail)
}

// Signal is a confirmed award-of-order event, derived from exactly one
// announcement. It exists only when confidence and order value clear
// their configured thresholds.
type Signal struct {
	Announcement   *announce.Announcement
	MatchedKeyword string
	Company        string
	Symbol         string
	Sector         string
	OrderValue     float64 // rupees
	Confidence     float64 // [0,1]
	CreatedAt      time.Time
}

type Config struct {
	Rules               Rules
	MinOrderValue       float64
	ConfidenceThreshold float64
}

// Classifier decides whether a normalized announcement is a tradable
// award-of-order event and extracts its entities. Pure and stateless:
// safe to call concurrently across distinct announcements.
type Classifier struct {
	cfg     Config
	symbols *SymbolTable
	now     func() time.Time
}

func NewClassifier(cfg Config, symbols *SymbolTable) *Classifier {
	if len(cfg.Rules.Primary) == 0 {
		cfg.Rules = DefaultRules()
	}
	return &Classifier{cfg: cfg, symbols: symbols, now: time.Now}
}

// Classify runs the two-stage decision: keyword stage then entity
// stage. Exactly one of (signal, rejection) is non-nil.
func (c *Classifier) Classify(a *announce.Announcement) (*Signal, *Rejection) {
	// Keyword stage. Negation markers beat a primary hit: a title like
	// "Board Meeting to consider Award of Order" must never trade.
	if marker, ok := c.cfg.Rules.MatchNegation(a.RawTitle); ok {
		return nil, c.reject(a, ReasonNegation, fmt.Sprintf("marker %q", marker))
	}
	keyword, primary := c.cfg.Rules.MatchPrimary(a.RawTitle)
	if !primary {
		return nil, c.reject(a, ReasonNoKeyword, "no primary keyword in title")
	}

	// Entity stage.
	entry, resolved := c.symbols.Resolve(a.SymbolHint, a.CompanyName)
	if !resolved {
		entry, resolved = c.resolveFromTitle(a.RawTitle)
	}
	if !resolved {
		return nil, c.reject(a, ReasonUnresolvedSymbol,
			fmt.Sprintf("hint=%q company=%q", a.SymbolHint, a.CompanyName))
	}

	orderValue, hasValue := ParseAmount(a.RawTitle)
	confidence := c.score(a.RawTitle, orderValue, hasValue)

	if hasValue && orderValue < c.cfg.MinOrderValue {
		return nil, c.reject(a, ReasonBelowMinValue,
			fmt.Sprintf("order_value=%.0f min=%.0f", orderValue, c.cfg.MinOrderValue))
	}
	if confidence < c.cfg.ConfidenceThreshold {
		return nil, c.reject(a, ReasonLowConfidence,
			fmt.Sprintf("confidence=%.2f threshold=%.2f", confidence, c.cfg.ConfidenceThreshold))
	}
	if !hasValue {
		// An accepted signal must satisfy order_value >= min_order_value;
		// with no parseable amount there is nothing to satisfy it with.
		return nil, c.reject(a, ReasonBelowMinValue, "no order value in title")
	}

	observ.IncCounter("classify_signals_total", nil)
	return &Signal{
		Announcement:   a,
		MatchedKeyword: keyword,
		Company:        entry.Company,
		Symbol:         entry.Symbol,
		Sector:         entry.Sector,
		OrderValue:     orderValue,
		Confidence:     confidence,
		CreatedAt:      c.now(),
	}, nil
}

// score is the weighted confidence combination: keyword-match strength,
// entity-extraction success, and supporting phrasing. Negation absence
// is implicit since negation titles never reach scoring. Weights
// accumulate in integer basis points so a score meant to equal the
// threshold compares equal instead of landing a ulp below it.
func (c *Classifier) score(title string, orderValue float64, hasValue bool) float64 {
	bps := 50 // primary keyword hit (mandatory to get here)
	if hasValue {
		bps += 20
		if orderValue > 10*Crore {
			bps += 10
		}
	}
	lower := strings.ToLower(title)
	if c.cfg.Rules.MatchSecondary(title) {
		bps += 10
	}
	if strings.Contains(lower, "year") {
		bps += 5
	}
	if bps > 100 {
		bps = 100
	}
	return float64(bps) / 100
}

// resolveFromTitle scans leading title words for a company the symbol
// table knows, e.g. "XYZ Ltd Secures Contract ...".
func (c *Classifier) resolveFromTitle(title string) (SymbolEntry, bool) {
	words := strings.Fields(title)
	for n := min(6, len(words)); n >= 1; n-- {
		if e, ok := c.symbols.Resolve("", strings.Join(words[:n], " ")); ok {
			return e, true
		}
	}
	return SymbolEntry{}, false
}

func (c *Classifier) reject(a *announce.Announcement, reason RejectReason, detail string) *Rejection {
	observ.IncCounter("classify_rejections_total", map[string]string{"reason": string(reason)})
	observ.Log("classify_rejected", map[string]any{
		"hash":   a.ContentHash,
		"title":  a.RawTitle,
		"reason": string(reason),
		"detail": detail,
	})
	return &Rejection{Reason: reason, Detail: detail}
}
