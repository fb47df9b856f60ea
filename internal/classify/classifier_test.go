package classify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentumalpha/trading-engine/internal/announce"
)

func testTable() *SymbolTable {
	return NewSymbolTable([]SymbolEntry{
		{Symbol: "XYZ", Company: "XYZ Limited", Sector: "Infrastructure"},
		{Symbol: "RVNL", Company: "Rail Vikas Nigam Limited", Sector: "Railways"},
		{Symbol: "KEC", Company: "KEC International Limited", Sector: "Capital Goods"},
	})
}

func testClassifier() *Classifier {
	return NewClassifier(Config{
		MinOrderValue:       1 * Crore,
		ConfidenceThreshold: 0.8,
	}, testTable())
}

func ann(title, hint, company string) *announce.Announcement {
	return &announce.Announcement{
		ContentHash: announce.ContentHash(title, hint, "2026-08-28"),
		RawTitle:    title,
		CompanyName: company,
		SymbolHint:  hint,
		ReceivedAt:  time.Now(),
	}
}

func TestClassifyAcceptsLargeOrder(t *testing.T) {
	c := testClassifier()
	sig, rej := c.Classify(ann("XYZ Ltd Secures Contract worth Rs. 500 Crore from NHAI", "XYZ", "XYZ Limited"))
	require.Nil(t, rej)
	require.NotNil(t, sig)

	assert.Equal(t, "XYZ", sig.Symbol)
	assert.Equal(t, "Infrastructure", sig.Sector)
	assert.Equal(t, "Secures Contract", sig.MatchedKeyword)
	assert.InDelta(t, 500*Crore, sig.OrderValue, 1)
	// 0.5 primary + 0.2 value + 0.1 large value + 0.1 secondary ("Contract")
	assert.InDelta(t, 0.9, sig.Confidence, 1e-9)
}

// A score meant to equal the threshold must clear it: primary + value
// + large value is exactly 0.8 against the default 0.8 threshold.
func TestClassifyAcceptsScoreAtThreshold(t *testing.T) {
	c := testClassifier()
	sig, rej := c.Classify(ann("RVNL Receives Order worth Rs. 1,200 Crore", "RVNL", "Rail Vikas Nigam Limited"))
	require.Nil(t, rej)
	require.NotNil(t, sig)
	assert.Equal(t, "RVNL", sig.Symbol)
	assert.GreaterOrEqual(t, sig.Confidence, 0.8)
}

// A negation marker beats a primary keyword in the same title.
func TestClassifyNegationBeatsPrimary(t *testing.T) {
	c := testClassifier()
	sig, rej := c.Classify(ann("Board Meeting to consider Award of Order opportunities", "XYZ", "XYZ Limited"))
	require.Nil(t, sig)
	require.NotNil(t, rej)
	assert.Equal(t, ReasonNegation, rej.Reason)
}

func TestClassifyRejections(t *testing.T) {
	cases := []struct {
		name   string
		title  string
		hint   string
		comp   string
		reason RejectReason
	}{
		{"no keyword", "XYZ Ltd announces quarterly results", "XYZ", "XYZ Limited", ReasonNoKeyword},
		{"unresolved symbol", "Unknown Corp Receives Order worth Rs. 50 Crore", "", "Unknown Corp", ReasonUnresolvedSymbol},
		{"below min value", "XYZ Ltd Receives Order worth Rs. 50 lakh", "XYZ", "XYZ Limited", ReasonBelowMinValue},
		{"no value scores low", "XYZ Ltd Receives Order from state utility for five year maintenance", "XYZ", "XYZ Limited", ReasonLowConfidence},
		{"proposed tender", "RVNL proposes to bid for metro project", "RVNL", "Rail Vikas Nigam Limited", ReasonNegation},
	}
	c := testClassifier()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sig, rej := c.Classify(ann(tc.title, tc.hint, tc.comp))
			require.Nil(t, sig)
			require.NotNil(t, rej)
			assert.Equal(t, tc.reason, rej.Reason)
		})
	}
}

// A small parseable value scores 0.7 (0.5 primary + 0.2 value), below
// the 0.8 threshold, but the min-value check fires first.
func TestClassifyOrderOfChecks(t *testing.T) {
	c := testClassifier()
	sig, rej := c.Classify(ann("KEC Receives Order worth Rs. 20 lakh", "KEC", ""))
	require.Nil(t, sig)
	require.NotNil(t, rej)
	assert.Equal(t, ReasonBelowMinValue, rej.Reason)
}

// Even with a permissive confidence threshold, a signal without a
// parseable amount cannot satisfy the minimum order value.
func TestClassifyNoValueNeverTrades(t *testing.T) {
	c := NewClassifier(Config{
		MinOrderValue:       1 * Crore,
		ConfidenceThreshold: 0.5,
	}, testTable())
	sig, rej := c.Classify(ann("XYZ Ltd Receives Order from state utility", "XYZ", ""))
	require.Nil(t, sig)
	require.NotNil(t, rej)
	assert.Equal(t, ReasonBelowMinValue, rej.Reason)
}

func TestClassifyResolvesFromTitle(t *testing.T) {
	c := testClassifier()
	// no hint, no company field: leading title words carry the entity
	sig, rej := c.Classify(ann("XYZ Limited Secures Contract worth Rs. 120 Crore", "", ""))
	require.Nil(t, rej)
	assert.Equal(t, "XYZ", sig.Symbol)
}

func TestClassifySecondaryAndYearBoost(t *testing.T) {
	c := NewClassifier(Config{
		Rules: Rules{
			Primary:   []string{"Receives Order"},
			Secondary: []string{"Work Order"},
			Negation:  DefaultRules().Negation,
		},
		MinOrderValue:       1 * Crore,
		ConfidenceThreshold: 0.8,
	}, testTable())

	sig, rej := c.Classify(ann("KEC Receives Order: Work Order worth Rs. 5 Crore over two year span", "KEC", ""))
	require.Nil(t, rej)
	// 0.5 + 0.2 value + 0.1 secondary + 0.05 year = 0.85 (value not > 10cr)
	assert.InDelta(t, 0.85, sig.Confidence, 1e-9)
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		text  string
		want  float64
		found bool
	}{
		{"worth Rs. 500 Crore", 500 * Crore, true},
		{"worth Rs 1,200 crores", 1200 * Crore, true},
		{"valued at INR 310 Crore", 310 * Crore, true},
		{"of Rs. 85 Cr", 85 * Crore, true},
		{"worth Rs. 60 lakh", 60 * Lakh, true},
		{"approx 2.5 crore order", 2.5 * Crore, true},
		{"consideration of Rupees 75,00,000", 7_500_000, true},
		{"multi-year framework agreement", 0, false},
		{"order book grows", 0, false},
	}
	for _, tc := range cases {
		got, found := ParseAmount(tc.text)
		if found != tc.found {
			t.Errorf("%q: found=%v want %v", tc.text, found, tc.found)
			continue
		}
		if found && got != tc.want {
			t.Errorf("%q: got %.0f want %.0f", tc.text, got, tc.want)
		}
	}
}

func TestSymbolTableResolve(t *testing.T) {
	tbl := testTable()

	cases := []struct {
		hint, company string
		wantSym       string
		ok            bool
	}{
		{"XYZ", "", "XYZ", true},
		{"xyz", "", "XYZ", true},
		{"", "XYZ Limited", "XYZ", true},
		{"", "XYZ Ltd.", "XYZ", true},
		{"", "xyz ltd", "XYZ", true},
		{"NOPE", "Nobody Plc", "", false},
	}
	for _, tc := range cases {
		e, ok := tbl.Resolve(tc.hint, tc.company)
		if ok != tc.ok {
			t.Errorf("Resolve(%q,%q) ok=%v want %v", tc.hint, tc.company, ok, tc.ok)
			continue
		}
		if ok && e.Symbol != tc.wantSym {
			t.Errorf("Resolve(%q,%q) = %s want %s", tc.hint, tc.company, e.Symbol, tc.wantSym)
		}
	}
}
