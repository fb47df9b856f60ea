package classify

import "strings"

// Rules is the declarative matching policy for award-of-order titles.
// Primary keywords qualify a title on their own; secondary keywords
// only add confidence and never qualify without a primary hit.
// Negation markers exclude a title outright, even on a primary hit.
// That is the false-positive guard for "Board Meeting to consider
// Award of Order" style titles.
type Rules struct {
	Primary   []string
	Secondary []string
	Negation  []string
}

// DefaultRules mirrors the BSE award-of-order phrasing observed in
// production disclosures.
func DefaultRules() Rules {
	return Rules{
		Primary: []string{
			"Award of Order", "Receives Order", "Secures Contract", "Order received", "Bags Order",
		},
		Secondary: []string{"Contract", "Agreement", "Supply", "Purchase Order"},
		Negation: []string{
			"to consider", "proposes to", "proposed", "board meeting", "may consider", "potential", "intends to bid",
		},
	}
}

// MatchPrimary returns the first primary keyword contained in the
// title, case-insensitively. The list is ordered: earlier keywords are
// the stronger phrasings.
func (r Rules) MatchPrimary(title string) (string, bool) {
	lower := strings.ToLower(title)
	for _, kw := range r.Primary {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return kw, true
		}
	}
	return "", false
}

// MatchSecondary reports whether any secondary keyword appears.
func (r Rules) MatchSecondary(title string) bool {
	lower := strings.ToLower(title)
	for _, kw := range r.Secondary {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// MatchNegation returns the first negation/conditional marker found.
func (r Rules) MatchNegation(title string) (string, bool) {
	lower := strings.ToLower(title)
	for _, marker := range r.Negation {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return marker, true
		}
	}
	return "", false
}
