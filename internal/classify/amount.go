package classify

import (
	"regexp"
	"strconv"
	"strings"
)

// Indian numbering units.
const (
	Crore = 10_000_000
	Lakh  = 100_000
)

// Patterns are tried in order: currency prefix with unit, bare number
// with unit, then currency prefix without unit (taken as plain rupees).
var amountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:rs\.?|inr|rupees?)\s*([0-9,]+(?:\.[0-9]+)?)\s*(crores?|cr|lakhs?)`),
	regexp.MustCompile(`(?i)([0-9,]+(?:\.[0-9]+)?)\s*(crores?|cr|lakhs?)`),
	regexp.MustCompile(`(?i)(?:rs\.?|inr|rupees?)\s*([0-9,]+(?:\.[0-9]+)?)`),
}

// ParseAmount extracts an order value from free text and normalizes it
// to rupees. The second return is false when no amount is present.
func ParseAmount(text string) (float64, bool) {
	for _, re := range amountPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		raw := strings.ReplaceAll(m[1], ",", "")
		amount, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		if len(m) > 2 && m[2] != "" {
			unit := strings.ToLower(m[2])
			switch {
			case strings.HasPrefix(unit, "crore"), unit == "cr":
				amount *= Crore
			case strings.HasPrefix(unit, "lakh"):
				amount *= Lakh
			}
		}
		return amount, true
	}
	return 0, false
}

// AmountText returns the original amount expression for audit logs.
func AmountText(text string) string {
	for _, re := range amountPatterns[:2] {
		if m := re.FindString(text); m != "" {
			return m
		}
	}
	return ""
}
