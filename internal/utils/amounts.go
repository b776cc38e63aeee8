package utils

import (
	"math"
	"strconv"
	"strings"
)

// ParseAmount reads a turnover figure as entered by a reviewer or returned
// by the model: "2,343.24", " 100 ", "₹ 50". ok is false for empty or
// non-numeric text.
func ParseAmount(s string) (float64, bool) {
	cleaned := strings.TrimSpace(s)
	for _, prefix := range currencyPrefixes {
		cleaned = strings.TrimSpace(strings.TrimPrefix(cleaned, prefix))
	}
	cleaned = strings.NewReplacer(",", "", " ", "", "\u00a0", "").Replace(cleaned)
	if cleaned == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

var currencyPrefixes = []string{"INR", "Rs.", "Rs", "₹", "$"}

// AmountOrZero is ParseAmount with non-numeric input counted as 0.
func AmountOrZero(s string) float64 {
	v, _ := ParseAmount(s)
	return v
}

// FormatAmount renders a figure with two decimals, the precision used
// throughout the evaluation tables.
func FormatAmount(v float64) string {
	// Nudge values like 192.49999999999997 that come from float products.
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', 2, 64)
}

// DisplayAmount shows "-" for a contribution that does not parse.
func DisplayAmount(s string) string {
	if _, ok := ParseAmount(s); !ok {
		return "-"
	}
	return strings.TrimSpace(s)
}
