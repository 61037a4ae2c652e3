package session

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatINR renders an amount as Indian Rupees with en-IN digit grouping:
// the last three integer digits, then groups of two ("₹12,34,567.80").
func FormatINR(amount decimal.Decimal) string {
	rounded := amount.Round(2)

	sign := ""
	if rounded.IsNegative() {
		sign = "-"
		rounded = rounded.Abs()
	}

	whole, frac, _ := strings.Cut(rounded.StringFixed(2), ".")
	return sign + "₹" + groupIndian(whole) + "." + frac
}

// FormatPercent renders a percentage with two fraction digits.
func FormatPercent(pct decimal.Decimal) string {
	return pct.StringFixed(2) + "%"
}

func groupIndian(digits string) string {
	if len(digits) <= 3 {
		return digits
	}

	head, tail := digits[:len(digits)-3], digits[len(digits)-3:]

	var b strings.Builder
	first := len(head) % 2
	if first > 0 {
		b.WriteString(head[:first])
	}
	for i := first; i < len(head); i += 2 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(head[i : i+2])
	}
	b.WriteByte(',')
	b.WriteString(tail)
	return b.String()
}
