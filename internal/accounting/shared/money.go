// Package shared holds the error taxonomy and money conventions used across
// the ledger packages.
package shared

import (
	"strings"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of fractional digits kept for monetary values.
const AmountScale = 2

// Round rounds half away from zero to AmountScale.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(AmountScale)
}

// CheckAmount rejects negative amounts and amounts with excess precision.
func CheckAmount(field string, d decimal.Decimal) error {
	if d.IsNegative() {
		return Invalid(field, "non_negative", "amount must not be negative")
	}
	if !d.Equal(d.Truncate(AmountScale)) {
		return Invalid(field, "scale", "amount allows at most %d decimal places", AmountScale)
	}
	return nil
}

// ParseAmount parses a decimal string, allowing thousands separators.
func ParseAmount(field, raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, nil
	}
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, Invalid(field, "decimal", "%q is not a number", raw)
	}
	if negative {
		d = d.Neg()
	}
	if !d.Equal(d.Truncate(AmountScale)) {
		return decimal.Zero, Invalid(field, "scale", "amount allows at most %d decimal places", AmountScale)
	}
	return d, nil
}

// SplitNet places a signed debit-minus-credit net on one side.
func SplitNet(net decimal.Decimal) (debit, credit decimal.Decimal) {
	if net.IsNegative() {
		return decimal.Zero, net.Neg()
	}
	return net, decimal.Zero
}
