package shared

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Nature is the accounting classification that fixes an account's sign convention.
type Nature string

const (
	NatureAsset     Nature = "ASSET"
	NatureLiability Nature = "LIABILITY"
	NatureEquity    Nature = "EQUITY"
	NatureIncome    Nature = "INCOME"
	NatureExpense   Nature = "EXPENSE"
)

// ParseNature normalises s into a Nature.
func ParseNature(s string) (Nature, error) {
	n := Nature(strings.ToUpper(strings.TrimSpace(s)))
	if !n.Valid() {
		return "", Invalid("nature", "oneof", "unknown nature %q", s)
	}
	return n, nil
}

// Valid reports whether n is a known nature.
func (n Nature) Valid() bool {
	switch n {
	case NatureAsset, NatureLiability, NatureEquity, NatureIncome, NatureExpense:
		return true
	}
	return false
}

// DebitNormal reports whether debits increase balances of this nature.
func (n Nature) DebitNormal() bool {
	return n == NatureAsset || n == NatureExpense
}

// Signed returns the balance effect of a debit/credit pair.
func (n Nature) Signed(debit, credit decimal.Decimal) decimal.Decimal {
	if n.DebitNormal() {
		return debit.Sub(credit)
	}
	return credit.Sub(debit)
}
