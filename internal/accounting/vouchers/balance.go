package vouchers

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// MinLines is the smallest number of lines a voucher may leave DRAFT with.
const MinLines = 2

// CheckBalance totals lines. Equality is exact.
func CheckBalance(lines []Line) Balance {
	debit, credit := decimal.Zero, decimal.Zero
	for _, l := range lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	return Balance{Balanced: debit.Equal(credit), DebitTotal: debit, CreditTotal: credit}
}

// ValidateAmounts applies the per-line amount rules.
func ValidateAmounts(debit, credit decimal.Decimal) error {
	if err := shared.CheckAmount("debit", debit); err != nil {
		return err
	}
	if err := shared.CheckAmount("credit", credit); err != nil {
		return err
	}
	if !debit.IsZero() && !credit.IsZero() {
		return shared.Invalid("debit", "one_side", "a line carries either a debit or a credit, not both")
	}
	if debit.IsZero() && credit.IsZero() {
		return shared.Invalid("debit", "nonzero", "a line needs a debit or a credit amount")
	}
	return nil
}

// Validate checks that v may leave DRAFT: enough well-formed lines that
// balance exactly.
func Validate(v Voucher) error {
	if len(v.Lines) < MinLines {
		return shared.Invalid("lines", "min_lines", "voucher requires at least %d lines", MinLines)
	}
	for _, l := range v.Lines {
		if l.AccountID <= 0 {
			return shared.Invalid("account_id", "required", "line %d has no account", l.LineNo)
		}
		if err := ValidateAmounts(l.Debit, l.Credit); err != nil {
			return err
		}
	}
	b := CheckBalance(v.Lines)
	if !b.Balanced {
		return &shared.UnbalancedVoucherError{VoucherID: v.ID, DebitTotal: b.DebitTotal, CreditTotal: b.CreditTotal}
	}
	return nil
}

// Mirror returns lines with debit and credit swapped, renumbered from one.
func Mirror(lines []Line) []Line {
	out := make([]Line, 0, len(lines))
	for i, l := range lines {
		m := l
		m.VoucherID = 0
		m.LineNo = i + 1
		m.Debit, m.Credit = l.Credit, l.Debit
		out = append(out, m)
	}
	return out
}
