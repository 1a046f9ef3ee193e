// Package ledger reads posted movements into general ledger, trial balance
// and financial statement views.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// Movement is one posted voucher line. Movements are append-only and only
// created by the posting engine.
type Movement struct {
	AccountID int64           `json:"account_id"`
	VoucherID int64           `json:"voucher_id"`
	LineNo    int             `json:"line_no"`
	CompanyID int64           `json:"company_id"`
	BranchID  *int64          `json:"branch_id,omitempty"`
	VoucherNo string          `json:"voucher_no"`
	Date      time.Time       `json:"date"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	PostedAt  time.Time       `json:"posted_at"`
}

// Sums totals debits and credits.
type Sums struct {
	Debit  decimal.Decimal `json:"debit"`
	Credit decimal.Decimal `json:"credit"`
}

// Net returns debit minus credit.
func (s Sums) Net() decimal.Decimal {
	return s.Debit.Sub(s.Credit)
}

// Add accumulates a debit/credit pair.
func (s Sums) Add(debit, credit decimal.Decimal) Sums {
	return Sums{Debit: s.Debit.Add(debit), Credit: s.Credit.Add(credit)}
}

// GLLine is a general ledger row with its running balance.
type GLLine struct {
	Date           time.Time       `json:"date"`
	VoucherID      int64           `json:"voucher_id"`
	VoucherNo      string          `json:"voucher_no"`
	LineNo         int             `json:"line_no"`
	Debit          decimal.Decimal `json:"debit"`
	Credit         decimal.Decimal `json:"credit"`
	RunningBalance decimal.Decimal `json:"running_balance"`
}

// GeneralLedger is an account statement for a date range. Balances carry
// the account nature's sign.
type GeneralLedger struct {
	Account        accounts.Account `json:"account"`
	From           time.Time        `json:"from"`
	To             time.Time        `json:"to"`
	OpeningBalance decimal.Decimal  `json:"opening_balance"`
	Lines          []GLLine         `json:"lines"`
	ClosingBalance decimal.Decimal  `json:"closing_balance"`
}

// TBRow is a trial balance row. Each debit/credit pair has at most one
// nonzero side except the movement pair, which carries gross totals.
type TBRow struct {
	AccountID      int64           `json:"account_id"`
	Code           string          `json:"code"`
	Name           string          `json:"name"`
	Nature         shared.Nature   `json:"nature"`
	OpeningDebit   decimal.Decimal `json:"opening_debit"`
	OpeningCredit  decimal.Decimal `json:"opening_credit"`
	MovementDebit  decimal.Decimal `json:"movement_debit"`
	MovementCredit decimal.Decimal `json:"movement_credit"`
	ClosingDebit   decimal.Decimal `json:"closing_debit"`
	ClosingCredit  decimal.Decimal `json:"closing_credit"`
}

// OpeningNet returns opening debit minus credit.
func (r TBRow) OpeningNet() decimal.Decimal {
	return r.OpeningDebit.Sub(r.OpeningCredit)
}

// TBTotals sums every trial balance column.
type TBTotals struct {
	OpeningDebit   decimal.Decimal `json:"opening_debit"`
	OpeningCredit  decimal.Decimal `json:"opening_credit"`
	MovementDebit  decimal.Decimal `json:"movement_debit"`
	MovementCredit decimal.Decimal `json:"movement_credit"`
	ClosingDebit   decimal.Decimal `json:"closing_debit"`
	ClosingCredit  decimal.Decimal `json:"closing_credit"`
}

// TrialBalance lists account balances for a company and range.
type TrialBalance struct {
	CompanyID int64     `json:"company_id"`
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	Rows      []TBRow   `json:"rows"`
	Totals    TBTotals  `json:"totals"`
	Balanced  bool      `json:"balanced"`
}

// UnbalancedVoucher is a posted voucher whose movements do not net to zero.
type UnbalancedVoucher struct {
	VoucherID int64           `json:"voucher_id"`
	Number    string          `json:"number"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
}

// IntegrityReport is the outcome of CheckIntegrity.
type IntegrityReport struct {
	CompanyID        int64               `json:"company_id"`
	CheckedAt        time.Time           `json:"checked_at"`
	Unbalanced       []UnbalancedVoucher `json:"unbalanced"`
	MissingMovements []int64             `json:"missing_movements"`
	TotalDebit       decimal.Decimal     `json:"total_debit"`
	TotalCredit      decimal.Decimal     `json:"total_credit"`
	Balanced         bool                `json:"balanced"`
}

// Anomalies counts the problems the report found.
func (r IntegrityReport) Anomalies() int {
	n := len(r.Unbalanced) + len(r.MissingMovements)
	if !r.TotalDebit.Equal(r.TotalCredit) {
		n++
	}
	return n
}
