// Package reports shapes account balances into trial balance groups, profit
// and loss and balance sheet statements.
package reports

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// AccountBalance models an account with aggregated balances. Opening is the
// debit-minus-credit net before the period; Debit and Credit are the period
// movements.
type AccountBalance struct {
	AccountID int64           `json:"account_id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Nature    shared.Nature   `json:"nature"`
	Opening   decimal.Decimal `json:"opening"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
}

// Closing computes the debit-minus-credit closing net.
func (a AccountBalance) Closing() decimal.Decimal {
	return a.Opening.Add(a.Debit).Sub(a.Credit)
}

// SignedClosing returns the closing balance in the account's natural sign.
func (a AccountBalance) SignedClosing() decimal.Decimal {
	if a.Nature.DebitNormal() {
		return a.Closing()
	}
	return a.Closing().Neg()
}

// GroupKey returns a key used for grouping trial balance rows.
func (a AccountBalance) GroupKey() string {
	if idx := strings.Index(a.Code, "."); idx > 0 {
		return a.Code[:idx]
	}
	if len(a.Code) >= 2 {
		return a.Code[:2]
	}
	return a.Code
}
