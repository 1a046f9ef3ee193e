package ledger

import (
	"cmp"
	"sort"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reports"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// SortMovements orders movements by date, voucher number and line number.
func SortMovements(ms []Movement) {
	sort.SliceStable(ms, func(i, j int) bool {
		a, b := ms[i], ms[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if c := CompareVoucherNo(a.VoucherNo, b.VoucherNo); c != 0 {
			return c < 0
		}
		if a.VoucherID != b.VoucherID {
			return a.VoucherID < b.VoucherID
		}
		return a.LineNo < b.LineNo
	})
}

// MovementOrder is the SQL ordering that matches SortMovements.
const MovementOrder = `movement_date, regexp_replace(voucher_no, '[0-9]+$', ''), NULLIF(substring(voucher_no from '[0-9]+$'), '')::numeric, voucher_id, line_no`

// CompareVoucherNo orders voucher numbers by their prefix and then by the
// numeric sequence that ends them, so JV/2024-01/100000 follows
// JV/2024-01/99999.
func CompareVoucherNo(a, b string) int {
	pa, na := splitSequence(a)
	pb, nb := splitSequence(b)
	if pa != pb {
		return strings.Compare(pa, pb)
	}
	if len(na) != len(nb) {
		return cmp.Compare(len(na), len(nb))
	}
	return strings.Compare(na, nb)
}

// splitSequence cuts the trailing digits off a voucher number and drops
// their leading zeros.
func splitSequence(no string) (prefix, digits string) {
	i := len(no)
	for i > 0 && no[i-1] >= '0' && no[i-1] <= '9' {
		i--
	}
	return no[:i], strings.TrimLeft(no[i:], "0")
}

// BuildGeneralLedger computes the running balance of an account from the
// sums dated before from and the movements inside the range.
func BuildGeneralLedger(account accounts.Account, from, to time.Time, opening Sums, movements []Movement) GeneralLedger {
	gl := GeneralLedger{
		Account:        account,
		From:           shared.DateOnly(from),
		To:             shared.DateOnly(to),
		OpeningBalance: account.Nature.Signed(opening.Debit, opening.Credit),
		Lines:          make([]GLLine, 0, len(movements)),
	}
	ordered := append([]Movement(nil), movements...)
	SortMovements(ordered)

	running := gl.OpeningBalance
	for _, m := range ordered {
		running = running.Add(account.Nature.Signed(m.Debit, m.Credit))
		gl.Lines = append(gl.Lines, GLLine{
			Date:           m.Date,
			VoucherID:      m.VoucherID,
			VoucherNo:      m.VoucherNo,
			LineNo:         m.LineNo,
			Debit:          m.Debit,
			Credit:         m.Credit,
			RunningBalance: running,
		})
	}
	gl.ClosingBalance = running
	return gl
}

// BuildTrialBalance produces a row for every postable account and for any
// other account that carries movements.
func BuildTrialBalance(companyID int64, from, to time.Time, accts []accounts.Account, opening, period map[int64]Sums) TrialBalance {
	tb := TrialBalance{CompanyID: companyID, From: shared.DateOnly(from), To: shared.DateOnly(to), Rows: make([]TBRow, 0, len(accts))}
	for _, a := range accts {
		open, hasOpen := opening[a.ID]
		mov, hasMov := period[a.ID]
		if !a.IsPostable && !hasOpen && !hasMov {
			continue
		}
		row := TBRow{
			AccountID:      a.ID,
			Code:           a.Code,
			Name:           a.Name,
			Nature:         a.Nature,
			MovementDebit:  mov.Debit,
			MovementCredit: mov.Credit,
		}
		row.OpeningDebit, row.OpeningCredit = shared.SplitNet(open.Net())
		row.ClosingDebit, row.ClosingCredit = shared.SplitNet(open.Net().Add(mov.Net()))
		tb.Rows = append(tb.Rows, row)

		tb.Totals.OpeningDebit = tb.Totals.OpeningDebit.Add(row.OpeningDebit)
		tb.Totals.OpeningCredit = tb.Totals.OpeningCredit.Add(row.OpeningCredit)
		tb.Totals.MovementDebit = tb.Totals.MovementDebit.Add(row.MovementDebit)
		tb.Totals.MovementCredit = tb.Totals.MovementCredit.Add(row.MovementCredit)
		tb.Totals.ClosingDebit = tb.Totals.ClosingDebit.Add(row.ClosingDebit)
		tb.Totals.ClosingCredit = tb.Totals.ClosingCredit.Add(row.ClosingCredit)
	}
	sort.Slice(tb.Rows, func(i, j int) bool { return tb.Rows[i].Code < tb.Rows[j].Code })
	tb.Balanced = tb.Totals.OpeningDebit.Equal(tb.Totals.OpeningCredit) &&
		tb.Totals.MovementDebit.Equal(tb.Totals.MovementCredit) &&
		tb.Totals.ClosingDebit.Equal(tb.Totals.ClosingCredit)
	return tb
}

// Balances converts trial balance rows into report inputs.
func (tb TrialBalance) Balances() []reports.AccountBalance {
	out := make([]reports.AccountBalance, 0, len(tb.Rows))
	for _, row := range tb.Rows {
		out = append(out, reports.AccountBalance{
			AccountID: row.AccountID,
			Code:      row.Code,
			Name:      row.Name,
			Nature:    row.Nature,
			Opening:   row.OpeningNet(),
			Debit:     row.MovementDebit,
			Credit:    row.MovementCredit,
		})
	}
	return out
}
