package e2e

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/vouchers"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

const (
	companyID int64 = 1
	clerkID   int64 = 7
	managerID int64 = 8
)

type harness struct {
	book     *book
	accounts *accounts.Service
	periods  *periods.Service
	vouchers *vouchers.Service
	ledger   *ledger.Service
	registry *prometheus.Registry
	cash     accounts.Account
	revenue  accounts.Account
	january  periods.Period
}

func day(s string) time.Time {
	t, err := time.Parse(shared.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := newBook()
	registry := prometheus.NewRegistry()

	accountService := accounts.NewService(accountStore{b}, nil, logger)
	periodService := periods.NewService(periodStore{b}, nil)
	engine := posting.NewEngine(posting.Config{
		Repo:    postingStore{b},
		Metrics: posting.NewMetrics(registry),
		Logger:  logger,
	})
	engine.WithNow(func() time.Time { return time.Date(2024, 1, 31, 17, 0, 0, 0, time.UTC) })
	voucherService := vouchers.NewService(vouchers.Config{
		Repo:         voucherStore{b},
		Periods:      periodService,
		Accounts:     accountService,
		Poster:       engine,
		BaseCurrency: "IDR",
		Logger:       logger,
	})

	h := &harness{
		book:     b,
		accounts: accountService,
		periods:  periodService,
		vouchers: voucherService,
		ledger:   ledger.NewService(ledgerStore{b}, logger),
		registry: registry,
	}

	cashGroup, err := accountService.CreateGroup(ctx, accounts.CreateGroupInput{
		CompanyID: companyID, Code: "CASH-GRP", Name: "ASSET/Cash", Nature: shared.NatureAsset, ActorID: clerkID,
	})
	require.NoError(t, err)
	incomeGroup, err := accountService.CreateGroup(ctx, accounts.CreateGroupInput{
		CompanyID: companyID, Code: "REV-GRP", Name: "Revenue", Nature: shared.NatureIncome, ActorID: clerkID,
	})
	require.NoError(t, err)
	h.cash, err = accountService.CreateAccount(ctx, accounts.CreateAccountInput{
		CompanyID: companyID, Code: "1001", Name: "Cash", GroupID: cashGroup.ID, IsPostable: true, ActorID: clerkID,
	})
	require.NoError(t, err)
	h.revenue, err = accountService.CreateAccount(ctx, accounts.CreateAccountInput{
		CompanyID: companyID, Code: "4001", Name: "Sales", GroupID: incomeGroup.ID, IsPostable: true, ActorID: clerkID,
	})
	require.NoError(t, err)
	require.Equal(t, shared.NatureAsset, h.cash.Nature)

	h.january, err = periodService.Create(ctx, periods.CreateInput{
		CompanyID: companyID, Code: "2024-01", StartDate: day("2024-01-01"), EndDate: day("2024-01-31"), ActorID: managerID,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) journal(t *testing.T, debit, credit string) vouchers.Voucher {
	t.Helper()
	v, err := h.vouchers.Create(context.Background(), vouchers.CreateInput{
		CompanyID: companyID,
		Type:      vouchers.TypeJournal,
		Date:      day("2024-01-15"),
		Narration: "cash sale",
		ActorID:   clerkID,
		Lines: []vouchers.LineInput{
			{AccountID: h.cash.ID, Debit: amt(debit), Credit: decimal.Zero},
			{AccountID: h.revenue.ID, Debit: decimal.Zero, Credit: amt(credit)},
		},
	})
	require.NoError(t, err)
	return v
}

func (h *harness) approveAndPost(t *testing.T, id int64) vouchers.Voucher {
	t.Helper()
	ctx := context.Background()
	_, err := h.vouchers.Submit(ctx, id, clerkID)
	require.NoError(t, err)
	_, err = h.vouchers.RequestApproval(ctx, id, clerkID)
	require.NoError(t, err)
	_, err = h.vouchers.Approve(ctx, id, managerID)
	require.NoError(t, err)
	posted, err := h.vouchers.Post(ctx, id, managerID)
	require.NoError(t, err)
	return posted
}

func row(t *testing.T, tb ledger.TrialBalance, accountID int64) ledger.TBRow {
	t.Helper()
	for _, r := range tb.Rows {
		if r.AccountID == accountID {
			return r
		}
	}
	t.Fatalf("account %d missing from trial balance", accountID)
	return ledger.TBRow{}
}

func TestPostedJournalReachesTrialBalance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	v := h.journal(t, "100.00", "100.00")
	require.Equal(t, vouchers.StatusDraft, v.Status)
	require.Equal(t, "JV/2024-01/00001", v.Number)

	posted := h.approveAndPost(t, v.ID)
	require.Equal(t, vouchers.StatusPosted, posted.Status)
	require.Len(t, h.book.movements, 2)

	tb, err := h.ledger.TrialBalance(ctx, companyID, day("2024-01-01"), day("2024-01-31"))
	require.NoError(t, err)
	require.True(t, tb.Balanced)
	cash := row(t, tb, h.cash.ID)
	require.True(t, cash.MovementDebit.Equal(amt("100.00")), cash.MovementDebit.String())
	require.True(t, cash.ClosingDebit.Equal(amt("100.00")), cash.ClosingDebit.String())
	require.True(t, cash.ClosingCredit.IsZero())
	sales := row(t, tb, h.revenue.ID)
	require.True(t, sales.ClosingCredit.Equal(amt("100.00")))
	require.True(t, tb.Totals.ClosingDebit.Equal(tb.Totals.ClosingCredit))

	gl, err := h.ledger.GeneralLedger(ctx, h.cash.ID, day("2024-01-01"), day("2024-01-31"))
	require.NoError(t, err)
	require.Len(t, gl.Lines, 1)
	require.Equal(t, posted.Number, gl.Lines[0].VoucherNo)
	require.True(t, gl.ClosingBalance.Equal(amt("100.00")))

	_, err = h.vouchers.Post(ctx, v.ID, managerID)
	require.ErrorIs(t, err, httpx.ErrState)
	require.Len(t, h.book.movements, 2)
}

func TestUnbalancedVoucherStaysDraft(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	v := h.journal(t, "100.00", "99.99")
	_, err := h.vouchers.Submit(ctx, v.ID, clerkID)
	var unbalanced *shared.UnbalancedVoucherError
	require.True(t, errors.As(err, &unbalanced), "got %v", err)
	require.True(t, unbalanced.DebitTotal.Equal(amt("100.00")))
	require.True(t, unbalanced.CreditTotal.Equal(amt("99.99")))

	stored, err := h.vouchers.Get(ctx, v.ID)
	require.NoError(t, err)
	require.Equal(t, vouchers.StatusDraft, stored.Status)
	require.Empty(t, h.book.movements)

	bal, err := h.vouchers.BalanceCheck(ctx, v.ID)
	require.NoError(t, err)
	require.False(t, bal.Balanced)
}

func TestReversalNetsAccountToZero(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	original := h.approveAndPost(t, h.journal(t, "250.00", "250.00").ID)
	reversal, err := h.vouchers.Reverse(ctx, vouchers.ReverseInput{VoucherID: original.ID, ActorID: managerID})
	require.NoError(t, err)
	require.Equal(t, vouchers.StatusPosted, reversal.Status)
	require.NotNil(t, reversal.ReversalOf)
	require.Equal(t, original.ID, *reversal.ReversalOf)

	stored, err := h.vouchers.Get(ctx, original.ID)
	require.NoError(t, err)
	require.Equal(t, vouchers.StatusReversed, stored.Status)

	gl, err := h.ledger.GeneralLedger(ctx, h.cash.ID, day("2024-01-01"), day("2024-01-31"))
	require.NoError(t, err)
	require.Len(t, gl.Lines, 2)
	require.True(t, gl.ClosingBalance.IsZero(), gl.ClosingBalance.String())

	_, err = h.vouchers.Reverse(ctx, vouchers.ReverseInput{VoucherID: original.ID, ActorID: managerID})
	require.ErrorIs(t, err, httpx.ErrState)

	require.NoError(t, h.accounts.SetActive(ctx, accounts.SetActiveInput{Kind: accounts.KindAccount, ID: h.cash.ID, Active: false, ActorID: managerID}))
}

func TestAccountWithBalanceCannotBeDeactivated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.approveAndPost(t, h.journal(t, "40.00", "40.00").ID)

	err := h.accounts.SetActive(ctx, accounts.SetActiveInput{Kind: accounts.KindAccount, ID: h.cash.ID, Active: false, ActorID: managerID})
	require.ErrorIs(t, err, httpx.ErrConflict)

	err = h.accounts.DeleteAccount(ctx, h.cash.ID, managerID)
	require.ErrorIs(t, err, httpx.ErrConflict)
}

func TestLockedPeriodRefusesPosting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	v := h.journal(t, "10.00", "10.00")
	_, err := h.vouchers.Submit(ctx, v.ID, clerkID)
	require.NoError(t, err)
	_, err = h.vouchers.RequestApproval(ctx, v.ID, clerkID)
	require.NoError(t, err)
	_, err = h.vouchers.Approve(ctx, v.ID, managerID)
	require.NoError(t, err)

	_, err = h.periods.SetStatus(ctx, periods.StatusInput{ID: h.january.ID, Status: periods.PeriodStatusLocked, ActorID: managerID})
	require.NoError(t, err)

	_, err = h.vouchers.Post(ctx, v.ID, managerID)
	require.ErrorIs(t, err, httpx.ErrState)
	stored, err := h.vouchers.Get(ctx, v.ID)
	require.NoError(t, err)
	require.Equal(t, vouchers.StatusApproved, stored.Status)
	require.Empty(t, h.book.movements)
}

func TestIntegrityJobFindsCleanLedger(t *testing.T) {
	h := newHarness(t)
	h.approveAndPost(t, h.journal(t, "75.50", "75.50").ID)

	job := jobs.NewGLIntegrityJob(h.ledger, slog.New(slog.NewTextHandler(io.Discard, nil)), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	reports, err := job.Run(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.Equal(t, companyID, reports[0].CompanyID)
	require.Zero(t, reports[0].Anomalies())
	require.True(t, reports[0].TotalDebit.Equal(amt("75.50")))
}
