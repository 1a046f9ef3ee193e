package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reports"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// Service answers ledger queries.
type Service struct {
	store  Store
	logger *slog.Logger
	group  singleflight.Group
	now    func() time.Time
}

// NewService constructs the ledger query service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// WithNow overrides the clock used to stamp integrity reports.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// GeneralLedger returns the statement of one account for [from, to].
func (s *Service) GeneralLedger(ctx context.Context, accountID int64, from, to time.Time) (GeneralLedger, error) {
	if err := shared.CheckRange(from, to); err != nil {
		return GeneralLedger{}, err
	}
	from, to = shared.DateOnly(from), shared.DateOnly(to)
	var gl GeneralLedger
	err := s.store.ReadSnapshot(ctx, func(snap Snapshot) error {
		account, err := snap.Account(ctx, accountID)
		if err != nil {
			return err
		}
		opening, err := snap.AccountSumsBefore(ctx, accountID, from)
		if err != nil {
			return fmt.Errorf("ledger: opening sums: %w", err)
		}
		movements, err := snap.Movements(ctx, accountID, from, to)
		if err != nil {
			return fmt.Errorf("ledger: movements: %w", err)
		}
		gl = BuildGeneralLedger(account, from, to, opening, movements)
		return nil
	})
	return gl, err
}

// TrialBalance returns balances for every postable account. Identical
// concurrent requests share one read.
func (s *Service) TrialBalance(ctx context.Context, companyID int64, from, to time.Time) (TrialBalance, error) {
	if err := shared.CheckRange(from, to); err != nil {
		return TrialBalance{}, err
	}
	from, to = shared.DateOnly(from), shared.DateOnly(to)
	key := fmt.Sprintf("tb:%d:%s:%s", companyID, from.Format(shared.DateLayout), to.Format(shared.DateLayout))
	ch := s.group.DoChan(key, func() (any, error) {
		return s.readTrialBalance(context.WithoutCancel(ctx), companyID, from, to)
	})
	select {
	case <-ctx.Done():
		return TrialBalance{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return TrialBalance{}, res.Err
		}
		tb := res.Val.(TrialBalance)
		tb.Rows = append([]TBRow(nil), tb.Rows...)
		return tb, nil
	}
}

func (s *Service) readTrialBalance(ctx context.Context, companyID int64, from, to time.Time) (TrialBalance, error) {
	var tb TrialBalance
	err := s.store.ReadSnapshot(ctx, func(snap Snapshot) error {
		accts, err := snap.Accounts(ctx, companyID)
		if err != nil {
			return err
		}
		opening, err := snap.SumsBefore(ctx, companyID, from)
		if err != nil {
			return fmt.Errorf("ledger: opening sums: %w", err)
		}
		period, err := snap.SumsBetween(ctx, companyID, from, to)
		if err != nil {
			return fmt.Errorf("ledger: period sums: %w", err)
		}
		tb = BuildTrialBalance(companyID, from, to, accts, opening, period)
		return nil
	})
	if err != nil {
		return TrialBalance{}, err
	}
	if !tb.Balanced {
		s.logger.Warn("trial balance out of balance",
			slog.Int64("company_id", companyID),
			slog.String("closing_debit", tb.Totals.ClosingDebit.StringFixed(2)),
			slog.String("closing_credit", tb.Totals.ClosingCredit.StringFixed(2)))
	}
	return tb, nil
}

// GroupedTrialBalance groups the trial balance by account code prefix.
func (s *Service) GroupedTrialBalance(ctx context.Context, companyID int64, from, to time.Time) (reports.GroupedTrialBalance, error) {
	tb, err := s.TrialBalance(ctx, companyID, from, to)
	if err != nil {
		return reports.GroupedTrialBalance{}, err
	}
	return reports.BuildTrialBalance(tb.Balances()), nil
}

// ProfitAndLoss summarises income and expense movements for [from, to].
func (s *Service) ProfitAndLoss(ctx context.Context, companyID int64, from, to time.Time) (reports.ProfitAndLoss, error) {
	tb, err := s.TrialBalance(ctx, companyID, from, to)
	if err != nil {
		return reports.ProfitAndLoss{}, err
	}
	return reports.BuildProfitAndLoss(tb.Balances()), nil
}

// BalanceSheet reports closing balances as of the end of asOf.
func (s *Service) BalanceSheet(ctx context.Context, companyID int64, asOf time.Time) (reports.BalanceSheet, error) {
	tb, err := s.TrialBalance(ctx, companyID, asOf, asOf)
	if err != nil {
		return reports.BalanceSheet{}, err
	}
	return reports.BuildBalanceSheet(tb.Balances()), nil
}

// Account returns an account read through the ledger store.
func (s *Service) Account(ctx context.Context, id int64) (accounts.Account, error) {
	var a accounts.Account
	err := s.store.ReadSnapshot(ctx, func(snap Snapshot) error {
		var err error
		a, err = snap.Account(ctx, id)
		return err
	})
	return a, err
}

// Companies lists the companies that own accounts.
func (s *Service) Companies(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.store.ReadSnapshot(ctx, func(snap Snapshot) error {
		var err error
		ids, err = snap.Companies(ctx)
		return err
	})
	return ids, err
}

// CheckIntegrity verifies that every posted voucher balances and that the
// company's ledger nets to zero.
func (s *Service) CheckIntegrity(ctx context.Context, companyID int64) (IntegrityReport, error) {
	report := IntegrityReport{CompanyID: companyID, CheckedAt: s.now().UTC()}
	err := s.store.ReadSnapshot(ctx, func(snap Snapshot) error {
		var err error
		if report.Unbalanced, err = snap.UnbalancedVouchers(ctx, companyID); err != nil {
			return fmt.Errorf("ledger: unbalanced vouchers: %w", err)
		}
		if report.MissingMovements, err = snap.PostedWithoutMovements(ctx, companyID); err != nil {
			return fmt.Errorf("ledger: posted without movements: %w", err)
		}
		totals, err := snap.Totals(ctx, companyID)
		if err != nil {
			return fmt.Errorf("ledger: totals: %w", err)
		}
		report.TotalDebit, report.TotalCredit = totals.Debit, totals.Credit
		return nil
	})
	if err != nil {
		return IntegrityReport{}, err
	}
	report.Balanced = report.Anomalies() == 0
	if !report.Balanced {
		s.logger.Warn("ledger integrity anomalies",
			slog.Int64("company_id", companyID),
			slog.Int("unbalanced", len(report.Unbalanced)),
			slog.Int("missing_movements", len(report.MissingMovements)))
	}
	return report, nil
}
