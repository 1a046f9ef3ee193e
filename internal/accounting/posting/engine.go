// Package posting materialises approved vouchers as ledger movements.
package posting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/vouchers"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	internalShared "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Locker hands out exclusive keys.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

// Config carries engine collaborators. Locker, Audit and Metrics are optional.
type Config struct {
	Repo    RepositoryPort
	Locker  Locker
	Audit   AuditPort
	Metrics *Metrics
	Logger  *slog.Logger
}

// Engine posts and reverses vouchers.
type Engine struct {
	repo    RepositoryPort
	locker  Locker
	audit   AuditPort
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewEngine constructs the posting engine.
func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		repo:    cfg.Repo,
		locker:  cfg.Locker,
		audit:   cfg.Audit,
		metrics: cfg.Metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// WithNow overrides the clock for testing.
func (e *Engine) WithNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Post writes one movement per line of an APPROVED voucher and marks it
// POSTED. Any failure leaves the voucher APPROVED.
func (e *Engine) Post(ctx context.Context, voucherID, actorID int64) (vouchers.Voucher, error) {
	release, err := e.acquire(ctx, voucherID)
	if err != nil {
		return vouchers.Voucher{}, err
	}
	defer release()

	var posted vouchers.Voucher
	err = e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		v, err := tx.GetVoucherForUpdate(ctx, voucherID)
		if err != nil {
			return err
		}
		posted, err = e.post(ctx, tx, v, actorID)
		return err
	})
	if err != nil {
		e.metrics.observe(string(posted.Type), "failure", 0)
		e.logger.Warn("post voucher", slog.Int64("voucher_id", voucherID), slog.Any("error", err))
		return vouchers.Voucher{}, err
	}
	e.metrics.observe(string(posted.Type), "success", len(posted.Lines))
	e.record(ctx, actorID, "voucher.post", posted.ID, map[string]any{
		"number": posted.Number,
		"debit":  posted.TotalDebit.StringFixed(shared.AmountScale),
		"lines":  len(posted.Lines),
	})
	e.logger.Info("voucher posted", slog.Int64("voucher_id", posted.ID), slog.String("number", posted.Number))
	return posted, nil
}

// Reverse posts a mirror of a POSTED voucher and marks the original
// REVERSED. The reversal is returned.
func (e *Engine) Reverse(ctx context.Context, in vouchers.ReverseInput) (vouchers.Voucher, error) {
	if in.VoucherID <= 0 {
		return vouchers.Voucher{}, shared.Invalid("voucher_id", "required", "voucher id required")
	}
	release, err := e.acquire(ctx, in.VoucherID)
	if err != nil {
		return vouchers.Voucher{}, err
	}
	defer release()

	var original, reversal vouchers.Voucher
	err = e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		original, err = tx.GetVoucherForUpdate(ctx, in.VoucherID)
		if err != nil {
			return err
		}
		if err := vouchers.Transition(original.Status, vouchers.StatusReversed); err != nil {
			return shared.InvalidState("voucher", original.ID, string(original.Status), "reverse")
		}
		if original.ReversedBy != nil {
			return &shared.ConflictError{Entity: "voucher", ID: original.ID, Reason: "already reversed"}
		}
		target, date, err := e.reversalTarget(ctx, tx, original, in.Date)
		if err != nil {
			return err
		}
		mirror := vouchers.Voucher{
			CompanyID:  original.CompanyID,
			BranchID:   original.BranchID,
			PeriodID:   target.ID,
			Type:       original.Type,
			Date:       date,
			Narration:  defaultReversalMemo(in.Memo, original.Number),
			Status:     vouchers.StatusApproved,
			ReversalOf: &original.ID,
			CreatedBy:  actorPtr(in.ActorID),
			Lines:      vouchers.Mirror(original.Lines),
		}
		inserted, err := tx.InsertReversal(ctx, mirror, target.Code)
		if err != nil {
			return err
		}
		reversal, err = e.post(ctx, tx, inserted, in.ActorID)
		if err != nil {
			return err
		}
		if err := tx.UpdateStatus(ctx, vouchers.StatusUpdate{
			ID:      original.ID,
			From:    vouchers.StatusPosted,
			To:      vouchers.StatusReversed,
			ActorID: in.ActorID,
			At:      e.now(),
		}); err != nil {
			return err
		}
		return tx.LinkReversal(ctx, original.ID, reversal.ID)
	})
	if err != nil {
		e.metrics.observe(string(original.Type), "failure", 0)
		e.logger.Warn("reverse voucher", slog.Int64("voucher_id", in.VoucherID), slog.Any("error", err))
		return vouchers.Voucher{}, err
	}
	e.metrics.observe(string(reversal.Type), "success", len(reversal.Lines))
	e.record(ctx, in.ActorID, "voucher.reverse", original.ID, map[string]any{
		"reversal_id":     reversal.ID,
		"reversal_number": reversal.Number,
	})
	e.logger.Info("voucher reversed",
		slog.Int64("voucher_id", original.ID),
		slog.Int64("reversal_id", reversal.ID),
		slog.String("reversal_number", reversal.Number))
	return reversal, nil
}

// post runs the posting checks and writes movements inside tx.
func (e *Engine) post(ctx context.Context, tx TxRepository, v vouchers.Voucher, actorID int64) (vouchers.Voucher, error) {
	if err := vouchers.Transition(v.Status, vouchers.StatusPosted); err != nil {
		return v, shared.InvalidState("voucher", v.ID, string(v.Status), "post")
	}
	if err := vouchers.Validate(v); err != nil {
		return v, err
	}
	period, err := tx.GetPeriodForUpdate(ctx, v.PeriodID)
	if err != nil {
		return v, err
	}
	if !period.AcceptsPostings() {
		return v, shared.InvalidState("period", period.ID, string(period.Status), "post into")
	}
	if !period.Contains(v.Date) {
		return v, shared.Invalid("date", "period", "voucher date %s is outside period %s", v.Date.Format(shared.DateLayout), period.Code)
	}
	if err := e.checkAccounts(ctx, tx, v); err != nil {
		return v, err
	}

	now := e.now()
	movements := make([]ledger.Movement, 0, len(v.Lines))
	for _, l := range v.Lines {
		movements = append(movements, ledger.Movement{
			AccountID: l.AccountID,
			VoucherID: v.ID,
			LineNo:    l.LineNo,
			CompanyID: v.CompanyID,
			BranchID:  v.BranchID,
			VoucherNo: v.Number,
			Date:      shared.DateOnly(v.Date),
			Debit:     l.Debit,
			Credit:    l.Credit,
			PostedAt:  now,
		})
	}
	if err := tx.InsertMovements(ctx, movements); err != nil {
		return v, err
	}
	if err := tx.UpdateStatus(ctx, vouchers.StatusUpdate{
		ID:      v.ID,
		From:    v.Status,
		To:      vouchers.StatusPosted,
		ActorID: actorID,
		At:      now,
	}); err != nil {
		return v, err
	}
	v.Status = vouchers.StatusPosted
	v.PostedBy = actorPtr(actorID)
	v.PostedAt = &now
	return v, nil
}

func (e *Engine) checkAccounts(ctx context.Context, tx TxRepository, v vouchers.Voucher) error {
	ids := make([]int64, 0, len(v.Lines))
	seen := make(map[int64]bool, len(v.Lines))
	for _, l := range v.Lines {
		if !seen[l.AccountID] {
			seen[l.AccountID] = true
			ids = append(ids, l.AccountID)
		}
	}
	accts, err := tx.GetAccounts(ctx, ids)
	if err != nil {
		return err
	}
	for _, l := range v.Lines {
		a, ok := accts[l.AccountID]
		if !ok {
			return shared.Invalid("account_id", "exists", "line %d account %d does not exist", l.LineNo, l.AccountID)
		}
		if a.CompanyID != v.CompanyID {
			return shared.Invalid("account_id", "company", "line %d account %s belongs to another company", l.LineNo, a.Code)
		}
		if !a.IsActive {
			return shared.Invalid("account_id", "active", "line %d account %s is inactive", l.LineNo, a.Code)
		}
		if !a.IsPostable {
			return shared.Invalid("account_id", "postable", "line %d account %s is not postable", l.LineNo, a.Code)
		}
	}
	return nil
}

// reversalTarget picks the period and date of a reversal. An explicit date
// must fall in an OPEN period; otherwise the original date is kept while its
// period is OPEN and moves to the start of the next OPEN period when not.
func (e *Engine) reversalTarget(ctx context.Context, tx TxRepository, original vouchers.Voucher, date *time.Time) (periods.Period, time.Time, error) {
	if date != nil {
		d := shared.DateOnly(*date)
		p, err := tx.FindOpenPeriodByDate(ctx, original.CompanyID, d)
		return p, d, err
	}
	period, err := tx.GetPeriodForUpdate(ctx, original.PeriodID)
	if err != nil {
		return periods.Period{}, time.Time{}, err
	}
	if period.Status == periods.PeriodStatusOpen {
		return period, shared.DateOnly(original.Date), nil
	}
	next, err := tx.GetNextOpenPeriodAfter(ctx, original.CompanyID, period.EndDate.AddDate(0, 0, 1))
	if err != nil {
		return periods.Period{}, time.Time{}, err
	}
	return next, shared.DateOnly(next.StartDate), nil
}

func (e *Engine) acquire(ctx context.Context, voucherID int64) (func(), error) {
	if e.locker == nil {
		return func() {}, nil
	}
	release, err := e.locker.Acquire(ctx, internalShared.VoucherLockKey(voucherID))
	if err != nil {
		if errors.Is(err, cache.ErrLockHeld) {
			return nil, &shared.ConflictError{Entity: "voucher", ID: voucherID, Reason: "posting already in progress"}
		}
		return nil, err
	}
	return release, nil
}

func (e *Engine) record(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Record(ctx, internalShared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "voucher",
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
		At:       e.now(),
	}); err != nil {
		e.logger.Warn("audit posting", slog.String("action", action), slog.Any("error", err))
	}
}

func defaultReversalMemo(memo, number string) string {
	if memo != "" {
		return memo
	}
	return "Reversal of " + number
}

func actorPtr(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}
