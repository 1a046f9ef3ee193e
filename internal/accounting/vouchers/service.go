package vouchers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/fx"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	internalShared "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// ApprovalModule tags voucher entries in the approval log.
const ApprovalModule = "VOUCHER"

// PeriodPort resolves the open period for a voucher date.
type PeriodPort interface {
	FindOpenPeriodByDate(ctx context.Context, companyID int64, date time.Time) (periods.Period, error)
}

// AccountPort reads chart of accounts entries.
type AccountPort interface {
	GetAccount(ctx context.Context, id int64) (accounts.Account, error)
}

// ApprovalPort records approval workflow steps.
type ApprovalPort interface {
	Record(ctx context.Context, log internalShared.ApprovalLog) error
}

// AuditPort records voucher changes.
type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

// Poster commits approved vouchers to the ledger.
type Poster interface {
	Post(ctx context.Context, voucherID, actorID int64) (Voucher, error)
	Reverse(ctx context.Context, in ReverseInput) (Voucher, error)
}

// Config carries service collaborators.
type Config struct {
	Repo         Repository
	Periods      PeriodPort
	Accounts     AccountPort
	Rates        fx.RateProvider
	Approvals    ApprovalPort
	Audit        AuditPort
	Poster       Poster
	BaseCurrency string
	Logger       *slog.Logger
}

// Service drives the voucher lifecycle up to posting.
type Service struct {
	repo      Repository
	periods   PeriodPort
	accounts  AccountPort
	rates     fx.RateProvider
	approvals ApprovalPort
	audit     AuditPort
	poster    Poster
	base      string
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the voucher service.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := fx.Normalize(cfg.BaseCurrency)
	if base == "" {
		base = "IDR"
	}
	return &Service{
		repo:      cfg.Repo,
		periods:   cfg.Periods,
		accounts:  cfg.Accounts,
		rates:     cfg.Rates,
		approvals: cfg.Approvals,
		audit:     cfg.Audit,
		poster:    cfg.Poster,
		base:      base,
		logger:    logger,
		now:       time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// BaseCurrency returns the company base currency code.
func (s *Service) BaseCurrency() string {
	return s.base
}

// Create opens a DRAFT voucher in the OPEN period covering its date.
func (s *Service) Create(ctx context.Context, in CreateInput) (Voucher, error) {
	if in.CompanyID <= 0 {
		return Voucher{}, shared.Invalid("company_id", "required", "company is required")
	}
	t, err := ParseType(string(in.Type))
	if err != nil {
		return Voucher{}, err
	}
	if in.Date.IsZero() {
		return Voucher{}, shared.Invalid("date", "required", "voucher date is required")
	}
	date := shared.DateOnly(in.Date)
	period, err := s.periods.FindOpenPeriodByDate(ctx, in.CompanyID, date)
	if err != nil {
		return Voucher{}, err
	}
	v := Voucher{
		Ref:       uuid.New(),
		CompanyID: in.CompanyID,
		BranchID:  in.BranchID,
		PeriodID:  period.ID,
		Type:      t,
		Date:      date,
		Narration: strings.TrimSpace(in.Narration),
		Status:    StatusDraft,
		CreatedBy: actorPtr(in.ActorID),
	}
	for i, li := range in.Lines {
		line, err := s.prepareLine(ctx, v, li)
		if err != nil {
			return Voucher{}, fmt.Errorf("line %d: %w", i+1, err)
		}
		v.Lines = append(v.Lines, line)
	}
	created, err := s.repo.Create(ctx, v, period.Code)
	if err != nil {
		return Voucher{}, err
	}
	s.logger.Info("voucher created", slog.Int64("voucher_id", created.ID), slog.String("number", created.Number))
	s.record(ctx, in.ActorID, "voucher.create", created.ID, map[string]any{"number": created.Number, "type": string(created.Type)})
	return created, nil
}

// AddLine appends a line to a DRAFT voucher.
func (s *Service) AddLine(ctx context.Context, voucherID, actorID int64, in LineInput) (Line, error) {
	v, err := s.repo.Get(ctx, voucherID)
	if err != nil {
		return Line{}, err
	}
	if !v.Status.Editable() {
		return Line{}, linesLocked(v.ID, v.Status)
	}
	line, err := s.prepareLine(ctx, v, in)
	if err != nil {
		return Line{}, err
	}
	added, err := s.repo.AddLine(ctx, voucherID, line)
	if err != nil {
		return Line{}, err
	}
	s.record(ctx, actorID, "voucher.line.add", voucherID, map[string]any{"line_no": added.LineNo, "account_id": added.AccountID})
	return added, nil
}

// RemoveLine deletes a line from a DRAFT voucher.
func (s *Service) RemoveLine(ctx context.Context, voucherID int64, lineNo int, actorID int64) error {
	v, err := s.repo.Get(ctx, voucherID)
	if err != nil {
		return err
	}
	if !v.Status.Editable() {
		return linesLocked(v.ID, v.Status)
	}
	if err := s.repo.RemoveLine(ctx, voucherID, lineNo); err != nil {
		return err
	}
	s.record(ctx, actorID, "voucher.line.remove", voucherID, map[string]any{"line_no": lineNo})
	return nil
}

// UpdateHeader changes the date or narration of a DRAFT voucher. The date
// must stay inside the period the voucher was numbered in.
func (s *Service) UpdateHeader(ctx context.Context, in UpdateHeaderInput) (Voucher, error) {
	v, err := s.repo.Get(ctx, in.ID)
	if err != nil {
		return Voucher{}, err
	}
	if !v.Status.Editable() {
		return Voucher{}, linesLocked(v.ID, v.Status)
	}
	if in.Date != nil {
		date := shared.DateOnly(*in.Date)
		period, err := s.periods.FindOpenPeriodByDate(ctx, v.CompanyID, date)
		if err != nil {
			return Voucher{}, err
		}
		if period.ID != v.PeriodID {
			return Voucher{}, shared.Invalid("date", "period", "date %s moves the voucher out of its period", date.Format(shared.DateLayout))
		}
		v.Date = date
	}
	if in.Narration != nil {
		v.Narration = strings.TrimSpace(*in.Narration)
	}
	if err := s.repo.UpdateHeader(ctx, v); err != nil {
		return Voucher{}, err
	}
	s.record(ctx, in.ActorID, "voucher.update", v.ID, nil)
	return v, nil
}

// BalanceCheck totals a voucher without changing it.
func (s *Service) BalanceCheck(ctx context.Context, voucherID int64) (Balance, error) {
	v, err := s.repo.Get(ctx, voucherID)
	if err != nil {
		return Balance{}, err
	}
	return CheckBalance(v.Lines), nil
}

// Submit moves a DRAFT or REJECTED voucher to SUBMITTED once it balances.
func (s *Service) Submit(ctx context.Context, voucherID, actorID int64) (Voucher, error) {
	return s.transition(ctx, voucherID, actorID, StatusSubmitted, "", internalShared.ApprovalSubmit, true)
}

// RequestApproval hands a SUBMITTED voucher to the approval subsystem.
func (s *Service) RequestApproval(ctx context.Context, voucherID, actorID int64) (Voucher, error) {
	return s.transition(ctx, voucherID, actorID, StatusPendingApproval, "", internalShared.ApprovalRequest, false)
}

// Approve marks a PENDING_APPROVAL voucher as APPROVED.
func (s *Service) Approve(ctx context.Context, voucherID, actorID int64) (Voucher, error) {
	return s.transition(ctx, voucherID, actorID, StatusApproved, "", internalShared.ApprovalApprove, true)
}

// Reject returns a PENDING_APPROVAL voucher to its submitter.
func (s *Service) Reject(ctx context.Context, voucherID, actorID int64, reason string) (Voucher, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Voucher{}, shared.Invalid("reason", "required", "a rejection reason is required")
	}
	return s.transition(ctx, voucherID, actorID, StatusRejected, reason, internalShared.ApprovalReject, false)
}

// Cancel abandons a voucher that has not been posted.
func (s *Service) Cancel(ctx context.Context, voucherID, actorID int64, reason string) (Voucher, error) {
	return s.transition(ctx, voucherID, actorID, StatusCancelled, strings.TrimSpace(reason), internalShared.ApprovalCancel, false)
}

// Post commits an APPROVED voucher through the posting engine.
func (s *Service) Post(ctx context.Context, voucherID, actorID int64) (Voucher, error) {
	if s.poster == nil {
		return Voucher{}, errors.New("vouchers: posting engine not configured")
	}
	return s.poster.Post(ctx, voucherID, actorID)
}

// Reverse posts a mirror voucher for a POSTED voucher.
func (s *Service) Reverse(ctx context.Context, in ReverseInput) (Voucher, error) {
	if s.poster == nil {
		return Voucher{}, errors.New("vouchers: posting engine not configured")
	}
	return s.poster.Reverse(ctx, in)
}

// Get returns a voucher with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Voucher, error) {
	return s.repo.Get(ctx, id)
}

// List returns vouchers matching f and the total count.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Voucher, int, error) {
	if f.CompanyID <= 0 {
		return nil, 0, shared.Invalid("company_id", "required", "company is required")
	}
	if f.From != nil && f.To != nil {
		if err := shared.CheckRange(*f.From, *f.To); err != nil {
			return nil, 0, err
		}
	}
	return s.repo.List(ctx, f)
}

func (s *Service) transition(ctx context.Context, voucherID, actorID int64, to Status, reason string, action internalShared.ApprovalAction, validate bool) (Voucher, error) {
	now := s.now()
	v, err := s.repo.Transition(ctx, voucherID, func(v Voucher) (StatusUpdate, error) {
		if err := Transition(v.Status, to); err != nil {
			return StatusUpdate{}, shared.InvalidState("voucher", v.ID, string(v.Status), Action(to))
		}
		if validate {
			if err := Validate(v); err != nil {
				return StatusUpdate{}, err
			}
		}
		return StatusUpdate{ID: v.ID, From: v.Status, To: to, ActorID: actorID, Reason: reason, At: now}, nil
	})
	if err != nil {
		return Voucher{}, err
	}
	from := v.Status
	v.Status = to
	switch to {
	case StatusSubmitted:
		v.SubmittedBy = actorPtr(actorID)
	case StatusApproved:
		v.ApprovedBy = actorPtr(actorID)
	case StatusRejected, StatusCancelled:
		v.RejectionReason = reason
	}
	s.logger.Info("voucher transition",
		slog.Int64("voucher_id", v.ID),
		slog.String("from", string(from)),
		slog.String("to", string(to)))
	s.recordApproval(ctx, v, actorID, action, reason)
	s.record(ctx, actorID, "voucher."+strings.ToLower(string(to)), v.ID, map[string]any{"from": string(from), "reason": reason})
	return v, nil
}

// prepareLine validates a line against its account and converts foreign
// amounts into the base currency.
func (s *Service) prepareLine(ctx context.Context, v Voucher, in LineInput) (Line, error) {
	if in.AccountID <= 0 {
		return Line{}, shared.Invalid("account_id", "required", "account is required")
	}
	if err := ValidateAmounts(in.Debit, in.Credit); err != nil {
		return Line{}, err
	}
	acc, err := s.accounts.GetAccount(ctx, in.AccountID)
	if err != nil {
		var nf *shared.NotFoundError
		if errors.As(err, &nf) {
			return Line{}, shared.Invalid("account_id", "exists", "account %d not found", in.AccountID)
		}
		return Line{}, err
	}
	if acc.CompanyID != v.CompanyID {
		return Line{}, shared.Invalid("account_id", "company", "account %s belongs to another company", acc.Code)
	}
	if !acc.IsActive {
		return Line{}, shared.Invalid("account_id", "active", "account %s is inactive", acc.Code)
	}
	if !acc.IsPostable {
		return Line{}, shared.Invalid("account_id", "postable", "account %s does not accept postings", acc.Code)
	}
	line := Line{
		AccountID:   acc.ID,
		Debit:       in.Debit,
		Credit:      in.Credit,
		Description: strings.TrimSpace(in.Description),
	}
	currency := fx.Normalize(acc.Currency)
	if currency == "" || currency == s.base {
		return line, nil
	}
	if s.rates == nil {
		return Line{}, &fx.MissingRateError{From: currency, To: s.base, Date: v.Date}
	}
	rate, err := s.rates.Rate(ctx, currency, s.base, v.Date)
	if err != nil {
		return Line{}, err
	}
	foreign := in.Debit
	if foreign.IsZero() {
		foreign = in.Credit
	}
	line.Currency = currency
	line.Rate = decimal.NewNullDecimal(rate)
	line.ForeignAmount = decimal.NewNullDecimal(foreign)
	line.Debit = fx.Convert(in.Debit, rate)
	line.Credit = fx.Convert(in.Credit, rate)
	if line.Debit.IsZero() && line.Credit.IsZero() {
		return Line{}, shared.Invalid("debit", "nonzero", "amount rounds to zero in %s", s.base)
	}
	return line, nil
}

func (s *Service) recordApproval(ctx context.Context, v Voucher, actorID int64, action internalShared.ApprovalAction, note string) {
	if s.approvals == nil || actorID == 0 {
		return
	}
	if err := s.approvals.Record(ctx, internalShared.ApprovalLog{
		Module:  ApprovalModule,
		RefID:   v.Ref,
		ActorID: actorID,
		Action:  action,
		Note:    note,
		At:      s.now(),
	}); err != nil {
		s.logger.Warn("record voucher approval", slog.Int64("voucher_id", v.ID), slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, internalShared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "voucher",
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit voucher change", slog.String("action", action), slog.Any("error", err))
	}
}

func actorPtr(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}
