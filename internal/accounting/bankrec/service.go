package bankrec

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	internalShared "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// AccountPort reads chart of accounts entries.
type AccountPort interface {
	GetAccount(ctx context.Context, id int64) (accounts.Account, error)
}

// Locker hands out exclusive keys.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// AuditPort records reconciliation changes.
type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

// Service coordinates bank reconciliations.
type Service struct {
	repo     Repository
	accounts AccountPort
	locker   Locker
	audit    AuditPort
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the reconciliation service. Locker and audit are optional.
func NewService(repo Repository, accts AccountPort, locker Locker, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, accounts: accts, locker: locker, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateHeader opens a reconciliation for a postable bank account.
func (s *Service) CreateHeader(ctx context.Context, in CreateInput) (Header, error) {
	if in.BankAccountID <= 0 {
		return Header{}, shared.Invalid("bank_account_id", "required", "bank account required")
	}
	if err := shared.CheckRange(in.From, in.To); err != nil {
		return Header{}, err
	}
	account, err := s.accounts.GetAccount(ctx, in.BankAccountID)
	if err != nil {
		var nf *shared.NotFoundError
		if errors.As(err, &nf) {
			return Header{}, shared.Invalid("bank_account_id", "exists", "bank account %d does not exist", in.BankAccountID)
		}
		return Header{}, err
	}
	if !account.IsPostable {
		return Header{}, shared.Invalid("bank_account_id", "postable", "account %s is not postable", account.Code)
	}
	h := Header{
		CompanyID:     account.CompanyID,
		BankAccountID: account.ID,
		StatementFrom: shared.DateOnly(in.From),
		StatementTo:   shared.DateOnly(in.To),
		Status:        StatusDraft,
		CreatedBy:     actorPtr(in.ActorID),
	}
	if in.EndingBalance != nil {
		if !in.EndingBalance.Equal(in.EndingBalance.Truncate(shared.AmountScale)) {
			return Header{}, shared.Invalid("ending_balance", "scale", "amount allows at most %d decimal places", shared.AmountScale)
		}
		h.EndingBalance = decimal.NewNullDecimal(*in.EndingBalance)
	}
	created, err := s.repo.CreateHeader(ctx, h)
	if err != nil {
		return Header{}, err
	}
	s.record(ctx, in.ActorID, "bankrec.create", created.ID, map[string]any{"bank_account_id": created.BankAccountID})
	return created, nil
}

// Get returns a header.
func (s *Service) Get(ctx context.Context, id int64) (Header, error) {
	return s.repo.GetHeader(ctx, id)
}

// List returns the headers of a bank account.
func (s *Service) List(ctx context.Context, bankAccountID int64) ([]Header, error) {
	return s.repo.ListHeaders(ctx, bankAccountID)
}

// Lines returns the statement lines of a header.
func (s *Service) Lines(ctx context.Context, headerID int64) ([]Line, error) {
	if _, err := s.repo.GetHeader(ctx, headerID); err != nil {
		return nil, err
	}
	return s.repo.Lines(ctx, headerID)
}

// AddLine records a statement line on a DRAFT header.
func (s *Service) AddLine(ctx context.Context, headerID, actorID int64, in LineInput) (Line, error) {
	var out Line
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		h, err := tx.LockHeader(ctx, headerID)
		if err != nil {
			return err
		}
		if err := editable(h, "add line to"); err != nil {
			return err
		}
		line, err := s.prepareLine(ctx, tx, h, in)
		if err != nil {
			return err
		}
		out, err = tx.InsertLine(ctx, line)
		return err
	})
	if err != nil {
		return Line{}, err
	}
	s.record(ctx, actorID, "bankrec.line.add", headerID, map[string]any{"line_id": out.ID, "amount": out.Amount.StringFixed(2)})
	return out, nil
}

// UpdateLine replaces a line on a DRAFT header.
func (s *Service) UpdateLine(ctx context.Context, headerID, lineID, actorID int64, in LineInput) (Line, error) {
	var out Line
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		h, err := tx.LockHeader(ctx, headerID)
		if err != nil {
			return err
		}
		if err := editable(h, "edit line of"); err != nil {
			return err
		}
		existing, err := tx.GetLine(ctx, headerID, lineID)
		if err != nil {
			return err
		}
		line, err := s.prepareLine(ctx, tx, h, in)
		if err != nil {
			return err
		}
		line.ID = existing.ID
		line.CreatedAt = existing.CreatedAt
		if err := tx.UpdateLine(ctx, line); err != nil {
			return err
		}
		out = line
		return nil
	})
	if err != nil {
		return Line{}, err
	}
	s.record(ctx, actorID, "bankrec.line.update", headerID, map[string]any{"line_id": lineID})
	return out, nil
}

// SetCleared toggles the cleared flag of a line on a DRAFT header.
func (s *Service) SetCleared(ctx context.Context, headerID, lineID, actorID int64, cleared bool) (Line, error) {
	var out Line
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		h, err := tx.LockHeader(ctx, headerID)
		if err != nil {
			return err
		}
		if err := editable(h, "clear line of"); err != nil {
			return err
		}
		line, err := tx.GetLine(ctx, headerID, lineID)
		if err != nil {
			return err
		}
		line.Cleared = cleared
		if err := tx.UpdateLine(ctx, line); err != nil {
			return err
		}
		out = line
		return nil
	})
	if err != nil {
		return Line{}, err
	}
	s.record(ctx, actorID, "bankrec.line.clear", headerID, map[string]any{"line_id": lineID, "cleared": cleared})
	return out, nil
}

// DeleteLine removes a line from a DRAFT header.
func (s *Service) DeleteLine(ctx context.Context, headerID, lineID, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		h, err := tx.LockHeader(ctx, headerID)
		if err != nil {
			return err
		}
		if err := editable(h, "delete line of"); err != nil {
			return err
		}
		return tx.DeleteLine(ctx, headerID, lineID)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, "bankrec.line.delete", headerID, map[string]any{"line_id": lineID})
	return nil
}

// Summary totals the header's lines against the statement and the book.
func (s *Service) Summary(ctx context.Context, headerID int64) (Summary, error) {
	h, err := s.repo.GetHeader(ctx, headerID)
	if err != nil {
		return Summary{}, err
	}
	lines, err := s.repo.Lines(ctx, headerID)
	if err != nil {
		return Summary{}, err
	}
	book, err := s.repo.BookBalance(ctx, h.BankAccountID, h.StatementTo)
	if err != nil {
		return Summary{}, fmt.Errorf("bankrec: book balance: %w", err)
	}
	unmatched, err := s.repo.UnmatchedMovements(ctx, h)
	if err != nil {
		return Summary{}, fmt.Errorf("bankrec: unmatched movements: %w", err)
	}
	return Summarize(h, lines, book, len(unmatched)), nil
}

// Summarize computes a Summary from loaded data.
func Summarize(h Header, lines []Line, book decimal.Decimal, unmatched int) Summary {
	sum := Summary{
		HeaderID:               h.ID,
		Status:                 h.Status,
		StatementEndingBalance: h.EndingBalance,
		BookBalance:            book,
		UnmatchedMovements:     unmatched,
	}
	for _, l := range lines {
		if l.Cleared {
			sum.ClearedTotal = sum.ClearedTotal.Add(l.Amount)
		} else {
			sum.UnclearedTotal = sum.UnclearedTotal.Add(l.Amount)
		}
	}
	ending := decimal.Zero
	if h.EndingBalance.Valid {
		ending = h.EndingBalance.Decimal
	}
	sum.DiffBankVsCleared = ending.Sub(sum.ClearedTotal)
	sum.Balanced = h.EndingBalance.Valid && sum.DiffBankVsCleared.IsZero()
	return sum
}

// Complete freezes a DRAFT header. Completing twice is a conflict.
func (s *Service) Complete(ctx context.Context, headerID, actorID int64) (Header, error) {
	release, err := s.acquire(ctx, headerID)
	if err != nil {
		return Header{}, err
	}
	defer release()

	var out Header
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		h, err := tx.LockHeader(ctx, headerID)
		if err != nil {
			return err
		}
		if h.Status == StatusCompleted {
			return &shared.ConflictError{Entity: "bank reconciliation", ID: h.ID, Reason: "already completed"}
		}
		at := s.now()
		if err := tx.CompleteHeader(ctx, h.ID, actorID, at); err != nil {
			return err
		}
		h.Status = StatusCompleted
		h.CompletedBy = actorPtr(actorID)
		h.CompletedAt = &at
		out = h
		return nil
	})
	if err != nil {
		return Header{}, err
	}
	s.record(ctx, actorID, "bankrec.complete", headerID, nil)
	s.logger.Info("bank reconciliation completed", slog.Int64("header_id", headerID))
	return out, nil
}

// Outstanding lists the bank account movements in the statement period that
// no line references.
func (s *Service) Outstanding(ctx context.Context, headerID int64) ([]ledger.Movement, error) {
	h, err := s.repo.GetHeader(ctx, headerID)
	if err != nil {
		return nil, err
	}
	return s.repo.UnmatchedMovements(ctx, h)
}

func (s *Service) prepareLine(ctx context.Context, tx TxRepository, h Header, in LineInput) (Line, error) {
	date := shared.DateOnly(in.Date)
	if !shared.Within(date, h.StatementFrom, h.StatementTo) {
		return Line{}, shared.Invalid("date", "within_statement", "%s is outside the statement period %s to %s",
			date.Format(shared.DateLayout), h.StatementFrom.Format(shared.DateLayout), h.StatementTo.Format(shared.DateLayout))
	}
	if in.Amount.IsZero() {
		return Line{}, shared.Invalid("amount", "nonzero", "amount must not be zero")
	}
	if !in.Amount.Equal(in.Amount.Truncate(shared.AmountScale)) {
		return Line{}, shared.Invalid("amount", "scale", "amount allows at most %d decimal places", shared.AmountScale)
	}
	if in.VoucherID != nil {
		ok, err := tx.VoucherTouchesAccount(ctx, *in.VoucherID, h.BankAccountID)
		if err != nil {
			return Line{}, err
		}
		if !ok {
			return Line{}, shared.Invalid("voucher_id", "bank_account", "voucher %d does not touch the bank account", *in.VoucherID)
		}
	}
	line := Line{
		HeaderID:    h.ID,
		Date:        date,
		Amount:      in.Amount,
		Cleared:     in.Cleared,
		VoucherID:   in.VoucherID,
		Description: strings.TrimSpace(in.Description),
		Reference:   strings.TrimSpace(in.Reference),
	}
	line.Fingerprint = Fingerprint(line)
	return line, nil
}

// Fingerprint identifies a statement line by date, amount, reference and description.
func Fingerprint(l Line) string {
	raw := strings.Join([]string{
		l.Date.Format(shared.DateLayout),
		l.Amount.StringFixed(shared.AmountScale),
		strings.ToLower(strings.TrimSpace(l.Reference)),
		strings.ToLower(strings.Join(strings.Fields(l.Description), " ")),
	}, "|")
	sum := blake2b.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func editable(h Header, action string) error {
	if h.Status != StatusDraft {
		return shared.InvalidState("bank reconciliation", h.ID, string(h.Status), action)
	}
	return nil
}

func (s *Service) acquire(ctx context.Context, headerID int64) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	release, err := s.locker.Acquire(ctx, internalShared.ReconciliationLockKey(headerID))
	if err != nil {
		if errors.Is(err, cache.ErrLockHeld) {
			return nil, &shared.ConflictError{Entity: "bank reconciliation", ID: headerID, Reason: "reconciliation is being processed"}
		}
		return nil, err
	}
	return release, nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, internalShared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "bank_reconciliation",
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit bank reconciliation", slog.String("action", action), slog.Any("error", err))
	}
}

func actorPtr(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}
