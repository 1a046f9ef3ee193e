// Package bankrec reconciles bank statements against the ledger balance of
// a bank account.
package bankrec

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates reconciliation header states.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusCompleted Status = "COMPLETED"
)

// Header is one statement reconciliation for a bank account.
type Header struct {
	ID            int64               `json:"id"`
	CompanyID     int64               `json:"company_id"`
	BankAccountID int64               `json:"bank_account_id"`
	StatementFrom time.Time           `json:"statement_from"`
	StatementTo   time.Time           `json:"statement_to"`
	EndingBalance decimal.NullDecimal `json:"ending_balance"`
	Status        Status              `json:"status"`
	CompletedBy   *int64              `json:"completed_by,omitempty"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`
	CreatedBy     *int64              `json:"created_by,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// Line is a statement entry. Positive amounts are deposits.
type Line struct {
	ID          int64           `json:"id"`
	HeaderID    int64           `json:"header_id"`
	Date        time.Time       `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Cleared     bool            `json:"cleared"`
	VoucherID   *int64          `json:"voucher_id,omitempty"`
	Description string          `json:"description"`
	Reference   string          `json:"reference"`
	Fingerprint string          `json:"-"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Summary compares cleared statement lines with the statement and book balances.
type Summary struct {
	HeaderID               int64               `json:"header_id"`
	Status                 Status              `json:"status"`
	ClearedTotal           decimal.Decimal     `json:"cleared_total"`
	UnclearedTotal         decimal.Decimal     `json:"uncleared_total"`
	StatementEndingBalance decimal.NullDecimal `json:"statement_ending_balance"`
	DiffBankVsCleared      decimal.Decimal     `json:"diff_bank_vs_cleared"`
	Balanced               bool                `json:"balanced"`
	BookBalance            decimal.Decimal     `json:"book_balance"`
	UnmatchedMovements     int                 `json:"unmatched_movements"`
}

// CreateInput carries the fields for a new header.
type CreateInput struct {
	BankAccountID int64
	From          time.Time
	To            time.Time
	EndingBalance *decimal.Decimal
	ActorID       int64
}

// LineInput carries a statement line.
type LineInput struct {
	Date        time.Time
	Amount      decimal.Decimal
	Cleared     bool
	VoucherID   *int64
	Description string
	Reference   string
}

// SkippedRow explains why an import row was not inserted.
type SkippedRow struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// ImportResult reports a bulk import outcome.
type ImportResult struct {
	InsertedCount int          `json:"inserted_count"`
	SkippedCount  int          `json:"skipped_count"`
	Skipped       []SkippedRow `json:"skipped"`
}
