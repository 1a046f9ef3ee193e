// Package vouchers holds voucher headers and lines, the voucher state
// machine and document numbering.
package vouchers

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// Type enumerates voucher types. Every type shares one posting path.
type Type string

const (
	TypeJournal    Type = "JV"
	TypePayment    Type = "PV"
	TypeReceipt    Type = "RV"
	TypeContra     Type = "CV"
	TypeSales      Type = "SV"
	TypePurchase   Type = "PUV"
	TypeDebitNote  Type = "DN"
	TypeCreditNote Type = "CN"
)

// ParseType normalises s into a Type.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case TypeJournal, TypePayment, TypeReceipt, TypeContra, TypeSales, TypePurchase, TypeDebitNote, TypeCreditNote:
		return t, nil
	}
	return "", shared.Invalid("type", "oneof", "unknown voucher type %q", s)
}

// Status enumerates voucher lifecycle states.
type Status string

const (
	StatusDraft           Status = "DRAFT"
	StatusSubmitted       Status = "SUBMITTED"
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusApproved        Status = "APPROVED"
	StatusPosted          Status = "POSTED"
	StatusRejected        Status = "REJECTED"
	StatusReversed        Status = "REVERSED"
	StatusCancelled       Status = "CANCELLED"
)

// Voucher is the transaction header with its lines.
type Voucher struct {
	ID              int64           `json:"id"`
	Ref             uuid.UUID       `json:"ref"`
	CompanyID       int64           `json:"company_id"`
	BranchID        *int64          `json:"branch_id,omitempty"`
	PeriodID        int64           `json:"period_id"`
	Number          string          `json:"number"`
	Type            Type            `json:"type"`
	Date            time.Time       `json:"date"`
	Narration       string          `json:"narration"`
	Status          Status          `json:"status"`
	TotalDebit      decimal.Decimal `json:"total_debit"`
	TotalCredit     decimal.Decimal `json:"total_credit"`
	ReversalOf      *int64          `json:"reversal_of,omitempty"`
	ReversedBy      *int64          `json:"reversed_by,omitempty"`
	CreatedBy       *int64          `json:"created_by,omitempty"`
	SubmittedBy     *int64          `json:"submitted_by,omitempty"`
	ApprovedBy      *int64          `json:"approved_by,omitempty"`
	PostedBy        *int64          `json:"posted_by,omitempty"`
	PostedAt        *time.Time      `json:"posted_at,omitempty"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Lines           []Line          `json:"lines"`
}

// Line is one debit or credit leg of a voucher. Debit and Credit are in the
// base currency; Currency, Rate and ForeignAmount are set when the account
// is denominated in another currency.
type Line struct {
	VoucherID     int64               `json:"voucher_id"`
	LineNo        int                 `json:"line_no"`
	AccountID     int64               `json:"account_id"`
	Debit         decimal.Decimal     `json:"debit"`
	Credit        decimal.Decimal     `json:"credit"`
	Description   string              `json:"description"`
	Currency      string              `json:"currency,omitempty"`
	Rate          decimal.NullDecimal `json:"rate"`
	ForeignAmount decimal.NullDecimal `json:"foreign_amount"`
}

// Balance is the result of a balance check.
type Balance struct {
	Balanced    bool            `json:"balanced"`
	DebitTotal  decimal.Decimal `json:"debit_total"`
	CreditTotal decimal.Decimal `json:"credit_total"`
}

// CreateInput carries a new voucher header and optional initial lines.
type CreateInput struct {
	CompanyID int64
	BranchID  *int64
	Type      Type
	Date      time.Time
	Narration string
	ActorID   int64
	Lines     []LineInput
}

// LineInput carries a line as entered. Amounts are in the account currency.
type LineInput struct {
	AccountID   int64
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
}

// UpdateHeaderInput changes a draft header. Nil fields are left untouched.
type UpdateHeaderInput struct {
	ID        int64
	Date      *time.Time
	Narration *string
	ActorID   int64
}

// ReverseInput asks for a posted voucher to be reversed.
type ReverseInput struct {
	VoucherID int64
	ActorID   int64
	Memo      string
	Date      *time.Time
}

// ListFilter narrows voucher listings.
type ListFilter struct {
	CompanyID int64
	Status    Status
	Type      Type
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

// StatusUpdate moves a voucher from one status to another.
type StatusUpdate struct {
	ID      int64
	From    Status
	To      Status
	ActorID int64
	Reason  string
	At      time.Time
}
