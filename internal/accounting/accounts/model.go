package accounts

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// Group is a classification node in the chart of accounts. Groups form a
// tree through ParentID; nature is fixed at creation.
type Group struct {
	ID        int64         `json:"id"`
	CompanyID int64         `json:"company_id"`
	Code      string        `json:"code"`
	Name      string        `json:"name"`
	Nature    shared.Nature `json:"nature"`
	ParentID  *int64        `json:"parent_id,omitempty"`
	IsActive  bool          `json:"is_active"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Account models a chart of accounts leaf.
type Account struct {
	ID         int64         `json:"id"`
	CompanyID  int64         `json:"company_id"`
	Code       string        `json:"code"`
	Name       string        `json:"name"`
	GroupID    int64         `json:"group_id"`
	Nature     shared.Nature `json:"nature"`
	Currency   string        `json:"currency,omitempty"`
	IsPostable bool          `json:"is_postable"`
	IsControl  bool          `json:"is_control"`
	IsActive   bool          `json:"is_active"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Usage summarises what references an account.
type Usage struct {
	Movements int
	Lines     int
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

// Balance returns debit minus credit across all movements.
func (u Usage) Balance() decimal.Decimal {
	return u.Debit.Sub(u.Credit)
}

// Node is one entry of the chart tree.
type Node struct {
	Group    Group     `json:"group"`
	Accounts []Account `json:"accounts,omitempty"`
	Children []*Node   `json:"children,omitempty"`
}

// Kind distinguishes groups from accounts in SetActive.
type Kind string

const (
	KindGroup   Kind = "group"
	KindAccount Kind = "account"
)

// CreateGroupInput carries a new group.
type CreateGroupInput struct {
	CompanyID int64
	Code      string
	Name      string
	Nature    shared.Nature
	ParentID  *int64
	ActorID   int64
}

// CreateAccountInput carries a new account.
type CreateAccountInput struct {
	CompanyID  int64
	Code       string
	Name       string
	GroupID    int64
	Currency   string
	IsPostable bool
	IsControl  bool
	ActorID    int64
}

// SetActiveInput toggles the active flag of a group or account.
type SetActiveInput struct {
	Kind    Kind
	ID      int64
	Active  bool
	ActorID int64
}
