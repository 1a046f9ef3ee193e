package periods

import (
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// PeriodStatus enumerates valid period states.
type PeriodStatus string

const (
	PeriodStatusOpen   PeriodStatus = "OPEN"
	PeriodStatusClosed PeriodStatus = "CLOSED"
	PeriodStatusLocked PeriodStatus = "LOCKED"
)

// Period represents a fiscal period window.
type Period struct {
	ID        int64        `json:"id"`
	CompanyID int64        `json:"company_id"`
	Code      string       `json:"code"`
	StartDate time.Time    `json:"start_date"`
	EndDate   time.Time    `json:"end_date"`
	Status    PeriodStatus `json:"status"`
	ClosedAt  *time.Time   `json:"closed_at,omitempty"`
	LockedBy  *int64       `json:"locked_by,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Contains reports whether date falls inside the period by calendar day.
func (p Period) Contains(date time.Time) bool {
	return shared.Within(date, p.StartDate, p.EndDate)
}

// AcceptsPostings reports whether movements may be written into the period.
// CLOSED is a soft close that still accepts adjustments.
func (p Period) AcceptsPostings() bool {
	return p.Status == PeriodStatusOpen || p.Status == PeriodStatusClosed
}

// CreateInput carries the fields for a new period.
type CreateInput struct {
	CompanyID int64
	Code      string
	StartDate time.Time
	EndDate   time.Time
	ActorID   int64
}

// StatusInput carries a status change request.
type StatusInput struct {
	ID       int64
	Status   PeriodStatus
	Override bool
	ActorID  int64
}
