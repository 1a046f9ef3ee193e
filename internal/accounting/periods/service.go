package periods

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	internalShared "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// AuditPort records period lifecycle events.
type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

// Service manages fiscal periods.
type Service struct {
	repo  Repository
	audit AuditPort
	now   func() time.Time
}

// NewService constructs the period service.
func NewService(repo Repository, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create opens a new period after checking the range does not overlap another.
func (s *Service) Create(ctx context.Context, in CreateInput) (Period, error) {
	in.Code = strings.TrimSpace(in.Code)
	if in.CompanyID <= 0 {
		return Period{}, shared.Invalid("company_id", "required", "company is required")
	}
	if in.Code == "" {
		return Period{}, shared.Invalid("code", "required", "code is required")
	}
	in.StartDate = shared.DateOnly(in.StartDate)
	in.EndDate = shared.DateOnly(in.EndDate)
	if err := shared.CheckRange(in.StartDate, in.EndDate); err != nil {
		return Period{}, err
	}
	overlap, err := s.repo.Overlaps(ctx, in.CompanyID, in.StartDate, in.EndDate)
	if err != nil {
		return Period{}, err
	}
	if overlap {
		return Period{}, shared.Invalid("start_date", "overlap", "period %s overlaps an existing period", in.Code)
	}
	p, err := s.repo.Create(ctx, in)
	if err != nil {
		return Period{}, err
	}
	s.record(ctx, in.ActorID, "period.create", p, nil)
	return p, nil
}

// SetStatus moves a period through OPEN, CLOSED and LOCKED.
func (s *Service) SetStatus(ctx context.Context, in StatusInput) (Period, error) {
	current, err := s.repo.Get(ctx, in.ID)
	if err != nil {
		return Period{}, err
	}
	if err := internalShared.ValidatePeriodTransition(string(current.Status), string(in.Status), in.Override); err != nil {
		if errors.Is(err, internalShared.ErrInvalidPeriodTransition) {
			return Period{}, shared.InvalidState("period", current.ID, string(current.Status), "move to "+string(in.Status))
		}
		return Period{}, err
	}
	if current.Status == in.Status {
		return current, nil
	}
	updated, err := s.repo.UpdateStatus(ctx, in.ID, in.Status, in.ActorID)
	if err != nil {
		return Period{}, err
	}
	s.record(ctx, in.ActorID, "period.status", updated, map[string]any{
		"from":     string(current.Status),
		"to":       string(in.Status),
		"override": in.Override,
	})
	return updated, nil
}

// Get returns a period by id.
func (s *Service) Get(ctx context.Context, id int64) (Period, error) {
	return s.repo.Get(ctx, id)
}

// List returns a company's periods ordered by start date.
func (s *Service) List(ctx context.Context, companyID int64) ([]Period, error) {
	return s.repo.List(ctx, companyID)
}

// FindOpenPeriodByDate returns the OPEN period covering date.
func (s *Service) FindOpenPeriodByDate(ctx context.Context, companyID int64, date time.Time) (Period, error) {
	return s.repo.FindOpenPeriodByDate(ctx, companyID, shared.DateOnly(date))
}

func (s *Service) record(ctx context.Context, actorID int64, action string, p Period, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["code"] = p.Code
	_ = s.audit.Record(ctx, internalShared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "period",
		EntityID: fmt.Sprintf("%d", p.ID),
		Meta:     meta,
		At:       s.now(),
	})
}
