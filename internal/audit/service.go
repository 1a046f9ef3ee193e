// Package audit reads the ledger audit trail and approval history.
package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	internalShared "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
	maxRange        = 90 * 24 * time.Hour
)

// Repository reads audit_logs.
type Repository interface {
	Window(ctx context.Context, filters TimelineFilters, offset, limit int) ([]Entry, error)
}

// ApprovalSource lists approval history for a document.
type ApprovalSource interface {
	List(ctx context.Context, module string, ref uuid.UUID) ([]internalShared.ApprovalLog, error)
}

// Service coordinates audit queries.
type Service struct {
	repo      Repository
	approvals ApprovalSource
}

// NewService builds an audit Service.
func NewService(repo Repository, approvals ApprovalSource) *Service {
	return &Service{repo: repo, approvals: approvals}
}

// Timeline returns one page of audit entries, newest first.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, errors.New("audit: repository not configured")
	}
	if !filters.From.IsZero() && !filters.To.IsZero() {
		if filters.From.After(filters.To) {
			return Result{}, shared.Invalid("from", "lte_to", "from is after to")
		}
		if filters.To.Sub(filters.From) > maxRange {
			return Result{}, shared.Invalid("to", "range", "range exceeds %d days", int(maxRange.Hours()/24))
		}
	}
	filters.Entity = strings.TrimSpace(filters.Entity)
	filters.EntityID = strings.TrimSpace(filters.EntityID)
	filters.Action = strings.ToLower(strings.TrimSpace(filters.Action))

	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	rows, err := s.repo.Window(ctx, filters, (page-1)*pageSize, pageSize+1)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	if rows == nil {
		rows = []Entry{}
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Approvals returns the approval history of a document in recorded order.
func (s *Service) Approvals(ctx context.Context, module string, ref uuid.UUID) ([]ApprovalStep, error) {
	if s.approvals == nil {
		return nil, errors.New("audit: approval source not configured")
	}
	module = strings.ToUpper(strings.TrimSpace(module))
	if module == "" {
		return nil, shared.Invalid("module", "required", "module is required")
	}
	if ref == uuid.Nil {
		return nil, shared.Invalid("ref", "required", "ref is required")
	}
	logs, err := s.approvals.List(ctx, module, ref)
	if err != nil {
		return nil, err
	}
	steps := make([]ApprovalStep, 0, len(logs))
	for _, l := range logs {
		steps = append(steps, ApprovalStep{
			ID:      l.ID,
			Module:  l.Module,
			RefID:   l.RefID,
			ActorID: l.ActorID,
			Action:  string(l.Action),
			Note:    l.Note,
			At:      l.At,
		})
	}
	return steps, nil
}
