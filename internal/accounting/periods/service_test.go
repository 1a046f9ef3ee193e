package periods

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	internalShared "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

type memoryRepo struct {
	nextID  int64
	periods map[int64]Period
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{periods: map[int64]Period{}}
}

func (m *memoryRepo) Create(ctx context.Context, in CreateInput) (Period, error) {
	m.nextID++
	p := Period{ID: m.nextID, CompanyID: in.CompanyID, Code: in.Code, StartDate: in.StartDate, EndDate: in.EndDate, Status: PeriodStatusOpen}
	m.periods[p.ID] = p
	return p, nil
}

func (m *memoryRepo) Get(ctx context.Context, id int64) (Period, error) {
	p, ok := m.periods[id]
	if !ok {
		return Period{}, shared.NotFound("period", id)
	}
	return p, nil
}

func (m *memoryRepo) List(ctx context.Context, companyID int64) ([]Period, error) {
	var out []Period
	for _, p := range m.periods {
		if p.CompanyID == companyID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (m *memoryRepo) FindOpenPeriodByDate(ctx context.Context, companyID int64, date time.Time) (Period, error) {
	for _, p := range m.periods {
		if p.CompanyID == companyID && p.Status == PeriodStatusOpen && p.Contains(date) {
			return p, nil
		}
	}
	return Period{}, ErrNoOpenPeriod(date)
}

func (m *memoryRepo) Overlaps(ctx context.Context, companyID int64, start, end time.Time) (bool, error) {
	for _, p := range m.periods {
		if p.CompanyID == companyID && !p.StartDate.After(end) && !p.EndDate.Before(start) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryRepo) UpdateStatus(ctx context.Context, id int64, status PeriodStatus, actorID int64) (Period, error) {
	p := m.periods[id]
	p.Status = status
	m.periods[id] = p
	return p, nil
}

type recordingAudit struct {
	logs []internalShared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log internalShared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func day(s string) time.Time {
	t, _ := time.Parse(shared.DateLayout, s)
	return t
}

func TestCreateRejectsOverlap(t *testing.T) {
	audit := &recordingAudit{}
	svc := NewService(newMemoryRepo(), audit)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{CompanyID: 1, Code: "2024-01", StartDate: day("2024-01-01"), EndDate: day("2024-01-31")})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateInput{CompanyID: 1, Code: "2024-01b", StartDate: day("2024-01-15"), EndDate: day("2024-02-14")})
	var v *shared.ValidationError
	require.ErrorAs(t, err, &v)
	require.Equal(t, "overlap", v.Rule)

	_, err = svc.Create(ctx, CreateInput{CompanyID: 2, Code: "2024-01", StartDate: day("2024-01-01"), EndDate: day("2024-01-31")})
	require.NoError(t, err, "other companies do not overlap")
	require.Len(t, audit.logs, 2)
}

func TestCreateRejectsInvertedRange(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	_, err := svc.Create(context.Background(), CreateInput{CompanyID: 1, Code: "x", StartDate: day("2024-02-01"), EndDate: day("2024-01-01")})
	require.True(t, shared.IsValidation(err))
}

func TestSetStatusFollowsPolicy(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	ctx := context.Background()
	p, err := svc.Create(ctx, CreateInput{CompanyID: 1, Code: "2024-01", StartDate: day("2024-01-01"), EndDate: day("2024-01-31")})
	require.NoError(t, err)

	p, err = svc.SetStatus(ctx, StatusInput{ID: p.ID, Status: PeriodStatusLocked})
	require.NoError(t, err)
	require.Equal(t, PeriodStatusLocked, p.Status)

	_, err = svc.SetStatus(ctx, StatusInput{ID: p.ID, Status: PeriodStatusOpen, Override: true})
	var se *shared.StateError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "LOCKED", se.Status)

	p, err = svc.SetStatus(ctx, StatusInput{ID: p.ID, Status: PeriodStatusClosed, Override: true})
	require.NoError(t, err)
	require.Equal(t, PeriodStatusClosed, p.Status)
}

func TestFindOpenPeriodByDate(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	ctx := context.Background()
	_, err := svc.Create(ctx, CreateInput{CompanyID: 1, Code: "2024-01", StartDate: day("2024-01-01"), EndDate: day("2024-01-31")})
	require.NoError(t, err)

	p, err := svc.FindOpenPeriodByDate(ctx, 1, time.Date(2024, 1, 31, 18, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, "2024-01", p.Code)

	_, err = svc.FindOpenPeriodByDate(ctx, 1, day("2024-02-01"))
	var v *shared.ValidationError
	require.ErrorAs(t, err, &v)
	require.Equal(t, "open_period", v.Rule)
}
