package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	internalShared "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

type stubRepo struct {
	rows       []Entry
	lastFilter TimelineFilters
	lastOffset int
	lastLimit  int
}

func (s *stubRepo) Window(ctx context.Context, f TimelineFilters, offset, limit int) ([]Entry, error) {
	s.lastFilter = f
	s.lastOffset = offset
	s.lastLimit = limit
	if offset >= len(s.rows) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.rows) {
		end = len(s.rows)
	}
	return s.rows[offset:end], nil
}

type stubApprovals struct {
	logs []internalShared.ApprovalLog
}

func (s *stubApprovals) List(ctx context.Context, module string, ref uuid.UUID) ([]internalShared.ApprovalLog, error) {
	var out []internalShared.ApprovalLog
	for _, l := range s.logs {
		if l.Module == module && l.RefID == ref {
			out = append(out, l)
		}
	}
	return out, nil
}

func entries(n int) []Entry {
	base := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	out := make([]Entry, n)
	for i := range out {
		out[i] = Entry{ID: int64(n - i), At: base.Add(-time.Duration(i) * time.Hour), ActorID: 7, Action: "voucher.post", Entity: "voucher", EntityID: "1"}
	}
	return out
}

func TestTimelinePaging(t *testing.T) {
	repo := &stubRepo{rows: entries(3)}
	svc := NewService(repo, nil)

	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	require.True(t, result.Paging.HasNext)
	require.Equal(t, 2, result.Paging.NextPage)
	require.Zero(t, result.Paging.PrevPage)
	require.Equal(t, 3, repo.lastLimit)
	require.Zero(t, repo.lastOffset)

	result, err = svc.Timeline(context.Background(), TimelineFilters{Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	require.False(t, result.Paging.HasNext)
	require.Equal(t, 1, result.Paging.PrevPage)
	require.Equal(t, 2, repo.lastOffset)
}

func TestTimelineDefaultsAndCaps(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil)

	result, err := svc.Timeline(context.Background(), TimelineFilters{PageSize: 500, Action: " Voucher.Post ", Entity: " voucher "})
	require.NoError(t, err)
	require.NotNil(t, result.Rows)
	require.Equal(t, 1, result.Paging.Page)
	require.Equal(t, maxPageSize, result.Paging.PageSize)
	require.Equal(t, maxPageSize+1, repo.lastLimit)
	require.Equal(t, "voucher.post", repo.lastFilter.Action)
	require.Equal(t, "voucher", repo.lastFilter.Entity)
}

func TestTimelineRejectsBadRange(t *testing.T) {
	svc := NewService(&stubRepo{}, nil)
	from := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	_, err := svc.Timeline(context.Background(), TimelineFilters{From: from, To: from.AddDate(0, 0, -1)})
	require.True(t, shared.IsValidation(err))

	_, err = svc.Timeline(context.Background(), TimelineFilters{From: from, To: from.AddDate(0, 6, 0)})
	require.True(t, shared.IsValidation(err))
}

func TestApprovalsHistory(t *testing.T) {
	ref := uuid.New()
	other := uuid.New()
	at := time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC)
	src := &stubApprovals{logs: []internalShared.ApprovalLog{
		{ID: 1, Module: "VOUCHER", RefID: ref, ActorID: 3, Action: internalShared.ApprovalSubmit, At: at},
		{ID: 2, Module: "VOUCHER", RefID: other, ActorID: 3, Action: internalShared.ApprovalSubmit, At: at},
		{ID: 3, Module: "VOUCHER", RefID: ref, ActorID: 4, Action: internalShared.ApprovalApprove, Note: "ok", At: at.Add(time.Hour)},
	}}
	svc := NewService(nil, src)

	steps, err := svc.Approvals(context.Background(), "voucher", ref)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	require.Equal(t, "SUBMIT", steps[0].Action)
	require.Equal(t, "APPROVE", steps[1].Action)
	require.Equal(t, "ok", steps[1].Note)

	_, err = svc.Approvals(context.Background(), "", ref)
	require.True(t, shared.IsValidation(err))
	_, err = svc.Approvals(context.Background(), "voucher", uuid.Nil)
	require.True(t, shared.IsValidation(err))
}

func newTestRouter(svc *Service) http.Handler {
	r := chi.NewRouter()
	r.Route("/audit", NewHandler(nil, svc).MountRoutes)
	return r
}

func TestHandlerTimeline(t *testing.T) {
	repo := &stubRepo{rows: entries(1)}
	router := newTestRouter(NewService(repo, nil))

	req := httptest.NewRequest(http.MethodGet, "/audit?from=2024-03-01&to=2024-03-31&actor_id=7&entity=voucher&page_size=5", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Rows, 1)
	require.Equal(t, int64(7), repo.lastFilter.ActorID)
	require.Equal(t, time.Date(2024, 3, 31, 23, 59, 59, 999999999, time.UTC), repo.lastFilter.To)
}

func TestHandlerRejectsBadQuery(t *testing.T) {
	router := newTestRouter(NewService(&stubRepo{}, nil))
	for _, target := range []string{"/audit?from=yesterday", "/audit?actor_id=-1", "/audit?from=2024-03-10&to=2024-03-01"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestHandlerApprovals(t *testing.T) {
	ref := uuid.New()
	src := &stubApprovals{logs: []internalShared.ApprovalLog{{ID: 1, Module: "VOUCHER", RefID: ref, ActorID: 3, Action: internalShared.ApprovalSubmit}}}
	router := newTestRouter(NewService(nil, src))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/approvals/voucher/"+ref.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var steps []ApprovalStep
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &steps))
	require.Len(t, steps, 1)
	require.Equal(t, ref, steps[0].RefID)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/approvals/voucher/not-a-uuid", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
