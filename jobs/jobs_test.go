package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledger"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

type stubChecker struct {
	companies []int64
	reports   map[int64]ledger.IntegrityReport
	checked   []int64
	err       error
}

func (s *stubChecker) Companies(ctx context.Context) ([]int64, error) {
	return s.companies, nil
}

func (s *stubChecker) CheckIntegrity(ctx context.Context, companyID int64) (ledger.IntegrityReport, error) {
	s.checked = append(s.checked, companyID)
	if s.err != nil {
		return ledger.IntegrityReport{}, s.err
	}
	return s.reports[companyID], nil
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	metrics:
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if want, ok := labels[l.GetName()]; ok && want != l.GetValue() {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestGLIntegrityJobChecksEveryCompany(t *testing.T) {
	balanced := ledger.IntegrityReport{CompanyID: 1, TotalDebit: decimal.NewFromInt(10), TotalCredit: decimal.NewFromInt(10), Balanced: true}
	broken := ledger.IntegrityReport{
		CompanyID:        2,
		Unbalanced:       []ledger.UnbalancedVoucher{{VoucherID: 9}},
		MissingMovements: []int64{11, 12},
		TotalDebit:       decimal.NewFromInt(5),
		TotalCredit:      decimal.NewFromInt(4),
	}
	checker := &stubChecker{companies: []int64{1, 2}, reports: map[int64]ledger.IntegrityReport{1: balanced, 2: broken}}
	reg := prometheus.NewRegistry()
	job := NewGLIntegrityJob(checker, nil, jobmetrics.NewMetrics(reg))

	task, err := NewIntegrityTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []int64{1, 2}, checker.checked)

	anomalies := "odyssey_ledger_integrity_anomalies_total"
	require.Equal(t, float64(1), counterValue(t, reg, anomalies, map[string]string{"kind": "unbalanced_voucher", "company": "2"}))
	require.Equal(t, float64(2), counterValue(t, reg, anomalies, map[string]string{"kind": "missing_movements", "company": "2"}))
	require.Equal(t, float64(1), counterValue(t, reg, anomalies, map[string]string{"kind": "ledger_totals", "company": "2"}))
	require.Zero(t, counterValue(t, reg, anomalies, map[string]string{"company": "1"}))
	require.Equal(t, float64(1), counterValue(t, reg, "odyssey_jobs_total", map[string]string{"job": TaskLedgerIntegrity, "status": "success"}))
}

func TestGLIntegrityJobScopesToPayloadCompany(t *testing.T) {
	checker := &stubChecker{companies: []int64{1, 2, 3}}
	job := NewGLIntegrityJob(checker, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewIntegrityTask(3)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []int64{3}, checker.checked)
}

func TestGLIntegrityJobFailsOnStorageError(t *testing.T) {
	checker := &stubChecker{companies: []int64{1}, err: errors.New("connection reset")}
	reg := prometheus.NewRegistry()
	job := NewGLIntegrityJob(checker, nil, jobmetrics.NewMetrics(reg))

	err := job.Handle(context.Background(), asynq.NewTask(TaskLedgerIntegrity, nil))
	require.ErrorContains(t, err, "connection reset")
	require.Equal(t, float64(1), counterValue(t, reg, "odyssey_jobs_failures_total", map[string]string{"job": TaskLedgerIntegrity}))
}

func TestGLIntegrityJobSkipsRetryOnBadPayload(t *testing.T) {
	job := NewGLIntegrityJob(&stubChecker{}, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	err := job.Handle(context.Background(), asynq.NewTask(TaskLedgerIntegrity, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type stubPurger struct {
	olderThan time.Duration
}

func (s *stubPurger) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.olderThan = olderThan
	return 4, nil
}

func TestIdempotencyCleanupUsesRetention(t *testing.T) {
	purger := &stubPurger{}
	job := NewIdempotencyCleanupJob(purger, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewIdempotencyCleanupTask(48)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 48*time.Hour, purger.olderThan)

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	require.Equal(t, defaultRetention, purger.olderThan)
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func TestHealthEndpoint(t *testing.T) {
	cases := []struct {
		name      string
		inspector QueueInspector
		status    int
		pending   int
	}{
		{"no inspector", nil, http.StatusOK, 0},
		{"queue info", stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3}}, http.StatusOK, 3},
		{"redis down", stubInspector{err: errors.New("dial tcp")}, http.StatusServiceUnavailable, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := chi.NewRouter()
			NewHandler(tc.inspector, nil).MountRoutes(r)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, tc.status, rec.Code)
			if tc.status != http.StatusOK {
				return
			}
			var resp healthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.Equal(t, QueueDefault, resp.Queue)
			require.Equal(t, tc.pending, resp.Pending)
		})
	}
}
