package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, reg *prometheus.Registry, name string) []*dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()
		}
	}
	return nil
}

func label(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	require.NoError(t, metrics.Track("ledger:gl_integrity").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, metrics.Track("ledger:gl_integrity").End(boom), boom)

	runs := gather(t, reg, "odyssey_jobs_total")
	require.Len(t, runs, 2)
	byStatus := map[string]float64{}
	for _, m := range runs {
		byStatus[label(m, "status")] = m.GetCounter().GetValue()
	}
	require.Equal(t, map[string]float64{"success": 1, "failure": 1}, byStatus)

	failures := gather(t, reg, "odyssey_jobs_failures_total")
	require.Len(t, failures, 1)
	require.Equal(t, float64(1), failures[0].GetCounter().GetValue())

	last := gather(t, reg, "odyssey_job_last_success_timestamp_seconds")
	require.Len(t, last, 1)
	require.Positive(t, last[0].GetGauge().GetValue())
}

func TestAddAnomaliesLabelsCompany(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	metrics.AddAnomalies("unbalanced_voucher", 7, 2)
	metrics.AddAnomalies("missing_movements", 0, 1)
	metrics.AddAnomalies("unbalanced_voucher", 7, 0)

	series := gather(t, reg, "odyssey_ledger_integrity_anomalies_total")
	require.Len(t, series, 2)
	got := map[string]float64{}
	for _, m := range series {
		got[label(m, "kind")+"/"+label(m, "company")] = m.GetCounter().GetValue()
	}
	require.Equal(t, map[string]float64{"unbalanced_voucher/7": 2, "missing_movements/0": 1}, got)
}

func TestNilMetricsTrackerIsInert(t *testing.T) {
	var metrics *Metrics
	metrics.AddAnomalies("unbalanced_voucher", 1, 3)
	require.NoError(t, metrics.Track("noop").End(nil))
}
