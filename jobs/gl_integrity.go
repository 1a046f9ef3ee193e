package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledger"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// IntegrityChecker runs the ledger integrity check.
type IntegrityChecker interface {
	Companies(ctx context.Context) ([]int64, error)
	CheckIntegrity(ctx context.Context, companyID int64) (ledger.IntegrityReport, error)
}

// GLIntegrityJob verifies that every posted voucher balances and has movements.
type GLIntegrityJob struct {
	Checker IntegrityChecker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewGLIntegrityJob initialises the integrity handler.
func NewGLIntegrityJob(checker IntegrityChecker, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityJob {
	return &GLIntegrityJob{Checker: checker, Logger: logger, Metrics: metrics}
}

// Handle executes the check for the payload's company or for all companies.
// Anomalies are reported through logs and metrics; the run only fails on
// storage errors.
func (j *GLIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Checker == nil {
		return errors.New("gl integrity: checker not configured")
	}
	var payload IntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("gl integrity: decode payload: %w: %w", err, asynq.SkipRetry)
		}
	}
	tracker := j.metrics().Track(TaskLedgerIntegrity)
	if _, err := j.Run(ctx, payload.CompanyID); err != nil {
		j.logger().Error("integrity check failed", slog.Any("error", err))
		return tracker.End(err)
	}
	return tracker.End(nil)
}

// Run checks the given company, or every company when companyID is zero.
func (j *GLIntegrityJob) Run(ctx context.Context, companyID int64) ([]ledger.IntegrityReport, error) {
	start := time.Now()
	companies := []int64{companyID}
	if companyID == 0 {
		var err error
		if companies, err = j.Checker.Companies(ctx); err != nil {
			return nil, fmt.Errorf("gl integrity: list companies: %w", err)
		}
	}
	logger := j.logger()
	reports := make([]ledger.IntegrityReport, 0, len(companies))
	anomalies := 0
	for _, id := range companies {
		report, err := j.Checker.CheckIntegrity(ctx, id)
		if err != nil {
			return reports, fmt.Errorf("gl integrity: company %d: %w", id, err)
		}
		reports = append(reports, report)
		j.metrics().AddAnomalies("unbalanced_voucher", id, len(report.Unbalanced))
		j.metrics().AddAnomalies("missing_movements", id, len(report.MissingMovements))
		if !report.TotalDebit.Equal(report.TotalCredit) {
			j.metrics().AddAnomalies("ledger_totals", id, 1)
		}
		anomalies += report.Anomalies()
	}
	logger.Info("integrity check completed",
		slog.Int("companies", len(companies)),
		slog.Int("anomalies", anomalies),
		slog.Duration("duration", time.Since(start)))
	return reports, nil
}

func (j *GLIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskLedgerIntegrity))
}

func (j *GLIntegrityJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
