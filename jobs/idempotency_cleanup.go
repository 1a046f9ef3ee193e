package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

const defaultRetention = 7 * 24 * time.Hour

// KeyPurger deletes idempotency keys older than a retention window.
type KeyPurger interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupJob purges expired import idempotency keys.
type IdempotencyCleanupJob struct {
	Purger  KeyPurger
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob initialises the cleanup handler.
func NewIdempotencyCleanupJob(purger KeyPurger, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{Purger: purger, Logger: logger, Metrics: metrics}
}

// Handle deletes keys older than the payload retention.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload CleanupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("idempotency cleanup: decode payload: %w: %w", err, asynq.SkipRetry)
		}
	}
	retention := time.Duration(payload.RetentionHours) * time.Hour
	if retention <= 0 {
		retention = defaultRetention
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracker := metrics.Track(TaskIdempotencyCleanup)
	deleted, err := j.Purger.Cleanup(ctx, retention)
	if err != nil {
		logger.Error("idempotency cleanup failed", slog.String("job", TaskIdempotencyCleanup), slog.Any("error", err))
		return tracker.End(err)
	}
	logger.Info("idempotency keys purged",
		slog.String("job", TaskIdempotencyCleanup),
		slog.Int64("deleted", deleted),
		slog.Duration("retention", retention))
	return tracker.End(nil)
}
