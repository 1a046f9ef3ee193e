package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity checks that the general ledger balances.
	TaskLedgerIntegrity = "ledger:gl_integrity"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "ledger:idempotency_cleanup"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// IntegrityPayload scopes an integrity run. A zero CompanyID checks every company.
type IntegrityPayload struct {
	CompanyID int64 `json:"company_id,omitempty"`
}

// NewIntegrityTask constructs a TaskLedgerIntegrity task.
func NewIntegrityTask(companyID int64) (*asynq.Task, error) {
	data, err := json.Marshal(IntegrityPayload{CompanyID: companyID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, data), nil
}

// CleanupPayload carries the idempotency retention window in hours.
type CleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs a TaskIdempotencyCleanup task.
func NewIdempotencyCleanupTask(retentionHours int) (*asynq.Task, error) {
	data, err := json.Marshal(CleanupPayload{RetentionHours: retentionHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
