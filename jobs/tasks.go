package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/consumption"
	jobmetrics "github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries work triggered by the lab floor.
	QueueCritical = "critical"

	// TaskLedgerIntegrity compares materialized balances with journal replay.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskStockRebuild repairs stock projections from the transaction log.
	TaskStockRebuild = "inventory:stock-rebuild"
	// TaskLowStockScan reports low and critical items per branch.
	TaskLowStockScan = "inventory:low-stock-scan"
	// TaskConsumeTest deducts the consumables of a completed test.
	TaskConsumeTest = "inventory:consume-test"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency-cleanup"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ScopePayload limits a maintenance job to one tenant. Zero means all tenants.
type ScopePayload struct {
	TenantID int64 `json:"tenant_id"`
}

// CleanupPayload configures the idempotency cleanup.
type CleanupPayload struct {
	OlderThan time.Duration `json:"older_than"`
}

func newTask(typ string, payload any, opts ...asynq.Option) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, body, opts...), nil
}

// NewLedgerIntegrityTask constructs the ledger integrity task.
func NewLedgerIntegrityTask(tenantID int64) (*asynq.Task, error) {
	return newTask(TaskLedgerIntegrity, ScopePayload{TenantID: tenantID}, asynq.Queue(QueueDefault))
}

// NewStockRebuildTask constructs the stock rebuild task.
func NewStockRebuildTask(tenantID int64) (*asynq.Task, error) {
	return newTask(TaskStockRebuild, ScopePayload{TenantID: tenantID}, asynq.Queue(QueueDefault))
}

// NewLowStockScanTask constructs the low stock scan task.
func NewLowStockScanTask(tenantID int64) (*asynq.Task, error) {
	return newTask(TaskLowStockScan, ScopePayload{TenantID: tenantID}, asynq.Queue(QueueDefault))
}

// NewConsumeTestTask constructs an async test-completion deduction.
func NewConsumeTestTask(input consumption.ConsumeInput) (*asynq.Task, error) {
	return newTask(TaskConsumeTest, input, asynq.Queue(QueueCritical), asynq.MaxRetry(5))
}

// NewIdempotencyCleanupTask constructs the idempotency cleanup task.
func NewIdempotencyCleanupTask(olderThan time.Duration) (*asynq.Task, error) {
	return newTask(TaskIdempotencyCleanup, CleanupPayload{OlderThan: olderThan}, asynq.Queue(QueueDefault))
}

func decodeScope(t *asynq.Task) (ScopePayload, error) {
	var payload ScopePayload
	if len(t.Payload()) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, asynq.SkipRetry
	}
	return payload, nil
}
