package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/consumption"
	jobmetrics "github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/jobs"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/shared"
)

// Consumer runs test-completion deductions.
type Consumer interface {
	ConsumeForTest(ctx context.Context, input consumption.ConsumeInput) (consumption.Result, error)
}

// ConsumeTestJob processes completions queued by the lab endpoint.
type ConsumeTestJob struct {
	Consumer Consumer
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewConsumeTestJob constructs the job handler.
func NewConsumeTestJob(consumer Consumer, logger *slog.Logger, metrics *jobmetrics.Metrics) *ConsumeTestJob {
	return &ConsumeTestJob{Consumer: consumer, Logger: logger, Metrics: metrics}
}

// Handle executes ConsumeForTest for the queued completion. Validation
// failures are not retried.
func (j *ConsumeTestJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Consumer == nil {
		return errors.New("consume test: handler not configured")
	}
	var input consumption.ConsumeInput
	if err := json.Unmarshal(t.Payload(), &input); err != nil {
		return asynq.SkipRetry
	}
	logger := jobLogger(j.Logger, TaskConsumeTest).With(
		slog.Int64("tenant_id", input.TenantID),
		slog.Int64("patient_test_id", input.PatientTestID))
	tracker := metricsOr(j.Metrics).Track(TaskConsumeTest)
	result, err := j.Consumer.ConsumeForTest(ctx, input)
	if err := tracker.End(err); err != nil {
		logger.Error("consume for test", slog.Any("error", err))
		if errors.Is(err, shared.ErrValidation) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}
	logger.Info("test consumables deducted",
		slog.Bool("already_consumed", result.AlreadyConsumed),
		slog.Int("consumed", len(result.Consumed)),
		slog.Int("failed", len(result.Failed)))
	return nil
}
