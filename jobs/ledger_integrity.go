package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/accounting"
	jobmetrics "github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/jobs"
)

// LedgerChecker is the slice of the ledger the integrity job needs.
type LedgerChecker interface {
	ListTenantIDs(ctx context.Context) ([]int64, error)
	CheckIntegrity(ctx context.Context, tenantID int64) ([]accounting.BalanceDrift, error)
	TrialBalance(ctx context.Context, tenantID int64, asOf *time.Time) (accounting.TrialBalance, error)
}

// DriftRecorder publishes drift counts.
type DriftRecorder interface {
	AddLedgerDrift(tenantID int64, accounts int)
}

// ErrLedgerIntegrity is returned when at least one tenant failed the check.
var ErrLedgerIntegrity = errors.New("ledger integrity violated")

// LedgerIntegrityJob replays every account and compares it with the
// materialized balance.
type LedgerIntegrityJob struct {
	Ledger      LedgerChecker
	Drift       DriftRecorder
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	Concurrency int
}

// NewLedgerIntegrityJob constructs the job handler.
func NewLedgerIntegrityJob(ledger LedgerChecker, drift DriftRecorder, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{Ledger: ledger, Drift: drift, Logger: logger, Metrics: metrics, Concurrency: 4}
}

// Handle executes the integrity check.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Ledger == nil {
		return errors.New("ledger integrity: handler not configured")
	}
	payload, err := decodeScope(t)
	if err != nil {
		return err
	}
	tracker := j.metrics().Track(TaskLedgerIntegrity)
	_, err = j.Run(ctx, payload.TenantID)
	err = tracker.End(err)
	if errors.Is(err, ErrLedgerIntegrity) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

// Run checks one tenant, or every tenant when tenantID is zero, and returns
// the number of drifting accounts.
func (j *LedgerIntegrityJob) Run(ctx context.Context, tenantID int64) (int, error) {
	logger := j.log()
	tenants := []int64{tenantID}
	if tenantID == 0 {
		var err error
		if tenants, err = j.Ledger.ListTenantIDs(ctx); err != nil {
			logger.Error("list tenants", slog.Any("error", err))
			return 0, err
		}
	}
	start := time.Now()
	var (
		mu       sync.Mutex
		drifting int
		violated []int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(j.Concurrency, 1))
	for _, tenant := range tenants {
		g.Go(func() error {
			count, ok, err := j.checkTenant(gctx, tenant)
			if err != nil {
				return fmt.Errorf("tenant %d: %w", tenant, err)
			}
			mu.Lock()
			drifting += count
			if !ok {
				violated = append(violated, tenant)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("ledger integrity check failed", slog.Any("error", err))
		return drifting, err
	}
	logger.Info("ledger integrity check completed",
		slog.Int("tenants", len(tenants)),
		slog.Int("drifting_accounts", drifting),
		slog.Duration("duration", time.Since(start)))
	if len(violated) > 0 {
		return drifting, fmt.Errorf("%w: tenants %v", ErrLedgerIntegrity, violated)
	}
	return drifting, nil
}

func (j *LedgerIntegrityJob) checkTenant(ctx context.Context, tenantID int64) (int, bool, error) {
	logger := j.log().With(slog.Int64("tenant_id", tenantID))
	drifts, err := j.Ledger.CheckIntegrity(ctx, tenantID)
	if err != nil {
		return 0, false, err
	}
	for _, d := range drifts {
		logger.Error("account balance drift",
			slog.Int64("account_id", d.AccountID),
			slog.String("code", d.Code),
			slog.String("replayed", d.Replayed.String()),
			slog.String("materialized", d.Materialized.String()))
	}
	if j.Drift != nil {
		j.Drift.AddLedgerDrift(tenantID, len(drifts))
	}
	j.metrics().AddFindings(TaskLedgerIntegrity, "balance_drift", tenantID, len(drifts))

	tb, err := j.Ledger.TrialBalance(ctx, tenantID, nil)
	if err != nil {
		return len(drifts), false, err
	}
	balanced := tb.TotalDebit.Equal(tb.TotalCredit)
	if !balanced {
		logger.Error("trial balance does not balance",
			slog.String("debit", tb.TotalDebit.String()),
			slog.String("credit", tb.TotalCredit.String()))
		j.metrics().AddFindings(TaskLedgerIntegrity, "unbalanced", tenantID, 1)
	}
	return len(drifts), balanced && len(drifts) == 0, nil
}

func (j *LedgerIntegrityJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskLedgerIntegrity))
}

func (j *LedgerIntegrityJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
