package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/inventory"
	jobmetrics "github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/jobs"
)

// StockService is the slice of the inventory service used by maintenance jobs.
type StockService interface {
	ListTenantIDs(ctx context.Context) ([]int64, error)
	ListStockKeys(ctx context.Context, tenantID int64) ([]inventory.StockKey, error)
	RebuildStockLevel(ctx context.Context, tenantID, itemID, branchID int64) (inventory.RebuildResult, error)
	ListLowStock(ctx context.Context, tenantID, branchID int64) ([]inventory.StockLevel, error)
}

// LowStockRecorder publishes low stock counts per branch.
type LowStockRecorder interface {
	SetLowStock(tenantID, branchID int64, critical, low int)
}

// StockRebuildJob replays stock transactions and repairs drifted projections.
type StockRebuildJob struct {
	Stock   StockService
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewStockRebuildJob constructs the job handler.
func NewStockRebuildJob(stock StockService, logger *slog.Logger, metrics *jobmetrics.Metrics) *StockRebuildJob {
	return &StockRebuildJob{Stock: stock, Logger: logger, Metrics: metrics}
}

// Handle executes the rebuild.
func (j *StockRebuildJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Stock == nil {
		return errors.New("stock rebuild: handler not configured")
	}
	payload, err := decodeScope(t)
	if err != nil {
		return err
	}
	tracker := metricsOr(j.Metrics).Track(TaskStockRebuild)
	_, err = j.Run(ctx, payload.TenantID)
	return tracker.End(err)
}

// Run rebuilds every stock projection of the scope and returns the number of
// repaired rows.
func (j *StockRebuildJob) Run(ctx context.Context, tenantID int64) (int, error) {
	logger := jobLogger(j.Logger, TaskStockRebuild)
	tenants, err := resolveTenants(ctx, j.Stock, tenantID)
	if err != nil {
		logger.Error("list tenants", slog.Any("error", err))
		return 0, err
	}
	start := time.Now()
	checked, repaired := 0, 0
	for _, tenant := range tenants {
		keys, err := j.Stock.ListStockKeys(ctx, tenant)
		if err != nil {
			logger.Error("list stock keys", slog.Int64("tenant_id", tenant), slog.Any("error", err))
			return repaired, err
		}
		tenantRepaired := 0
		for _, key := range keys {
			result, err := j.Stock.RebuildStockLevel(ctx, key.TenantID, key.ItemID, key.BranchID)
			if err != nil {
				logger.Error("rebuild stock level",
					slog.Int64("tenant_id", key.TenantID),
					slog.Int64("item_id", key.ItemID),
					slog.Int64("branch_id", key.BranchID),
					slog.Any("error", err))
				return repaired, err
			}
			checked++
			if result.Repaired {
				tenantRepaired++
			}
		}
		repaired += tenantRepaired
		metricsOr(j.Metrics).AddFindings(TaskStockRebuild, "projection_drift", tenant, tenantRepaired)
	}
	logger.Info("stock rebuild completed",
		slog.Int("checked", checked),
		slog.Int("repaired", repaired),
		slog.Duration("duration", time.Since(start)))
	return repaired, nil
}

// LowStockScanJob logs and publishes the low stock situation of every branch.
type LowStockScanJob struct {
	Stock    StockService
	Recorder LowStockRecorder
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewLowStockScanJob constructs the job handler.
func NewLowStockScanJob(stock StockService, recorder LowStockRecorder, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockScanJob {
	return &LowStockScanJob{Stock: stock, Recorder: recorder, Logger: logger, Metrics: metrics}
}

// BranchStockSummary counts flagged items of a branch.
type BranchStockSummary struct {
	TenantID int64
	BranchID int64
	Critical int
	Low      int
}

// Handle executes the scan.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Stock == nil {
		return errors.New("low stock scan: handler not configured")
	}
	payload, err := decodeScope(t)
	if err != nil {
		return err
	}
	tracker := metricsOr(j.Metrics).Track(TaskLowStockScan)
	_, err = j.Run(ctx, payload.TenantID)
	return tracker.End(err)
}

// Run scans every branch with stock history in the scope.
func (j *LowStockScanJob) Run(ctx context.Context, tenantID int64) ([]BranchStockSummary, error) {
	logger := jobLogger(j.Logger, TaskLowStockScan)
	tenants, err := resolveTenants(ctx, j.Stock, tenantID)
	if err != nil {
		logger.Error("list tenants", slog.Any("error", err))
		return nil, err
	}
	var out []BranchStockSummary
	for _, tenant := range tenants {
		keys, err := j.Stock.ListStockKeys(ctx, tenant)
		if err != nil {
			return out, err
		}
		seen := make(map[int64]bool)
		for _, key := range keys {
			if seen[key.BranchID] {
				continue
			}
			seen[key.BranchID] = true
			levels, err := j.Stock.ListLowStock(ctx, tenant, key.BranchID)
			if err != nil {
				logger.Error("list low stock", slog.Int64("tenant_id", tenant), slog.Int64("branch_id", key.BranchID), slog.Any("error", err))
				return out, err
			}
			summary := BranchStockSummary{TenantID: tenant, BranchID: key.BranchID}
			for _, level := range levels {
				switch level.StockStatus {
				case inventory.StockStatusCritical:
					summary.Critical++
				case inventory.StockStatusLow:
					summary.Low++
				}
			}
			if j.Recorder != nil {
				j.Recorder.SetLowStock(tenant, key.BranchID, summary.Critical, summary.Low)
			}
			if summary.Critical > 0 || summary.Low > 0 {
				logger.Warn("branch below reorder level",
					slog.Int64("tenant_id", tenant),
					slog.Int64("branch_id", key.BranchID),
					slog.Int("critical", summary.Critical),
					slog.Int("low", summary.Low))
			}
			out = append(out, summary)
		}
	}
	return out, nil
}

type tenantLister interface {
	ListTenantIDs(ctx context.Context) ([]int64, error)
}

func resolveTenants(ctx context.Context, lister tenantLister, tenantID int64) ([]int64, error) {
	if tenantID > 0 {
		return []int64{tenantID}, nil
	}
	return lister.ListTenantIDs(ctx)
}

func jobLogger(logger *slog.Logger, job string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("job", job))
}

func metricsOr(m *jobmetrics.Metrics) *jobmetrics.Metrics {
	if m != nil {
		return m
	}
	return defaultJobMetrics
}
