package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/accounting"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/consumption"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/inventory"
	jobmetrics "github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/jobs"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/shared"
)

type fakeLedger struct {
	drifts     map[int64][]accounting.BalanceDrift
	unbalanced map[int64]bool
}

func (f *fakeLedger) ListTenantIDs(ctx context.Context) ([]int64, error) {
	return []int64{1, 2, 3}, nil
}

func (f *fakeLedger) CheckIntegrity(ctx context.Context, tenantID int64) ([]accounting.BalanceDrift, error) {
	return f.drifts[tenantID], nil
}

func (f *fakeLedger) TrialBalance(ctx context.Context, tenantID int64, asOf *time.Time) (accounting.TrialBalance, error) {
	tb := accounting.TrialBalance{TenantID: tenantID, TotalDebit: decimal.NewFromInt(100), TotalCredit: decimal.NewFromInt(100)}
	if f.unbalanced[tenantID] {
		tb.TotalCredit = decimal.NewFromInt(90)
	}
	return tb, nil
}

type driftCounter struct {
	mu     sync.Mutex
	counts map[int64]int
}

func (d *driftCounter) AddLedgerDrift(tenantID int64, accounts int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.counts == nil {
		d.counts = make(map[int64]int)
	}
	d.counts[tenantID] += accounts
}

func testMetrics() *jobmetrics.Metrics {
	return jobmetrics.NewMetrics(prometheus.NewRegistry())
}

func TestLedgerIntegrityCleanLedger(t *testing.T) {
	drift := &driftCounter{}
	job := NewLedgerIntegrityJob(&fakeLedger{}, drift, nil, testMetrics())

	count, err := job.Run(context.Background(), 0)
	require.NoError(t, err)
	require.Zero(t, count)
	require.Len(t, drift.counts, 3)
}

func TestLedgerIntegrityReportsDrift(t *testing.T) {
	ledger := &fakeLedger{
		drifts: map[int64][]accounting.BalanceDrift{
			2: {{AccountID: 9, Code: "4000", Replayed: decimal.NewFromInt(10000), Materialized: decimal.NewFromInt(9000)}},
		},
		unbalanced: map[int64]bool{3: true},
	}
	drift := &driftCounter{}
	job := NewLedgerIntegrityJob(ledger, drift, nil, testMetrics())

	count, err := job.Run(context.Background(), 0)
	require.ErrorIs(t, err, ErrLedgerIntegrity)
	require.Equal(t, 1, count)
	require.Equal(t, 1, drift.counts[2])

	task, err := NewLedgerIntegrityTask(2)
	require.NoError(t, err)
	err = job.Handle(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type fakeStock struct {
	keys     map[int64][]inventory.StockKey
	repaired map[int64]bool
	low      map[int64][]inventory.StockLevel
}

func (f *fakeStock) ListTenantIDs(ctx context.Context) ([]int64, error) {
	return []int64{1}, nil
}

func (f *fakeStock) ListStockKeys(ctx context.Context, tenantID int64) ([]inventory.StockKey, error) {
	return f.keys[tenantID], nil
}

func (f *fakeStock) RebuildStockLevel(ctx context.Context, tenantID, itemID, branchID int64) (inventory.RebuildResult, error) {
	return inventory.RebuildResult{StockKey: inventory.StockKey{TenantID: tenantID, ItemID: itemID, BranchID: branchID}, Repaired: f.repaired[itemID]}, nil
}

func (f *fakeStock) ListLowStock(ctx context.Context, tenantID, branchID int64) ([]inventory.StockLevel, error) {
	return f.low[branchID], nil
}

type lowStockGauge struct {
	values map[int64][2]int
}

func (g *lowStockGauge) SetLowStock(tenantID, branchID int64, critical, low int) {
	if g.values == nil {
		g.values = make(map[int64][2]int)
	}
	g.values[branchID] = [2]int{critical, low}
}

func stockFixture() *fakeStock {
	return &fakeStock{
		keys: map[int64][]inventory.StockKey{
			1: {
				{TenantID: 1, ItemID: 10, BranchID: 1},
				{TenantID: 1, ItemID: 11, BranchID: 1},
				{TenantID: 1, ItemID: 10, BranchID: 2},
			},
		},
		repaired: map[int64]bool{11: true},
		low: map[int64][]inventory.StockLevel{
			1: {
				{ItemID: 10, StockStatus: inventory.StockStatusCritical},
				{ItemID: 11, StockStatus: inventory.StockStatusLow},
				{ItemID: 12, StockStatus: inventory.StockStatusLow},
			},
		},
	}
}

func TestStockRebuildCountsRepairs(t *testing.T) {
	job := NewStockRebuildJob(stockFixture(), nil, testMetrics())
	repaired, err := job.Run(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 1, repaired)
}

func TestLowStockScanSummarisesBranches(t *testing.T) {
	gauge := &lowStockGauge{}
	job := NewLowStockScanJob(stockFixture(), gauge, nil, testMetrics())

	summaries, err := job.Run(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	require.Equal(t, BranchStockSummary{TenantID: 1, BranchID: 1, Critical: 1, Low: 2}, summaries[0])
	require.Equal(t, BranchStockSummary{TenantID: 1, BranchID: 2}, summaries[1])
	require.Equal(t, [2]int{1, 2}, gauge.values[1])
	require.Equal(t, [2]int{0, 0}, gauge.values[2])
}

type fakeConsumer struct {
	inputs []consumption.ConsumeInput
	err    error
}

func (f *fakeConsumer) ConsumeForTest(ctx context.Context, input consumption.ConsumeInput) (consumption.Result, error) {
	f.inputs = append(f.inputs, input)
	return consumption.Result{PatientTestID: input.PatientTestID}, f.err
}

func TestConsumeTestJob(t *testing.T) {
	input := consumption.ConsumeInput{TenantID: 1, TestID: 7, PatientTestID: 501, BranchID: 2, PerformedBy: 9}
	task, err := NewConsumeTestTask(input)
	require.NoError(t, err)

	consumer := &fakeConsumer{}
	job := NewConsumeTestJob(consumer, nil, testMetrics())
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []consumption.ConsumeInput{input}, consumer.inputs)

	consumer.err = shared.NewError(shared.ErrValidation, "bad input")
	require.ErrorIs(t, job.Handle(context.Background(), task), asynq.SkipRetry)

	consumer.err = errors.New("database unavailable")
	err = job.Handle(context.Background(), task)
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)

	require.ErrorIs(t, job.Handle(context.Background(), asynq.NewTask(TaskConsumeTest, []byte("{"))), asynq.SkipRetry)
}

type fakeCleaner struct {
	olderThan time.Duration
}

func (f *fakeCleaner) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return 4, nil
}

func TestIdempotencyCleanupDefaultsRetention(t *testing.T) {
	cleaner := &fakeCleaner{}
	job := NewIdempotencyCleanupJob(cleaner, nil, testMetrics())
	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	require.Equal(t, DefaultIdempotencyRetention, cleaner.olderThan)

	task, err := NewIdempotencyCleanupTask(time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, time.Hour, cleaner.olderThan)
}

func TestDefaultSchedule(t *testing.T) {
	entries, err := DefaultSchedule()
	require.NoError(t, err)
	specs := make(map[string]string)
	for _, e := range entries {
		specs[e.Task.Type()] = e.Spec
	}
	require.Equal(t, "0 2 * * *", specs[TaskLedgerIntegrity])
	require.Equal(t, "0 3 * * *", specs[TaskStockRebuild])
	require.Equal(t, "0 * * * *", specs[TaskLowStockScan])

	var payload ScopePayload
	require.NoError(t, json.Unmarshal(entries[0].Task.Payload(), &payload))
	require.Zero(t, payload.TenantID)
}

func TestClientDropsDuplicateConsumption(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	input := consumption.ConsumeInput{TenantID: 1, TestID: 7, PatientTestID: 501, BranchID: 2}
	require.NoError(t, client.EnqueueConsumption(context.Background(), input))
	require.NoError(t, client.EnqueueConsumption(context.Background(), input))
}

func TestJobsHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil).MountRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queues":[]}`, rec.Body.String())
}
