package pettycash

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/shared"
)

type memoryState struct {
	funds  map[int64]Fund
	txns   []Transaction
	recs   []Reconciliation
	nextID int64
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		funds:  make(map[int64]Fund, len(s.funds)),
		txns:   append([]Transaction(nil), s.txns...),
		recs:   append([]Reconciliation(nil), s.recs...),
		nextID: s.nextID,
	}
	for k, v := range s.funds {
		out.funds[k] = v
	}
	return out
}

type memoryRepo struct {
	mu    sync.Mutex
	state memoryState
}

type memoryTx struct {
	state *memoryState
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: memoryState{}.clone()}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	working := r.state.clone()
	if err := fn(ctx, &memoryTx{state: &working}); err != nil {
		return err
	}
	r.state = working
	return nil
}

func (tx *memoryTx) InsertFund(ctx context.Context, fund Fund) (Fund, error) {
	tx.state.nextID++
	fund.ID = tx.state.nextID
	fund.CreatedAt = time.Now()
	tx.state.funds[fund.ID] = fund
	return fund, nil
}

func (tx *memoryTx) GetFund(ctx context.Context, tenantID, id int64) (Fund, error) {
	f, ok := tx.state.funds[id]
	if !ok || f.TenantID != tenantID {
		return Fund{}, ErrFundNotFound
	}
	return f, nil
}

func (tx *memoryTx) GetFundForUpdate(ctx context.Context, tenantID, id int64) (Fund, error) {
	return tx.GetFund(ctx, tenantID, id)
}

func (tx *memoryTx) ListFunds(ctx context.Context, tenantID, branchID int64) ([]Fund, error) {
	var out []Fund
	for id := int64(1); id <= tx.state.nextID; id++ {
		f, ok := tx.state.funds[id]
		if ok && f.TenantID == tenantID && (branchID == 0 || f.BranchID == branchID) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (tx *memoryTx) UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	f := tx.state.funds[id]
	f.CurrentBalance = balance
	tx.state.funds[id] = f
	return nil
}

func (tx *memoryTx) UpdateStatus(ctx context.Context, id int64, status FundStatus) error {
	f := tx.state.funds[id]
	f.Status = status
	tx.state.funds[id] = f
	return nil
}

func (tx *memoryTx) SetReconciled(ctx context.Context, id int64, at time.Time) error {
	f := tx.state.funds[id]
	f.LastReconciledAt = &at
	tx.state.funds[id] = f
	return nil
}

func (tx *memoryTx) SumExpenses(ctx context.Context, fundID int64, from, to time.Time) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, t := range tx.state.txns {
		if t.FundID == fundID && t.Type == TxExpense && !t.CreatedAt.Before(from) && !t.CreatedAt.After(to) {
			sum = sum.Add(t.Amount)
		}
	}
	return sum, nil
}

func (tx *memoryTx) InsertTransaction(ctx context.Context, txn Transaction) (Transaction, error) {
	tx.state.nextID++
	txn.ID = tx.state.nextID
	tx.state.txns = append(tx.state.txns, txn)
	return txn, nil
}

func (tx *memoryTx) ListTransactions(ctx context.Context, tenantID, fundID int64, limit int) ([]Transaction, error) {
	var out []Transaction
	for i := len(tx.state.txns) - 1; i >= 0; i-- {
		t := tx.state.txns[i]
		if t.TenantID == tenantID && t.FundID == fundID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (tx *memoryTx) InsertReconciliation(ctx context.Context, rec Reconciliation) (Reconciliation, error) {
	tx.state.nextID++
	rec.ID = tx.state.nextID
	tx.state.recs = append(tx.state.recs, rec)
	return rec, nil
}

func (tx *memoryTx) ListReconciliations(ctx context.Context, tenantID, fundID int64) ([]Reconciliation, error) {
	var out []Reconciliation
	for _, r := range tx.state.recs {
		if r.TenantID == tenantID && r.FundID == fundID {
			out = append(out, r)
		}
	}
	return out, nil
}

type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (m *countingMetrics) FundTransactionRecorded(txType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts["tx:"+txType]++
}

func (m *countingMetrics) ReconciliationRecorded(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts["rec:"+status]++
}

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

var clock = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, initial, limit string) (*Service, *memoryRepo, Fund) {
	t.Helper()
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	svc.WithNow(func() time.Time { return clock })
	fund, err := svc.CreateFund(context.Background(), CreateFundInput{
		TenantID: 1, BranchID: 2, Name: "Front desk", CustodianID: 5,
		InitialAmount: d(initial), MonthlyLimit: d(limit),
	})
	require.NoError(t, err)
	return svc, repo, fund
}

func expense(fund Fund, amount string) FundTxInput {
	return FundTxInput{TenantID: 1, FundID: fund.ID, Type: TxExpense, Amount: d(amount), Purpose: "courier", Category: "logistics", CreatedBy: 5}
}

func TestFundExpenseAndReconcileVariance(t *testing.T) {
	svc, _, fund := newTestService(t, "50000", "100000")
	metrics := &countingMetrics{counts: map[string]int{}}
	svc.WithMetrics(metrics)
	ctx := context.Background()

	txn, err := svc.RecordFundTransaction(ctx, expense(fund, "20000"))
	require.NoError(t, err)
	require.True(t, txn.BalanceAfter.Equal(d("30000")))
	require.Equal(t, TxStatusPosted, txn.Status)

	rec, err := svc.Reconcile(ctx, ReconcileInput{TenantID: 1, FundID: fund.ID, ActualBalance: d("28000"), VarianceReason: "missing receipt", ReconciledBy: 6})
	require.NoError(t, err)
	require.True(t, rec.ExpectedBalance.Equal(d("30000")))
	require.True(t, rec.Variance.Equal(d("-2000")))
	require.Equal(t, ReconciliationVariance, rec.Status)

	after, err := svc.GetFund(ctx, 1, fund.ID)
	require.NoError(t, err)
	require.True(t, after.CurrentBalance.Equal(d("30000")))
	require.NotNil(t, after.LastReconciledAt)
	require.Equal(t, clock, *after.LastReconciledAt)

	require.Equal(t, 1, metrics.counts["tx:expense"])
	require.Equal(t, 1, metrics.counts["rec:variance"])

	// the variance is booked through an explicit adjustment
	adj, err := svc.RecordFundTransaction(ctx, FundTxInput{TenantID: 1, FundID: fund.ID, Type: TxAdjustment, Amount: rec.Variance, Purpose: "reconciliation variance"})
	require.NoError(t, err)
	require.True(t, adj.BalanceAfter.Equal(d("28000")))

	balanced, err := svc.Reconcile(ctx, ReconcileInput{TenantID: 1, FundID: fund.ID, ActualBalance: d("28000")})
	require.NoError(t, err)
	require.Equal(t, ReconciliationBalanced, balanced.Status)
	require.True(t, balanced.Variance.IsZero())

	history, err := svc.ListReconciliations(ctx, 1, fund.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestFundMonthlyLimit(t *testing.T) {
	svc, repo, fund := newTestService(t, "50000", "25000")
	ctx := context.Background()

	_, err := svc.RecordFundTransaction(ctx, expense(fund, "20000"))
	require.NoError(t, err)
	_, err = svc.RecordFundTransaction(ctx, expense(fund, "6000"))
	require.ErrorIs(t, err, ErrOverLimit)
	require.ErrorIs(t, err, shared.ErrBusinessRule)
	_, err = svc.RecordFundTransaction(ctx, expense(fund, "5000"))
	require.NoError(t, err)

	// last month's spending does not count
	repo.mu.Lock()
	for i := range repo.state.txns {
		repo.state.txns[i].CreatedAt = clock.AddDate(0, -1, 0)
	}
	repo.mu.Unlock()
	_, err = svc.RecordFundTransaction(ctx, expense(fund, "20000"))
	require.NoError(t, err)
}

func TestFundInsufficientFunds(t *testing.T) {
	svc, _, fund := newTestService(t, "1000", "50000")
	ctx := context.Background()

	_, err := svc.RecordFundTransaction(ctx, expense(fund, "1500"))
	require.ErrorIs(t, err, ErrInsufficientFunds)
	_, err = svc.RecordFundTransaction(ctx, FundTxInput{TenantID: 1, FundID: fund.ID, Type: TxAdjustment, Amount: d("-1001"), Purpose: "count"})
	require.ErrorIs(t, err, ErrInsufficientFunds)

	txn, err := svc.RecordFundTransaction(ctx, FundTxInput{TenantID: 1, FundID: fund.ID, Type: TxReplenishment, Amount: d("4000"), Purpose: "top up"})
	require.NoError(t, err)
	require.True(t, txn.BalanceAfter.Equal(d("5000")))
	_, err = svc.RecordFundTransaction(ctx, expense(fund, "1500"))
	require.NoError(t, err)
}

func TestFundTransactionValidation(t *testing.T) {
	svc, _, fund := newTestService(t, "1000", "50000")
	ctx := context.Background()

	_, err := svc.RecordFundTransaction(ctx, expense(fund, "0"))
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc.RecordFundTransaction(ctx, expense(fund, "-5"))
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc.RecordFundTransaction(ctx, FundTxInput{TenantID: 1, FundID: fund.ID, Type: TxAdjustment, Amount: decimal.Zero, Purpose: "x"})
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc.RecordFundTransaction(ctx, FundTxInput{TenantID: 1, FundID: fund.ID, Type: "loan", Amount: d("5"), Purpose: "x"})
	require.ErrorIs(t, err, ErrInvalidType)
	_, err = svc.RecordFundTransaction(ctx, FundTxInput{TenantID: 1, FundID: fund.ID, Type: TxExpense, Amount: d("5")})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.RecordFundTransaction(ctx, FundTxInput{TenantID: 1, FundID: 999, Type: TxExpense, Amount: d("5"), Purpose: "x"})
	require.ErrorIs(t, err, ErrFundNotFound)

	_, err = svc.CreateFund(ctx, CreateFundInput{TenantID: 1, BranchID: 2, Name: "x", CustodianID: 5, MonthlyLimit: decimal.Zero})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.Reconcile(ctx, ReconcileInput{TenantID: 1, FundID: fund.ID, ActualBalance: d("-1")})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RecordFundTransaction(ctx, expense(fund, "0.005"))
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.CreateFund(ctx, CreateFundInput{TenantID: 1, BranchID: 2, Name: "x", CustodianID: 5, InitialAmount: d("10.001"), MonthlyLimit: d("100")})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.Reconcile(ctx, ReconcileInput{TenantID: 1, FundID: fund.ID, ActualBalance: d("999.999")})
	require.ErrorIs(t, err, shared.ErrValidation)

	current, err := svc.GetFund(ctx, 1, fund.ID)
	require.NoError(t, err)
	require.True(t, current.CurrentBalance.Equal(d("1000")), current.CurrentBalance.String())
}

func TestFundStatusTransitions(t *testing.T) {
	svc, _, fund := newTestService(t, "1000", "50000")
	ctx := context.Background()

	suspended, err := svc.SetFundStatus(ctx, 1, fund.ID, FundSuspended, 9)
	require.NoError(t, err)
	require.Equal(t, FundSuspended, suspended.Status)
	_, err = svc.RecordFundTransaction(ctx, expense(fund, "10"))
	require.ErrorIs(t, err, ErrFundInactive)

	_, err = svc.SetFundStatus(ctx, 1, fund.ID, FundActive, 9)
	require.NoError(t, err)
	_, err = svc.RecordFundTransaction(ctx, expense(fund, "10"))
	require.NoError(t, err)

	_, err = svc.SetFundStatus(ctx, 1, fund.ID, FundClosed, 9)
	require.NoError(t, err)
	_, err = svc.SetFundStatus(ctx, 1, fund.ID, FundActive, 9)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = svc.Reconcile(ctx, ReconcileInput{TenantID: 1, FundID: fund.ID, ActualBalance: d("990")})
	require.ErrorIs(t, err, ErrFundInactive)
	_, err = svc.SetFundStatus(ctx, 1, fund.ID, "frozen", 9)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestConcurrentExpensesNeverOverdraw(t *testing.T) {
	svc, _, fund := newTestService(t, "1000", "100000")
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.RecordFundTransaction(ctx, expense(fund, "300")); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 3, ok)
	after, err := svc.GetFund(ctx, 1, fund.ID)
	require.NoError(t, err)
	require.True(t, after.CurrentBalance.Equal(d("100")))
}

func TestHandlerFundFlow(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := shared.ContextWithActor(r.Context(), shared.Actor{TenantID: 1, BranchID: 2, UserID: 7, Role: "Custodian"})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	NewHandler(nil, svc, shared.RetryPolicy{}).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/petty-cash/funds/", strings.NewReader(
		`{"name":"Lab float","custodian_id":7,"initial_amount":"50000","monthly_limit":"30000"}`)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var fund Fund
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fund))
	require.Equal(t, int64(2), fund.BranchID)

	base := fmt.Sprintf("/petty-cash/funds/%d", fund.ID)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, base+"/transactions", strings.NewReader(
		`{"type":"expense","amount":"40000","purpose":"generator fuel"}`)))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, base+"/reconcile", strings.NewReader(`{"actual_balance":"50000"}`)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var recon Reconciliation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recon))
	require.Equal(t, ReconciliationBalanced, recon.Status)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/petty-cash/funds/77", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
