package procurement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/shared"
)

type memoryProcRepo struct {
	mu     sync.Mutex
	pos    map[int64]PurchaseOrder
	seq    map[int64]int64
	nextID int64
}

type memoryProcTx struct {
	repo *memoryProcRepo
}

func newMemoryProcRepo() *memoryProcRepo {
	return &memoryProcRepo{pos: make(map[int64]PurchaseOrder), seq: make(map[int64]int64)}
}

func (r *memoryProcRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make(map[int64]PurchaseOrder, len(r.pos))
	for k, v := range r.pos {
		snapshot[k] = v
	}
	if err := fn(ctx, &memoryProcTx{repo: r}); err != nil {
		r.pos = snapshot
		return err
	}
	return nil
}

func (tx *memoryProcTx) NextPONumber(ctx context.Context, tenantID int64) (int64, error) {
	tx.repo.seq[tenantID]++
	return tx.repo.seq[tenantID], nil
}

func (tx *memoryProcTx) InsertPO(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	tx.repo.nextID++
	po.ID = tx.repo.nextID
	po.CreatedAt = time.Now()
	for i := range po.Lines {
		tx.repo.nextID++
		po.Lines[i].ID = tx.repo.nextID
		po.Lines[i].POID = po.ID
	}
	tx.repo.pos[po.ID] = po
	return po, nil
}

func (tx *memoryProcTx) GetPO(ctx context.Context, tenantID, id int64) (PurchaseOrder, error) {
	po, ok := tx.repo.pos[id]
	if !ok || po.TenantID != tenantID {
		return PurchaseOrder{}, ErrPONotFound
	}
	return po, nil
}

func (tx *memoryProcTx) GetPOForUpdate(ctx context.Context, tenantID, id int64) (PurchaseOrder, error) {
	return tx.GetPO(ctx, tenantID, id)
}

func (tx *memoryProcTx) UpdatePO(ctx context.Context, po PurchaseOrder) error {
	if _, ok := tx.repo.pos[po.ID]; !ok {
		return ErrPONotFound
	}
	tx.repo.pos[po.ID] = po
	return nil
}

func (tx *memoryProcTx) ListPOs(ctx context.Context, tenantID int64, filter ListFilter) ([]PurchaseOrder, error) {
	var out []PurchaseOrder
	for id := tx.repo.nextID; id > 0; id-- {
		po, ok := tx.repo.pos[id]
		if !ok || po.TenantID != tenantID {
			continue
		}
		if filter.Status != "" && po.Status != filter.Status {
			continue
		}
		if filter.BranchID > 0 && po.BranchID != filter.BranchID {
			continue
		}
		out = append(out, po)
	}
	return out, nil
}

type memoryApprovals struct {
	mu   sync.Mutex
	logs []shared.ApprovalLog
	err  error
}

func (m *memoryApprovals) Record(ctx context.Context, log shared.ApprovalLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.logs = append(m.logs, log)
	return nil
}

func (m *memoryApprovals) List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []shared.ApprovalLog
	for _, l := range m.logs {
		if l.Module == module && l.RefID == ref {
			out = append(out, l)
		}
	}
	return out, nil
}

type memoryAudit struct {
	mu      sync.Mutex
	actions []string
}

func (m *memoryAudit) Record(ctx context.Context, log shared.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, log.Action)
	return nil
}

func newTestService(t *testing.T) (*Service, *memoryApprovals, *memoryAudit) {
	t.Helper()
	policy, err := NewTierPolicy(DefaultTiers())
	require.NoError(t, err)
	approvals := &memoryApprovals{}
	audit := &memoryAudit{}
	return NewService(newMemoryProcRepo(), policy, approvals, audit, nil), approvals, audit
}

func poInput(amount string) CreatePOInput {
	return CreatePOInput{
		TenantID:    1,
		BranchID:    2,
		VendorID:    30,
		RequestedBy: 4,
		Lines: []POLineInput{
			{Description: "Hematology reagent pack", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.RequireFromString(amount)},
		},
	}
}

func TestTierPolicyValidation(t *testing.T) {
	policy, err := NewTierPolicy(DefaultTiers())
	require.NoError(t, err)
	cases := map[string]string{
		"0":        "Supervisor",
		"5000":     "Supervisor",
		"5000.50":  "Unit Manager",
		"15000":    "Unit Manager",
		"15001":    "Department Head",
		"50000":    "Department Head",
		"50001":    "Director",
		"99999999": "Director",
	}
	for amount, role := range cases {
		require.Equal(t, role, policy.TierFor(decimal.RequireFromString(amount)).ApproverRole, amount)
	}

	_, err = NewTierPolicy(nil)
	require.ErrorIs(t, err, ErrInvalidTiers)

	bad := []string{
		"100-5000:Supervisor,5001-:Director",
		"0-5000:Supervisor,4000-:Director",
		"0-5000:Supervisor,7000-:Director",
		"0-5000:Supervisor,5001-9000:Director",
		"0-5000:Supervisor,5001-:",
		"0-:Supervisor,5001-:Director",
	}
	for _, raw := range bad {
		tiers, err := ParseTiers(raw)
		if err == nil {
			_, err = NewTierPolicy(tiers)
		}
		require.ErrorIs(t, err, ErrInvalidTiers, raw)
	}

	parsed, err := ParseTiers(FormatTiers(DefaultTiers()))
	require.NoError(t, err)
	_, err = NewTierPolicy(parsed)
	require.NoError(t, err)
}

func TestPurchaseOrderTierApproval(t *testing.T) {
	svc, approvals, audit := newTestService(t)
	ctx := context.Background()

	po, err := svc.CreatePurchaseOrder(ctx, poInput("15000"))
	require.NoError(t, err)
	require.Equal(t, "PO-000001", po.Number)
	require.Equal(t, POStatusDraft, po.Status)
	require.Equal(t, 2, po.RequiredApprovalLevel)
	require.Equal(t, PriorityNormal, po.Priority)

	po, err = svc.Submit(ctx, 1, po.ID, 4)
	require.NoError(t, err)
	require.Equal(t, POStatusPendingApproval, po.Status)
	require.NotNil(t, po.CurrentApprover)
	require.Equal(t, "Unit Manager", *po.CurrentApprover)

	_, err = svc.Approve(ctx, ApproveInput{TenantID: 1, POID: po.ID, ApproverID: 8, ApproverRole: "Supervisor"})
	require.ErrorIs(t, err, ErrWrongApprover)
	require.ErrorIs(t, err, shared.ErrForbidden)

	po, err = svc.Approve(ctx, ApproveInput{TenantID: 1, POID: po.ID, ApproverID: 9, ApproverRole: "Unit Manager", Comments: "ok"})
	require.NoError(t, err)
	require.Equal(t, POStatusApproved, po.Status)
	require.Equal(t, int64(9), *po.ApprovedBy)
	require.NotNil(t, po.ApprovedAt)
	require.Nil(t, po.CurrentApprover)

	_, err = svc.Approve(ctx, ApproveInput{TenantID: 1, POID: po.ID, ApproverID: 9, ApproverRole: "Unit Manager"})
	require.ErrorIs(t, err, ErrInvalidState)

	history, err := svc.ApprovalHistory(ctx, 1, po.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, shared.ApprovalSubmit, history[0].Action)
	require.Equal(t, shared.ApprovalApprove, history[1].Action)
	require.Equal(t, "Unit Manager", history[1].Role)
	require.Len(t, approvals.logs, 2)
	require.Equal(t, []string{"procurement.po.create", "procurement.po.submit", "procurement.po.approve"}, audit.actions)
}

func TestApprovalWriteFailureRollsBackTransition(t *testing.T) {
	svc, approvals, audit := newTestService(t)
	ctx := context.Background()

	po, err := svc.CreatePurchaseOrder(ctx, poInput("15000"))
	require.NoError(t, err)

	approvals.err = errors.New("approvals table unavailable")
	_, err = svc.Submit(ctx, 1, po.ID, 4)
	require.ErrorContains(t, err, "approvals table unavailable")

	stored, err := svc.GetPurchaseOrder(ctx, 1, po.ID)
	require.NoError(t, err)
	require.Equal(t, POStatusDraft, stored.Status)
	require.Nil(t, stored.CurrentApprover)
	require.Equal(t, []string{"procurement.po.create"}, audit.actions)

	approvals.err = nil
	po, err = svc.Submit(ctx, 1, po.ID, 4)
	require.NoError(t, err)
	require.Equal(t, POStatusPendingApproval, po.Status)

	approvals.err = errors.New("approvals table unavailable")
	_, err = svc.Approve(ctx, ApproveInput{TenantID: 1, POID: po.ID, ApproverID: 9, ApproverRole: "Unit Manager"})
	require.Error(t, err)
	stored, err = svc.GetPurchaseOrder(ctx, 1, po.ID)
	require.NoError(t, err)
	require.Equal(t, POStatusPendingApproval, stored.Status)
	require.Nil(t, stored.ApprovedBy)
	require.Len(t, approvals.logs, 1)
}

func TestPurchaseOrderFullLifecycle(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	po, err := svc.CreatePurchaseOrder(ctx, poInput("1200"))
	require.NoError(t, err)

	_, err = svc.MarkOrdered(ctx, 1, po.ID, 4)
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = svc.Submit(ctx, 1, po.ID, 4)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, ApproveInput{TenantID: 1, POID: po.ID, ApproverID: 5, ApproverRole: "supervisor"})
	require.NoError(t, err)
	_, err = svc.Complete(ctx, 1, po.ID, 4)
	require.ErrorIs(t, err, ErrInvalidState)

	for _, step := range []func(context.Context, int64, int64, int64) (PurchaseOrder, error){svc.MarkOrdered, svc.MarkReceived, svc.Complete} {
		_, err = step(ctx, 1, po.ID, 4)
		require.NoError(t, err)
	}
	final, err := svc.GetPurchaseOrder(ctx, 1, po.ID)
	require.NoError(t, err)
	require.Equal(t, POStatusCompleted, final.Status)

	_, err = svc.Submit(ctx, 1, po.ID, 4)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestPurchaseOrderReject(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	po, err := svc.CreatePurchaseOrder(ctx, poInput("60000"))
	require.NoError(t, err)
	require.Equal(t, 4, po.RequiredApprovalLevel)
	_, err = svc.Submit(ctx, 1, po.ID, 4)
	require.NoError(t, err)

	_, err = svc.Reject(ctx, RejectInput{TenantID: 1, POID: po.ID, ActorID: 3, ActorRole: "Director"})
	require.ErrorIs(t, err, ErrReasonRequired)
	_, err = svc.Reject(ctx, RejectInput{TenantID: 1, POID: po.ID, ActorID: 3, ActorRole: "Supervisor", Reason: "no"})
	require.ErrorIs(t, err, ErrWrongApprover)

	po, err = svc.Reject(ctx, RejectInput{TenantID: 1, POID: po.ID, ActorID: 3, ActorRole: "Director", Reason: "vendor not accredited"})
	require.NoError(t, err)
	require.Equal(t, POStatusRejected, po.Status)
	require.Equal(t, "vendor not accredited", *po.RejectionReason)

	_, err = svc.Approve(ctx, ApproveInput{TenantID: 1, POID: po.ID, ApproverID: 3, ApproverRole: "Director"})
	require.ErrorIs(t, err, ErrInvalidState)
	_, err = svc.Submit(ctx, 1, po.ID, 4)
	require.ErrorIs(t, err, ErrInvalidState)
}

type twoStepEscalation struct{}

func (twoStepEscalation) NextApprover(po PurchaseOrder, level int) (string, int, bool) {
	if po.TotalAmount.GreaterThan(decimal.NewFromInt(50000)) && level == 4 {
		return "Chief Executive", 5, true
	}
	return "", 0, false
}

func TestPurchaseOrderEscalation(t *testing.T) {
	svc, approvals, _ := newTestService(t)
	svc.WithEscalation(twoStepEscalation{})
	ctx := context.Background()

	po, err := svc.CreatePurchaseOrder(ctx, poInput("75000"))
	require.NoError(t, err)
	_, err = svc.Submit(ctx, 1, po.ID, 4)
	require.NoError(t, err)

	po, err = svc.Approve(ctx, ApproveInput{TenantID: 1, POID: po.ID, ApproverID: 3, ApproverRole: "Director"})
	require.NoError(t, err)
	require.Equal(t, POStatusPendingApproval, po.Status)
	require.Equal(t, "Chief Executive", *po.CurrentApprover)

	_, err = svc.Approve(ctx, ApproveInput{TenantID: 1, POID: po.ID, ApproverID: 3, ApproverRole: "Director"})
	require.ErrorIs(t, err, ErrWrongApprover)
	po, err = svc.Approve(ctx, ApproveInput{TenantID: 1, POID: po.ID, ApproverID: 2, ApproverRole: "Chief Executive"})
	require.NoError(t, err)
	require.Equal(t, POStatusApproved, po.Status)
	require.Equal(t, shared.ApprovalEscalate, approvals.logs[1].Action)
}

func TestCreatePurchaseOrderValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	in := poInput("10")
	in.Lines = nil
	_, err := svc.CreatePurchaseOrder(ctx, in)
	require.ErrorIs(t, err, shared.ErrValidation)

	in = poInput("10")
	in.Lines[0].Quantity = decimal.Zero
	_, err = svc.CreatePurchaseOrder(ctx, in)
	require.ErrorIs(t, err, shared.ErrValidation)

	in = poInput("10")
	in.Priority = "whenever"
	_, err = svc.CreatePurchaseOrder(ctx, in)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Submit(ctx, 1, 999, 4)
	require.ErrorIs(t, err, ErrPONotFound)
}

func TestHandlerApprovalFlow(t *testing.T) {
	svc, _, _ := newTestService(t)
	role := "Supervisor"
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := shared.ContextWithActor(r.Context(), shared.Actor{TenantID: 1, BranchID: 2, UserID: 7, Role: role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	NewHandler(nil, svc, shared.RetryPolicy{}).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/procurement/purchase-orders", strings.NewReader(
		`{"vendor_id":3,"lines":[{"description":"EDTA tubes","quantity":"100","unit_price":"150"}]}`)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var po PurchaseOrder
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &po))
	require.True(t, po.TotalAmount.Equal(decimal.NewFromInt(15000)))

	base := fmt.Sprintf("/procurement/purchase-orders/%d", po.ID)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, base+"/submit", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, base+"/approve", nil))
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())

	role = "Unit Manager"
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, base+"/approve", strings.NewReader(`{"comments":"fine"}`)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, base+"/receive", nil))
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, base+"/approvals", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Approvals []shared.ApprovalLog `json:"approvals"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Approvals, 2)
}
