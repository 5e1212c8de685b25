package procurement

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/platform/db"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// ApprovalPort persists approval history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service runs the purchase order workflow.
type Service struct {
	repo       RepositoryPort
	policy     *TierPolicy
	approvals  ApprovalPort
	audit      AuditPort
	escalation EscalationPolicy
	observer   Observer
	logger     *slog.Logger
	now        func() time.Time
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, policy *TierPolicy, approvals ApprovalPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, policy: policy, approvals: approvals, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithEscalation installs a multi-level approval policy.
func (s *Service) WithEscalation(p EscalationPolicy) {
	s.escalation = p
}

// WithObserver attaches a transition observer.
func (s *Service) WithObserver(o Observer) {
	s.observer = o
}

// Policy returns the active tier policy.
func (s *Service) Policy() *TierPolicy {
	return s.policy
}

// RefID is the approval log reference of a purchase order.
func RefID(tenantID, poID int64) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("PO:%d:%d", tenantID, poID)))
}

// CreatePurchaseOrder stores a draft order and derives its approval level.
func (s *Service) CreatePurchaseOrder(ctx context.Context, input CreatePOInput) (PurchaseOrder, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return PurchaseOrder{}, err
	}
	if input.Priority == "" {
		input.Priority = PriorityNormal
	}
	total, lines := input.Total()
	tier := s.policy.TierFor(total)
	var created PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		seq, err := tx.NextPONumber(ctx, input.TenantID)
		if err != nil {
			return err
		}
		created, err = tx.InsertPO(ctx, PurchaseOrder{
			TenantID:              input.TenantID,
			BranchID:              input.BranchID,
			Number:                FormatNumber(seq),
			VendorID:              input.VendorID,
			RequestedBy:           input.RequestedBy,
			TotalAmount:           total,
			Status:                POStatusDraft,
			Priority:              input.Priority,
			RequiredApprovalLevel: tier.Level,
			Notes:                 input.Notes,
			Lines:                 lines,
		})
		if err != nil {
			return err
		}
		db.AfterCommit(ctx, func(ctx context.Context) {
			s.recordAudit(ctx, created, input.RequestedBy, "procurement.po.create", map[string]any{
				"number": created.Number,
				"total":  created.TotalAmount.String(),
				"level":  created.RequiredApprovalLevel,
			})
		})
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return created, nil
}

// GetPurchaseOrder loads an order with its lines.
func (s *Service) GetPurchaseOrder(ctx context.Context, tenantID, id int64) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.GetPO(ctx, tenantID, id)
		return err
	})
	return po, err
}

// ListPurchaseOrders lists orders of the tenant.
func (s *Service) ListPurchaseOrders(ctx context.Context, tenantID int64, filter ListFilter) ([]PurchaseOrder, error) {
	var out []PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListPOs(ctx, tenantID, filter)
		return err
	})
	return out, err
}

// ApprovalHistory returns the approval log of an order.
func (s *Service) ApprovalHistory(ctx context.Context, tenantID, id int64) ([]shared.ApprovalLog, error) {
	if _, err := s.GetPurchaseOrder(ctx, tenantID, id); err != nil {
		return nil, err
	}
	if s.approvals == nil {
		return nil, nil
	}
	return s.approvals.List(ctx, ApprovalModule, RefID(tenantID, id))
}

type change struct {
	to     POStatus
	action shared.ApprovalAction
	role   string
	note   string
	apply  func(po *PurchaseOrder) error
}

// transition locks the order, checks the state machine, applies c and logs
// the step in the same transaction.
func (s *Service) transition(ctx context.Context, tenantID, poID, actorID int64, c change) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.GetPOForUpdate(ctx, tenantID, poID)
		if err != nil {
			return err
		}
		from := po.Status
		if !CanTransition(from, c.to) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidState, from, c.to)
		}
		po.Status = c.to
		if c.apply != nil {
			if err := c.apply(&po); err != nil {
				return err
			}
		}
		if err := tx.UpdatePO(ctx, po); err != nil {
			return err
		}
		return s.logTransition(ctx, po, from, actorID, c)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

// logTransition appends the approval trail entry inside the ambient
// transaction; a failed write rolls the transition back. Observer and audit
// run after commit.
func (s *Service) logTransition(ctx context.Context, po PurchaseOrder, from POStatus, actorID int64, c change) error {
	at := s.now()
	if s.approvals != nil {
		if err := s.approvals.Record(ctx, shared.ApprovalLog{
			TenantID: po.TenantID,
			Module:   ApprovalModule,
			RefID:    RefID(po.TenantID, po.ID),
			ActorID:  actorID,
			Role:     c.role,
			Level:    po.RequiredApprovalLevel,
			Action:   c.action,
			Note:     c.note,
			At:       at,
		}); err != nil {
			return fmt.Errorf("procurement: record approval for %s: %w", po.Number, err)
		}
	}
	db.AfterCommit(ctx, func(ctx context.Context) {
		if s.observer != nil {
			s.observer.POTransitioned(ctx, TransitionEvent{
				TenantID: po.TenantID, POID: po.ID, Number: po.Number, From: from, To: po.Status,
				Amount: po.TotalAmount, ActorID: actorID, At: at,
			})
		}
		s.recordAudit(ctx, po, actorID, "procurement.po."+strings.ToLower(string(c.action)), map[string]any{
			"number": po.Number,
			"from":   from,
			"to":     po.Status,
			"note":   c.note,
		})
	})
	return nil
}

// Submit sends a draft order for approval by the role of its tier.
func (s *Service) Submit(ctx context.Context, tenantID, poID, actorID int64) (PurchaseOrder, error) {
	return s.transition(ctx, tenantID, poID, actorID, change{
		to:     POStatusPendingApproval,
		action: shared.ApprovalSubmit,
		apply: func(po *PurchaseOrder) error {
			tier := s.policy.TierFor(po.TotalAmount)
			role := tier.ApproverRole
			po.RequiredApprovalLevel = tier.Level
			po.CurrentApprover = &role
			return nil
		},
	})
}

// Approve records the decision of the approver. The approver's role must be
// the role currently awaited for the order's amount.
func (s *Service) Approve(ctx context.Context, input ApproveInput) (PurchaseOrder, error) {
	role := strings.TrimSpace(input.ApproverRole)
	if input.ApproverID == 0 || role == "" {
		return PurchaseOrder{}, fmt.Errorf("%w: approver and role required", shared.ErrValidation)
	}
	var (
		po        PurchaseOrder
		escalated bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.GetPOForUpdate(ctx, input.TenantID, input.POID)
		if err != nil {
			return err
		}
		if po.Status != POStatusPendingApproval {
			return fmt.Errorf("%w: %s cannot be approved", ErrInvalidState, po.Status)
		}
		expected := s.policy.TierFor(po.TotalAmount).ApproverRole
		if po.CurrentApprover != nil {
			expected = *po.CurrentApprover
		}
		if !strings.EqualFold(role, expected) {
			return fmt.Errorf("%w: %s requires %s, got %s", ErrWrongApprover, po.Number, expected, role)
		}
		level := po.RequiredApprovalLevel
		action := shared.ApprovalApprove
		if s.escalation != nil {
			if next, nextLevel, ok := s.escalation.NextApprover(po, level); ok {
				escalated = true
				action = shared.ApprovalEscalate
				po.CurrentApprover = &next
				po.RequiredApprovalLevel = nextLevel
			}
		}
		from := po.Status
		if !escalated {
			now := s.now()
			approver := input.ApproverID
			po.Status = POStatusApproved
			po.ApprovedBy = &approver
			po.ApprovedAt = &now
			po.CurrentApprover = nil
		}
		if err := tx.UpdatePO(ctx, po); err != nil {
			return err
		}
		return s.logTransition(ctx, po, from, input.ApproverID, change{to: po.Status, action: action, role: role, note: input.Comments})
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

// Reject ends the workflow of a pending order.
func (s *Service) Reject(ctx context.Context, input RejectInput) (PurchaseOrder, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return PurchaseOrder{}, ErrReasonRequired
	}
	role := strings.TrimSpace(input.ActorRole)
	return s.transition(ctx, input.TenantID, input.POID, input.ActorID, change{
		to:     POStatusRejected,
		action: shared.ApprovalReject,
		role:   role,
		note:   reason,
		apply: func(po *PurchaseOrder) error {
			if po.CurrentApprover != nil && !strings.EqualFold(role, *po.CurrentApprover) {
				return fmt.Errorf("%w: %s requires %s, got %s", ErrWrongApprover, po.Number, *po.CurrentApprover, role)
			}
			po.RejectionReason = &reason
			po.CurrentApprover = nil
			return nil
		},
	})
}

// MarkOrdered records that an approved order was sent to the vendor.
func (s *Service) MarkOrdered(ctx context.Context, tenantID, poID, actorID int64) (PurchaseOrder, error) {
	return s.transition(ctx, tenantID, poID, actorID, change{to: POStatusOrdered, action: shared.ApprovalOrder})
}

// MarkReceived records delivery of an ordered purchase.
func (s *Service) MarkReceived(ctx context.Context, tenantID, poID, actorID int64) (PurchaseOrder, error) {
	return s.transition(ctx, tenantID, poID, actorID, change{to: POStatusReceived, action: shared.ApprovalReceive})
}

// Complete closes a received order.
func (s *Service) Complete(ctx context.Context, tenantID, poID, actorID int64) (PurchaseOrder, error) {
	return s.transition(ctx, tenantID, poID, actorID, change{to: POStatusCompleted, action: shared.ApprovalComplete})
}

func (s *Service) recordAudit(ctx context.Context, po PurchaseOrder, actorID int64, action string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		TenantID: po.TenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "purchase_order",
		EntityID: strconv.FormatInt(po.ID, 10),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}
