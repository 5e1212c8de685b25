package pettycash

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/platform/db"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/shared"
)

// RepositoryPort abstracts persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort receives fund counters.
type MetricsPort interface {
	FundTransactionRecorded(txType string)
	ReconciliationRecorded(status string)
}

// Service manages petty cash funds.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics MetricsPort
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs Service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithMetrics attaches a metrics sink.
func (s *Service) WithMetrics(m MetricsPort) {
	s.metrics = m
}

// CreateFund opens an active fund holding the initial amount.
func (s *Service) CreateFund(ctx context.Context, input CreateFundInput) (Fund, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := shared.ValidateStruct(input); err != nil {
		return Fund{}, err
	}
	if err := shared.CheckScale("initial_amount", input.InitialAmount, shared.MoneyScale); err != nil {
		return Fund{}, err
	}
	if err := shared.CheckScale("monthly_limit", input.MonthlyLimit, shared.MoneyScale); err != nil {
		return Fund{}, err
	}
	var created Fund
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.InsertFund(ctx, Fund{
			TenantID:       input.TenantID,
			BranchID:       input.BranchID,
			Name:           input.Name,
			CustodianID:    input.CustodianID,
			CurrentBalance: input.InitialAmount,
			MonthlyLimit:   input.MonthlyLimit,
			Status:         FundActive,
		})
		if err != nil {
			return err
		}
		db.AfterCommit(ctx, func(ctx context.Context) {
			s.recordAudit(ctx, created.TenantID, input.CreatedBy, "pettycash.fund.create", created.ID, map[string]any{
				"name":          created.Name,
				"initial":       created.CurrentBalance.String(),
				"monthly_limit": created.MonthlyLimit.String(),
			})
		})
		return nil
	})
	if err != nil {
		return Fund{}, err
	}
	return created, nil
}

// GetFund loads a fund.
func (s *Service) GetFund(ctx context.Context, tenantID, id int64) (Fund, error) {
	var fund Fund
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		fund, err = tx.GetFund(ctx, tenantID, id)
		return err
	})
	return fund, err
}

// ListFunds lists funds of the tenant, optionally restricted to a branch.
func (s *Service) ListFunds(ctx context.Context, tenantID, branchID int64) ([]Fund, error) {
	var funds []Fund
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		funds, err = tx.ListFunds(ctx, tenantID, branchID)
		return err
	})
	return funds, err
}

// SetFundStatus suspends, reactivates or closes a fund.
func (s *Service) SetFundStatus(ctx context.Context, tenantID, fundID int64, status FundStatus, actorID int64) (Fund, error) {
	if !status.Valid() {
		return Fund{}, fmt.Errorf("%w: unknown status %q", shared.ErrValidation, status)
	}
	var fund Fund
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		fund, err = tx.GetFundForUpdate(ctx, tenantID, fundID)
		if err != nil {
			return err
		}
		if !CanTransition(fund.Status, status) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, fund.Status, status)
		}
		if err := tx.UpdateStatus(ctx, fundID, status); err != nil {
			return err
		}
		from := fund.Status
		fund.Status = status
		db.AfterCommit(ctx, func(ctx context.Context) {
			s.recordAudit(ctx, tenantID, actorID, "pettycash.fund.status", fundID, map[string]any{"from": from, "to": status})
		})
		return nil
	})
	if err != nil {
		return Fund{}, err
	}
	return fund, nil
}

// RecordFundTransaction applies a movement to a fund. The fund row is locked
// so the limit and balance checks hold against concurrent movements.
func (s *Service) RecordFundTransaction(ctx context.Context, input FundTxInput) (Transaction, error) {
	delta, err := input.Delta()
	if err != nil {
		return Transaction{}, err
	}
	now := s.now()
	var recorded Transaction
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		fund, err := tx.GetFundForUpdate(ctx, input.TenantID, input.FundID)
		if err != nil {
			return err
		}
		if fund.Status != FundActive {
			return fmt.Errorf("%w: %s", ErrFundInactive, fund.Status)
		}
		if input.Type == TxExpense {
			spent, err := tx.SumExpenses(ctx, fund.ID, MonthStart(now), now)
			if err != nil {
				return err
			}
			if spent.Add(input.Amount).GreaterThan(fund.MonthlyLimit) {
				return fmt.Errorf("%w: %s spent of %s, requested %s", ErrOverLimit, spent, fund.MonthlyLimit, input.Amount)
			}
		}
		next := fund.CurrentBalance.Add(delta)
		if next.IsNegative() {
			return fmt.Errorf("%w: balance %s, requested %s", ErrInsufficientFunds, fund.CurrentBalance, delta.Abs())
		}
		recorded, err = tx.InsertTransaction(ctx, Transaction{
			TenantID:     input.TenantID,
			FundID:       fund.ID,
			Type:         input.Type,
			Amount:       input.Amount,
			Purpose:      strings.TrimSpace(input.Purpose),
			Category:     input.Category,
			Status:       TxStatusPosted,
			BalanceAfter: next,
			CreatedBy:    input.CreatedBy,
			CreatedAt:    now,
		})
		if err != nil {
			return err
		}
		if err := tx.UpdateBalance(ctx, fund.ID, next); err != nil {
			return err
		}
		db.AfterCommit(ctx, func(ctx context.Context) {
			if s.metrics != nil {
				s.metrics.FundTransactionRecorded(string(recorded.Type))
			}
			s.recordAudit(ctx, recorded.TenantID, recorded.CreatedBy, "pettycash."+string(recorded.Type), fund.ID, map[string]any{
				"transaction_id": recorded.ID,
				"amount":         recorded.Amount.String(),
				"balance_after":  recorded.BalanceAfter.String(),
			})
		})
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	return recorded, nil
}

// Reconcile records a cash count. The books are left untouched; a variance
// is corrected separately through an adjustment transaction.
func (s *Service) Reconcile(ctx context.Context, input ReconcileInput) (Reconciliation, error) {
	input.VarianceReason = strings.TrimSpace(input.VarianceReason)
	if err := shared.ValidateStruct(input); err != nil {
		return Reconciliation{}, err
	}
	if err := shared.CheckScale("actual_balance", input.ActualBalance, shared.MoneyScale); err != nil {
		return Reconciliation{}, err
	}
	now := s.now()
	var rec Reconciliation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		fund, err := tx.GetFundForUpdate(ctx, input.TenantID, input.FundID)
		if err != nil {
			return err
		}
		if fund.Status == FundClosed {
			return fmt.Errorf("%w: %s", ErrFundInactive, fund.Status)
		}
		variance := input.ActualBalance.Sub(fund.CurrentBalance)
		status := ReconciliationBalanced
		if !variance.IsZero() {
			status = ReconciliationVariance
		}
		rec, err = tx.InsertReconciliation(ctx, Reconciliation{
			TenantID:        input.TenantID,
			FundID:          fund.ID,
			ExpectedBalance: fund.CurrentBalance,
			ActualBalance:   input.ActualBalance,
			Variance:        variance,
			VarianceReason:  input.VarianceReason,
			Status:          status,
			ReconciledBy:    input.ReconciledBy,
			CreatedAt:       now,
		})
		if err != nil {
			return err
		}
		if err := tx.SetReconciled(ctx, fund.ID, now); err != nil {
			return err
		}
		db.AfterCommit(ctx, func(ctx context.Context) {
			s.afterReconcile(ctx, fund, rec)
		})
		return nil
	})
	if err != nil {
		return Reconciliation{}, err
	}
	return rec, nil
}

func (s *Service) afterReconcile(ctx context.Context, fund Fund, rec Reconciliation) {
	if s.metrics != nil {
		s.metrics.ReconciliationRecorded(string(rec.Status))
	}
	if rec.Status == ReconciliationVariance {
		s.logger.Warn("petty cash variance",
			slog.Int64("tenant_id", fund.TenantID),
			slog.Int64("fund_id", fund.ID),
			slog.String("expected", rec.ExpectedBalance.String()),
			slog.String("actual", rec.ActualBalance.String()),
			slog.String("variance", rec.Variance.String()),
			slog.String("reason", rec.VarianceReason))
	}
	s.recordAudit(ctx, rec.TenantID, rec.ReconciledBy, "pettycash.reconcile", fund.ID, map[string]any{
		"reconciliation_id": rec.ID,
		"variance":          rec.Variance.String(),
		"status":            rec.Status,
	})
}

// ListTransactions returns recent movements of a fund.
func (s *Service) ListTransactions(ctx context.Context, tenantID, fundID int64, limit int) ([]Transaction, error) {
	var out []Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetFund(ctx, tenantID, fundID); err != nil {
			return err
		}
		var err error
		out, err = tx.ListTransactions(ctx, tenantID, fundID, limit)
		return err
	})
	return out, err
}

// ListReconciliations returns the reconciliation history of a fund.
func (s *Service) ListReconciliations(ctx context.Context, tenantID, fundID int64) ([]Reconciliation, error) {
	var out []Reconciliation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetFund(ctx, tenantID, fundID); err != nil {
			return err
		}
		var err error
		out, err = tx.ListReconciliations(ctx, tenantID, fundID)
		return err
	})
	return out, err
}

func (s *Service) recordAudit(ctx context.Context, tenantID, actorID int64, action string, fundID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "petty_cash_fund",
		EntityID: strconv.FormatInt(fundID, 10),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}
