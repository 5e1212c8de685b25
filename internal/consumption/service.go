package consumption

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/inventory"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/shared"
)

// RepositoryPort abstracts persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// InventoryPort deducts stock.
type InventoryPort interface {
	RecordTransaction(ctx context.Context, input inventory.RecordInput) (inventory.Transaction, error)
}

// IdempotencyPort claims request keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// MetricsPort counts deduction outcomes.
type MetricsPort interface {
	ConsumptionRecorded(status string, critical bool)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service deducts reagents and consumables when a test completes.
type Service struct {
	repo        RepositoryPort
	inventory   InventoryPort
	idempotency IdempotencyPort
	audit       AuditPort
	metrics     MetricsPort
	retry       shared.RetryPolicy
	logger      *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, inv InventoryPort, idem IdempotencyPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		inventory:   inv,
		idempotency: idem,
		audit:       audit,
		retry:       shared.DefaultRetryPolicy,
		logger:      logger,
	}
}

// WithMetrics attaches outcome counters.
func (s *Service) WithMetrics(m MetricsPort) *Service {
	s.metrics = m
	return s
}

// WithRetry overrides the conflict retry policy of each deduction.
func (s *Service) WithRetry(policy shared.RetryPolicy) *Service {
	s.retry = policy
	return s
}

// CreateTemplate registers the standard consumption of an item by a test.
func (s *Service) CreateTemplate(ctx context.Context, input CreateTemplateInput) (Template, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return Template{}, err
	}
	if err := shared.CheckScale("standard_quantity", input.StandardQuantity, shared.QuantityScale); err != nil {
		return Template{}, err
	}
	if input.ConsumptionType == "" {
		input.ConsumptionType = "per_test"
	}
	var created Template
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.InsertTemplate(ctx, Template{
			TenantID:         input.TenantID,
			TestID:           input.TestID,
			ItemID:           input.ItemID,
			StandardQuantity: input.StandardQuantity,
			ConsumptionType:  input.ConsumptionType,
			IsCritical:       input.IsCritical,
		})
		return err
	})
	if err != nil {
		return Template{}, err
	}
	return created, nil
}

// ListTemplates returns the templates of a test, or all when testID is 0.
func (s *Service) ListTemplates(ctx context.Context, tenantID, testID int64) ([]Template, error) {
	var out []Template
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListTemplates(ctx, tenantID, testID)
		return err
	})
	return out, err
}

// ListFailures returns deductions that need manual adjustment.
func (s *Service) ListFailures(ctx context.Context, tenantID, branchID int64) ([]Record, error) {
	var out []Record
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListFailures(ctx, tenantID, branchID)
		return err
	})
	return out, err
}

// ListRecords returns every deduction recorded for a patient test.
func (s *Service) ListRecords(ctx context.Context, tenantID, patientTestID int64) ([]Record, error) {
	var out []Record
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListRecords(ctx, tenantID, patientTestID)
		return err
	})
	return out, err
}

// ConsumeForTest deducts every templated item of a completed test from the
// branch stock. It runs at most once per patient test. A failed deduction is
// recorded and logged but does not fail the call; only errors raised before
// any stock moved are returned.
func (s *Service) ConsumeForTest(ctx context.Context, input ConsumeInput) (Result, error) {
	result := Result{PatientTestID: input.PatientTestID}
	if err := shared.ValidateStruct(input); err != nil {
		return result, err
	}

	var (
		templates []Template
		seen      int
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if seen, err = tx.CountRecords(ctx, input.TenantID, input.PatientTestID); err != nil {
			return err
		}
		templates, err = tx.ListTemplates(ctx, input.TenantID, input.TestID)
		return err
	})
	if err != nil {
		return result, fmt.Errorf("consumption: load templates: %w", err)
	}
	if seen > 0 {
		result.AlreadyConsumed = true
		return result, nil
	}

	key := IdempotencyKey(input.TenantID, input.PatientTestID)
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "consumption"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				result.AlreadyConsumed = true
				return result, nil
			}
			return result, fmt.Errorf("consumption: claim %s: %w", key, err)
		}
	}

	saved := 0
	for _, tpl := range templates {
		rec, persisted := s.deduct(ctx, input, tpl)
		if !persisted {
			if stored, err := s.saveRecord(ctx, rec); err == nil {
				rec, persisted = stored, true
			}
		}
		if persisted {
			saved++
		}
		if rec.Status == RecordConsumed {
			result.Consumed = append(result.Consumed, rec)
		} else {
			result.Failed = append(result.Failed, rec)
		}
	}
	if saved == 0 && len(templates) > 0 {
		s.release(ctx, key)
		return result, fmt.Errorf("consumption: no record persisted for patient test %d", input.PatientTestID)
	}
	s.recordAudit(ctx, input, result)
	return result, nil
}

// release frees the claim so a later completion event can run the deduction.
func (s *Service) release(ctx context.Context, key string) {
	if s.idempotency == nil {
		return
	}
	if err := s.idempotency.Delete(ctx, key); err != nil {
		s.logger.Error("release consumption claim", slog.String("key", key), slog.Any("error", err))
	}
}

// deduct moves the stock and stores the consumed record in one transaction.
// The returned flag reports whether rec was persisted.
func (s *Service) deduct(ctx context.Context, input ConsumeInput, tpl Template) (Record, bool) {
	rec := Record{
		TenantID:      input.TenantID,
		PatientTestID: input.PatientTestID,
		TestID:        input.TestID,
		ItemID:        tpl.ItemID,
		BranchID:      input.BranchID,
		Quantity:      tpl.StandardQuantity,
		IsCritical:    tpl.IsCritical,
	}
	var saved Record
	err := shared.Retry(ctx, s.retry, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			txn, err := s.inventory.RecordTransaction(ctx, inventory.RecordInput{
				TenantID:    input.TenantID,
				ItemID:      tpl.ItemID,
				BranchID:    input.BranchID,
				Type:        inventory.TransactionTypeOut,
				Quantity:    tpl.StandardQuantity,
				Reason:      Reason(input.PatientTestID),
				RefModule:   RefModule,
				RefID:       strconv.FormatInt(input.PatientTestID, 10),
				PerformedBy: input.PerformedBy,
			})
			if err != nil {
				return err
			}
			consumed := rec
			consumed.Status = RecordConsumed
			consumed.InventoryTxID = &txn.ID
			saved, err = tx.InsertRecord(ctx, consumed)
			return err
		})
	})
	if err != nil {
		rec.Status = RecordFailed
		rec.Error = err.Error()
		s.logger.Warn("consumption deduction failed",
			slog.Int64("tenant_id", input.TenantID),
			slog.Int64("patient_test_id", input.PatientTestID),
			slog.Int64("item_id", tpl.ItemID),
			slog.Int64("branch_id", input.BranchID),
			slog.Bool("critical", tpl.IsCritical),
			slog.Any("error", err))
	} else {
		rec = saved
	}
	if s.metrics != nil {
		s.metrics.ConsumptionRecorded(string(rec.Status), tpl.IsCritical)
	}
	return rec, err == nil
}

func (s *Service) saveRecord(ctx context.Context, rec Record) (Record, error) {
	var saved Record
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		saved, err = tx.InsertRecord(ctx, rec)
		return err
	})
	if err != nil {
		s.logger.Error("persist consumption record",
			slog.Int64("patient_test_id", rec.PatientTestID),
			slog.Int64("item_id", rec.ItemID),
			slog.String("status", string(rec.Status)),
			slog.Any("error", err))
		return rec, err
	}
	return saved, nil
}

func (s *Service) recordAudit(ctx context.Context, input ConsumeInput, result Result) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		TenantID: input.TenantID,
		ActorID:  input.PerformedBy,
		Action:   "consumption.test_completed",
		Entity:   "patient_test",
		EntityID: strconv.FormatInt(input.PatientTestID, 10),
		Meta: map[string]any{
			"test_id":   input.TestID,
			"branch_id": input.BranchID,
			"consumed":  len(result.Consumed),
			"failed":    len(result.Failed),
		},
	}); err != nil {
		s.logger.Warn("record audit", slog.String("action", "consumption.test_completed"), slog.Any("error", err))
	}
}
