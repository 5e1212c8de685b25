package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/platform/db"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort claims request keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service is the inventory stock ledger.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	observer    MovementObserver
	logger      *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, idempotency: idem, logger: logger}
}

// WithObserver attaches a committed-movement observer.
func (s *Service) WithObserver(o MovementObserver) {
	s.observer = o
}

// CreateItem registers an inventory item.
func (s *Service) CreateItem(ctx context.Context, input CreateItemInput) (Item, error) {
	input.Code = strings.TrimSpace(input.Code)
	input.Name = strings.TrimSpace(input.Name)
	if err := shared.ValidateStruct(input); err != nil {
		return Item{}, err
	}
	if input.MaximumStock.IsPositive() && input.MaximumStock.LessThan(input.ReorderLevel) {
		return Item{}, fmt.Errorf("%w: maximum stock below reorder level", shared.ErrValidation)
	}
	for field, value := range map[string]decimal.Decimal{
		"reorder_level": input.ReorderLevel,
		"minimum_stock": input.MinimumStock,
		"maximum_stock": input.MaximumStock,
		"unit_cost":     input.UnitCost,
	} {
		if err := shared.CheckScale(field, value, shared.QuantityScale); err != nil {
			return Item{}, err
		}
	}
	var created Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.InsertItem(ctx, Item{
			TenantID:      input.TenantID,
			Code:          input.Code,
			Name:          input.Name,
			UnitOfMeasure: input.UnitOfMeasure,
			ReorderLevel:  input.ReorderLevel,
			MinimumStock:  input.MinimumStock,
			MaximumStock:  input.MaximumStock,
			UnitCost:      input.UnitCost,
			IsActive:      true,
		})
		return err
	})
	if err != nil {
		return Item{}, err
	}
	s.recordAudit(ctx, input.TenantID, 0, "inventory.item.create", "inventory_item", created.ID, map[string]any{"code": created.Code})
	return created, nil
}

// GetItem loads an item.
func (s *Service) GetItem(ctx context.Context, tenantID, itemID int64) (Item, error) {
	var item Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		item, err = tx.GetItem(ctx, tenantID, itemID)
		return err
	})
	return item, err
}

// ListItems lists items of the tenant.
func (s *Service) ListItems(ctx context.Context, tenantID int64, activeOnly bool) ([]Item, error) {
	var items []Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		items, err = tx.ListItems(ctx, tenantID, activeOnly)
		return err
	})
	return items, err
}

// RecordTransaction applies a stock movement. The stock row is locked for the
// check and the write, so concurrent deductions cannot both pass the check.
func (s *Service) RecordTransaction(ctx context.Context, input RecordInput) (Transaction, error) {
	delta, err := input.SignedQuantity()
	if err != nil {
		return Transaction{}, err
	}
	claimed := false
	if input.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "inventory"); err != nil {
			return Transaction{}, err
		}
		claimed = true
	}

	var (
		recorded Transaction
		status   StockStatus
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetItem(ctx, input.TenantID, input.ItemID)
		if err != nil {
			return err
		}
		if !item.IsActive {
			return ErrItemInactive
		}
		qty, avg, err := tx.LockStock(ctx, input.TenantID, input.ItemID, input.BranchID)
		if err != nil {
			return err
		}
		next := qty.Add(delta)
		if next.IsNegative() {
			return fmt.Errorf("%w: item %s has %s, requested %s", ErrInsufficientStock, item.Code, qty, delta.Abs())
		}
		unitCost := avg
		if delta.IsPositive() {
			unitCost = input.UnitCost
			if unitCost.IsZero() {
				unitCost = item.UnitCost
			}
			avg = MovingAverage(qty, avg, delta, unitCost)
		} else if next.IsZero() {
			avg = decimal.Zero
		}
		recorded, err = tx.InsertTransaction(ctx, Transaction{
			TenantID:     input.TenantID,
			ItemID:       input.ItemID,
			BranchID:     input.BranchID,
			Type:         input.Type,
			Quantity:     delta,
			UnitCost:     unitCost,
			Reason:       input.Reason,
			RefModule:    input.RefModule,
			RefID:        input.RefID,
			PerformedBy:  input.PerformedBy,
			BalanceAfter: next,
		})
		if err != nil {
			return err
		}
		if err := tx.SetStock(ctx, input.TenantID, input.ItemID, input.BranchID, next, avg); err != nil {
			return err
		}
		status = DeriveStockStatus(next, item)
		db.AfterCommit(ctx, func(ctx context.Context) {
			s.afterMovement(ctx, recorded, status)
		})
		return nil
	})
	if err != nil {
		if claimed {
			if delErr := s.idempotency.Delete(ctx, input.IdempotencyKey); delErr != nil {
				s.logger.Warn("release idempotency key", slog.String("key", input.IdempotencyKey), slog.Any("error", delErr))
			}
		}
		return Transaction{}, err
	}
	return recorded, nil
}

func (s *Service) afterMovement(ctx context.Context, txn Transaction, status StockStatus) {
	if s.observer != nil {
		s.observer.MovementRecorded(ctx, MovementRecordedEvent{
			TenantID:     txn.TenantID,
			ItemID:       txn.ItemID,
			BranchID:     txn.BranchID,
			Type:         txn.Type,
			Quantity:     txn.Quantity,
			BalanceAfter: txn.BalanceAfter,
			Status:       status,
			RecordedAt:   txn.CreatedAt,
		})
	}
	if status == StockStatusCritical {
		s.logger.Warn("stock critical",
			slog.Int64("tenant_id", txn.TenantID),
			slog.Int64("item_id", txn.ItemID),
			slog.Int64("branch_id", txn.BranchID),
			slog.String("available", txn.BalanceAfter.String()))
	}
	s.recordAudit(ctx, txn.TenantID, txn.PerformedBy, "inventory."+string(txn.Type), "inventory_transaction", txn.ID, map[string]any{
		"item_id":       txn.ItemID,
		"branch_id":     txn.BranchID,
		"quantity":      txn.Quantity.String(),
		"balance_after": txn.BalanceAfter.String(),
		"reason":        txn.Reason,
	})
}

// GetStockLevel returns the derived stock state of an item in a branch.
func (s *Service) GetStockLevel(ctx context.Context, tenantID, itemID, branchID int64) (StockLevel, error) {
	var level StockLevel
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetItem(ctx, tenantID, itemID)
		if err != nil {
			return err
		}
		qty, avg, updated, err := tx.GetStock(ctx, tenantID, itemID, branchID)
		if err != nil {
			return err
		}
		level = NewStockLevel(item, branchID, qty, avg, updated)
		return nil
	})
	return level, err
}

// ListLowStock returns items of the branch whose status is critical or low.
func (s *Service) ListLowStock(ctx context.Context, tenantID, branchID int64) ([]StockLevel, error) {
	var out []StockLevel
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		levels, err := tx.ListBranchStock(ctx, tenantID, branchID)
		if err != nil {
			return err
		}
		for _, level := range levels {
			if level.StockStatus == StockStatusCritical || level.StockStatus == StockStatusLow {
				out = append(out, level)
			}
		}
		return nil
	})
	return out, err
}

// ListBranchStock returns every active item with its stock in the branch.
func (s *Service) ListBranchStock(ctx context.Context, tenantID, branchID int64) ([]StockLevel, error) {
	var out []StockLevel
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListBranchStock(ctx, tenantID, branchID)
		return err
	})
	return out, err
}

// ListTransactions returns the stock card of an item.
func (s *Service) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	if filter.TenantID == 0 {
		return nil, fmt.Errorf("%w: tenant required", shared.ErrValidation)
	}
	var out []Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListTransactions(ctx, filter)
		return err
	})
	return out, err
}

// RebuildStockLevel replays the transactions of an item in a branch and
// repairs the projection when it disagrees.
func (s *Service) RebuildStockLevel(ctx context.Context, tenantID, itemID, branchID int64) (RebuildResult, error) {
	result := RebuildResult{StockKey: StockKey{TenantID: tenantID, ItemID: itemID, BranchID: branchID}}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		projected, avg, err := tx.LockStock(ctx, tenantID, itemID, branchID)
		if err != nil {
			return err
		}
		replayed, err := tx.SumTransactions(ctx, tenantID, itemID, branchID)
		if err != nil {
			return err
		}
		result.Projected = projected
		result.Replayed = replayed
		if projected.Equal(replayed) {
			return nil
		}
		if replayed.IsNegative() {
			return fmt.Errorf("inventory: replayed stock of item %d branch %d is negative (%s)", itemID, branchID, replayed)
		}
		if err := tx.SetStock(ctx, tenantID, itemID, branchID, replayed, avg); err != nil {
			return err
		}
		result.Repaired = true
		return nil
	})
	if err != nil {
		return RebuildResult{}, err
	}
	if result.Repaired {
		s.logger.Error("stock projection drift repaired",
			slog.Int64("tenant_id", tenantID),
			slog.Int64("item_id", itemID),
			slog.Int64("branch_id", branchID),
			slog.String("projected", result.Projected.String()),
			slog.String("replayed", result.Replayed.String()))
	}
	return result, nil
}

// ListStockKeys returns every (item, branch) pair with stock history.
func (s *Service) ListStockKeys(ctx context.Context, tenantID int64) ([]StockKey, error) {
	var keys []StockKey
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		keys, err = tx.ListStockKeys(ctx, tenantID)
		return err
	})
	return keys, err
}

// ListTenantIDs returns tenants owning inventory items.
func (s *Service) ListTenantIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ids, err = tx.ListTenantIDs(ctx)
		return err
	})
	return ids, err
}

// IsInsufficientStock reports whether err is a stock underflow.
func IsInsufficientStock(err error) bool {
	return errors.Is(err, ErrInsufficientStock)
}

func (s *Service) recordAudit(ctx context.Context, tenantID, actorID int64, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
		At:       time.Now(),
	}); err != nil {
		s.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}
