package inventory

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/shared"
)

// TransactionType enumerates supported inventory movements.
type TransactionType string

const (
	// TransactionTypeIn represents an inbound movement.
	TransactionTypeIn TransactionType = "in"
	// TransactionTypeOut represents an outbound movement.
	TransactionTypeOut TransactionType = "out"
	// TransactionTypeAdjustment indicates manual signed corrections.
	TransactionTypeAdjustment TransactionType = "adjustment"
)

// StockStatus classifies an available quantity against item thresholds.
type StockStatus string

const (
	StockStatusCritical StockStatus = "critical"
	StockStatusLow      StockStatus = "low"
	StockStatusNormal   StockStatus = "normal"
	StockStatusHigh     StockStatus = "high"
)

// Item is a consumable reagent or supply.
type Item struct {
	ID            int64           `json:"id"`
	TenantID      int64           `json:"tenant_id"`
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	UnitOfMeasure string          `json:"unit_of_measure"`
	ReorderLevel  decimal.Decimal `json:"reorder_level"`
	MinimumStock  decimal.Decimal `json:"minimum_stock"`
	MaximumStock  decimal.Decimal `json:"maximum_stock"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	IsActive      bool            `json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
}

// StockLevel is the derived stock position of an item in a branch.
type StockLevel struct {
	TenantID          int64           `json:"tenant_id"`
	ItemID            int64           `json:"item_id"`
	BranchID          int64           `json:"branch_id"`
	ItemCode          string          `json:"item_code"`
	ItemName          string          `json:"item_name"`
	AvailableQuantity decimal.Decimal `json:"available_quantity"`
	AvgCost           decimal.Decimal `json:"avg_cost"`
	ReorderLevel      decimal.Decimal `json:"reorder_level"`
	MinimumStock      decimal.Decimal `json:"minimum_stock"`
	MaximumStock      decimal.Decimal `json:"maximum_stock"`
	StockStatus       StockStatus     `json:"stock_status"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Transaction is an append-only stock movement. Quantity is signed.
type Transaction struct {
	ID           int64           `json:"id"`
	TenantID     int64           `json:"tenant_id"`
	ItemID       int64           `json:"item_id"`
	BranchID     int64           `json:"branch_id"`
	Type         TransactionType `json:"type"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	Reason       string          `json:"reason"`
	RefModule    string          `json:"ref_module,omitempty"`
	RefID        string          `json:"ref_id,omitempty"`
	PerformedBy  int64           `json:"performed_by"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	CreatedAt    time.Time       `json:"created_at"`
}

// StockKey identifies a stock row.
type StockKey struct {
	TenantID int64
	ItemID   int64
	BranchID int64
}

// CreateItemInput describes a new inventory item.
type CreateItemInput struct {
	TenantID      int64           `json:"-" validate:"gt=0"`
	Code          string          `json:"code" validate:"required,max=64"`
	Name          string          `json:"name" validate:"required,max=160"`
	UnitOfMeasure string          `json:"unit_of_measure" validate:"required,max=32"`
	ReorderLevel  decimal.Decimal `json:"reorder_level" validate:"gte=0"`
	MinimumStock  decimal.Decimal `json:"minimum_stock" validate:"gte=0"`
	MaximumStock  decimal.Decimal `json:"maximum_stock" validate:"gte=0"`
	UnitCost      decimal.Decimal `json:"unit_cost" validate:"gte=0"`
}

// RecordInput describes a stock movement request.
type RecordInput struct {
	TenantID    int64           `json:"-"`
	ItemID      int64           `json:"item_id"`
	BranchID    int64           `json:"branch_id"`
	Type        TransactionType `json:"type"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	Reason      string          `json:"reason"`
	RefModule   string          `json:"ref_module"`
	RefID       string          `json:"ref_id"`
	PerformedBy int64           `json:"-"`
	// IdempotencyKey, when set, makes a repeated request fail with
	// shared.ErrIdempotencyConflict instead of moving stock twice.
	IdempotencyKey string `json:"idempotency_key"`
}

// TransactionFilter narrows the stock card.
type TransactionFilter struct {
	TenantID int64
	ItemID   int64
	BranchID int64
	From     time.Time
	To       time.Time
	Limit    int
}

// RebuildResult reports a projection compared with its replayed transactions.
type RebuildResult struct {
	StockKey
	Projected decimal.Decimal `json:"projected"`
	Replayed  decimal.Decimal `json:"replayed"`
	Repaired  bool            `json:"repaired"`
}

var (
	// ErrInsufficientStock indicates a movement would drive stock negative.
	ErrInsufficientStock = shared.NewError(shared.ErrBusinessRule, "inventory: insufficient stock")
	// ErrInvalidQuantity indicates invalid qty.
	ErrInvalidQuantity = shared.NewError(shared.ErrValidation, "inventory: invalid quantity")
	// ErrReasonRequired indicates an adjustment without a reason.
	ErrReasonRequired = shared.NewError(shared.ErrValidation, "inventory: adjustment reason required")
	// ErrInvalidType indicates an unknown movement type.
	ErrInvalidType = shared.NewError(shared.ErrValidation, "inventory: invalid transaction type")
	// ErrItemNotFound indicates missing item.
	ErrItemNotFound = shared.NewError(shared.ErrNotFound, "inventory: item not found")
	// ErrItemInactive indicates a movement against a retired item.
	ErrItemInactive = shared.NewError(shared.ErrBusinessRule, "inventory: item inactive")
	// ErrDuplicateCode indicates the item code is taken for the tenant.
	ErrDuplicateCode = shared.NewError(shared.ErrDuplicate, "inventory: item code already exists")
)

// DeriveStockStatus classifies qty against the thresholds of item.
func DeriveStockStatus(qty decimal.Decimal, item Item) StockStatus {
	switch {
	case qty.LessThan(item.MinimumStock):
		return StockStatusCritical
	case qty.LessThan(item.ReorderLevel):
		return StockStatusLow
	case item.MaximumStock.IsPositive() && qty.GreaterThan(item.MaximumStock):
		return StockStatusHigh
	default:
		return StockStatusNormal
	}
}

// NewStockLevel assembles the derived view of qty for item in branchID.
func NewStockLevel(item Item, branchID int64, qty, avgCost decimal.Decimal, updatedAt time.Time) StockLevel {
	return StockLevel{
		TenantID:          item.TenantID,
		ItemID:            item.ID,
		BranchID:          branchID,
		ItemCode:          item.Code,
		ItemName:          item.Name,
		AvailableQuantity: qty,
		AvgCost:           avgCost,
		ReorderLevel:      item.ReorderLevel,
		MinimumStock:      item.MinimumStock,
		MaximumStock:      item.MaximumStock,
		StockStatus:       DeriveStockStatus(qty, item),
		UpdatedAt:         updatedAt,
	}
}

// SignedQuantity validates input and returns the signed stock delta.
func (in RecordInput) SignedQuantity() (decimal.Decimal, error) {
	if in.TenantID == 0 || in.ItemID == 0 || in.BranchID == 0 {
		return decimal.Zero, fmt.Errorf("%w: tenant, item and branch required", shared.ErrValidation)
	}
	if in.UnitCost.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: unit cost must be >= 0", shared.ErrValidation)
	}
	if err := shared.CheckScale("quantity", in.Quantity, shared.QuantityScale); err != nil {
		return decimal.Zero, err
	}
	if err := shared.CheckScale("unit_cost", in.UnitCost, shared.QuantityScale); err != nil {
		return decimal.Zero, err
	}
	switch in.Type {
	case TransactionTypeIn:
		if !in.Quantity.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: inbound quantity must be > 0", ErrInvalidQuantity)
		}
		return in.Quantity, nil
	case TransactionTypeOut:
		if !in.Quantity.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: outbound quantity must be > 0", ErrInvalidQuantity)
		}
		return in.Quantity.Neg(), nil
	case TransactionTypeAdjustment:
		if in.Quantity.IsZero() {
			return decimal.Zero, fmt.Errorf("%w: adjustment must be non zero", ErrInvalidQuantity)
		}
		if strings.TrimSpace(in.Reason) == "" {
			return decimal.Zero, ErrReasonRequired
		}
		return in.Quantity, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidType, in.Type)
	}
}

// MovingAverage returns the average unit cost after receiving qtyIn at unitCost.
func MovingAverage(qty, avg, qtyIn, unitCost decimal.Decimal) decimal.Decimal {
	total := qty.Add(qtyIn)
	if !total.IsPositive() {
		return decimal.Zero
	}
	return qty.Mul(avg).Add(qtyIn.Mul(unitCost)).DivRound(total, 4)
}
