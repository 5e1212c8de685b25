package consumption

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/shared"
)

// RefModule tags inventory movements raised by test completion.
const RefModule = "CONSUMPTION"

// RecordStatus is the outcome of a single template deduction.
type RecordStatus string

const (
	RecordConsumed RecordStatus = "consumed"
	RecordFailed   RecordStatus = "failed"
)

// Template maps a test to the standard quantity of one item it consumes.
type Template struct {
	ID               int64           `json:"id"`
	TenantID         int64           `json:"tenant_id"`
	TestID           int64           `json:"test_id"`
	ItemID           int64           `json:"item_id"`
	StandardQuantity decimal.Decimal `json:"standard_quantity"`
	ConsumptionType  string          `json:"consumption_type"`
	IsCritical       bool            `json:"is_critical"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Record is the persisted result of one deduction attempt.
type Record struct {
	ID            int64           `json:"id"`
	TenantID      int64           `json:"tenant_id"`
	PatientTestID int64           `json:"patient_test_id"`
	TestID        int64           `json:"test_id"`
	ItemID        int64           `json:"item_id"`
	BranchID      int64           `json:"branch_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	Status        RecordStatus    `json:"status"`
	Error         string          `json:"error,omitempty"`
	IsCritical    bool            `json:"is_critical"`
	InventoryTxID *int64          `json:"inventory_tx_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// CreateTemplateInput describes a new consumption template.
type CreateTemplateInput struct {
	TenantID         int64           `json:"-" validate:"gt=0"`
	TestID           int64           `json:"test_id" validate:"gt=0"`
	ItemID           int64           `json:"item_id" validate:"gt=0"`
	StandardQuantity decimal.Decimal `json:"standard_quantity" validate:"gt=0"`
	ConsumptionType  string          `json:"consumption_type" validate:"omitempty,oneof=per_test per_sample per_batch"`
	IsCritical       bool            `json:"is_critical"`
}

// ConsumeInput identifies a completed patient test.
type ConsumeInput struct {
	TenantID      int64 `json:"tenant_id" validate:"gt=0"`
	TestID        int64 `json:"test_id" validate:"gt=0"`
	PatientTestID int64 `json:"patient_test_id" validate:"gt=0"`
	BranchID      int64 `json:"branch_id" validate:"gt=0"`
	PerformedBy   int64 `json:"performed_by"`
}

// Result summarises a ConsumeForTest call.
type Result struct {
	PatientTestID   int64    `json:"patient_test_id"`
	AlreadyConsumed bool     `json:"already_consumed"`
	Consumed        []Record `json:"consumed"`
	Failed          []Record `json:"failed"`
}

var (
	// ErrTemplateExists indicates the test already has a template for the item.
	ErrTemplateExists = shared.NewError(shared.ErrDuplicate, "consumption: template already exists")
)

// IdempotencyKey returns the store key guarding a patient test.
func IdempotencyKey(tenantID, patientTestID int64) string {
	return fmt.Sprintf("consumption:%d:%d", tenantID, patientTestID)
}

// Reason returns the stock card reason of a deduction.
func Reason(patientTestID int64) string {
	return fmt.Sprintf("test-completion:%d", patientTestID)
}
