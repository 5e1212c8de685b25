package pettycash

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/shared"
)

// FundStatus is the lifecycle state of a fund.
type FundStatus string

const (
	FundActive    FundStatus = "active"
	FundSuspended FundStatus = "suspended"
	FundClosed    FundStatus = "closed"
)

// Valid reports whether s is a known status.
func (s FundStatus) Valid() bool {
	switch s {
	case FundActive, FundSuspended, FundClosed:
		return true
	}
	return false
}

// TxType enumerates fund movements.
type TxType string

const (
	TxExpense       TxType = "expense"
	TxReplenishment TxType = "replenishment"
	TxReturn        TxType = "return"
	// TxAdjustment is a signed correction, typically after reconciliation.
	TxAdjustment TxType = "adjustment"
)

// TxStatusPosted is the only status a recorded movement takes.
const TxStatusPosted = "posted"

// ReconciliationStatus reports whether the counted cash matched the books.
type ReconciliationStatus string

const (
	ReconciliationBalanced ReconciliationStatus = "balanced"
	ReconciliationVariance ReconciliationStatus = "variance"
)

// Fund is a branch cash box held by a custodian.
type Fund struct {
	ID               int64           `json:"id"`
	TenantID         int64           `json:"tenant_id"`
	BranchID         int64           `json:"branch_id"`
	Name             string          `json:"name"`
	CustodianID      int64           `json:"custodian_id"`
	CurrentBalance   decimal.Decimal `json:"current_balance"`
	MonthlyLimit     decimal.Decimal `json:"monthly_limit"`
	Status           FundStatus      `json:"status"`
	LastReconciledAt *time.Time      `json:"last_reconciled_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Transaction is an append-only fund movement. Amount is as entered; the
// signed effect on the balance is reflected in BalanceAfter.
type Transaction struct {
	ID           int64           `json:"id"`
	TenantID     int64           `json:"tenant_id"`
	FundID       int64           `json:"fund_id"`
	Type         TxType          `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	Purpose      string          `json:"purpose"`
	Category     string          `json:"category,omitempty"`
	Status       string          `json:"status"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	CreatedBy    int64           `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Reconciliation records a physical cash count against the books.
type Reconciliation struct {
	ID              int64                `json:"id"`
	TenantID        int64                `json:"tenant_id"`
	FundID          int64                `json:"fund_id"`
	ExpectedBalance decimal.Decimal      `json:"expected_balance"`
	ActualBalance   decimal.Decimal      `json:"actual_balance"`
	Variance        decimal.Decimal      `json:"variance"`
	VarianceReason  string               `json:"variance_reason,omitempty"`
	Status          ReconciliationStatus `json:"status"`
	ReconciledBy    int64                `json:"reconciled_by"`
	CreatedAt       time.Time            `json:"created_at"`
}

// CreateFundInput describes a new fund.
type CreateFundInput struct {
	TenantID      int64           `json:"-" validate:"gt=0"`
	BranchID      int64           `json:"branch_id" validate:"gt=0"`
	Name          string          `json:"name" validate:"required,max=120"`
	CustodianID   int64           `json:"custodian_id" validate:"gt=0"`
	InitialAmount decimal.Decimal `json:"initial_amount" validate:"gte=0"`
	MonthlyLimit  decimal.Decimal `json:"monthly_limit" validate:"gt=0"`
	CreatedBy     int64           `json:"-"`
}

// FundTxInput describes a fund movement.
type FundTxInput struct {
	TenantID  int64           `json:"-"`
	FundID    int64           `json:"-"`
	Type      TxType          `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Purpose   string          `json:"purpose"`
	Category  string          `json:"category"`
	CreatedBy int64           `json:"-"`
}

// ReconcileInput carries a cash count.
type ReconcileInput struct {
	TenantID       int64           `json:"-" validate:"gt=0"`
	FundID         int64           `json:"-" validate:"gt=0"`
	ActualBalance  decimal.Decimal `json:"actual_balance" validate:"gte=0"`
	VarianceReason string          `json:"variance_reason" validate:"max=500"`
	ReconciledBy   int64           `json:"-"`
}

var (
	// ErrFundNotFound indicates a missing fund.
	ErrFundNotFound = shared.NewError(shared.ErrNotFound, "pettycash: fund not found")
	// ErrFundInactive indicates movements against a suspended or closed fund.
	ErrFundInactive = shared.NewError(shared.ErrInvalidState, "pettycash: fund is not active")
	// ErrOverLimit indicates an expense beyond the monthly limit.
	ErrOverLimit = shared.NewError(shared.ErrBusinessRule, "pettycash: monthly limit exceeded")
	// ErrInsufficientFunds indicates an expense larger than the cash on hand.
	ErrInsufficientFunds = shared.NewError(shared.ErrBusinessRule, "pettycash: insufficient funds")
	// ErrInvalidAmount indicates a zero or negative amount.
	ErrInvalidAmount = shared.NewError(shared.ErrValidation, "pettycash: invalid amount")
	// ErrInvalidType indicates an unknown movement type.
	ErrInvalidType = shared.NewError(shared.ErrValidation, "pettycash: invalid transaction type")
	// ErrInvalidTransition indicates a status change the fund cannot take.
	ErrInvalidTransition = shared.NewError(shared.ErrInvalidState, "pettycash: invalid status transition")
)

// Delta validates in and returns its signed effect on the fund balance.
func (in FundTxInput) Delta() (decimal.Decimal, error) {
	if in.TenantID == 0 || in.FundID == 0 {
		return decimal.Zero, fmt.Errorf("%w: tenant and fund required", shared.ErrValidation)
	}
	if strings.TrimSpace(in.Purpose) == "" {
		return decimal.Zero, fmt.Errorf("%w: purpose required", shared.ErrValidation)
	}
	if err := shared.CheckScale("amount", in.Amount, shared.MoneyScale); err != nil {
		return decimal.Zero, err
	}
	switch in.Type {
	case TxExpense:
		if !in.Amount.IsPositive() {
			return decimal.Zero, ErrInvalidAmount
		}
		return in.Amount.Neg(), nil
	case TxReplenishment, TxReturn:
		if !in.Amount.IsPositive() {
			return decimal.Zero, ErrInvalidAmount
		}
		return in.Amount, nil
	case TxAdjustment:
		if in.Amount.IsZero() {
			return decimal.Zero, fmt.Errorf("%w: adjustment must be non zero", ErrInvalidAmount)
		}
		return in.Amount, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidType, in.Type)
	}
}

// CanTransition reports whether a fund may move from one status to another.
// Closed funds stay closed.
func CanTransition(from, to FundStatus) bool {
	if from == to || from == FundClosed {
		return false
	}
	return to.Valid()
}

// MonthStart returns midnight of the first day of the month containing t.
func MonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
