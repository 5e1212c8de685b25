package procurement

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/shared"
)

// POStatus is the lifecycle state of a purchase order.
type POStatus string

const (
	POStatusDraft           POStatus = "draft"
	POStatusPendingApproval POStatus = "pending-approval"
	POStatusApproved        POStatus = "approved"
	POStatusRejected        POStatus = "rejected"
	POStatusOrdered         POStatus = "ordered"
	POStatusReceived        POStatus = "received"
	POStatusCompleted       POStatus = "completed"
)

var transitions = map[POStatus][]POStatus{
	POStatusDraft:           {POStatusPendingApproval},
	POStatusPendingApproval: {POStatusApproved, POStatusRejected},
	POStatusApproved:        {POStatusOrdered},
	POStatusOrdered:         {POStatusReceived},
	POStatusReceived:        {POStatusCompleted},
}

// CanTransition reports whether a PO may move from one status to another.
func CanTransition(from, to POStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Priority ranks how urgently a PO is needed.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ApprovalModule tags approval log entries of purchase orders.
const ApprovalModule = "PO"

// PurchaseOrder is a request to buy from a vendor.
type PurchaseOrder struct {
	ID                    int64           `json:"id"`
	TenantID              int64           `json:"tenant_id"`
	BranchID              int64           `json:"branch_id"`
	Number                string          `json:"po_number"`
	VendorID              int64           `json:"vendor_id"`
	RequestedBy           int64           `json:"requested_by"`
	TotalAmount           decimal.Decimal `json:"total_amount"`
	Status                POStatus        `json:"status"`
	Priority              Priority        `json:"priority"`
	RequiredApprovalLevel int             `json:"required_approval_level"`
	CurrentApprover       *string         `json:"current_approver,omitempty"`
	ApprovedBy            *int64          `json:"approved_by,omitempty"`
	ApprovedAt            *time.Time      `json:"approved_at,omitempty"`
	RejectionReason       *string         `json:"rejection_reason,omitempty"`
	Notes                 string          `json:"notes,omitempty"`
	Lines                 []POLine        `json:"lines"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// POLine is an ordered item.
type POLine struct {
	ID          int64           `json:"id"`
	POID        int64           `json:"po_id"`
	ItemID      *int64          `json:"item_id,omitempty"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// POLineInput describes an ordered item.
type POLineInput struct {
	ItemID      *int64          `json:"item_id"`
	Description string          `json:"description" validate:"required,max=255"`
	Quantity    decimal.Decimal `json:"quantity" validate:"gt=0"`
	UnitPrice   decimal.Decimal `json:"unit_price" validate:"gte=0"`
}

// CreatePOInput describes a new purchase order.
type CreatePOInput struct {
	TenantID    int64         `json:"-" validate:"gt=0"`
	BranchID    int64         `json:"branch_id" validate:"gt=0"`
	VendorID    int64         `json:"vendor_id" validate:"gt=0"`
	RequestedBy int64         `json:"-" validate:"gt=0"`
	Priority    Priority      `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
	Notes       string        `json:"notes" validate:"max=1000"`
	Lines       []POLineInput `json:"lines" validate:"required,min=1,dive"`
}

// ApproveInput carries an approval decision.
type ApproveInput struct {
	TenantID     int64  `json:"-"`
	POID         int64  `json:"-"`
	ApproverID   int64  `json:"-"`
	ApproverRole string `json:"-"`
	Comments     string `json:"comments"`
}

// RejectInput carries a rejection.
type RejectInput struct {
	TenantID  int64  `json:"-"`
	POID      int64  `json:"-"`
	ActorID   int64  `json:"-"`
	ActorRole string `json:"-"`
	Reason    string `json:"reason"`
}

// ListFilter narrows purchase order listings.
type ListFilter struct {
	BranchID int64
	Status   POStatus
	Limit    int
}

var (
	// ErrPONotFound indicates a missing purchase order.
	ErrPONotFound = shared.NewError(shared.ErrNotFound, "procurement: purchase order not found")
	// ErrInvalidState occurs when action violates status workflow.
	ErrInvalidState = shared.NewError(shared.ErrInvalidState, "procurement: invalid state transition")
	// ErrWrongApprover indicates the actor's role does not match the PO tier.
	ErrWrongApprover = shared.NewError(shared.ErrForbidden, "procurement: approver role does not match tier")
	// ErrReasonRequired indicates a rejection without a reason.
	ErrReasonRequired = shared.NewError(shared.ErrValidation, "procurement: rejection reason required")
)

// Total sums line totals.
func (in CreatePOInput) Total() (decimal.Decimal, []POLine) {
	total := decimal.Zero
	lines := make([]POLine, 0, len(in.Lines))
	for _, l := range in.Lines {
		lineTotal := l.Quantity.Mul(l.UnitPrice).Round(2)
		total = total.Add(lineTotal)
		lines = append(lines, POLine{ItemID: l.ItemID, Description: l.Description, Quantity: l.Quantity, UnitPrice: l.UnitPrice, LineTotal: lineTotal})
	}
	return total, lines
}

// FormatNumber renders a purchase order number.
func FormatNumber(seq int64) string {
	return fmt.Sprintf("PO-%06d", seq)
}
