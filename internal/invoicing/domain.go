package invoicing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/shared"
)

// PaymentStatus enumerates invoice payment states.
type PaymentStatus string

const (
	PaymentStatusUnpaid PaymentStatus = "UNPAID"
	PaymentStatusPaid   PaymentStatus = "PAID"
)

// PaymentMethod enumerates accepted tenders.
type PaymentMethod string

const (
	PaymentCash      PaymentMethod = "cash"
	PaymentCard      PaymentMethod = "card"
	PaymentTransfer  PaymentMethod = "transfer"
	PaymentInsurance PaymentMethod = "insurance"
)

// Valid reports whether m is an accepted tender.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentTransfer, PaymentInsurance:
		return true
	}
	return false
}

// TransactionTypePayment marks a payment transaction.
const TransactionTypePayment = "payment"

// SourceModule tags journal entries posted for invoices.
const SourceModule = "INVOICE"

// Invoice is a two-stage billing document: created unpaid, paid once.
type Invoice struct {
	ID             int64           `json:"id"`
	TenantID       int64           `json:"tenant_id"`
	BranchID       int64           `json:"branch_id"`
	Number         string          `json:"invoice_number"`
	PatientID      int64           `json:"patient_id"`
	Lines          []InvoiceLine   `json:"lines"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	PaymentStatus  PaymentStatus   `json:"payment_status"`
	PaymentMethod  *PaymentMethod  `json:"payment_method,omitempty"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	PaidBy         *int64          `json:"paid_by,omitempty"`
	JournalEntryID *int64          `json:"journal_entry_id,omitempty"`
	CreatedBy      int64           `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
}

// InvoiceLine bills a single test.
type InvoiceLine struct {
	ID          int64           `json:"id"`
	InvoiceID   int64           `json:"invoice_id"`
	TestID      int64           `json:"test_id"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
}

// Transaction is the append-only money movement record of a payment.
type Transaction struct {
	ID            int64           `json:"id"`
	TenantID      int64           `json:"tenant_id"`
	BranchID      int64           `json:"branch_id"`
	Amount        decimal.Decimal `json:"amount"`
	Type          string          `json:"type"`
	Currency      string          `json:"currency"`
	Description   string          `json:"description"`
	InvoiceID     *int64          `json:"invoice_id,omitempty"`
	PaymentMethod *PaymentMethod  `json:"payment_method,omitempty"`
	CreatedBy     int64           `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
}

// LineInput describes a billed test.
type LineInput struct {
	TestID      int64           `json:"test_id" validate:"gt=0"`
	Description string          `json:"description" validate:"max=240"`
	Price       decimal.Decimal `json:"price"`
}

// CreateInvoiceInput carries createInvoice parameters.
type CreateInvoiceInput struct {
	TenantID  int64           `json:"-" validate:"gt=0"`
	BranchID  int64           `json:"branch_id" validate:"gt=0"`
	PatientID int64           `json:"patient_id" validate:"gt=0"`
	Lines     []LineInput     `json:"lines" validate:"required,min=1,dive"`
	Discount  decimal.Decimal `json:"discount"`
	CreatedBy int64           `json:"-"`
}

// MarkPaidInput carries markPaid parameters.
type MarkPaidInput struct {
	TenantID      int64         `json:"-"`
	InvoiceID     int64         `json:"-"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	PaidBy        int64         `json:"-"`
}

// ListFilter narrows ListInvoices.
type ListFilter struct {
	BranchID int64
	Status   PaymentStatus
	Limit    int
}

// PostingAccounts maps payment events to chart of accounts codes.
type PostingAccounts struct {
	CashAccountCode       string
	ReceivableAccountCode string
	RevenueAccountCode    string
	// DiscountAccountCode, when set, books revenue gross and the discount as
	// a contra entry. Empty books revenue net of discount.
	DiscountAccountCode string
}

// DebitAccountFor returns the account code that receives the payment.
func (a PostingAccounts) DebitAccountFor(method PaymentMethod) string {
	if method == PaymentInsurance && a.ReceivableAccountCode != "" {
		return a.ReceivableAccountCode
	}
	return a.CashAccountCode
}

var (
	// ErrInvoiceNotFound indicates missing invoice.
	ErrInvoiceNotFound = shared.NewError(shared.ErrNotFound, "invoicing: invoice not found")
	// ErrAlreadyPaid guards against paying twice.
	ErrAlreadyPaid = shared.NewError(shared.ErrInvalidState, "invoicing: invoice already paid")
	// ErrInvalidAmount indicates a negative total or price.
	ErrInvalidAmount = shared.NewError(shared.ErrValidation, "invoicing: invalid amount")
	// ErrInvalidPaymentMethod indicates an unknown tender.
	ErrInvalidPaymentMethod = shared.NewError(shared.ErrValidation, "invoicing: invalid payment method")
)

// Totals computes subtotal and total of the input. Total must not be negative.
func (in CreateInvoiceInput) Totals() (decimal.Decimal, decimal.Decimal, error) {
	subtotal := decimal.Zero
	for idx, line := range in.Lines {
		if line.Price.IsNegative() {
			return decimal.Zero, decimal.Zero, fmt.Errorf("%w: line %d price %s", ErrInvalidAmount, idx, line.Price)
		}
		if err := shared.CheckScale(fmt.Sprintf("line %d price", idx), line.Price, shared.MoneyScale); err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		subtotal = subtotal.Add(line.Price)
	}
	if in.Discount.IsNegative() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: negative discount", ErrInvalidAmount)
	}
	if err := shared.CheckScale("discount", in.Discount, shared.MoneyScale); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	total := subtotal.Sub(in.Discount)
	if total.IsNegative() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: discount %s exceeds subtotal %s", ErrInvalidAmount, in.Discount, subtotal)
	}
	return subtotal, total, nil
}

// FormatNumber renders the human readable invoice number.
func FormatNumber(seq int64) string {
	return fmt.Sprintf("INV-%06d", seq)
}
