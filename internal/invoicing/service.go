package invoicing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/accounting"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/platform/db"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/shared"
)

// RepositoryPort abstracts transactional persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// LedgerPort is the slice of the journal engine invoicing posts through.
type LedgerPort interface {
	GetAccount(ctx context.Context, tenantID int64, code string) (accounting.Account, error)
	PostEntry(ctx context.Context, input accounting.PostingInput) (accounting.JournalEntry, error)
}

// AuditPort records invoice events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort receives payment counters.
type MetricsPort interface {
	InvoicePaid(method string, amount float64)
}

// Service manages the unpaid to paid invoice lifecycle.
type Service struct {
	repo     RepositoryPort
	ledger   LedgerPort
	accounts PostingAccounts
	currency string
	audit    AuditPort
	metrics  MetricsPort
	logger   *slog.Logger
	now      func() time.Time
}

// Config carries posting configuration.
type Config struct {
	Accounts PostingAccounts
	Currency string
}

// NewService constructs the invoice service.
func NewService(repo RepositoryPort, ledger LedgerPort, cfg Config, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Currency == "" {
		cfg.Currency = "NGN"
	}
	return &Service{
		repo:     repo,
		ledger:   ledger,
		accounts: cfg.Accounts,
		currency: cfg.Currency,
		audit:    audit,
		logger:   logger,
		now:      time.Now,
	}
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

// CreateInvoice persists an unpaid invoice with an allocated number.
func (s *Service) CreateInvoice(ctx context.Context, input CreateInvoiceInput) (Invoice, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return Invoice{}, err
	}
	subtotal, total, err := input.Totals()
	if err != nil {
		return Invoice{}, err
	}
	lines := make([]InvoiceLine, 0, len(input.Lines))
	for _, line := range input.Lines {
		lines = append(lines, InvoiceLine{TestID: line.TestID, Description: line.Description, Price: line.Price})
	}
	var created Invoice
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		seq, err := tx.NextInvoiceNumber(ctx, input.TenantID)
		if err != nil {
			return err
		}
		created, err = tx.InsertInvoice(ctx, Invoice{
			TenantID:       input.TenantID,
			BranchID:       input.BranchID,
			Number:         FormatNumber(seq),
			PatientID:      input.PatientID,
			Lines:          lines,
			Subtotal:       subtotal,
			DiscountAmount: input.Discount,
			TotalAmount:    total,
			PaymentStatus:  PaymentStatusUnpaid,
			CreatedBy:      input.CreatedBy,
		})
		if err != nil {
			return err
		}
		db.AfterCommit(ctx, func(ctx context.Context) {
			s.recordAudit(ctx, input.TenantID, input.CreatedBy, "invoice.create", created.ID, map[string]any{
				"number": created.Number,
				"total":  total.String(),
			})
		})
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	return created, nil
}

// MarkPaid settles an unpaid invoice. The status change, the revenue entry
// and the payment transaction commit together or not at all.
func (s *Service) MarkPaid(ctx context.Context, input MarkPaidInput) (Invoice, error) {
	if !input.PaymentMethod.Valid() {
		return Invoice{}, fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, input.PaymentMethod)
	}
	var paid Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, input.TenantID, input.InvoiceID)
		if err != nil {
			return err
		}
		if inv.PaymentStatus == PaymentStatusPaid {
			return ErrAlreadyPaid
		}
		paidAt := s.now()
		var journalID *int64
		if inv.TotalAmount.IsPositive() {
			entry, err := s.postRevenue(ctx, inv, input, paidAt)
			if err != nil {
				return fmt.Errorf("invoicing: post revenue for %s: %w", inv.Number, err)
			}
			journalID = &entry.ID
		}
		if err := tx.MarkPaid(ctx, inv.ID, input.PaymentMethod, paidAt, input.PaidBy, journalID); err != nil {
			return err
		}
		method := input.PaymentMethod
		invoiceID := inv.ID
		if _, err := tx.InsertTransaction(ctx, Transaction{
			TenantID:      inv.TenantID,
			BranchID:      inv.BranchID,
			Amount:        inv.TotalAmount,
			Type:          TransactionTypePayment,
			Currency:      s.currency,
			Description:   "Payment for invoice " + inv.Number,
			InvoiceID:     &invoiceID,
			PaymentMethod: &method,
			CreatedBy:     input.PaidBy,
		}); err != nil {
			return err
		}
		inv.PaymentStatus = PaymentStatusPaid
		inv.PaymentMethod = &method
		inv.PaidAt = &paidAt
		paidBy := input.PaidBy
		inv.PaidBy = &paidBy
		inv.JournalEntryID = journalID
		paid = inv
		db.AfterCommit(ctx, func(ctx context.Context) {
			if s.metrics != nil {
				amount, _ := inv.TotalAmount.Float64()
				s.metrics.InvoicePaid(string(method), amount)
			}
			s.recordAudit(ctx, inv.TenantID, input.PaidBy, "invoice.paid", inv.ID, map[string]any{
				"number":         inv.Number,
				"payment_method": string(method),
				"amount":         inv.TotalAmount.String(),
			})
		})
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	return paid, nil
}

// JournalSourceID derives the ledger source reference of an invoice payment.
// The ledger refuses a second entry for the same reference.
func JournalSourceID(invoiceID int64) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte("INVOICE:"+strconv.FormatInt(invoiceID, 10)))
}

func (s *Service) postRevenue(ctx context.Context, inv Invoice, input MarkPaidInput, paidAt time.Time) (accounting.JournalEntry, error) {
	debitAcc, err := s.ledger.GetAccount(ctx, inv.TenantID, s.accounts.DebitAccountFor(input.PaymentMethod))
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	revenueAcc, err := s.ledger.GetAccount(ctx, inv.TenantID, s.accounts.RevenueAccountCode)
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	lines := []accounting.PostingLineInput{
		{AccountID: debitAcc.ID, Debit: inv.TotalAmount, Credit: decimal.Zero, Memo: inv.Number},
	}
	revenue := inv.TotalAmount
	if inv.DiscountAmount.IsPositive() && s.accounts.DiscountAccountCode != "" {
		discountAcc, err := s.ledger.GetAccount(ctx, inv.TenantID, s.accounts.DiscountAccountCode)
		if err != nil {
			return accounting.JournalEntry{}, err
		}
		lines = append(lines, accounting.PostingLineInput{AccountID: discountAcc.ID, Debit: inv.DiscountAmount, Credit: decimal.Zero, Memo: inv.Number})
		revenue = inv.Subtotal
	}
	lines = append(lines, accounting.PostingLineInput{AccountID: revenueAcc.ID, Debit: decimal.Zero, Credit: revenue, Memo: inv.Number})
	entry, err := s.ledger.PostEntry(ctx, accounting.PostingInput{
		TenantID:     inv.TenantID,
		Date:         paidAt,
		Description:  fmt.Sprintf("Revenue for invoice %s (%s)", inv.Number, input.PaymentMethod),
		SourceModule: SourceModule,
		SourceID:     JournalSourceID(inv.ID),
		CreatedBy:    input.PaidBy,
		Lines:        lines,
	})
	if errors.Is(err, accounting.ErrSourceAlreadyLinked) {
		return accounting.JournalEntry{}, ErrAlreadyPaid
	}
	return entry, err
}

// GetInvoice loads an invoice with its lines.
func (s *Service) GetInvoice(ctx context.Context, tenantID, id int64) (Invoice, error) {
	var inv Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		inv, err = tx.GetInvoice(ctx, tenantID, id)
		return err
	})
	return inv, err
}

// ListInvoices returns invoices of a branch, optionally by status.
func (s *Service) ListInvoices(ctx context.Context, tenantID int64, filter ListFilter) ([]Invoice, error) {
	if filter.Status != "" && filter.Status != PaymentStatusPaid && filter.Status != PaymentStatusUnpaid {
		return nil, fmt.Errorf("%w: unknown status %q", shared.ErrValidation, filter.Status)
	}
	var out []Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListInvoices(ctx, tenantID, filter)
		return err
	})
	return out, err
}

// ListTransactions returns payment transactions, optionally for one invoice.
func (s *Service) ListTransactions(ctx context.Context, tenantID int64, invoiceID *int64) ([]Transaction, error) {
	var out []Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListTransactions(ctx, tenantID, invoiceID)
		return err
	})
	return out, err
}

func (s *Service) recordAudit(ctx context.Context, tenantID, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "invoice",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}
