package invoicing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/platform/db"
)

// Repository persists invoices and payment transactions.
type Repository struct {
	pool *pgxpool.Pool
	iso  pgx.TxIsoLevel
}

// NewRepository constructs Repository using repeatable-read transactions.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, iso: pgx.RepeatableRead}
}

// WithIsolation overrides the isolation level of transactions opened by the repository.
func (r *Repository) WithIsolation(iso pgx.TxIsoLevel) *Repository {
	r.iso = iso
	return r
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	NextInvoiceNumber(ctx context.Context, tenantID int64) (int64, error)
	InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error)
	GetInvoice(ctx context.Context, tenantID, id int64) (Invoice, error)
	GetInvoiceForUpdate(ctx context.Context, tenantID, id int64) (Invoice, error)
	MarkPaid(ctx context.Context, id int64, method PaymentMethod, paidAt time.Time, paidBy int64, journalID *int64) error
	InsertTransaction(ctx context.Context, txn Transaction) (Transaction, error)
	ListInvoices(ctx context.Context, tenantID int64, filter ListFilter) ([]Invoice, error)
	ListTransactions(ctx context.Context, tenantID int64, invoiceID *int64) ([]Transaction, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx runs fn inside the ambient transaction or a new one. The ledger
// joins the same transaction when handed the returned context.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("invoicing repository not initialised")
	}
	return db.RunInTx(ctx, r.pool, r.iso, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *txRepository) NextInvoiceNumber(ctx context.Context, tenantID int64) (int64, error) {
	return db.NextSequence(ctx, r.tx, tenantID, db.SeqInvoice)
}

func (r *txRepository) InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO invoices (tenant_id, branch_id, number, patient_id, subtotal, discount_amount, total_amount, payment_status, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id, created_at`,
		inv.TenantID, inv.BranchID, inv.Number, inv.PatientID, inv.Subtotal, inv.DiscountAmount, inv.TotalAmount, string(inv.PaymentStatus), inv.CreatedBy,
	).Scan(&inv.ID, &inv.CreatedAt)
	if err != nil {
		return Invoice{}, err
	}
	batch := &pgx.Batch{}
	for _, line := range inv.Lines {
		batch.Queue(`INSERT INTO invoice_lines (invoice_id, test_id, description, price) VALUES ($1,$2,$3,$4) RETURNING id`,
			inv.ID, line.TestID, line.Description, line.Price)
	}
	results := r.tx.SendBatch(ctx, batch)
	for i := range inv.Lines {
		if err := results.QueryRow().Scan(&inv.Lines[i].ID); err != nil {
			_ = results.Close()
			return Invoice{}, err
		}
		inv.Lines[i].InvoiceID = inv.ID
	}
	if err := results.Close(); err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

const invoiceColumns = `id, tenant_id, branch_id, number, patient_id, subtotal, discount_amount, total_amount, payment_status, payment_method, paid_at, paid_by, journal_entry_id, created_by, created_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	var method *string
	err := row.Scan(&inv.ID, &inv.TenantID, &inv.BranchID, &inv.Number, &inv.PatientID, &inv.Subtotal, &inv.DiscountAmount, &inv.TotalAmount,
		&inv.PaymentStatus, &method, &inv.PaidAt, &inv.PaidBy, &inv.JournalEntryID, &inv.CreatedBy, &inv.CreatedAt)
	if method != nil {
		m := PaymentMethod(*method)
		inv.PaymentMethod = &m
	}
	return inv, err
}

func (r *txRepository) getInvoice(ctx context.Context, tenantID, id int64, lock bool) (Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE tenant_id=$1 AND id=$2`
	if lock {
		query += ` FOR UPDATE`
	}
	inv, err := scanInvoice(r.tx.QueryRow(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrInvoiceNotFound
		}
		return Invoice{}, err
	}
	rows, err := r.tx.Query(ctx, `SELECT id, invoice_id, test_id, description, price FROM invoice_lines WHERE invoice_id=$1 ORDER BY id`, id)
	if err != nil {
		return Invoice{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line InvoiceLine
		if err := rows.Scan(&line.ID, &line.InvoiceID, &line.TestID, &line.Description, &line.Price); err != nil {
			return Invoice{}, err
		}
		inv.Lines = append(inv.Lines, line)
	}
	return inv, rows.Err()
}

func (r *txRepository) GetInvoice(ctx context.Context, tenantID, id int64) (Invoice, error) {
	return r.getInvoice(ctx, tenantID, id, false)
}

func (r *txRepository) GetInvoiceForUpdate(ctx context.Context, tenantID, id int64) (Invoice, error) {
	return r.getInvoice(ctx, tenantID, id, true)
}

func (r *txRepository) MarkPaid(ctx context.Context, id int64, method PaymentMethod, paidAt time.Time, paidBy int64, journalID *int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE invoices SET payment_status=$2, payment_method=$3, paid_at=$4, paid_by=$5, journal_entry_id=$6
WHERE id=$1 AND payment_status=$7`, id, string(PaymentStatusPaid), string(method), paidAt, paidBy, journalID, string(PaymentStatusUnpaid))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyPaid
	}
	return nil
}

func (r *txRepository) InsertTransaction(ctx context.Context, txn Transaction) (Transaction, error) {
	var method *string
	if txn.PaymentMethod != nil {
		m := string(*txn.PaymentMethod)
		method = &m
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO transactions (tenant_id, branch_id, amount, type, currency, description, invoice_id, payment_method, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id, created_at`,
		txn.TenantID, txn.BranchID, txn.Amount, txn.Type, txn.Currency, txn.Description, txn.InvoiceID, method, txn.CreatedBy,
	).Scan(&txn.ID, &txn.CreatedAt)
	if err != nil {
		return Transaction{}, err
	}
	return txn, nil
}

func (r *txRepository) ListInvoices(ctx context.Context, tenantID int64, filter ListFilter) ([]Invoice, error) {
	var (
		clauses = []string{"tenant_id=$1"}
		args    = []any{tenantID}
	)
	if filter.BranchID > 0 {
		args = append(args, filter.BranchID)
		clauses = append(clauses, fmt.Sprintf("branch_id=$%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("payment_status=$%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s FROM invoices WHERE %s ORDER BY id DESC LIMIT $%d`, invoiceColumns, strings.Join(clauses, " AND "), len(args))
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (r *txRepository) ListTransactions(ctx context.Context, tenantID int64, invoiceID *int64) ([]Transaction, error) {
	query := `SELECT id, tenant_id, branch_id, amount, type, currency, description, invoice_id, payment_method, created_by, created_at
FROM transactions WHERE tenant_id=$1`
	args := []any{tenantID}
	if invoiceID != nil {
		query += ` AND invoice_id=$2`
		args = append(args, *invoiceID)
	}
	query += ` ORDER BY id`
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		var txn Transaction
		var method *string
		if err := rows.Scan(&txn.ID, &txn.TenantID, &txn.BranchID, &txn.Amount, &txn.Type, &txn.Currency, &txn.Description,
			&txn.InvoiceID, &method, &txn.CreatedBy, &txn.CreatedAt); err != nil {
			return nil, err
		}
		if method != nil {
			m := PaymentMethod(*method)
			txn.PaymentMethod = &m
		}
		out = append(out, txn)
	}
	return out, rows.Err()
}
