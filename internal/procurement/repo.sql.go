package procurement

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

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
	iso  pgx.TxIsoLevel
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, iso: pgx.RepeatableRead}
}

// WithIsolation overrides the isolation level.
func (r *Repository) WithIsolation(iso pgx.TxIsoLevel) *Repository {
	r.iso = iso
	return r
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	NextPONumber(ctx context.Context, tenantID int64) (int64, error)
	InsertPO(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error)
	GetPO(ctx context.Context, tenantID, id int64) (PurchaseOrder, error)
	GetPOForUpdate(ctx context.Context, tenantID, id int64) (PurchaseOrder, error)
	UpdatePO(ctx context.Context, po PurchaseOrder) error
	ListPOs(ctx context.Context, tenantID int64, filter ListFilter) ([]PurchaseOrder, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("procurement repository not initialised")
	}
	return db.RunInTx(ctx, r.pool, r.iso, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

func (r *txRepo) NextPONumber(ctx context.Context, tenantID int64) (int64, error) {
	return db.NextSequence(ctx, r.tx, tenantID, db.SeqPurchaseOrder)
}

func (r *txRepo) InsertPO(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_orders (tenant_id, branch_id, number, vendor_id, requested_by, total_amount, status, priority, required_approval_level, notes)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id, created_at, updated_at`,
		po.TenantID, po.BranchID, po.Number, po.VendorID, po.RequestedBy, po.TotalAmount, string(po.Status), string(po.Priority), po.RequiredApprovalLevel, po.Notes,
	).Scan(&po.ID, &po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		return PurchaseOrder{}, err
	}
	batch := &pgx.Batch{}
	for _, line := range po.Lines {
		batch.Queue(`INSERT INTO purchase_order_lines (po_id, item_id, description, quantity, unit_price, line_total) VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
			po.ID, line.ItemID, line.Description, line.Quantity, line.UnitPrice, line.LineTotal)
	}
	results := r.tx.SendBatch(ctx, batch)
	for i := range po.Lines {
		if err := results.QueryRow().Scan(&po.Lines[i].ID); err != nil {
			_ = results.Close()
			return PurchaseOrder{}, err
		}
		po.Lines[i].POID = po.ID
	}
	if err := results.Close(); err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

const poColumns = `id, tenant_id, branch_id, number, vendor_id, requested_by, total_amount, status, priority, required_approval_level,
current_approver, approved_by, approved_at, rejection_reason, notes, created_at, updated_at`

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := row.Scan(&po.ID, &po.TenantID, &po.BranchID, &po.Number, &po.VendorID, &po.RequestedBy, &po.TotalAmount, &po.Status, &po.Priority,
		&po.RequiredApprovalLevel, &po.CurrentApprover, &po.ApprovedBy, &po.ApprovedAt, &po.RejectionReason, &po.Notes, &po.CreatedAt, &po.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, ErrPONotFound
	}
	return po, err
}

func (r *txRepo) getPO(ctx context.Context, tenantID, id int64, lock bool) (PurchaseOrder, error) {
	query := `SELECT ` + poColumns + ` FROM purchase_orders WHERE tenant_id=$1 AND id=$2`
	if lock {
		query += ` FOR UPDATE`
	}
	po, err := scanPO(r.tx.QueryRow(ctx, query, tenantID, id))
	if err != nil {
		return PurchaseOrder{}, err
	}
	rows, err := r.tx.Query(ctx, `SELECT id, po_id, item_id, description, quantity, unit_price, line_total FROM purchase_order_lines WHERE po_id=$1 ORDER BY id`, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.Lines, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (POLine, error) {
		var l POLine
		err := row.Scan(&l.ID, &l.POID, &l.ItemID, &l.Description, &l.Quantity, &l.UnitPrice, &l.LineTotal)
		return l, err
	})
	return po, err
}

func (r *txRepo) GetPO(ctx context.Context, tenantID, id int64) (PurchaseOrder, error) {
	return r.getPO(ctx, tenantID, id, false)
}

func (r *txRepo) GetPOForUpdate(ctx context.Context, tenantID, id int64) (PurchaseOrder, error) {
	return r.getPO(ctx, tenantID, id, true)
}

func (r *txRepo) UpdatePO(ctx context.Context, po PurchaseOrder) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET status=$3, required_approval_level=$4, current_approver=$5, approved_by=$6,
approved_at=$7, rejection_reason=$8, updated_at=$9 WHERE tenant_id=$1 AND id=$2`,
		po.TenantID, po.ID, string(po.Status), po.RequiredApprovalLevel, po.CurrentApprover, po.ApprovedBy, po.ApprovedAt, po.RejectionReason, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPONotFound
	}
	return nil
}

func (r *txRepo) ListPOs(ctx context.Context, tenantID int64, filter ListFilter) ([]PurchaseOrder, error) {
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
		clauses = append(clauses, fmt.Sprintf("status=$%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s FROM purchase_orders WHERE %s ORDER BY id DESC LIMIT $%d`, poColumns, strings.Join(clauses, " AND "), len(args))
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (PurchaseOrder, error) {
		return scanPO(row)
	})
}
