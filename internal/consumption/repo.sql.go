package consumption

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/platform/db"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/shared"
)

// Repository persists templates and consumption records.
type Repository struct {
	pool *pgxpool.Pool
	iso  pgx.TxIsoLevel
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, iso: pgx.ReadCommitted}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	InsertTemplate(ctx context.Context, tpl Template) (Template, error)
	ListTemplates(ctx context.Context, tenantID, testID int64) ([]Template, error)
	CountRecords(ctx context.Context, tenantID, patientTestID int64) (int, error)
	InsertRecord(ctx context.Context, rec Record) (Record, error)
	ListRecords(ctx context.Context, tenantID, patientTestID int64) ([]Record, error)
	ListFailures(ctx context.Context, tenantID, branchID int64) ([]Record, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx runs fn in a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("consumption repository not initialised")
	}
	return db.RunInTx(ctx, r.pool, r.iso, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *txRepository) InsertTemplate(ctx context.Context, tpl Template) (Template, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO consumption_templates (tenant_id, test_id, item_id, standard_quantity, consumption_type, is_critical)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id, created_at`,
		tpl.TenantID, tpl.TestID, tpl.ItemID, tpl.StandardQuantity, tpl.ConsumptionType, tpl.IsCritical,
	).Scan(&tpl.ID, &tpl.CreatedAt)
	if err != nil {
		if shared.IsUniqueViolation(err, "uq_consumption_templates_test_item") {
			return Template{}, ErrTemplateExists
		}
		return Template{}, err
	}
	return tpl, nil
}

func (r *txRepository) ListTemplates(ctx context.Context, tenantID, testID int64) ([]Template, error) {
	query := `SELECT id, tenant_id, test_id, item_id, standard_quantity, consumption_type, is_critical, created_at
FROM consumption_templates WHERE tenant_id=$1`
	args := []any{tenantID}
	if testID > 0 {
		query += ` AND test_id=$2`
		args = append(args, testID)
	}
	query += ` ORDER BY test_id, item_id`
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Template, error) {
		var t Template
		err := row.Scan(&t.ID, &t.TenantID, &t.TestID, &t.ItemID, &t.StandardQuantity, &t.ConsumptionType, &t.IsCritical, &t.CreatedAt)
		return t, err
	})
}

func (r *txRepository) CountRecords(ctx context.Context, tenantID, patientTestID int64) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM consumption_records WHERE tenant_id=$1 AND patient_test_id=$2`,
		tenantID, patientTestID).Scan(&n)
	return n, err
}

func (r *txRepository) InsertRecord(ctx context.Context, rec Record) (Record, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO consumption_records (tenant_id, patient_test_id, test_id, item_id, branch_id, quantity, status, error, is_critical, inventory_tx_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id, created_at`,
		rec.TenantID, rec.PatientTestID, rec.TestID, rec.ItemID, rec.BranchID, rec.Quantity, string(rec.Status), rec.Error, rec.IsCritical, rec.InventoryTxID,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

const recordColumns = `id, tenant_id, patient_test_id, test_id, item_id, branch_id, quantity, status, error, is_critical, inventory_tx_id, created_at`

func collectRecords(rows pgx.Rows) ([]Record, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var rec Record
		err := row.Scan(&rec.ID, &rec.TenantID, &rec.PatientTestID, &rec.TestID, &rec.ItemID, &rec.BranchID, &rec.Quantity,
			&rec.Status, &rec.Error, &rec.IsCritical, &rec.InventoryTxID, &rec.CreatedAt)
		return rec, err
	})
}

func (r *txRepository) ListRecords(ctx context.Context, tenantID, patientTestID int64) ([]Record, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+recordColumns+` FROM consumption_records WHERE tenant_id=$1 AND patient_test_id=$2 ORDER BY id`,
		tenantID, patientTestID)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func (r *txRepository) ListFailures(ctx context.Context, tenantID, branchID int64) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM consumption_records WHERE tenant_id=$1 AND status=$2`
	args := []any{tenantID, string(RecordFailed)}
	if branchID > 0 {
		query += ` AND branch_id=$3`
		args = append(args, branchID)
	}
	query += ` ORDER BY id DESC LIMIT 500`
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}
