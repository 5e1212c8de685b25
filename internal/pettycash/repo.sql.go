package pettycash

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/platform/db"
)

// Repository persists funds, movements and reconciliations.
type Repository struct {
	pool *pgxpool.Pool
	iso  pgx.TxIsoLevel
}

// NewRepository constructs Repository using repeatable-read transactions.
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
	InsertFund(ctx context.Context, fund Fund) (Fund, error)
	GetFund(ctx context.Context, tenantID, id int64) (Fund, error)
	GetFundForUpdate(ctx context.Context, tenantID, id int64) (Fund, error)
	ListFunds(ctx context.Context, tenantID, branchID int64) ([]Fund, error)
	UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal) error
	UpdateStatus(ctx context.Context, id int64, status FundStatus) error
	SetReconciled(ctx context.Context, id int64, at time.Time) error
	SumExpenses(ctx context.Context, fundID int64, from, to time.Time) (decimal.Decimal, error)
	InsertTransaction(ctx context.Context, txn Transaction) (Transaction, error)
	ListTransactions(ctx context.Context, tenantID, fundID int64, limit int) ([]Transaction, error)
	InsertReconciliation(ctx context.Context, rec Reconciliation) (Reconciliation, error)
	ListReconciliations(ctx context.Context, tenantID, fundID int64) ([]Reconciliation, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx runs fn inside a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("pettycash repository not initialised")
	}
	return db.RunInTx(ctx, r.pool, r.iso, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const fundColumns = `id, tenant_id, branch_id, name, custodian_id, current_balance, monthly_limit, status, last_reconciled_at, created_at`

func scanFund(row pgx.Row) (Fund, error) {
	var f Fund
	err := row.Scan(&f.ID, &f.TenantID, &f.BranchID, &f.Name, &f.CustodianID, &f.CurrentBalance, &f.MonthlyLimit,
		&f.Status, &f.LastReconciledAt, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Fund{}, ErrFundNotFound
	}
	return f, err
}

func (r *txRepository) InsertFund(ctx context.Context, fund Fund) (Fund, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO petty_cash_funds (tenant_id, branch_id, name, custodian_id, current_balance, monthly_limit, status)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id, created_at`,
		fund.TenantID, fund.BranchID, fund.Name, fund.CustodianID, fund.CurrentBalance, fund.MonthlyLimit, string(fund.Status),
	).Scan(&fund.ID, &fund.CreatedAt)
	if err != nil {
		return Fund{}, err
	}
	return fund, nil
}

func (r *txRepository) GetFund(ctx context.Context, tenantID, id int64) (Fund, error) {
	return scanFund(r.tx.QueryRow(ctx, `SELECT `+fundColumns+` FROM petty_cash_funds WHERE tenant_id=$1 AND id=$2`, tenantID, id))
}

func (r *txRepository) GetFundForUpdate(ctx context.Context, tenantID, id int64) (Fund, error) {
	return scanFund(r.tx.QueryRow(ctx, `SELECT `+fundColumns+` FROM petty_cash_funds WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, id))
}

func (r *txRepository) ListFunds(ctx context.Context, tenantID, branchID int64) ([]Fund, error) {
	query := `SELECT ` + fundColumns + ` FROM petty_cash_funds WHERE tenant_id=$1`
	args := []any{tenantID}
	if branchID > 0 {
		query += ` AND branch_id=$2`
		args = append(args, branchID)
	}
	rows, err := r.tx.Query(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Fund, error) {
		return scanFund(row)
	})
}

func (r *txRepository) UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE petty_cash_funds SET current_balance=$2, updated_at=NOW() WHERE id=$1`, id, balance)
	return err
}

func (r *txRepository) UpdateStatus(ctx context.Context, id int64, status FundStatus) error {
	_, err := r.tx.Exec(ctx, `UPDATE petty_cash_funds SET status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
	return err
}

func (r *txRepository) SetReconciled(ctx context.Context, id int64, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE petty_cash_funds SET last_reconciled_at=$2, updated_at=NOW() WHERE id=$1`, id, at)
	return err
}

func (r *txRepository) SumExpenses(ctx context.Context, fundID int64, from, to time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM petty_cash_transactions
WHERE fund_id=$1 AND type=$2 AND created_at >= $3 AND created_at <= $4`,
		fundID, string(TxExpense), from, to).Scan(&sum)
	return sum, err
}

func (r *txRepository) InsertTransaction(ctx context.Context, txn Transaction) (Transaction, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO petty_cash_transactions (tenant_id, fund_id, type, amount, purpose, category, status, balance_after, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		txn.TenantID, txn.FundID, string(txn.Type), txn.Amount, txn.Purpose, txn.Category, txn.Status, txn.BalanceAfter, txn.CreatedBy, txn.CreatedAt,
	).Scan(&txn.ID)
	if err != nil {
		return Transaction{}, err
	}
	return txn, nil
}

func (r *txRepository) ListTransactions(ctx context.Context, tenantID, fundID int64, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.tx.Query(ctx, `SELECT id, tenant_id, fund_id, type, amount, purpose, category, status, balance_after, created_by, created_at
FROM petty_cash_transactions WHERE tenant_id=$1 AND fund_id=$2 ORDER BY id DESC LIMIT $3`, tenantID, fundID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Transaction, error) {
		var t Transaction
		err := row.Scan(&t.ID, &t.TenantID, &t.FundID, &t.Type, &t.Amount, &t.Purpose, &t.Category, &t.Status, &t.BalanceAfter, &t.CreatedBy, &t.CreatedAt)
		return t, err
	})
}

func (r *txRepository) InsertReconciliation(ctx context.Context, rec Reconciliation) (Reconciliation, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO petty_cash_reconciliations (tenant_id, fund_id, expected_balance, actual_balance, variance, variance_reason, status, reconciled_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		rec.TenantID, rec.FundID, rec.ExpectedBalance, rec.ActualBalance, rec.Variance, rec.VarianceReason, string(rec.Status), rec.ReconciledBy, rec.CreatedAt,
	).Scan(&rec.ID)
	if err != nil {
		return Reconciliation{}, err
	}
	return rec, nil
}

func (r *txRepository) ListReconciliations(ctx context.Context, tenantID, fundID int64) ([]Reconciliation, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, tenant_id, fund_id, expected_balance, actual_balance, variance, variance_reason, status, reconciled_by, created_at
FROM petty_cash_reconciliations WHERE tenant_id=$1 AND fund_id=$2 ORDER BY id DESC`, tenantID, fundID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Reconciliation, error) {
		var rec Reconciliation
		err := row.Scan(&rec.ID, &rec.TenantID, &rec.FundID, &rec.ExpectedBalance, &rec.ActualBalance, &rec.Variance,
			&rec.VarianceReason, &rec.Status, &rec.ReconciledBy, &rec.CreatedAt)
		return rec, err
	})
}
