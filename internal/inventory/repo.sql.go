package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/platform/db"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/shared"
)

// Repository persists inventory data in PostgreSQL.
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

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	ListTenantIDs(ctx context.Context) ([]int64, error)
	InsertItem(ctx context.Context, item Item) (Item, error)
	GetItem(ctx context.Context, tenantID, itemID int64) (Item, error)
	ListItems(ctx context.Context, tenantID int64, activeOnly bool) ([]Item, error)
	LockStock(ctx context.Context, tenantID, itemID, branchID int64) (decimal.Decimal, decimal.Decimal, error)
	SetStock(ctx context.Context, tenantID, itemID, branchID int64, qty, avgCost decimal.Decimal) error
	GetStock(ctx context.Context, tenantID, itemID, branchID int64) (decimal.Decimal, decimal.Decimal, time.Time, error)
	ListBranchStock(ctx context.Context, tenantID, branchID int64) ([]StockLevel, error)
	ListStockKeys(ctx context.Context, tenantID int64) ([]StockKey, error)
	InsertTransaction(ctx context.Context, txn Transaction) (Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
	SumTransactions(ctx context.Context, tenantID, itemID, branchID int64) (decimal.Decimal, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside the ambient transaction or a new one.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.RunInTx(ctx, r.pool, r.iso, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *txRepository) ListTenantIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.tx.Query(ctx, `SELECT DISTINCT tenant_id FROM inventory_items ORDER BY tenant_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

const itemColumns = `id, tenant_id, code, name, unit_of_measure, reorder_level, minimum_stock, maximum_stock, unit_cost, is_active, created_at`

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.TenantID, &it.Code, &it.Name, &it.UnitOfMeasure, &it.ReorderLevel, &it.MinimumStock, &it.MaximumStock, &it.UnitCost, &it.IsActive, &it.CreatedAt)
	return it, err
}

func (r *txRepository) InsertItem(ctx context.Context, item Item) (Item, error) {
	created, err := scanItem(r.tx.QueryRow(ctx, `INSERT INTO inventory_items (tenant_id, code, name, unit_of_measure, reorder_level, minimum_stock, maximum_stock, unit_cost, is_active)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,TRUE) RETURNING `+itemColumns,
		item.TenantID, item.Code, item.Name, item.UnitOfMeasure, item.ReorderLevel, item.MinimumStock, item.MaximumStock, item.UnitCost))
	if err != nil {
		if shared.IsUniqueViolation(err, "uq_inventory_items_tenant_code") {
			return Item{}, ErrDuplicateCode
		}
		return Item{}, err
	}
	return created, nil
}

func (r *txRepository) GetItem(ctx context.Context, tenantID, itemID int64) (Item, error) {
	it, err := scanItem(r.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE tenant_id=$1 AND id=$2`, tenantID, itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}
	return it, err
}

func (r *txRepository) ListItems(ctx context.Context, tenantID int64, activeOnly bool) ([]Item, error) {
	query := `SELECT ` + itemColumns + ` FROM inventory_items WHERE tenant_id=$1`
	if activeOnly {
		query += ` AND is_active`
	}
	rows, err := r.tx.Query(ctx, query+` ORDER BY code`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// LockStock creates the stock row when missing and locks it until the
// transaction ends, serialising movements per item and branch.
func (r *txRepository) LockStock(ctx context.Context, tenantID, itemID, branchID int64) (decimal.Decimal, decimal.Decimal, error) {
	if _, err := r.tx.Exec(ctx, `INSERT INTO stock_levels (tenant_id, item_id, branch_id, quantity, avg_cost, updated_at)
VALUES ($1,$2,$3,0,0,NOW()) ON CONFLICT (item_id, branch_id) DO NOTHING`, tenantID, itemID, branchID); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	var qty, avg decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT quantity, avg_cost FROM stock_levels WHERE item_id=$1 AND branch_id=$2 FOR UPDATE`, itemID, branchID).Scan(&qty, &avg)
	return qty, avg, err
}

func (r *txRepository) SetStock(ctx context.Context, tenantID, itemID, branchID int64, qty, avgCost decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_levels (tenant_id, item_id, branch_id, quantity, avg_cost, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW())
ON CONFLICT (item_id, branch_id) DO UPDATE SET quantity=EXCLUDED.quantity, avg_cost=EXCLUDED.avg_cost, updated_at=NOW()`, tenantID, itemID, branchID, qty, avgCost)
	return err
}

func (r *txRepository) GetStock(ctx context.Context, tenantID, itemID, branchID int64) (decimal.Decimal, decimal.Decimal, time.Time, error) {
	var qty, avg decimal.Decimal
	var updated time.Time
	err := r.tx.QueryRow(ctx, `SELECT quantity, avg_cost, updated_at FROM stock_levels WHERE tenant_id=$1 AND item_id=$2 AND branch_id=$3`, tenantID, itemID, branchID).
		Scan(&qty, &avg, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, decimal.Zero, time.Time{}, nil
	}
	return qty, avg, updated, err
}

// ListBranchStock returns every active item with its stock in branchID; items
// never stocked there report zero.
func (r *txRepository) ListBranchStock(ctx context.Context, tenantID, branchID int64) ([]StockLevel, error) {
	rows, err := r.tx.Query(ctx, `SELECT i.id, i.tenant_id, i.code, i.name, i.unit_of_measure, i.reorder_level, i.minimum_stock, i.maximum_stock, i.unit_cost, i.is_active, i.created_at,
COALESCE(s.quantity, 0), COALESCE(s.avg_cost, 0), COALESCE(s.updated_at, i.created_at)
FROM inventory_items i
LEFT JOIN stock_levels s ON s.item_id = i.id AND s.branch_id = $2
WHERE i.tenant_id = $1 AND i.is_active
ORDER BY i.code`, tenantID, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StockLevel
	for rows.Next() {
		var it Item
		var qty, avg decimal.Decimal
		var updated time.Time
		if err := rows.Scan(&it.ID, &it.TenantID, &it.Code, &it.Name, &it.UnitOfMeasure, &it.ReorderLevel, &it.MinimumStock, &it.MaximumStock, &it.UnitCost, &it.IsActive, &it.CreatedAt,
			&qty, &avg, &updated); err != nil {
			return nil, err
		}
		out = append(out, NewStockLevel(it, branchID, qty, avg, updated))
	}
	return out, rows.Err()
}

func (r *txRepository) ListStockKeys(ctx context.Context, tenantID int64) ([]StockKey, error) {
	rows, err := r.tx.Query(ctx, `SELECT DISTINCT tenant_id, item_id, branch_id FROM inventory_transactions WHERE tenant_id=$1
UNION SELECT tenant_id, item_id, branch_id FROM stock_levels WHERE tenant_id=$1
ORDER BY 2, 3`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []StockKey
	for rows.Next() {
		var k StockKey
		if err := rows.Scan(&k.TenantID, &k.ItemID, &k.BranchID); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (r *txRepository) InsertTransaction(ctx context.Context, txn Transaction) (Transaction, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_transactions (tenant_id, item_id, branch_id, type, quantity, unit_cost, reason, ref_module, ref_id, performed_by, balance_after)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id, created_at`,
		txn.TenantID, txn.ItemID, txn.BranchID, string(txn.Type), txn.Quantity, txn.UnitCost, txn.Reason, txn.RefModule, txn.RefID, nullInt(txn.PerformedBy), txn.BalanceAfter,
	).Scan(&txn.ID, &txn.CreatedAt)
	if err != nil {
		return Transaction{}, err
	}
	return txn, nil
}

func (r *txRepository) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	var (
		clauses = []string{"tenant_id=$1"}
		args    = []any{filter.TenantID}
	)
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.ItemID > 0 {
		add("item_id=$%d", filter.ItemID)
	}
	if filter.BranchID > 0 {
		add("branch_id=$%d", filter.BranchID)
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at <= $%d", filter.To)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT id, tenant_id, item_id, branch_id, type, quantity, unit_cost, reason, ref_module, ref_id, COALESCE(performed_by, 0), balance_after, created_at
FROM inventory_transactions WHERE %s ORDER BY id ASC LIMIT $%d`, strings.Join(clauses, " AND "), len(args))
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.TenantID, &t.ItemID, &t.BranchID, &t.Type, &t.Quantity, &t.UnitCost, &t.Reason, &t.RefModule, &t.RefID, &t.PerformedBy, &t.BalanceAfter, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *txRepository) SumTransactions(ctx context.Context, tenantID, itemID, branchID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM inventory_transactions WHERE tenant_id=$1 AND item_id=$2 AND branch_id=$3`,
		tenantID, itemID, branchID).Scan(&sum)
	return sum, err
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
