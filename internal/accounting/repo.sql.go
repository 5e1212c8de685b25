package accounting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/platform/db"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/shared"
)

// Repository persists accounting entities.
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
	ListTenantIDs(ctx context.Context) ([]int64, error)
	InsertAccount(ctx context.Context, account Account) (Account, error)
	GetAccountByCode(ctx context.Context, tenantID int64, code string) (Account, error)
	GetAccountByID(ctx context.Context, tenantID, accountID int64) (Account, error)
	GetAccountsByIDs(ctx context.Context, tenantID int64, ids []int64) (map[int64]Account, error)
	ListAccounts(ctx context.Context, tenantID int64, filter AccountFilter) ([]Account, error)
	SetAccountActive(ctx context.Context, tenantID int64, code string, active bool) (Account, error)
	NextEntryNumber(ctx context.Context, tenantID int64) (int64, error)
	InsertJournalEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error)
	InsertJournalLines(ctx context.Context, entryID int64, lines []JournalLine) error
	ApplyBalanceDeltas(ctx context.Context, tenantID int64, lines []JournalLine) error
	LinkSource(ctx context.Context, tenantID int64, module string, ref uuid.UUID, entryID int64) error
	GetJournal(ctx context.Context, tenantID, entryID int64) (JournalEntry, error)
	GetJournalForUpdate(ctx context.Context, tenantID, entryID int64) (JournalEntry, error)
	MarkReversed(ctx context.Context, entryID, reversedByID int64) error
	ListJournalEntries(ctx context.Context, tenantID int64, filter JournalFilter) ([]JournalEntry, error)
	ListPostedLines(ctx context.Context, tenantID, accountID int64, asOf time.Time) ([]PostedLine, error)
	GetMaterializedBalance(ctx context.Context, tenantID, accountID int64) (decimal.Decimal, decimal.Decimal, error)
}

type txRepository struct {
	tx pgx.Tx
}

// ErrSourceConflict indicates the source link already exists.
var ErrSourceConflict = errors.New("accounting: source link conflict")

// WithTx executes fn within the ambient transaction or a new one.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("accounting repository not initialised")
	}
	return db.RunInTx(ctx, r.pool, r.iso, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const accountColumns = `id, tenant_id, code, name, type, subtype, is_active, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.TenantID, &a.Code, &a.Name, &a.Type, &a.Subtype, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (r *txRepository) ListTenantIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.tx.Query(ctx, `SELECT DISTINCT tenant_id FROM accounts ORDER BY tenant_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *txRepository) InsertAccount(ctx context.Context, account Account) (Account, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO accounts (tenant_id, code, name, type, subtype, is_active)
VALUES ($1,$2,$3,$4,$5,TRUE) RETURNING `+accountColumns, account.TenantID, account.Code, account.Name, string(account.Type), account.Subtype)
	created, err := scanAccount(row)
	if err != nil {
		if shared.IsUniqueViolation(err, "uq_accounts_tenant_code") {
			return Account{}, ErrDuplicateCode
		}
		return Account{}, err
	}
	return created, nil
}

func (r *txRepository) GetAccountByCode(ctx context.Context, tenantID int64, code string) (Account, error) {
	a, err := scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE tenant_id=$1 AND code=$2`, tenantID, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	return a, err
}

func (r *txRepository) GetAccountByID(ctx context.Context, tenantID, accountID int64) (Account, error) {
	a, err := scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE tenant_id=$1 AND id=$2`, tenantID, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	return a, err
}

func (r *txRepository) GetAccountsByIDs(ctx context.Context, tenantID int64, ids []int64) (map[int64]Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE tenant_id=$1 AND id = ANY($2)`, tenantID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]Account, len(ids))
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out[a.ID] = a
	}
	return out, rows.Err()
}

func (r *txRepository) ListAccounts(ctx context.Context, tenantID int64, filter AccountFilter) ([]Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE tenant_id=$1`
	args := []any{tenantID}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		query += fmt.Sprintf(" AND type=$%d", len(args))
	}
	if filter.ActiveOnly {
		query += " AND is_active"
	}
	query += " ORDER BY code"
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *txRepository) SetAccountActive(ctx context.Context, tenantID int64, code string, active bool) (Account, error) {
	a, err := scanAccount(r.tx.QueryRow(ctx, `UPDATE accounts SET is_active=$3, updated_at=NOW()
WHERE tenant_id=$1 AND code=$2 RETURNING `+accountColumns, tenantID, code, active))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	return a, err
}

func (r *txRepository) NextEntryNumber(ctx context.Context, tenantID int64) (int64, error) {
	return db.NextSequence(ctx, r.tx, tenantID, db.SeqJournalEntry)
}

func (r *txRepository) InsertJournalEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (tenant_id, number, date, description, source_module, source_id, status, reversal_of_id, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id, posted_at`,
		entry.TenantID, entry.Number, entry.Date, entry.Description, entry.SourceModule, entry.SourceID, string(entry.Status), entry.ReversalOfID, nullInt(entry.CreatedBy))
	if err := row.Scan(&entry.ID, &entry.PostedAt); err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

func (r *txRepository) InsertJournalLines(ctx context.Context, entryID int64, lines []JournalLine) error {
	batch := &pgx.Batch{}
	for _, line := range lines {
		batch.Queue(`INSERT INTO journal_lines (entry_id, account_id, debit, credit, memo) VALUES ($1,$2,$3,$4,$5)`,
			entryID, line.AccountID, line.Debit, line.Credit, line.Memo)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

func (r *txRepository) ApplyBalanceDeltas(ctx context.Context, tenantID int64, lines []JournalLine) error {
	type delta struct{ debit, credit decimal.Decimal }
	deltas := make(map[int64]delta)
	order := make([]int64, 0, len(lines))
	for _, line := range lines {
		d, ok := deltas[line.AccountID]
		if !ok {
			order = append(order, line.AccountID)
		}
		d.debit = d.debit.Add(line.Debit)
		d.credit = d.credit.Add(line.Credit)
		deltas[line.AccountID] = d
	}
	for _, accountID := range order {
		d := deltas[accountID]
		if _, err := r.tx.Exec(ctx, `INSERT INTO account_balances (tenant_id, account_id, debit_total, credit_total, updated_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (account_id) DO UPDATE SET debit_total = account_balances.debit_total + EXCLUDED.debit_total,
credit_total = account_balances.credit_total + EXCLUDED.credit_total, updated_at = NOW()`, tenantID, accountID, d.debit, d.credit); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) LinkSource(ctx context.Context, tenantID int64, module string, ref uuid.UUID, entryID int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO source_links (tenant_id, module, ref_id, entry_id) VALUES ($1,$2,$3,$4)`, tenantID, module, ref, entryID)
	if err != nil {
		if shared.IsUniqueViolation(err, "uq_source_links") {
			return ErrSourceConflict
		}
		return err
	}
	return nil
}

const journalColumns = `id, tenant_id, number, date, description, source_module, source_id, status, reversal_of_id, reversed_by_id, COALESCE(created_by, 0), posted_at`

func scanJournal(row pgx.Row) (JournalEntry, error) {
	var e JournalEntry
	err := row.Scan(&e.ID, &e.TenantID, &e.Number, &e.Date, &e.Description, &e.SourceModule, &e.SourceID, &e.Status, &e.ReversalOfID, &e.ReversedByID, &e.CreatedBy, &e.PostedAt)
	return e, err
}

func (r *txRepository) getJournal(ctx context.Context, tenantID, entryID int64, lock bool) (JournalEntry, error) {
	query := `SELECT ` + journalColumns + ` FROM journal_entries WHERE tenant_id=$1 AND id=$2`
	if lock {
		query += " FOR UPDATE"
	}
	entry, err := scanJournal(r.tx.QueryRow(ctx, query, tenantID, entryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrJournalNotFound
		}
		return JournalEntry{}, err
	}
	rows, err := r.tx.Query(ctx, `SELECT id, entry_id, account_id, debit, credit, memo FROM journal_lines WHERE entry_id=$1 ORDER BY id ASC`, entryID)
	if err != nil {
		return JournalEntry{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line JournalLine
		if err := rows.Scan(&line.ID, &line.EntryID, &line.AccountID, &line.Debit, &line.Credit, &line.Memo); err != nil {
			return JournalEntry{}, err
		}
		entry.Lines = append(entry.Lines, line)
	}
	return entry, rows.Err()
}

func (r *txRepository) GetJournal(ctx context.Context, tenantID, entryID int64) (JournalEntry, error) {
	return r.getJournal(ctx, tenantID, entryID, false)
}

func (r *txRepository) GetJournalForUpdate(ctx context.Context, tenantID, entryID int64) (JournalEntry, error) {
	return r.getJournal(ctx, tenantID, entryID, true)
}

func (r *txRepository) MarkReversed(ctx context.Context, entryID, reversedByID int64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status='REVERSED', reversed_by_id=$2 WHERE id=$1 AND status='POSTED'`, entryID, reversedByID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAlreadyReversed
	}
	return nil
}

func (r *txRepository) ListJournalEntries(ctx context.Context, tenantID int64, filter JournalFilter) ([]JournalEntry, error) {
	var where []string
	args := []any{tenantID}
	where = append(where, "tenant_id=$1")
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where = append(where, fmt.Sprintf("date >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where = append(where, fmt.Sprintf("date <= $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s FROM journal_entries WHERE %s ORDER BY number DESC LIMIT $%d`, journalColumns, strings.Join(where, " AND "), len(args))
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []JournalEntry
	for rows.Next() {
		e, err := scanJournal(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *txRepository) ListPostedLines(ctx context.Context, tenantID, accountID int64, asOf time.Time) ([]PostedLine, error) {
	rows, err := r.tx.Query(ctx, `SELECT je.number, je.date, jl.debit, jl.credit
FROM journal_lines jl
JOIN journal_entries je ON je.id = jl.entry_id
WHERE je.tenant_id=$1 AND jl.account_id=$2 AND je.status IN ('POSTED','REVERSED') AND je.date <= $3
ORDER BY je.number ASC, jl.id ASC`, tenantID, accountID, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []PostedLine
	for rows.Next() {
		var l PostedLine
		if err := rows.Scan(&l.EntryNumber, &l.Date, &l.Debit, &l.Credit); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *txRepository) GetMaterializedBalance(ctx context.Context, tenantID, accountID int64) (decimal.Decimal, decimal.Decimal, error) {
	var debit, credit decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT debit_total, credit_total FROM account_balances WHERE tenant_id=$1 AND account_id=$2`, tenantID, accountID).Scan(&debit, &credit)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, decimal.Zero, nil
	}
	return debit, credit, err
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}
