package accounting

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/shared"
)

type memoryState struct {
	accounts  map[int64]Account
	entries   map[int64]JournalEntry
	lines     map[int64][]JournalLine
	balances  map[int64][2]decimal.Decimal
	links     map[string]int64
	sequences map[int64]int64
	nextID    int64
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		accounts:  make(map[int64]Account, len(s.accounts)),
		entries:   make(map[int64]JournalEntry, len(s.entries)),
		lines:     make(map[int64][]JournalLine, len(s.lines)),
		balances:  make(map[int64][2]decimal.Decimal, len(s.balances)),
		links:     make(map[string]int64, len(s.links)),
		sequences: make(map[int64]int64, len(s.sequences)),
		nextID:    s.nextID,
	}
	for k, v := range s.accounts {
		out.accounts[k] = v
	}
	for k, v := range s.entries {
		out.entries[k] = v
	}
	for k, v := range s.lines {
		out.lines[k] = append([]JournalLine(nil), v...)
	}
	for k, v := range s.balances {
		out.balances[k] = v
	}
	for k, v := range s.links {
		out.links[k] = v
	}
	for k, v := range s.sequences {
		out.sequences[k] = v
	}
	return out
}

// memoryRepo serialises transactions and discards their writes on error.
type memoryRepo struct {
	mu    sync.Mutex
	state memoryState
}

type memoryTx struct {
	state *memoryState
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: memoryState{}.clone()}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	working := r.state.clone()
	if err := fn(ctx, &memoryTx{state: &working}); err != nil {
		return err
	}
	r.state = working
	return nil
}

// corrupt overwrites the materialized projection without touching lines.
func (r *memoryRepo) corrupt(accountID int64, debit, credit decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.balances[accountID] = [2]decimal.Decimal{debit, credit}
}

func (tx *memoryTx) id() int64 {
	tx.state.nextID++
	return tx.state.nextID
}

func (tx *memoryTx) ListTenantIDs(ctx context.Context) ([]int64, error) {
	seen := map[int64]struct{}{}
	var ids []int64
	for _, a := range tx.state.accounts {
		if _, ok := seen[a.TenantID]; !ok {
			seen[a.TenantID] = struct{}{}
			ids = append(ids, a.TenantID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (tx *memoryTx) InsertAccount(ctx context.Context, account Account) (Account, error) {
	for _, a := range tx.state.accounts {
		if a.TenantID == account.TenantID && a.Code == account.Code {
			return Account{}, ErrDuplicateCode
		}
	}
	account.ID = tx.id()
	account.CreatedAt = time.Now()
	account.UpdatedAt = account.CreatedAt
	tx.state.accounts[account.ID] = account
	return account, nil
}

func (tx *memoryTx) GetAccountByCode(ctx context.Context, tenantID int64, code string) (Account, error) {
	for _, a := range tx.state.accounts {
		if a.TenantID == tenantID && a.Code == code {
			return a, nil
		}
	}
	return Account{}, ErrAccountNotFound
}

func (tx *memoryTx) GetAccountByID(ctx context.Context, tenantID, accountID int64) (Account, error) {
	a, ok := tx.state.accounts[accountID]
	if !ok || a.TenantID != tenantID {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}

func (tx *memoryTx) GetAccountsByIDs(ctx context.Context, tenantID int64, ids []int64) (map[int64]Account, error) {
	out := make(map[int64]Account)
	for _, id := range ids {
		if a, ok := tx.state.accounts[id]; ok && a.TenantID == tenantID {
			out[id] = a
		}
	}
	return out, nil
}

func (tx *memoryTx) ListAccounts(ctx context.Context, tenantID int64, filter AccountFilter) ([]Account, error) {
	var out []Account
	for _, a := range tx.state.accounts {
		if a.TenantID != tenantID {
			continue
		}
		if filter.Type != "" && a.Type != filter.Type {
			continue
		}
		if filter.ActiveOnly && !a.IsActive {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (tx *memoryTx) SetAccountActive(ctx context.Context, tenantID int64, code string, active bool) (Account, error) {
	a, err := tx.GetAccountByCode(ctx, tenantID, code)
	if err != nil {
		return Account{}, err
	}
	a.IsActive = active
	tx.state.accounts[a.ID] = a
	return a, nil
}

func (tx *memoryTx) NextEntryNumber(ctx context.Context, tenantID int64) (int64, error) {
	tx.state.sequences[tenantID]++
	return tx.state.sequences[tenantID], nil
}

func (tx *memoryTx) InsertJournalEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error) {
	entry.ID = tx.id()
	entry.PostedAt = time.Now()
	tx.state.entries[entry.ID] = entry
	return entry, nil
}

func (tx *memoryTx) InsertJournalLines(ctx context.Context, entryID int64, lines []JournalLine) error {
	for _, l := range lines {
		l.ID = tx.id()
		l.EntryID = entryID
		tx.state.lines[entryID] = append(tx.state.lines[entryID], l)
	}
	return nil
}

func (tx *memoryTx) ApplyBalanceDeltas(ctx context.Context, tenantID int64, lines []JournalLine) error {
	for _, l := range lines {
		cur, ok := tx.state.balances[l.AccountID]
		if !ok {
			cur = [2]decimal.Decimal{decimal.Zero, decimal.Zero}
		}
		tx.state.balances[l.AccountID] = [2]decimal.Decimal{cur[0].Add(l.Debit), cur[1].Add(l.Credit)}
	}
	return nil
}

func (tx *memoryTx) LinkSource(ctx context.Context, tenantID int64, module string, ref uuid.UUID, entryID int64) error {
	k := module + ":" + ref.String()
	if _, ok := tx.state.links[k]; ok {
		return ErrSourceConflict
	}
	tx.state.links[k] = entryID
	return nil
}

func (tx *memoryTx) GetJournal(ctx context.Context, tenantID, entryID int64) (JournalEntry, error) {
	e, ok := tx.state.entries[entryID]
	if !ok || e.TenantID != tenantID {
		return JournalEntry{}, ErrJournalNotFound
	}
	e.Lines = append([]JournalLine(nil), tx.state.lines[entryID]...)
	return e, nil
}

func (tx *memoryTx) GetJournalForUpdate(ctx context.Context, tenantID, entryID int64) (JournalEntry, error) {
	return tx.GetJournal(ctx, tenantID, entryID)
}

func (tx *memoryTx) MarkReversed(ctx context.Context, entryID, reversedByID int64) error {
	e := tx.state.entries[entryID]
	if e.Status != JournalStatusPosted {
		return ErrAlreadyReversed
	}
	e.Status = JournalStatusReversed
	e.ReversedByID = &reversedByID
	tx.state.entries[entryID] = e
	return nil
}

func (tx *memoryTx) ListJournalEntries(ctx context.Context, tenantID int64, filter JournalFilter) ([]JournalEntry, error) {
	var out []JournalEntry
	for _, e := range tx.state.entries {
		if e.TenantID != tenantID {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (tx *memoryTx) ListPostedLines(ctx context.Context, tenantID, accountID int64, asOf time.Time) ([]PostedLine, error) {
	var out []PostedLine
	for id, e := range tx.state.entries {
		if e.TenantID != tenantID || e.Date.After(asOf) {
			continue
		}
		if e.Status != JournalStatusPosted && e.Status != JournalStatusReversed {
			continue
		}
		for _, l := range tx.state.lines[id] {
			if l.AccountID == accountID {
				out = append(out, PostedLine{EntryNumber: e.Number, Date: e.Date, Debit: l.Debit, Credit: l.Credit})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryNumber < out[j].EntryNumber })
	return out, nil
}

func (tx *memoryTx) GetMaterializedBalance(ctx context.Context, tenantID, accountID int64) (decimal.Decimal, decimal.Decimal, error) {
	b, ok := tx.state.balances[accountID]
	if !ok {
		return decimal.Zero, decimal.Zero, nil
	}
	return b[0], b[1], nil
}

type memoryAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *memoryAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *memoryAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}
