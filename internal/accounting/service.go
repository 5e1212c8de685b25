package accounting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/platform/db"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort receives ledger counters.
type MetricsPort interface {
	JournalPosted(sourceModule string)
}

// Service is the ledger store and the journal engine. It is the only writer
// of ledger state; balances are never mutated directly.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	cache   *BalanceCache
	metrics MetricsPort
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, audit AuditPort, cache *BalanceCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, cache: cache, logger: logger, now: time.Now}
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

// CreateAccount adds a chart of accounts entry.
func (s *Service) CreateAccount(ctx context.Context, input CreateAccountInput) (Account, error) {
	input.Code = strings.TrimSpace(input.Code)
	input.Name = strings.TrimSpace(input.Name)
	if err := shared.ValidateStruct(input); err != nil {
		return Account{}, err
	}
	var created Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.InsertAccount(ctx, Account{
			TenantID: input.TenantID,
			Code:     input.Code,
			Name:     input.Name,
			Type:     input.Type,
			Subtype:  input.Subtype,
			IsActive: true,
		})
		return err
	})
	if err != nil {
		return Account{}, err
	}
	s.recordAudit(ctx, input.TenantID, 0, "account.create", "account", created.ID, map[string]any{"code": created.Code, "type": string(created.Type)})
	return created, nil
}

// GetAccount resolves an account by code.
func (s *Service) GetAccount(ctx context.Context, tenantID int64, code string) (Account, error) {
	var account Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		account, err = tx.GetAccountByCode(ctx, tenantID, code)
		return err
	})
	return account, err
}

// ListAccounts retrieves chart of accounts entries.
func (s *Service) ListAccounts(ctx context.Context, tenantID int64, filter AccountFilter) ([]Account, error) {
	var accounts []Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		accounts, err = tx.ListAccounts(ctx, tenantID, filter)
		return err
	})
	return accounts, err
}

// SetAccountActive activates or deactivates an account. Inactive accounts
// keep their history but refuse new postings.
func (s *Service) SetAccountActive(ctx context.Context, tenantID int64, code string, active bool, actorID int64) (Account, error) {
	var account Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		account, err = tx.SetAccountActive(ctx, tenantID, code, active)
		return err
	})
	if err != nil {
		return Account{}, err
	}
	s.recordAudit(ctx, tenantID, actorID, "account.set_active", "account", account.ID, map[string]any{"active": active})
	return account, nil
}

// PostEntry validates and persists a new journal entry. When ctx carries a
// transaction the entry joins it and commits with the caller.
func (s *Service) PostEntry(ctx context.Context, input PostingInput) (JournalEntry, error) {
	if input.Date.IsZero() {
		input.Date = s.now()
	}
	if input.SourceModule == "" {
		input.SourceModule = SourceManual
	}
	if input.SourceID == uuid.Nil && input.SourceModule == SourceManual {
		input.SourceID = uuid.New()
	}
	if err := input.Validate(); err != nil {
		return JournalEntry{}, err
	}
	if input.Date.After(endOfDay(s.now())) {
		return JournalEntry{}, fmt.Errorf("%w: %s", ErrFutureDate, input.Date.Format(time.DateOnly))
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = s.insertEntry(ctx, tx, input, nil)
		if err != nil {
			return err
		}
		db.AfterCommit(ctx, func(ctx context.Context) {
			s.afterPosting(ctx, input.TenantID)
			s.recordAudit(ctx, input.TenantID, input.CreatedBy, "journal.post", "journal_entry", entry.ID, map[string]any{
				"number":        entry.Number,
				"source_module": input.SourceModule,
				"source_id":     input.SourceID.String(),
				"total":         input.Total().String(),
			})
		})
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

func (s *Service) insertEntry(ctx context.Context, tx TxRepository, input PostingInput, reversalOf *int64) (JournalEntry, error) {
	ids := make([]int64, 0, len(input.Lines))
	for _, line := range input.Lines {
		ids = append(ids, line.AccountID)
	}
	accounts, err := tx.GetAccountsByIDs(ctx, input.TenantID, ids)
	if err != nil {
		return JournalEntry{}, err
	}
	for _, id := range ids {
		account, ok := accounts[id]
		if !ok {
			return JournalEntry{}, fmt.Errorf("%w: account %d does not exist", ErrInvalidAccount, id)
		}
		if !account.IsActive {
			return JournalEntry{}, fmt.Errorf("%w: account %s is inactive", ErrInvalidAccount, account.Code)
		}
	}
	number, err := tx.NextEntryNumber(ctx, input.TenantID)
	if err != nil {
		return JournalEntry{}, err
	}
	inserted, err := tx.InsertJournalEntry(ctx, JournalEntry{
		TenantID:     input.TenantID,
		Number:       number,
		Date:         input.Date,
		Description:  input.Description,
		SourceModule: input.SourceModule,
		SourceID:     input.SourceID,
		Status:       JournalStatusPosted,
		ReversalOfID: reversalOf,
		CreatedBy:    input.CreatedBy,
	})
	if err != nil {
		return JournalEntry{}, err
	}
	lines := toJournalLines(inserted.ID, input.Lines)
	if err := tx.InsertJournalLines(ctx, inserted.ID, lines); err != nil {
		return JournalEntry{}, err
	}
	if err := tx.ApplyBalanceDeltas(ctx, input.TenantID, lines); err != nil {
		return JournalEntry{}, err
	}
	if err := tx.LinkSource(ctx, input.TenantID, input.SourceModule, input.SourceID, inserted.ID); err != nil {
		if errors.Is(err, ErrSourceConflict) {
			return JournalEntry{}, ErrSourceAlreadyLinked
		}
		return JournalEntry{}, err
	}
	inserted.Lines = lines
	return inserted, nil
}

// ReverseEntry posts the mirror image of a posted entry and marks the
// original REVERSED. An entry can be reversed once.
func (s *Service) ReverseEntry(ctx context.Context, input ReverseInput) (JournalEntry, error) {
	if input.TenantID == 0 || input.EntryID == 0 {
		return JournalEntry{}, fmt.Errorf("%w: tenant and entry id required", shared.ErrValidation)
	}
	var reversal JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetJournalForUpdate(ctx, input.TenantID, input.EntryID)
		if err != nil {
			return err
		}
		switch {
		case original.Status == JournalStatusReversed || original.ReversedByID != nil:
			return ErrAlreadyReversed
		case original.ReversalOfID != nil:
			return fmt.Errorf("%w: entry %d is itself a reversal", ErrInvalidStatus, original.Number)
		case original.Status != JournalStatusPosted:
			return ErrInvalidStatus
		}
		date := s.now()
		if input.Date != nil {
			date = *input.Date
		}
		posting := PostingInput{
			TenantID:     input.TenantID,
			Date:         date,
			Description:  defaultReversalDescription(input.Description, original.Number),
			SourceModule: SourceReversal,
			SourceID:     uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("REVERSAL:%d", original.ID))),
			CreatedBy:    input.ActorID,
			Lines:        reverseLines(original.Lines),
		}
		if err := posting.Validate(); err != nil {
			return err
		}
		originalID := original.ID
		reversal, err = s.insertEntry(ctx, tx, posting, &originalID)
		if err != nil {
			if errors.Is(err, ErrSourceAlreadyLinked) {
				return ErrAlreadyReversed
			}
			return err
		}
		if err := tx.MarkReversed(ctx, original.ID, reversal.ID); err != nil {
			return err
		}
		db.AfterCommit(ctx, func(ctx context.Context) {
			s.afterPosting(ctx, input.TenantID)
			s.recordAudit(ctx, input.TenantID, input.ActorID, "journal.reverse", "journal_entry", original.ID, map[string]any{
				"reversal_id":     reversal.ID,
				"reversal_number": reversal.Number,
			})
		})
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	return reversal, nil
}

func defaultReversalDescription(desc string, number int64) string {
	if desc != "" {
		return desc
	}
	return fmt.Sprintf("Reversal of JE %d", number)
}

// GetJournalEntry loads one entry with its lines.
func (s *Service) GetJournalEntry(ctx context.Context, tenantID, entryID int64) (JournalEntry, error) {
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = tx.GetJournal(ctx, tenantID, entryID)
		return err
	})
	return entry, err
}

// ListJournalEntries retrieves journal entries newest first.
func (s *Service) ListJournalEntries(ctx context.Context, tenantID int64, filter JournalFilter) ([]JournalEntry, error) {
	var entries []JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entries, err = tx.ListJournalEntries(ctx, tenantID, filter)
		return err
	})
	return entries, err
}

// ComputeBalance replays posted lines of the account up to asOf (now when nil).
// Current balances are served through the balance cache.
func (s *Service) ComputeBalance(ctx context.Context, tenantID, accountID int64, asOf *time.Time) (AccountBalance, error) {
	if asOf != nil {
		return s.replayBalance(ctx, tenantID, accountID, *asOf)
	}
	return s.cache.Fetch(ctx, tenantID, accountID, func(ctx context.Context) (AccountBalance, error) {
		return s.replayBalance(ctx, tenantID, accountID, s.now())
	})
}

func (s *Service) replayBalance(ctx context.Context, tenantID, accountID int64, asOf time.Time) (AccountBalance, error) {
	var balance AccountBalance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		account, err := tx.GetAccountByID(ctx, tenantID, accountID)
		if err != nil {
			return err
		}
		lines, err := tx.ListPostedLines(ctx, tenantID, accountID, asOf)
		if err != nil {
			return err
		}
		debit, credit, net := ReplayBalance(account.Type, decimal.Zero, lines)
		balance = AccountBalance{
			AccountID:  account.ID,
			Code:       account.Code,
			Type:       account.Type,
			NormalSide: NormalSideOf(account.Type),
			Debit:      debit,
			Credit:     credit,
			Balance:    net,
			AsOf:       asOf,
		}
		return nil
	})
	return balance, err
}

// MaterializedBalance reads the projection maintained by postings.
func (s *Service) MaterializedBalance(ctx context.Context, tenantID, accountID int64) (AccountBalance, error) {
	var balance AccountBalance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		account, err := tx.GetAccountByID(ctx, tenantID, accountID)
		if err != nil {
			return err
		}
		debit, credit, err := tx.GetMaterializedBalance(ctx, tenantID, accountID)
		if err != nil {
			return err
		}
		balance = AccountBalance{
			AccountID:  account.ID,
			Code:       account.Code,
			Type:       account.Type,
			NormalSide: NormalSideOf(account.Type),
			Debit:      debit,
			Credit:     credit,
			Balance:    SignedBalance(account.Type, debit, credit),
			AsOf:       s.now(),
		}
		return nil
	})
	return balance, err
}

// TrialBalance replays every account of the tenant up to asOf.
func (s *Service) TrialBalance(ctx context.Context, tenantID int64, asOf *time.Time) (TrialBalance, error) {
	at := s.now()
	if asOf != nil {
		at = *asOf
	}
	tb := TrialBalance{TenantID: tenantID, AsOf: at, TotalDebit: decimal.Zero, TotalCredit: decimal.Zero}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		accounts, err := tx.ListAccounts(ctx, tenantID, AccountFilter{})
		if err != nil {
			return err
		}
		for _, account := range accounts {
			lines, err := tx.ListPostedLines(ctx, tenantID, account.ID, endOfTime)
			if err != nil {
				return err
			}
			debit, credit, net := ReplayBalance(account.Type, decimal.Zero, lines)
			tb.Accounts = append(tb.Accounts, AccountBalance{
				AccountID:  account.ID,
				Code:       account.Code,
				Type:       account.Type,
				NormalSide: NormalSideOf(account.Type),
				Debit:      debit,
				Credit:     credit,
				Balance:    net,
				AsOf:       at,
			})
			tb.TotalDebit = tb.TotalDebit.Add(debit)
			tb.TotalCredit = tb.TotalCredit.Add(credit)
		}
		return nil
	})
	if err != nil {
		return TrialBalance{}, err
	}
	return tb, nil
}

// CheckIntegrity compares the materialized projection with a full replay for
// every account of the tenant and reports disagreements.
func (s *Service) CheckIntegrity(ctx context.Context, tenantID int64) ([]BalanceDrift, error) {
	var drifts []BalanceDrift
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		accounts, err := tx.ListAccounts(ctx, tenantID, AccountFilter{})
		if err != nil {
			return err
		}
		for _, account := range accounts {
			lines, err := tx.ListPostedLines(ctx, tenantID, account.ID, endOfTime)
			if err != nil {
				return err
			}
			_, _, replayed := ReplayBalance(account.Type, decimal.Zero, lines)
			debit, credit, err := tx.GetMaterializedBalance(ctx, tenantID, account.ID)
			if err != nil {
				return err
			}
			materialized := SignedBalance(account.Type, debit, credit)
			if !replayed.Equal(materialized) {
				drifts = append(drifts, BalanceDrift{AccountID: account.ID, Code: account.Code, Replayed: replayed, Materialized: materialized})
			}
		}
		return nil
	})
	return drifts, err
}

// ListTenantIDs returns every tenant owning a chart of accounts.
func (s *Service) ListTenantIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ids, err = tx.ListTenantIDs(ctx)
		return err
	})
	return ids, err
}

func (s *Service) afterPosting(ctx context.Context, tenantID int64) {
	if err := s.cache.Invalidate(ctx, tenantID); err != nil {
		s.logger.Warn("invalidate balance cache", slog.Int64("tenant_id", tenantID), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, tenantID, actorID int64, action, entity string, entityID int64, meta map[string]any) {
	if strings.HasPrefix(action, "journal.") && s.metrics != nil {
		module, _ := meta["source_module"].(string)
		if module == "" {
			module = SourceReversal
		}
		s.metrics.JournalPosted(module)
	}
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}

// endOfTime bounds a replay over every posted line.
var endOfTime = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location()).Add(-time.Nanosecond)
}
