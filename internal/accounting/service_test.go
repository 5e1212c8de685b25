package accounting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/shared"
)

var testNow = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

type ledgerFixture struct {
	svc      *Service
	repo     *memoryRepo
	audit    *memoryAudit
	cash     Account
	revenue  Account
	expense  Account
	tenantID int64
}

func newLedgerFixture(t *testing.T, cache *BalanceCache) ledgerFixture {
	t.Helper()
	repo := newMemoryRepo()
	audit := &memoryAudit{}
	svc := NewService(repo, audit, cache, nil)
	svc.WithNow(func() time.Time { return testNow })
	ctx := context.Background()
	mk := func(code, name string, typ AccountType) Account {
		a, err := svc.CreateAccount(ctx, CreateAccountInput{TenantID: 1, Code: code, Name: name, Type: typ})
		require.NoError(t, err)
		return a
	}
	return ledgerFixture{
		svc:      svc,
		repo:     repo,
		audit:    audit,
		cash:     mk("1000", "Cash", AccountTypeAsset),
		revenue:  mk("4000", "Test Revenue", AccountTypeRevenue),
		expense:  mk("6000", "Lab Supplies", AccountTypeExpense),
		tenantID: 1,
	}
}

func amt(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func (f ledgerFixture) post(t *testing.T, debitAcc, creditAcc int64, amount string) (JournalEntry, error) {
	t.Helper()
	return f.svc.PostEntry(context.Background(), PostingInput{
		TenantID:    f.tenantID,
		Description: "test posting",
		CreatedBy:   7,
		Lines: []PostingLineInput{
			{AccountID: debitAcc, Debit: amt(amount)},
			{AccountID: creditAcc, Credit: amt(amount)},
		},
	})
}

func TestPostEntryBalancedUpdatesBalances(t *testing.T) {
	f := newLedgerFixture(t, nil)
	ctx := context.Background()

	entry, err := f.post(t, f.cash.ID, f.revenue.ID, "4000")
	require.NoError(t, err)
	require.Equal(t, JournalStatusPosted, entry.Status)
	require.Equal(t, int64(1), entry.Number)
	require.Equal(t, SourceManual, entry.SourceModule)
	require.NotEqual(t, uuid.Nil, entry.SourceID)
	require.Len(t, entry.Lines, 2)

	_, err = f.post(t, f.expense.ID, f.cash.ID, "1000")
	require.NoError(t, err)

	cash, err := f.svc.ComputeBalance(ctx, 1, f.cash.ID, nil)
	require.NoError(t, err)
	require.True(t, cash.Balance.Equal(amt("3000")), cash.Balance.String())
	require.Equal(t, NormalDebit, cash.NormalSide)

	revenue, err := f.svc.ComputeBalance(ctx, 1, f.revenue.ID, nil)
	require.NoError(t, err)
	require.True(t, revenue.Balance.Equal(amt("4000")))
	require.Equal(t, NormalCredit, revenue.NormalSide)

	expense, err := f.svc.ComputeBalance(ctx, 1, f.expense.ID, nil)
	require.NoError(t, err)
	require.True(t, expense.Balance.Equal(amt("1000")))

	tb, err := f.svc.TrialBalance(ctx, 1, nil)
	require.NoError(t, err)
	require.True(t, tb.Balanced())
	require.True(t, tb.TotalDebit.Equal(amt("5000")))
	require.Contains(t, f.audit.actions(), "journal.post")
}

func TestPostEntryRejectsMalformedInput(t *testing.T) {
	f := newLedgerFixture(t, nil)
	ctx := context.Background()

	cases := []struct {
		name  string
		lines []PostingLineInput
		want  error
	}{
		{"unbalanced", []PostingLineInput{{AccountID: f.cash.ID, Debit: amt("100")}, {AccountID: f.revenue.ID, Credit: amt("90")}}, ErrUnbalanced},
		{"single line", []PostingLineInput{{AccountID: f.cash.ID, Debit: amt("100")}}, ErrTooFewLines},
		{"negative", []PostingLineInput{{AccountID: f.cash.ID, Debit: amt("-5")}, {AccountID: f.revenue.ID, Credit: amt("-5")}}, ErrInvalidLine},
		{"both sides", []PostingLineInput{{AccountID: f.cash.ID, Debit: amt("5"), Credit: amt("5")}, {AccountID: f.revenue.ID, Credit: amt("0")}}, ErrInvalidLine},
		{"sub cent", []PostingLineInput{{AccountID: f.cash.ID, Debit: amt("0.005")}, {AccountID: f.expense.ID, Debit: amt("0.005")}, {AccountID: f.revenue.ID, Credit: amt("0.01")}}, shared.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.PostEntry(ctx, PostingInput{TenantID: 1, Lines: tc.lines})
			require.ErrorIs(t, err, tc.want)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}

	entries, err := f.svc.ListJournalEntries(ctx, 1, JournalFilter{})
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestPostEntryRejectsFutureDate(t *testing.T) {
	f := newLedgerFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.PostEntry(ctx, PostingInput{
		TenantID: 1,
		Date:     testNow.AddDate(0, 1, 0),
		Lines: []PostingLineInput{
			{AccountID: f.cash.ID, Debit: amt("5000")},
			{AccountID: f.revenue.ID, Credit: amt("5000")},
		},
	})
	require.ErrorIs(t, err, ErrFutureDate)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.PostEntry(ctx, PostingInput{
		TenantID: 1,
		Date:     time.Date(2025, 3, 14, 23, 0, 0, 0, time.UTC),
		Lines: []PostingLineInput{
			{AccountID: f.cash.ID, Debit: amt("50")},
			{AccountID: f.revenue.ID, Credit: amt("50")},
		},
	})
	require.NoError(t, err)

	drifts, err := f.svc.CheckIntegrity(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, drifts)
}

func TestPostEntryRejectsInvalidAccounts(t *testing.T) {
	f := newLedgerFixture(t, nil)
	ctx := context.Background()

	_, err := f.post(t, f.cash.ID, 999, "10")
	require.ErrorIs(t, err, ErrInvalidAccount)

	foreign, err := f.svc.CreateAccount(ctx, CreateAccountInput{TenantID: 2, Code: "1000", Name: "Cash", Type: AccountTypeAsset})
	require.NoError(t, err)
	_, err = f.post(t, f.cash.ID, foreign.ID, "10")
	require.ErrorIs(t, err, ErrInvalidAccount)

	_, err = f.svc.SetAccountActive(ctx, 1, f.revenue.Code, false, 7)
	require.NoError(t, err)
	_, err = f.post(t, f.cash.ID, f.revenue.ID, "10")
	require.ErrorIs(t, err, ErrInvalidAccount)
	require.ErrorIs(t, err, shared.ErrBusinessRule)

	// rejected postings leave no trace, so numbering stays gapless
	_, err = f.svc.SetAccountActive(ctx, 1, f.revenue.Code, true, 7)
	require.NoError(t, err)
	entry, err := f.post(t, f.cash.ID, f.revenue.ID, "10")
	require.NoError(t, err)
	require.Equal(t, int64(1), entry.Number)
}

func TestCreateAccountDuplicateCode(t *testing.T) {
	f := newLedgerFixture(t, nil)
	_, err := f.svc.CreateAccount(context.Background(), CreateAccountInput{TenantID: 1, Code: "1000", Name: "Other", Type: AccountTypeAsset})
	require.ErrorIs(t, err, ErrDuplicateCode)
	require.ErrorIs(t, err, shared.ErrDuplicate)

	_, err = f.svc.CreateAccount(context.Background(), CreateAccountInput{TenantID: 1, Code: "", Name: "x", Type: "BOGUS"})
	require.ErrorIs(t, err, shared.ErrValidation)

	got, err := f.svc.GetAccount(context.Background(), 1, "4000")
	require.NoError(t, err)
	require.Equal(t, f.revenue.ID, got.ID)
	_, err = f.svc.GetAccount(context.Background(), 1, "9999")
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestPostEntrySourceLinkedOnce(t *testing.T) {
	f := newLedgerFixture(t, nil)
	source := uuid.New()
	input := PostingInput{
		TenantID:     1,
		SourceModule: "INVOICE",
		SourceID:     source,
		Lines: []PostingLineInput{
			{AccountID: f.cash.ID, Debit: amt("50")},
			{AccountID: f.revenue.ID, Credit: amt("50")},
		},
	}
	_, err := f.svc.PostEntry(context.Background(), input)
	require.NoError(t, err)
	_, err = f.svc.PostEntry(context.Background(), input)
	require.ErrorIs(t, err, ErrSourceAlreadyLinked)

	revenue, err := f.svc.ComputeBalance(context.Background(), 1, f.revenue.ID, nil)
	require.NoError(t, err)
	require.True(t, revenue.Balance.Equal(amt("50")))
}

func TestReverseEntryOnlyOnce(t *testing.T) {
	f := newLedgerFixture(t, nil)
	ctx := context.Background()
	original, err := f.post(t, f.cash.ID, f.revenue.ID, "250.50")
	require.NoError(t, err)

	reversal, err := f.svc.ReverseEntry(ctx, ReverseInput{TenantID: 1, EntryID: original.ID, ActorID: 9})
	require.NoError(t, err)
	require.Equal(t, SourceReversal, reversal.SourceModule)
	require.NotNil(t, reversal.ReversalOfID)
	require.Equal(t, original.ID, *reversal.ReversalOfID)
	require.Equal(t, int64(2), reversal.Number)
	for _, line := range reversal.Lines {
		if line.AccountID == f.cash.ID {
			require.True(t, line.Credit.Equal(amt("250.50")))
		}
	}

	reloaded, err := f.svc.GetJournalEntry(ctx, 1, original.ID)
	require.NoError(t, err)
	require.Equal(t, JournalStatusReversed, reloaded.Status)
	require.NotNil(t, reloaded.ReversedByID)
	require.Equal(t, reversal.ID, *reloaded.ReversedByID)

	_, err = f.svc.ReverseEntry(ctx, ReverseInput{TenantID: 1, EntryID: original.ID, ActorID: 9})
	require.ErrorIs(t, err, ErrAlreadyReversed)
	_, err = f.svc.ReverseEntry(ctx, ReverseInput{TenantID: 1, EntryID: reversal.ID, ActorID: 9})
	require.ErrorIs(t, err, shared.ErrInvalidState)
	_, err = f.svc.ReverseEntry(ctx, ReverseInput{TenantID: 1, EntryID: 12345, ActorID: 9})
	require.ErrorIs(t, err, ErrJournalNotFound)

	cash, err := f.svc.ComputeBalance(ctx, 1, f.cash.ID, nil)
	require.NoError(t, err)
	require.True(t, cash.Balance.IsZero())
	require.Contains(t, f.audit.actions(), "journal.reverse")
}

func TestReplayMatchesMaterializedBalance(t *testing.T) {
	f := newLedgerFixture(t, nil)
	ctx := context.Background()
	for _, v := range []string{"100", "20.25", "3000", "0.75"} {
		_, err := f.post(t, f.cash.ID, f.revenue.ID, v)
		require.NoError(t, err)
	}
	e, err := f.post(t, f.expense.ID, f.cash.ID, "500")
	require.NoError(t, err)
	_, err = f.svc.ReverseEntry(ctx, ReverseInput{TenantID: 1, EntryID: e.ID, ActorID: 1})
	require.NoError(t, err)

	for _, acc := range []Account{f.cash, f.revenue, f.expense} {
		replayed, err := f.svc.ComputeBalance(ctx, 1, acc.ID, nil)
		require.NoError(t, err)
		materialized, err := f.svc.MaterializedBalance(ctx, 1, acc.ID)
		require.NoError(t, err)
		require.True(t, replayed.Balance.Equal(materialized.Balance), "%s: %s vs %s", acc.Code, replayed.Balance, materialized.Balance)
	}
	drifts, err := f.svc.CheckIntegrity(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, drifts)

	f.repo.corrupt(f.cash.ID, amt("1"), decimal.Zero)
	drifts, err = f.svc.CheckIntegrity(ctx, 1)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	require.Equal(t, f.cash.Code, drifts[0].Code)
	require.True(t, drifts[0].Replayed.Equal(amt("3121")))
}

func TestComputeBalanceAsOf(t *testing.T) {
	f := newLedgerFixture(t, nil)
	ctx := context.Background()
	early := testNow.Add(-48 * time.Hour)
	_, err := f.svc.PostEntry(ctx, PostingInput{
		TenantID: 1, Date: early,
		Lines: []PostingLineInput{{AccountID: f.cash.ID, Debit: amt("10")}, {AccountID: f.revenue.ID, Credit: amt("10")}},
	})
	require.NoError(t, err)
	_, err = f.post(t, f.cash.ID, f.revenue.ID, "5")
	require.NoError(t, err)

	asOf := testNow.Add(-24 * time.Hour)
	bal, err := f.svc.ComputeBalance(ctx, 1, f.cash.ID, &asOf)
	require.NoError(t, err)
	require.True(t, bal.Balance.Equal(amt("10")))
	require.Equal(t, asOf, bal.AsOf)
}

func TestEntryNumbersSequentialUnderConcurrency(t *testing.T) {
	f := newLedgerFixture(t, nil)
	const n = 20
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := f.post(t, f.cash.ID, f.revenue.ID, "1")
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}
	entries, err := f.svc.ListJournalEntries(context.Background(), 1, JournalFilter{})
	require.NoError(t, err)
	require.Len(t, entries, n)
	seen := map[int64]bool{}
	for _, e := range entries {
		require.False(t, seen[e.Number])
		seen[e.Number] = true
		require.True(t, e.Number >= 1 && e.Number <= n)
	}
}

type failingAudit struct{}

func (failingAudit) Record(context.Context, shared.AuditLog) error {
	return errors.New("audit down")
}

func TestAuditFailureDoesNotFailPosting(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, failingAudit{}, nil, nil)
	ctx := context.Background()
	cash, err := svc.CreateAccount(ctx, CreateAccountInput{TenantID: 1, Code: "1000", Name: "Cash", Type: AccountTypeAsset})
	require.NoError(t, err)
	rev, err := svc.CreateAccount(ctx, CreateAccountInput{TenantID: 1, Code: "4000", Name: "Revenue", Type: AccountTypeRevenue})
	require.NoError(t, err)
	_, err = svc.PostEntry(ctx, PostingInput{TenantID: 1, Lines: []PostingLineInput{
		{AccountID: cash.ID, Debit: amt("1")}, {AccountID: rev.ID, Credit: amt("1")},
	}})
	require.NoError(t, err)
}
