package accounting

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/shared"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
		return true
	}
	return false
}

// NormalSide is the side on which an account type grows.
type NormalSide string

const (
	NormalDebit  NormalSide = "DEBIT"
	NormalCredit NormalSide = "CREDIT"
)

// JournalStatus enumerates journal lifecycle values.
type JournalStatus string

const (
	JournalStatusDraft    JournalStatus = "DRAFT"
	JournalStatusPosted   JournalStatus = "POSTED"
	JournalStatusReversed JournalStatus = "REVERSED"
)

// Source modules that post into the ledger.
const (
	SourceManual   = "MANUAL"
	SourceReversal = "REVERSAL"
)

// Account models a chart of accounts node. Accounts are deactivated, never deleted.
type Account struct {
	ID        int64       `json:"id"`
	TenantID  int64       `json:"tenant_id"`
	Code      string      `json:"code"`
	Name      string      `json:"name"`
	Type      AccountType `json:"type"`
	Subtype   string      `json:"subtype,omitempty"`
	IsActive  bool        `json:"is_active"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// JournalEntry captures posting metadata.
type JournalEntry struct {
	ID           int64         `json:"id"`
	TenantID     int64         `json:"tenant_id"`
	Number       int64         `json:"entry_number"`
	Date         time.Time     `json:"date"`
	Description  string        `json:"description"`
	SourceModule string        `json:"source_module"`
	SourceID     uuid.UUID     `json:"source_id"`
	Status       JournalStatus `json:"status"`
	ReversalOfID *int64        `json:"reversal_of_id,omitempty"`
	ReversedByID *int64        `json:"reversed_by_id,omitempty"`
	CreatedBy    int64         `json:"created_by"`
	PostedAt     time.Time     `json:"posted_at"`
	Lines        []JournalLine `json:"lines,omitempty"`
}

// JournalLine stores debit or credit amount for an account.
type JournalLine struct {
	ID        int64           `json:"id"`
	EntryID   int64           `json:"entry_id"`
	AccountID int64           `json:"account_id"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Memo      string          `json:"memo,omitempty"`
}

// PostedLine is a journal line tagged with its entry order for replay.
type PostedLine struct {
	EntryNumber int64
	Date        time.Time
	Debit       decimal.Decimal
	Credit      decimal.Decimal
}

// AccountBalance is the replayed position of one account.
type AccountBalance struct {
	AccountID  int64           `json:"account_id"`
	Code       string          `json:"code"`
	Type       AccountType     `json:"type"`
	NormalSide NormalSide      `json:"normal_side"`
	Debit      decimal.Decimal `json:"debit_total"`
	Credit     decimal.Decimal `json:"credit_total"`
	Balance    decimal.Decimal `json:"balance"`
	AsOf       time.Time       `json:"as_of"`
}

// TrialBalance lists every account balance and the column totals.
type TrialBalance struct {
	TenantID    int64            `json:"tenant_id"`
	AsOf        time.Time        `json:"as_of"`
	Accounts    []AccountBalance `json:"accounts"`
	TotalDebit  decimal.Decimal  `json:"total_debit"`
	TotalCredit decimal.Decimal  `json:"total_credit"`
}

// Balanced reports whether the debit and credit columns agree.
func (tb TrialBalance) Balanced() bool {
	return tb.TotalDebit.Equal(tb.TotalCredit)
}

// BalanceDrift describes a materialized balance that disagrees with replay.
type BalanceDrift struct {
	AccountID    int64           `json:"account_id"`
	Code         string          `json:"code"`
	Replayed     decimal.Decimal `json:"replayed"`
	Materialized decimal.Decimal `json:"materialized"`
}

// CreateAccountInput describes a new chart of accounts entry.
type CreateAccountInput struct {
	TenantID int64       `json:"-" validate:"gt=0"`
	Code     string      `json:"code" validate:"required,max=32"`
	Name     string      `json:"name" validate:"required,max=160"`
	Type     AccountType `json:"type" validate:"required,oneof=ASSET LIABILITY EQUITY REVENUE EXPENSE"`
	Subtype  string      `json:"subtype" validate:"max=64"`
}

// AccountFilter narrows ListAccounts.
type AccountFilter struct {
	Type       AccountType
	ActiveOnly bool
}

// JournalFilter narrows ListJournalEntries.
type JournalFilter struct {
	From   time.Time
	To     time.Time
	Status JournalStatus
	Limit  int
}

// PostingLineInput describes a journal line for posting request.
type PostingLineInput struct {
	AccountID int64           `json:"account_id"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Memo      string          `json:"memo,omitempty"`
}

// PostingInput groups fields required to create a journal entry.
type PostingInput struct {
	TenantID     int64              `json:"-"`
	Date         time.Time          `json:"date"`
	Description  string             `json:"description"`
	SourceModule string             `json:"-"`
	SourceID     uuid.UUID          `json:"-"`
	CreatedBy    int64              `json:"-"`
	Lines        []PostingLineInput `json:"lines"`
}

// ReverseInput wraps parameters for reversal.
type ReverseInput struct {
	TenantID    int64
	EntryID     int64
	ActorID     int64
	Description string
	Date        *time.Time
}

var (
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = shared.NewError(shared.ErrValidation, "accounting: journal lines must balance")
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = shared.NewError(shared.ErrValidation, "accounting: journal requires at least two lines")
	// ErrZeroAmount indicates a posting that moves nothing.
	ErrZeroAmount = shared.NewError(shared.ErrValidation, "accounting: journal total must be greater than zero")
	// ErrInvalidLine indicates a malformed line.
	ErrInvalidLine = shared.NewError(shared.ErrValidation, "accounting: invalid journal line")
	// ErrFutureDate indicates an entry dated after the current day.
	ErrFutureDate = shared.NewError(shared.ErrValidation, "accounting: journal date is in the future")
	// ErrInvalidAccount indicates a line references a missing, foreign or inactive account.
	ErrInvalidAccount = shared.NewError(shared.ErrBusinessRule, "accounting: invalid account")
	// ErrDuplicateCode indicates the account code is taken for the tenant.
	ErrDuplicateCode = shared.NewError(shared.ErrDuplicate, "accounting: account code already exists")
	// ErrAccountNotFound indicates missing account.
	ErrAccountNotFound = shared.NewError(shared.ErrNotFound, "accounting: account not found")
	// ErrJournalNotFound indicates missing entry.
	ErrJournalNotFound = shared.NewError(shared.ErrNotFound, "accounting: journal entry not found")
	// ErrAlreadyReversed indicates the entry has been reversed before.
	ErrAlreadyReversed = shared.NewError(shared.ErrInvalidState, "accounting: journal entry already reversed")
	// ErrInvalidStatus indicates action can't proceed.
	ErrInvalidStatus = shared.NewError(shared.ErrInvalidState, "accounting: invalid status transition")
	// ErrSourceAlreadyLinked indicates the business source has been posted before.
	ErrSourceAlreadyLinked = shared.NewError(shared.ErrDuplicate, "accounting: source already linked")
)

// Validate ensures posting input meets minimum criteria.
func (in PostingInput) Validate() error {
	if in.TenantID == 0 {
		return fmt.Errorf("%w: tenant required", shared.ErrValidation)
	}
	if in.Date.IsZero() {
		return fmt.Errorf("%w: date required", shared.ErrValidation)
	}
	if len(in.Lines) < 2 {
		return ErrTooFewLines
	}
	debit, credit := decimal.Zero, decimal.Zero
	for idx, line := range in.Lines {
		if line.AccountID == 0 {
			return fmt.Errorf("%w: line %d missing account", ErrInvalidLine, idx)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return fmt.Errorf("%w: line %d negative amount", ErrInvalidLine, idx)
		}
		if line.Debit.IsPositive() == line.Credit.IsPositive() {
			return fmt.Errorf("%w: line %d needs exactly one of debit or credit", ErrInvalidLine, idx)
		}
		if err := shared.CheckScale(fmt.Sprintf("line %d debit", idx), line.Debit, shared.MoneyScale); err != nil {
			return err
		}
		if err := shared.CheckScale(fmt.Sprintf("line %d credit", idx), line.Credit, shared.MoneyScale); err != nil {
			return err
		}
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	if !debit.Equal(credit) {
		return fmt.Errorf("%w: debit %s credit %s", ErrUnbalanced, debit.StringFixed(2), credit.StringFixed(2))
	}
	if !debit.IsPositive() {
		return ErrZeroAmount
	}
	if in.SourceModule == "" {
		return errors.New("accounting: source module required")
	}
	if in.SourceID == uuid.Nil {
		return errors.New("accounting: source id required")
	}
	return nil
}

// Total returns the debit side sum of the posting.
func (in PostingInput) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range in.Lines {
		total = total.Add(line.Debit)
	}
	return total
}
