package accounting

import "github.com/shopspring/decimal"

// NormalSideOf returns the side on which accounts of type t carry a positive balance.
func NormalSideOf(t AccountType) NormalSide {
	switch t {
	case AccountTypeAsset, AccountTypeExpense:
		return NormalDebit
	default:
		return NormalCredit
	}
}

// SignedBalance converts debit and credit totals into a balance on the normal side.
func SignedBalance(t AccountType, debit, credit decimal.Decimal) decimal.Decimal {
	if NormalSideOf(t) == NormalDebit {
		return debit.Sub(credit)
	}
	return credit.Sub(debit)
}

// ReplayBalance folds posted lines in entry order on top of opening and
// returns the debit total, credit total and signed balance.
func ReplayBalance(t AccountType, opening decimal.Decimal, lines []PostedLine) (decimal.Decimal, decimal.Decimal, decimal.Decimal) {
	debit, credit := decimal.Zero, decimal.Zero
	for _, line := range lines {
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	return debit, credit, opening.Add(SignedBalance(t, debit, credit))
}

func reverseLines(lines []JournalLine) []PostingLineInput {
	out := make([]PostingLineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, PostingLineInput{
			AccountID: line.AccountID,
			Debit:     line.Credit,
			Credit:    line.Debit,
			Memo:      line.Memo,
		})
	}
	return out
}

func toJournalLines(entryID int64, lines []PostingLineInput) []JournalLine {
	out := make([]JournalLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, JournalLine{
			EntryID:   entryID,
			AccountID: line.AccountID,
			Debit:     line.Debit,
			Credit:    line.Credit,
			Memo:      line.Memo,
		})
	}
	return out
}
