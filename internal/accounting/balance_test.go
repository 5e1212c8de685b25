package accounting

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestSignedBalanceFollowsNormalSide(t *testing.T) {
	cases := []struct {
		typ  AccountType
		side NormalSide
		want string
	}{
		{AccountTypeAsset, NormalDebit, "70"},
		{AccountTypeExpense, NormalDebit, "70"},
		{AccountTypeLiability, NormalCredit, "-70"},
		{AccountTypeEquity, NormalCredit, "-70"},
		{AccountTypeRevenue, NormalCredit, "-70"},
	}
	for _, tc := range cases {
		t.Run(string(tc.typ), func(t *testing.T) {
			require.Equal(t, tc.side, NormalSideOf(tc.typ))
			got := SignedBalance(tc.typ, amt("100"), amt("30"))
			require.True(t, got.Equal(amt(tc.want)), got.String())
		})
	}
}

func TestReplayBalanceAddsOpening(t *testing.T) {
	lines := []PostedLine{
		{EntryNumber: 1, Debit: amt("4000"), Credit: decimal.Zero},
		{EntryNumber: 2, Debit: decimal.Zero, Credit: amt("1000")},
	}
	debit, credit, bal := ReplayBalance(AccountTypeAsset, amt("500"), lines)
	require.True(t, debit.Equal(amt("4000")))
	require.True(t, credit.Equal(amt("1000")))
	require.True(t, bal.Equal(amt("3500")))
}

func TestReverseLinesSwapsSides(t *testing.T) {
	out := reverseLines([]JournalLine{
		{AccountID: 1, Debit: amt("10"), Credit: decimal.Zero, Memo: "a"},
		{AccountID: 2, Debit: decimal.Zero, Credit: amt("10")},
	})
	require.Len(t, out, 2)
	require.True(t, out[0].Credit.Equal(amt("10")))
	require.True(t, out[0].Debit.IsZero())
	require.Equal(t, "a", out[0].Memo)
	require.True(t, out[1].Debit.Equal(amt("10")))
}

func TestAccountTypeValid(t *testing.T) {
	require.True(t, AccountTypeRevenue.Valid())
	require.False(t, AccountType("INCOME").Valid())
}
