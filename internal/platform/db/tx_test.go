package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAfterCommitWithoutTransactionRunsImmediately(t *testing.T) {
	ctx := context.Background()
	_, ok := TxFromContext(ctx)
	require.False(t, ok)

	ran := false
	AfterCommit(ctx, func(context.Context) { ran = true })
	require.True(t, ran)
}

func TestAfterCommitQueuesInsideTransactionState(t *testing.T) {
	state := &txState{}
	ctx := context.WithValue(context.Background(), txContextKey{}, state)

	ran := false
	AfterCommit(ctx, func(context.Context) { ran = true })
	require.False(t, ran)
	require.Len(t, state.afterCommit, 1)
}

func TestRunInTxRequiresPool(t *testing.T) {
	err := RunInTx(context.Background(), nil, "", nil)
	require.Error(t, err)
}
