package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/shared"
)

type txState struct {
	tx          pgx.Tx
	afterCommit []func(context.Context)
}

type txContextKey struct{}

// TxFromContext returns the transaction bound to ctx by RunInTx.
func TxFromContext(ctx context.Context) (pgx.Tx, bool) {
	state, ok := ctx.Value(txContextKey{}).(*txState)
	if !ok || state == nil {
		return nil, false
	}
	return state.tx, true
}

// AfterCommit defers fn until the outermost transaction in ctx commits. It is
// dropped on rollback. Without a transaction fn runs immediately.
func AfterCommit(ctx context.Context, fn func(context.Context)) {
	if fn == nil {
		return
	}
	state, ok := ctx.Value(txContextKey{}).(*txState)
	if !ok || state == nil {
		fn(ctx)
		return
	}
	state.afterCommit = append(state.afterCommit, fn)
}

// ParseIsolation maps configuration values to pgx isolation levels.
func ParseIsolation(value string) pgx.TxIsoLevel {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "read-committed", "read_committed":
		return pgx.ReadCommitted
	case "serializable":
		return pgx.Serializable
	default:
		return pgx.RepeatableRead
	}
}

// RunInTx executes fn inside the transaction already carried by ctx or, when
// none exists, inside a new one. Nested calls share the outer transaction so
// several repositories commit or roll back together.
func RunInTx(ctx context.Context, pool *pgxpool.Pool, iso pgx.TxIsoLevel, fn func(context.Context, pgx.Tx) error) error {
	if tx, ok := TxFromContext(ctx); ok {
		return fn(ctx, tx)
	}
	if pool == nil {
		return fmt.Errorf("platform/db: pool not configured")
	}
	if iso == "" {
		iso = pgx.RepeatableRead
	}
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: iso})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	state := &txState{tx: tx}
	txCtx := context.WithValue(ctx, txContextKey{}, state)
	if err := fn(txCtx, tx); err != nil {
		return shared.MapPgError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", shared.MapPgError(err))
	}
	for _, hook := range state.afterCommit {
		hook(ctx)
	}
	return nil
}

// WithTx executes a function within a transaction using the RepeatableRead isolation level.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	return RunInTx(ctx, pool, pgx.RepeatableRead, func(_ context.Context, tx pgx.Tx) error {
		return fn(tx)
	})
}
