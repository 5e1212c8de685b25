package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Sequence names used for human readable document numbers.
const (
	SeqJournalEntry  = "journal_entry"
	SeqInvoice       = "invoice"
	SeqPurchaseOrder = "purchase_order"
)

// NextSequence allocates the next gap-free number of name for tenantID. The
// counter row stays locked until tx ends, serialising concurrent allocators.
func NextSequence(ctx context.Context, tx pgx.Tx, tenantID int64, name string) (int64, error) {
	var next int64
	err := tx.QueryRow(ctx, `INSERT INTO sequences (tenant_id, name, last_value)
VALUES ($1, $2, 1)
ON CONFLICT (tenant_id, name) DO UPDATE SET last_value = sequences.last_value + 1
RETURNING last_value`, tenantID, name).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("platform/db: next %s sequence: %w", name, err)
	}
	return next, nil
}
