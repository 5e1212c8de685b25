package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// MovementRecordedEvent is emitted once a stock movement has committed.
type MovementRecordedEvent struct {
	TenantID     int64
	ItemID       int64
	BranchID     int64
	Type         TransactionType
	Quantity     decimal.Decimal
	BalanceAfter decimal.Decimal
	Status       StockStatus
	RecordedAt   time.Time
}

// MovementObserver receives committed movements, e.g. for metrics.
type MovementObserver interface {
	MovementRecorded(ctx context.Context, evt MovementRecordedEvent)
}
