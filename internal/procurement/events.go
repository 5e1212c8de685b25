package procurement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TransitionEvent describes a committed status change of a purchase order.
type TransitionEvent struct {
	TenantID int64
	POID     int64
	Number   string
	From     POStatus
	To       POStatus
	Amount   decimal.Decimal
	ActorID  int64
	At       time.Time
}

// Observer receives committed transitions, e.g. for metrics.
type Observer interface {
	POTransitioned(ctx context.Context, evt TransitionEvent)
}

// EscalationPolicy lets an approval hand the order to a further approver
// instead of completing it. NextApprover returns ok=false when the approval
// at level is final.
type EscalationPolicy interface {
	NextApprover(po PurchaseOrder, approvedLevel int) (role string, level int, ok bool)
}
