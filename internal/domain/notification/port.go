package notification

import (
	"context"
	"time"
)

// Ledger persists notifications and their per-recipient delivery state.
//
// MarkDelivered and MarkSeen are single conditional upserts on the
// (recipient, notification) pair. They report whether this call was the one
// that set the timestamp.
type Ledger interface {
	Create(ctx context.Context, n *Notification) error
	Get(ctx context.Context, id string) (*Notification, error)

	MarkDelivered(ctx context.Context, notificationID, recipient string, at time.Time) (bool, error)
	MarkSeen(ctx context.Context, notificationID, recipient string, at time.Time) (bool, error)

	Pending(ctx context.Context, recipient string, q PendingQuery) ([]*Notification, error)
	History(ctx context.Context, since time.Time, limit int) ([]*Notification, error)
	Deliveries(ctx context.Context, notificationID string) ([]DeliveryRecord, error)
}

type PendingQuery struct {
	Now           time.Time
	Since         time.Time
	BroadcastOnly bool
}

// Announcer is told about every newly persisted notification inside the
// creating transaction.
type Announcer interface {
	NotificationCreated(ctx context.Context, n *Notification) error
}

type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
