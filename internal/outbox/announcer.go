package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/NordCoder/Notifyhub/internal/domain/notification"
	"github.com/NordCoder/Notifyhub/internal/domain/outbox"
)

// Announcer records notification.created in the outbox. Called inside the
// creating transaction, so the event exists iff the notification does.
type Announcer struct {
	repo outbox.Repository
}

func NewAnnouncer(repo outbox.Repository) *Announcer { return &Announcer{repo: repo} }

var _ notification.Announcer = (*Announcer)(nil)

func (a *Announcer) NotificationCreated(ctx context.Context, n *notification.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return a.repo.Enqueue(ctx, IdempotencyKey(outbox.KindNotificationCreated, n.ID), outbox.KindNotificationCreated, data)
}

func IdempotencyKey(kind outbox.Kind, id string) string {
	return kind.String() + ":" + id
}
