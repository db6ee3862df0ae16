package kafka

import (
	"context"

	"github.com/NordCoder/Notifyhub/internal/domain/notification"
	"github.com/NordCoder/Notifyhub/internal/domain/session"
)

type NotificationEvents interface {
	PublishNotificationCreated(ctx context.Context, n *notification.Notification) error
}

type PresenceEvents interface {
	PublishPresenceChanged(ctx context.Context, ev session.PresenceEvent) error
}
