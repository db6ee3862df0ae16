package delivery

import (
	"context"
	"time"

	"github.com/NordCoder/Notifyhub/internal/domain/notification"
	"github.com/NordCoder/Notifyhub/internal/domain/session"
	"go.uber.org/zap"
)

const defaultPushTimeout = 5 * time.Second

func receiveEvent(n *notification.Notification) session.Event {
	return session.Event{
		Name: session.EventReceiveNotification,
		Data: session.NotificationPayload{
			ID:           n.ID,
			Title:        n.Title,
			Message:      n.Message,
			CreatedAt:    n.CreatedAt,
			MetadataJSON: n.MetadataJSON,
		},
	}
}

type pusher struct {
	registry Registry
	timeout  time.Duration
	log      *zap.Logger
	m        *Metrics
}

// push sends ev to s with a bounded timeout. A failed session is presumed
// gone: it is unregistered and closed, and never retried here.
func (p pusher) push(ctx context.Context, s session.Session, ev session.Event) error {
	timeout := p.timeout
	if timeout <= 0 {
		timeout = defaultPushTimeout
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.Push(pctx, ev); err != nil {
		p.m.pushes.WithLabelValues("failed").Inc()
		p.log.Warn("push failed, dropping session",
			zap.String("identity", s.Identity()),
			zap.String("session_id", s.ID()),
			zap.Error(err))
		p.registry.Unregister(s.Identity(), s)
		_ = s.Close()
		return err
	}
	p.m.pushes.WithLabelValues("ok").Inc()
	return nil
}

// pushAll returns how many sessions accepted ev.
func (p pusher) pushAll(ctx context.Context, sessions []session.Session, ev session.Event) int {
	ok := 0
	for _, s := range sessions {
		if p.push(ctx, s, ev) == nil {
			ok++
		}
	}
	return ok
}
