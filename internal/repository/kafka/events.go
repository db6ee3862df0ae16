package kafka

import (
	"context"
	"time"

	"github.com/NordCoder/Notifyhub/internal/domain/kafka"
	"github.com/NordCoder/Notifyhub/internal/domain/notification"
	"github.com/NordCoder/Notifyhub/internal/domain/session"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Events are published as google.protobuf.Struct so consumers need no
// generated code; timestamps are RFC 3339 strings in UTC.

type NotificationEventsKafka struct{ p *Producer }

func NewNotificationEventsKafka(p *Producer) *NotificationEventsKafka {
	return &NotificationEventsKafka{p: p}
}

var _ kafka.NotificationEvents = (*NotificationEventsKafka)(nil)

func (e *NotificationEventsKafka) PublishNotificationCreated(ctx context.Context, n *notification.Notification) error {
	msg, err := NotificationStruct(n)
	if err != nil {
		return err
	}
	return e.p.PublishProto(ctx, KeyFromString(n.ID), msg)
}

type PresenceEventsKafka struct{ p *Producer }

func NewPresenceEventsKafka(p *Producer) *PresenceEventsKafka { return &PresenceEventsKafka{p: p} }

var _ kafka.PresenceEvents = (*PresenceEventsKafka)(nil)

func (e *PresenceEventsKafka) PublishPresenceChanged(ctx context.Context, ev session.PresenceEvent) error {
	msg, err := structpb.NewStruct(map[string]any{
		"type":      "presence." + ev.Kind.String(),
		"playerId":  ev.Identity,
		"sessionId": ev.SessionID,
		"at":        timestamp(ev.At),
	})
	if err != nil {
		return err
	}
	return e.p.PublishProto(ctx, KeyFromString(ev.Identity), msg)
}

func NotificationStruct(n *notification.Notification) (*structpb.Struct, error) {
	m := map[string]any{
		"type":        "notification.created",
		"id":          n.ID,
		"title":       n.Title,
		"message":     n.Message,
		"createdAt":   timestamp(n.CreatedAt),
		"isBroadcast": n.IsBroadcast,
	}
	if n.MetadataJSON != nil {
		m["metadataJson"] = *n.MetadataJSON
	}
	if n.ExpiresAt != nil {
		m["expiresAt"] = timestamp(*n.ExpiresAt)
	}
	return structpb.NewStruct(m)
}

func timestamp(t time.Time) string {
	return timestamppb.New(t).AsTime().Format(time.RFC3339Nano)
}

// ParseTimestamp reads a timestamp written by timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	ts := timestamppb.New(t)
	return ts.AsTime(), ts.CheckValid()
}
