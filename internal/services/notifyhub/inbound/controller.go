// Package inbound accepts dispatch requests published by other services.
package inbound

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/NordCoder/Notifyhub/internal/domain/notification"
	"github.com/NordCoder/Notifyhub/internal/obs"
	kafkax "github.com/NordCoder/Notifyhub/internal/repository/kafka"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"
)

type Dispatcher interface {
	Send(ctx context.Context, n *notification.Notification, target notification.Target) (*notification.DispatchResult, error)
}

type Consumer interface {
	Consume(ctx context.Context, h kafkax.Handler) error
}

type Controller struct {
	consumer Consumer
	dispatch Dispatcher
	log      *zap.Logger
}

func NewController(consumer Consumer, dispatch Dispatcher, log *zap.Logger) *Controller {
	return &Controller{consumer: consumer, dispatch: dispatch, log: obs.Component(log, "inbound.dispatch")}
}

func (c *Controller) Run(ctx context.Context) error {
	err := c.consumer.Consume(ctx, c.Handler())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Handler decodes a google.protobuf.Struct dispatch request. Malformed
// requests are logged and dropped so they do not block the partition.
func (c *Controller) Handler() kafkax.Handler {
	return kafkax.ProtoHandler(
		func() *structpb.Struct { return &structpb.Struct{} },
		func(ctx context.Context, key []byte, msg *structpb.Struct) error {
			n, target, err := DecodeRequest(msg)
			if err != nil {
				obs.WithTrace(ctx, c.log).Warn("dropping dispatch request",
					zap.ByteString("key", key), zap.Error(err))
				return nil
			}
			res, err := c.dispatch.Send(ctx, n, target)
			if err != nil {
				if errors.Is(err, notification.ErrInvalidArgument) {
					obs.WithTrace(ctx, c.log).Warn("dropping dispatch request", zap.Error(err))
					return nil
				}
				return err
			}
			obs.WithTrace(ctx, c.log).Info("dispatched from bus",
				zap.String("notification_id", res.NotificationID),
				zap.Int("targeted", res.Targeted),
				zap.Int("delivered", res.Delivered))
			return nil
		},
	)
}

// DecodeRequest reads {identities[], broadcast, title, message,
// metadataJson, expiresAt}.
func DecodeRequest(msg *structpb.Struct) (*notification.Notification, notification.Target, error) {
	f := msg.GetFields()
	n := &notification.Notification{
		ID:      strings.TrimSpace(f["id"].GetStringValue()),
		Title:   f["title"].GetStringValue(),
		Message: f["message"].GetStringValue(),
	}
	if v, ok := f["metadataJson"]; ok && v.GetStringValue() != "" {
		s := v.GetStringValue()
		n.MetadataJSON = &s
	}
	if v, ok := f["expiresAt"]; ok && v.GetStringValue() != "" {
		t, err := kafkax.ParseTimestamp(v.GetStringValue())
		if err != nil {
			return nil, notification.Target{}, fmt.Errorf("expiresAt: %w", err)
		}
		t = t.UTC().Truncate(time.Microsecond)
		n.ExpiresAt = &t
	}

	if f["broadcast"].GetBoolValue() {
		return n, notification.AllConnected(), nil
	}
	var ids []string
	for _, v := range f["identities"].GetListValue().GetValues() {
		if s := v.GetStringValue(); s != "" {
			ids = append(ids, s)
		}
	}
	if len(ids) == 0 {
		return nil, notification.Target{}, errors.New("no identities and not a broadcast")
	}
	return n, notification.List(ids...), nil
}
