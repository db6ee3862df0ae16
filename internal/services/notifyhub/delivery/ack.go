package delivery

import (
	"context"
	"errors"
	"strings"

	"github.com/NordCoder/Notifyhub/internal/domain/notification"
	"github.com/NordCoder/Notifyhub/internal/obs"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AckResult int

const (
	AckRejected AckResult = iota
	AckSeen
	AckDuplicate
)

func (r AckResult) String() string {
	switch r {
	case AckSeen:
		return "seen"
	case AckDuplicate:
		return "duplicate"
	default:
		return "rejected"
	}
}

type Acker struct {
	d   Deps
	log *zap.Logger
}

func NewAcker(d Deps) *Acker {
	d = d.withDefaults()
	return &Acker{d: d, log: obs.Component(d.Log, "delivery.ack")}
}

// Acknowledge marks notificationID as seen by identity. It never fails the
// caller: malformed ids, unknown notifications and store errors are logged.
func (a *Acker) Acknowledge(ctx context.Context, notificationID, identity string) AckResult {
	res := a.acknowledge(ctx, notificationID, identity)
	a.d.Metrics.acks.WithLabelValues(res.String()).Inc()
	return res
}

func (a *Acker) acknowledge(ctx context.Context, notificationID, identity string) AckResult {
	log := obs.WithTrace(ctx, a.log).With(zap.String("identity", identity), zap.String("notification_id", notificationID))

	if strings.TrimSpace(identity) == "" {
		log.Warn("ack without identity")
		return AckRejected
	}
	id, err := uuid.Parse(strings.TrimSpace(notificationID))
	if err != nil {
		log.Debug("ack with malformed notification id")
		return AckRejected
	}

	now := a.d.Clock.Now()
	advanced, err := a.d.Ledger.MarkSeen(ctx, id.String(), identity, now)
	if err != nil {
		if errors.Is(err, notification.ErrNotFound) {
			log.Debug("ack for unknown notification")
		} else {
			log.Error("mark seen", zap.Error(err))
		}
		return AckRejected
	}

	if err := a.d.Directory.TouchActivity(ctx, identity, now); err != nil {
		log.Debug("touch member activity", zap.Error(err))
	}

	if !advanced {
		return AckDuplicate
	}
	return AckSeen
}
