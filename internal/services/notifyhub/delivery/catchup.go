package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/NordCoder/Notifyhub/internal/domain/notification"
	"github.com/NordCoder/Notifyhub/internal/domain/session"
	"github.com/NordCoder/Notifyhub/internal/obs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	WindowDay     = "day"
	WindowRolling = "rolling"
)

// Policy decides which stored notifications a connecting identity still gets.
type Policy struct {
	// Mode is WindowDay (same UTC calendar day) or WindowRolling.
	Mode string
	// Window is the lookback for WindowRolling.
	Window time.Duration
	// BroadcastOnly hides targeted notifications from identities that
	// were not online when they were sent.
	BroadcastOnly bool
}

func DefaultPolicy() Policy {
	return Policy{Mode: WindowDay}
}

// Since is the oldest creation time still eligible at now.
func (p Policy) Since(now time.Time) time.Time {
	now = now.UTC()
	if p.Mode == WindowRolling && p.Window > 0 {
		return now.Add(-p.Window)
	}
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func (p Policy) Validate() error {
	switch p.Mode {
	case WindowDay, "":
		return nil
	case WindowRolling:
		if p.Window <= 0 {
			return fmt.Errorf("rolling catch-up window must be positive: %w", notification.ErrInvalidArgument)
		}
		return nil
	default:
		return fmt.Errorf("unknown catch-up mode %q: %w", p.Mode, notification.ErrInvalidArgument)
	}
}

type CatchUp struct {
	d      Deps
	policy Policy
	p      pusher
	log    *zap.Logger
}

func NewCatchUp(d Deps, policy Policy, pushTimeout time.Duration) *CatchUp {
	d = d.withDefaults()
	log := obs.Component(d.Log, "delivery.catchup")
	return &CatchUp{
		d:      d,
		policy: policy,
		p:      pusher{registry: d.Registry, timeout: pushTimeout, log: log, m: d.Metrics},
		log:    log,
	}
}

// PendingFor lists the notifications identity has no record for, oldest first.
// It has no side effects, so calling it twice yields the same set.
func (c *CatchUp) PendingFor(ctx context.Context, identity string) ([]*notification.Notification, error) {
	now := c.d.Clock.Now()
	out, err := c.d.Ledger.Pending(ctx, identity, notification.PendingQuery{
		Now:           now,
		Since:         c.policy.Since(now),
		BroadcastOnly: c.policy.BroadcastOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("pending for %s: %w", identity, err)
	}
	return out, nil
}

// Deliver pushes every pending notification to s in creation order. Each one
// is claimed in the ledger first and pushed only if this call won the claim,
// so a racing dispatch or a second session never causes a duplicate.
// It stops at the first failed push; the rest stay pending.
func (c *CatchUp) Deliver(ctx context.Context, s session.Session) (delivered int, err error) {
	ctx, span := obs.StartSpan(ctx, "notifyhub.delivery", "catchup.deliver",
		trace.WithAttributes(attribute.String("session.id", s.ID())))
	defer func() {
		span.SetAttributes(attribute.Int("catchup.delivered", delivered))
		obs.EndSpan(span, err)
	}()

	identity := s.Identity()
	pending, err := c.PendingFor(ctx, identity)
	if err != nil {
		return 0, err
	}

	for _, n := range pending {
		claimed, err := c.d.Ledger.MarkDelivered(ctx, n.ID, identity, c.d.Clock.Now())
		if err != nil {
			return delivered, fmt.Errorf("claim %s: %w", n.ID, err)
		}
		if !claimed {
			continue
		}
		if err := c.p.push(ctx, s, receiveEvent(n)); err != nil {
			return delivered, fmt.Errorf("push %s: %w", n.ID, err)
		}
		delivered++
		c.d.Metrics.catchup.Inc()
	}

	if delivered > 0 {
		obs.WithTrace(ctx, c.log).Info("catch-up delivered",
			zap.String("identity", identity),
			zap.String("session_id", s.ID()),
			zap.Int("count", delivered))
	}
	return delivered, nil
}
