package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/NordCoder/Notifyhub/internal/domain/notification"
	"github.com/NordCoder/Notifyhub/internal/obs"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type EngineConfig struct {
	PushTimeout time.Duration
	// Concurrency bounds how many recipients are processed at once.
	Concurrency int
}

// Engine persists a notification, records it for every target and pushes it
// to the targets' live sessions.
type Engine struct {
	d   Deps
	cfg EngineConfig
	p   pusher
	log *zap.Logger
}

func NewEngine(d Deps, cfg EngineConfig) *Engine {
	d = d.withDefaults()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 16
	}
	log := obs.Component(d.Log, "delivery.engine")
	return &Engine{
		d:   d,
		cfg: cfg,
		p:   pusher{registry: d.Registry, timeout: cfg.PushTimeout, log: log, m: d.Metrics},
		log: log,
	}
}

// Send dispatches n to target. A failure to persist n, or to record it for
// every target, is returned as an error; push failures never are.
func (e *Engine) Send(ctx context.Context, n *notification.Notification, target notification.Target) (res *notification.DispatchResult, err error) {
	ctx, span := obs.StartSpan(ctx, "notifyhub.delivery", "dispatch.send",
		trace.WithAttributes(attribute.String("dispatch.target", target.Kind.String())))
	defer func() { obs.EndSpan(span, err) }()

	start := time.Now()
	defer func() { e.d.Metrics.dispatchLatency.Observe(time.Since(start).Seconds()) }()
	e.d.Metrics.dispatches.WithLabelValues(target.Kind.String()).Inc()

	if err := validate(n); err != nil {
		return nil, err
	}
	identities, err := e.resolve(target)
	if err != nil {
		return nil, err
	}
	if target.Kind == notification.TargetAllConnected {
		n.IsBroadcast = true
	}

	if err := e.ensurePersisted(ctx, n); err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("notification.id", n.ID),
		attribute.Int("dispatch.targeted", len(identities)),
	)

	results := make([]notification.TargetResult, len(identities))
	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for i, id := range identities {
		g.Go(func() error {
			results[i] = e.deliver(ctx, n, id)
			return nil
		})
	}
	_ = g.Wait()

	res = &notification.DispatchResult{
		NotificationID: n.ID,
		Targeted:       len(identities),
		Targets:        results,
	}
	var firstErr string
	for _, r := range results {
		if r.Recorded {
			res.Recorded++
		} else if firstErr == "" {
			firstErr = r.Error
		}
		if r.Delivered() {
			res.Delivered++
		}
	}

	log := obs.WithTrace(ctx, e.log)
	log.Info("dispatch done",
		zap.String("notification_id", n.ID),
		zap.String("target", target.Kind.String()),
		zap.Int("targeted", res.Targeted),
		zap.Int("delivered", res.Delivered),
		zap.Int("recorded", res.Recorded))

	if res.Targeted > 0 && res.Recorded == 0 {
		return res, fmt.Errorf("dispatch %s: %w: %s", n.ID, notification.ErrAllTargetsFailed, firstErr)
	}
	return res, nil
}

func (e *Engine) deliver(ctx context.Context, n *notification.Notification, identity string) notification.TargetResult {
	res := notification.TargetResult{Identity: identity}

	claimed, err := e.d.Ledger.MarkDelivered(ctx, n.ID, identity, e.d.Clock.Now())
	if err != nil {
		res.Error = err.Error()
		obs.WithTrace(ctx, e.log).Error("record delivery",
			zap.String("notification_id", n.ID), zap.String("identity", identity), zap.Error(err))
		return res
	}
	res.Recorded = true

	sessions := e.d.Registry.SessionsFor(identity)
	res.Sessions = len(sessions)
	if !claimed {
		// Another path (catch-up on a fresh session) already recorded and pushed it.
		return res
	}
	res.Pushed = e.p.pushAll(ctx, sessions, receiveEvent(n))
	return res
}

func (e *Engine) ensurePersisted(ctx context.Context, n *notification.Notification) error {
	if n.ID != "" {
		stored, err := e.d.Ledger.Get(ctx, n.ID)
		switch {
		case err == nil:
			*n = *stored
			return nil
		case !errors.Is(err, notification.ErrNotFound):
			return fmt.Errorf("load notification: %w", err)
		}
	} else {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = e.d.Clock.Now()
	}

	err := e.d.Tx.WithTx(ctx, func(ctx context.Context) error {
		if err := e.d.Ledger.Create(ctx, n); err != nil {
			return err
		}
		if e.d.Announcer != nil {
			return e.d.Announcer.NotificationCreated(ctx, n)
		}
		return nil
	})
	if errors.Is(err, notification.ErrAlreadyExists) {
		// A concurrent Send with the same id won the insert.
		stored, gerr := e.d.Ledger.Get(ctx, n.ID)
		if gerr != nil {
			return fmt.Errorf("load notification after conflict: %w", gerr)
		}
		*n = *stored
		return nil
	}
	if err != nil {
		return fmt.Errorf("persist notification: %w", err)
	}
	return nil
}

func (e *Engine) resolve(t notification.Target) ([]string, error) {
	switch t.Kind {
	case notification.TargetAllConnected:
		return e.d.Registry.Identities(), nil
	case notification.TargetSingle, notification.TargetList:
		out := dedupe(t.Identities)
		if len(out) == 0 {
			return nil, fmt.Errorf("no recipients: %w", notification.ErrInvalidArgument)
		}
		if t.Kind == notification.TargetSingle && len(out) != 1 {
			return nil, fmt.Errorf("single target needs one identity: %w", notification.ErrInvalidArgument)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("target kind %d: %w", t.Kind, notification.ErrInvalidArgument)
	}
}

func validate(n *notification.Notification) error {
	if n == nil {
		return fmt.Errorf("nil notification: %w", notification.ErrInvalidArgument)
	}
	if n.ID == "" && (strings.TrimSpace(n.Title) == "" || strings.TrimSpace(n.Message) == "") {
		return fmt.Errorf("title and message are required: %w", notification.ErrInvalidArgument)
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
