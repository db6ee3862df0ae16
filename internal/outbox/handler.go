package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/NordCoder/Notifyhub/internal/domain/kafka"
	"github.com/NordCoder/Notifyhub/internal/domain/notification"
	"github.com/NordCoder/Notifyhub/internal/domain/outbox"
	"github.com/NordCoder/Notifyhub/internal/obs/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	publishLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outbox_publish_latency_seconds",
		Help:    "Time to publish one outbox message, retries included.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	publishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_publish_failures_total",
		Help: "Outbox messages whose publish failed after retries.",
	}, []string{"kind", "permanent"})
)

// Routes maps outbox kinds to publishers. Every route runs under the same
// retry policy.
type Routes struct {
	pol    retry.Policy
	byKind map[outbox.Kind]outbox.KindHandler
}

func NewRoutes(pol retry.Policy) *Routes {
	return &Routes{pol: pol, byKind: map[outbox.Kind]outbox.KindHandler{}}
}

func (r *Routes) On(kind outbox.Kind, h outbox.KindHandler) *Routes {
	r.byKind[kind] = h
	return r
}

// Global is the lookup the Runner dispatches through.
func (r *Routes) Global() outbox.GlobalHandler {
	tr := otel.Tracer("outbox.publish")
	return func(kind outbox.Kind) (outbox.KindHandler, error) {
		h, ok := r.byKind[kind]
		if !ok {
			return nil, fmt.Errorf("unsupported outbox kind: %d", kind)
		}
		pol := r.pol
		if pol.Name == "" {
			pol.Name = "outbox_" + kind.String()
		}
		label := kind.String()
		return func(ctx context.Context, data []byte) error {
			ctx, span := tr.Start(ctx, "outbox.publish",
				trace.WithAttributes(attribute.String("outbox.kind", label)))
			defer span.End()

			t0 := time.Now()
			err := retry.Do(ctx, func() error { return h(ctx, data) }, pol)
			publishLatency.WithLabelValues(label).Observe(time.Since(t0).Seconds())
			if err != nil {
				span.RecordError(err)
				publishFailures.WithLabelValues(label, fmt.Sprint(retry.IsPermanent(err))).Inc()
			}
			return err
		}, nil
	}
}

// PublishCreated decodes the JSON notification the Announcer stored and
// hands it to pub. A payload that does not decode is dropped.
func PublishCreated(pub kafka.NotificationEvents) outbox.KindHandler {
	return func(ctx context.Context, data []byte) error {
		var n notification.Notification
		if err := json.Unmarshal(data, &n); err != nil {
			return retry.Permanent(fmt.Errorf("decode %s payload: %w", outbox.KindNotificationCreated, err))
		}
		return pub.PublishNotificationCreated(ctx, &n)
	}
}

// MakeGlobalOutboxHandler wires every kind notifyhub enqueues.
func MakeGlobalOutboxHandler(pub kafka.NotificationEvents, pol retry.Policy) outbox.GlobalHandler {
	return NewRoutes(pol).
		On(outbox.KindNotificationCreated, PublishCreated(pub)).
		Global()
}
