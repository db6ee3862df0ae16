package delivery

import (
	"context"

	"github.com/NordCoder/Notifyhub/internal/domain/member"
	"github.com/NordCoder/Notifyhub/internal/domain/notification"
	"github.com/NordCoder/Notifyhub/internal/domain/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Registry is the part of the connection registry delivery needs.
type Registry interface {
	Register(identity string, s session.Session)
	Unregister(identity string, s session.Session) bool
	SessionsFor(identity string) []session.Session
	Identities() []string
}

type Deps struct {
	Ledger    notification.Ledger
	Tx        notification.Transactor
	Announcer notification.Announcer
	Registry  Registry
	Directory member.Directory
	Clock     notification.Clock
	Log       *zap.Logger
	Metrics   *Metrics
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = notification.SystemClock{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = NewMetrics(nil)
	}
	if d.Directory == nil {
		d.Directory = member.NopDirectory{}
	}
	if d.Tx == nil {
		d.Tx = passthroughTx{}
	}
	return d
}

type passthroughTx struct{}

func (passthroughTx) WithTx(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) }

type Metrics struct {
	dispatches      *prometheus.CounterVec
	dispatchLatency prometheus.Histogram
	pushes          *prometheus.CounterVec
	catchup         prometheus.Counter
	acks            *prometheus.CounterVec
}

// NewMetrics registers delivery metrics on reg. A nil reg keeps them
// unregistered, which tests rely on.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notifyhub_dispatch_total",
			Help: "Dispatch calls by target kind.",
		}, []string{"target"}),
		dispatchLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "notifyhub_dispatch_duration_seconds",
			Help:    "Time to persist, record and push one dispatch.",
			Buckets: prometheus.DefBuckets,
		}),
		pushes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notifyhub_push_total",
			Help: "Pushes to live sessions by result.",
		}, []string{"result"}),
		catchup: f.NewCounter(prometheus.CounterOpts{
			Name: "notifyhub_catchup_delivered_total",
			Help: "Notifications delivered by catch-up on connect.",
		}),
		acks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notifyhub_ack_total",
			Help: "Acknowledgments by result.",
		}, []string{"result"}),
	}
	return m
}
