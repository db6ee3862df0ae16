package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/NordCoder/Notifyhub/internal/domain/outbox"
	"github.com/NordCoder/Notifyhub/internal/obs"
	"github.com/NordCoder/Notifyhub/internal/obs/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Config struct {
	Workers       int
	BatchSize     int
	WaitTime      time.Duration
	InProgressTTL time.Duration
	// Retention keeps published rows this long. Zero disables purging.
	Retention time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.WaitTime <= 0 {
		c.WaitTime = time.Second
	}
	if c.InProgressTTL <= 0 {
		c.InProgressTTL = 30 * time.Second
	}
	return c
}

type Runner struct {
	log      *zap.Logger
	repo     outbox.Repository
	dispatch outbox.GlobalHandler
	cfg      Config

	mPicked    prometheus.Counter
	mOk        prometheus.Counter
	mErr       prometheus.Counter
	mDead      prometheus.Counter
	mTickDur   prometheus.Histogram
	mBatchSize prometheus.Gauge
	mPurged    prometheus.Counter
}

// NewOutboxRunner builds a runner whose metrics are registered on reg.
// A nil reg leaves them unregistered.
func NewOutboxRunner(log *zap.Logger, repo outbox.Repository, dispatch outbox.GlobalHandler, cfg Config, reg prometheus.Registerer) *Runner {
	f := promauto.With(reg)
	return &Runner{
		log: obs.Component(log, "outbox.runner"), repo: repo, dispatch: dispatch, cfg: cfg.withDefaults(),
		mPicked: f.NewCounter(prometheus.CounterOpts{
			Name: "outbox_picked_total", Help: "Messages picked into processing.",
		}),
		mOk: f.NewCounter(prometheus.CounterOpts{
			Name: "outbox_processed_ok_total", Help: "Messages processed successfully.",
		}),
		mErr: f.NewCounter(prometheus.CounterOpts{
			Name: "outbox_processed_err_total", Help: "Handler errors.",
		}),
		mDead: f.NewCounter(prometheus.CounterOpts{
			Name: "outbox_dead_total", Help: "Messages dropped after a permanent handler error.",
		}),
		mTickDur: f.NewHistogram(prometheus.HistogramOpts{
			Name: "outbox_tick_duration_seconds", Help: "Tick duration.",
			Buckets: prometheus.DefBuckets,
		}),
		mBatchSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_last_batch_size", Help: "Size of last picked batch.",
		}),
		mPurged: f.NewCounter(prometheus.CounterOpts{
			Name: "outbox_purged_total", Help: "Published messages deleted after retention.",
		}),
	}
}

// Run starts the workers and blocks until ctx is done and all of them exit.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go r.worker(ctx, i, &wg)
	}
	if p, ok := r.repo.(outbox.Purger); ok && r.cfg.Retention > 0 {
		wg.Add(1)
		go r.janitor(ctx, p, &wg)
	}
	wg.Wait()
}

// janitor deletes published rows older than Retention, checking ten times
// per retention period.
func (r *Runner) janitor(ctx context.Context, p outbox.Purger, wg *sync.WaitGroup) {
	defer wg.Done()
	every := r.cfg.Retention / 10
	if every < time.Second {
		every = time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := p.PurgeSuccess(ctx, r.cfg.Retention)
			if err != nil {
				r.log.Warn("outbox purge failed", zap.Error(err))
				continue
			}
			if n > 0 {
				r.mPurged.Add(float64(n))
				r.log.Debug("outbox purged", zap.Int64("rows", n))
			}
		}
	}
}

func (r *Runner) worker(ctx context.Context, id int, wg *sync.WaitGroup) {
	defer wg.Done()
	log := r.log.With(zap.Int("worker", id))
	log.Info("outbox worker started", zap.Duration("wait", r.cfg.WaitTime))

	ticker := time.NewTicker(r.cfg.WaitTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("outbox worker stop")
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick picks one batch, dispatches every message and marks the handled ones.
// It returns how many were marked.
func (r *Runner) Tick(ctx context.Context) int {
	t0 := time.Now()
	defer func() { r.mTickDur.Observe(time.Since(t0).Seconds()) }()

	tr := otel.Tracer("outbox.runner")
	prop := otel.GetTextMapPropagator()

	ctxSpan, span := tr.Start(ctx, "outbox.tick")
	defer span.End()
	span.SetAttributes(
		attribute.Int("batch.limit", r.cfg.BatchSize),
		attribute.String("in_progress_ttl", r.cfg.InProgressTTL.String()),
	)

	messages, err := r.repo.PickBatch(ctxSpan, r.cfg.BatchSize, r.cfg.InProgressTTL)
	if err != nil {
		span.RecordError(err)
		r.mErr.Inc()
		obs.WithTrace(ctxSpan, r.log).Error("outbox pick error", zap.Error(err))
		return 0
	}
	r.mPicked.Add(float64(len(messages)))
	r.mBatchSize.Set(float64(len(messages)))

	doneKeys := make([]string, 0, len(messages))
	for _, m := range messages {
		parent := prop.Extract(ctx, propagation.MapCarrier{
			"traceparent": m.Traceparent,
			"tracestate":  m.Tracestate,
			"baggage":     m.Baggage,
		})
		if r.handle(parent, tr, m) {
			doneKeys = append(doneKeys, m.IdempotencyKey)
		}
	}

	if err := r.repo.MarkSuccess(ctxSpan, doneKeys); err != nil {
		span.RecordError(err)
		r.mErr.Inc()
		obs.WithTrace(ctxSpan, r.log).Error("mark success error", zap.Error(err))
		return 0
	}
	return len(doneKeys)
}

// handle reports whether m is finished: published, or failed permanently.
func (r *Runner) handle(ctx context.Context, tr trace.Tracer, m outbox.Message) bool {
	msgCtx, span := tr.Start(ctx, "outbox.dispatch",
		trace.WithAttributes(
			attribute.String("outbox.key", m.IdempotencyKey),
			attribute.String("outbox.kind", m.Kind.String()),
		),
	)
	defer span.End()
	log := obs.WithTrace(msgCtx, r.log)

	handler, err := r.dispatch(m.Kind)
	if err != nil {
		span.RecordError(err)
		r.mErr.Inc()
		log.Error("no handler for kind", zap.Int("kind", int(m.Kind)), zap.Error(err))
		return false
	}

	if err := handler(msgCtx, m.Data); err != nil {
		span.RecordError(err)
		if retry.IsPermanent(err) {
			r.mDead.Inc()
			log.Error("dropping outbox message", zap.String("key", m.IdempotencyKey), zap.Error(err))
			return true
		}
		r.mErr.Inc()
		log.Error("handler error", zap.String("kind", m.Kind.String()), zap.Error(err))
		return false
	}
	r.mOk.Inc()
	return true
}
