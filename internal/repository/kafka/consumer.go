package kafka

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/NordCoder/Notifyhub/internal/obs"
	"github.com/NordCoder/Notifyhub/internal/obs/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

type Handler func(ctx context.Context, key, value []byte) error

// Reader is the subset of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var consumerSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kafka_consumer_skipped_total",
	Help: "Messages committed without being handled, by topic and reason.",
}, []string{"topic", "reason"})

type Consumer struct {
	reader Reader
	log    *zap.Logger
	cfg    *ConsumerConfig
	fetch  retry.Backoff
}

type ConsumerConfig struct {
	Brokers       []string
	GroupID       string
	Topic         string
	FromBeginning bool
	Logger        *zap.Logger

	// Retry wraps every handler call. Zero value means 3 attempts with
	// exponential backoff.
	Retry retry.Policy

	// Used by BootstrapConsumer when the topic has to be created.
	Partitions        int
	ReplicationFactor int
}

func NewConsumer(cfg *ConsumerConfig) *Consumer {
	start := kafka.LastOffset
	if cfg.FromBeginning {
		start = kafka.FirstOffset
	}
	return NewConsumerWithReader(kafka.NewReader(kafka.ReaderConfig{
		Brokers:               cfg.Brokers,
		GroupID:               cfg.GroupID,
		Topic:                 cfg.Topic,
		StartOffset:           start,
		WatchPartitionChanges: true,

		MinBytes:          1e3,
		MaxBytes:          10e6,
		SessionTimeout:    10 * time.Second,
		RebalanceTimeout:  15 * time.Second,
		HeartbeatInterval: 3 * time.Second,
	}), cfg)
}

func NewConsumerWithReader(r Reader, cfg *ConsumerConfig) *Consumer {
	log := obs.Component(cfg.Logger, "kafka.consumer").With(
		zap.String("topic", cfg.Topic),
		zap.String("group", cfg.GroupID),
	)
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = retry.Policy{
			Attempts: 3,
			Backoff:  retry.ExpoJitter{Base: 200 * time.Millisecond, Max: 5 * time.Second, Jitter: 0.2},
		}
	}
	if cfg.Retry.Name == "" {
		cfg.Retry.Name = "kafka_consume_" + cfg.Topic
	}
	return &Consumer{
		reader: r,
		log:    log,
		cfg:    cfg,
		fetch:  retry.ExpoJitter{Base: 200 * time.Millisecond, Max: 5 * time.Second},
	}
}

// Consume hands every message to h until ctx is done. A message whose handler
// still fails after the retry policy is logged, counted and committed so one
// bad message cannot stall the partition.
func (c *Consumer) Consume(ctx context.Context, h Handler) error {
	log := c.log
	log.Info("consumer started")

	failures := 0
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("consumer stopped")
				return ctx.Err()
			}
			wait := c.fetch.Next(failures)
			failures++
			if errors.Is(err, io.EOF) {
				log.Debug("fetch EOF; retry", zap.Duration("backoff", wait))
			} else {
				log.Warn("fetch failed; retry", zap.Error(err), zap.Duration("backoff", wait))
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		failures = 0

		msgCtx := otel.GetTextMapPropagator().Extract(ctx, headerCarrier{&msg.Headers})
		err = retry.Do(msgCtx, func() error { return h(msgCtx, msg.Key, msg.Value) }, c.cfg.Retry)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			reason := "exhausted"
			if retry.IsPermanent(err) {
				reason = "permanent"
			}
			consumerSkipped.WithLabelValues(c.cfg.Topic, reason).Inc()
			obs.WithTrace(msgCtx, log).Error("skipping message",
				zap.String("reason", reason),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				log.Info("commit interrupted by context cancel")
				return ctx.Err()
			}
			log.Warn("commit failed; will retry later", zap.Error(err))
		}
	}
}

func (c *Consumer) Close() error { return c.reader.Close() }
