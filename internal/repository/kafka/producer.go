package kafka

import (
	"context"
	"fmt"

	"github.com/NordCoder/Notifyhub/internal/obs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

var producerWrites = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kafka_producer_messages_total",
	Help: "Messages handed to the Kafka writer, by topic and result.",
}, []string{"topic", "result"})

// Writer is the subset of *kafka.Writer the producer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes protobuf values to one topic. The caller's trace context
// travels in the message headers.
type Producer struct {
	w      Writer
	topic  string
	log    *zap.Logger
	tracer trace.Tracer
}

func NewProducer(brokers []string, topic string, log *zap.Logger) *Producer {
	return NewProducerWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}, topic, log)
}

func NewProducerWithWriter(w Writer, topic string, log *zap.Logger) *Producer {
	return &Producer{
		w:      w,
		topic:  topic,
		log:    obs.Component(log, "kafka.producer").With(zap.String("topic", topic)),
		tracer: otel.Tracer("kafka.producer"),
	}
}

func (p *Producer) PublishProto(ctx context.Context, key []byte, m proto.Message) error {
	value, err := proto.Marshal(m)
	if err != nil {
		producerWrites.WithLabelValues(p.topic, "encode_error").Inc()
		return fmt.Errorf("encode %T: %w", m, err)
	}

	ctx, span := p.tracer.Start(ctx, "kafka.produce "+p.topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingDestinationName(p.topic),
			semconv.MessagingOperationPublish,
			semconv.MessagingKafkaMessageKey(string(key)),
		),
	)
	defer span.End()

	var hdrs []kafka.Header
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{&hdrs})

	if err := p.w.WriteMessages(ctx, kafka.Message{Key: key, Value: value, Headers: hdrs}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		producerWrites.WithLabelValues(p.topic, "error").Inc()
		obs.WithTrace(ctx, p.log).Warn("kafka write failed", zap.ByteString("key", key), zap.Error(err))
		return err
	}
	producerWrites.WithLabelValues(p.topic, "ok").Inc()
	p.log.Debug("message published", zap.ByteString("key", key), zap.Int("bytes", len(value)))
	return nil
}

func (p *Producer) Close() error { return p.w.Close() }

func KeyFromString(id string) []byte { return []byte(id) }
