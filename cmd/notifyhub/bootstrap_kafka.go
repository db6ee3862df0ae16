package main

import (
	"context"
	"time"

	config "github.com/NordCoder/Notifyhub/internal/config/notifyhub"
	kafkaport "github.com/NordCoder/Notifyhub/internal/domain/kafka"
	"github.com/NordCoder/Notifyhub/internal/repository/kafka"
	"go.uber.org/zap"
)

// bus holds the Kafka side. Every field stays nil when kafka is disabled.
type bus struct {
	notifications kafkaport.NotificationEvents
	presence      kafkaport.PresenceEvents
	dispatch      *kafka.Consumer
	closers       []func() error
}

func initBus(ctx context.Context, cfg *config.Config, logger *zap.Logger) *bus {
	b := &bus{}
	if !cfg.Kafka.Enable {
		logger.Info("kafka disabled")
		return b
	}
	k := cfg.Kafka

	specs := k.TopicSpecs(5*time.Second, k.NotificationsTopic, k.PresenceTopic)
	if err := kafka.EnsureTopics(ctx, k.Brokers, logger, specs...); err != nil {
		logger.Warn("kafka topics not ensured", zap.Error(err))
	}

	notifications := kafka.NewProducer(k.Brokers, k.NotificationsTopic, logger)
	presence := kafka.NewProducer(k.Brokers, k.PresenceTopic, logger)
	b.notifications = kafka.NewNotificationEventsKafka(notifications)
	b.presence = kafka.NewPresenceEventsKafka(presence)
	b.closers = append(b.closers, notifications.Close, presence.Close)

	if k.DispatchTopic != "" {
		b.dispatch = kafka.BootstrapConsumer(ctx, &kafka.ConsumerConfig{
			Brokers:           k.Brokers,
			GroupID:           k.GroupID,
			Topic:             k.DispatchTopic,
			Logger:            logger,
			Partitions:        k.Partitions,
			ReplicationFactor: k.ReplicationFactor,
		})
		b.closers = append(b.closers, b.dispatch.Close)
	}
	return b
}

func (b *bus) Close() {
	for _, c := range b.closers {
		_ = c()
	}
}
