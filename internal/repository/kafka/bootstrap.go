package kafka

import (
	"context"
	"time"

	"github.com/NordCoder/Notifyhub/internal/obs"
	"go.uber.org/zap"
)

// BootstrapConsumer makes sure the topic exists before joining the group.
// A failed create is only logged: the reader keeps retrying until the topic
// shows up.
func BootstrapConsumer(ctx context.Context, cfg *ConsumerConfig) *Consumer {
	err := EnsureTopic(ctx, cfg.Brokers, TopicSpec{
		Name:              cfg.Topic,
		NumPartitions:     cfg.Partitions,
		ReplicationFactor: cfg.ReplicationFactor,
		MaxWait:           5 * time.Second,
	}, cfg.Logger)
	if err != nil {
		obs.Component(cfg.Logger, "kafka.bootstrap").Warn("topic not ensured",
			zap.String("topic", cfg.Topic), zap.Error(err))
	}
	return NewConsumer(cfg)
}
