package main

import (
	"context"
	"log"
	"time"

	config "github.com/NordCoder/Notifyhub/internal/config/notifyhub"
	"github.com/NordCoder/Notifyhub/internal/obs"
	"github.com/NordCoder/Notifyhub/internal/repository/kafka"
	"go.uber.org/zap"
)

// kafka-init creates the service topics before the first deploy. It reads the
// same config as notifyhub, so KAFKA_BROKERS and the *_TOPIC variables apply.
func main() {
	cfg, err := config.Read("")
	if err != nil {
		log.Fatal(err)
	}
	logger, err := obs.NewLogger(*cfg.Log.AsLoggerConfig(cfg.App))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	k := cfg.Kafka
	specs := k.TopicSpecs(30*time.Second, k.NotificationsTopic, k.PresenceTopic, k.DispatchTopic)
	if err := kafka.EnsureTopics(ctx, k.Brokers, logger, specs...); err != nil {
		logger.Fatal("ensure topics", zap.Error(err))
	}
	logger.Info("kafka-init ok", zap.Int("topics", len(specs)))
}
