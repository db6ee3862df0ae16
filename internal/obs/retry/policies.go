package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// PublishPolicy is used by the outbox when handing notification events to
// Kafka. Six attempts cover a broker leader election.
func PublishPolicy(log *zap.Logger) Policy {
	if log == nil {
		log = zap.NewNop()
	}
	return Policy{
		Name:     "outbox_publish",
		Attempts: 6,
		Backoff:  ExpoJitter{Base: 200 * time.Millisecond, Max: 30 * time.Second, Jitter: 0.2},
		OnAttempt: func(i int, err error) {
			log.Warn("publish attempt failed", zap.Int("attempt", i+1), zap.Error(err))
		},
		OnExhaust: func(err error) {
			if !errors.Is(err, context.Canceled) {
				log.Error("publish gave up", zap.Error(err))
			}
		},
	}
}

// SeedPolicy keeps trying while the database container is still coming up.
func SeedPolicy(log *zap.Logger, attempts int, wait time.Duration) Policy {
	if log == nil {
		log = zap.NewNop()
	}
	return Policy{
		Name:     "db_seed",
		Attempts: attempts,
		Backoff:  Constant(wait),
		OnAttempt: func(i int, err error) {
			log.Info("database not ready, retrying seed", zap.Int("attempt", i+1), zap.Error(err))
		},
	}
}
