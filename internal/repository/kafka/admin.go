package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/NordCoder/Notifyhub/internal/obs"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type TopicSpec struct {
	Name              string
	NumPartitions     int
	ReplicationFactor int
	MaxWait           time.Duration
}

func (s TopicSpec) withDefaults() TopicSpec {
	if s.NumPartitions <= 0 {
		s.NumPartitions = 1
	}
	if s.ReplicationFactor <= 0 {
		s.ReplicationFactor = 1
	}
	if s.MaxWait <= 0 {
		s.MaxWait = 5 * time.Second
	}
	return s
}

func EnsureTopic(ctx context.Context, brokers []string, spec TopicSpec, log *zap.Logger) error {
	return EnsureTopics(ctx, brokers, log, spec)
}

// EnsureTopics creates the missing topics through the cluster controller and
// waits up to each MaxWait for partitions to show up. A topic that is created
// but never confirmed is logged, not returned.
func EnsureTopics(ctx context.Context, brokers []string, log *zap.Logger, specs ...TopicSpec) error {
	if len(brokers) == 0 {
		return errors.New("kafka: no brokers configured")
	}
	log = obs.Component(log, "kafka.admin")

	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("kafka dial %s: %w", brokers[0], err)
	}
	defer conn.Close()

	ctrl, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("kafka controller lookup: %w", err)
	}
	cc, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(ctrl.Host, strconv.Itoa(ctrl.Port)))
	if err != nil {
		return fmt.Errorf("kafka dial controller: %w", err)
	}
	defer cc.Close()

	var errs []error
	for _, spec := range specs {
		spec = spec.withDefaults()
		tlog := log.With(zap.String("topic", spec.Name))

		err := cc.CreateTopics(kafka.TopicConfig{
			Topic:             spec.Name,
			NumPartitions:     spec.NumPartitions,
			ReplicationFactor: spec.ReplicationFactor,
		})
		if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
			tlog.Warn("create topic", zap.Error(err))
			errs = append(errs, fmt.Errorf("create %s: %w", spec.Name, err))
			continue
		}
		if err := waitPartitions(ctx, conn, spec, tlog); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}

func waitPartitions(ctx context.Context, conn *kafka.Conn, spec TopicSpec, log *zap.Logger) error {
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	deadline := time.Now().Add(spec.MaxWait)
	for time.Now().Before(deadline) {
		if ps, err := conn.ReadPartitions(spec.Name); err == nil && len(ps) > 0 {
			log.Info("topic ready", zap.Int("partitions", len(ps)))
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
	log.Warn("topic not confirmed ready in time")
	return nil
}
