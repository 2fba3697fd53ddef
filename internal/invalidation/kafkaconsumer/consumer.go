// Package kafkaconsumer applies invalidation events from a Kafka topic to the
// overlay cache and coverage index.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	obs "github.com/mohammed-shakir/geotiff-overlay/internal/core/observability"
	"github.com/mohammed-shakir/geotiff-overlay/internal/engine"
	"github.com/mohammed-shakir/geotiff-overlay/internal/invalidation"
	mylog "github.com/mohammed-shakir/geotiff-overlay/internal/logger"
)

// Evictor is satisfied by *engine.Engine.
type Evictor interface {
	EvictSource(ctx context.Context, source string) (int, error)
	EvictLayer(ctx context.Context, layer string) (int, error)
	EvictArea(ctx context.Context, area engine.Area) (int, error)
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	target Evictor
	dedupe *idDedupe
	zlog   *zerolog.Logger
}

func New(cfg Config, logger *slog.Logger, target Evictor) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		cfg:    cfg,
		logger: logger,
		target: target,
		dedupe: newIDDedupe(cfg.DedupeSize),
	}
}

// Start consumes invalidation events until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	if c.target == nil {
		return errors.New("kafkaconsumer: missing eviction target")
	}
	if len(c.cfg.Brokers) == 0 {
		return errors.New("kafkaconsumer: no brokers configured")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	base := mylog.WithComponent(context.Background(), "kafka_consumer")
	zl := mylog.Build(mylog.Config{
		Level:     c.cfg.LogLevel,
		Service:   "overlayd",
		Component: "kafka_consumer",
	}, nil)
	c.zlog = mylog.FromContext(base, &zl)

	handler := &groupHandler{process: c.ProcessOne, logger: c.logger}

	c.logger.Info("kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("kafka invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.zlog.Error().Err(err).
					Strs("brokers", c.cfg.Brokers).
					Str("topic", c.cfg.Topic).
					Msg("kafka consumer error")
				select {
				case <-ctx.Done():
				case <-time.After(2 * time.Second):
				}
			}
		}
	}
}

// ProcessOne applies a single message. Malformed events are counted, logged
// and skipped; an eviction failure is returned so the offset is not marked
// and the event is redelivered.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()

	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.reject(ctx, msg, "decode", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		c.reject(ctx, msg, "invalid", err)
		return nil
	}
	if c.dedupe.seen(ev.ID) {
		c.logger.Debug("duplicate invalidation skipped", "id", ev.ID)
		return nil
	}

	ctx = mylog.WithLayer(mylog.WithSource(ctx, ev.Source), ev.Layer)
	evicted, err := c.apply(ctx, ev)
	obs.ObserveInvalidation(ev.Op, evicted, time.Since(start), err)
	if err != nil {
		obs.IncKafkaConsumerError("evict")
		mylog.FromContext(ctx, c.zlog).Error().Err(err).
			Str("kind", "evict").
			Str("topic", msg.Topic).
			Int32("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("kafka error")
		return fmt.Errorf("evict: %w", err)
	}
	c.dedupe.remember(ev.ID)

	c.logger.Debug("invalidated overlays", "op", ev.Op, "source", ev.Source, "layer", ev.Layer, "evicted", evicted)
	mylog.FromContext(ctx, c.zlog).Info().
		Str("event", "invalidation").
		Str("op", ev.Op).
		Int("evicted", evicted).
		Dur("took", time.Since(start)).
		Msg("invalidated overlays")
	return nil
}

// apply runs every eviction the event asks for.
func (c *Consumer) apply(ctx context.Context, ev invalidation.Event) (int, error) {
	total := 0
	var errs []error
	add := func(n int, err error) {
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	if ev.Source != "" {
		add(c.target.EvictSource(ctx, ev.Source))
	}
	if ev.Layer != "" {
		add(c.target.EvictLayer(ctx, ev.Layer))
	}
	if area, ok := ev.Area(); ok {
		add(c.target.EvictArea(ctx, area))
	}
	return total, errors.Join(errs...)
}

func (c *Consumer) reject(ctx context.Context, msg *sarama.ConsumerMessage, kind string, err error) {
	obs.IncKafkaConsumerError(kind)
	c.logger.Warn("invalidation event dropped", "kind", kind, "offset", msg.Offset, "err", err)
	mylog.FromContext(ctx, c.zlog).Error().Err(err).
		Str("kind", kind).
		Str("topic", msg.Topic).
		Int32("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Msg("kafka error")
}
