// Package kafkaconsumer applies layer change events to this replica's
// resolve state.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/Berto-e/spiderfy/internal/events"
	"github.com/Berto-e/spiderfy/internal/hotness"
	"github.com/Berto-e/spiderfy/internal/observability"
	"github.com/Berto-e/spiderfy/internal/refresh"
)

// LayoutInvalidator is the slice of the resolve service the consumer
// drives.
type LayoutInvalidator interface {
	Invalidate(layer string) int
	Warm(ctx context.Context, layer string) error
}

type Consumer struct {
	cfg    Config
	inv    LayoutInvalidator
	hot    hotness.Interface
	policy refresh.Decider
	log    zerolog.Logger
	dedupe *versionDedupe
}

func New(cfg Config, inv LayoutInvalidator, hot hotness.Interface, policy refresh.Decider, log zerolog.Logger) *Consumer {
	cfg = cfg.withDefaults()
	if policy == nil {
		policy = refresh.Simple{}
	}
	return &Consumer{
		cfg:    cfg,
		inv:    inv,
		hot:    hot,
		policy: policy,
		log:    log,
		dedupe: newVersionDedupe(cfg.DedupeSize),
	}
}

// Start consumes layer events until ctx ends.
func (c *Consumer) Start(ctx context.Context) error {
	if c.inv == nil {
		return errors.New("kafkaconsumer: missing invalidator")
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

	handler := &groupHandler{process: c.ProcessOne}

	c.log.Info().
		Strs("brokers", c.cfg.Brokers).
		Str("topic", c.cfg.Topic).
		Str("group", c.cfg.GroupID).
		Msg("layer event consumer starting")

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("layer event consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.log.Error().Err(err).
					Strs("brokers", c.cfg.Brokers).
					Str("topic", c.cfg.Topic).
					Msg("kafka consumer error")
				time.Sleep(2 * time.Second)
			}
		}
	}
}

// ProcessOne applies a single layer event. Undecodable and invalid
// messages are skipped rather than retried, a poison message must not
// wedge the partition.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev events.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		observability.IncEventConsumed("invalid")
		c.log.Error().Err(err).
			Str("topic", msg.Topic).
			Int32("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("undecodable layer event")
		return nil
	}
	if err := ev.Validate(); err != nil {
		observability.IncEventConsumed("invalid")
		c.log.Error().Err(err).
			Str("layer", ev.Layer).
			Str("op", ev.Op).
			Msg("invalid layer event")
		return nil
	}

	switch ev.Op {
	case events.OpReplace:
		if !c.dedupe.shouldApply(ev.Layer, uint64(ev.LayerVersion)) {
			observability.IncEventConsumed("skipped")
			c.log.Debug().
				Str("layer", ev.Layer).
				Int64("version", ev.LayerVersion).
				Msg("stale layer event skipped")
			return nil
		}

		dropped := c.inv.Invalidate(ev.Layer)
		action, reason := c.policy.Decide(ev.Layer, c.hot)
		if action == refresh.ActionWarm {
			if err := c.inv.Warm(ctx, ev.Layer); err != nil {
				c.log.Warn().Err(err).Str("layer", ev.Layer).Msg("warm after replace failed")
			}
		}

		observability.IncEventConsumed("applied")
		c.log.Info().
			Str("event", "layer_event").
			Str("op", ev.Op).
			Str("layer", ev.Layer).
			Int64("version", ev.LayerVersion).
			Int("memos_dropped", dropped).
			Str("action", action.String()).
			Str("reason", string(reason)).
			Msg("layer event applied")

	case events.OpDelete:
		dropped := c.inv.Invalidate(ev.Layer)
		if c.hot != nil {
			c.hot.Forget(ev.Layer)
		}

		observability.IncEventConsumed("applied")
		c.log.Info().
			Str("event", "layer_event").
			Str("op", ev.Op).
			Str("layer", ev.Layer).
			Int("memos_dropped", dropped).
			Msg("layer event applied")
	}
	return nil
}
