package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
)

type MessageHandler interface {
	Handle(ctx context.Context, msg *sarama.ConsumerMessage) error
}

type Consumer struct {
	group   sarama.ConsumerGroup
	handler MessageHandler
	retries int
	backoff time.Duration
	logger  *slog.Logger
}

type ConsumerOptions struct {
	// Retries is how many times a failing message is handed back to the
	// handler before the claim is abandoned. The offset stays unmarked, so the
	// next session redelivers the message.
	Retries int
	Backoff time.Duration
	Logger  *slog.Logger
}

func NewConsumer(brokers []string, groupID string, cfg *sarama.Config, handler MessageHandler, opts ConsumerOptions) (*Consumer, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	g, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, err
	}
	return &Consumer{group: g, handler: handler, retries: opts.Retries, backoff: opts.Backoff, logger: opts.Logger}, nil
}

// Run joins the group until ctx is done. A claim that gives up on a message
// ends the session; the loop rejoins and resumes from the last marked offset.
func (c *Consumer) Run(ctx context.Context, topics []string) error {
	h := consumerGroupHandler{handler: c.handler, retries: c.retries, backoff: c.backoff, logger: c.logger}
	for {
		if err := c.group.Consume(ctx, topics, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

type consumerGroupHandler struct {
	handler MessageHandler
	retries int
	backoff time.Duration
	logger  *slog.Logger
}

func (h consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h consumerGroupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		if err := h.deliver(sess.Context(), message); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			if h.logger != nil {
				h.logger.Error("message undelivered, leaving offset for redelivery", "topic", message.Topic, "partition", message.Partition, "offset", message.Offset, "error", err)
			}
			return fmt.Errorf("deliver %s/%d@%d: %w", message.Topic, message.Partition, message.Offset, err)
		}
		sess.MarkMessage(message, "")
	}
	return nil
}

func (h consumerGroupHandler) deliver(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var err error
	for attempt := 0; attempt <= h.retries; attempt++ {
		if err = h.handler.Handle(ctx, msg); err == nil {
			return nil
		}
		if attempt == h.retries {
			break
		}
		if h.logger != nil {
			h.logger.Warn("message handling failed, retrying", "topic", msg.Topic, "offset", msg.Offset, "attempt", attempt+1, "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(h.backoff * time.Duration(attempt+1)):
		}
	}
	return err
}
