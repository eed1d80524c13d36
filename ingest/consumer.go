package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/x-08/agentcloud/schema"
)

// ErrSourceClosed is returned when the delivery channel closes before the
// consumer was asked to stop.
var ErrSourceClosed = fmt.Errorf("%w: delivery channel closed", schema.ErrTransport)

// Source delivers broker messages. Cancel stops the subscription.
type Source interface {
	Consume(ctx context.Context) (<-chan amqp.Delivery, error)
	Cancel() error
}

// ConsumerStats counts settled messages.
type ConsumerStats struct {
	Committed int64 `json:"committed"`
	Failed    int64 `json:"failed"`
}

// Consumer pulls deliveries one at a time and settles each by its outcome:
// committed messages are acked, failed ones are rejected without requeue so
// the broker dead-letters them.
type Consumer struct {
	source   Source
	pipeline *Pipeline
	logger   *slog.Logger

	committed atomic.Int64
	failed    atomic.Int64
}

func NewConsumer(source Source, pipeline *Pipeline, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		source:   source,
		pipeline: pipeline,
		logger:   logger.With("component", "stream_consumer"),
	}
}

// Run blocks until ctx is cancelled or the source closes.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.source.Consume(ctx)
	if err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "Stream consumer started")

	for {
		select {
		case <-ctx.Done():
			if err := c.source.Cancel(); err != nil {
				c.logger.WarnContext(ctx, "Failed to cancel subscription", "error", err)
			}
			c.logger.InfoContext(ctx, "Stream consumer stopped",
				"committed", c.committed.Load(), "failed", c.failed.Load())
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrSourceClosed
			}
			c.settle(ctx, d, c.handle(ctx, d))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{State: StateFailed, Err: fmt.Errorf("handler panic: %v", r)}
		}
	}()
	return c.pipeline.Handle(ctx, d)
}

func (c *Consumer) settle(ctx context.Context, d amqp.Delivery, out Outcome) {
	if out.State == StateCommitted {
		c.committed.Add(1)
		if err := d.Ack(false); err != nil {
			c.logger.ErrorContext(ctx, "Failed to ack message", "tag", d.DeliveryTag, "error", err)
		}
		return
	}

	c.failed.Add(1)
	level := slog.LevelError
	if errors.Is(out.Err, schema.ErrHeader) {
		level = slog.LevelWarn
	}
	c.logger.Log(ctx, level, "Message dead-lettered",
		"tag", d.DeliveryTag, "datasource", out.DatasourceID, "error", out.Err)
	if err := d.Nack(false, false); err != nil {
		c.logger.ErrorContext(ctx, "Failed to nack message", "tag", d.DeliveryTag, "error", err)
	}
}

func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{Committed: c.committed.Load(), Failed: c.failed.Load()}
}
