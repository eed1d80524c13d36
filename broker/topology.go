// Package broker subscribes to the RabbitMQ stream exchange.
package broker

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/x-08/agentcloud/schema"
)

// Topology names the exchange, queue and binding the proxy consumes from.
// Failed messages are dead-lettered to DeadLetterExchange and collected in
// DeadLetterQueue.
type Topology struct {
	Exchange   string
	Queue      string
	RoutingKey string
	Prefetch   int
}

func (t Topology) DeadLetterExchange() string { return t.Exchange + ".dlx" }

func (t Topology) DeadLetterQueue() string { return t.Queue + ".dead" }

// prefetchOrDefault keeps one unacknowledged message in flight unless
// configured otherwise.
func (t Topology) prefetchOrDefault() int {
	if t.Prefetch <= 0 {
		return 1
	}
	return t.Prefetch
}

func (t Topology) validate() error {
	if t.Exchange == "" || t.Queue == "" {
		return fmt.Errorf("%w: exchange and queue are required", schema.ErrTransport)
	}
	return nil
}

// declarer is the part of *amqp.Channel the topology needs.
type declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
}

// declare is idempotent: redeclaring with the same arguments is a no-op on
// the broker.
func (t Topology) declare(ch declarer) error {
	if err := t.validate(); err != nil {
		return err
	}

	if err := ch.ExchangeDeclare(t.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", t.Exchange, err)
	}
	if err := ch.ExchangeDeclare(t.DeadLetterExchange(), amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(t.DeadLetterQueue(), true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter queue: %w", err)
	}
	if err := ch.QueueBind(t.DeadLetterQueue(), "", t.DeadLetterExchange(), false, nil); err != nil {
		return fmt.Errorf("bind dead-letter queue: %w", err)
	}

	if _, err := ch.QueueDeclare(t.Queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange": t.DeadLetterExchange(),
	}); err != nil {
		return fmt.Errorf("declare queue %s: %w", t.Queue, err)
	}
	if err := ch.QueueBind(t.Queue, t.RoutingKey, t.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", t.Queue, err)
	}

	if err := ch.Qos(t.prefetchOrDefault(), 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}
	return nil
}
