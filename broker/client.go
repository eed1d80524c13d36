package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/x-08/agentcloud/schema"
)

const (
	DefaultReconnectDelay    = time.Second
	DefaultMaxReconnectDelay = 30 * time.Second
	DefaultDialTimeout       = 10 * time.Second
)

var ErrNotConnected = fmt.Errorf("%w: not connected to broker", schema.ErrTransport)

type Config struct {
	URL               string
	Topology          Topology
	ConsumerTag       string
	DialTimeout       time.Duration
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConsumerTag == "" {
		c.ConsumerTag = "vector-db-proxy"
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = DefaultMaxReconnectDelay
	}
	return c
}

// Client owns one connection and one channel. Consume survives connection
// loss by redialing with backoff.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	conn      *amqp.Connection
	ch        *amqp.Channel
	cancelled bool
}

func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "broker"),
	}
}

// Connect dials the broker and declares the topology.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.cfg.Topology.validate(); err != nil {
		return err
	}

	conn, err := amqp.DialConfig(c.cfg.URL, amqp.Config{
		Heartbeat: 10 * time.Second,
		Dial:      amqp.DefaultDial(c.cfg.DialTimeout),
		Properties: amqp.Table{
			"connection_name": c.cfg.ConsumerTag,
		},
	})
	if err != nil {
		return fmt.Errorf("%w: dial: %w", schema.ErrTransport, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("%w: open channel: %w", schema.ErrTransport, err)
	}
	if err := c.cfg.Topology.declare(ch); err != nil {
		_ = conn.Close()
		return fmt.Errorf("%w: %w", schema.ErrTransport, err)
	}

	c.mu.Lock()
	c.conn, c.ch = conn, ch
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "Connected to broker",
		"exchange", c.cfg.Topology.Exchange, "queue", c.cfg.Topology.Queue, "routing_key", c.cfg.Topology.RoutingKey)
	return nil
}

// Consume subscribes to the queue. The returned channel stays open across
// reconnects and closes after Cancel or when ctx is done.
func (c *Client) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	deliveries, err := c.subscribe(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan amqp.Delivery)
	go c.pump(ctx, deliveries, out)
	return out, nil
}

func (c *Client) subscribe(ctx context.Context) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	connected := c.ch != nil && !c.ch.IsClosed()
	c.mu.Unlock()
	if !connected {
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
	}

	return c.startConsume()
}

// startConsume opens the consumer on the current channel. A Close that ran
// since the connection was checked leaves no channel to consume from.
func (c *Client) startConsume() (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch == nil || c.ch.IsClosed() {
		return nil, ErrNotConnected
	}
	deliveries, err := c.ch.Consume(c.cfg.Topology.Queue, c.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: consume %s: %w", schema.ErrTransport, c.cfg.Topology.Queue, err)
	}
	return deliveries, nil
}

func (c *Client) pump(ctx context.Context, deliveries <-chan amqp.Delivery, out chan<- amqp.Delivery) {
	defer close(out)

	for {
		if !c.forward(ctx, deliveries, out) {
			return
		}
		c.logger.WarnContext(ctx, "Broker delivery channel closed, reconnecting")

		var ok bool
		deliveries, ok = c.reconnect(ctx)
		if !ok {
			return
		}
	}
}

// forward copies deliveries until the source closes. It reports whether the
// subscription should be re-established.
func (c *Client) forward(ctx context.Context, deliveries <-chan amqp.Delivery, out chan<- amqp.Delivery) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case d, ok := <-deliveries:
			if !ok {
				return ctx.Err() == nil && !c.isCancelled()
			}
			select {
			case out <- d:
			case <-ctx.Done():
				return false
			}
		}
	}
}

func (c *Client) reconnect(ctx context.Context) (<-chan amqp.Delivery, bool) {
	delay := c.cfg.ReconnectDelay
	for attempt := 1; ; attempt++ {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, false
		}
		if c.isCancelled() {
			return nil, false
		}

		c.closeConnection()
		deliveries, err := c.subscribe(ctx)
		if err == nil {
			c.logger.InfoContext(ctx, "Reconnected to broker", "attempts", attempt)
			return deliveries, true
		}
		c.logger.WarnContext(ctx, "Reconnect failed", "attempt", attempt, "retry_in", delay, "error", err)
		delay = min(delay*2, c.cfg.MaxReconnectDelay)
	}
}

// Cancel stops the subscription. Unacknowledged deliveries are returned to
// the queue by the broker.
func (c *Client) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = true
	if c.ch == nil || c.ch.IsClosed() {
		return nil
	}
	if err := c.ch.Cancel(c.cfg.ConsumerTag, false); err != nil {
		return fmt.Errorf("%w: cancel %s: %w", schema.ErrTransport, c.cfg.ConsumerTag, err)
	}
	return nil
}

// Healthy reports whether the connection is open.
func (c *Client) Healthy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.conn.IsClosed() {
		return ErrNotConnected
	}
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	c.cancelled = true
	c.mu.Unlock()
	return c.closeConnection()
}

func (c *Client) isCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

func (c *Client) closeConnection() error {
	c.mu.Lock()
	conn := c.conn
	c.conn, c.ch = nil, nil
	c.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	if err := conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return nil
}
