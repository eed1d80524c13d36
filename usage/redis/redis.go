// Package redis implements the usage counter with Redis INCRBY.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/x-08/agentcloud/schema"
	"github.com/x-08/agentcloud/usage"
)

type options struct {
	key     string
	timeout time.Duration
	logger  *slog.Logger
}

type Option func(*options)

// WithKey overrides the counter key.
func WithKey(key string) Option {
	return func(o *options) {
		if key != "" {
			o.key = key
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Tracker keeps the counter in one Redis key.
type Tracker struct {
	client  goredis.UniversalClient
	key     string
	timeout time.Duration
	logger  *slog.Logger
}

var _ usage.Tracker = (*Tracker)(nil)

// Connect parses a redis:// URL, checks the server and returns a tracker
// owning the client.
func Connect(ctx context.Context, rawURL string, opts ...Option) (*Tracker, error) {
	redisOpts, err := goredis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := goredis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: redis ping failed: %w", schema.ErrTransport, err)
	}
	return New(client, opts...), nil
}

func New(client goredis.UniversalClient, opts ...Option) *Tracker {
	o := options{
		key:     usage.DefaultKey,
		timeout: 5 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Tracker{
		client:  client,
		key:     o.key,
		timeout: o.timeout,
		logger:  o.logger.With("component", "usage_tracker"),
	}
}

func (t *Tracker) Increment(ctx context.Context, n int64) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	total, err := t.client.IncrBy(ctx, t.key, n).Result()
	if err != nil {
		t.logger.WarnContext(ctx, "Usage increment failed", "key", t.key, "error", err)
		return fmt.Errorf("%w: redis incrby: %w", schema.ErrTransport, err)
	}
	t.logger.DebugContext(ctx, "Usage incremented", "key", t.key, "total", total)
	return nil
}

func (t *Tracker) Count(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	n, err := t.client.Get(ctx, t.key).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: redis get: %w", schema.ErrTransport, err)
	}
	return n, nil
}

func (t *Tracker) Close() error {
	return t.client.Close()
}
