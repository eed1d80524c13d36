// Package gcs fetches objects from Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/x-08/agentcloud/objectstore"
	"github.com/x-08/agentcloud/schema"
)

// DefaultMaxObjectSize caps how much of an object is read into memory.
const DefaultMaxObjectSize int64 = 64 << 20

type options struct {
	credentialsFile string
	endpoint        string
	anonymous       bool
	maxSize         int64
	timeout         time.Duration
	logger          *slog.Logger
}

type Option func(*options)

func WithCredentialsFile(path string) Option {
	return func(o *options) {
		o.credentialsFile = path
	}
}

// WithEndpoint points the client at an emulator or a private endpoint.
// Requests to a custom endpoint are sent without authentication.
func WithEndpoint(endpoint string) Option {
	return func(o *options) {
		if endpoint != "" {
			o.endpoint = endpoint
			o.anonymous = true
		}
	}
}

func WithMaxObjectSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxSize = n
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

type Fetcher struct {
	client  *storage.Client
	maxSize int64
	timeout time.Duration
	logger  *slog.Logger
}

var _ objectstore.Fetcher = (*Fetcher)(nil)

func New(ctx context.Context, opts ...Option) (*Fetcher, error) {
	o := options{
		maxSize: DefaultMaxObjectSize,
		timeout: 2 * time.Minute,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	var clientOpts []option.ClientOption
	if o.credentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(o.credentialsFile))
	}
	if o.endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(o.endpoint))
	}
	if o.anonymous {
		clientOpts = append(clientOpts, option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create storage client: %w", schema.ErrTransport, err)
	}
	return &Fetcher{
		client:  client,
		maxSize: o.maxSize,
		timeout: o.timeout,
		logger:  o.logger.With("component", "gcs_fetcher"),
	}, nil
}

func (f *Fetcher) Fetch(ctx context.Context, p objectstore.Pointer) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	start := time.Now()
	reader, err := f.client.Bucket(p.Bucket).Object(p.Name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return nil, fmt.Errorf("%w: %s: %w", schema.ErrExtraction, p, objectstore.ErrObjectNotFound)
		}
		return nil, fmt.Errorf("%w: open %s: %w", schema.ErrTransport, p, err)
	}
	defer reader.Close()

	if reader.Attrs.Size > f.maxSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", objectstore.ErrObjectTooLarge, p, reader.Attrs.Size)
	}

	data, err := io.ReadAll(io.LimitReader(reader, f.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", schema.ErrTransport, p, err)
	}
	if int64(len(data)) > f.maxSize {
		return nil, fmt.Errorf("%w: %s", objectstore.ErrObjectTooLarge, p)
	}

	f.logger.DebugContext(ctx, "Object fetched", "object", p.String(), "bytes", len(data), "duration", time.Since(start))
	return data, nil
}

func (f *Fetcher) Close() error {
	return f.client.Close()
}
