package qdrant

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

const (
	defaultEndpoint = "http://localhost:6334"
	defaultPort     = 6334
)

var ErrInvalidOptions = errors.New("qdrant: invalid options provided")

type options struct {
	endpoint       url.URL
	apiKey         string
	logger         *slog.Logger
	useTLS         bool
	timeout        time.Duration
	retryAttempts  int
	batchSize      int
	maxConcurrency int

	// err holds the first option that could not be applied.
	err error
}

type Option func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithURL sets the gRPC endpoint, e.g. http://qdrant:6334. An https scheme
// enables TLS.
func WithURL(rawURL string) Option {
	return func(o *options) {
		parsed, err := url.Parse(strings.TrimSpace(rawURL))
		if err != nil || parsed.Host == "" {
			o.fail(fmt.Errorf("%w: %q", ErrInvalidURL, rawURL))
			return
		}
		o.endpoint = *parsed
		o.useTLS = parsed.Scheme == "https"
	}
}

func WithAPIKey(apiKey string) Option {
	return func(o *options) { o.apiKey = strings.TrimSpace(apiKey) }
}

// WithTimeout bounds every call made to Qdrant.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// WithRetryAttempts sets how often a transient upsert failure is retried.
func WithRetryAttempts(attempts int) Option {
	return func(o *options) {
		if attempts < 0 {
			o.fail(fmt.Errorf("%w: retry attempts cannot be negative", ErrInvalidOptions))
			return
		}
		o.retryAttempts = attempts
	}
}

// WithBatchSize sets how many points go into one upsert request.
func WithBatchSize(size int) Option {
	return func(o *options) { o.batchSize = size }
}

// WithMaxConcurrency bounds the upsert batches in flight for one call.
func WithMaxConcurrency(n int) Option {
	return func(o *options) { o.maxConcurrency = n }
}

func (o *options) fail(err error) {
	if o.err == nil {
		o.err = err
	}
}

func parseOptions(opts ...Option) (options, error) {
	o := options{
		logger:         slog.Default(),
		timeout:        30 * time.Second,
		retryAttempts:  DefaultRetryAttempts,
		batchSize:      DefaultBatchSize,
		maxConcurrency: DefaultMaxConcurrency,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.err != nil {
		return o, o.err
	}

	if o.endpoint.Host == "" {
		u, _ := url.Parse(defaultEndpoint)
		o.endpoint = *u
	}
	switch {
	case o.endpoint.Scheme != "http" && o.endpoint.Scheme != "https":
		return o, fmt.Errorf("%w: URL scheme must be http or https, got %q", ErrInvalidOptions, o.endpoint.Scheme)
	case o.batchSize <= 0 || o.batchSize > MaxBatchSize:
		return o, fmt.Errorf("%w: batch size must be between 1 and %d", ErrInvalidOptions, MaxBatchSize)
	case o.maxConcurrency <= 0:
		return o, fmt.Errorf("%w: max concurrency must be positive", ErrInvalidOptions)
	}
	return o, nil
}

// LogValue hides the API key when the options are logged.
func (o options) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("endpoint", o.endpoint.Host),
		slog.Bool("tls", o.useTLS),
		slog.Duration("timeout", o.timeout),
		slog.Bool("api_key", o.apiKey != ""),
	)
}
