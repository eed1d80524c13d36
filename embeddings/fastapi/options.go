package fastapi

import (
	"log/slog"
	"net/http"
	"time"
)

const (
	DefaultRetries    = 2
	DefaultRetryDelay = 250 * time.Millisecond
)

type options struct {
	httpClient *http.Client
	logger     *slog.Logger
	task       string
	apiKey     string
	model      string
	dimension  int
	retries    int
	retryDelay time.Duration
}

type Option func(*options)

func defaultOptions() options {
	return options{
		httpClient: &http.Client{Timeout: time.Minute},
		logger:     slog.Default(),
		retries:    DefaultRetries,
		retryDelay: DefaultRetryDelay,
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		if client != nil {
			o.httpClient = client
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

// WithTask is forwarded to servers that distinguish query and passage
// embeddings.
func WithTask(task string) Option {
	return func(o *options) { o.task = task }
}

// WithAPIKey is sent as X-Api-Key.
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithModel selects the model on servers hosting several.
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// WithDimension skips the dimension probe request.
func WithDimension(dim int) Option {
	return func(o *options) { o.dimension = dim }
}

// WithRetries sets how many times a transport failure is retried.
// Zero disables retries.
func WithRetries(n int, delay time.Duration) Option {
	return func(o *options) {
		o.retries = max(n, 0)
		if delay > 0 {
			o.retryDelay = delay
		}
	}
}
