package ollama

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/x-08/agentcloud/embeddings"
	"github.com/x-08/agentcloud/schema"
)

var (
	ErrInvalidModel        = errors.New("ollama: invalid model specified")
	ErrIncompleteEmbedding = fmt.Errorf("%w: ollama did not embed every input", embeddings.ErrCount)
)

// Embedder embeds text through an Ollama server's /api/embed endpoint.
type Embedder struct {
	client *api.Client
	model  string
	logger *slog.Logger

	dimension int
	dimErr    error
	dimOnce   sync.Once
}

var _ embeddings.Embedder = (*Embedder)(nil)

// New creates a new Ollama embedder. Without WithServerURL the client is
// configured from OLLAMA_HOST.
func New(opts ...Option) (*Embedder, error) {
	o := applyOptions(opts...)

	if o.model == "" {
		return nil, ErrInvalidModel
	}

	var client *api.Client
	if o.serverURL != nil {
		httpClient := o.httpClient
		if httpClient == nil {
			httpClient = &http.Client{Timeout: 2 * time.Minute}
		}
		client = api.NewClient(o.serverURL, httpClient)
	} else {
		var err error
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
	}

	return &Embedder{
		client: client,
		model:  o.model,
		logger: o.logger.With("component", "ollama_embedder", "model", o.model),
	}, nil
}

// EmbedDocuments embeds all texts in a single request.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	start := time.Now()
	resp, err := e.client.Embed(ctx, &api.EmbedRequest{
		Model: e.model,
		Input: texts,
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "Embedding API call failed",
			"texts", len(texts), "error", err, "duration", time.Since(start))
		return nil, classify(err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrIncompleteEmbedding, len(texts), len(resp.Embeddings))
	}

	e.logger.DebugContext(ctx, "Embeddings created", "texts", len(texts), "duration", time.Since(start))
	return resp.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, embeddings.ErrEmptyText
	}
	vectors, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// GetDimension embeds a probe text once and caches its length.
func (e *Embedder) GetDimension(ctx context.Context) (int, error) {
	e.dimOnce.Do(func() {
		v, err := e.EmbedQuery(ctx, "dimension test")
		if err != nil {
			e.dimErr = fmt.Errorf("failed to get dimension: %w", err)
			return
		}
		e.dimension = len(v)
	})
	return e.dimension, e.dimErr
}

// classify separates a rejected request, such as an unknown model, from an
// unreachable or failing server.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var status api.StatusError
	if errors.As(err, &status) && status.StatusCode < http.StatusInternalServerError {
		return fmt.Errorf("%w: ollama rejected request: %w", schema.ErrEmbedding, err)
	}
	return fmt.Errorf("%w: ollama embed: %w", schema.ErrTransport, err)
}

type options struct {
	model      string
	serverURL  *url.URL
	httpClient *http.Client
	logger     *slog.Logger
}

// Option is a function type for configuring the Ollama embedder.
type Option func(*options)

func applyOptions(opts ...Option) options {
	o := options{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func WithModel(model string) Option {
	return func(opts *options) {
		opts.model = model
	}
}

func WithServerURL(rawURL string) Option {
	return func(opts *options) {
		if parsedURL, err := url.Parse(rawURL); err == nil && rawURL != "" {
			opts.serverURL = parsedURL
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(opts *options) {
		opts.httpClient = client
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) {
		if logger != nil {
			opts.logger = logger
		}
	}
}
