package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"google.golang.org/genai"

	"github.com/x-08/agentcloud/embeddings"
	"github.com/x-08/agentcloud/schema"
)

var (
	ErrNoAPIKey     = errors.New("gemini: API key is required")
	ErrInvalidModel = errors.New("gemini: invalid model specified")
	ErrEmbeddings   = fmt.Errorf("%w: gemini returned unusable embeddings", schema.ErrEmbedding)
)

const defaultModel = "text-embedding-004"

// Embedder embeds text with the Gemini embedding API.
type Embedder struct {
	client    *genai.Client
	model     string
	dimension int
	taskType  string
	logger    *slog.Logger
}

var _ embeddings.Embedder = (*Embedder)(nil)

// New creates a new Gemini embedder. The API key falls back to GEMINI_API_KEY.
func New(ctx context.Context, opts ...Option) (*Embedder, error) {
	o := applyOptions(opts...)

	if o.apiKey == "" {
		o.apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if o.apiKey == "" {
		return nil, ErrNoAPIKey
	}
	if o.model == "" {
		return nil, ErrInvalidModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  o.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &Embedder{
		client:    client,
		model:     o.model,
		dimension: o.dimension,
		taskType:  o.taskType,
		logger:    o.logger.With("component", "gemini_embedder", "model", o.model),
	}, nil
}

// EmbedDocuments generates embeddings for a slice of texts.
func (g *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	res, err := g.client.Models.EmbedContent(ctx, g.model, contents, g.config())
	if err != nil {
		g.logger.ErrorContext(ctx, "Embedding API call failed", "texts", len(texts), "error", err)
		return nil, classify(err)
	}

	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, but got %d", ErrEmbeddings, len(texts), len(res.Embeddings))
	}

	vectors := make([][]float32, len(res.Embeddings))
	for i, e := range res.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("%w: embedding %d is nil or empty", ErrEmbeddings, i)
		}
		vectors[i] = e.Values
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single text query.
func (g *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, embeddings.ErrEmptyText
	}
	vectors, err := g.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// GetDimension returns the configured output dimensionality, or probes the
// model when none was configured.
func (g *Embedder) GetDimension(ctx context.Context) (int, error) {
	if g.dimension > 0 {
		return g.dimension, nil
	}
	v, err := g.EmbedQuery(ctx, "dimension")
	if err != nil {
		return 0, err
	}
	g.dimension = len(v)
	return g.dimension, nil
}

func (g *Embedder) config() *genai.EmbedContentConfig {
	cfg := &genai.EmbedContentConfig{TaskType: g.taskType}
	if g.dimension > 0 {
		cfg.OutputDimensionality = genai.Ptr(int32(g.dimension))
	}
	return cfg
}

// classify treats quota and server failures as transport errors and every
// other API rejection as an embedding error.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code != http.StatusTooManyRequests && apiErr.Code < http.StatusInternalServerError {
		return fmt.Errorf("%w: gemini rejected request: %w", schema.ErrEmbedding, err)
	}
	return fmt.Errorf("%w: gemini embed: %w", schema.ErrTransport, err)
}

type options struct {
	model     string
	apiKey    string
	dimension int
	taskType  string
	logger    *slog.Logger
}

// Option is a function type for configuring the embedder.
type Option func(*options)

func applyOptions(opts ...Option) options {
	o := options{
		model:    defaultModel,
		taskType: "RETRIEVAL_DOCUMENT",
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithModel sets the embedding model name.
func WithModel(model string) Option {
	return func(opts *options) {
		opts.model = model
	}
}

// WithAPIKey sets the Gemini API key.
func WithAPIKey(apiKey string) Option {
	return func(opts *options) {
		opts.apiKey = apiKey
	}
}

// WithDimension requests a reduced output dimensionality.
func WithDimension(dim int) Option {
	return func(opts *options) {
		opts.dimension = dim
	}
}

// WithTaskType sets the embedding task type, e.g. RETRIEVAL_QUERY.
func WithTaskType(taskType string) Option {
	return func(opts *options) {
		opts.taskType = taskType
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) {
		if logger != nil {
			opts.logger = logger
		}
	}
}
