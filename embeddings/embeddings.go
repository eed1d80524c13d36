package embeddings

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/x-08/agentcloud/schema"
)

// Embedder turns text into vectors. Implementations talk to an external
// embedding provider.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	GetDimension(ctx context.Context) (int, error)
}

// EmbedderImpl wraps a provider client with input preprocessing, batching and
// bounded batch concurrency.
type EmbedderImpl struct {
	client Embedder
	opts   options
}

var (
	ErrEmptyText = fmt.Errorf("%w: text cannot be empty", schema.ErrEmbedding)
	ErrCount     = fmt.Errorf("%w: embedding count mismatch", schema.ErrEmbedding)
)

func NewEmbedder(client Embedder, opts ...Option) (Embedder, error) {
	if client == nil {
		return nil, errors.New("embeddings: client cannot be nil")
	}
	if _, ok := client.(*EmbedderImpl); ok {
		return nil, errors.New("embeddings: cannot wrap an already-wrapped EmbedderImpl")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.batchSize <= 0 {
		o.batchSize = DefaultBatchSize
	}
	o.maxConcurrency = max(o.maxConcurrency, 1)

	return &EmbedderImpl{client: client, opts: o}, nil
}

func (e *EmbedderImpl) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	vector, err := e.client.EmbedQuery(ctx, e.preprocessText(text))
	if err != nil {
		return nil, wrap(err)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: provider returned an empty vector", schema.ErrEmbedding)
	}
	return vector, nil
}

func (e *EmbedderImpl) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prepared := make([]string, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("%w (index %d)", ErrEmptyText, i)
		}
		prepared[i] = e.preprocessText(text)
	}

	batches := batchTexts(prepared, e.opts.batchSize)
	results := make([][][]float32, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.maxConcurrency)
	for i, batch := range batches {
		g.Go(func() error {
			vectors, err := e.client.EmbedDocuments(gctx, batch)
			if err != nil {
				return fmt.Errorf("error embedding batch %d: %w", i, err)
			}
			if len(vectors) != len(batch) {
				return fmt.Errorf("%w: batch %d sent %d texts, got %d vectors", ErrCount, i, len(batch), len(vectors))
			}
			results[i] = vectors
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, wrap(err)
	}

	vectors := make([][]float32, 0, len(texts))
	for _, batch := range results {
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (e *EmbedderImpl) GetDimension(ctx context.Context) (int, error) {
	dim, err := e.client.GetDimension(ctx)
	if err != nil {
		return 0, wrap(err)
	}
	return dim, nil
}

func (e *EmbedderImpl) preprocessText(text string) string {
	if e.opts.stripNewLines {
		return strings.ReplaceAll(text, "\n", " ")
	}
	return text
}

// wrap classifies provider failures as embedding errors. Context errors are
// kept as they are so callers can tell cancellation apart.
func wrap(err error) error {
	if errors.Is(err, schema.ErrEmbedding) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", schema.ErrEmbedding, err)
}

func batchTexts(texts []string, size int) [][]string {
	batches := make([][]string, 0, (len(texts)+size-1)/size)
	for chunk := range slices.Chunk(texts, size) {
		batches = append(batches, chunk)
	}
	return batches
}
