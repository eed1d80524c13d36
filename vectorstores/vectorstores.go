package vectorstores

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/x-08/agentcloud/schema"
)

var (
	ErrCollectionNotFound = errors.New("collection not found")
	ErrCollectionExists   = errors.New("collection already exists")
	ErrPointNotFound      = errors.New("point not found")
	// ErrTransport marks a vector store call that failed at the connection level.
	ErrTransport = fmt.Errorf("vector store: %w", schema.ErrTransport)
)

// PointWriter writes points into a collection.
type PointWriter interface {
	UpsertPoints(ctx context.Context, collection string, points []schema.VectorPoint, options ...Option) error
}

// PointReader reads points back out of a collection.
type PointReader interface {
	GetPoints(ctx context.Context, collection string, ids []string) ([]schema.VectorPoint, error)
	Scroll(ctx context.Context, collection string, req ScrollRequest) (ScrollPage, error)
	Search(ctx context.Context, collection string, vector []float32, limit int, options ...Option) ([]ScoredPoint, error)
}

type CollectionManager interface {
	CreateCollection(ctx context.Context, name string, dimension int) error
	DeleteCollection(ctx context.Context, name string) error
	ListCollections(ctx context.Context) ([]schema.CollectionInfo, error)
}

// VectorStore is the full vector database surface used by the proxy.
type VectorStore interface {
	PointWriter
	PointReader
	CollectionManager
	Health(ctx context.Context) error
}

// ScoredPoint is a search hit.
type ScoredPoint struct {
	Point schema.VectorPoint `json:"point"`
	Score float32            `json:"score"`
}

// ScrollRequest pages through a collection. Offset is the id returned as
// NextOffset by the previous page; empty starts from the beginning.
type ScrollRequest struct {
	Limit       int               `json:"limit"`
	Offset      string            `json:"offset,omitempty"`
	Filters     map[string]string `json:"filters,omitempty"`
	WithVectors bool              `json:"with_vectors,omitempty"`
}

type ScrollPage struct {
	Points     []schema.VectorPoint `json:"points"`
	NextOffset string               `json:"next_offset,omitempty"`
}

type Option func(*Options)

type Options struct {
	ExpectedDimension int
	ModelName         string
	ScoreThreshold    float32
	Filters           map[string]string
}

// WithExpectedDimension makes an upsert reject points whose vectors do not
// have exactly dim components, and sizes collections created on demand.
func WithExpectedDimension(dim int) Option {
	return func(opts *Options) {
		opts.ExpectedDimension = dim
	}
}

// WithModelName records the embedding model behind the written vectors.
func WithModelName(model string) Option {
	return func(opts *Options) {
		opts.ModelName = model
	}
}

func WithScoreThreshold(threshold float32) Option {
	return func(opts *Options) {
		opts.ScoreThreshold = threshold
	}
}

func WithFilters(filters map[string]string) Option {
	return func(opts *Options) {
		if opts.Filters == nil {
			opts.Filters = make(map[string]string)
		}
		maps.Copy(opts.Filters, filters)
	}
}

func WithFilter(key, value string) Option {
	return func(opts *Options) {
		if opts.Filters == nil {
			opts.Filters = make(map[string]string)
		}
		opts.Filters[key] = value
	}
}

func ParseOptions(options ...Option) Options {
	opts := Options{
		Filters: make(map[string]string),
	}
	for _, option := range options {
		option(&opts)
	}
	return opts
}

// ValidatePoints checks every point against the expected dimension before
// anything is sent to the store.
func ValidatePoints(points []schema.VectorPoint, dimension int) error {
	for _, p := range points {
		if err := p.Validate(dimension); err != nil {
			return err
		}
	}
	return nil
}
