// Package ingest turns stream messages into vector store points.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/x-08/agentcloud/embeddings"
	"github.com/x-08/agentcloud/metadata"
	"github.com/x-08/agentcloud/schema"
	"github.com/x-08/agentcloud/usage"
	"github.com/x-08/agentcloud/vectorstores"
)

// ErrMissingTextField is returned when a record lacks the datasource's text field.
var ErrMissingTextField = fmt.Errorf("%w: record has no text field", schema.ErrLookup)

// EmbedderSource resolves the embedder of a model. *embeddings.Registry
// implements it.
type EmbedderSource interface {
	For(ctx context.Context, model schema.EmbeddingModel) (embeddings.Embedder, error)
}

// Timeouts bound every external call of the write path.
type Timeouts struct {
	Lookup time.Duration
	Fetch  time.Duration
	Embed  time.Duration
	Upsert time.Duration
	Usage  time.Duration
}

// DefaultTimeouts are used for zero fields.
var DefaultTimeouts = Timeouts{
	Lookup: 10 * time.Second,
	Fetch:  2 * time.Minute,
	Embed:  time.Minute,
	Upsert: 30 * time.Second,
	Usage:  5 * time.Second,
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Lookup <= 0 {
		t.Lookup = DefaultTimeouts.Lookup
	}
	if t.Fetch <= 0 {
		t.Fetch = DefaultTimeouts.Fetch
	}
	if t.Embed <= 0 {
		t.Embed = DefaultTimeouts.Embed
	}
	if t.Upsert <= 0 {
		t.Upsert = DefaultTimeouts.Upsert
	}
	if t.Usage <= 0 {
		t.Usage = DefaultTimeouts.Usage
	}
	return t
}

// WritePath embeds records and writes them as points, one point per record
// or chunk, counting every successful upsert.
type WritePath struct {
	metadata  metadata.Store
	embedders EmbedderSource
	store     vectorstores.PointWriter
	usage     usage.Tracker
	timeouts  Timeouts
	logger    *slog.Logger
}

func NewWritePath(
	meta metadata.Store,
	embedders EmbedderSource,
	store vectorstores.PointWriter,
	tracker usage.Tracker,
	timeouts Timeouts,
	logger *slog.Logger,
) *WritePath {
	if logger == nil {
		logger = slog.Default()
	}
	return &WritePath{
		metadata:  meta,
		embedders: embedders,
		store:     store,
		usage:     tracker,
		timeouts:  timeouts.withDefaults(),
		logger:    logger.With("component", "write_path"),
	}
}

// Process writes one JSON record and reports success. Failures are logged.
func (w *WritePath) Process(ctx context.Context, datasourceID, payload string) bool {
	if _, err := w.ProcessRecord(ctx, datasourceID, payload); err != nil {
		w.logger.ErrorContext(ctx, "Failed to process record", "datasource", datasourceID, "error", err)
		return false
	}
	return true
}

// ProcessRecord writes one JSON record: the datasource's text field moves to
// page_content, every other field is kept as flattened payload.
func (w *WritePath) ProcessRecord(ctx context.Context, datasourceID, payload string) (schema.VectorPoint, error) {
	cfg, err := w.Lookup(ctx, datasourceID)
	if err != nil {
		return schema.VectorPoint{}, err
	}

	fields, err := decodeRecord(payload)
	if err != nil {
		return schema.VectorPoint{}, err
	}
	text, ok := fields[cfg.TextField]
	if !ok {
		return schema.VectorPoint{}, fmt.Errorf("%w: %q", ErrMissingTextField, cfg.TextField)
	}
	delete(fields, cfg.TextField)
	fields[schema.PageContentKey] = text

	return w.write(ctx, cfg, text, fields)
}

// ProcessText writes a queued item. The item payload is the text; its
// metadata becomes the point payload.
func (w *WritePath) ProcessText(ctx context.Context, item schema.QueueItem) error {
	cfg, err := w.Lookup(ctx, item.DatasourceID)
	if err != nil {
		return err
	}
	fields := schema.CloneMetadata(item.Metadata)
	fields[schema.PageContentKey] = item.Payload
	_, err = w.write(ctx, cfg, item.Payload, fields)
	return err
}

// ProcessDocuments embeds chunk documents in one batch and upserts each
// point on its own. It stops at the first failed upsert.
func (w *WritePath) ProcessDocuments(ctx context.Context, cfg schema.DatasourceConfig, docs []schema.Document) error {
	if len(docs) == 0 {
		return nil
	}
	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.PageContent
	}

	vectors, err := w.embed(ctx, cfg, texts)
	if err != nil {
		return err
	}

	for i, doc := range docs {
		point := schema.PointFromDocument(doc.WithEmbedding(vectors[i]))
		if err := w.upsert(ctx, cfg, point); err != nil {
			return fmt.Errorf("chunk %d of %d: %w", i+1, len(docs), err)
		}
	}
	w.logger.InfoContext(ctx, "Documents written", "datasource", cfg.ID, "chunks", len(docs))
	return nil
}

// Lookup resolves the datasource configuration under the lookup deadline.
func (w *WritePath) Lookup(ctx context.Context, datasourceID string) (schema.DatasourceConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeouts.Lookup)
	defer cancel()

	cfg, err := w.metadata.DatasourceConfig(ctx, datasourceID)
	if err != nil {
		if !errors.Is(err, schema.ErrLookup) {
			err = fmt.Errorf("%w: %w", schema.ErrLookup, err)
		}
		return schema.DatasourceConfig{}, err
	}
	return cfg, nil
}

// Embed returns the vector of one text under the datasource's model.
func (w *WritePath) Embed(ctx context.Context, cfg schema.DatasourceConfig, text string) ([]float32, error) {
	vectors, err := w.embed(ctx, cfg, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (w *WritePath) write(ctx context.Context, cfg schema.DatasourceConfig, text string, payload map[string]string) (schema.VectorPoint, error) {
	vector, err := w.Embed(ctx, cfg, text)
	if err != nil {
		return schema.VectorPoint{}, err
	}
	point := schema.NewVectorPoint(vector, payload)
	if err := w.upsert(ctx, cfg, point); err != nil {
		return schema.VectorPoint{}, err
	}
	return point, nil
}

func (w *WritePath) embed(ctx context.Context, cfg schema.DatasourceConfig, texts []string) ([][]float32, error) {
	embedder, err := w.embedders.For(ctx, cfg.Model)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeouts.Embed)
	defer cancel()

	start := time.Now()
	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		if !errors.Is(err, schema.ErrEmbedding) {
			err = fmt.Errorf("%w: %w", schema.ErrEmbedding, err)
		}
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", schema.ErrEmbedding, len(vectors), len(texts))
	}
	w.logger.DebugContext(ctx, "Texts embedded",
		"datasource", cfg.ID, "model", cfg.Model.Name, "count", len(texts), "duration", time.Since(start))
	return vectors, nil
}

func (w *WritePath) upsert(ctx context.Context, cfg schema.DatasourceConfig, point schema.VectorPoint) error {
	upsertCtx, cancel := context.WithTimeout(ctx, w.timeouts.Upsert)
	defer cancel()

	err := w.store.UpsertPoints(upsertCtx, cfg.CollectionName(), []schema.VectorPoint{point},
		vectorstores.WithExpectedDimension(cfg.Model.Dimension),
		vectorstores.WithModelName(cfg.Model.Name),
	)
	if err != nil {
		if !errors.Is(err, schema.ErrUpsert) && !errors.Is(err, schema.ErrTransport) {
			err = fmt.Errorf("%w: %w", schema.ErrUpsert, err)
		}
		return err
	}

	usageCtx, cancelUsage := context.WithTimeout(ctx, w.timeouts.Usage)
	defer cancelUsage()
	if err := w.usage.Increment(usageCtx, 1); err != nil {
		w.logger.WarnContext(ctx, "Failed to record usage", "datasource", cfg.ID, "error", err)
	}
	return nil
}
