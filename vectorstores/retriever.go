package vectorstores

import (
	"context"
	"fmt"

	"github.com/x-08/agentcloud/embeddings"
	"github.com/x-08/agentcloud/schema"
)

// Retriever embeds a query and returns the closest documents of a collection.
type Retriever struct {
	embedder embeddings.Embedder
	store    PointReader
	numDocs  int
}

// NewRetriever creates a retriever returning up to numDocs documents.
func NewRetriever(embedder embeddings.Embedder, store PointReader, numDocs int) *Retriever {
	if numDocs <= 0 {
		numDocs = 4
	}
	return &Retriever{embedder: embedder, store: store, numDocs: numDocs}
}

// GetRelevantDocuments retrieves documents from the vector store. Each
// document carries its similarity score under the "score" metadata key.
func (r *Retriever) GetRelevantDocuments(ctx context.Context, collection, query string, options ...Option) ([]schema.Document, error) {
	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := r.store.Search(ctx, collection, vector, r.numDocs, options...)
	if err != nil {
		return nil, err
	}

	docs := make([]schema.Document, 0, len(hits))
	for _, hit := range hits {
		meta := schema.CloneMetadata(hit.Point.Payload)
		content := meta[schema.PageContentKey]
		delete(meta, schema.PageContentKey)
		meta["score"] = fmt.Sprintf("%.4f", hit.Score)
		docs = append(docs, schema.NewDocument(content, meta))
	}
	return docs, nil
}
