package schema

import (
	"maps"
)

// Document is a slice of source text together with its metadata. Identity is
// defined by PageContent alone: two documents with the same text and different
// metadata are the same document for comparison and dedupe purposes.
type Document struct {
	PageContent     string
	Metadata        map[string]string
	EmbeddingVector []float32
}

func (d Document) String() string {
	return d.PageContent
}

func NewDocument(content string, metadata map[string]string) Document {
	if metadata == nil {
		metadata = make(map[string]string)
	}
	return Document{
		PageContent: content,
		Metadata:    metadata,
	}
}

// Equal reports whether both documents carry the same page content.
func (d Document) Equal(other Document) bool {
	return d.PageContent == other.PageContent
}

// Key is the hash key of the document. It is usable as a map key.
func (d Document) Key() string {
	return d.PageContent
}

// WithEmbedding returns a copy of the document carrying vector.
func (d Document) WithEmbedding(vector []float32) Document {
	d.Metadata = CloneMetadata(d.Metadata)
	d.EmbeddingVector = vector
	return d
}

// Dedupe drops documents whose content was already seen, keeping the first.
func Dedupe(docs []Document) []Document {
	seen := make(map[string]struct{}, len(docs))
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if _, ok := seen[doc.Key()]; ok {
			continue
		}
		seen[doc.Key()] = struct{}{}
		out = append(out, doc)
	}
	return out
}

func CloneMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	maps.Copy(out, m)
	return out
}

type CollectionInfo struct {
	Name           string `json:"name"`            // Name of the collection.
	PointsCount    uint64 `json:"points_count"`    // Number of points (vectors) in the collection.
	VectorSize     uint64 `json:"vector_size"`     // Dimensionality of the vectors in this collection.
	VectorDistance string `json:"vector_distance"` // Distance metric used by the collection (e.g., "Cosine").
}
