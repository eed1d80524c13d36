package schema

import (
	"fmt"

	"github.com/google/uuid"
)

// PageContentKey is the payload field holding the primary text of a point.
const PageContentKey = "page_content"

// VectorPoint is the unit written to the vector store.
type VectorPoint struct {
	ID      string            `json:"id"`
	Vector  []float32         `json:"vector"`
	Payload map[string]string `json:"payload"`
}

// NewVectorPoint builds a point with a freshly generated random id. Ids carry
// no content identity, so re-ingesting the same text yields a new point.
func NewVectorPoint(vector []float32, payload map[string]string) VectorPoint {
	return VectorPoint{
		ID:      uuid.New().String(),
		Vector:  vector,
		Payload: CloneMetadata(payload),
	}
}

// PointFromDocument turns an embedded document into a point; the page content
// is stored under PageContentKey.
func PointFromDocument(doc Document) VectorPoint {
	payload := CloneMetadata(doc.Metadata)
	payload[PageContentKey] = doc.PageContent
	return NewVectorPoint(doc.EmbeddingVector, payload)
}

// Validate checks the vector length against the configured dimension.
func (p VectorPoint) Validate(dimension int) error {
	if dimension > 0 && len(p.Vector) != dimension {
		return fmt.Errorf("%w: point %s has %d dimensions, expected %d", ErrDimensionMismatch, p.ID, len(p.Vector), dimension)
	}
	if len(p.Vector) == 0 {
		return fmt.Errorf("%w: point %s has an empty vector", ErrUpsert, p.ID)
	}
	return nil
}
