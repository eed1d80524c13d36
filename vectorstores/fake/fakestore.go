package fake

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"

	"github.com/x-08/agentcloud/schema"
	"github.com/x-08/agentcloud/vectorstores"
)

type collection struct {
	dimension int
	order     []string
	points    map[string]schema.VectorPoint
}

// Upsert records one UpsertPoints call.
type Upsert struct {
	Collection string
	Points     []schema.VectorPoint
	Options    vectorstores.Options
}

// Store is an in-memory vector store for testing purposes.
type Store struct {
	mu          sync.Mutex
	collections map[string]*collection
	upserts     []Upsert
	err         error
}

var _ vectorstores.VectorStore = (*Store)(nil)

// New a new fake vector store.
func New() *Store {
	return &Store{collections: make(map[string]*collection)}
}

// SetError makes every following call fail with err. Nil clears it.
func (s *Store) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Upserts returns the accepted upsert calls in order.
func (s *Store) Upserts() []Upsert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.upserts)
}

// Points returns every point of a collection in insertion order.
func (s *Store) Points(name string) []schema.VectorPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.collections[name]
	if !ok {
		return nil
	}
	out := make([]schema.VectorPoint, 0, len(col.order))
	for _, id := range col.order {
		out = append(out, col.points[id])
	}
	return out
}

func (s *Store) UpsertPoints(_ context.Context, name string, points []schema.VectorPoint, options ...vectorstores.Option) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if len(points) == 0 {
		return nil
	}

	opts := vectorstores.ParseOptions(options...)
	dim := opts.ExpectedDimension
	if dim <= 0 {
		dim = len(points[0].Vector)
	}
	if err := vectorstores.ValidatePoints(points, dim); err != nil {
		return err
	}

	col, ok := s.collections[name]
	if !ok {
		col = &collection{dimension: dim, points: make(map[string]schema.VectorPoint)}
		s.collections[name] = col
	}
	if col.dimension != dim {
		return fmt.Errorf("%w: collection %s stores %d-dimensional vectors, got %d", schema.ErrDimensionMismatch, name, col.dimension, dim)
	}

	for _, p := range points {
		if _, exists := col.points[p.ID]; !exists {
			col.order = append(col.order, p.ID)
		}
		col.points[p.ID] = p
	}
	s.upserts = append(s.upserts, Upsert{Collection: name, Points: slices.Clone(points), Options: opts})
	return nil
}

func (s *Store) GetPoints(_ context.Context, name string, ids []string) ([]schema.VectorPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	col, ok := s.collections[name]
	if !ok {
		return nil, vectorstores.ErrCollectionNotFound
	}
	out := make([]schema.VectorPoint, 0, len(ids))
	for _, id := range ids {
		if p, ok := col.points[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// Scroll pages in insertion order; the offset is the id of the first point
// of the next page.
func (s *Store) Scroll(_ context.Context, name string, req vectorstores.ScrollRequest) (vectorstores.ScrollPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return vectorstores.ScrollPage{}, s.err
	}
	col, ok := s.collections[name]
	if !ok {
		return vectorstores.ScrollPage{}, vectorstores.ErrCollectionNotFound
	}

	start := 0
	if req.Offset != "" {
		start = slices.Index(col.order, req.Offset)
		if start < 0 {
			return vectorstores.ScrollPage{}, vectorstores.ErrPointNotFound
		}
	}

	page := vectorstores.ScrollPage{Points: []schema.VectorPoint{}}
	for i := start; i < len(col.order); i++ {
		p := col.points[col.order[i]]
		if !matches(p.Payload, req.Filters) {
			continue
		}
		if len(page.Points) == req.Limit {
			page.NextOffset = p.ID
			break
		}
		if !req.WithVectors {
			p.Vector = nil
		}
		page.Points = append(page.Points, p)
	}
	return page, nil
}

func (s *Store) Search(_ context.Context, name string, vector []float32, limit int, options ...vectorstores.Option) ([]vectorstores.ScoredPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	col, ok := s.collections[name]
	if !ok {
		return nil, vectorstores.ErrCollectionNotFound
	}

	opts := vectorstores.ParseOptions(options...)
	hits := make([]vectorstores.ScoredPoint, 0, len(col.order))
	for _, id := range col.order {
		p := col.points[id]
		if !matches(p.Payload, opts.Filters) {
			continue
		}
		score := cosine(vector, p.Vector)
		if score < opts.ScoreThreshold {
			continue
		}
		hits = append(hits, vectorstores.ScoredPoint{Point: p, Score: score})
	}
	slices.SortStableFunc(hits, func(a, b vectorstores.ScoredPoint) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *Store) CreateCollection(_ context.Context, name string, dimension int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if _, ok := s.collections[name]; ok {
		return vectorstores.ErrCollectionExists
	}
	s.collections[name] = &collection{dimension: dimension, points: make(map[string]schema.VectorPoint)}
	return nil
}

func (s *Store) DeleteCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if _, ok := s.collections[name]; !ok {
		return vectorstores.ErrCollectionNotFound
	}
	delete(s.collections, name)
	return nil
}

func (s *Store) ListCollections(_ context.Context) ([]schema.CollectionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	infos := make([]schema.CollectionInfo, 0, len(s.collections))
	for name, col := range s.collections {
		infos = append(infos, schema.CollectionInfo{
			Name:           name,
			PointsCount:    uint64(len(col.points)),
			VectorSize:     uint64(col.dimension),
			VectorDistance: "Cosine",
		})
	}
	slices.SortFunc(infos, func(a, b schema.CollectionInfo) int { return strings.Compare(a.Name, b.Name) })
	return infos, nil
}

func (s *Store) Health(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func matches(payload, filters map[string]string) bool {
	for k, v := range filters {
		if payload[k] != v {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
