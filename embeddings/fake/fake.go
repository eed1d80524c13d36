// Package fake provides a deterministic in-memory embedder for tests.
package fake

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/x-08/agentcloud/embeddings"
)

// Embedder derives a stable vector of a fixed dimension from each text.
type Embedder struct {
	dimension int

	mu    sync.Mutex
	err   error
	calls int
	texts []string
}

var _ embeddings.Embedder = (*Embedder)(nil)

// New creates a fake embedder producing vectors of dimension dim.
func New(dim int) *Embedder {
	return &Embedder{dimension: dim}
}

// SetError makes every following call fail with err. A nil err restores
// normal behaviour.
func (e *Embedder) SetError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

// Calls reports how many provider calls were made.
func (e *Embedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Texts returns every text embedded so far, in call order.
func (e *Embedder) Texts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.texts...)
}

func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.record(ctx, texts...); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = Vector(t, e.dimension)
	}
	return out, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := e.record(ctx, text); err != nil {
		return nil, err
	}
	return Vector(text, e.dimension), nil
}

func (e *Embedder) GetDimension(_ context.Context) (int, error) {
	return e.dimension, nil
}

func (e *Embedder) record(ctx context.Context, texts ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return e.err
	}
	e.texts = append(e.texts, texts...)
	return nil
}

// Vector is the deterministic embedding of text used by the fake.
func Vector(text string, dim int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	v := make([]float32, dim)
	for i := range v {
		seed ^= seed << 13
		seed ^= seed >> 7
		seed ^= seed << 17
		v[i] = float32(seed%2000)/1000 - 1
	}
	return v
}
