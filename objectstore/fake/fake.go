// Package fake provides an in-memory object store for tests.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/x-08/agentcloud/objectstore"
	"github.com/x-08/agentcloud/schema"
)

type Fetcher struct {
	mu      sync.Mutex
	objects map[objectstore.Pointer][]byte
	err     error
	fetches []objectstore.Pointer
}

var _ objectstore.Fetcher = (*Fetcher)(nil)

func New() *Fetcher {
	return &Fetcher{objects: make(map[objectstore.Pointer][]byte)}
}

func (f *Fetcher) Put(bucket, name string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[objectstore.Pointer{Bucket: bucket, Name: name}] = data
}

// SetError makes every following fetch fail with err.
func (f *Fetcher) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Fetches returns the requested pointers in call order.
func (f *Fetcher) Fetches() []objectstore.Pointer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]objectstore.Pointer(nil), f.fetches...)
}

func (f *Fetcher) Fetch(_ context.Context, p objectstore.Pointer) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, p)
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.objects[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s: %w", schema.ErrExtraction, p, objectstore.ErrObjectNotFound)
	}
	return data, nil
}
