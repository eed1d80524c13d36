// Package fake provides an in-memory usage counter for tests.
package fake

import (
	"context"
	"sync"

	"github.com/x-08/agentcloud/usage"
)

type Tracker struct {
	mu         sync.Mutex
	count      int64
	increments int
	err        error
}

var _ usage.Tracker = (*Tracker)(nil)

func New() *Tracker {
	return &Tracker{}
}

// SetError makes every following call fail with err.
func (t *Tracker) SetError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}

// Increments reports how many successful Increment calls were made.
func (t *Tracker) Increments() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.increments
}

func (t *Tracker) Increment(_ context.Context, n int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.count += n
	t.increments++
	return nil
}

func (t *Tracker) Count(context.Context) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count, t.err
}
