// Package metadata resolves datasources to the embedding model, text field
// and chunking settings the write path needs.
package metadata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/x-08/agentcloud/schema"
)

var (
	ErrDatasourceNotFound = fmt.Errorf("%w: datasource not found", schema.ErrLookup)
	ErrModelNotFound      = fmt.Errorf("%w: embedding model not found", schema.ErrLookup)
	ErrNoTextField        = fmt.Errorf("%w: datasource has no embedding field", schema.ErrLookup)
)

// Store looks up the configuration of a datasource.
type Store interface {
	DatasourceConfig(ctx context.Context, datasourceID string) (schema.DatasourceConfig, error)
}

type cacheEntry struct {
	config  schema.DatasourceConfig
	expires time.Time
}

// Cache memoizes successful lookups of another Store for a fixed TTL.
// Failures are never cached.
type Cache struct {
	store Store
	ttl   time.Duration
	now   func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

var _ Store = (*Cache)(nil)

// NewCache wraps store. A non-positive ttl disables caching.
func NewCache(store Store, ttl time.Duration) *Cache {
	return &Cache{
		store:   store,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *Cache) DatasourceConfig(ctx context.Context, datasourceID string) (schema.DatasourceConfig, error) {
	if c.ttl <= 0 {
		return c.store.DatasourceConfig(ctx, datasourceID)
	}

	c.mu.RLock()
	entry, ok := c.entries[datasourceID]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expires) {
		return entry.config, nil
	}

	cfg, err := c.store.DatasourceConfig(ctx, datasourceID)
	if err != nil {
		return schema.DatasourceConfig{}, err
	}

	c.mu.Lock()
	c.entries[datasourceID] = cacheEntry{config: cfg, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return cfg, nil
}

// Invalidate drops the cached entry of one datasource.
func (c *Cache) Invalidate(datasourceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, datasourceID)
}
