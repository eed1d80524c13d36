// Package fake provides an in-memory metadata store for tests.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/x-08/agentcloud/metadata"
	"github.com/x-08/agentcloud/schema"
)

type Store struct {
	mu      sync.Mutex
	configs map[string]schema.DatasourceConfig
	err     error
	lookups int
}

var _ metadata.Store = (*Store)(nil)

func New() *Store {
	return &Store{configs: make(map[string]schema.DatasourceConfig)}
}

// Put registers cfg under cfg.ID.
func (s *Store) Put(cfg schema.DatasourceConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.ID] = cfg
}

// SetError makes every following lookup fail with err.
func (s *Store) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Lookups reports how many lookups reached the store.
func (s *Store) Lookups() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups
}

func (s *Store) DatasourceConfig(_ context.Context, datasourceID string) (schema.DatasourceConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.err != nil {
		return schema.DatasourceConfig{}, s.err
	}
	cfg, ok := s.configs[datasourceID]
	if !ok {
		return schema.DatasourceConfig{}, fmt.Errorf("%w: %s", metadata.ErrDatasourceNotFound, datasourceID)
	}
	return cfg, nil
}
