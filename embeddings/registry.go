package embeddings

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/x-08/agentcloud/schema"
)

// ErrUnknownProvider is returned when no factory is registered for a model's
// provider.
var ErrUnknownProvider = fmt.Errorf("%w: unknown provider", schema.ErrEmbedding)

// Factory builds a provider client for one model.
type Factory func(ctx context.Context, model schema.EmbeddingModel) (Embedder, error)

// Registry resolves embedding models to embedders, building each model's
// client once and reusing it afterwards.
type Registry struct {
	mu              sync.RWMutex
	factories       map[string]Factory
	cache           map[string]Embedder
	defaultProvider string
	opts            []Option
	logger          *slog.Logger
}

// NewRegistry creates an empty registry. Models without a provider resolve to
// defaultProvider. opts configure the batching wrapper of every embedder.
func NewRegistry(logger *slog.Logger, defaultProvider string, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		factories:       make(map[string]Factory),
		cache:           make(map[string]Embedder),
		defaultProvider: strings.ToLower(defaultProvider),
		opts:            opts,
		logger:          logger.With("component", "embedding_registry"),
	}
}

// Register adds a provider factory. Registering a provider twice replaces the
// factory and drops cached clients built by the old one.
func (r *Registry) Register(provider string, factory Factory) {
	provider = strings.ToLower(provider)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[provider] = factory
	for key := range r.cache {
		if strings.HasPrefix(key, provider+"/") {
			delete(r.cache, key)
		}
	}
	r.logger.Debug("Registered embedding provider", "provider", provider)
}

// Providers lists the registered provider names.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// For returns the embedder for model.
func (r *Registry) For(ctx context.Context, model schema.EmbeddingModel) (Embedder, error) {
	provider := strings.ToLower(model.Provider)
	if provider == "" {
		provider = r.defaultProvider
	}
	key := provider + "/" + model.Name

	r.mu.RLock()
	cached, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cached, ok := r.cache[key]; ok {
		return cached, nil
	}

	factory, ok := r.factories[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q (model %s)", ErrUnknownProvider, provider, model.Name)
	}

	client, err := factory(ctx, model)
	if err != nil {
		return nil, wrap(fmt.Errorf("create %s client for %s: %w", provider, model.Name, err))
	}
	embedder, err := NewEmbedder(client, r.opts...)
	if err != nil {
		return nil, wrap(err)
	}

	r.cache[key] = embedder
	r.logger.InfoContext(ctx, "Embedding client created", "provider", provider, "model", model.Name)
	return embedder, nil
}
