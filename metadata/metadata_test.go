package metadata_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-08/agentcloud/metadata"
	"github.com/x-08/agentcloud/metadata/fake"
	"github.com/x-08/agentcloud/schema"
)

func TestCache_ReusesLookups(t *testing.T) {
	store := fake.New()
	store.Put(schema.DatasourceConfig{ID: "ds1", TextField: "body"})
	cache := metadata.NewCache(store, time.Minute)
	ctx := context.Background()

	for range 3 {
		cfg, err := cache.DatasourceConfig(ctx, "ds1")
		require.NoError(t, err)
		assert.Equal(t, "body", cfg.TextField)
	}
	assert.Equal(t, 1, store.Lookups())

	cache.Invalidate("ds1")
	_, err := cache.DatasourceConfig(ctx, "ds1")
	require.NoError(t, err)
	assert.Equal(t, 2, store.Lookups())
}

func TestCache_DoesNotCacheFailures(t *testing.T) {
	store := fake.New()
	cache := metadata.NewCache(store, time.Minute)
	ctx := context.Background()

	_, err := cache.DatasourceConfig(ctx, "missing")
	assert.ErrorIs(t, err, schema.ErrLookup)

	store.Put(schema.DatasourceConfig{ID: "missing"})
	_, err = cache.DatasourceConfig(ctx, "missing")
	assert.NoError(t, err)
	assert.Equal(t, 2, store.Lookups())
}

func TestCache_Disabled(t *testing.T) {
	store := fake.New()
	store.SetError(errors.New("down"))
	cache := metadata.NewCache(store, 0)

	_, err := cache.DatasourceConfig(context.Background(), "ds")
	assert.EqualError(t, err, "down")
	_, _ = cache.DatasourceConfig(context.Background(), "ds")
	assert.Equal(t, 2, store.Lookups())
}
