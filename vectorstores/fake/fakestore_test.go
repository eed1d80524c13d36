package fake

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-08/agentcloud/schema"
	"github.com/x-08/agentcloud/vectorstores"
)

func point(id string, vec ...float32) schema.VectorPoint {
	return schema.VectorPoint{ID: id, Vector: vec, Payload: map[string]string{"id": id}}
}

func TestDeleteCollection(t *testing.T) {
	s := New()
	ctx := context.Background()
	assert.ErrorIs(t, s.DeleteCollection(ctx, "test-collection"), vectorstores.ErrCollectionNotFound)

	require.NoError(t, s.CreateCollection(ctx, "test-collection", 2))
	assert.ErrorIs(t, s.CreateCollection(ctx, "test-collection", 2), vectorstores.ErrCollectionExists)
	assert.NoError(t, s.DeleteCollection(ctx, "test-collection"))
}

func TestUpsertPoints_DimensionChecks(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.UpsertPoints(ctx, "c", []schema.VectorPoint{point("a", 1, 0, 0)}, vectorstores.WithExpectedDimension(2))
	assert.ErrorIs(t, err, schema.ErrDimensionMismatch)
	assert.Empty(t, s.Upserts())

	require.NoError(t, s.UpsertPoints(ctx, "c", []schema.VectorPoint{point("a", 1, 0)}, vectorstores.WithModelName("m")))
	err = s.UpsertPoints(ctx, "c", []schema.VectorPoint{point("b", 1, 0, 0)})
	assert.ErrorIs(t, err, schema.ErrDimensionMismatch)

	upserts := s.Upserts()
	require.Len(t, upserts, 1)
	assert.Equal(t, "m", upserts[0].Options.ModelName)
}

func TestScrollAndSearch(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.UpsertPoints(ctx, "c", []schema.VectorPoint{
		point("a", 1, 0), point("b", 0, 1), point("c", 1, 1),
	}))

	page, err := s.Scroll(ctx, "c", vectorstores.ScrollRequest{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Points, 2)
	assert.Nil(t, page.Points[0].Vector)
	assert.Equal(t, "c", page.NextOffset)

	page, err = s.Scroll(ctx, "c", vectorstores.ScrollRequest{Limit: 2, Offset: page.NextOffset})
	require.NoError(t, err)
	assert.Len(t, page.Points, 1)
	assert.Empty(t, page.NextOffset)

	hits, err := s.Search(ctx, "c", []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].Point.ID)
	assert.Equal(t, "c", hits[1].Point.ID)

	hits, err = s.Search(ctx, "c", []float32{1, 0}, 5, vectorstores.WithFilter("id", "b"))
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].Point.ID)
}
