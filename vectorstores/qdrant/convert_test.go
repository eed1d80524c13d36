package qdrant

import (
	"errors"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/x-08/agentcloud/schema"
	"github.com/x-08/agentcloud/vectorstores"
)

func TestPointID(t *testing.T) {
	id := "3b241101-e2bb-4255-8caf-4136c566a962"
	assert.Equal(t, id, idString(pointID(id)))
	assert.Equal(t, "42", idString(pointID("42")))

	hashed := idString(pointID("doc-1"))
	assert.NotEqual(t, "doc-1", hashed)
	assert.Equal(t, hashed, idString(pointID("doc-1")))
}

func TestPayloadRoundTrip(t *testing.T) {
	in := map[string]string{"page_content": "hello", "row": "3"}
	assert.Equal(t, in, fromPayload(toPayload(in)))

	typed := map[string]*qdrant.Value{
		"n":    {Kind: &qdrant.Value_IntegerValue{IntegerValue: 7}},
		"ok":   {Kind: &qdrant.Value_BoolValue{BoolValue: true}},
		"null": {Kind: &qdrant.Value_NullValue{}},
	}
	assert.Equal(t, map[string]string{"n": "7", "ok": "true"}, fromPayload(typed))
}

func TestBuildQdrantFilter(t *testing.T) {
	assert.Nil(t, buildQdrantFilter(nil))

	filter := buildQdrantFilter(map[string]string{"source": "a.csv", "datasource": "ds"})
	require.Len(t, filter.GetMust(), 2)
	assert.Equal(t, "datasource", filter.GetMust()[0].GetField().GetKey())
	assert.Equal(t, "a.csv", filter.GetMust()[1].GetField().GetMatch().GetKeyword())
}

func TestClassify(t *testing.T) {
	unavailable := status.Error(codes.Unavailable, "connection refused")
	assert.True(t, isTransient(unavailable))
	assert.ErrorIs(t, classify(unavailable, schema.ErrUpsert), schema.ErrTransport)

	invalid := status.Error(codes.InvalidArgument, "bad vector")
	assert.False(t, isTransient(invalid))
	err := classify(invalid, schema.ErrUpsert)
	assert.ErrorIs(t, err, schema.ErrUpsert)
	assert.NotErrorIs(t, err, schema.ErrTransport)

	assert.ErrorIs(t, classify(errors.New("dial tcp"), nil), vectorstores.ErrTransport)
}

func TestParseOptions(t *testing.T) {
	opts, err := parseOptions()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6334", opts.endpoint.Host)
	assert.Equal(t, 30*time.Second, opts.timeout)
	assert.Equal(t, DefaultBatchSize, opts.batchSize)

	opts, err = parseOptions(WithURL("https://qdrant.internal:6334"), WithAPIKey(" key "), WithTimeout(time.Second))
	require.NoError(t, err)
	assert.True(t, opts.useTLS)
	assert.Equal(t, "key", opts.apiKey)
	assert.Equal(t, "qdrant.internal:6334", opts.endpoint.Host)
	assert.NotContains(t, opts.LogValue().String(), "key ")

	_, err = parseOptions(WithBatchSize(MaxBatchSize + 1))
	assert.ErrorIs(t, err, ErrInvalidOptions)
	_, err = parseOptions(WithURL("localhost:6334"))
	assert.ErrorIs(t, err, ErrInvalidURL)
	_, err = parseOptions(WithRetryAttempts(-1))
	assert.ErrorIs(t, err, ErrInvalidOptions)
}
