package csv_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-08/agentcloud/parsers/csv"
	ptesting "github.com/x-08/agentcloud/parsers/testing"
	"github.com/x-08/agentcloud/schema"
)

type sliceSink struct {
	mu    sync.Mutex
	items []schema.QueueItem
	err   error
}

func (s *sliceSink) Enqueue(_ context.Context, item schema.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.items = append(s.items, item)
	return nil
}

func TestRowStreamer_FanOut(t *testing.T) {
	logger, _ := ptesting.NewTestLogger(t)
	streamer := csv.NewRowStreamer(logger)
	sink := &sliceSink{}

	data := "name,age,city\nJohn,30,Berlin\nJane,25,Paris\nBob,41,Rome\n"
	result, err := streamer.Stream(context.Background(), "ds1", "people.csv", strings.NewReader(data), sink)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Rows)
	assert.Equal(t, []string{"name", "age", "city"}, result.Headers)
	require.Len(t, sink.items, 3)

	want := []string{"John, 30, Berlin", "Jane, 25, Paris", "Bob, 41, Rome"}
	for i, item := range sink.items {
		assert.Equal(t, "ds1", item.DatasourceID)
		assert.Equal(t, want[i], item.Payload)
		assert.Equal(t, "people.csv", item.Metadata[csv.SourceKey])
		assert.Equal(t, "name, age, city", item.Metadata[csv.HeadersKey])
	}
	assert.Equal(t, "0", sink.items[0].Metadata[csv.RowKey])
	assert.Equal(t, "2", sink.items[2].Metadata[csv.RowKey])
}

func TestRowStreamer_DetectsDelimiter(t *testing.T) {
	tests := []struct {
		name   string
		source string
		data   string
	}{
		{"semicolon", "data.csv", "a;b\n1;2\n"},
		{"pipe", "data.csv", "a|b\n1|2\n"},
		{"tab", "data.csv", "a\tb\n1\t2\n"},
		{"tsv extension", "data.tsv", "a\tb\n1\t2\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := ptesting.NewTestLogger(t)
			sink := &sliceSink{}
			_, err := csv.NewRowStreamer(logger).Stream(context.Background(), "ds", tt.source, strings.NewReader(tt.data), sink)
			require.NoError(t, err)
			require.Len(t, sink.items, 1)
			assert.Equal(t, "1, 2", sink.items[0].Payload)
		})
	}
}

func TestRowStreamer_SkipsBlankRowsAndRaggedRows(t *testing.T) {
	logger, _ := ptesting.NewTestLogger(t)
	sink := &sliceSink{}

	data := "a,b\n1,2\n,\n3\n4,5,6\n"
	result, err := csv.NewRowStreamer(logger).Stream(context.Background(), "ds", "x.csv", strings.NewReader(data), sink)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Rows)
	assert.Equal(t, []string{"1, 2", "3", "4, 5, 6"}, []string{sink.items[0].Payload, sink.items[1].Payload, sink.items[2].Payload})
}

func TestRowStreamer_WithoutHeader(t *testing.T) {
	logger, _ := ptesting.NewTestLogger(t)
	sink := &sliceSink{}

	result, err := csv.NewRowStreamer(logger, csv.WithHeader(false), csv.WithDelimiter(',')).
		Stream(context.Background(), "ds", "x.csv", strings.NewReader("1,2\n3,4\n"), sink)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Rows)
	assert.Empty(t, result.Headers)
	_, hasHeaders := sink.items[0].Metadata[csv.HeadersKey]
	assert.False(t, hasHeaders)
}

func TestRowStreamer_SinkError(t *testing.T) {
	logger, _ := ptesting.NewTestLogger(t)
	sinkErr := errors.New("queue closed")
	sink := &sliceSink{err: sinkErr}

	_, err := csv.NewRowStreamer(logger).Stream(context.Background(), "ds", "x.csv", strings.NewReader("a\n1\n"), sink)
	require.Error(t, err)
	assert.ErrorIs(t, err, sinkErr)
}

func TestRowStreamer_Cancelled(t *testing.T) {
	logger, _ := ptesting.NewTestLogger(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := csv.NewRowStreamer(logger).Stream(ctx, "ds", "x.csv", strings.NewReader("a\n1\n"), &sliceSink{})
	assert.ErrorIs(t, err, context.Canceled)
}
