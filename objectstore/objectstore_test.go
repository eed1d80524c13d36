package objectstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-08/agentcloud/objectstore"
	"github.com/x-08/agentcloud/objectstore/fake"
	"github.com/x-08/agentcloud/schema"
)

func TestParsePointer(t *testing.T) {
	p, err := objectstore.ParsePointer([]byte(`{"bucket":" uploads ","name":"ds1/report.pdf","size":"12"}`))
	require.NoError(t, err)
	assert.Equal(t, objectstore.Pointer{Bucket: "uploads", Name: "ds1/report.pdf"}, p)
	assert.Equal(t, "uploads/ds1/report.pdf", p.String())

	for _, body := range []string{`{"bucket":"b"}`, `{"name":"n"}`, `not json`, `[]`} {
		_, err := objectstore.ParsePointer([]byte(body))
		assert.ErrorIs(t, err, objectstore.ErrInvalidPointer, body)
		assert.ErrorIs(t, err, schema.ErrExtraction, body)
	}
}

func TestFakeFetcher(t *testing.T) {
	f := fake.New()
	f.Put("b", "a.txt", []byte("hello"))

	data, err := f.Fetch(context.Background(), objectstore.Pointer{Bucket: "b", Name: "a.txt"})
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = f.Fetch(context.Background(), objectstore.Pointer{Bucket: "b", Name: "missing"})
	assert.ErrorIs(t, err, objectstore.ErrObjectNotFound)
	assert.Len(t, f.Fetches(), 2)
}
