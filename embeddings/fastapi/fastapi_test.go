package fastapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-08/agentcloud/embeddings/fastapi"
	"github.com/x-08/agentcloud/schema"
)

func newServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embed", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))

		var req struct {
			Texts []string `json:"texts"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "bge-small", req.Model)

		if status != http.StatusOK {
			http.Error(w, "overloaded", status)
			return
		}
		vectors := make([][]float32, len(req.Texts))
		for i := range req.Texts {
			vectors[i] = []float32{float32(i), 1, 2}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": vectors})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbedder_EmbedDocuments(t *testing.T) {
	srv := newServer(t, http.StatusOK)
	embedder, err := fastapi.New(srv.URL+"/", fastapi.WithAPIKey("secret"), fastapi.WithModel("bge-small"))
	require.NoError(t, err)

	vectors, err := embedder.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1, 2}, {1, 1, 2}}, vectors)

	dim, err := embedder.GetDimension(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, dim)
}

func TestEmbedder_ServerErrorRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	embedder, err := fastapi.New(srv.URL, fastapi.WithRetries(2, time.Millisecond))
	require.NoError(t, err)

	_, err = embedder.EmbedQuery(context.Background(), "a")
	require.ErrorIs(t, err, schema.ErrTransport)
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, int32(3), calls.Load())
}

func TestEmbedder_RejectedRequestIsNotRetried(t *testing.T) {
	srv := newServer(t, http.StatusUnprocessableEntity)
	embedder, err := fastapi.New(srv.URL, fastapi.WithAPIKey("secret"), fastapi.WithModel("bge-small"))
	require.NoError(t, err)

	_, err = embedder.EmbedDocuments(context.Background(), []string{"a"})
	require.ErrorIs(t, err, schema.ErrEmbedding)
	assert.NotErrorIs(t, err, schema.ErrTransport)
}

func TestEmbedder_ConfiguredDimension(t *testing.T) {
	embedder, err := fastapi.New("http://127.0.0.1:1", fastapi.WithDimension(384))
	require.NoError(t, err)
	dim, err := embedder.GetDimension(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 384, dim)
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := fastapi.New("")
	assert.ErrorIs(t, err, fastapi.ErrEmptyServerURL)
	_, err = fastapi.New("not a url")
	assert.Error(t, err)
}
