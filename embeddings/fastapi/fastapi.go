// Package fastapi embeds text through a self-hosted embedding server, such
// as a fastembed service, that exposes POST /embed.
package fastapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/x-08/agentcloud/embeddings"
	"github.com/x-08/agentcloud/schema"
)

var ErrEmptyServerURL = errors.New("fastapi: server URL cannot be empty")

type embedRequest struct {
	Texts []string `json:"texts"`
	Task  string   `json:"task,omitempty"`
	Model string   `json:"model,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type Embedder struct {
	endpoint string
	client   *http.Client
	opts     options
	logger   *slog.Logger

	dimension int
	dimErr    error
	dimOnce   sync.Once
}

var _ embeddings.Embedder = (*Embedder)(nil)

func New(serverURL string, opts ...Option) (*Embedder, error) {
	serverURL = strings.TrimRight(strings.TrimSpace(serverURL), "/")
	if serverURL == "" {
		return nil, ErrEmptyServerURL
	}
	if _, err := url.ParseRequestURI(serverURL); err != nil {
		return nil, fmt.Errorf("fastapi: invalid server URL %q: %w", serverURL, err)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Embedder{
		endpoint:  serverURL + "/embed",
		client:    o.httpClient,
		opts:      o,
		dimension: o.dimension,
		logger:    o.logger.With("component", "fastapi_embedder", "model", o.model),
	}, nil
}

// EmbedDocuments sends texts in one request. Overloaded or unreachable
// servers are retried with a growing delay.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	body, err := json.Marshal(embedRequest{Texts: texts, Task: e.opts.task, Model: e.opts.model})
	if err != nil {
		return nil, fmt.Errorf("fastapi: encode request: %w", err)
	}

	delay := e.opts.retryDelay
	for attempt := 0; ; attempt++ {
		vectors, err := e.post(ctx, body)
		if err == nil {
			if len(vectors) != len(texts) {
				return nil, fmt.Errorf("%w: sent %d texts, got %d vectors", embeddings.ErrCount, len(texts), len(vectors))
			}
			return vectors, nil
		}
		if !errors.Is(err, schema.ErrTransport) || attempt >= e.opts.retries {
			return nil, err
		}

		e.logger.WarnContext(ctx, "Embedding request failed, retrying", "attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// post performs one request. Network failures and 429/5xx responses are
// transport errors; other rejections are embedding errors.
func (e *Embedder) post(ctx context.Context, body []byte) ([][]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("fastapi: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if e.opts.apiKey != "" {
		req.Header.Set("X-Api-Key", e.opts.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: embedding server unreachable: %w", schema.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		kind := schema.ErrEmbedding
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			kind = schema.ErrTransport
		}
		return nil, fmt.Errorf("%w: embedding server returned status %d: %s", kind, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode embedding response: %w", schema.ErrEmbedding, err)
	}
	return out.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, embeddings.ErrEmptyText
	}
	vectors, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// GetDimension returns the configured dimension, or probes the server once.
func (e *Embedder) GetDimension(ctx context.Context) (int, error) {
	e.dimOnce.Do(func() {
		if e.dimension > 0 {
			return
		}
		vector, err := e.EmbedQuery(ctx, "dimension probe")
		if err != nil {
			e.dimErr = fmt.Errorf("fastapi: probe dimension: %w", err)
			return
		}
		e.dimension = len(vector)
	})
	return e.dimension, e.dimErr
}
