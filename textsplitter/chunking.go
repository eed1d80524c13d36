package textsplitter

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/x-08/agentcloud/schema"
)

// ChunkEngine turns extracted text into ordered chunk documents under a
// selectable strategy. Chunks never overlap and concatenate back to the
// source text.
type ChunkEngine struct {
	opts   options
	logger *slog.Logger
}

// NewChunkEngine creates a chunk engine. WithChunkSize caps the chunk size
// below the model-derived limit.
func NewChunkEngine(opts ...Option) *ChunkEngine {
	o := applyOptions(opts...)
	o.chunkSize = capFromOptions(opts...)
	return &ChunkEngine{
		opts:   o,
		logger: o.logger.With("component", "chunk_engine"),
	}
}

// Chunk splits text and attaches a copy of metadata to every chunk. boundary
// is only used by the character strategy; an empty boundary keeps the default.
func (e *ChunkEngine) Chunk(
	ctx context.Context,
	text string,
	metadata map[string]string,
	strategy schema.ChunkingStrategy,
	boundary string,
	model schema.EmbeddingModel,
) ([]schema.Document, error) {
	size := model.MaxChunkChars()
	if e.opts.chunkSize > 0 && e.opts.chunkSize < size {
		size = e.opts.chunkSize
	}

	splitter := e.splitterFor(strategy, boundary, size)
	pieces, err := splitter.SplitText(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", schema.ErrChunking, err)
	}
	pieces = absorbBlank(pieces, size)
	if len(pieces) == 0 {
		return nil, ErrNoChunks
	}

	docs := make([]schema.Document, len(pieces))
	for i, piece := range pieces {
		meta := schema.CloneMetadata(metadata)
		meta[ChunkIndexKey] = strconv.Itoa(i)
		docs[i] = schema.NewDocument(piece, meta)
	}

	e.logger.DebugContext(ctx, "Chunking completed",
		"strategy", strategy, "chunk_size", size, "input_length", len(text), "chunks", len(docs))
	return docs, nil
}

// Join is the inverse of Chunk for every strategy.
func Join(docs []schema.Document) string {
	var b strings.Builder
	for _, doc := range docs {
		b.WriteString(doc.PageContent)
	}
	return b.String()
}

func (e *ChunkEngine) splitterFor(strategy schema.ChunkingStrategy, boundary string, size int) Splitter {
	opts := []Option{WithChunkSize(size), WithSeparators(e.opts.separators...)}
	switch strategy {
	case schema.StrategyFixedSize:
		return NewFixedSize(opts...)
	case schema.StrategyCharacter:
		return NewCharacter(append(opts, WithBoundary(boundary))...)
	case schema.StrategySemantic:
		return NewRecursiveCharacter(opts...)
	default:
		return NewRecursiveCharacter(opts...)
	}
}

// absorbBlank folds whitespace-only pieces into a neighbour when the merged
// chunk still fits in size; a blank run that does not fit stays a chunk of its
// own. Concatenation is unchanged.
func absorbBlank(pieces []string, size int) []string {
	out := make([]string, 0, len(pieces))
	var pending string
	for _, piece := range pieces {
		if strings.TrimSpace(piece) == "" {
			switch {
			case len(out) > 0 && pending == "" && len(out[len(out)-1])+len(piece) <= size:
				out[len(out)-1] += piece
			case len(pending)+len(piece) <= size:
				pending += piece
			default:
				if pending != "" {
					out = append(out, pending)
				}
				pending = piece
			}
			continue
		}
		if pending != "" && len(pending)+len(piece) > size {
			out = append(out, pending)
			pending = ""
		}
		out = append(out, pending+piece)
		pending = ""
	}
	if pending != "" {
		out = append(out, pending)
	}
	return out
}

// capFromOptions reports the explicit WithChunkSize value, or 0.
func capFromOptions(opts ...Option) int {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	return o.chunkSize
}
