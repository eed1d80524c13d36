package textsplitter

import (
	"errors"
	"fmt"

	"github.com/x-08/agentcloud/schema"
)

const (
	defaultChunkSize = 1000
	defaultBoundary  = "\n\n"

	// ChunkIndexKey is the metadata field holding the position of a chunk.
	ChunkIndexKey = "chunk_index"
)

// semanticSeparators are tried from the coarsest boundary to the finest. The
// empty separator means a hard, rune-safe cut.
var semanticSeparators = []string{"\n\n", "\n", ". ", "? ", "! ", "; ", ", ", " ", ""}

var (
	ErrInvalidChunkSize = errors.New("invalid chunk size")
	ErrNoChunks         = fmt.Errorf("%w: splitter produced no chunks", schema.ErrChunking)
)
