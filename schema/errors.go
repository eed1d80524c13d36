package schema

import (
	"errors"
	"fmt"
)

// Error kinds of the ingestion pipeline. Components wrap them with %w so that
// the message boundary can classify failures with errors.Is.
var (
	ErrExtraction = errors.New("extraction failed")
	ErrChunking   = errors.New("chunking failed")
	ErrLookup     = errors.New("datasource lookup failed")
	ErrEmbedding  = errors.New("embedding failed")
	ErrUpsert     = errors.New("upsert failed")
	ErrTransport  = errors.New("transport failure")
	ErrHeader     = errors.New("missing or malformed routing header")

	ErrDimensionMismatch = fmt.Errorf("%w: vector dimension mismatch", ErrUpsert)
)
