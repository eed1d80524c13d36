package csv

import (
	"context"
	"log/slog"

	"github.com/x-08/agentcloud/schema"
)

const (
	// FieldSeparator joins the fields of one row into a queue payload.
	FieldSeparator = ", "

	RowKey     = "row"
	SourceKey  = "source"
	HeadersKey = "headers"

	sniffSize = 4096
)

// Sink receives one queue item per row.
type Sink interface {
	Enqueue(ctx context.Context, item schema.QueueItem) error
}

// RowStreamer fans the rows of a tabular source out onto a Sink.
type RowStreamer struct {
	logger    *slog.Logger
	delimiter rune
	hasHeader bool
}

// Option configures a RowStreamer.
type Option func(*RowStreamer)

// WithDelimiter fixes the field delimiter instead of detecting it.
func WithDelimiter(d rune) Option {
	return func(s *RowStreamer) {
		s.delimiter = d
	}
}

// WithHeader controls whether the first row is a header row. Default true.
func WithHeader(hasHeader bool) Option {
	return func(s *RowStreamer) {
		s.hasHeader = hasHeader
	}
}

// NewRowStreamer creates a new CSV row streamer.
func NewRowStreamer(logger *slog.Logger, opts ...Option) *RowStreamer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &RowStreamer{
		logger:    logger.With("component", "csv_streamer"),
		hasHeader: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
