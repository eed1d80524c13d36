package textsplitter

import "log/slog"

// options holds configuration settings for the splitters and the chunk engine.
type options struct {
	chunkSize  int
	separators []string
	boundary   string
	logger     *slog.Logger
}

// Option is a function type for configuring the splitter.
type Option func(*options)

// WithChunkSize sets the maximum chunk size in bytes.
func WithChunkSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.chunkSize = size
		}
	}
}

// WithSeparators overrides the recursive separators, from largest to smallest.
func WithSeparators(separators ...string) Option {
	return func(o *options) {
		if len(separators) > 0 {
			o.separators = separators
		}
	}
}

// WithBoundary sets the token the character strategy splits on.
func WithBoundary(boundary string) Option {
	return func(o *options) {
		if boundary != "" {
			o.boundary = boundary
		}
	}
}

// WithLogger sets the logger for the chunk engine.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func applyOptions(opts ...Option) options {
	o := options{
		chunkSize:  defaultChunkSize,
		separators: semanticSeparators,
		boundary:   defaultBoundary,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
