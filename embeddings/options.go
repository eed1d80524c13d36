package embeddings

const (
	DefaultBatchSize      = 32
	DefaultMaxConcurrency = 8
)

type options struct {
	stripNewLines  bool
	batchSize      int
	maxConcurrency int
}

// Option configures the batching wrapper built by NewEmbedder.
type Option func(*options)

func defaultOptions() options {
	return options{
		stripNewLines:  true,
		batchSize:      DefaultBatchSize,
		maxConcurrency: DefaultMaxConcurrency,
	}
}

// WithBatchSize sets how many texts go into one provider call.
func WithBatchSize(size int) Option {
	return func(o *options) { o.batchSize = size }
}

// WithStripNewLines replaces newlines with spaces before embedding. On by
// default.
func WithStripNewLines(strip bool) Option {
	return func(o *options) { o.stripNewLines = strip }
}

// WithMaxConcurrency bounds how many batches are in flight at once.
func WithMaxConcurrency(n int) Option {
	return func(o *options) { o.maxConcurrency = n }
}
