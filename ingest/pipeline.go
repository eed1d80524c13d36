package ingest

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/x-08/agentcloud/objectstore"
	"github.com/x-08/agentcloud/parsers"
	"github.com/x-08/agentcloud/parsers/csv"
	"github.com/x-08/agentcloud/schema"
	"github.com/x-08/agentcloud/textsplitter"
)

const (
	// StreamHeader carries "<datasourceId>_<suffix>".
	StreamHeader = "stream"
	// TypeHeader marks a body that points at an uploaded file.
	TypeHeader = "type"

	SourceKey = "source"
)

// State is the lifecycle of one message.
type State int

const (
	StateReceived State = iota
	StateProcessing
	StateCommitted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateProcessing:
		return "processing"
	case StateCommitted:
		return "committed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome is the final state of a handled message. Only a committed message
// is acknowledged.
type Outcome struct {
	State        State
	DatasourceID string
	File         bool
	Err          error
}

// Pipeline runs the per-message state machine.
type Pipeline struct {
	writer    *WritePath
	fetcher   objectstore.Fetcher
	extractor *parsers.Extractor
	chunker   *textsplitter.ChunkEngine
	rows      *csv.RowStreamer
	sink      csv.Sink
	logger    *slog.Logger
}

func NewPipeline(
	writer *WritePath,
	fetcher objectstore.Fetcher,
	extractor *parsers.Extractor,
	chunker *textsplitter.ChunkEngine,
	rows *csv.RowStreamer,
	sink csv.Sink,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		writer:    writer,
		fetcher:   fetcher,
		extractor: extractor,
		chunker:   chunker,
		rows:      rows,
		sink:      sink,
		logger:    logger.With("component", "pipeline"),
	}
}

// Handle moves a delivery from Received to Committed or Failed. Pointer
// messages commit when the file was written; inline records commit when the
// record was written. The body is handed to the write path in both cases.
func (p *Pipeline) Handle(ctx context.Context, d amqp.Delivery) Outcome {
	out := Outcome{State: StateReceived}

	datasourceID, err := DatasourceID(d.Headers)
	if err != nil {
		out.State, out.Err = StateFailed, err
		return out
	}
	out.DatasourceID = datasourceID
	out.State = StateProcessing
	start := time.Now()

	var fileErr error
	if _, ok := d.Headers[TypeHeader]; ok {
		out.File = true
		fileErr = p.processFile(ctx, datasourceID, d.Body)
		if fileErr != nil {
			p.logger.ErrorContext(ctx, "File processing failed", "datasource", datasourceID, "error", fileErr)
		}
	}

	written := true
	if out.File {
		// A pointer body carries no text field, so its record write only
		// matters for inline messages.
		if _, err := p.writer.ProcessRecord(ctx, datasourceID, string(d.Body)); err != nil {
			p.logger.DebugContext(ctx, "Pointer body not written as record", "datasource", datasourceID, "error", err)
		}
	} else {
		written = p.writer.Process(ctx, datasourceID, string(d.Body))
	}

	switch {
	case out.File && fileErr != nil:
		out.State, out.Err = StateFailed, fileErr
	case !out.File && !written:
		out.State, out.Err = StateFailed, fmt.Errorf("%w: record not written", schema.ErrUpsert)
	default:
		out.State = StateCommitted
	}

	p.logger.DebugContext(ctx, "Message handled",
		"datasource", datasourceID, "file", out.File, "state", out.State, "duration", time.Since(start))
	return out
}

func (p *Pipeline) processFile(ctx context.Context, datasourceID string, body []byte) error {
	ptr, err := objectstore.ParsePointer(body)
	if err != nil {
		return err
	}

	kind := parsers.KindOf(ptr.Name)
	if kind == parsers.KindUnknown {
		return fmt.Errorf("%w: %s", parsers.ErrUnsupportedFormat, ptr.Name)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.writer.timeouts.Fetch)
	data, err := p.fetcher.Fetch(fetchCtx, ptr)
	cancel()
	if err != nil {
		return err
	}

	switch kind {
	case parsers.KindCSV:
		result, err := p.rows.Stream(ctx, datasourceID, ptr.Name, bytes.NewReader(data), p.sink)
		if err != nil {
			return err
		}
		p.logger.InfoContext(ctx, "Rows queued",
			"datasource", datasourceID, "source", ptr.Name, "rows", result.Rows, "skipped", result.Skipped)
		return nil
	case parsers.KindPDF, parsers.KindTXT, parsers.KindDOCX:
		return p.processDocument(ctx, datasourceID, ptr, kind, data)
	case parsers.KindUnknown:
	}
	return fmt.Errorf("%w: %s", parsers.ErrUnsupportedFormat, ptr.Name)
}

func (p *Pipeline) processDocument(ctx context.Context, datasourceID string, ptr objectstore.Pointer, kind parsers.Kind, data []byte) error {
	text, meta, err := p.extractor.Extract(ctx, kind.FileType(), data)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: %s has no text", schema.ErrExtraction, ptr.Name)
	}

	cfg, err := p.writer.Lookup(ctx, datasourceID)
	if err != nil {
		return err
	}

	meta = schema.CloneMetadata(meta)
	meta[SourceKey] = ptr.Name
	docs, err := p.chunker.Chunk(ctx, text, meta, cfg.Strategy, cfg.ChunkCharacter, cfg.Model)
	if err != nil {
		return err
	}
	return p.writer.ProcessDocuments(ctx, cfg, docs)
}

// DatasourceID reads the datasource id from the stream header, the part
// before the first underscore.
func DatasourceID(headers amqp.Table) (string, error) {
	raw, ok := headers[StreamHeader]
	if !ok {
		return "", fmt.Errorf("%w: no %q header", schema.ErrHeader, StreamHeader)
	}

	var stream string
	switch v := raw.(type) {
	case string:
		stream = v
	case []byte:
		stream = string(v)
	default:
		return "", fmt.Errorf("%w: %q header has type %T", schema.ErrHeader, StreamHeader, raw)
	}

	id, _, _ := strings.Cut(strings.TrimSpace(stream), "_")
	if id == "" {
		return "", fmt.Errorf("%w: empty datasource id in %q", schema.ErrHeader, stream)
	}
	return id, nil
}
