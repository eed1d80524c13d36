package parsers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/x-08/agentcloud/parsers/office"
	"github.com/x-08/agentcloud/parsers/pdf"
	"github.com/x-08/agentcloud/parsers/text"
	"github.com/x-08/agentcloud/schema"
)

// ErrUnsupportedFormat is returned for files no parser handles.
var ErrUnsupportedFormat = fmt.Errorf("%w: unsupported format", schema.ErrExtraction)

// Kind classifies an object-storage file by how the pipeline consumes it:
// document formats are extracted and chunked, tabular sources are streamed
// row by row.
type Kind int

const (
	KindUnknown Kind = iota
	KindPDF
	KindTXT
	KindDOCX
	KindCSV
)

// KindOf classifies an object by the extension of its name.
func KindOf(name string) Kind {
	if ext := schema.Extension(name); ext == "csv" || ext == "tsv" {
		return KindCSV
	}
	switch schema.FileTypeFromName(name) {
	case schema.FileTypePDF:
		return KindPDF
	case schema.FileTypeTXT:
		return KindTXT
	case schema.FileTypeDOCX:
		return KindDOCX
	case schema.FileTypeUnknown:
		return KindUnknown
	}
	return KindUnknown
}

// FileType is the document format of a document kind; CSV and unknown map to
// FileTypeUnknown.
func (k Kind) FileType() schema.FileType {
	switch k {
	case KindPDF:
		return schema.FileTypePDF
	case KindTXT:
		return schema.FileTypeTXT
	case KindDOCX:
		return schema.FileTypeDOCX
	case KindCSV, KindUnknown:
		return schema.FileTypeUnknown
	}
	return schema.FileTypeUnknown
}

func (k Kind) String() string {
	if k == KindCSV {
		return "csv"
	}
	return k.FileType().String()
}

// Extractor dispatches raw document bytes to the parser for their FileType.
type Extractor struct {
	pdf    DocumentParser
	office DocumentParser
	text   DocumentParser
	logger *slog.Logger
}

// NewExtractor creates an extractor with the PDF, office and text parsers.
func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		pdf:    pdf.NewParser(logger),
		office: office.NewParser(logger),
		text:   text.NewParser(logger),
		logger: logger.With("component", "extractor"),
	}
}

// Extract returns the full text and metadata of data. Every failure wraps
// schema.ErrExtraction.
func (e *Extractor) Extract(ctx context.Context, ft schema.FileType, data []byte) (string, map[string]string, error) {
	var parser DocumentParser
	switch ft {
	case schema.FileTypePDF:
		parser = e.pdf
	case schema.FileTypeDOCX:
		parser = e.office
	case schema.FileTypeTXT:
		parser = e.text
	case schema.FileTypeUnknown:
		return "", nil, ErrUnsupportedFormat
	default:
		return "", nil, fmt.Errorf("%w: file type %d", ErrUnsupportedFormat, int(ft))
	}

	content, meta, err := parser.Parse(ctx, data)
	if err != nil {
		e.logger.WarnContext(ctx, "Extraction failed", "file_type", ft, "size_bytes", len(data), "error", err)
		if !errors.Is(err, schema.ErrExtraction) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", schema.ErrExtraction, err)
		}
		return "", nil, err
	}
	if meta == nil {
		meta = make(map[string]string)
	}

	e.logger.DebugContext(ctx, "Extraction completed", "file_type", ft, "characters", len(content))
	return content, meta, nil
}

// ExtractFile reads path and extracts it according to its extension. I/O
// failures surface as extraction errors.
func (e *Extractor) ExtractFile(ctx context.Context, path string) (string, map[string]string, error) {
	ft := schema.FileTypeFromName(path)
	if ft == schema.FileTypeUnknown {
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", schema.ErrExtraction, err)
	}
	return e.Extract(ctx, ft, data)
}
