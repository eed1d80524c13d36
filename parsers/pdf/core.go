package pdf

import (
	"log/slog"
)

const (
	// CharacterCountKey records the rune count of the extracted text.
	CharacterCountKey = "character count"
	// PageCountKey records the number of pages in the document.
	PageCountKey = "page count"
	// FontKeyPrefix prefixes every BaseFont -> encoding entry.
	FontKeyPrefix = "font."
)

// Parser extracts text and font metadata from PDF documents.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a new PDF parser.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{
		logger: logger.With("component", "pdf_parser"),
	}
}
