package text

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/x-08/agentcloud/schema"
)

// EncodingKey records the source encoding the text was decoded from.
const EncodingKey = "encoding"

// Parser decodes plain text files to UTF-8.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a new plain text parser.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{
		logger: logger.With("component", "text_parser"),
	}
}

// Parse decodes data honouring a UTF-8 or UTF-16 byte order mark. Input that
// is not valid UTF-8 and carries no BOM is decoded as Windows-1252.
func (p *Parser) Parse(ctx context.Context, data []byte) (string, map[string]string, error) {
	encoding := sniffEncoding(data)

	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	if encoding == "windows-1252" {
		decoder = charmap.Windows1252.NewDecoder()
	}

	out, _, err := transform.Bytes(decoder, data)
	if err != nil {
		return "", nil, fmt.Errorf("%w: failed to decode text: %w", schema.ErrExtraction, err)
	}
	if !utf8.Valid(out) {
		return "", nil, fmt.Errorf("%w: text is not valid %s", schema.ErrExtraction, encoding)
	}

	text := string(out)
	meta := map[string]string{
		EncodingKey:  encoding,
		"total_lines": strconv.Itoa(strings.Count(text, "\n") + 1),
		"size_bytes":  strconv.Itoa(len(data)),
	}

	p.logger.DebugContext(ctx, "Text decoded", "encoding", encoding, "size_bytes", len(data))
	return text, meta, nil
}

func sniffEncoding(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}):
		return "utf-8"
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}):
		return "utf-16le"
	case bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		return "utf-16be"
	case utf8.Valid(data):
		return "utf-8"
	default:
		return "windows-1252"
	}
}
