// Package office flattens the text of zipped office documents: Office Open XML
// (docx, pptx, xlsx) and OpenDocument (odt, ods, odp).
package office

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/x-08/agentcloud/schema"
)

// FormatKey records which container kind the text was flattened from.
const FormatKey = "format"

const defaultMaxEntrySize = 64 << 20

var (
	slideName     = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
	worksheetName = regexp.MustCompile(`^xl/worksheets/sheet(\d+)\.xml$`)

	errUnknownContainer = errors.New("office: archive is not a known office document")
)

// rule describes how to flatten one XML part: character data is kept while
// inside a text element, and a newline is written when a break element closes.
type rule struct {
	text   map[string]bool
	breaks map[string]bool
	tabs   map[string]bool
	spaces map[string]bool
}

var (
	wordRule = rule{
		text:   set("t"),
		breaks: set("p", "br", "cr"),
		tabs:   set("tab"),
	}
	slideRule = rule{
		text:   set("t"),
		breaks: set("p", "br"),
	}
	sheetRule = rule{
		text:   set("t"),
		breaks: set("si", "is"),
	}
	odfRule = rule{
		text:   set("p", "h"),
		breaks: set("p", "h", "line-break"),
		tabs:   set("tab"),
		spaces: set("s"),
	}
)

// Parser flattens office containers into plain text.
type Parser struct {
	logger       *slog.Logger
	maxEntrySize int64
}

// NewParser creates a new office document parser.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{
		logger:       logger.With("component", "office_parser"),
		maxEntrySize: defaultMaxEntrySize,
	}
}

// Parse detects the container kind from its entries and returns its text.
func (p *Parser) Parse(ctx context.Context, data []byte) (string, map[string]string, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", nil, fmt.Errorf("%w: failed to open office archive: %w", schema.ErrExtraction, err)
	}

	entries := make(map[string]*zip.File, len(archive.File))
	for _, f := range archive.File {
		entries[f.Name] = f
	}

	var (
		format string
		parts  []*zip.File
		r      rule
	)
	switch {
	case entries["word/document.xml"] != nil:
		format, r = "docx", wordRule
		parts = []*zip.File{entries["word/document.xml"]}
	case entries["ppt/presentation.xml"] != nil:
		format, r = "pptx", slideRule
		parts = numbered(archive.File, slideName)
	case entries["xl/workbook.xml"] != nil:
		format, r = "xlsx", sheetRule
		if sst := entries["xl/sharedStrings.xml"]; sst != nil {
			parts = append(parts, sst)
		}
		parts = append(parts, numbered(archive.File, worksheetName)...)
	case entries["content.xml"] != nil:
		format, r = odfFormat(entries["mimetype"]), odfRule
		parts = []*zip.File{entries["content.xml"]}
	default:
		return "", nil, fmt.Errorf("%w: %w", schema.ErrExtraction, errUnknownContainer)
	}

	var out strings.Builder
	for _, part := range parts {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}
		if err := p.flattenPart(part, r, &out); err != nil {
			return "", nil, fmt.Errorf("%w: %s: %w", schema.ErrExtraction, part.Name, err)
		}
	}

	text := strings.TrimSpace(out.String())
	p.logger.DebugContext(ctx, "Office document flattened",
		"format", format, "parts", len(parts), "characters", len(text))

	return text, map[string]string{FormatKey: format}, nil
}

func (p *Parser) flattenPart(f *zip.File, r rule, out *strings.Builder) error {
	if f.UncompressedSize64 > uint64(p.maxEntrySize) {
		return fmt.Errorf("entry exceeds %d bytes", p.maxEntrySize)
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	return flatten(io.LimitReader(rc, p.maxEntrySize), r, out)
}

// flatten walks the XML token stream of one part. Namespaces are ignored;
// elements are matched on their local name.
func flatten(r io.Reader, rl rule, out *strings.Builder) error {
	dec := xml.NewDecoder(r)
	dec.Strict = false

	depth := 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local
			if rl.text[name] {
				depth++
			}
			if depth > 0 {
				switch {
				case rl.tabs[name]:
					out.WriteByte('\t')
				case rl.spaces[name]:
					out.WriteString(strings.Repeat(" ", repeatCount(t)))
				}
			}
		case xml.EndElement:
			name := t.Name.Local
			if rl.text[name] && depth > 0 {
				depth--
			}
			if rl.breaks[name] {
				out.WriteByte('\n')
			}
		case xml.CharData:
			if depth > 0 {
				out.Write(t)
			}
		}
	}
}

func repeatCount(el xml.StartElement) int {
	for _, attr := range el.Attr {
		if attr.Name.Local == "c" {
			if n, err := strconv.Atoi(attr.Value); err == nil && n > 0 {
				return n
			}
		}
	}
	return 1
}

// numbered returns the entries matching pattern ordered by their numeric suffix.
func numbered(files []*zip.File, pattern *regexp.Regexp) []*zip.File {
	type entry struct {
		n int
		f *zip.File
	}
	var matched []entry
	for _, f := range files {
		m := pattern.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		matched = append(matched, entry{n: n, f: f})
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].n < matched[j].n })

	out := make([]*zip.File, len(matched))
	for i, e := range matched {
		out[i] = e.f
	}
	return out
}

func odfFormat(mimetype *zip.File) string {
	if mimetype == nil {
		return "odf"
	}
	rc, err := mimetype.Open()
	if err != nil {
		return "odf"
	}
	defer rc.Close()
	b, _ := io.ReadAll(io.LimitReader(rc, 128))

	switch strings.TrimSpace(string(b)) {
	case "application/vnd.oasis.opendocument.text":
		return "odt"
	case "application/vnd.oasis.opendocument.spreadsheet":
		return "ods"
	case "application/vnd.oasis.opendocument.presentation":
		return "odp"
	default:
		return "odf"
	}
}

func set(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}
