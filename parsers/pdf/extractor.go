package pdf

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/x-08/agentcloud/schema"
)

var (
	horizontalSpace = regexp.MustCompile(`[ \t]+`)
	blankLine       = regexp.MustCompile(`\n[ \t]*\n`)
	extraNewlines   = regexp.MustCompile(`\n{3,}`)
)

// Parse extracts the full text of a PDF along with a best-effort map of the
// fonts it uses. A document without recoverable text is an extraction error.
func (p *Parser) Parse(ctx context.Context, data []byte) (text string, meta map[string]string, err error) {
	// The pdf library panics on some malformed object graphs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: malformed pdf: %v", schema.ErrExtraction, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", nil, fmt.Errorf("%w: failed to create PDF reader: %w", schema.ErrExtraction, err)
	}

	numPages := reader.NumPage()
	meta = make(map[string]string)
	meta[PageCountKey] = strconv.Itoa(numPages)

	p.logger.DebugContext(ctx, "PDF text extraction starting", "pages", numPages, "size_bytes", len(data))

	var pages []string
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			p.logger.WarnContext(ctx, "Skipping null page", "page", i)
			continue
		}

		p.collectFonts(ctx, page, i, meta)

		if pageText := p.extractPageText(ctx, page, i); pageText != "" {
			pages = append(pages, pageText)
		}
	}

	text = strings.Join(pages, "\n\n")
	if strings.TrimSpace(text) == "" {
		return "", nil, fmt.Errorf("%w: no text extracted from PDF", schema.ErrExtraction)
	}

	meta[CharacterCountKey] = strconv.Itoa(utf8.RuneCountInString(text))

	p.logger.DebugContext(ctx, "PDF text extraction finished",
		"pages", numPages, "pages_with_text", len(pages), "characters", meta[CharacterCountKey])
	return text, meta, nil
}

// collectFonts records BaseFont -> encoding for every font the page
// references. Pages without font resources are logged and skipped.
func (p *Parser) collectFonts(ctx context.Context, page pdf.Page, pageNum int, meta map[string]string) {
	if page.Resources().Key("Font").IsNull() {
		p.logger.WarnContext(ctx, "Page has no font resources", "page", pageNum)
		return
	}

	for _, name := range page.Fonts() {
		font := page.Font(name)
		base := font.BaseFont()
		if base == "" {
			p.logger.WarnContext(ctx, "Font has no BaseFont entry", "page", pageNum, "font", name)
			continue
		}
		encoding := fontEncoding(font)
		if encoding == "" {
			p.logger.DebugContext(ctx, "Font has no encoding entry", "page", pageNum, "font", base)
			continue
		}
		meta[FontKeyPrefix+base] = encoding
	}
}

func fontEncoding(font pdf.Font) string {
	enc := font.V.Key("Encoding")
	switch enc.Kind() {
	case pdf.Name:
		return enc.Name()
	case pdf.Dict:
		if base := enc.Key("BaseEncoding"); base.Kind() == pdf.Name {
			return base.Name()
		}
		return "Custom"
	default:
		return ""
	}
}

// extractPageText extracts text from a single PDF page
func (p *Parser) extractPageText(ctx context.Context, page pdf.Page, pageNum int) string {
	if pageContent, err := page.GetPlainText(nil); err == nil && strings.TrimSpace(pageContent) != "" {
		return cleanExtractedText(pageContent)
	}

	var textBuilder strings.Builder
	content := page.Content()

	for i, token := range content.Text {
		textBuilder.WriteString(token.S)

		if i < len(content.Text)-1 && !strings.HasSuffix(token.S, " ") && !strings.HasSuffix(token.S, "\n") {
			textBuilder.WriteString(" ")
		}
	}

	if extracted := textBuilder.String(); strings.TrimSpace(extracted) != "" {
		return cleanExtractedText(extracted)
	}

	p.logger.DebugContext(ctx, "No text extracted from page", "page", pageNum)
	return ""
}

// cleanExtractedText normalizes extracted text
func cleanExtractedText(text string) string {
	text = horizontalSpace.ReplaceAllString(text, " ")
	text = blankLine.ReplaceAllString(text, "\n\n")
	text = extraNewlines.ReplaceAllString(text, "\n\n")
	text = strings.ReplaceAll(text, "ﬂ", "fl")
	text = strings.ReplaceAll(text, "ﬁ", "fi")
	return strings.TrimSpace(text)
}
