package textsplitter

import (
	"context"
	"strings"
	"unicode/utf8"
)

// RecursiveCharacter is a text splitter that recursively tries to split text
// using a list of separators. It aims to keep semantically related parts of
// the text together as long as possible.
//
// Separators stay attached to the piece they terminate, so the chunks
// concatenate back to the exact input.
type RecursiveCharacter struct {
	opts options
}

// NewRecursiveCharacter creates a new RecursiveCharacter text splitter.
func NewRecursiveCharacter(opts ...Option) *RecursiveCharacter {
	return &RecursiveCharacter{
		opts: applyOptions(opts...),
	}
}

// SplitText splits a single text into chunks no larger than the chunk size.
func (s *RecursiveCharacter) SplitText(ctx context.Context, text string) ([]string, error) {
	if s.opts.chunkSize <= 0 {
		return nil, ErrInvalidChunkSize
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, nil
	}
	return s.splitTextRecursive(text, s.opts.separators), nil
}

func (s *RecursiveCharacter) splitTextRecursive(text string, separators []string) []string {
	size := s.opts.chunkSize

	// If the text is already small enough, just return it.
	if len(text) <= size {
		return []string{text}
	}

	if len(separators) == 0 || separators[0] == "" {
		return hardSplit(text, size)
	}

	separator := separators[0]
	remaining := separators[1:]

	splits := splitAfter(text, separator)
	if len(splits) == 1 {
		return s.splitTextRecursive(text, remaining)
	}

	var chunks []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, split := range splits {
		switch {
		case current.Len()+len(split) <= size:
			current.WriteString(split)
		case len(split) > size:
			flush()
			chunks = append(chunks, s.splitTextRecursive(split, remaining)...)
		default:
			flush()
			current.WriteString(split)
		}
	}
	flush()

	return chunks
}

// splitAfter is strings.SplitAfter without the trailing empty element.
func splitAfter(text, separator string) []string {
	parts := strings.SplitAfter(text, separator)
	if n := len(parts); n > 1 && parts[n-1] == "" {
		parts = parts[:n-1]
	}
	return parts
}

// hardSplit cuts text into windows of at most size bytes without breaking a
// UTF-8 sequence. A window always holds at least one rune.
func hardSplit(text string, size int) []string {
	var chunks []string
	for len(text) > 0 {
		if len(text) <= size {
			chunks = append(chunks, text)
			break
		}
		cut := size
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if cut == 0 {
			_, width := utf8.DecodeRuneInString(text)
			cut = width
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	return chunks
}
