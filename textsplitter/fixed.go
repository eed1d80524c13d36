package textsplitter

import (
	"context"
)

// FixedSize cuts text into consecutive windows of the chunk size, ignoring
// any structure in the text.
type FixedSize struct {
	opts options
}

func NewFixedSize(opts ...Option) *FixedSize {
	return &FixedSize{opts: applyOptions(opts...)}
}

func (s *FixedSize) SplitText(ctx context.Context, text string) ([]string, error) {
	if s.opts.chunkSize <= 0 {
		return nil, ErrInvalidChunkSize
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, nil
	}
	return hardSplit(text, s.opts.chunkSize), nil
}

// Character splits after every occurrence of a boundary token. Pieces larger
// than the chunk size are split further with the recursive splitter.
type Character struct {
	opts      options
	recursive *RecursiveCharacter
}

func NewCharacter(opts ...Option) *Character {
	o := applyOptions(opts...)
	return &Character{
		opts:      o,
		recursive: &RecursiveCharacter{opts: o},
	}
}

func (s *Character) SplitText(ctx context.Context, text string) ([]string, error) {
	if s.opts.chunkSize <= 0 {
		return nil, ErrInvalidChunkSize
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, nil
	}

	var chunks []string
	for _, piece := range splitAfter(text, s.opts.boundary) {
		if len(piece) <= s.opts.chunkSize {
			chunks = append(chunks, piece)
			continue
		}
		chunks = append(chunks, s.recursive.splitTextRecursive(piece, s.opts.separators)...)
	}
	return chunks, nil
}
