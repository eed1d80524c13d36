package textsplitter

import (
	"context"
)

// Splitter splits raw text into ordered pieces whose concatenation is the
// original text.
type Splitter interface {
	SplitText(ctx context.Context, text string) ([]string, error)
}

var (
	_ Splitter = (*RecursiveCharacter)(nil)
	_ Splitter = (*FixedSize)(nil)
	_ Splitter = (*Character)(nil)
)
