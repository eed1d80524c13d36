package parsers

import (
	"context"
)

// DocumentParser turns the raw bytes of one document format into text and a
// metadata map.
type DocumentParser interface {
	Parse(ctx context.Context, data []byte) (string, map[string]string, error)
}
