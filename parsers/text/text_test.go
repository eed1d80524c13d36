package text_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ptesting "github.com/x-08/agentcloud/parsers/testing"
	"github.com/x-08/agentcloud/parsers/text"
)

func TestParser_Parse(t *testing.T) {
	logger, _ := ptesting.NewTestLogger(t)
	parser := text.NewParser(logger)

	tests := []struct {
		name     string
		data     []byte
		want     string
		encoding string
	}{
		{"plain utf-8", []byte("hello\nworld"), "hello\nworld", "utf-8"},
		{"utf-8 bom", append([]byte{0xEF, 0xBB, 0xBF}, []byte("bom text")...), "bom text", "utf-8"},
		{"utf-16le bom", []byte{0xFF, 0xFE, 'h', 0, 'i', 0}, "hi", "utf-16le"},
		{"utf-16be bom", []byte{0xFE, 0xFF, 0, 'h', 0, 'i'}, "hi", "utf-16be"},
		{"windows-1252", []byte{'c', 'a', 'f', 0xE9}, "café", "windows-1252"},
		{"multibyte utf-8", []byte("Grüße"), "Grüße", "utf-8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, meta, err := parser.Parse(context.Background(), tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.encoding, meta[text.EncodingKey])
		})
	}
}

func TestParser_LineCount(t *testing.T) {
	logger, _ := ptesting.NewTestLogger(t)
	parser := text.NewParser(logger)

	_, meta, err := parser.Parse(context.Background(), []byte("a\nb\nc"))
	require.NoError(t, err)
	assert.Equal(t, "3", meta["total_lines"])
	assert.Equal(t, "5", meta["size_bytes"])
}
