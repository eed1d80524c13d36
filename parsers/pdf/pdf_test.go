package pdf_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-08/agentcloud/parsers/pdf"
	ptesting "github.com/x-08/agentcloud/parsers/testing"
	"github.com/x-08/agentcloud/schema"
)

func TestParser_Parse(t *testing.T) {
	logger, _ := ptesting.NewTestLogger(t)
	parser := pdf.NewParser(logger)

	data := ptesting.BuildPDF("Hello PDF", "Second page")
	text, meta, err := parser.Parse(context.Background(), data)
	require.NoError(t, err)

	assert.Contains(t, text, "Hello PDF")
	assert.Contains(t, text, "Second page")
	assert.Equal(t, "2", meta[pdf.PageCountKey])
	assert.NotEmpty(t, meta[pdf.CharacterCountKey])
	assert.Equal(t, "WinAnsiEncoding", meta[pdf.FontKeyPrefix+"Helvetica"])
}

func TestParser_NoRecoverableText(t *testing.T) {
	logger, _ := ptesting.NewTestLogger(t)
	parser := pdf.NewParser(logger)

	_, _, err := parser.Parse(context.Background(), ptesting.BuildPDF(""))
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrExtraction)
}

func TestParser_NotAPDF(t *testing.T) {
	logger, _ := ptesting.NewTestLogger(t)
	parser := pdf.NewParser(logger)

	_, _, err := parser.Parse(context.Background(), []byte("plain text pretending to be a pdf"))
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrExtraction)
}
