package parsers_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-08/agentcloud/parsers"
	ptesting "github.com/x-08/agentcloud/parsers/testing"
	"github.com/x-08/agentcloud/schema"
)

func TestExtractor_EveryFileType(t *testing.T) {
	logger, _ := ptesting.NewTestLogger(t)
	extractor := parsers.NewExtractor(logger)

	tests := []struct {
		ft   schema.FileType
		data []byte
	}{
		{schema.FileTypePDF, ptesting.BuildPDF("Quarterly report")},
		{schema.FileTypeTXT, []byte("plain notes")},
		{schema.FileTypeDOCX, ptesting.BuildDOCX("Meeting minutes")},
		{schema.FileTypeDOCX, ptesting.BuildXLSX("cell value")},
	}

	for _, tt := range tests {
		t.Run(tt.ft.String(), func(t *testing.T) {
			text, meta, err := extractor.Extract(context.Background(), tt.ft, tt.data)
			require.NoError(t, err)
			assert.NotEmpty(t, text)
			assert.NotNil(t, meta)
		})
	}
}

func TestExtractor_Unknown(t *testing.T) {
	logger, _ := ptesting.NewTestLogger(t)
	extractor := parsers.NewExtractor(logger)

	_, _, err := extractor.Extract(context.Background(), schema.FileTypeUnknown, []byte("a,b"))
	assert.ErrorIs(t, err, schema.ErrExtraction)
	assert.ErrorIs(t, err, parsers.ErrUnsupportedFormat)
}

func TestExtractor_PDFWithoutText(t *testing.T) {
	logger, _ := ptesting.NewTestLogger(t)
	extractor := parsers.NewExtractor(logger)

	_, _, err := extractor.Extract(context.Background(), schema.FileTypePDF, ptesting.BuildPDF(""))
	assert.ErrorIs(t, err, schema.ErrExtraction)
}

func TestExtractor_ExtractFile(t *testing.T) {
	logger, _ := ptesting.NewTestLogger(t)
	extractor := parsers.NewExtractor(logger)

	dir := t.TempDir()
	path := filepath.Join(dir, "notes.TXT")
	require.NoError(t, os.WriteFile(path, []byte("from disk"), 0o600))

	text, _, err := extractor.ExtractFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "from disk", text)

	_, _, err = extractor.ExtractFile(context.Background(), filepath.Join(dir, "missing.txt"))
	assert.ErrorIs(t, err, schema.ErrExtraction)

	_, _, err = extractor.ExtractFile(context.Background(), filepath.Join(dir, "image.png"))
	assert.ErrorIs(t, err, parsers.ErrUnsupportedFormat)
}

func TestKindOf(t *testing.T) {
	tests := map[string]parsers.Kind{
		"report.pdf":        parsers.KindPDF,
		"notes.txt":         parsers.KindTXT,
		"deck.PPTX":         parsers.KindDOCX,
		"sheet.ods":         parsers.KindDOCX,
		"rows.csv":          parsers.KindCSV,
		"rows.tsv":          parsers.KindCSV,
		"image.png":         parsers.KindUnknown,
		"no-extension":      parsers.KindUnknown,
		"dir/nested/a.docx": parsers.KindDOCX,
	}
	for name, want := range tests {
		assert.Equal(t, want, parsers.KindOf(name), name)
	}

	assert.Equal(t, schema.FileTypeUnknown, parsers.KindCSV.FileType())
	assert.Equal(t, "csv", parsers.KindCSV.String())
	assert.Equal(t, "pdf", parsers.KindPDF.String())
}
