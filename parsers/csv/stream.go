package csv

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/x-08/agentcloud/schema"
)

// StreamResult summarizes one streamed source.
type StreamResult struct {
	Rows    int
	Skipped int
	Headers []string
}

// Stream reads r row by row and enqueues each data row, fields joined with
// FieldSeparator, tagged with datasourceID. Rows that fail to decode are
// logged and skipped. The call blocks while the sink is full.
func (s *RowStreamer) Stream(ctx context.Context, datasourceID, source string, r io.Reader, sink Sink) (StreamResult, error) {
	var result StreamResult

	br := bufio.NewReaderSize(r, sniffSize)
	delimiter := s.delimiter
	if delimiter == 0 {
		sample, _ := br.Peek(sniffSize)
		delimiter = detectDelimiter(string(sample), source)
	}

	reader := csv.NewReader(br)
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	headerPending := s.hasHeader
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				s.logger.WarnContext(ctx, "Skipping malformed CSV row",
					"source", source, "line", parseErr.StartLine, "error", err)
				result.Skipped++
				continue
			}
			return result, fmt.Errorf("%w: reading %s: %w", schema.ErrExtraction, source, err)
		}

		if headerPending {
			headerPending = false
			result.Headers = append([]string(nil), record...)
			continue
		}
		if isBlank(record) {
			continue
		}

		item := schema.QueueItem{
			DatasourceID: datasourceID,
			Payload:      strings.Join(record, FieldSeparator),
			Metadata: map[string]string{
				RowKey:    strconv.Itoa(result.Rows),
				SourceKey: source,
			},
		}
		if len(result.Headers) > 0 {
			item.Metadata[HeadersKey] = strings.Join(result.Headers, FieldSeparator)
		}
		if err := sink.Enqueue(ctx, item); err != nil {
			return result, fmt.Errorf("enqueue row %d of %s: %w", result.Rows, source, err)
		}
		result.Rows++
	}

	s.logger.InfoContext(ctx, "CSV source streamed",
		"datasource_id", datasourceID, "source", source,
		"rows", result.Rows, "skipped", result.Skipped, "delimiter", string(delimiter))
	return result, nil
}

// detectDelimiter attempts to detect the CSV delimiter
func detectDelimiter(sample string, source string) rune {
	if strings.HasSuffix(strings.ToLower(source), ".tsv") {
		return '\t'
	}

	lines := strings.SplitN(sample, "\n", 4)
	if len(lines) > 3 {
		lines = lines[:3]
	}
	head := strings.Join(lines, "\n")

	bestDelimiter := ','
	maxCount := 0
	// Fixed order so ties resolve deterministically.
	for _, delim := range []rune{',', ';', '\t', '|'} {
		if count := strings.Count(head, string(delim)); count > maxCount {
			maxCount = count
			bestDelimiter = delim
		}
	}
	return bestDelimiter
}

func isBlank(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
