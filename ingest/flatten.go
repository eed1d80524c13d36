package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/x-08/agentcloud/schema"
)

// ErrNotAnObject is returned for records that are not JSON objects.
var ErrNotAnObject = fmt.Errorf("%w: record is not a JSON object", schema.ErrExtraction)

// decodeRecord parses a JSON object into a flat string map. Nested objects
// use dotted keys, arrays are kept as JSON and null becomes "".
func decodeRecord(payload string) (map[string]string, error) {
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()

	var record map[string]any
	if err := dec.Decode(&record); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotAnObject, err)
	}
	if record == nil {
		return nil, ErrNotAnObject
	}

	flat := make(map[string]string, len(record))
	flattenInto(flat, "", record)
	return flat, nil
}

func flattenInto(out map[string]string, prefix string, value any) {
	switch v := value.(type) {
	case map[string]any:
		if len(v) == 0 && prefix != "" {
			out[prefix] = "{}"
			return
		}
		for key, child := range v {
			if prefix != "" {
				key = prefix + "." + key
			}
			flattenInto(out, key, child)
		}
	case string:
		out[prefix] = v
	case json.Number:
		out[prefix] = v.String()
	case bool:
		out[prefix] = fmt.Sprint(v)
	case nil:
		out[prefix] = ""
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(v); err != nil {
			out[prefix] = fmt.Sprint(v)
			return
		}
		out[prefix] = strings.TrimSuffix(buf.String(), "\n")
	}
}
