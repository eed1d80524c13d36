// Package objectstore fetches uploaded files referenced by stream messages.
package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/x-08/agentcloud/schema"
)

var (
	ErrInvalidPointer = fmt.Errorf("%w: invalid object pointer", schema.ErrExtraction)
	ErrObjectNotFound = errors.New("object not found")
	ErrObjectTooLarge = fmt.Errorf("%w: object exceeds size limit", schema.ErrExtraction)
)

// Pointer names an object in a bucket. The JSON keys follow object storage
// notification payloads.
type Pointer struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

func (p Pointer) String() string {
	return p.Bucket + "/" + p.Name
}

// ParsePointer decodes a message body into a pointer. Both fields are required.
func ParsePointer(body []byte) (Pointer, error) {
	var p Pointer
	if err := json.Unmarshal(body, &p); err != nil {
		return Pointer{}, fmt.Errorf("%w: %w", ErrInvalidPointer, err)
	}
	p.Bucket = strings.TrimSpace(p.Bucket)
	p.Name = strings.TrimSpace(p.Name)
	if p.Bucket == "" || p.Name == "" {
		return Pointer{}, fmt.Errorf("%w: bucket and name are required", ErrInvalidPointer)
	}
	return p, nil
}

// Fetcher downloads the bytes of an object.
type Fetcher interface {
	Fetch(ctx context.Context, p Pointer) ([]byte, error)
}
