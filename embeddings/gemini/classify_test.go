package gemini

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/genai"

	"github.com/x-08/agentcloud/schema"
)

func TestClassify(t *testing.T) {
	rejected := classify(fmt.Errorf("call: %w", genai.APIError{Code: 400, Message: "bad model"}))
	assert.ErrorIs(t, rejected, schema.ErrEmbedding)
	assert.NotErrorIs(t, rejected, schema.ErrTransport)

	assert.ErrorIs(t, classify(genai.APIError{Code: 429}), schema.ErrTransport)
	assert.ErrorIs(t, classify(genai.APIError{Code: 503}), schema.ErrTransport)
	assert.ErrorIs(t, classify(errors.New("connection reset")), schema.ErrTransport)
	assert.Equal(t, context.Canceled, classify(context.Canceled))
}
