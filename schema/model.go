package schema

import (
	"fmt"
	"strings"
)

const (
	defaultMaxTokens = 8192
	// charsPerToken is the character-to-token estimation ratio used to turn a
	// model's token budget into a chunk size.
	charsPerToken = 4
)

// ChunkingStrategy selects the splitting algorithm for a datasource.
type ChunkingStrategy string

const (
	StrategySemantic  ChunkingStrategy = "semantic"
	StrategyFixedSize ChunkingStrategy = "fixed_size"
	StrategyCharacter ChunkingStrategy = "character"
)

// ParseChunkingStrategy maps a configuration value to a strategy. Unknown or
// empty values select the semantic strategy.
func ParseChunkingStrategy(s string) ChunkingStrategy {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fixed", "fixed_size", "fixed-size":
		return StrategyFixedSize
	case "character", "char":
		return StrategyCharacter
	default:
		return StrategySemantic
	}
}

// EmbeddingModel identifies the provider and output dimensionality used to
// vectorize a datasource.
type EmbeddingModel struct {
	Name      string `json:"model" bson:"model"`
	Provider  string `json:"provider" bson:"provider"`
	Dimension int    `json:"embedding_length" bson:"embeddingLength"`
	MaxTokens int    `json:"max_tokens,omitempty" bson:"maxTokens,omitempty"`
}

func (m EmbeddingModel) String() string {
	return fmt.Sprintf("%s/%s (dim: %d)", m.Provider, m.Name, m.Dimension)
}

// MaxChunkChars bounds the size of a single chunk for this model.
func (m EmbeddingModel) MaxChunkChars() int {
	tokens := m.MaxTokens
	if tokens <= 0 {
		tokens = defaultMaxTokens
	}
	return tokens * charsPerToken
}

// DatasourceConfig is everything the write path needs to know about a datasource.
type DatasourceConfig struct {
	ID             string
	Model          EmbeddingModel
	TextField      string
	Strategy       ChunkingStrategy
	ChunkCharacter string
	Collection     string
}

// CollectionName is the vector store collection the datasource writes to.
func (c DatasourceConfig) CollectionName() string {
	if c.Collection != "" {
		return c.Collection
	}
	return c.ID
}

// QueueItem is one unit of bulk work waiting for embedding.
type QueueItem struct {
	DatasourceID string            `json:"datasource_id"`
	Payload      string            `json:"payload"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}
