// Package mongo reads datasource and model documents from MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/x-08/agentcloud/metadata"
	"github.com/x-08/agentcloud/schema"
)

const (
	DefaultDatabase              = "test"
	DefaultDatasourcesCollection = "datasources"
	DefaultModelsCollection      = "models"
)

var ErrEmptyURI = errors.New("mongo: connection URI is required")

type datasourceDoc struct {
	ID             any    `bson:"_id"`
	ModelID        any    `bson:"modelId"`
	EmbeddingField string `bson:"embeddingField"`
	CollectionName string `bson:"collectionName,omitempty"`
	ChunkingConfig struct {
		Strategy  string `bson:"strategy"`
		Character string `bson:"character"`
	} `bson:"chunkingConfig"`
}

type modelDoc struct {
	Model           string `bson:"model"`
	EmbeddingLength int    `bson:"embeddingLength"`
	Type            string `bson:"type"`
	MaxTokens       int    `bson:"maxTokens"`
}

type storeOptions struct {
	database    string
	datasources string
	models      string
	timeout     time.Duration
	logger      *slog.Logger
}

type Option func(*storeOptions)

func WithDatabase(name string) Option {
	return func(o *storeOptions) {
		if name != "" {
			o.database = name
		}
	}
}

func WithCollections(datasources, models string) Option {
	return func(o *storeOptions) {
		if datasources != "" {
			o.datasources = datasources
		}
		if models != "" {
			o.models = models
		}
	}
}

// WithTimeout bounds each lookup.
func WithTimeout(timeout time.Duration) Option {
	return func(o *storeOptions) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *storeOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Store implements metadata.Store on top of a shared client.
type Store struct {
	client      *mongo.Client
	datasources *mongo.Collection
	models      *mongo.Collection
	timeout     time.Duration
	logger      *slog.Logger
}

var _ metadata.Store = (*Store)(nil)

// Connect dials MongoDB and returns a store owning the client.
func Connect(ctx context.Context, uri string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, ErrEmptyURI
	}
	client, err := mongo.Connect(options.Client().
		ApplyURI(uri).
		SetBSONOptions(&options.BSONOptions{
			ObjectIDAsHexString: true,
		}))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to mongo: %w", schema.ErrTransport, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%w: mongo ping failed: %w", schema.ErrTransport, err)
	}
	return New(client, opts...), nil
}

func New(client *mongo.Client, opts ...Option) *Store {
	o := storeOptions{
		database:    DefaultDatabase,
		datasources: DefaultDatasourcesCollection,
		models:      DefaultModelsCollection,
		timeout:     10 * time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	db := client.Database(o.database)
	return &Store{
		client:      client,
		datasources: db.Collection(o.datasources),
		models:      db.Collection(o.models),
		timeout:     o.timeout,
		logger:      o.logger.With("component", "mongo_metadata"),
	}
}

func (s *Store) DatasourceConfig(ctx context.Context, datasourceID string) (schema.DatasourceConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var ds datasourceDoc
	if err := s.datasources.FindOne(ctx, bson.M{"_id": objectID(datasourceID)}).Decode(&ds); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return schema.DatasourceConfig{}, fmt.Errorf("%w: %s", metadata.ErrDatasourceNotFound, datasourceID)
		}
		s.logger.ErrorContext(ctx, "Datasource lookup failed", "datasource", datasourceID, "error", err)
		return schema.DatasourceConfig{}, fmt.Errorf("%w: %w", schema.ErrLookup, err)
	}
	if ds.ModelID == nil {
		return schema.DatasourceConfig{}, fmt.Errorf("%w: datasource %s has no model", metadata.ErrModelNotFound, datasourceID)
	}

	var model modelDoc
	if err := s.models.FindOne(ctx, bson.M{"_id": ds.ModelID}).Decode(&model); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return schema.DatasourceConfig{}, fmt.Errorf("%w: datasource %s", metadata.ErrModelNotFound, datasourceID)
		}
		s.logger.ErrorContext(ctx, "Model lookup failed", "datasource", datasourceID, "error", err)
		return schema.DatasourceConfig{}, fmt.Errorf("%w: %w", schema.ErrLookup, err)
	}

	return toConfig(datasourceID, ds, model)
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func toConfig(datasourceID string, ds datasourceDoc, model modelDoc) (schema.DatasourceConfig, error) {
	if ds.EmbeddingField == "" {
		return schema.DatasourceConfig{}, fmt.Errorf("%w: %s", metadata.ErrNoTextField, datasourceID)
	}
	if model.Model == "" || model.EmbeddingLength <= 0 {
		return schema.DatasourceConfig{}, fmt.Errorf("%w: model of %s is incomplete", metadata.ErrModelNotFound, datasourceID)
	}
	return schema.DatasourceConfig{
		ID: datasourceID,
		Model: schema.EmbeddingModel{
			Name:      model.Model,
			Provider:  model.Type,
			Dimension: model.EmbeddingLength,
			MaxTokens: model.MaxTokens,
		},
		TextField:      ds.EmbeddingField,
		Strategy:       schema.ParseChunkingStrategy(ds.ChunkingConfig.Strategy),
		ChunkCharacter: ds.ChunkingConfig.Character,
		Collection:     ds.CollectionName,
	}, nil
}

// objectID converts hex ids to ObjectIDs; other ids are matched verbatim.
func objectID(id string) any {
	if oid, err := bson.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}
