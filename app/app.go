// Package app builds the shared resources of the proxy once at startup and
// runs the HTTP server, the stream consumer and the queue dispatcher together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/x-08/agentcloud/broker"
	"github.com/x-08/agentcloud/config"
	"github.com/x-08/agentcloud/embeddings"
	"github.com/x-08/agentcloud/embeddings/fastapi"
	"github.com/x-08/agentcloud/embeddings/gemini"
	"github.com/x-08/agentcloud/embeddings/ollama"
	"github.com/x-08/agentcloud/ingest"
	"github.com/x-08/agentcloud/metadata"
	"github.com/x-08/agentcloud/metadata/mongo"
	"github.com/x-08/agentcloud/objectstore/gcs"
	"github.com/x-08/agentcloud/parsers"
	"github.com/x-08/agentcloud/parsers/csv"
	"github.com/x-08/agentcloud/queue"
	"github.com/x-08/agentcloud/schema"
	"github.com/x-08/agentcloud/server"
	"github.com/x-08/agentcloud/textsplitter"
	"github.com/x-08/agentcloud/usage/redis"
	"github.com/x-08/agentcloud/vectorstores/qdrant"
)

// App holds every long-lived connection. Fields are shared by the HTTP
// server and the consumer.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	store      *qdrant.Store
	meta       *mongo.Store
	usage      *redis.Tracker
	objects    *gcs.Fetcher
	broker     *broker.Client
	embedders  *embeddings.Registry
	queue      *queue.Queue
	dispatcher *queue.Dispatcher
	consumer   *ingest.Consumer
	server     *server.Server

	closers []func() error
}

// New connects to every backing service. On failure the connections opened
// so far are closed before returning.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, logger: logger.With("component", "app")}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.store, err = qdrant.New(
		qdrant.WithURL(cfg.Qdrant.URL),
		qdrant.WithAPIKey(cfg.Qdrant.APIKey),
		qdrant.WithTimeout(cfg.Timeouts.Upsert),
		qdrant.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("connect qdrant: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)

	a.meta, err = mongo.Connect(ctx, cfg.Mongo.URI,
		mongo.WithDatabase(cfg.Mongo.Database),
		mongo.WithTimeout(cfg.Timeouts.Lookup),
		mongo.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	a.closers = append(a.closers, func() error { return a.meta.Close(context.Background()) })

	a.usage, err = redis.Connect(ctx, cfg.Redis.URL,
		redis.WithKey(cfg.Redis.Key),
		redis.WithTimeout(cfg.Timeouts.Usage),
		redis.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a.closers = append(a.closers, a.usage.Close)

	a.objects, err = gcs.New(ctx,
		gcs.WithCredentialsFile(cfg.GCS.CredentialsFile),
		gcs.WithEndpoint(cfg.GCS.Endpoint),
		gcs.WithMaxObjectSize(cfg.GCS.MaxObjectSize),
		gcs.WithTimeout(cfg.Timeouts.Fetch),
		gcs.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("connect object storage: %w", err)
	}
	a.closers = append(a.closers, a.objects.Close)

	a.broker = broker.New(broker.Config{
		URL: cfg.RabbitMQ.URL,
		Topology: broker.Topology{
			Exchange:   cfg.RabbitMQ.Exchange,
			Queue:      cfg.RabbitMQ.Queue,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			Prefetch:   cfg.RabbitMQ.Prefetch,
		},
	}, logger)
	if err = a.broker.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	a.closers = append(a.closers, a.broker.Close)

	a.embedders = NewEmbedders(cfg.Embedding, logger)

	if err = a.build(logger); err != nil {
		return nil, err
	}
	return a, nil
}

// build wires the in-process components on top of the connections.
func (a *App) build(logger *slog.Logger) error {
	timeouts := ingest.Timeouts{
		Lookup: a.cfg.Timeouts.Lookup,
		Fetch:  a.cfg.Timeouts.Fetch,
		Embed:  a.cfg.Timeouts.Embed,
		Upsert: a.cfg.Timeouts.Upsert,
		Usage:  a.cfg.Timeouts.Usage,
	}
	meta := metadata.NewCache(a.meta, a.cfg.Mongo.CacheTTL)
	writer := ingest.NewWritePath(meta, a.embedders, a.store, a.usage, timeouts, logger)

	a.queue = queue.New(a.cfg.Queue.Capacity)
	dispatcher, err := queue.NewDispatcher(a.queue, writer.ProcessText,
		queue.WithWorkers(a.cfg.Queue.Workers),
		queue.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	a.dispatcher = dispatcher
	a.closers = append(a.closers, func() error { dispatcher.Release(); return nil })

	pipeline := ingest.NewPipeline(
		writer,
		a.objects,
		parsers.NewExtractor(logger),
		textsplitter.NewChunkEngine(textsplitter.WithLogger(logger)),
		csv.NewRowStreamer(logger),
		a.queue,
		logger,
	)
	a.consumer = ingest.NewConsumer(a.broker, pipeline, logger)

	a.server = server.New(server.Config{
		Addr:            a.cfg.HTTP.Addr,
		WebappURL:       a.cfg.HTTP.WebappURL,
		ShutdownTimeout: a.cfg.Timeouts.Shutdown,
	}, server.Deps{
		Store:     a.store,
		Writer:    writer,
		Embedders: a.embedders,
		Usage:     a.usage,
		Queue:     a.queue,
		Stats: func() map[string]any {
			return map[string]any{
				"dispatcher": a.dispatcher.Stats(),
				"consumer":   a.consumer.Stats(),
			}
		},
		Checks: map[string]server.HealthCheck{
			"broker": func(context.Context) error { return a.broker.Healthy() },
			"usage": func(ctx context.Context) error {
				_, err := a.usage.Count(ctx)
				return err
			},
		},
		Logger: logger,
	})
	return nil
}

// Run blocks until ctx is cancelled or one of the tasks fails. After the
// consumer stops, the queue is closed and drained before Run returns.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.server.Run(gctx)
	})
	g.Go(func() error {
		defer a.queue.Close()
		return a.consumer.Run(gctx)
	})
	g.Go(func() error {
		// Queued rows are finished even after shutdown starts; each stage
		// still has its own deadline.
		return a.dispatcher.Run(context.WithoutCancel(gctx))
	})

	a.logger.InfoContext(ctx, "Proxy running",
		"http", a.cfg.HTTP.Addr, "queue", a.cfg.RabbitMQ.Queue, "workers", a.cfg.Queue.Workers)
	return g.Wait()
}

// Close releases connections in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// NewEmbedders registers the embedding providers. "fastembed" is an alias
// for the FastAPI embedding server.
func NewEmbedders(cfg config.EmbeddingConfig, logger *slog.Logger) *embeddings.Registry {
	var opts []embeddings.Option
	if cfg.BatchSize > 0 {
		opts = append(opts, embeddings.WithBatchSize(cfg.BatchSize))
	}
	registry := embeddings.NewRegistry(logger, cfg.DefaultProvider, opts...)

	registry.Register("ollama", func(_ context.Context, model schema.EmbeddingModel) (embeddings.Embedder, error) {
		return ollama.New(
			ollama.WithModel(model.Name),
			ollama.WithServerURL(cfg.OllamaURL),
			ollama.WithLogger(logger),
		)
	})
	registry.Register("gemini", func(ctx context.Context, model schema.EmbeddingModel) (embeddings.Embedder, error) {
		return gemini.New(ctx,
			gemini.WithModel(model.Name),
			gemini.WithAPIKey(cfg.GeminiAPIKey),
			gemini.WithDimension(model.Dimension),
			gemini.WithLogger(logger),
		)
	})
	fast := func(_ context.Context, model schema.EmbeddingModel) (embeddings.Embedder, error) {
		return fastapi.New(cfg.FastAPIURL,
			fastapi.WithModel(model.Name),
			fastapi.WithAPIKey(cfg.FastAPIKey),
			fastapi.WithLogger(logger),
		)
	}
	registry.Register("fastapi", fast)
	registry.Register("fastembed", fast)
	return registry
}
