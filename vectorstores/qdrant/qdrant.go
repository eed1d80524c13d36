package qdrant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/x-08/agentcloud/schema"
	"github.com/x-08/agentcloud/vectorstores"
)

var (
	ErrMissingCollectionName = errors.New("qdrant: collection name is required")
	ErrInvalidURL            = errors.New("qdrant: invalid URL provided")
	ErrInvalidLimit          = errors.New("qdrant: limit must be positive")
	ErrPartialBatchFailure   = errors.New("qdrant: some batches failed to process")
)

const (
	DefaultBatchSize      = 100
	MaxBatchSize          = 1000
	DefaultMaxConcurrency = 4
	DefaultRetryAttempts  = 3
	DefaultRetryDelay     = time.Second
	DefaultMaxRetryDelay  = 30 * time.Second
)

type BatchConfig struct {
	BatchSize      int           `json:"batch_size"`
	MaxConcurrency int           `json:"max_concurrency"`
	RetryAttempts  int           `json:"retry_attempts"`
	RetryDelay     time.Duration `json:"retry_delay"`
	MaxRetryDelay  time.Duration `json:"max_retry_delay"`
}

// Store is a Qdrant-backed vector store speaking gRPC. It is safe for
// concurrent use; the underlying connection is shared.
type Store struct {
	client      *qdrant.Client
	logger      *slog.Logger
	options     options
	batchConfig BatchConfig

	mu sync.RWMutex
	// sizes caches the vector size of collections known to exist.
	sizes map[string]uint64
}

var _ vectorstores.VectorStore = (*Store)(nil)

func New(opts ...Option) (*Store, error) {
	storeOptions, err := parseOptions(opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	logger := storeOptions.logger.With("component", "qdrant_store")
	client, err := createQdrantClient(storeOptions, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Qdrant client: %w", vectorstores.ErrTransport, err)
	}
	batchConfig := BatchConfig{
		BatchSize:      storeOptions.batchSize,
		MaxConcurrency: storeOptions.maxConcurrency,
		RetryAttempts:  storeOptions.retryAttempts,
		RetryDelay:     DefaultRetryDelay,
		MaxRetryDelay:  DefaultMaxRetryDelay,
	}
	store := &Store{
		client:      client,
		logger:      logger,
		options:     storeOptions,
		batchConfig: batchConfig,
		sizes:       make(map[string]uint64),
	}
	logger.Info("Qdrant store initialized", "options", storeOptions, "batch_size", batchConfig.BatchSize, "max_concurrency", batchConfig.MaxConcurrency)
	return store, nil
}

func (s *Store) SetBatchConfig(config BatchConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.BatchSize > MaxBatchSize {
		config.BatchSize = MaxBatchSize
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultMaxConcurrency
	}
	if config.RetryAttempts < 0 {
		config.RetryAttempts = DefaultRetryAttempts
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = DefaultRetryDelay
	}
	if config.MaxRetryDelay <= 0 {
		config.MaxRetryDelay = DefaultMaxRetryDelay
	}
	s.batchConfig = config
	s.logger.Info("Batch configuration updated", "config", fmt.Sprintf("%+v", config))
}

func (s *Store) GetBatchConfig() BatchConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batchConfig
}

// Close releases the gRPC connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// UpsertPoints validates every vector against the expected dimension, makes
// sure the collection exists with a matching vector size and writes the
// points in batches with Wait=true.
func (s *Store) UpsertPoints(ctx context.Context, collection string, points []schema.VectorPoint, options ...vectorstores.Option) error {
	if strings.TrimSpace(collection) == "" {
		return ErrMissingCollectionName
	}
	if len(points) == 0 {
		return nil
	}

	opts := vectorstores.ParseOptions(options...)
	dimension := opts.ExpectedDimension
	if dimension <= 0 {
		dimension = len(points[0].Vector)
	}
	if err := vectorstores.ValidatePoints(points, dimension); err != nil {
		s.logger.WarnContext(ctx, "Rejected points before upsert",
			"collection", collection, "model", opts.ModelName, "error", err)
		return err
	}

	start := time.Now()
	if err := s.ensureCollection(ctx, collection, dimension); err != nil {
		return err
	}

	qpoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		qpoints[i] = &qdrant.PointStruct{
			Id:      pointID(p.ID),
			Vectors: &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: p.Vector}}},
			Payload: toPayload(p.Payload),
		}
	}

	if err := s.upsertInBatches(ctx, collection, qpoints); err != nil {
		return err
	}

	s.logger.DebugContext(ctx, "Points upserted",
		"collection", collection, "model", opts.ModelName, "points", len(points), "duration", time.Since(start))
	return nil
}

func (s *Store) upsertInBatches(ctx context.Context, collection string, points []*qdrant.PointStruct) error {
	cfg := s.GetBatchConfig()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.MaxConcurrency)
	for start := 0; start < len(points); start += cfg.BatchSize {
		batch := points[start:min(start+cfg.BatchSize, len(points))]
		g.Go(func() error {
			return s.upsertWithRetry(gctx, collection, batch, cfg)
		})
	}
	return g.Wait()
}

func (s *Store) upsertWithRetry(ctx context.Context, collection string, points []*qdrant.PointStruct, cfg BatchConfig) error {
	var lastErr error
	delay := cfg.RetryDelay

	for attempt := 0; attempt <= cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay = min(time.Duration(float64(delay)*1.5), cfg.MaxRetryDelay)
		}

		callCtx, cancel := s.callContext(ctx)
		wait := true
		_, err := s.client.GetPointsClient().Upsert(callCtx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Wait:           &wait,
			Points:         points,
		})
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransient(err) {
			break
		}
		s.logger.WarnContext(ctx, "Transient upsert failure, retrying",
			"collection", collection, "attempt", attempt+1, "error", err)
	}
	return classify(fmt.Errorf("upsert into %s failed: %w", collection, lastErr), schema.ErrUpsert)
}

// ensureCollection creates the collection with Cosine distance when missing.
// An existing collection with another vector size is a dimension mismatch.
func (s *Store) ensureCollection(ctx context.Context, name string, dimension int) error {
	s.mu.RLock()
	size, known := s.sizes[name]
	s.mu.RUnlock()

	if !known {
		info, err := s.collectionInfo(ctx, name)
		switch {
		case errors.Is(err, vectorstores.ErrCollectionNotFound):
			s.logger.InfoContext(ctx, "Creating collection automatically", "collection", name, "dimension", dimension)
			if err := s.CreateCollection(ctx, name, dimension); err != nil && !errors.Is(err, vectorstores.ErrCollectionExists) {
				return fmt.Errorf("%w: collection preparation failed: %w", schema.ErrUpsert, err)
			}
			size = uint64(dimension)
		case err != nil:
			return classify(fmt.Errorf("collection preparation failed: %w", err), schema.ErrUpsert)
		default:
			size = info.VectorSize
		}
		s.mu.Lock()
		s.sizes[name] = size
		s.mu.Unlock()
	}

	if size != 0 && size != uint64(dimension) {
		return fmt.Errorf("%w: collection %s stores %d-dimensional vectors, got %d", schema.ErrDimensionMismatch, name, size, dimension)
	}
	return nil
}

func (s *Store) CreateCollection(ctx context.Context, name string, dimension int) error {
	if strings.TrimSpace(name) == "" {
		return ErrMissingCollectionName
	}
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidOptions, dimension)
	}

	start := time.Now()
	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	_, err := s.client.GetCollectionsClient().Create(callCtx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     uint64(dimension),
					Distance: qdrant.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		if stat, ok := status.FromError(err); ok && stat.Code() == codes.AlreadyExists {
			return vectorstores.ErrCollectionExists
		}
		s.logger.ErrorContext(ctx, "Collection creation failed", "name", name, "error", err, "duration", time.Since(start))
		return classify(fmt.Errorf("failed to create qdrant collection: %w", err), nil)
	}

	s.mu.Lock()
	s.sizes[name] = uint64(dimension)
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Collection created successfully",
		"name", name, "dimension", dimension, "duration", time.Since(start))
	return nil
}

func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrMissingCollectionName
	}

	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	resp, err := s.client.GetCollectionsClient().Delete(callCtx, &qdrant.DeleteCollection{
		CollectionName: name,
	})
	if err != nil {
		if stat, ok := status.FromError(err); ok && stat.Code() == codes.NotFound {
			return vectorstores.ErrCollectionNotFound
		}
		s.logger.ErrorContext(ctx, "Collection deletion failed", "name", name, "error", err)
		return classify(fmt.Errorf("failed to delete collection: %w", err), nil)
	}

	s.mu.Lock()
	delete(s.sizes, name)
	s.mu.Unlock()

	if !resp.GetResult() {
		return vectorstores.ErrCollectionNotFound
	}
	s.logger.InfoContext(ctx, "Collection deleted successfully", "name", name)
	return nil
}

func (s *Store) ListCollections(ctx context.Context) ([]schema.CollectionInfo, error) {
	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	resp, err := s.client.GetCollectionsClient().List(callCtx, &qdrant.ListCollectionsRequest{})
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list collections", "error", err)
		return nil, classify(fmt.Errorf("failed to list qdrant collections: %w", err), nil)
	}

	infos := make([]schema.CollectionInfo, 0, len(resp.GetCollections()))
	for _, col := range resp.GetCollections() {
		info, err := s.collectionInfo(ctx, col.GetName())
		if err != nil {
			s.logger.WarnContext(ctx, "Failed to describe collection", "name", col.GetName(), "error", err)
			info = schema.CollectionInfo{Name: col.GetName()}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (s *Store) collectionInfo(ctx context.Context, name string) (schema.CollectionInfo, error) {
	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	resp, err := s.client.GetCollectionsClient().Get(callCtx, &qdrant.GetCollectionInfoRequest{
		CollectionName: name,
	})
	if err != nil {
		if stat, ok := status.FromError(err); ok && stat.Code() == codes.NotFound {
			return schema.CollectionInfo{}, vectorstores.ErrCollectionNotFound
		}
		return schema.CollectionInfo{}, err
	}

	result := resp.GetResult()
	params := result.GetConfig().GetParams().GetVectorsConfig().GetParams()
	return schema.CollectionInfo{
		Name:           name,
		PointsCount:    result.GetPointsCount(),
		VectorSize:     params.GetSize(),
		VectorDistance: params.GetDistance().String(),
	}, nil
}

func (s *Store) GetPoints(ctx context.Context, collection string, ids []string) ([]schema.VectorPoint, error) {
	if len(ids) == 0 {
		return []schema.VectorPoint{}, nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = pointID(id)
	}

	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	resp, err := s.client.GetPointsClient().Get(callCtx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            pointIDs,
		WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &qdrant.WithVectorsSelector{SelectorOptions: &qdrant.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, s.readError(ctx, collection, "get points", err)
	}

	points := make([]schema.VectorPoint, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		points = append(points, schema.VectorPoint{
			ID:      idString(p.GetId()),
			Vector:  p.GetVectors().GetVector().GetData(),
			Payload: fromPayload(p.GetPayload()),
		})
	}
	return points, nil
}

func (s *Store) Scroll(ctx context.Context, collection string, req vectorstores.ScrollRequest) (vectorstores.ScrollPage, error) {
	if req.Limit <= 0 {
		return vectorstores.ScrollPage{}, ErrInvalidLimit
	}

	limit := uint32(min(req.Limit, MaxBatchSize))
	scroll := &qdrant.ScrollPoints{
		CollectionName: collection,
		Limit:          &limit,
		Filter:         buildQdrantFilter(req.Filters),
		WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &qdrant.WithVectorsSelector{SelectorOptions: &qdrant.WithVectorsSelector_Enable{Enable: req.WithVectors}},
	}
	if req.Offset != "" {
		scroll.Offset = pointID(req.Offset)
	}

	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	resp, err := s.client.GetPointsClient().Scroll(callCtx, scroll)
	if err != nil {
		return vectorstores.ScrollPage{}, s.readError(ctx, collection, "scroll", err)
	}

	page := vectorstores.ScrollPage{Points: make([]schema.VectorPoint, 0, len(resp.GetResult()))}
	for _, p := range resp.GetResult() {
		page.Points = append(page.Points, schema.VectorPoint{
			ID:      idString(p.GetId()),
			Vector:  p.GetVectors().GetVector().GetData(),
			Payload: fromPayload(p.GetPayload()),
		})
	}
	if next := resp.GetNextPageOffset(); next != nil {
		page.NextOffset = idString(next)
	}
	return page, nil
}

func (s *Store) Search(ctx context.Context, collection string, vector []float32, limit int, options ...vectorstores.Option) ([]vectorstores.ScoredPoint, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	opts := vectorstores.ParseOptions(options...)

	start := time.Now()
	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	resp, err := s.client.GetPointsClient().Search(callCtx, &qdrant.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(limit),
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true},
		},
		ScoreThreshold: &opts.ScoreThreshold,
		Filter:         buildQdrantFilter(opts.Filters),
	})
	if err != nil {
		return nil, s.readError(ctx, collection, "search", err)
	}

	hits := make([]vectorstores.ScoredPoint, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		hits = append(hits, vectorstores.ScoredPoint{
			Point: schema.VectorPoint{
				ID:      idString(p.GetId()),
				Payload: fromPayload(p.GetPayload()),
			},
			Score: p.GetScore(),
		})
	}

	s.logger.DebugContext(ctx, "Search completed",
		"collection", collection, "results", len(hits), "duration", time.Since(start))
	return hits, nil
}

func (s *Store) Health(ctx context.Context) error {
	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	if _, err := s.client.HealthCheck(callCtx); err != nil {
		s.logger.ErrorContext(ctx, "Health check failed", "error", err)
		return fmt.Errorf("%w: qdrant health check failed: %w", vectorstores.ErrTransport, err)
	}
	return nil
}

func (s *Store) readError(ctx context.Context, collection, op string, err error) error {
	if stat, ok := status.FromError(err); ok && stat.Code() == codes.NotFound {
		s.logger.WarnContext(ctx, "Collection not found", "collection", collection, "op", op)
		return vectorstores.ErrCollectionNotFound
	}
	s.logger.ErrorContext(ctx, "Qdrant request failed", "collection", collection, "op", op, "error", err)
	return classify(fmt.Errorf("qdrant %s failed: %w", op, err), nil)
}

func (s *Store) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.options.timeout)
}

func createQdrantClient(opts options, logger *slog.Logger) (*qdrant.Client, error) {
	portStr := opts.endpoint.Port()
	if portStr == "" {
		portStr = strconv.Itoa(defaultPort)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid port %q: %w", ErrInvalidURL, portStr, err)
	}

	hostname := opts.endpoint.Hostname()
	logger.Debug("Creating Qdrant client", "host", hostname, "port", port, "tls", opts.useTLS)

	return qdrant.NewClient(&qdrant.Config{
		Host:   hostname,
		Port:   port,
		APIKey: opts.apiKey,
		UseTLS: opts.useTLS,
	})
}
