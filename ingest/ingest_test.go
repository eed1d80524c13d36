package ingest_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-08/agentcloud/embeddings"
	embfake "github.com/x-08/agentcloud/embeddings/fake"
	"github.com/x-08/agentcloud/ingest"
	metafake "github.com/x-08/agentcloud/metadata/fake"
	objfake "github.com/x-08/agentcloud/objectstore/fake"
	"github.com/x-08/agentcloud/parsers"
	"github.com/x-08/agentcloud/parsers/csv"
	ptesting "github.com/x-08/agentcloud/parsers/testing"
	"github.com/x-08/agentcloud/queue"
	"github.com/x-08/agentcloud/schema"
	"github.com/x-08/agentcloud/textsplitter"
	usagefake "github.com/x-08/agentcloud/usage/fake"
	storefake "github.com/x-08/agentcloud/vectorstores/fake"
)

type harness struct {
	meta     *metafake.Store
	embedder *embfake.Embedder
	store    *storefake.Store
	usage    *usagefake.Tracker
	objects  *objfake.Fetcher
	queue    *queue.Queue
	writer   *ingest.WritePath
	pipeline *ingest.Pipeline
	logs     *ptesting.SyncBuffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger, logs := ptesting.NewTestLogger(t)

	h := &harness{
		logs:     logs,
		meta:     metafake.New(),
		embedder: embfake.New(4),
		store:    storefake.New(),
		usage:    usagefake.New(),
		objects:  objfake.New(),
		queue:    queue.New(16),
	}
	h.meta.Put(schema.DatasourceConfig{
		ID:        "ds1",
		Model:     schema.EmbeddingModel{Name: "modelA", Provider: "fake", Dimension: 4},
		TextField: "text",
	})

	registry := embeddings.NewRegistry(logger, "fake")
	registry.Register("fake", func(_ context.Context, model schema.EmbeddingModel) (embeddings.Embedder, error) {
		if model.Name == "wrong-dim" {
			return embfake.New(model.Dimension + 1), nil
		}
		return h.embedder, nil
	})

	h.writer = ingest.NewWritePath(h.meta, registry, h.store, h.usage, ingest.Timeouts{}, logger)
	h.pipeline = ingest.NewPipeline(
		h.writer,
		h.objects,
		parsers.NewExtractor(logger),
		textsplitter.NewChunkEngine(textsplitter.WithLogger(logger)),
		csv.NewRowStreamer(logger),
		h.queue,
		logger,
	)
	return h
}

type acker struct {
	mu      sync.Mutex
	acked   []uint64
	nacked  []uint64
	requeue []bool
}

func (a *acker) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *acker) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked = append(a.nacked, tag)
	a.requeue = append(a.requeue, requeue)
	return nil
}

func (a *acker) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

type source struct {
	deliveries chan amqp.Delivery
	cancelled  chan struct{}
	once       sync.Once
}

func newSource() *source {
	return &source{deliveries: make(chan amqp.Delivery, 8), cancelled: make(chan struct{})}
}

func (s *source) Consume(context.Context) (<-chan amqp.Delivery, error) {
	return s.deliveries, nil
}

func (s *source) Cancel() error {
	s.once.Do(func() { close(s.cancelled) })
	return nil
}

func delivery(ack amqp.Acknowledger, tag uint64, headers amqp.Table, body string) amqp.Delivery {
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: tag, Headers: headers, Body: []byte(body)}
}

func TestWritePath_SingleRecord(t *testing.T) {
	h := newHarness(t)

	ok := h.writer.Process(context.Background(), "ds1", `{"text":"hello world"}`)
	require.True(t, ok)

	points := h.store.Points("ds1")
	require.Len(t, points, 1)
	assert.Len(t, points[0].Vector, 4)
	assert.Equal(t, "hello world", points[0].Payload[schema.PageContentKey])
	assert.NotContains(t, points[0].Payload, "text")
	assert.NotEmpty(t, points[0].ID)
	assert.Equal(t, 1, h.usage.Increments())

	upserts := h.store.Upserts()
	require.Len(t, upserts, 1)
	assert.Equal(t, 4, upserts[0].Options.ExpectedDimension)
	assert.Equal(t, "modelA", upserts[0].Options.ModelName)
}

func TestWritePath_FlattensNestedRecords(t *testing.T) {
	h := newHarness(t)

	point, err := h.writer.ProcessRecord(context.Background(), "ds1",
		`{"text":"body","author":{"name":"kim","age":41},"tags":["a","b"],"draft":false,"note":null}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		schema.PageContentKey: "body",
		"author.name":         "kim",
		"author.age":          "41",
		"tags":                `["a","b"]`,
		"draft":               "false",
		"note":                "",
	}, point.Payload)
}

func TestWritePath_Failures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(h *harness)
		ds      string
		payload string
		wantErr error
	}{
		{name: "unknown datasource", ds: "nope", payload: `{"text":"x"}`, wantErr: schema.ErrLookup},
		{name: "missing text field", ds: "ds1", payload: `{"body":"x"}`, wantErr: ingest.ErrMissingTextField},
		{name: "not an object", ds: "ds1", payload: `["x"]`, wantErr: schema.ErrExtraction},
		{
			name:    "embedding failure",
			setup:   func(h *harness) { h.embedder.SetError(errors.New("provider down")) },
			ds:      "ds1",
			payload: `{"text":"x"}`,
			wantErr: schema.ErrEmbedding,
		},
		{
			name: "dimension mismatch",
			setup: func(h *harness) {
				h.meta.Put(schema.DatasourceConfig{
					ID:        "ds2",
					Model:     schema.EmbeddingModel{Name: "wrong-dim", Provider: "fake", Dimension: 4},
					TextField: "text",
				})
			},
			ds:      "ds2",
			payload: `{"text":"x"}`,
			wantErr: schema.ErrDimensionMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.setup != nil {
				tt.setup(h)
			}
			_, err := h.writer.ProcessRecord(context.Background(), tt.ds, tt.payload)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.False(t, h.writer.Process(context.Background(), tt.ds, tt.payload))
			assert.Empty(t, h.store.Upserts())
			assert.Zero(t, h.usage.Increments())
		})
	}
}

func TestWritePath_UsageFailureDoesNotFailWrite(t *testing.T) {
	h := newHarness(t)
	h.usage.SetError(errors.New("redis down"))

	assert.True(t, h.writer.Process(context.Background(), "ds1", `{"text":"x"}`))
	assert.Len(t, h.store.Points("ds1"), 1)
}

func TestDatasourceID(t *testing.T) {
	id, err := ingest.DatasourceID(amqp.Table{"stream": "ds1_abc_def"})
	require.NoError(t, err)
	assert.Equal(t, "ds1", id)

	id, err = ingest.DatasourceID(amqp.Table{"stream": []byte("ds9")})
	require.NoError(t, err)
	assert.Equal(t, "ds9", id)

	for _, headers := range []amqp.Table{nil, {"stream": ""}, {"stream": "_x"}, {"stream": 12}} {
		_, err := ingest.DatasourceID(headers)
		assert.ErrorIs(t, err, schema.ErrHeader)
	}
}

func TestConsumer_InlineRecordIsAcked(t *testing.T) {
	h := newHarness(t)
	src := newSource()
	ack := &acker{}
	consumer := ingest.NewConsumer(src, h.pipeline, nil)

	src.deliveries <- delivery(ack, 1, amqp.Table{"stream": "ds1_abc"}, `{"text":"hello world"}`)
	close(src.deliveries)
	assert.ErrorIs(t, consumer.Run(context.Background()), ingest.ErrSourceClosed)

	assert.Equal(t, []uint64{1}, ack.acked)
	assert.Empty(t, ack.nacked)
	require.Len(t, h.store.Points("ds1"), 1)
	assert.Equal(t, "hello world", h.store.Points("ds1")[0].Payload[schema.PageContentKey])
	assert.Equal(t, 1, h.usage.Increments())
	assert.Empty(t, h.objects.Fetches())
	assert.Equal(t, ingest.ConsumerStats{Committed: 1}, consumer.Stats())
}

func TestConsumer_FailuresAreDeadLettered(t *testing.T) {
	h := newHarness(t)
	src := newSource()
	ack := &acker{}
	consumer := ingest.NewConsumer(src, h.pipeline, nil)

	src.deliveries <- delivery(ack, 1, amqp.Table{}, `{"text":"hello"}`)
	src.deliveries <- delivery(ack, 2, amqp.Table{"stream": "nope_1"}, `{"text":"hello"}`)
	src.deliveries <- delivery(ack, 3, amqp.Table{"stream": "ds1_1"}, `{"text":"ok"}`)
	close(src.deliveries)
	_ = consumer.Run(context.Background())

	assert.Equal(t, []uint64{3}, ack.acked)
	assert.Equal(t, []uint64{1, 2}, ack.nacked)
	assert.Equal(t, []bool{false, false}, ack.requeue)
	assert.Len(t, h.store.Points("ds1"), 1)
}

func TestConsumer_RecoversFromPanics(t *testing.T) {
	src := newSource()
	ack := &acker{}
	consumer := ingest.NewConsumer(src, ingest.NewPipeline(nil, nil, nil, nil, nil, nil, nil), nil)

	src.deliveries <- delivery(ack, 7, amqp.Table{"stream": "ds1_1"}, `{"text":"x"}`)
	close(src.deliveries)
	_ = consumer.Run(context.Background())

	assert.Equal(t, []uint64{7}, ack.nacked)
	assert.Equal(t, int64(1), consumer.Stats().Failed)
}

func TestConsumer_CancelsOnShutdown(t *testing.T) {
	h := newHarness(t)
	src := newSource()
	consumer := ingest.NewConsumer(src, h.pipeline, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
	select {
	case <-src.cancelled:
	default:
		t.Fatal("subscription was not cancelled")
	}
}

func TestPipeline_CSVFanOut(t *testing.T) {
	h := newHarness(t)
	h.objects.Put("uploads", "people.csv", []byte("name,city\nada,london\nalan,wilmslow\ngrace,arlington\n"))

	d := delivery(&acker{}, 1, amqp.Table{"stream": "ds1_upload", "type": "csv"}, `{"bucket":"uploads","name":"people.csv"}`)
	out := h.pipeline.Handle(context.Background(), d)
	require.Equal(t, ingest.StateCommitted, out.State, "%v", out.Err)
	assert.True(t, out.File)
	require.Equal(t, 3, h.queue.Len())

	peeked, ok := h.queue.Peek()
	require.True(t, ok)
	assert.Equal(t, "ds1", peeked.DatasourceID)
	assert.Equal(t, "ada, london", peeked.Payload)

	dispatcher, err := queue.NewDispatcher(h.queue, h.writer.ProcessText, queue.WithWorkers(2))
	require.NoError(t, err)
	defer dispatcher.Release()
	h.queue.Close()
	require.NoError(t, dispatcher.Run(context.Background()))

	points := h.store.Points("ds1")
	require.Len(t, points, 3)
	assert.Equal(t, 3, h.usage.Increments())
	assert.Equal(t, int64(3), dispatcher.Stats().Processed)
	for _, p := range points {
		assert.Equal(t, "people.csv", p.Payload[csv.SourceKey])
		assert.Contains(t, []string{"ada, london", "alan, wilmslow", "grace, arlington"}, p.Payload[schema.PageContentKey])
	}
}

func TestPipeline_PDFIsChunkedAndWritten(t *testing.T) {
	h := newHarness(t)
	h.objects.Put("uploads", "report.pdf", ptesting.BuildPDF("Quarterly numbers went up.", "Costs went down."))

	d := delivery(&acker{}, 1, amqp.Table{"stream": "ds1_upload", "type": "file"}, `{"bucket":"uploads","name":"report.pdf"}`)
	out := h.pipeline.Handle(context.Background(), d)
	require.Equal(t, ingest.StateCommitted, out.State, "%v", out.Err)

	points := h.store.Points("ds1")
	require.NotEmpty(t, points)
	var text strings.Builder
	for _, p := range points {
		assert.Equal(t, "report.pdf", p.Payload[ingest.SourceKey])
		assert.Len(t, p.Vector, 4)
		text.WriteString(p.Payload[schema.PageContentKey])
	}
	assert.Contains(t, text.String(), "Quarterly numbers")
	assert.Equal(t, len(points), h.usage.Increments())
}

func TestPipeline_PointerBodyIsNotLoggedAsFailedRecord(t *testing.T) {
	h := newHarness(t)
	h.objects.Put("uploads", "notes.txt", []byte("Short note about nothing in particular."))

	d := delivery(&acker{}, 1, amqp.Table{"stream": "ds1_upload", "type": "file"}, `{"bucket":"uploads","name":"notes.txt"}`)
	out := h.pipeline.Handle(context.Background(), d)
	require.Equal(t, ingest.StateCommitted, out.State, "%v", out.Err)

	logs := h.logs.String()
	assert.NotContains(t, logs, "level=ERROR")
	assert.Contains(t, logs, "Pointer body not written as record")
}

func TestPipeline_FileFailures(t *testing.T) {
	tests := []struct {
		name    string
		objects map[string][]byte
		body    string
		wantErr error
	}{
		{name: "bad pointer", body: `{"bucket":"uploads"}`, wantErr: schema.ErrExtraction},
		{name: "unsupported format", body: `{"bucket":"uploads","name":"image.png"}`, wantErr: parsers.ErrUnsupportedFormat},
		{name: "missing object", body: `{"bucket":"uploads","name":"gone.txt"}`, wantErr: schema.ErrExtraction},
		{
			name:    "pdf without text",
			objects: map[string][]byte{"blank.pdf": ptesting.BuildPDF("")},
			body:    `{"bucket":"uploads","name":"blank.pdf"}`,
			wantErr: schema.ErrExtraction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			for name, data := range tt.objects {
				h.objects.Put("uploads", name, data)
			}
			d := delivery(&acker{}, 1, amqp.Table{"stream": "ds1_x", "type": "file"}, tt.body)
			out := h.pipeline.Handle(context.Background(), d)
			assert.Equal(t, ingest.StateFailed, out.State)
			assert.ErrorIs(t, out.Err, tt.wantErr)
			assert.Empty(t, h.store.Upserts())
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "committed", ingest.StateCommitted.String())
	assert.Equal(t, "failed", ingest.StateFailed.String())
	assert.Equal(t, "state(9)", ingest.State(9).String())
}
