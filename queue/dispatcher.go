package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"

	"github.com/x-08/agentcloud/schema"
)

// Handler processes one queue item.
type Handler func(ctx context.Context, item schema.QueueItem) error

// Stats are the dispatcher counters since start.
type Stats struct {
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Running   int   `json:"running"`
	Workers   int   `json:"workers"`
}

// Dispatcher drains a Queue into a fixed-size worker pool.
type Dispatcher struct {
	queue   *Queue
	handler Handler
	pool    *ants.Pool
	workers int
	logger  *slog.Logger

	processed atomic.Int64
	failed    atomic.Int64
}

type Option func(*Dispatcher)

// WithWorkers sets the pool size. Default is runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func NewDispatcher(q *Queue, handler Handler, opts ...Option) (*Dispatcher, error) {
	if q == nil || handler == nil {
		return nil, errors.New("queue: dispatcher needs a queue and a handler")
	}
	d := &Dispatcher{
		queue:   q,
		handler: handler,
		workers: runtime.NumCPU(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "queue_dispatcher")

	pool, err := ants.NewPool(d.workers, ants.WithPanicHandler(func(p any) {
		d.failed.Add(1)
		d.logger.Error("Worker panicked", "panic", fmt.Sprint(p))
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	d.pool = pool
	return d, nil
}

// Run hands items to the pool until the queue is closed and drained or ctx
// is cancelled. It waits for in-flight items before returning.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	d.logger.InfoContext(ctx, "Dispatcher started", "workers", d.workers, "capacity", d.queue.Cap())
	for {
		item, err := d.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				d.logger.InfoContext(ctx, "Dispatcher stopped", "processed", d.processed.Load(), "failed", d.failed.Load())
				return nil
			}
			return err
		}

		wg.Add(1)
		submitErr := d.pool.Submit(func() {
			defer wg.Done()
			d.handle(ctx, item)
		})
		if submitErr != nil {
			wg.Done()
			d.failed.Add(1)
			d.logger.ErrorContext(ctx, "Failed to submit item", "datasource", item.DatasourceID, "error", submitErr)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, item schema.QueueItem) {
	defer func() {
		if p := recover(); p != nil {
			d.failed.Add(1)
			d.logger.ErrorContext(ctx, "Queue handler panicked", "datasource", item.DatasourceID, "panic", fmt.Sprint(p))
		}
	}()
	if err := d.handler(ctx, item); err != nil {
		d.failed.Add(1)
		d.logger.WarnContext(ctx, "Queue item failed", "datasource", item.DatasourceID, "error", err)
		return
	}
	d.processed.Add(1)
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Processed: d.processed.Load(),
		Failed:    d.failed.Load(),
		Running:   d.pool.Running(),
		Workers:   d.workers,
	}
}

// Release frees the pool. Call it after Run returned.
func (d *Dispatcher) Release() {
	d.pool.Release()
}
