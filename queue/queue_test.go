package queue_test

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-08/agentcloud/queue"
	"github.com/x-08/agentcloud/schema"
)

func item(producer, seq int) schema.QueueItem {
	return schema.QueueItem{DatasourceID: strconv.Itoa(producer), Payload: fmt.Sprintf("%d:%d", producer, seq)}
}

func TestQueue_ConcurrentProducersKeepPerProducerOrder(t *testing.T) {
	const producers, perProducer = 8, 200
	q := queue.New(16)
	ctx := context.Background()

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				assert.NoError(t, q.Enqueue(ctx, item(p, i)))
			}
		}()
	}
	go func() {
		wg.Wait()
		q.Close()
	}()

	next := make(map[string]int)
	total := 0
	for {
		it, err := q.Dequeue(ctx)
		if errors.Is(err, queue.ErrClosed) {
			break
		}
		require.NoError(t, err)
		seq, _ := strconv.Atoi(strings.SplitN(it.Payload, ":", 2)[1])
		assert.Equal(t, next[it.DatasourceID], seq, "producer %s out of order", it.DatasourceID)
		next[it.DatasourceID] = seq + 1
		total++
	}
	assert.Equal(t, producers*perProducer, total)
}

func TestQueue_EnqueueBlocksWhileFull(t *testing.T) {
	q := queue.New(1)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, item(0, 0)))

	done := make(chan error, 1)
	go func() { done <- q.Enqueue(ctx, item(0, 1)) }()

	select {
	case <-done:
		t.Fatal("enqueue into a full queue returned early")
	case <-time.After(50 * time.Millisecond):
	}

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0:0", got.Payload)
	require.NoError(t, <-done)
	assert.Equal(t, 1, q.Len())

	peeked, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, "0:1", peeked.Payload)
	assert.Equal(t, 1, q.Len())
}

func TestQueue_EnqueueHonoursContext(t *testing.T) {
	q := queue.New(1)
	require.NoError(t, q.Enqueue(context.Background(), item(0, 0)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Enqueue(ctx, item(0, 1)), context.DeadlineExceeded)
}

func TestQueue_CloseUnblocksWaiters(t *testing.T) {
	q := queue.New(4)
	errs := make(chan error, 3)
	for range 3 {
		go func() {
			_, err := q.Dequeue(context.Background())
			errs <- err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	q.Close()
	for range 3 {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, queue.ErrClosed)
		case <-time.After(time.Second):
			t.Fatal("dequeue still blocked after close")
		}
	}
	assert.ErrorIs(t, q.Enqueue(context.Background(), item(0, 0)), queue.ErrClosed)
}

func TestQueue_DrainsAfterClose(t *testing.T) {
	q := queue.New(0)
	assert.Equal(t, queue.DefaultCapacity, q.Cap())
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, item(0, 0)))
	q.Close()

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0:0", got.Payload)
	_, err = q.Dequeue(ctx)
	assert.ErrorIs(t, err, queue.ErrClosed)
}

func TestDispatcher_ProcessesEveryItem(t *testing.T) {
	q := queue.New(8)
	var mu sync.Mutex
	seen := make(map[string]bool)

	d, err := queue.NewDispatcher(q, func(_ context.Context, it schema.QueueItem) error {
		if strings.HasSuffix(it.Payload, ":3") {
			return errors.New("boom")
		}
		if strings.HasSuffix(it.Payload, ":4") {
			panic("worker panic")
		}
		mu.Lock()
		seen[it.Payload] = true
		mu.Unlock()
		return nil
	}, queue.WithWorkers(3))
	require.NoError(t, err)
	defer d.Release()

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	for i := range 20 {
		require.NoError(t, q.Enqueue(context.Background(), item(0, i)))
	}
	q.Close()
	require.NoError(t, <-done)

	stats := d.Stats()
	assert.Equal(t, int64(18), stats.Processed)
	assert.Equal(t, int64(2), stats.Failed)
	assert.Equal(t, 3, stats.Workers)
	assert.Len(t, seen, 18)
}

func TestDispatcher_StopsOnCancel(t *testing.T) {
	q := queue.New(1)
	d, err := queue.NewDispatcher(q, func(context.Context, schema.QueueItem) error { return nil })
	require.NoError(t, err)
	defer d.Release()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
