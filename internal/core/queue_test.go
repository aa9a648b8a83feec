package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskQueue_OfferBeyondCapacity(t *testing.T) {
	t.Parallel()

	const capacity = 4
	q := NewTaskQueue(capacity)
	ctx := context.Background()

	for i := 0; i < capacity; i++ {
		ok, err := q.Offer(ctx, NewTask("slip", DefaultPrinter), 10*time.Millisecond)
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err := q.Offer(ctx, NewTask("overflow", DefaultPrinter), 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, capacity, q.Size())

	polled := 0
	for {
		task, ok := q.Poll()
		if !ok {
			break
		}
		assert.NotEqual(t, "overflow", task.Payload)
		polled++
	}
	assert.Equal(t, capacity, polled)
	assert.True(t, q.IsEmpty())
}

func TestTaskQueue_FIFO(t *testing.T) {
	t.Parallel()

	q := NewTaskQueue(8)
	var ids []string
	for i := 0; i < 5; i++ {
		task := NewTask("slip", DefaultPrinter)
		ids = append(ids, task.ID)
		require.NoError(t, q.Put(context.Background(), task))
	}

	for _, id := range ids {
		task, ok := q.Poll()
		require.True(t, ok)
		assert.Equal(t, id, task.ID)
	}
	_, ok := q.Poll()
	assert.False(t, ok)
}

func TestTaskQueue_OfferInterrupted(t *testing.T) {
	t.Parallel()

	q := NewTaskQueue(1)
	ok, err := q.Offer(context.Background(), NewTask("first", DefaultPrinter), 0)
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	ok, err = q.Offer(ctx, NewTask("second", DefaultPrinter), time.Minute)
	assert.False(t, ok)
	require.ErrorIs(t, err, ErrSubmissionInterrupted)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, KindInterrupted, KindOf(err))
}

func TestTaskQueue_OfferWaitsForSpace(t *testing.T) {
	t.Parallel()

	q := NewTaskQueue(1)
	require.NoError(t, q.Put(context.Background(), NewTask("first", DefaultPrinter)))

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Poll()
	}()

	ok, err := q.Offer(context.Background(), NewTask("second", DefaultPrinter), time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTaskQueue_PutCancelled(t *testing.T) {
	t.Parallel()

	q := NewTaskQueue(1)
	require.NoError(t, q.Put(context.Background(), NewTask("first", DefaultPrinter)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := q.Put(ctx, NewTask("second", DefaultPrinter))
	require.ErrorIs(t, err, ErrSubmissionInterrupted)
	assert.Equal(t, 1, q.Size())
}

func TestTaskQueue_ConcurrentProducers(t *testing.T) {
	t.Parallel()

	const producers, perProducer = 8, 50
	q := NewTaskQueue(producers * perProducer)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				ok, err := q.Offer(context.Background(), NewTask("slip", DefaultPrinter), time.Second)
				assert.NoError(t, err)
				assert.True(t, ok)
			}
		}()
	}
	wg.Wait()

	seen := make(map[string]bool)
	for {
		task, ok := q.Poll()
		if !ok {
			break
		}
		assert.False(t, seen[task.ID], "task %s polled twice", task.ID)
		seen[task.ID] = true
	}
	assert.Len(t, seen, producers*perProducer)
}

func TestTaskQueue_MinimumCapacity(t *testing.T) {
	t.Parallel()

	q := NewTaskQueue(0)
	assert.Equal(t, 1, q.Capacity())
}
