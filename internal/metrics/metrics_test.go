package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sinkCall struct {
	printer   string
	succeeded bool
}

type fakeSink struct {
	mu    sync.Mutex
	calls []sinkCall
	err   error
}

func (f *fakeSink) IncrementDaily(_ context.Context, printer string, _ time.Time, succeeded bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sinkCall{printer, succeeded})
	return f.err
}

func TestCollector_Snapshot(t *testing.T) {
	t.Parallel()

	c := New()
	assert.Zero(t, c.Snapshot().SuccessRate)

	for i := 0; i < 4; i++ {
		c.RecordAttempt()
	}
	c.RecordSuccess("kitchen")
	c.RecordSuccess("kitchen")
	c.RecordSuccess("bar")
	c.RecordFailure("bar")
	c.RecordRetry()

	s := c.Snapshot()
	assert.EqualValues(t, 4, s.Attempted)
	assert.EqualValues(t, 4, s.Total)
	assert.EqualValues(t, 3, s.Succeeded)
	assert.EqualValues(t, 1, s.Failed)
	assert.EqualValues(t, 1, s.Retried)
	assert.InDelta(t, 75.0, s.SuccessRate, 0.001)

	c.Reset()
	assert.Equal(t, Snapshot{}, c.Snapshot())
}

func TestCollector_Sink(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	c := New(WithSink(sink), WithDefaultPrinter("front"))
	c.RecordSuccess("")
	c.RecordFailure("bar")

	require.Len(t, sink.calls, 2)
	assert.Equal(t, sinkCall{"front", true}, sink.calls[0])
	assert.Equal(t, sinkCall{"bar", false}, sink.calls[1])
}

func TestCollector_SinkErrorDoesNotLoseCount(t *testing.T) {
	t.Parallel()

	c := New(WithSink(&fakeSink{err: errors.New("disk full")}))
	c.RecordSuccess("kitchen")
	assert.EqualValues(t, 1, c.Snapshot().Succeeded)
}

func TestCollector_Concurrent(t *testing.T) {
	t.Parallel()

	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.RecordAttempt()
				c.RecordSuccess("kitchen")
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1000, c.Snapshot().Succeeded)
}
