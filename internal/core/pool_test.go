package core

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_RunsJobs(t *testing.T) {
	t.Parallel()

	wp := NewWorkerPool(3, 10, discardLogger())
	var ran atomic.Int64
	for i := 0; i < 10; i++ {
		require.NoError(t, wp.Submit(func() { ran.Add(1) }))
	}
	wp.Stop()
	assert.EqualValues(t, 10, ran.Load())
}

func TestWorkerPool_Saturated(t *testing.T) {
	t.Parallel()

	wp := NewWorkerPool(1, 1, discardLogger())
	started := make(chan struct{})
	release := make(chan struct{})

	require.NoError(t, wp.Submit(func() {
		close(started)
		<-release
	}))
	<-started

	require.NoError(t, wp.Submit(func() {}))
	assert.Equal(t, 0, wp.Free())
	assert.ErrorIs(t, wp.Submit(func() {}), ErrPoolSaturated)

	close(release)
	wp.Stop()
	assert.Equal(t, 1, wp.Free())
}

func TestWorkerPool_RecoversPanic(t *testing.T) {
	t.Parallel()

	wp := NewWorkerPool(1, 2, discardLogger())
	done := make(chan struct{})
	require.NoError(t, wp.Submit(func() { panic("boom") }))
	require.NoError(t, wp.Submit(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive panic")
	}
	wp.Stop()
}

func TestWorkerPool_SubmitAfterStop(t *testing.T) {
	t.Parallel()

	wp := NewWorkerPool(1, 1, discardLogger())
	wp.Stop()
	wp.Stop()
	assert.ErrorIs(t, wp.Submit(func() {}), ErrPoolStopped)
}
