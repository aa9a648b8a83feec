package core

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// WorkerPool runs submitted jobs on a fixed number of goroutines. Jobs wait
// in a bounded backlog until a worker picks them up.
type WorkerPool struct {
	workers int
	jobs    chan func()
	logger  *slog.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
	active  atomic.Int64
}

func NewWorkerPool(workers, backlog int, logger *slog.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if backlog < 1 {
		backlog = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	wp := &WorkerPool{
		workers: workers,
		jobs:    make(chan func(), backlog),
		logger:  logger,
	}
	for i := 0; i < workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	return wp
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	for job := range wp.jobs {
		wp.run(id, job)
	}
}

func (wp *WorkerPool) run(id int, job func()) {
	wp.active.Add(1)
	defer wp.active.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			wp.logger.With("worker", id).
				With("panic", fmt.Sprint(r)).
				With("stack", string(debug.Stack())).
				Error("worker recovered from panic")
		}
	}()
	job()
}

// Submit queues job without blocking. It fails with ErrPoolSaturated when the
// backlog is full.
func (wp *WorkerPool) Submit(job func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		return ErrPoolStopped
	}

	select {
	case wp.jobs <- job:
		return nil
	default:
		return ErrPoolSaturated
	}
}

// Free reports the number of backlog slots available to Submit.
func (wp *WorkerPool) Free() int {
	return cap(wp.jobs) - len(wp.jobs)
}

func (wp *WorkerPool) Active() int {
	return int(wp.active.Load())
}

func (wp *WorkerPool) Queued() int {
	return len(wp.jobs)
}

func (wp *WorkerPool) Workers() int {
	return wp.workers
}

// Stop rejects new jobs and waits for queued and running jobs to finish.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.stopped {
		wp.stopped = true
		close(wp.jobs)
	}
	wp.mu.Unlock()

	wp.wg.Wait()
}
