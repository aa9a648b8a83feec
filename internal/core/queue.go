package core

import (
	"context"
	"fmt"
	"time"
)

// TaskQueue is a bounded FIFO of pending tasks. Any number of goroutines may
// insert; removal is meant for a single consumer.
type TaskQueue struct {
	items chan *Task
}

func NewTaskQueue(capacity int) *TaskQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &TaskQueue{items: make(chan *Task, capacity)}
}

// Offer inserts task, waiting up to timeout for free capacity. It reports
// false with a nil error when the queue stayed full for the whole timeout.
func (q *TaskQueue) Offer(ctx context.Context, task *Task, timeout time.Duration) (bool, error) {
	if task == nil {
		return false, ErrNilTask
	}

	select {
	case q.items <- task:
		return true, nil
	default:
	}

	if timeout <= 0 {
		return false, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case q.items <- task:
		return true, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, fmt.Errorf("%w: %w", ErrSubmissionInterrupted, ctx.Err())
	}
}

// Put blocks until task is inserted or ctx is done.
func (q *TaskQueue) Put(ctx context.Context, task *Task) error {
	if task == nil {
		return ErrNilTask
	}

	select {
	case q.items <- task:
		return nil
	default:
	}

	select {
	case q.items <- task:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrSubmissionInterrupted, ctx.Err())
	}
}

func (q *TaskQueue) Poll() (*Task, bool) {
	select {
	case task := <-q.items:
		return task, true
	default:
		return nil, false
	}
}

func (q *TaskQueue) Size() int {
	return len(q.items)
}

func (q *TaskQueue) IsEmpty() bool {
	return len(q.items) == 0
}

func (q *TaskQueue) Capacity() int {
	return cap(q.items)
}
