package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusPrinting  TaskStatus = "PRINTING"
	TaskStatusFailed    TaskStatus = "FAILED"
	TaskStatusCompleted TaskStatus = "COMPLETED"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// DefaultPrinter as a task target selects the configured default printer.
const DefaultPrinter = ""

var transitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:  {TaskStatusPrinting},
	TaskStatusPrinting: {TaskStatusCompleted, TaskStatusFailed},
	TaskStatusFailed:   {TaskStatusPending},
}

func canTransition(from, to TaskStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParsePriority maps an external priority string to a Priority. An empty
// string is normal.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case "":
		return PriorityNormal, nil
	case PriorityLow, PriorityNormal, PriorityHigh:
		return Priority(s), nil
	default:
		return "", fmt.Errorf("unknown priority %q", s)
	}
}

// Task is a unit of print work. ID, Payload, Target and Priority are fixed
// once the task is handed to the scheduler; status fields are guarded and
// read through accessors.
type Task struct {
	ID        string
	Payload   string
	Target    string
	Priority  Priority
	CreatedAt time.Time

	mu         sync.RWMutex
	status     TaskStatus
	retryCount int
	lastError  string

	// admitted is held by AddTask until the enqueued event is sent.
	admitted sync.WaitGroup
}

func NewTask(payload, target string) *Task {
	return &Task{
		ID:       uuid.NewString(),
		Payload:  payload,
		Target:   target,
		Priority: PriorityNormal,
		status:   TaskStatusPending,
	}
}

func (t *Task) Status() TaskStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

func (t *Task) RetryCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.retryCount
}

func (t *Task) LastError() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastError
}

func (t *Task) transition(to TaskStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !canTransition(t.status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.status, to)
	}
	t.status = to
	return nil
}

// fail moves a printing task to FAILED and returns the new retry count.
func (t *Task) fail(cause error) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !canTransition(t.status, TaskStatusFailed) {
		return t.retryCount, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.status, TaskStatusFailed)
	}
	t.status = TaskStatusFailed
	t.retryCount++
	if cause != nil {
		t.lastError = cause.Error()
	}
	return t.retryCount, nil
}

// reset prepares a freshly submitted task for the queue.
func (t *Task) reset(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Priority == "" {
		t.Priority = PriorityNormal
	}
	t.status = TaskStatusPending
	t.retryCount = 0
	t.lastError = ""
	t.CreatedAt = now
}

// TaskSnapshot is a plain copy of a task's state.
type TaskSnapshot struct {
	ID         string     `json:"id"`
	Payload    string     `json:"payload"`
	Target     string     `json:"target"`
	Priority   Priority   `json:"priority"`
	Status     TaskStatus `json:"status"`
	RetryCount int        `json:"retry_count"`
	LastError  string     `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (t *Task) Snapshot() TaskSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return TaskSnapshot{
		ID:         t.ID,
		Payload:    t.Payload,
		Target:     t.Target,
		Priority:   t.Priority,
		Status:     t.status,
		RetryCount: t.retryCount,
		LastError:  t.lastError,
		CreatedAt:  t.CreatedAt,
	}
}

// TaskFromSnapshot rebuilds a pending task from a persisted snapshot. The
// stored retry count and creation time are kept.
func TaskFromSnapshot(snap TaskSnapshot) *Task {
	priority := snap.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	return &Task{
		ID:         snap.ID,
		Payload:    snap.Payload,
		Target:     snap.Target,
		Priority:   priority,
		CreatedAt:  snap.CreatedAt,
		status:     TaskStatusPending,
		retryCount: snap.RetryCount,
		lastError:  snap.LastError,
	}
}
