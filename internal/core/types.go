package core

import (
	"context"
	"time"
)

// PrinterGateway executes a task's payload against a physical printer.
type PrinterGateway interface {
	Execute(ctx context.Context, task *Task) error
}

// Persistence keeps a best-effort record of tasks that have not reached a
// terminal state so they can be reloaded after a restart.
type Persistence interface {
	Save(ctx context.Context, snap TaskSnapshot) error
	LoadPending(ctx context.Context) ([]TaskSnapshot, error)
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, reason string) error
	Delete(ctx context.Context, id string) error
}

type Metrics interface {
	RecordAttempt()
	RecordSuccess(target string)
	RecordFailure(target string)
	RecordRetry()
}

type EventKind string

const (
	EventEnqueued  EventKind = "enqueued"
	EventStarted   EventKind = "started"
	EventRetrying  EventKind = "retrying"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
)

// Event describes a task status transition.
type Event struct {
	Kind       EventKind     `json:"kind"`
	Task       TaskSnapshot  `json:"task"`
	RetryDelay time.Duration `json:"retry_delay,omitempty"`
	At         time.Time     `json:"at"`
}

// Notifier receives task events. Implementations must not block the caller.
type Notifier interface {
	Notify(event Event)
}

// Notifiers fans an event out to every notifier in the slice.
type Notifiers []Notifier

func (n Notifiers) Notify(event Event) {
	for _, notifier := range n {
		if notifier != nil {
			notifier.Notify(event)
		}
	}
}

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	QueueSize    int `json:"size"`
	Capacity     int `json:"capacity"`
	InFlight     int `json:"in_flight"`
	RetryWaiting int `json:"retry_waiting"`
}

type nopPersistence struct{}

func (nopPersistence) Save(context.Context, TaskSnapshot) error { return nil }
func (nopPersistence) LoadPending(context.Context) ([]TaskSnapshot, error) { return nil, nil }
func (nopPersistence) MarkCompleted(context.Context, string) error { return nil }
func (nopPersistence) MarkFailed(context.Context, string, string) error { return nil }
func (nopPersistence) Delete(context.Context, string) error { return nil }

type nopMetrics struct{}

func (nopMetrics) RecordAttempt() {}
func (nopMetrics) RecordSuccess(string) {}
func (nopMetrics) RecordFailure(string) {}
func (nopMetrics) RecordRetry() {}

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}
