package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.TickInterval = 5 * time.Millisecond
	cfg.BackoffBase = time.Millisecond
	cfg.JitterCeiling = time.Millisecond
	cfg.OfferTimeout = 20 * time.Millisecond
	cfg.WorkerCount = 2
	cfg.WorkerBacklog = 4
	return cfg
}

type fakeGateway struct {
	mu    sync.Mutex
	calls map[string]int
	fail  func(task *Task, attempt int) error
}

func newFakeGateway(fail func(task *Task, attempt int) error) *fakeGateway {
	return &fakeGateway{calls: make(map[string]int), fail: fail}
}

func (g *fakeGateway) Execute(_ context.Context, task *Task) error {
	g.mu.Lock()
	g.calls[task.ID]++
	attempt := g.calls[task.ID]
	g.mu.Unlock()

	if g.fail != nil {
		return g.fail(task, attempt)
	}
	return nil
}

func (g *fakeGateway) count(id string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[id]
}

func (g *fakeGateway) total() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		n += c
	}
	return n
}

var errPaperJam = errors.New("paper jam")

func alwaysFail(*Task, int) error {
	return NewExecutionFailed("kitchen", errPaperJam)
}

type memStore struct {
	mu        sync.Mutex
	tasks     map[string]TaskSnapshot
	completed map[string]bool
	failed    map[string]string
	deleted   map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		tasks:     make(map[string]TaskSnapshot),
		completed: make(map[string]bool),
		failed:    make(map[string]string),
		deleted:   make(map[string]bool),
	}
}

func (m *memStore) Save(_ context.Context, snap TaskSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[snap.ID] = snap
	return nil
}

func (m *memStore) LoadPending(context.Context) ([]TaskSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []TaskSnapshot
	for _, snap := range m.tasks {
		out = append(out, snap)
	}
	return out, nil
}

func (m *memStore) MarkCompleted(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	m.completed[id] = true
	return nil
}

func (m *memStore) MarkFailed(_ context.Context, id string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	m.failed[id] = reason
	return nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	m.deleted[id] = true
	return nil
}

func (m *memStore) pending(id string) (TaskSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.tasks[id]
	return snap, ok
}

func (m *memStore) isCompleted(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completed[id]
}

func (m *memStore) failure(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reason, ok := m.failed[id]
	return reason, ok
}

func (m *memStore) wasDeleted(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleted[id]
}

type countingMetrics struct {
	mu        sync.Mutex
	attempts  int
	successes int
	failures  int
	retries   int
}

func (c *countingMetrics) RecordAttempt() {
	c.mu.Lock()
	c.attempts++
	c.mu.Unlock()
}

func (c *countingMetrics) RecordSuccess(string) {
	c.mu.Lock()
	c.successes++
	c.mu.Unlock()
}

func (c *countingMetrics) RecordFailure(string) {
	c.mu.Lock()
	c.failures++
	c.mu.Unlock()
}

func (c *countingMetrics) RecordRetry() {
	c.mu.Lock()
	c.retries++
	c.mu.Unlock()
}

func (c *countingMetrics) snapshot() (attempts, successes, failures, retries int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts, c.successes, c.failures, c.retries
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingNotifier) Notify(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingNotifier) kinds(id string) []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EventKind
	for _, e := range r.events {
		if e.Task.ID == id {
			out = append(out, e.Kind)
		}
	}
	return out
}

func (r *recordingNotifier) eventsFor(id string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Task.ID == id {
			out = append(out, e)
		}
	}
	return out
}

// slowNotifier holds the caller on every enqueued event.
type slowNotifier struct {
	recordingNotifier
	delay time.Duration
}

func (n *slowNotifier) Notify(e Event) {
	if e.Kind == EventEnqueued {
		time.Sleep(n.delay)
	}
	n.recordingNotifier.Notify(e)
}

func newTestScheduler(t *testing.T, cfg Config, gw PrinterGateway, opts ...Option) *Scheduler {
	t.Helper()
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	s := NewScheduler(cfg, gw, opts...)
	t.Cleanup(s.Stop)
	return s
}
