package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type Option func(*Scheduler)

func WithPersistence(p Persistence) Option {
	return func(s *Scheduler) {
		if p != nil {
			s.store = p
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) {
		if n != nil {
			s.notifier = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBackoff overrides the backoff built from the config.
func WithBackoff(b *Backoff) Option {
	return func(s *Scheduler) {
		if b != nil {
			s.backoff = b
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// Scheduler moves tasks from the queue to the worker pool on a fixed tick and
// re-enqueues failed tasks after a backoff delay until MaxRetry is reached.
type Scheduler struct {
	cfg      Config
	queue    *TaskQueue
	pool     *WorkerPool
	gateway  PrinterGateway
	backoff  *Backoff
	retries  *retrier
	store    Persistence
	metrics  Metrics
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	running  bool
	stopped  bool
	stopCh   chan struct{}
	done     chan struct{}
	inFlight atomic.Int64
}

func NewScheduler(cfg Config, gateway PrinterGateway, opts ...Option) *Scheduler {
	cfg = cfg.withDefaults()

	s := &Scheduler{
		cfg:      cfg,
		queue:    NewTaskQueue(cfg.QueueCapacity),
		gateway:  gateway,
		retries:  newRetrier(),
		store:    nopPersistence{},
		metrics:  nopMetrics{},
		notifier: nopNotifier{},
		logger:   slog.Default(),
		now:      time.Now,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.backoff == nil {
		s.backoff = NewBackoff(cfg.BackoffBase, cfg.JitterCeiling, cfg.MaxBackoff, nil)
	}
	s.logger = s.logger.With("component", "scheduler")
	s.pool = NewWorkerPool(cfg.WorkerCount, cfg.WorkerBacklog, s.logger)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Start reloads pending tasks from persistence and starts the dispatch loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	if err := s.recoverTasks(ctx); err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("failed to recover tasks: %w", err)
	}

	go s.dispatcher()

	s.logger.With("workers", s.cfg.WorkerCount).
		With("capacity", s.cfg.QueueCapacity).
		With("tick", s.cfg.TickInterval).
		Info("scheduler started")
	return nil
}

// Stop ends the dispatch loop, lets queued and running attempts finish and
// cancels retry timers. Tasks waiting on a retry stay persisted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	wasRunning := s.running
	close(s.stopCh)
	s.mu.Unlock()

	if wasRunning {
		<-s.done
	}
	s.pool.Stop()
	s.cancel()
	s.retries.stop()

	s.logger.With("remaining", s.queue.Size()).Info("scheduler stopped")
}

func (s *Scheduler) recoverTasks(ctx context.Context) error {
	snaps, err := s.store.LoadPending(ctx)
	if err != nil {
		return err
	}

	recovered := 0
	for _, snap := range snaps {
		if snap.RetryCount >= s.cfg.MaxRetry && s.cfg.MaxRetry > 0 {
			s.logger.With("task_id", snap.ID).
				With("retry_count", snap.RetryCount).
				Warn("recovered task already exhausted its retries")
			if err := s.store.MarkFailed(ctx, snap.ID, "retries exhausted before restart"); err != nil {
				s.logger.With("task_id", snap.ID).With("err", err).Error("failed to mark recovered task failed")
			}
			continue
		}

		task := TaskFromSnapshot(snap)
		ok, err := s.queue.Offer(ctx, task, s.cfg.OfferTimeout)
		if err != nil {
			return err
		}
		if !ok {
			s.logger.With("task_id", task.ID).
				With("loaded", len(snaps)).
				With("recovered", recovered).
				Error("queue full while recovering tasks, remaining tasks stay persisted")
			break
		}
		recovered++
	}

	if len(snaps) > 0 {
		s.logger.With("recovered", recovered).With("loaded", len(snaps)).Info("recovered pending tasks")
	}
	return nil
}

func (s *Scheduler) dispatcher() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick hands queued tasks to the worker pool and returns how many were
// dispatched. Unlike a single poll per tick, it keeps polling while the pool
// has free backlog slots. It must not run concurrently with itself; the
// dispatch loop is its only caller once Start has been called. After Stop it
// dispatches nothing.
func (s *Scheduler) Tick() int {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return 0
	}

	dispatched := 0
	for s.pool.Free() > 0 {
		task, ok := s.queue.Poll()
		if !ok {
			break
		}

		s.inFlight.Add(1)
		if err := s.pool.Submit(func() { s.execute(task) }); err != nil {
			s.inFlight.Add(-1)
			log := s.logger.With("task_id", task.ID).With("err", err)
			if requeued, _ := s.queue.Offer(s.ctx, task, 0); requeued {
				log.Warn("failed to dispatch task, returned to queue")
			} else {
				log.Warn("failed to dispatch task, it stays persisted for the next start")
			}
			break
		}
		dispatched++
	}
	return dispatched
}

// AddTask normalizes task and offers it to the queue, waiting at most
// OfferTimeout for capacity.
func (s *Scheduler) AddTask(ctx context.Context, task *Task) (string, error) {
	if task == nil {
		return "", ErrNilTask
	}
	task.reset(s.now())
	task.admitted.Add(1)
	defer task.admitted.Done()

	if err := s.store.Save(s.ctx, task.Snapshot()); err != nil {
		s.logger.With("task_id", task.ID).With("err", err).Warn("failed to persist task")
	}

	ok, err := s.queue.Offer(ctx, task, s.cfg.OfferTimeout)
	if err != nil || !ok {
		s.discard(task)
	}
	if err != nil {
		s.logger.With("task_id", task.ID).With("err", err).Error("task submission interrupted")
		return "", err
	}
	if !ok {
		s.logger.With("task_id", task.ID).
			With("queue_size", s.queue.Size()).
			With("timeout", s.cfg.OfferTimeout).
			Error("print queue is full, task rejected")
		return "", fmt.Errorf("%w: task %s", ErrQueueFull, task.ID)
	}

	s.logger.With("task_id", task.ID).
		With("target", task.Target).
		With("queue_size", s.queue.Size()).
		Info("task enqueued")
	s.notify(EventEnqueued, task, 0)
	return task.ID, nil
}

// Submit builds a task for payload and target and enqueues it.
func (s *Scheduler) Submit(ctx context.Context, payload, target string) (string, error) {
	return s.AddTask(ctx, NewTask(payload, target))
}

func (s *Scheduler) discard(task *Task) {
	if err := s.store.Delete(s.ctx, task.ID); err != nil {
		s.logger.With("task_id", task.ID).With("err", err).Warn("failed to remove rejected task from store")
	}
}

func (s *Scheduler) execute(task *Task) {
	defer s.inFlight.Add(-1)

	task.admitted.Wait()
	if err := task.transition(TaskStatusPrinting); err != nil {
		s.logger.With("task_id", task.ID).With("err", err).Error("task cannot start printing")
		return
	}
	s.metrics.RecordAttempt()
	s.notify(EventStarted, task, 0)

	log := s.logger.With("task_id", task.ID).With("target", task.Target)
	log.With("retry_count", task.RetryCount()).Debug("printing task")

	if err := s.gateway.Execute(s.ctx, task); err != nil {
		s.handleFailure(task, err)
		return
	}
	s.handleSuccess(task)
}

func (s *Scheduler) handleSuccess(task *Task) {
	log := s.logger.With("task_id", task.ID).With("target", task.Target)
	if err := task.transition(TaskStatusCompleted); err != nil {
		log.With("err", err).Error("failed to complete task")
		return
	}

	s.metrics.RecordSuccess(task.Target)
	if err := s.store.MarkCompleted(s.ctx, task.ID); err != nil {
		log.With("err", err).Warn("failed to mark task completed in store")
	}
	log.With("retry_count", task.RetryCount()).Info("task printed")
	s.notify(EventCompleted, task, 0)
}

func (s *Scheduler) handleFailure(task *Task, cause error) {
	attempts, err := task.fail(cause)
	log := s.logger.With("task_id", task.ID).With("target", task.Target).With("retry_count", attempts)
	if err != nil {
		log.With("err", err).Error("failed to record task failure")
		return
	}
	log = log.With("err", cause).With("kind", KindOf(cause))

	if attempts >= s.cfg.MaxRetry {
		log.Error("task failed after max retries")
		s.metrics.RecordFailure(task.Target)
		if err := s.store.MarkFailed(s.ctx, task.ID, cause.Error()); err != nil {
			log.With("store_err", err).Warn("failed to mark task failed in store")
		}
		s.notify(EventFailed, task, 0)
		return
	}

	if err := s.store.Save(s.ctx, task.Snapshot()); err != nil {
		log.With("store_err", err).Warn("failed to persist retry count")
	}

	delay := s.backoff.Delay(attempts)
	s.metrics.RecordRetry()
	s.notify(EventRetrying, task, delay)
	if !s.retries.schedule(task.ID, delay, func() { s.requeue(task) }) {
		log.Warn("scheduler stopping, retry deferred to next start")
		return
	}
	log.With("delay", delay).Warn("task failed, retry scheduled")
}

func (s *Scheduler) requeue(task *Task) {
	log := s.logger.With("task_id", task.ID).With("retry_count", task.RetryCount())
	if err := task.transition(TaskStatusPending); err != nil {
		log.With("err", err).Error("failed to reset task for retry")
		return
	}
	if err := s.queue.Put(s.ctx, task); err != nil {
		log.With("err", err).Warn("retry abandoned on shutdown, task stays persisted")
		return
	}
	log.Info("task re-enqueued for retry")
	s.notify(EventEnqueued, task, 0)
}

func (s *Scheduler) notify(kind EventKind, task *Task, delay time.Duration) {
	s.notifier.Notify(Event{
		Kind:       kind,
		Task:       task.Snapshot(),
		RetryDelay: delay,
		At:         s.now(),
	})
}

func (s *Scheduler) QueueSize() int {
	return s.queue.Size()
}

func (s *Scheduler) Stats() Stats {
	return Stats{
		QueueSize:    s.queue.Size(),
		Capacity:     s.queue.Capacity(),
		InFlight:     int(s.inFlight.Load()),
		RetryWaiting: s.retries.pending(),
	}
}

func (s *Scheduler) Config() Config {
	return s.cfg
}
