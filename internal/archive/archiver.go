package archive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/orrn/printq/internal/config"
)

// FinishedPruner deletes finished tasks older than a cutoff.
type FinishedPruner interface {
	PruneFinished(ctx context.Context, before time.Time) (int64, error)
}

type Option func(*Archiver)

func WithLogger(l *slog.Logger) Option {
	return func(a *Archiver) {
		if l != nil {
			a.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Archiver) {
		if now != nil {
			a.now = now
		}
	}
}

// Archiver periodically removes completed and failed tasks past their
// retention window from the task store.
type Archiver struct {
	store     FinishedPruner
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewArchiver(store FinishedPruner, cfg config.StorageConfig, opts ...Option) *Archiver {
	a := &Archiver{
		store:     store,
		retention: cfg.Retention,
		interval:  cfg.PruneInterval,
		logger:    slog.Default(),
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "archive")
	if a.interval <= 0 {
		a.interval = 24 * time.Hour
	}
	return a
}

// Enabled reports whether a retention window is configured.
func (a *Archiver) Enabled() bool {
	return a.retention > 0
}

func (a *Archiver) Retention() time.Duration {
	return a.retention
}

func (a *Archiver) Interval() time.Duration {
	return a.interval
}

// Start prunes once and then on every interval. It is a no-op when
// retention is disabled.
func (a *Archiver) Start() {
	if !a.Enabled() {
		return
	}
	a.wg.Add(1)
	go a.run()
}

func (a *Archiver) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
	a.wg.Wait()
}

func (a *Archiver) run() {
	defer a.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-a.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		if _, err := a.RunArchive(ctx); err != nil && ctx.Err() == nil {
			a.logger.With("err", err).Error("failed to prune finished tasks")
		}
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// RunArchive deletes finished tasks that finished before now minus the
// retention window and returns how many were removed.
func (a *Archiver) RunArchive(ctx context.Context) (int64, error) {
	if !a.Enabled() {
		return 0, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := a.now().Add(-a.retention)
	n, err := a.store.PruneFinished(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune tasks finished before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if n > 0 {
		a.logger.With("removed", n).With("cutoff", cutoff).Info("pruned finished tasks")
	}
	return n, nil
}
