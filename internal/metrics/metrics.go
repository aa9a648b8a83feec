package metrics

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// CounterSink receives one increment per finished task for daily per-printer
// reporting.
type CounterSink interface {
	IncrementDaily(ctx context.Context, printer string, date time.Time, succeeded bool) error
}

type Option func(*Collector)

func WithSink(sink CounterSink) Option {
	return func(c *Collector) { c.sink = sink }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Collector) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithDefaultPrinter(name string) Option {
	return func(c *Collector) {
		if name != "" {
			c.defaultPrinter = name
		}
	}
}

// Collector counts print outcomes. It is safe for concurrent use.
type Collector struct {
	attempted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64

	sink           CounterSink
	logger         *slog.Logger
	defaultPrinter string
	now            func() time.Time
}

func New(opts ...Option) *Collector {
	c := &Collector{
		logger:         slog.Default(),
		defaultPrinter: "default",
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Collector) RecordAttempt() {
	c.attempted.Add(1)
}

func (c *Collector) RecordSuccess(target string) {
	c.succeeded.Add(1)
	c.flush(target, true)
}

func (c *Collector) RecordFailure(target string) {
	c.failed.Add(1)
	c.flush(target, false)
}

func (c *Collector) RecordRetry() {
	c.retried.Add(1)
}

func (c *Collector) flush(target string, succeeded bool) {
	if c.sink == nil {
		return
	}
	if target == "" {
		target = c.defaultPrinter
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.sink.IncrementDaily(ctx, target, c.now(), succeeded); err != nil {
		c.logger.With("printer", target).With("err", err).Warn("failed to update daily print counter")
	}
}

type Snapshot struct {
	Total       int64   `json:"total"`
	Attempted   int64   `json:"attempted"`
	Succeeded   int64   `json:"succeeded"`
	Failed      int64   `json:"failed"`
	Retried     int64   `json:"retried"`
	SuccessRate float64 `json:"success_rate"`
}

// Snapshot returns the current counters. Total counts tasks that reached a
// terminal state; SuccessRate is a percentage of Total.
func (c *Collector) Snapshot() Snapshot {
	s := Snapshot{
		Attempted: c.attempted.Load(),
		Succeeded: c.succeeded.Load(),
		Failed:    c.failed.Load(),
		Retried:   c.retried.Load(),
	}
	s.Total = s.Succeeded + s.Failed
	if s.Total > 0 {
		s.SuccessRate = float64(s.Succeeded) / float64(s.Total) * 100
	}
	return s
}

func (c *Collector) Reset() {
	c.attempted.Store(0)
	c.succeeded.Store(0)
	c.failed.Store(0)
	c.retried.Store(0)
}
