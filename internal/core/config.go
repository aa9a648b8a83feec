package core

import "time"

// Config holds the queue and retry settings. It is copied into the scheduler
// at construction and never changes afterwards.
type Config struct {
	MaxRetry      int
	QueueCapacity int
	OfferTimeout  time.Duration
	TickInterval  time.Duration
	BackoffBase   time.Duration
	JitterCeiling time.Duration
	MaxBackoff    time.Duration
	WorkerCount   int
	WorkerBacklog int
}

func DefaultConfig() Config {
	return Config{
		MaxRetry:      3,
		QueueCapacity: 1000,
		OfferTimeout:  3 * time.Second,
		TickInterval:  time.Second,
		BackoffBase:   time.Second,
		JitterCeiling: time.Second,
		MaxBackoff:    0,
		WorkerCount:   4,
		WorkerBacklog: 16,
	}
}

// withDefaults replaces out-of-range values with their defaults. A zero
// MaxRetry is kept and means a single attempt.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxRetry < 0 {
		c.MaxRetry = d.MaxRetry
	}
	if c.QueueCapacity < 1 {
		c.QueueCapacity = d.QueueCapacity
	}
	if c.OfferTimeout < 0 {
		c.OfferTimeout = d.OfferTimeout
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.BackoffBase < 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.JitterCeiling < 0 {
		c.JitterCeiling = 0
	}
	if c.MaxBackoff < 0 {
		c.MaxBackoff = 0
	}
	if c.WorkerCount < 1 {
		c.WorkerCount = d.WorkerCount
	}
	if c.WorkerBacklog < 1 {
		c.WorkerBacklog = d.WorkerBacklog
	}
	return c
}
