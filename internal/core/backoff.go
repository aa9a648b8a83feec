package core

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

const maxDuration = time.Duration(math.MaxInt64)

// Backoff computes retry delays as Base * 2^retryCount plus a random jitter
// in [0, JitterCeiling). A positive Max caps the exponential part.
type Backoff struct {
	Base          time.Duration
	JitterCeiling time.Duration
	Max           time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewBackoff returns a Backoff drawing jitter from src, or from a time-seeded
// source when src is nil.
func NewBackoff(base, jitterCeiling, maxDelay time.Duration, src rand.Source) *Backoff {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Backoff{
		Base:          base,
		JitterCeiling: jitterCeiling,
		Max:           maxDelay,
		rnd:           rand.New(src),
	}
}

func (b *Backoff) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}

	delay := b.Base
	for i := 0; i < retryCount && delay > 0; i++ {
		if delay > maxDuration/2 {
			delay = maxDuration / 2
			break
		}
		delay *= 2
	}
	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}

	return delay + b.jitter()
}

func (b *Backoff) jitter() time.Duration {
	if b.JitterCeiling <= 0 {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rnd == nil {
		b.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return time.Duration(b.rnd.Int63n(int64(b.JitterCeiling)))
}
