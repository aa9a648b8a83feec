package core

import (
	"sync"
	"time"
)

// retrier owns one timer per task waiting out its backoff delay.
type retrier struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
	wg      sync.WaitGroup
}

func newRetrier() *retrier {
	return &retrier{timers: make(map[string]*time.Timer)}
}

// schedule runs fn after delay on its own goroutine. It returns false once
// the retrier has been stopped.
func (r *retrier) schedule(id string, delay time.Duration, fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}

	if old, ok := r.timers[id]; ok && old.Stop() {
		r.wg.Done()
	}

	r.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		defer r.wg.Done()
		r.mu.Lock()
		if r.timers[id] == timer {
			delete(r.timers, id)
		}
		r.mu.Unlock()
		fn()
	})
	r.timers[id] = timer
	return true
}

func (r *retrier) pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// stop cancels every waiting timer and waits for callbacks that already
// fired to return.
func (r *retrier) stop() {
	r.mu.Lock()
	r.stopped = true
	for id, timer := range r.timers {
		if timer.Stop() {
			r.wg.Done()
		}
		delete(r.timers, id)
	}
	r.mu.Unlock()

	r.wg.Wait()
}
