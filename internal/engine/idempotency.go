package engine

import (
	"sync"
	"time"
)

// idempotencyWindow remembers signal keys for a sliding time window so a
// retried signal is refused instead of creating a second order.
type idempotencyWindow struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
}

func newIdempotencyWindow(window time.Duration) *idempotencyWindow {
	return &idempotencyWindow{
		window: window,
		seen:   make(map[string]time.Time),
	}
}

// Reserve claims the key at time now. It returns false if the key was already
// claimed within the window. Expired entries are pruned opportunistically on
// each call, so the map stays proportional to the active window.
func (w *idempotencyWindow) Reserve(key string, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.window)
	for k, at := range w.seen {
		if at.Before(cutoff) {
			delete(w.seen, k)
		}
	}

	if at, ok := w.seen[key]; ok && !at.Before(cutoff) {
		return false
	}
	w.seen[key] = now
	return true
}

// Release frees a reservation whose signal was not accepted after all, so a
// retry of the same key is not spuriously rejected.
func (w *idempotencyWindow) Release(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.seen, key)
}
