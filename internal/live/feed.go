// Package live provides pub/sub fan-out of order lifecycle events to
// streaming clients (the websocket endpoint and anything else that wants a
// live view of the engine).
package live

import (
	"sync"
	"time"

	"tradexec/internal/domain"
)

// OrderEvent is emitted to subscribers whenever an order changes state or
// receives a fill. Order is a copy taken at publication time. Type is the
// lifecycle step: "accepted", "submitted", "ack", "fill", "reject",
// "cancel_confirm", or "failed".
type OrderEvent struct {
	Type  string
	Order domain.Order
	Fill  *domain.Fill // set for fill events
	At    time.Time
}

// Feed fans order events out to subscribers. Sends are non-blocking: a slow
// subscriber drops events rather than stalling reconciliation.
type Feed struct {
	mu        sync.Mutex
	nextSubID int
	subs      map[int]chan OrderEvent
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[int]chan OrderEvent)}
}

// Subscribe registers a subscriber with the given channel buffer and returns
// its ID and the receiving channel.
func (f *Feed) Subscribe(buffer int) (int, <-chan OrderEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSubID++
	id := f.nextSubID
	ch := make(chan OrderEvent, buffer)
	f.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (f *Feed) Unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subs[id]; ok {
		delete(f.subs, id)
		close(ch)
	}
}

// Publish delivers the event to all current subscribers.
func (f *Feed) Publish(evt OrderEvent) {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	f.mu.Lock()
	for _, ch := range f.subs {
		select {
		case ch <- evt:
		default:
			// Slow subscriber, drop event.
		}
	}
	f.mu.Unlock()
}
