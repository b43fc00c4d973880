package live

import (
	"testing"

	"tradexec/internal/domain"
)

func TestFeedFanOut(t *testing.T) {
	f := NewFeed()
	id1, ch1 := f.Subscribe(4)
	_, ch2 := f.Subscribe(4)

	f.Publish(OrderEvent{Type: "ack", Order: domain.Order{ID: "o1"}})

	for _, ch := range []<-chan OrderEvent{ch1, ch2} {
		select {
		case evt := <-ch:
			if evt.Order.ID != "o1" || evt.Type != "ack" {
				t.Fatalf("got %+v", evt)
			}
			if evt.At.IsZero() {
				t.Fatal("publish should stamp the event time")
			}
		default:
			t.Fatal("subscriber did not receive event")
		}
	}

	f.Unsubscribe(id1)
	if _, ok := <-ch1; ok {
		t.Fatal("unsubscribed channel should be closed")
	}

	// Publishing after unsubscribe must not panic and still reach ch2.
	f.Publish(OrderEvent{Type: "fill", Order: domain.Order{ID: "o2"}})
	select {
	case evt := <-ch2:
		if evt.Order.ID != "o2" {
			t.Fatalf("got %+v", evt)
		}
	default:
		t.Fatal("remaining subscriber did not receive event")
	}
}

func TestFeedDropsForSlowSubscriber(t *testing.T) {
	f := NewFeed()
	_, ch := f.Subscribe(1)

	f.Publish(OrderEvent{Order: domain.Order{ID: "a"}})
	f.Publish(OrderEvent{Order: domain.Order{ID: "b"}}) // dropped, buffer full

	evt := <-ch
	if evt.Order.ID != "a" {
		t.Fatalf("got %s, want a", evt.Order.ID)
	}
	select {
	case evt := <-ch:
		t.Fatalf("expected drop, got %+v", evt)
	default:
	}
}
