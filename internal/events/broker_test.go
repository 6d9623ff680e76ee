package events

import (
	"testing"
	"time"
)

func TestBrokerPublishAndSubscribe(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe(10)
	defer b.Unsubscribe(ch)

	ev := Event{Type: EventCallIntercepted, Function: "glClear"}
	b.Publish(ev)

	select {
	case got := <-ch:
		if got.Type != ev.Type || got.Function != ev.Function {
			t.Fatalf("event mismatch: got %+v want %+v", got, ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBrokerDropsWhenSlowSubscriber(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	ev := Event{Type: EventCallIntercepted}
	b.Publish(ev) // fills buffer
	b.Publish(ev) // should drop

	if n := len(ch); n != 1 {
		t.Fatalf("expected buffer length 1 after drop, got %d", n)
	}
	if b.DroppedCount() != 1 {
		t.Fatalf("expected 1 dropped event, got %d", b.DroppedCount())
	}
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe(1)
	b.Unsubscribe(ch)

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close")
	}

	// Double unsubscribe must not panic.
	b.Unsubscribe(ch)
}
