package notify

import (
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestHubTopicDelivery(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("a1")
	defer cancel()
	other, cancelOther := h.Subscribe("a2")
	defer cancelOther()

	h.Publish(Event{Type: TypeAttemptSubmitted, Key: "a1"})

	e := recv(t, ch)
	if e.Key != "a1" || e.Type != TypeAttemptSubmitted {
		t.Fatalf("got %+v", e)
	}
	select {
	case e := <-other:
		t.Fatalf("a2 subscriber received %+v", e)
	default:
	}
}

func TestHubWildcardSeesEverything(t *testing.T) {
	h := NewHub()
	all, cancel := h.Subscribe("*")
	defer cancel()

	h.Publish(Event{Type: TypeAttemptSubmitted, Key: "a1"})
	h.Publish(Event{Type: TypeAttemptGraded, Key: "a2"})

	if e := recv(t, all); e.Key != "a1" {
		t.Fatalf("first event %+v", e)
	}
	if e := recv(t, all); e.Key != "a2" {
		t.Fatalf("second event %+v", e)
	}
}

func TestHubCancelClosesChannel(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("a1")
	cancel()
	cancel() // idempotent

	if _, open := <-ch; open {
		t.Fatal("channel still open after cancel")
	}
	// Publishing to a cancelled topic must not panic or block.
	h.Publish(Event{Type: TypeAttemptClosed, Key: "a1"})
}

func TestHubSlowSubscriberDrops(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("a1")
	defer cancel()

	// Overflow the buffer; Publish must never block.
	for i := 0; i < 100; i++ {
		h.Publish(Event{Type: TypeAttemptSubmitted, Key: "a1", Offset: int64(i)})
	}
	if got := len(ch); got != cap(ch) {
		t.Fatalf("buffered %d events, want full buffer of %d", got, cap(ch))
	}
}
