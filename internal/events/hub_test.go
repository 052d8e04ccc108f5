package events

import (
	"testing"
	"time"
)

func recvEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPublishReachesSubscribers(t *testing.T) {
	h := NewHub()
	ch1, cancel1 := h.Subscribe("net-1")
	defer cancel1()
	ch2, cancel2 := h.Subscribe("net-1")
	defer cancel2()

	h.Publish(Event{Type: TypeStatus, NetworkID: "net-1", Status: "running"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		ev := recvEvent(t, ch)
		if ev.Type != TypeStatus || ev.Status != "running" {
			t.Errorf("got %+v", ev)
		}
		if ev.Time.IsZero() {
			t.Error("publish must stamp the event time")
		}
	}
}

func TestTopicsAreIsolated(t *testing.T) {
	h := NewHub()
	ch1, cancel1 := h.Subscribe("net-1")
	defer cancel1()
	ch2, cancel2 := h.Subscribe("net-2")
	defer cancel2()

	h.Publish(Event{Type: TypeLog, NetworkID: "net-1", Message: "hello"})

	recvEvent(t, ch1)
	select {
	case ev := <-ch2:
		t.Errorf("net-2 subscriber got foreign event %+v", ev)
	default:
	}
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	h := NewHub()
	h.Publish(Event{Type: TypeLog, NetworkID: "net-ghost"})
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("net-1")
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			h.Publish(Event{Type: TypeLog, NetworkID: "net-1"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	// Some events were delivered, the overflow was dropped.
	n := 0
	for {
		select {
		case <-ch:
			n++
			continue
		default:
		}
		break
	}
	if n == 0 || n > 64 {
		t.Errorf("delivered %d events, want 1..64", n)
	}
}

func TestUnsubscribeDropsTopic(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("net-1")
	if got := h.SubscriberCount("net-1"); got != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", got)
	}

	cancel()
	cancel() // second call is a no-op

	if got := h.SubscriberCount("net-1"); got != 0 {
		t.Errorf("SubscriberCount after cancel = %d, want 0", got)
	}
	if _, ok := h.topics["net-1"]; ok {
		t.Error("empty topic must be discarded")
	}
	if _, open := <-ch; open {
		t.Error("channel must be closed after cancel")
	}
}
