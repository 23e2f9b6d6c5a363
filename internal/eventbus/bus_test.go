package eventbus

import (
	"testing"
	"time"
)

func TestPublishReachesSubscriber(t *testing.T) {
	t.Parallel()
	bus := New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	bus.Publish(RunEvent{Type: TypeJobStarted, JobID: "j1", RunID: "r1"})

	select {
	case e := <-ch:
		if e.Type != TypeJobStarted || e.JobID != "j1" {
			t.Fatalf("event = %+v", e)
		}
		if e.Time.IsZero() {
			t.Fatal("Publish should stamp the event time")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()
	bus := New()
	ch, unsub := bus.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			bus.Publish(RunEvent{Type: TypeJobCompleted})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	// Exactly one event fits the buffer, the rest were dropped.
	if got := len(ch); got != 1 {
		t.Fatalf("buffered events = %d, want 1", got)
	}
}

func TestUnsubscribeClosesChannelAndStopsDelivery(t *testing.T) {
	t.Parallel()
	bus := New()
	ch, unsub := bus.Subscribe(4)
	unsub()
	unsub() // idempotent

	bus.Publish(RunEvent{Type: TypeJobFailed})

	if _, open := <-ch; open {
		t.Fatal("channel should be closed after unsubscribe")
	}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	t.Parallel()
	bus := New()
	a, unsubA := bus.Subscribe(1)
	defer unsubA()
	b, unsubB := bus.Subscribe(1)
	defer unsubB()

	bus.Publish(RunEvent{Type: TypeEventFired, JobName: "reminder"})

	for _, ch := range []<-chan RunEvent{a, b} {
		select {
		case e := <-ch:
			if e.JobName != "reminder" {
				t.Fatalf("JobName = %q", e.JobName)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber missed the event")
		}
	}
}
