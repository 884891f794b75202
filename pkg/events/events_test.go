package events

import (
	"testing"
	"time"
)

func TestBus_PublishDelivers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	bus.Publish(Event{Type: SessionStarted, SessionID: "sess-1", UserID: "user-1"})

	select {
	case evt := <-ch:
		if evt.Type != SessionStarted {
			t.Errorf("Type mismatch: got %s, want %s", evt.Type, SessionStarted)
		}
		if evt.SessionID != "sess-1" {
			t.Errorf("SessionID mismatch: got %s", evt.SessionID)
		}
		if evt.Timestamp.IsZero() {
			t.Error("expected Publish to stamp the event")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_FanOut(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch1, unsub1 := bus.Subscribe()
	defer unsub1()
	ch2, unsub2 := bus.Subscribe()
	defer unsub2()

	bus.Publish(Event{Type: SessionCompleted, SessionID: "sess-1"})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case evt := <-ch:
			if evt.Type != SessionCompleted {
				t.Errorf("subscriber %d: got %s, want %s", i, evt.Type, SessionCompleted)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: event not delivered", i)
		}
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, unsubscribe := bus.Subscribe()
	unsubscribe()

	bus.Publish(Event{Type: SessionStarted, SessionID: "sess-1"})

	select {
	case evt := <-ch:
		t.Fatalf("unexpected delivery after unsubscribe: %v", evt.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_UnsubscribeIdempotent(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	_, unsubscribe := bus.Subscribe()
	unsubscribe()
	unsubscribe() // must not panic
}

func TestBus_PublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	_, unsubscribe := bus.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < DefaultBuffer; i++ {
			bus.Publish(Event{Type: SessionStarted, SessionID: "sess-1"})
		}
		// Buffer is now full; unsubscribing must release the next publish.
		go func() {
			time.Sleep(20 * time.Millisecond)
			unsubscribe()
		}()
		bus.Publish(Event{Type: SessionStarted, SessionID: "sess-1"})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a dead subscriber")
	}
}

func TestBus_SubscribeAfterClose(t *testing.T) {
	bus := NewBus()
	bus.Close()

	ch, unsubscribe := bus.Subscribe()
	unsubscribe()

	bus.Publish(Event{Type: SessionStarted, SessionID: "sess-1"})

	select {
	case evt := <-ch:
		t.Fatalf("unexpected delivery on closed bus: %v", evt.Type)
	case <-time.After(50 * time.Millisecond):
	}
}
