package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("notify.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindNotifyNewSession, Timestamp: time.Now(), Payload: "+15550100"})

	select {
	case evt := <-ch:
		if evt.Kind != KindNotifyNewSession {
			t.Errorf("got kind %q, want %q", evt.Kind, KindNotifyNewSession)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("approval.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindMessageStored})
	b.Publish(Event{Kind: KindApprovalQueued})

	select {
	case evt := <-ch:
		if evt.Kind != KindApprovalQueued {
			t.Errorf("got kind %q, want %q", evt.Kind, KindApprovalQueued)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure the message event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestEmitStampsTimestamp(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	b.Emit(KindMessageSent, nil)

	select {
	case evt := <-ch:
		if evt.Timestamp.IsZero() {
			t.Error("Emit left Timestamp zero")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("notify.", 10)
	unsub()

	b.Publish(Event{Kind: KindNotifyProblem})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("notify.", 1)
	defer unsub()

	// Fill buffer.
	b.Publish(Event{Kind: KindNotifyProblem})
	// This should be dropped (non-blocking).
	b.Publish(Event{Kind: KindNotifyBlacklisted})

	evt := <-ch
	if evt.Kind != KindNotifyProblem {
		t.Errorf("got %q, want %q", evt.Kind, KindNotifyProblem)
	}
}
