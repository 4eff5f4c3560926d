package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	// Start with no subscribers
	initial := SubscriberCount()

	sub1 := Subscribe()
	if SubscriberCount() != initial+1 {
		t.Errorf("expected %d subscribers after first subscribe, got %d", initial+1, SubscriberCount())
	}

	sub2 := Subscribe()
	if SubscriberCount() != initial+2 {
		t.Errorf("expected %d subscribers after second subscribe, got %d", initial+2, SubscriberCount())
	}

	Unsubscribe(sub1)
	if SubscriberCount() != initial+1 {
		t.Errorf("expected %d subscribers after unsubscribe, got %d", initial+1, SubscriberCount())
	}

	Unsubscribe(sub2)
	if SubscriberCount() != initial {
		t.Errorf("expected %d subscribers after all unsubscribed, got %d", initial, SubscriberCount())
	}
}

func TestEmitValidatesKind(t *testing.T) {
	if _, err := Emit("info", "desk.exploded", "", nil); err == nil {
		t.Error("expected unknown event kind to be rejected")
	}

	b, err := Emit("info", Started, "run started", map[string]interface{}{"run_id": "r1"})
	if err != nil {
		t.Fatalf("failed to emit: %v", err)
	}

	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		t.Fatalf("failed to parse emitted JSON: %v", err)
	}
	if e.Name != Started || e.Level != "info" || e.Message != "run started" {
		t.Errorf("unexpected event %+v", e)
	}
	if e.Fields["run_id"] != "r1" {
		t.Errorf("expected run_id field, got %v", e.Fields)
	}
}

func TestBroadcastToSubscribers(t *testing.T) {
	sub := Subscribe()
	defer Unsubscribe(sub)

	Emit("info", StepExecuting, "test", map[string]interface{}{"step_index": 3})

	// Should receive the event
	select {
	case e := <-sub:
		if e.Name != StepExecuting {
			t.Errorf("expected event name %q, got %q", StepExecuting, e.Name)
		}
		if e.Fields["step_index"] != 3 {
			t.Errorf("expected step_index 3, got %v", e.Fields["step_index"])
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for broadcast event")
	}
}

func TestRecentEvents(t *testing.T) {
	Clear()

	for i := 0; i < 10; i++ {
		Emit("info", StepCompleted, "", map[string]interface{}{"i": i})
	}

	// Get recent 5
	recent := RecentEvents(5)
	if len(recent) != 5 {
		t.Errorf("expected 5 recent events, got %d", len(recent))
	}

	// First recent event should be i=5 (the 6th event, since we're getting last 5)
	if recent[0].Fields["i"] != 5 {
		t.Errorf("expected first recent event i=5, got %v", recent[0].Fields["i"])
	}

	// Get more than available
	all := RecentEvents(100)
	if len(all) != 10 {
		t.Errorf("expected 10 events when requesting 100, got %d", len(all))
	}

	// Get 0 should return all
	zero := RecentEvents(0)
	if len(zero) != 10 {
		t.Errorf("expected 10 events when requesting 0, got %d", len(zero))
	}
}

func TestRingBufferWraps(t *testing.T) {
	Clear()

	for i := 0; i < 300; i++ {
		Emit("info", Executing, "", map[string]interface{}{"i": i})
	}

	all := Snapshot()
	if len(all) != 256 {
		t.Fatalf("expected buffer capped at 256, got %d", len(all))
	}
	if all[0].Fields["i"] != 44 {
		t.Errorf("expected oldest surviving event i=44, got %v", all[0].Fields["i"])
	}
	if all[255].Fields["i"] != 299 {
		t.Errorf("expected newest event i=299, got %v", all[255].Fields["i"])
	}
}

func TestMultipleSubscribersReceiveEvents(t *testing.T) {
	sub1 := Subscribe()
	sub2 := Subscribe()
	defer Unsubscribe(sub1)
	defer Unsubscribe(sub2)

	Emit("info", TransitionAlert, "", map[string]interface{}{"door": "open"})

	// Both should receive
	select {
	case e := <-sub1:
		if e.Name != TransitionAlert {
			t.Errorf("sub1: expected %q, got %q", TransitionAlert, e.Name)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("sub1: timeout waiting for event")
	}

	select {
	case e := <-sub2:
		if e.Name != TransitionAlert {
			t.Errorf("sub2: expected %q, got %q", TransitionAlert, e.Name)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("sub2: timeout waiting for event")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	sub := Subscribe()
	Unsubscribe(sub)

	// Channel should be closed
	_, ok := <-sub
	if ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
}

func TestUnsubscribeAfterCloseAllIsNoop(t *testing.T) {
	sub := Subscribe()
	CloseAllSubscribers()

	// The subscriber is already gone; a second removal must not panic.
	Unsubscribe(sub)
	Unsubscribe(sub)

	if SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", SubscriberCount())
	}
}

func TestCloseAllSubscribers(t *testing.T) {
	// Clear any existing subscribers
	CloseAllSubscribers()

	sub1 := Subscribe()
	sub2 := Subscribe()
	sub3 := Subscribe()

	if SubscriberCount() != 3 {
		t.Errorf("expected 3 subscribers, got %d", SubscriberCount())
	}

	CloseAllSubscribers()

	// All channels should be closed
	_, ok1 := <-sub1
	_, ok2 := <-sub2
	_, ok3 := <-sub3

	if ok1 || ok2 || ok3 {
		t.Error("expected all channels to be closed")
	}

	if SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers after CloseAllSubscribers, got %d", SubscriberCount())
	}
}
