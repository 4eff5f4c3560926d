package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AaronLay10/ScratchDesk/internal/events"
	"github.com/gorilla/websocket"
)

// clearTLSEnv prevents TLS initialization from trying to load nonexistent certs.
func clearTLSEnv(t *testing.T) {
	t.Setenv("DESK_TLS_CERT", "")
	t.Setenv("DESK_TLS_KEY", "")
	// Also reset package-level TLS config in case a previous test set it
	SetTLSConfigForTest(nil)
}

// waitFor polls a condition until it returns true or timeout expires.
func waitFor(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("timeout waiting for: %s", msg)
}

// dialEvents connects to the stream and consumes the hello frame every
// connection starts with.
func dialEvents(t *testing.T, serverURL string) (*websocket.Conn, wsHello) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(serverURL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		t.Fatalf("failed to read hello frame: %v", err)
	}
	var hello wsHello
	if err := json.Unmarshal(msg, &hello); err != nil {
		conn.Close()
		t.Fatalf("failed to unmarshal hello frame: %v", err)
	}
	if hello.Type != "hello" {
		conn.Close()
		t.Fatalf("expected hello frame first, got type %q", hello.Type)
	}
	return conn, hello
}

func TestWebSocketHelloThenReplay(t *testing.T) {
	clearTLSEnv(t)
	events.Clear()
	SetDeskID("desk-ws")

	// Emit some events before connecting
	for i := 0; i < 5; i++ {
		events.Emit("info", events.StepCompleted, "", map[string]interface{}{"i": i})
	}

	server := httptest.NewServer(http.HandlerFunc(wsEventsHandler))
	defer server.Close()

	conn, hello := dialEvents(t, server.URL)
	defer conn.Close()

	if hello.DeskID != "desk-ws" {
		t.Errorf("hello desk_id = %q, want %q", hello.DeskID, "desk-ws")
	}
	if hello.Replay != 5 {
		t.Errorf("hello replay = %d, want 5", hello.Replay)
	}

	// The replayed history follows the hello in emit order
	for received := 0; received < 5; received++ {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("failed to read replayed event %d: %v", received, err)
		}
		var e events.Event
		if err := json.Unmarshal(msg, &e); err != nil {
			t.Fatalf("failed to unmarshal event: %v", err)
		}
		if e.Name != events.StepCompleted {
			t.Errorf("expected '%s', got '%s'", events.StepCompleted, e.Name)
		}
	}
}

func TestWebSocketReceivesNewEvents(t *testing.T) {
	clearTLSEnv(t)
	events.Clear()

	server := httptest.NewServer(http.HandlerFunc(wsEventsHandler))
	defer server.Close()

	conn, hello := dialEvents(t, server.URL)
	defer conn.Close()

	// Ring buffer was cleared, so nothing to replay
	if hello.Replay != 0 {
		t.Errorf("hello replay = %d, want 0", hello.Replay)
	}

	// Emit a new event after connection
	go func() {
		time.Sleep(50 * time.Millisecond)
		events.Emit("info", events.WaitingSensor, "", map[string]interface{}{"sensor": "x_left"})
	}()

	// Should receive the new event
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read new event: %v", err)
	}

	var e events.Event
	if err := json.Unmarshal(msg, &e); err != nil {
		t.Fatalf("failed to unmarshal event: %v", err)
	}

	if e.Name != events.WaitingSensor {
		t.Errorf("expected '%s', got '%s'", events.WaitingSensor, e.Name)
	}
	if e.Fields["sensor"] != "x_left" {
		t.Errorf("expected sensor 'x_left', got '%v'", e.Fields["sensor"])
	}
}

func TestWebSocketDisconnectCleansUp(t *testing.T) {
	clearTLSEnv(t)
	events.Clear()

	// Ensure clean starting state
	events.CloseAllSubscribers()

	server := httptest.NewServer(http.HandlerFunc(wsEventsHandler))
	defer server.Close()

	conn, _ := dialEvents(t, server.URL)

	// Verify connection works by emitting an event and receiving it
	go func() {
		time.Sleep(20 * time.Millisecond)
		events.Emit("info", events.StepCompleted, "", map[string]interface{}{"test": "cleanup"})
	}()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read test event: %v", err)
	}
	var e events.Event
	if err := json.Unmarshal(msg, &e); err != nil {
		t.Fatalf("failed to unmarshal event: %v", err)
	}
	if e.Name != events.StepCompleted {
		t.Errorf("expected '%s', got '%s'", events.StepCompleted, e.Name)
	}

	// Now we know connection is working - subscriber exists
	// Close connection
	conn.Close()

	// Emit events to trigger the subscriber goroutine to notice the close
	for i := 0; i < 5; i++ {
		events.Emit("info", events.StepCompleted, "", nil)
		time.Sleep(50 * time.Millisecond)
	}

	// Wait for cleanup - subscriber count should return to 0
	waitFor(t, 5*time.Second, func() bool {
		return events.SubscriberCount() == 0
	}, "subscriber count to return to 0 after close")
}

func TestWebSocketMultipleClients(t *testing.T) {
	clearTLSEnv(t)
	events.Clear()

	server := httptest.NewServer(http.HandlerFunc(wsEventsHandler))
	defer server.Close()

	// Connect two clients
	conn1, _ := dialEvents(t, server.URL)
	defer conn1.Close()

	conn2, _ := dialEvents(t, server.URL)
	defer conn2.Close()

	// Emit an event
	go func() {
		time.Sleep(50 * time.Millisecond)
		events.Emit("info", events.Completed, "", map[string]interface{}{"run_id": "manual"})
	}()

	// Both should receive
	conn1.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg1, err := conn1.ReadMessage()
	if err != nil {
		t.Fatalf("client1 failed to read: %v", err)
	}

	conn2.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg2, err := conn2.ReadMessage()
	if err != nil {
		t.Fatalf("client2 failed to read: %v", err)
	}

	var e1, e2 events.Event
	json.Unmarshal(msg1, &e1)
	json.Unmarshal(msg2, &e2)

	if e1.Name != events.Completed {
		t.Errorf("client1: expected '%s', got '%s'", events.Completed, e1.Name)
	}
	if e2.Name != events.Completed {
		t.Errorf("client2: expected '%s', got '%s'", events.Completed, e2.Name)
	}
}
