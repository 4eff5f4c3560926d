package mqtt

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// fakePaho implements paho.Client against in-memory topic routing so
// the wrapper, bridge, publisher and monitor can be tested without a
// broker.
type fakePaho struct {
	mu         sync.Mutex
	connected  bool
	publishes  []publishRecord
	handlers   map[string]paho.MessageHandler
	publishErr error

	// onPublish runs after each recorded publish, outside the lock,
	// so tests can answer commands inline.
	onPublish func(topic string, payload []byte)
}

type publishRecord struct {
	topic    string
	payload  []byte
	retained bool
}

func newFakePaho() *fakePaho {
	return &fakePaho{
		connected: true,
		handlers:  make(map[string]paho.MessageHandler),
	}
}

func (f *fakePaho) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

func (f *fakePaho) setPublishErr(err error) {
	f.mu.Lock()
	f.publishErr = err
	f.mu.Unlock()
}

func (f *fakePaho) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakePaho) IsConnectionOpen() bool { return f.IsConnected() }

func (f *fakePaho) Connect() paho.Token { return &fakeToken{} }

func (f *fakePaho) Disconnect(quiesce uint) { f.setConnected(false) }

func (f *fakePaho) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	b, _ := payload.([]byte)

	f.mu.Lock()
	if f.publishErr != nil {
		err := f.publishErr
		f.mu.Unlock()
		return &fakeToken{err: err}
	}
	f.publishes = append(f.publishes, publishRecord{
		topic:    topic,
		payload:  append([]byte(nil), b...),
		retained: retained,
	})
	hook := f.onPublish
	f.mu.Unlock()

	if hook != nil {
		hook(topic, b)
	}
	return &fakeToken{}
}

func (f *fakePaho) Subscribe(topic string, qos byte, cb paho.MessageHandler) paho.Token {
	f.mu.Lock()
	f.handlers[topic] = cb
	f.mu.Unlock()
	return &fakeToken{}
}

func (f *fakePaho) SubscribeMultiple(filters map[string]byte, cb paho.MessageHandler) paho.Token {
	f.mu.Lock()
	for topic := range filters {
		f.handlers[topic] = cb
	}
	f.mu.Unlock()
	return &fakeToken{}
}

func (f *fakePaho) Unsubscribe(topics ...string) paho.Token {
	f.mu.Lock()
	for _, topic := range topics {
		delete(f.handlers, topic)
	}
	f.mu.Unlock()
	return &fakeToken{}
}

func (f *fakePaho) AddRoute(topic string, cb paho.MessageHandler) {}

func (f *fakePaho) OptionsReader() paho.ClientOptionsReader {
	return paho.ClientOptionsReader{}
}

// deliver routes a message to the subscribed handler, honoring a
// trailing /# wildcard. Returns false if nothing matched.
func (f *fakePaho) deliver(topic string, payload []byte) bool {
	f.mu.Lock()
	var cb paho.MessageHandler
	for pattern, h := range f.handlers {
		if topicMatches(pattern, topic) {
			cb = h
			break
		}
	}
	f.mu.Unlock()

	if cb == nil {
		return false
	}
	cb(nil, &fakeMessage{topic: topic, payload: payload})
	return true
}

func topicMatches(pattern, topic string) bool {
	if strings.HasSuffix(pattern, "/#") {
		return strings.HasPrefix(topic, strings.TrimSuffix(pattern, "#"))
	}
	return pattern == topic
}

func (f *fakePaho) published(topic string) []publishRecord {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []publishRecord
	for _, rec := range f.publishes {
		if rec.topic == topic {
			out = append(out, rec)
		}
	}
	return out
}

func (f *fakePaho) lastPublish(topic string) *publishRecord {
	recs := f.published(topic)
	if len(recs) == 0 {
		return nil
	}
	return &recs[len(recs)-1]
}

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                       { return true }
func (t *fakeToken) WaitTimeout(_ time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func newTestClient() (*Client, *fakePaho) {
	f := newFakePaho()
	return &Client{client: f}, f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBrokerURL(t *testing.T) {
	t.Setenv("MQTT_URL", "")
	if got := BrokerURL(); got != "tcp://localhost:1883" {
		t.Errorf("expected default broker URL, got %s", got)
	}

	t.Setenv("MQTT_URL", "tcp://broker.local:1883")
	if got := BrokerURL(); got != "tcp://broker.local:1883" {
		t.Errorf("expected env broker URL, got %s", got)
	}
}

func TestPublishNotConnected(t *testing.T) {
	client, f := newTestClient()
	f.setConnected(false)

	err := client.Publish("desk/status/started", []byte(`{}`))
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestPublishWrapsTokenError(t *testing.T) {
	client, f := newTestClient()
	boom := errors.New("boom")
	f.setPublishErr(boom)

	err := client.Publish("desk/cmd/move_x", []byte(`{}`))
	if err == nil {
		t.Fatal("expected error")
	}

	var pubErr *PublishError
	if !errors.As(err, &pubErr) {
		t.Fatalf("expected PublishError, got %T", err)
	}
	if pubErr.Topic != "desk/cmd/move_x" {
		t.Errorf("expected topic in error, got %s", pubErr.Topic)
	}
	if !errors.Is(err, boom) {
		t.Error("expected wrapped cause to survive")
	}
}

func TestPublishRetainedFlag(t *testing.T) {
	client, f := newTestClient()

	if err := client.Publish("desk/status/started", []byte(`a`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := client.PublishRetained("desk/status/state", []byte(`b`)); err != nil {
		t.Fatalf("publish retained: %v", err)
	}

	rec := f.lastPublish("desk/status/started")
	if rec == nil || rec.retained {
		t.Error("expected plain publish to not be retained")
	}
	rec = f.lastPublish("desk/status/state")
	if rec == nil || !rec.retained {
		t.Error("expected state publish to be retained")
	}
}

func TestSubscribeRoutesMessages(t *testing.T) {
	client, f := newTestClient()

	var mu sync.Mutex
	var got []string
	err := client.Subscribe("desk/ack", func(_ paho.Client, msg paho.Message) {
		mu.Lock()
		got = append(got, string(msg.Payload()))
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if !f.deliver("desk/ack", []byte(`hello`)) {
		t.Fatal("expected a handler for desk/ack")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "hello" {
		t.Errorf("expected [hello], got %v", got)
	}
}

func TestUnsubscribeRemovesHandler(t *testing.T) {
	client, f := newTestClient()

	err := client.Subscribe("desk/state", func(_ paho.Client, _ paho.Message) {})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.Unsubscribe("desk/state"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	if f.deliver("desk/state", []byte(`{}`)) {
		t.Error("expected no handler after unsubscribe")
	}
}
