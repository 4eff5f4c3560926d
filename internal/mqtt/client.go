// Package mqtt connects the desk daemon to the broker: a thin client
// wrapper, a status publisher for engine events, a remote hardware
// bridge and a connection monitor.
package mqtt

import (
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/AaronLay10/ScratchDesk/internal/config"
	paho "github.com/eclipse/paho.mqtt.golang"
)

// waitTimeout bounds every broker round trip so a dead broker surfaces
// as an error instead of a hung call.
const waitTimeout = 10 * time.Second

// ErrNotConnected is returned by Publish when the client has no broker
// connection. Callers treat it as retryable.
var ErrNotConnected = errors.New("mqtt client not connected")

// Client wraps the Paho MQTT client for the desk daemon.
type Client struct {
	client paho.Client
	mu     sync.Mutex
}

// BrokerURL returns the MQTT broker URL from env or default.
func BrokerURL() string {
	if url := os.Getenv("MQTT_URL"); url != "" {
		return url
	}
	return "tcp://localhost:1883"
}

// NewClient creates a new MQTT client but does not connect. Broker
// logins come from DESK_MQTT_USER / DESK_MQTT_PASS (*_FILE convention
// supported) when the broker requires them. A non-empty willTopic
// installs a retained last-will there so subscribers see
// {"state":"offline"} when the daemon dies without disconnecting.
func NewClient(clientID, willTopic string) *Client {
	opts := paho.NewClientOptions().
		AddBroker(BrokerURL()).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)

	user, err := config.ResolveSecret("DESK_MQTT_USER")
	if err != nil {
		log.Printf("mqtt: %v", err)
	}
	pass, err := config.ResolveSecret("DESK_MQTT_PASS")
	if err != nil {
		log.Printf("mqtt: %v", err)
	}
	if user != "" {
		opts.SetUsername(user)
		opts.SetPassword(pass)
	}

	if willTopic != "" {
		opts.SetBinaryWill(willTopic, []byte(`{"state":"offline"}`), 1, true)
	}

	return &Client{
		client: paho.NewClient(opts),
	}
}

// Connect attempts to connect to the broker.
// Returns an error if connection fails, but does not block indefinitely.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	token := c.client.Connect()
	if !token.WaitTimeout(waitTimeout) {
		return &ConnectTimeoutError{}
	}
	if err := token.Error(); err != nil {
		return err
	}
	return nil
}

// Subscribe subscribes to a topic with the given handler.
func (c *Client) Subscribe(topic string, handler paho.MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	token := c.client.Subscribe(topic, 1, handler)
	if !token.WaitTimeout(waitTimeout) {
		return &SubscribeTimeoutError{Topic: topic}
	}
	return token.Error()
}

// Unsubscribe removes subscriptions for the given topics.
func (c *Client) Unsubscribe(topics ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	token := c.client.Unsubscribe(topics...)
	if !token.WaitTimeout(waitTimeout) {
		return errors.New("mqtt unsubscribe timeout")
	}
	return token.Error()
}

// Publish sends a payload to a topic at QoS 1.
func (c *Client) Publish(topic string, payload []byte) error {
	return c.publish(topic, payload, false)
}

// PublishRetained sends a payload the broker keeps for late subscribers.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.publish(topic, payload, true)
}

func (c *Client) publish(topic string, payload []byte, retained bool) error {
	if !c.client.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(waitTimeout) {
		return &PublishError{Topic: topic, Err: errors.New("publish timeout")}
	}
	if err := token.Error(); err != nil {
		return &PublishError{Topic: topic, Err: err}
	}
	return nil
}

// Disconnect cleanly disconnects from the broker.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.client.Disconnect(1000)
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// ConnectTimeoutError indicates connection timed out.
type ConnectTimeoutError struct{}

func (e *ConnectTimeoutError) Error() string {
	return "mqtt connect timeout"
}

// SubscribeTimeoutError indicates subscription timed out.
type SubscribeTimeoutError struct {
	Topic string
}

func (e *SubscribeTimeoutError) Error() string {
	return "mqtt subscribe timeout: " + e.Topic
}

// PublishError wraps a failed publish with its topic.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return "mqtt publish failed: " + e.Topic + ": " + e.Err.Error()
}

func (e *PublishError) Unwrap() error { return e.Err }

// StartWithRetry attempts to connect, logging failure instead of
// crashing. Paho keeps retrying in the background either way, so a
// false return just means the broker was not up yet.
func (c *Client) StartWithRetry() bool {
	if err := c.Connect(); err != nil {
		log.Printf("mqtt: failed to connect to %s: %v", BrokerURL(), err)
		return false
	}

	log.Printf("mqtt: connected to %s", BrokerURL())
	return true
}
