package mqtt

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/AaronLay10/ScratchDesk/internal/hardware"
)

// Bridge drives a remote desk controller over MQTT. Each command is
// published to <base>/cmd/<command> with a unique id and the call
// blocks until the matching acknowledgement arrives on <base>/ack or
// the command times out. The controller publishes full state snapshots
// (retained) on <base>/state and edge-sensor fires on
// <base>/sensors/<name>.
//
// The bridge keeps a local mirror of the controller state so the
// read-side of hardware.Interface answers without a broker round trip.
// Acknowledged commands update the mirror optimistically; state
// reports replace it wholesale.
type Bridge struct {
	client *Client
	base   string

	// CommandTimeout bounds each command round trip. Zero means the
	// stock 10 second limit.
	CommandTimeout time.Duration

	// SensorWaitTimeout bounds WaitForEdgeSensor. Zero means the stock
	// 5 minute limit.
	SensorWaitTimeout time.Duration

	mu      sync.Mutex
	pending map[string]chan ack
	pistons map[string]string
	sensors map[string]interface{}
	x, y    float64

	triggers map[string]chan struct{}
}

// ack is the controller's reply to a command. X and Y report the head
// position after a motion command.
type ack struct {
	ID    string   `json:"id"`
	OK    bool     `json:"ok"`
	Error string   `json:"error,omitempty"`
	X     *float64 `json:"x,omitempty"`
	Y     *float64 `json:"y,omitempty"`
}

// NewBridge creates a bridge publishing under the given base topic.
// Call Start after the client is connected.
func NewBridge(client *Client, baseTopic string) *Bridge {
	b := &Bridge{
		client:   client,
		base:     baseTopic,
		pending:  make(map[string]chan ack),
		pistons:  make(map[string]string),
		sensors:  make(map[string]interface{}),
		triggers: make(map[string]chan struct{}),
	}
	for _, name := range []string{hardware.SensorXLeft, hardware.SensorXRight, hardware.SensorYTop, hardware.SensorYBottom} {
		b.triggers[name] = make(chan struct{}, 1)
	}
	return b
}

// Start subscribes to the controller's ack, state and sensor topics.
// Safe to call again after a reconnect.
func (b *Bridge) Start() error {
	if err := b.client.Subscribe(b.base+"/ack", b.handleAck); err != nil {
		return err
	}
	if err := b.client.Subscribe(b.base+"/state", b.handleState); err != nil {
		return err
	}
	return b.client.Subscribe(b.base+"/sensors/#", b.handleSensor)
}

// Close drops the bridge's subscriptions.
func (b *Bridge) Close() {
	topics := []string{b.base + "/ack", b.base + "/state", b.base + "/sensors/#"}
	if err := b.client.Unsubscribe(topics...); err != nil {
		log.Printf("mqtt: bridge unsubscribe failed: %v", err)
	}
}

func (b *Bridge) handleAck(_ paho.Client, msg paho.Message) {
	var a ack
	if err := json.Unmarshal(msg.Payload(), &a); err != nil {
		log.Printf("mqtt: dropping malformed ack: %v", err)
		return
	}

	b.mu.Lock()
	ch, ok := b.pending[a.ID]
	b.mu.Unlock()
	if !ok {
		// Late ack for a command that already timed out.
		return
	}

	select {
	case ch <- a:
	default:
	}
}

func (b *Bridge) handleState(_ paho.Client, msg paho.Message) {
	var snap hardware.Snapshot
	if err := json.Unmarshal(msg.Payload(), &snap); err != nil {
		log.Printf("mqtt: dropping malformed state report: %v", err)
		return
	}

	b.mu.Lock()
	if snap.Pistons != nil {
		b.pistons = snap.Pistons
	}
	if snap.Sensors != nil {
		b.sensors = snap.Sensors
	}
	b.x = snap.Positions.X
	b.y = snap.Positions.Y
	b.mu.Unlock()
}

func (b *Bridge) handleSensor(_ paho.Client, msg paho.Message) {
	name := strings.TrimPrefix(msg.Topic(), b.base+"/sensors/")
	ch, ok := b.triggers[name]
	if !ok {
		log.Printf("mqtt: edge report for unknown sensor %s ignored", name)
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// command publishes a command and waits for its acknowledgement.
func (b *Bridge) command(cmd string, params map[string]interface{}) (ack, error) {
	id := uuid.New().String()

	payload, err := json.Marshal(map[string]interface{}{
		"id":      id,
		"command": cmd,
		"params":  params,
	})
	if err != nil {
		return ack{}, fmt.Errorf("marshal %s command: %w", cmd, err)
	}

	ch := make(chan ack, 1)
	b.mu.Lock()
	b.pending[id] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	if err := b.client.Publish(b.base+"/cmd/"+cmd, payload); err != nil {
		return ack{}, err
	}

	timeout := b.CommandTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	select {
	case a := <-ch:
		if !a.OK {
			if a.Error == "" {
				a.Error = "command rejected"
			}
			return a, fmt.Errorf("%s: %s", cmd, a.Error)
		}
		return a, nil
	case <-time.After(timeout):
		return ack{}, fmt.Errorf("%s: no acknowledgement within %s", cmd, timeout)
	}
}

func (b *Bridge) MoveX(position float64) error {
	a, err := b.command("move_x", map[string]interface{}{"position": position})
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.x = position
	if a.X != nil {
		b.x = *a.X
	}
	b.mu.Unlock()
	return nil
}

func (b *Bridge) MoveY(position float64) error {
	a, err := b.command("move_y", map[string]interface{}{"position": position})
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.y = position
	if a.Y != nil {
		b.y = *a.Y
	}
	b.mu.Unlock()
	return nil
}

func (b *Bridge) CurrentX() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.x
}

func (b *Bridge) CurrentY() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.y
}

func (b *Bridge) setPiston(tool, state string) {
	b.mu.Lock()
	b.pistons[hardware.PistonKey(tool)] = state
	b.mu.Unlock()
}

func (b *Bridge) ToolUp(tool string) error {
	if _, err := b.command("tool_up", map[string]interface{}{"tool": tool}); err != nil {
		return err
	}
	b.setPiston(tool, hardware.StateUp)
	return nil
}

func (b *Bridge) ToolDown(tool string) error {
	if _, err := b.command("tool_down", map[string]interface{}{"tool": tool}); err != nil {
		return err
	}
	b.setPiston(tool, hardware.StateDown)
	return nil
}

func (b *Bridge) ToolState(tool string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pistons[hardware.PistonKey(tool)]
}

func (b *Bridge) LiftLineTools() error {
	if _, err := b.command("lift_line_tools", nil); err != nil {
		return err
	}
	b.setPiston(hardware.ToolLineMarker, hardware.StateUp)
	b.setPiston(hardware.ToolLineCutter, hardware.StateUp)
	return nil
}

func (b *Bridge) LowerLineTools() error {
	if _, err := b.command("lower_line_tools", nil); err != nil {
		return err
	}
	b.setPiston(hardware.ToolLineMarker, hardware.StateDown)
	b.setPiston(hardware.ToolLineCutter, hardware.StateDown)
	return nil
}

func (b *Bridge) MoveLineToolsToTop() error {
	a, err := b.command("move_line_tools_to_top", nil)
	if err != nil {
		return err
	}

	b.setPiston(hardware.ToolLineMarker, hardware.StateUp)
	b.setPiston(hardware.ToolLineCutter, hardware.StateUp)
	if a.Y != nil {
		b.mu.Lock()
		b.y = *a.Y
		b.mu.Unlock()
	}
	return nil
}

func (b *Bridge) DoorSwitch() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if v, ok := b.sensors["row_motor_limit_switch"].(string); ok {
		return v
	}
	// No state report yet: unknown reads as open so nothing assumes
	// the door is closed before the controller says so.
	return hardware.StateUp
}

func (b *Bridge) waitChannels(name string) (first, second chan struct{}, err error) {
	switch name {
	case hardware.SensorX:
		return b.triggers[hardware.SensorXLeft], b.triggers[hardware.SensorXRight], nil
	case hardware.SensorY:
		return b.triggers[hardware.SensorYTop], b.triggers[hardware.SensorYBottom], nil
	case hardware.SensorXLeft, hardware.SensorXRight, hardware.SensorYTop, hardware.SensorYBottom:
		return b.triggers[name], nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown sensor: %s", name)
	}
}

func (b *Bridge) WaitForEdgeSensor(name string, ctl hardware.WaitControl) error {
	first, second, err := b.waitChannels(name)
	if err != nil {
		return err
	}

	// Drop any edge that fired before the wait started.
	drainTrigger(first)
	drainTrigger(second)

	timeout := b.SensorWaitTimeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		// A nil second channel blocks forever, which is what the
		// single-sensor waits want.
		select {
		case <-ctl.Stopped():
			return hardware.ErrWaitStopped
		case <-deadline.C:
			return hardware.ErrWaitTimeout
		case <-first:
		case <-second:
		}

		// Stop wins over an edge that landed in the same instant.
		select {
		case <-ctl.Stopped():
			return hardware.ErrWaitStopped
		default:
		}

		if ctl.Paused() {
			// Edge arrived during a safety pause: discard it and
			// keep waiting.
			log.Printf("mqtt: %s edge ignored while paused", name)
			continue
		}
		return nil
	}
}

func drainTrigger(ch chan struct{}) {
	if ch == nil {
		return
	}
	select {
	case <-ch:
	default:
	}
}

func (b *Bridge) FlushSensorBuffers() {
	for _, ch := range b.triggers {
		drainTrigger(ch)
	}
}

func (b *Bridge) SignalAllSensorEvents() {
	for _, ch := range b.triggers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (b *Bridge) State() hardware.Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	pistons := make(map[string]string, len(b.pistons))
	for k, v := range b.pistons {
		pistons[k] = v
	}
	sensors := make(map[string]interface{}, len(b.sensors))
	for k, v := range b.sensors {
		sensors[k] = v
	}
	if _, ok := sensors["row_motor_limit_switch"]; !ok {
		sensors["row_motor_limit_switch"] = hardware.StateUp
	}

	return hardware.Snapshot{
		Pistons:   pistons,
		Sensors:   sensors,
		Positions: hardware.Position{X: b.x, Y: b.y},
	}
}
