package mqtt

import (
	"encoding/json"
	"time"

	"github.com/AaronLay10/ScratchDesk/internal/events"
)

// StatusPublisher republishes engine events onto the MQTT status tree
// so wall panels and the floor dashboard can follow a run without
// holding an API connection. Every event goes to <base>/status/<kind>;
// kinds that change the coarse run state additionally refresh the
// retained <base>/status/state document, the same topic the client's
// last-will marks "offline".
type StatusPublisher struct {
	client *Client
	base   string
	sub    events.Subscriber
	done   chan struct{}
}

// NewStatusPublisher creates a publisher for the given base topic.
func NewStatusPublisher(client *Client, baseTopic string) *StatusPublisher {
	return &StatusPublisher{
		client: client,
		base:   baseTopic,
	}
}

// Start subscribes to the event bus and begins republishing. The
// retained state document is reset to "idle" so a fresh daemon
// overwrites a stale "offline" from the last will.
func (p *StatusPublisher) Start() {
	p.sub = events.Subscribe()
	p.done = make(chan struct{})

	p.publishState("idle", events.Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})

	go p.loop()
}

// Stop unsubscribes from the event bus and waits for the republish
// goroutine to drain.
func (p *StatusPublisher) Stop() {
	events.Unsubscribe(p.sub)
	<-p.done
}

func (p *StatusPublisher) loop() {
	defer close(p.done)

	for e := range p.sub {
		payload, err := json.Marshal(e)
		if err != nil {
			continue
		}

		// Broker outages are logged by the connection monitor; status
		// traffic just drops until the connection returns.
		if err := p.client.Publish(p.base+"/status/"+e.Name, payload); err != nil {
			continue
		}

		if state, ok := runState(e.Name); ok {
			p.publishState(state, e)
		}
	}
}

func (p *StatusPublisher) publishState(state string, e events.Event) {
	doc := map[string]interface{}{
		"state": state,
		"ts":    e.Timestamp,
	}
	if runID, ok := e.Fields["run_id"]; ok {
		doc["run_id"] = runID
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return
	}
	p.client.PublishRetained(p.base+"/status/state", payload)
}

// runState maps an event kind to the coarse desk state retained on
// status/state, or ok=false for kinds that do not change it. The
// mapping follows the engine flags: a pre-step safety hold is still
// "running", only the monitor's emergency pause (or a manual one)
// counts as "paused".
func runState(kind string) (string, bool) {
	switch kind {
	case events.Started, events.Resumed, events.SafetyRecovered:
		return "running", true
	case events.Paused, events.EmergencyPause:
		return "paused", true
	case events.Stopped, events.Completed, events.EmergencyStop, events.Error:
		return "idle", true
	}
	return "", false
}
