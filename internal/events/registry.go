// Package events is the engine's observable surface: a validated,
// closed set of event kinds, an in-memory ring of recent events, a
// fan-out to live subscribers, and an optional Postgres sink. The
// execution engine itself only calls Emit; everything downstream
// (websocket stream, MQTT status publisher, run history) hangs off
// this package.
package events

import "fmt"

// Event kinds. The set is closed: Emit rejects anything not listed
// here, so a typo in a caller fails loudly in tests instead of
// producing an event no consumer matches.
const (
	// Run lifecycle.
	Started   = "started"
	Paused    = "paused"
	Resumed   = "resumed"
	Stopped   = "stopped"
	Completed = "completed"
	Error     = "error"

	// Step progress.
	StepExecuting = "step_executing"
	StepCompleted = "step_completed"
	Executing     = "executing"
	WaitingSensor = "waiting_sensor"

	// Safety.
	SafetyWaiting   = "safety_waiting"
	SafetyRecovered = "safety_recovered"
	SafetyViolation = "safety_violation"
	EmergencyPause  = "emergency_pause"
	EmergencyStop   = "emergency_stop"

	// Lines to rows transition.
	TransitionAlert    = "transition_alert"
	TransitionWaiting  = "transition_waiting"
	TransitionComplete = "transition_complete"

	// Daemon.
	SystemStartup  = "system_startup"
	SystemShutdown = "system_shutdown"
	SystemError    = "system_error"
	RulesReloaded  = "rules_reloaded"
)

var allowedEvents = map[string]struct{}{
	Started:   {},
	Paused:    {},
	Resumed:   {},
	Stopped:   {},
	Completed: {},
	Error:     {},

	StepExecuting: {},
	StepCompleted: {},
	Executing:     {},
	WaitingSensor: {},

	SafetyWaiting:   {},
	SafetyRecovered: {},
	SafetyViolation: {},
	EmergencyPause:  {},
	EmergencyStop:   {},

	TransitionAlert:    {},
	TransitionWaiting:  {},
	TransitionComplete: {},

	SystemStartup:  {},
	SystemShutdown: {},
	SystemError:    {},
	RulesReloaded:  {},
}

// Validate reports whether the event kind is one the system knows.
func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}
