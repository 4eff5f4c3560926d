// Package hardware defines the contract the execution engine drives the
// desk through, and the state snapshot the safety rules are evaluated
// against. Implementations: the in-process Simulator here, and the MQTT
// bridge in internal/mqtt.
package hardware

import "errors"

// Tool identifiers accepted by ToolUp/ToolDown.
const (
	ToolLineMarker      = "line_marker"
	ToolLineCutter      = "line_cutter"
	ToolLineMotorPiston = "line_motor_piston"
	ToolRowMarker       = "row_marker"
	ToolRowCutter       = "row_cutter"
)

// Edge sensor names accepted by WaitForEdgeSensor. "x" and "y" wait for
// either sensor of the pair.
const (
	SensorX       = "x"
	SensorY       = "y"
	SensorXLeft   = "x_left"
	SensorXRight  = "x_right"
	SensorYTop    = "y_top"
	SensorYBottom = "y_bottom"
)

// Piston and switch states as the drivers report them.
const (
	StateUp   = "up"
	StateDown = "down"
)

var (
	// ErrWaitStopped is returned by a blocking sensor wait when the
	// externally-supplied stop signal fires before a trigger arrives.
	ErrWaitStopped = errors.New("sensor wait aborted: stop requested")

	// ErrWaitTimeout is returned when a sensor wait exceeds its limit.
	ErrWaitTimeout = errors.New("sensor wait timed out")
)

// Position is the desk head position in cm.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Snapshot is a read-only projection of the hardware state, rebuilt
// fresh for every condition evaluation and never patched in place.
// Piston values are "up"/"down"; sensor values are bool for edge
// sensors and "up"/"down" for the rows door limit switch.
type Snapshot struct {
	Pistons   map[string]string      `json:"pistons"`
	Sensors   map[string]interface{} `json:"sensors"`
	Positions Position               `json:"positions"`
}

// WaitControl supplies the execution-side signals a blocking sensor
// wait must honor: Stopped releases the wait immediately, and triggers
// that arrive while Paused reports true are discarded rather than
// consumed, so an edge that fired during a safety pause cannot be
// mistaken for one that fired after resume.
type WaitControl interface {
	Stopped() <-chan struct{}
	Paused() bool
}

// Interface is the hardware collaborator contract. All calls are
// synchronous: motion commands return after the hardware acknowledges
// the target position. The engine never issues two motion commands
// concurrently and assumes the implementation serializes actuation.
type Interface interface {
	MoveX(position float64) error
	MoveY(position float64) error
	CurrentX() float64
	CurrentY() float64

	ToolUp(tool string) error
	ToolDown(tool string) error
	// ToolState reports "up" or "down" for a tool's piston.
	ToolState(tool string) string

	LiftLineTools() error
	LowerLineTools() error
	MoveLineToolsToTop() error

	// DoorSwitch reports the rows motor door limit switch: "down"
	// means the door is closed.
	DoorSwitch() string

	// WaitForEdgeSensor blocks until the named edge sensor triggers,
	// the control's stop signal fires (ErrWaitStopped), or the wait
	// times out (ErrWaitTimeout). Pending triggers are cleared before
	// waiting so a premature edge is not consumed.
	WaitForEdgeSensor(name string, ctl WaitControl) error

	// FlushSensorBuffers discards pending sensor triggers. Called on
	// resume so edges that fired during a pause are not replayed.
	FlushSensorBuffers()

	// SignalAllSensorEvents wakes every blocked sensor wait. Called on
	// stop so waiters re-check their stop signal promptly.
	SignalAllSensorEvents()

	// State returns a fresh Snapshot of pistons, sensors and positions.
	State() Snapshot
}

// PistonKey maps a tool identifier to its key in Snapshot.Pistons.
// The line motor piston actuates under the tool id "line_motor_piston"
// but reports state under "line_motor", matching the rule vocabulary.
func PistonKey(tool string) string {
	if tool == ToolLineMotorPiston {
		return "line_motor"
	}
	return tool
}
