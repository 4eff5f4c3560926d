package executor

import (
	"errors"
	"fmt"
	"time"

	"github.com/AaronLay10/ScratchDesk/internal/events"
	"github.com/AaronLay10/ScratchDesk/internal/hardware"
	"github.com/AaronLay10/ScratchDesk/internal/program"
	"github.com/AaronLay10/ScratchDesk/internal/safety"
)

// Result is the outcome of one dispatched step. SafetyViolation marks
// results that must stop the run; a plain failure is recorded and the
// run continues.
type Result struct {
	Success          bool                   `json:"success"`
	Error            string                 `json:"error,omitempty"`
	SafetyViolation  bool                   `json:"safety_violation,omitempty"`
	ViolationMessage string                 `json:"violation_message,omitempty"`
	SafetyCode       string                 `json:"safety_code,omitempty"`
	Payload          map[string]interface{} `json:"payload,omitempty"`
}

// StepResult is one record in the run's result list, appended exactly
// once per attempted step, in step order.
type StepResult struct {
	StepIndex int          `json:"step_index"`
	Step      program.Step `json:"step"`
	Result    Result       `json:"result"`
	Timestamp time.Time    `json:"timestamp"`
}

func okResult(payload map[string]interface{}) Result {
	return Result{Success: true, Payload: payload}
}

func failedResult(msg string) Result {
	return Result{Error: msg}
}

// refusedResult is a step turned away by the safety gate.
func refusedResult(v *safety.Violation) Result {
	return Result{
		Error:            "Safety violation",
		SafetyViolation:  true,
		ViolationMessage: v.Message,
		SafetyCode:       v.Code,
	}
}

// stoppedResult is a step abandoned because stop arrived while it was
// held at the safety gate.
func stoppedResult() Result {
	return Result{
		Error:           "Execution stopped",
		SafetyViolation: true,
	}
}

// executeStep gates the step through the safety engine, then
// dispatches it to the hardware. Steps run during the lines to rows
// transition skip the gate: the transition itself owns the interlock.
func (e *Engine) executeStep(step program.Step, stopCh <-chan struct{}) Result {
	if !e.InTransition() {
		if res := e.waitForSafety(step, stopCh); res != nil {
			return *res
		}
	}
	return e.dispatch(step)
}

// waitForSafety is the pre-step gate. A blocked step is not refused
// outright: the gate re-checks at the safety poll interval until the
// rule clears, stop arrives, or the maximum wait is exhausted. The
// waiting event fires once per episode, not per retry, and the
// violation is logged once. Monitor-only rules for the run's current
// context are folded into the same check so a pure-monitor rule also
// holds back step starts. Returns nil when the step may proceed.
func (e *Engine) waitForSafety(step program.Step, stopCh <-chan struct{}) *Result {
	isSetup := safety.IsSetupMotion(step.Description)
	interval := e.timing.SafetyCheckInterval.Std()
	deadline := time.Now().Add(e.timing.SafetyMaxWait.Std())
	waited := false

	defer func() {
		if waited {
			e.setSafetyWaiting(false)
		}
	}()

	for {
		select {
		case <-stopCh:
			r := stoppedResult()
			return &r
		default:
		}

		v := e.safety.IsBlocked(step, isSetup)
		if v == nil {
			if ctx := e.OperationType(); ctx != "" {
				if rules := e.safety.ViolatedMonitorOnlyRules(ctx); len(rules) > 0 {
					v = safety.NewViolation(rules[0], step.Operation)
				}
			}
		}

		if v == nil {
			if waited {
				e.emit("info", events.SafetyRecovered, map[string]interface{}{
					"message": "Safety condition cleared, executing step",
					"step":    step.Description,
				})
			}
			return nil
		}

		if !waited {
			waited = true
			e.setSafetyWaiting(true)
			e.safety.LogViolation(v)
			e.emit("warning", events.SafetyWaiting, map[string]interface{}{
				"message":     v.Message,
				"safety_code": v.Code,
				"step":        step.Description,
			})
		}

		if time.Now().After(deadline) {
			e.emit("warning", events.SafetyViolation, map[string]interface{}{
				"step":              step.Description,
				"violation_message": v.Message,
				"safety_code":       v.Code,
				"reason":            v.Reason,
			})
			r := refusedResult(v)
			return &r
		}

		select {
		case <-stopCh:
			r := stoppedResult()
			return &r
		case <-time.After(interval):
		}
	}
}

// dispatch routes the step to the hardware by operation kind. A
// hardware error becomes a failed result; it never aborts the loop.
func (e *Engine) dispatch(step program.Step) Result {
	switch step.Operation {
	case program.OpMoveX:
		pos, ok := step.Float("position")
		if !ok {
			return failedResult("move_x step missing position parameter")
		}
		if err := e.hw.MoveX(pos); err != nil {
			return failedResult(err.Error())
		}
		return okResult(map[string]interface{}{"position": pos})

	case program.OpMoveY:
		pos, ok := step.Float("position")
		if !ok {
			return failedResult("move_y step missing position parameter")
		}
		if err := e.hw.MoveY(pos); err != nil {
			return failedResult(err.Error())
		}
		return okResult(map[string]interface{}{"position": pos})

	case program.OpMovePosition:
		xOffset, _ := step.Float("x_offset")
		yOffset, _ := step.Float("y_offset")
		targetX := e.hw.CurrentX() + xOffset
		targetY := e.hw.CurrentY() + yOffset
		if err := e.hw.MoveX(targetX); err != nil {
			return failedResult(err.Error())
		}
		if err := e.hw.MoveY(targetY); err != nil {
			return failedResult(err.Error())
		}
		return okResult(map[string]interface{}{
			"position": hardware.Position{X: targetX, Y: targetY},
		})

	case program.OpWaitSensor:
		sensor, ok := step.Text("sensor")
		if !ok {
			return failedResult("wait_sensor step missing sensor parameter")
		}
		e.emit("info", events.WaitingSensor, map[string]interface{}{
			"sensor": sensor,
		})
		if err := e.hw.WaitForEdgeSensor(sensor, e); err != nil {
			if errors.Is(err, hardware.ErrWaitStopped) {
				return failedResult("Execution stopped")
			}
			return failedResult(err.Error())
		}
		return okResult(map[string]interface{}{"sensor": sensor})

	case program.OpToolAction:
		tool, _ := step.Text("tool")
		action, _ := step.Text("action")
		var err error
		switch action {
		case "down":
			err = e.hw.ToolDown(tool)
		case "up":
			err = e.hw.ToolUp(tool)
		default:
			return failedResult(fmt.Sprintf("unknown tool/action: %s/%s", tool, action))
		}
		if err != nil {
			return failedResult(err.Error())
		}
		return okResult(map[string]interface{}{"tool": tool, "action": action})

	case program.OpToolPositioning:
		action, _ := step.Text("action")
		var err error
		switch action {
		case "lift_line_tools":
			err = e.hw.LiftLineTools()
		case "lower_line_tools":
			err = e.hw.LowerLineTools()
		case "move_line_tools_to_top":
			err = e.hw.MoveLineToolsToTop()
		default:
			return failedResult(fmt.Sprintf("unknown positioning action: %s", action))
		}
		if err != nil {
			return failedResult(err.Error())
		}
		return okResult(map[string]interface{}{"action": action})

	case program.OpProgramStart, program.OpProgramComplete:
		return okResult(map[string]interface{}{"program_info": step.Parameters})

	case program.OpWorkflowSeparator:
		return okResult(nil)

	default:
		return failedResult(fmt.Sprintf("unknown operation: %s", step.Operation))
	}
}
