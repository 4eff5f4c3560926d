package executor

import (
	"fmt"
	"log"
	"time"

	"github.com/AaronLay10/ScratchDesk/internal/events"
	"github.com/AaronLay10/ScratchDesk/internal/safety"
)

// monitorLoop polls the rule engine while the run flag is set. Its
// only write surface is the pause flag and the observer: it never
// touches the step index or results. Checks are suspended while the
// lines to rows transition holds the interlock, while the current
// step is a setup motion, and while the pre-step gate is already
// waiting on a violation, so the same violation is never handled from
// two places.
func (e *Engine) monitorLoop(monitorCh <-chan struct{}, monDone chan struct{}) {
	defer close(monDone)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("executor: safety monitor failed: %v", r)
		}
	}()

	for {
		delay := e.timing.SafetyCheckInterval.Std()

		if e.Running() && e.OperationType() != "" {
			switch {
			case e.InTransition():
				delay = e.timing.TransitionPoll.Std()
			case safety.IsSetupMotion(e.currentDescription()):
				// Setup motions are exempt from real-time checks.
			case e.safetyWaitingNow():
				// The pre-step gate already owns this violation.
			default:
				e.monitorCheck()
			}
		}

		select {
		case <-monitorCh:
			return
		case <-time.After(delay):
		}
	}
}

// monitorCheck runs one poll: while unpaused it pauses the run on the
// first violated monitor rule; while paused it auto-resumes once every
// still-violated rule's recovery conditions hold on a single snapshot.
// The recovered event fires exactly once per recovery, on the
// paused-to-running flip.
func (e *Engine) monitorCheck() {
	ctx := e.OperationType()

	if !e.Paused() {
		violated := e.safety.ViolatedMonitorRules(ctx)
		if len(violated) == 0 {
			return
		}
		rule := violated[0]
		v := safety.NewViolation(rule, ctx)
		e.setPaused(true)
		e.safety.LogViolation(v)
		e.emit("warning", events.EmergencyPause, map[string]interface{}{
			"violation_message": v.Message,
			"safety_code":       v.Code,
			"reason":            v.Reason,
			"rule":              rule.DisplayName(),
			"operation_type":    ctx,
			"monitor_type":      "real_time",
		})
		log.Printf("executor: monitor paused run, rule %s", rule.ID)
		return
	}

	if _, recovered := e.safety.RecoveryStatus(ctx); recovered {
		// Triggers that fired during the pause are stale.
		e.hw.FlushSensorBuffers()
		e.setPaused(false)
		e.emit("info", events.SafetyRecovered, map[string]interface{}{
			"message":        fmt.Sprintf("Safety violation resolved, resuming %s operations", ctx),
			"operation_type": ctx,
		})
		log.Printf("executor: monitor resumed run, %s context recovered", ctx)
	}
}

// currentDescription is the step description the run is on, tracked
// by the execution loop for the monitor's setup-motion exemption.
func (e *Engine) currentDescription() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentDesc
}
