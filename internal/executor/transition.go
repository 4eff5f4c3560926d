package executor

import (
	"log"
	"time"

	"github.com/AaronLay10/ScratchDesk/internal/events"
	"github.com/AaronLay10/ScratchDesk/internal/hardware"
	"github.com/AaronLay10/ScratchDesk/internal/program"
	"github.com/AaronLay10/ScratchDesk/internal/safety"
)

// linesToRowsTransition is the atomic context switch from lines to
// rows operations. The rows motor door must be closed before any rows
// step runs, but the rows monitor rules cannot apply yet: they would
// flag the very state the operator is being asked to change. So the
// caller raises the transition flag first, and this routine holds the
// run paused until the door limit switch reads down and stays down
// through a short debounce.
//
// On success the context flips to rows, the rows motor is
// pre-positioned to the first upcoming move_x target so it does not
// lurch when the loop resumes, and the pause clears. Returns false
// when stop arrives during the wait.
func (e *Engine) linesToRowsTransition(stopCh <-chan struct{}) bool {
	if e.hw.DoorSwitch() == hardware.StateDown {
		log.Printf("executor: rows motor door already closed, continuing with rows operations")
		e.setInTransition(false)
		e.setContext(safety.ContextRows)
		return true
	}

	e.setPaused(true)
	e.emit("warning", events.TransitionAlert, map[string]interface{}{
		"from_operation":       safety.ContextLines,
		"to_operation":         safety.ContextRows,
		"message":              "Lines operations complete. Close the rows motor door to continue with rows operations.",
		"current_limit_switch": e.hw.DoorSwitch(),
	})
	log.Printf("executor: waiting for rows motor door to close")

	for !e.stopNow() {
		if e.hw.DoorSwitch() == hardware.StateDown {
			// Debounce: require the switch to hold before trusting it.
			time.Sleep(e.timing.TransitionStableDelay.Std())
			if e.hw.DoorSwitch() == hardware.StateDown {
				e.setInTransition(false)
				e.setContext(safety.ContextRows)
				e.positionRowsMotor()
				e.emit("info", events.TransitionComplete, map[string]interface{}{
					"message": "Rows motor door closed, resuming rows operations",
				})
				e.setPaused(false)
				log.Printf("executor: lines to rows transition complete")
				return true
			}
		}

		e.emit("info", events.TransitionWaiting, map[string]interface{}{
			"limit_switch_state": e.hw.DoorSwitch(),
		})

		select {
		case <-stopCh:
		case <-time.After(e.timing.TransitionPoll.Std()):
		}
	}

	log.Printf("executor: execution stopped during lines to rows transition")
	e.setInTransition(false)
	return false
}

// positionRowsMotor moves the rows motor to the first move_x target
// within the next few steps, so the motor is already in place when
// the triggering step executes.
func (e *Engine) positionRowsMotor() {
	e.mu.Lock()
	var target float64
	found := false
	limit := e.index + 5
	if limit > len(e.steps) {
		limit = len(e.steps)
	}
	for i := e.index; i < limit; i++ {
		if e.steps[i].Operation == program.OpMoveX {
			if pos, ok := e.steps[i].Float("position"); ok {
				target = pos
				found = true
			}
			break
		}
	}
	e.mu.Unlock()

	if !found {
		return
	}
	if err := e.hw.MoveX(target); err != nil {
		log.Printf("executor: transition pre-positioning failed: %v", err)
	}
}
