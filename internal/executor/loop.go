package executor

import (
	"fmt"
	"log"
	"time"

	"github.com/AaronLay10/ScratchDesk/internal/events"
	"github.com/AaronLay10/ScratchDesk/internal/program"
	"github.com/AaronLay10/ScratchDesk/internal/safety"
)

// executionLoop runs steps until the sequence ends or stop is
// requested. It is the only writer of the step index and result list,
// and the only place terminal states are reached: stop and emergency
// paths both fall through to the loop tail, which settles the flags
// and emits the closing event.
func (e *Engine) executionLoop(stopCh chan struct{}, execDone chan struct{}) {
	emergency := false

	defer close(execDone)
	defer e.stopMonitor()
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		log.Printf("executor: execution loop failed: %v", r)
		e.mu.Lock()
		e.running = false
		e.paused = false
		e.mu.Unlock()
		e.emit("error", events.Error, map[string]interface{}{
			"error": fmt.Sprint(r),
		})
		e.finishRun("error")
	}()

	for {
		e.mu.Lock()
		idx := e.index
		total := len(e.steps)
		done := idx >= total || e.stopRequested
		e.mu.Unlock()
		if done {
			break
		}

		e.waitWhilePaused(stopCh)
		if e.stopNow() {
			break
		}

		step := e.stepAt(idx)

		// The monitor reads this to exempt setup motions.
		e.mu.Lock()
		e.currentDesc = step.Description
		e.mu.Unlock()

		// Detect a lines to rows switch before committing the new
		// context: the transition must finish before rows monitor
		// rules start applying to a desk still configured for lines.
		prev := e.OperationType()
		detected := detectContext(step, prev)
		if prev == safety.ContextLines && detected == safety.ContextRows {
			e.setInTransition(true)
			if !e.linesToRowsTransition(stopCh) {
				e.setInTransition(false)
				break
			}
		} else {
			e.setContext(detected)
		}

		e.emit("info", events.StepExecuting, map[string]interface{}{
			"description": step.Description,
			"step_index":  idx,
			"total_steps": total,
		})

		result := e.executeStep(step, stopCh)

		if result.SafetyViolation {
			if e.stopNow() {
				// Stop arrived while the step was held at the gate.
				// Record the abandoned step; this is a cancel, not an
				// emergency.
				e.mu.Lock()
				e.results = append(e.results, StepResult{
					StepIndex: idx,
					Step:      step,
					Result:    result,
					Timestamp: time.Now(),
				})
				e.mu.Unlock()
				break
			}
			e.requestStop()
			e.mu.Lock()
			e.running = false
			e.paused = false
			e.mu.Unlock()
			e.emit("error", events.EmergencyStop, map[string]interface{}{
				"violation_message": result.ViolationMessage,
				"safety_code":       result.SafetyCode,
				"step":              step.Description,
			})
			emergency = true
			break
		}

		e.emit("info", events.StepCompleted, map[string]interface{}{
			"description": step.Description,
			"step_index":  idx,
			"total_steps": total,
			"result":      result,
		})

		e.mu.Lock()
		e.results = append(e.results, StepResult{
			StepIndex: idx,
			Step:      step,
			Result:    result,
			Timestamp: time.Now(),
		})
		e.index++
		newIndex := e.index
		e.mu.Unlock()

		// Progress reports the count of completed steps, so the new
		// index, not the index of the step just run.
		e.emit("info", events.Executing, map[string]interface{}{
			"step_index":       newIndex,
			"total_steps":      total,
			"progress":         float64(newIndex) / float64(total) * 100,
			"step_description": step.Description,
			"result":           result,
		})

		select {
		case <-stopCh:
		case <-time.After(e.timing.ExecutionLoopDelay.Std()):
		}
	}

	e.mu.Lock()
	e.endTime = time.Now()
	e.running = false
	e.paused = false
	stopped := e.stopRequested
	e.mu.Unlock()

	outcome := "completed"
	kind := events.Completed
	switch {
	case emergency:
		outcome = "emergency_stop"
		kind = events.Stopped
	case stopped:
		outcome = "stopped"
		kind = events.Stopped
	}
	e.emit("info", kind, nil)
	e.finishRun(outcome)
}

// waitWhilePaused is the pause gate every step passes. It returns
// when the pause clears or stop is requested, polling at the
// execution loop's own cadence.
func (e *Engine) waitWhilePaused(stopCh <-chan struct{}) {
	for e.Paused() && !e.stopNow() {
		select {
		case <-stopCh:
			return
		case <-time.After(e.timing.ExecutionLoopDelay.Std()):
		}
	}
}

func (e *Engine) stepAt(idx int) program.Step {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.steps[idx]
}
