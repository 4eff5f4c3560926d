// Package executor runs marking programs step by step. An Engine
// drives the hardware through two concurrent workers per run: the
// execution loop, which owns the step index and result list, and the
// safety monitor loop, which polls the rule engine and may only flip
// the pause flag. Both observe a shared stop signal and terminate
// cooperatively within one poll interval.
package executor

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AaronLay10/ScratchDesk/internal/config"
	"github.com/AaronLay10/ScratchDesk/internal/events"
	"github.com/AaronLay10/ScratchDesk/internal/hardware"
	"github.com/AaronLay10/ScratchDesk/internal/program"
	"github.com/AaronLay10/ScratchDesk/internal/safety"
)

// Observer receives every engine event as (kind, payload). The engine
// calls at most one observer; consumers that need fan-out subscribe to
// the events package instead.
type Observer func(kind string, fields map[string]interface{})

// RunRecorder persists run history. Satisfied by the Postgres client;
// a nil recorder disables persistence.
type RunRecorder interface {
	StartRun(runID string, programNumber int, programName string, stepsTotal int, startedAt time.Time) error
	FinishRun(runID, outcome string, stepsCompleted int, endedAt time.Time) error
}

// Engine executes a loaded step sequence against the hardware. All
// exported methods are safe for concurrent use; only the execution
// loop ever advances the step index or appends results.
type Engine struct {
	hw     hardware.Interface
	safety *safety.Engine
	timing config.Timing

	mu            sync.Mutex
	observer      Observer
	recorder      RunRecorder
	steps         []program.Step
	programNumber int
	programName   string

	runID         string
	running       bool
	paused        bool
	stopRequested bool
	inTransition  bool
	safetyWaiting bool
	context       string
	currentDesc   string

	index     int
	results   []StepResult
	startTime time.Time
	endTime   time.Time

	stopCh      chan struct{}
	execDone    chan struct{}
	monitorCh   chan struct{}
	monitorOnce *sync.Once
	monDone     chan struct{}
}

// New creates an engine over the hardware and rule engine. No steps
// are loaded; Start fails until LoadSteps or LoadProgram is called.
func New(hw hardware.Interface, rules *safety.Engine, timing config.Timing) *Engine {
	return &Engine{
		hw:     hw,
		safety: rules,
		timing: timing,
		stopCh: make(chan struct{}),
	}
}

// SetObserver attaches the run observer. Replaces any previous one.
func (e *Engine) SetObserver(fn Observer) {
	e.mu.Lock()
	e.observer = fn
	e.mu.Unlock()
}

// SetRunRecorder attaches the run history sink.
func (e *Engine) SetRunRecorder(r RunRecorder) {
	e.mu.Lock()
	e.recorder = r
	e.mu.Unlock()
}

// LoadSteps replaces the step sequence and resets progress. Fails
// while a run is active.
func (e *Engine) LoadSteps(steps []program.Step) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return errors.New("cannot load steps while execution is running")
	}
	e.steps = steps
	e.programNumber = 0
	e.programName = ""
	e.resetProgressLocked()
	log.Printf("executor: loaded %d steps", len(steps))
	return nil
}

// LoadProgram generates the step sequence for a program and loads it,
// keeping the program identity for run records.
func (e *Engine) LoadProgram(p *program.Program, off program.Offsets) error {
	steps := program.GenerateSteps(p, off)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return errors.New("cannot load steps while execution is running")
	}
	e.steps = steps
	e.programNumber = p.ProgramNumber
	e.programName = p.ProgramName
	e.resetProgressLocked()
	log.Printf("executor: loaded program %d (%s), %d steps", p.ProgramNumber, p.ProgramName, len(steps))
	return nil
}

func (e *Engine) resetProgressLocked() {
	e.index = 0
	e.results = nil
	e.startTime = time.Time{}
	e.endTime = time.Time{}
	e.paused = false
}

// Start begins a run: both workers are spawned and a started event is
// emitted. Fails if a run is already active or no steps are loaded.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("execution already running")
	}
	if len(e.steps) == 0 {
		e.mu.Unlock()
		return errors.New("no steps loaded")
	}

	e.running = true
	e.paused = false
	e.stopRequested = false
	e.inTransition = false
	e.safetyWaiting = false
	e.context = ""
	e.currentDesc = ""
	e.index = 0
	e.results = nil
	e.startTime = time.Now()
	e.endTime = time.Time{}
	e.runID = uuid.NewString()

	e.stopCh = make(chan struct{})
	e.execDone = make(chan struct{})
	e.monitorCh = make(chan struct{})
	e.monitorOnce = new(sync.Once)
	e.monDone = make(chan struct{})

	stopCh, execDone := e.stopCh, e.execDone
	monitorCh, monDone := e.monitorCh, e.monDone
	runID := e.runID
	rec := e.recorder
	progNum, progName := e.programNumber, e.programName
	total := len(e.steps)
	started := e.startTime
	e.mu.Unlock()

	if rec != nil {
		if err := rec.StartRun(runID, progNum, progName, total, started); err != nil {
			log.Printf("executor: start run record: %v", err)
		}
	}

	log.Printf("executor: run %s started, %d steps", runID, total)
	e.emit("info", events.Started, map[string]interface{}{
		"total_steps": total,
	})

	go e.executionLoop(stopCh, execDone)
	go e.monitorLoop(monitorCh, monDone)
	return nil
}

// Pause suspends the run before its next step. Fails when not running
// or already paused.
func (e *Engine) Pause() error {
	e.mu.Lock()
	if !e.running || e.paused {
		e.mu.Unlock()
		return errors.New("cannot pause: not running or already paused")
	}
	e.paused = true
	e.mu.Unlock()

	e.emit("info", events.Paused, nil)
	return nil
}

// Resume clears a pause. Stale sensor triggers accumulated while
// paused are flushed first so they cannot be mistaken for fresh edges.
func (e *Engine) Resume() error {
	e.mu.Lock()
	if !e.running || !e.paused {
		e.mu.Unlock()
		return errors.New("cannot resume: not running or not paused")
	}
	e.mu.Unlock()

	e.hw.FlushSensorBuffers()

	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()

	e.emit("info", events.Resumed, nil)
	return nil
}

// Stop signals both workers to terminate, releases any blocking
// sensor wait, and joins the workers with bounded timeouts. A worker
// that fails to join is logged and abandoned, never blocked on
// forever. The stopped event itself is emitted by the execution loop
// as it exits.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return errors.New("execution not running")
	}
	execDone, monDone := e.execDone, e.monDone
	e.mu.Unlock()

	e.requestStop()
	e.hw.SignalAllSensorEvents()
	e.stopMonitor()

	if !waitDone(execDone, e.timing.JoinTimeoutExecution.Std()) {
		log.Printf("executor: execution worker did not stop within %v, abandoning it", e.timing.JoinTimeoutExecution.Std())
	}
	if !waitDone(monDone, e.timing.JoinTimeoutMonitor.Std()) {
		log.Printf("executor: safety monitor did not stop within %v, abandoning it", e.timing.JoinTimeoutMonitor.Std())
	}

	e.mu.Lock()
	e.running = false
	e.paused = false
	e.mu.Unlock()
	return nil
}

// Reset returns a finished run to the beginning: step index, results
// and times are cleared. Fails while running.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return errors.New("cannot reset while running, stop execution first")
	}
	e.resetProgressLocked()
	e.context = ""
	e.runID = ""
	return nil
}

// StepForward advances the step index by one. Manual navigation is
// allowed only while not running, or while paused.
func (e *Engine) StepForward() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running && !e.paused {
		return errors.New("cannot navigate manually while execution is running")
	}
	if e.index >= len(e.steps)-1 {
		return errors.New("already at last step")
	}
	e.index++
	return nil
}

// StepBackward moves the step index back by one under the same rules
// as StepForward.
func (e *Engine) StepBackward() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running && !e.paused {
		return errors.New("cannot navigate manually while execution is running")
	}
	if e.index <= 0 {
		return errors.New("already at first step")
	}
	e.index--
	return nil
}

// GoToStep jumps to the given step index under the same rules as
// StepForward.
func (e *Engine) GoToStep(index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running && !e.paused {
		return errors.New("cannot navigate manually while execution is running")
	}
	if index < 0 || index >= len(e.steps) {
		return fmt.Errorf("invalid step index %d, valid range 0-%d", index, len(e.steps)-1)
	}
	e.index = index
	return nil
}

// ExecuteCurrentStep runs the step at the current index once, outside
// a run. The step gets the same pre-step safety check as automatic
// execution, but refusal is immediate: an operator stepping through a
// program by hand wants an answer, not a thirty second wait. The step
// index is not advanced.
func (e *Engine) ExecuteCurrentStep() (*Result, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, errors.New("cannot execute manually while automatic execution is running")
	}
	if e.index >= len(e.steps) {
		e.mu.Unlock()
		return nil, errors.New("no more steps to execute")
	}
	idx := e.index
	step := e.steps[idx]
	e.mu.Unlock()

	if v := e.safety.IsBlocked(step, safety.IsSetupMotion(step.Description)); v != nil {
		e.safety.LogViolation(v)
		e.emit("warning", events.SafetyViolation, map[string]interface{}{
			"step":              step.Description,
			"violation_message": v.Message,
			"safety_code":       v.Code,
			"reason":            v.Reason,
		})
		res := refusedResult(v)
		return &res, nil
	}

	res := e.dispatch(step)
	e.mu.Lock()
	e.results = append(e.results, StepResult{
		StepIndex: idx,
		Step:      step,
		Result:    res,
		Timestamp: time.Now(),
	})
	e.mu.Unlock()
	return &res, nil
}

// Running reports whether a run is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Paused reports the pause flag. Also serves the hardware wait
// control: triggers arriving while paused are discarded.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Stopped returns the current run's stop signal, satisfying
// hardware.WaitControl.
func (e *Engine) Stopped() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopCh
}

// OperationType is the run's current operation context: "lines",
// "rows", or empty before the first classifiable step.
func (e *Engine) OperationType() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.context
}

// InTransition reports whether the lines to rows switch is in
// progress. Safety checks are suspended for its duration.
func (e *Engine) InTransition() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inTransition
}

// RunID identifies the current or most recent run.
func (e *Engine) RunID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runID
}

// CurrentStepDescription is the description of the step the run is
// currently on, or empty past the end.
func (e *Engine) CurrentStepDescription() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.index < len(e.steps) {
		return e.steps[e.index].Description
	}
	return ""
}

func (e *Engine) setPaused(v bool) {
	e.mu.Lock()
	e.paused = v
	e.mu.Unlock()
}

func (e *Engine) setContext(ctx string) {
	e.mu.Lock()
	e.context = ctx
	e.mu.Unlock()
}

func (e *Engine) setInTransition(v bool) {
	e.mu.Lock()
	e.inTransition = v
	e.mu.Unlock()
}

func (e *Engine) setSafetyWaiting(v bool) {
	e.mu.Lock()
	e.safetyWaiting = v
	e.mu.Unlock()
}

func (e *Engine) safetyWaitingNow() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.safetyWaiting
}

func (e *Engine) stopNow() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopRequested
}

// requestStop closes the run's stop channel exactly once.
func (e *Engine) requestStop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.stopRequested {
		e.stopRequested = true
		close(e.stopCh)
	}
}

// stopMonitor signals the monitor loop to exit, exactly once per run.
func (e *Engine) stopMonitor() {
	e.mu.Lock()
	once, ch := e.monitorOnce, e.monitorCh
	e.mu.Unlock()
	if once == nil {
		return
	}
	once.Do(func() { close(ch) })
}

// emit sends the event to the events bus and to the attached
// observer, tagging it with the run id.
func (e *Engine) emit(level, kind string, fields map[string]interface{}) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	e.mu.Lock()
	if e.runID != "" {
		fields["run_id"] = e.runID
	}
	obs := e.observer
	e.mu.Unlock()

	if _, err := events.Emit(level, kind, "", fields); err != nil {
		log.Printf("executor: emit %s: %v", kind, err)
	}
	if obs != nil {
		obs(kind, fields)
	}
}

func (e *Engine) finishRun(outcome string) {
	e.mu.Lock()
	rec := e.recorder
	runID := e.runID
	completed := len(e.results)
	ended := e.endTime
	e.mu.Unlock()

	if rec == nil || runID == "" {
		return
	}
	if ended.IsZero() {
		ended = time.Now()
	}
	if err := rec.FinishRun(runID, outcome, completed, ended); err != nil {
		log.Printf("executor: finish run record: %v", err)
	}
}

func waitDone(done <-chan struct{}, timeout time.Duration) bool {
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
