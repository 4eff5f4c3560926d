package executor

import (
	"errors"
	"testing"

	"github.com/AaronLay10/ScratchDesk/internal/events"
	"github.com/AaronLay10/ScratchDesk/internal/hardware"
	"github.com/AaronLay10/ScratchDesk/internal/program"
	"github.com/AaronLay10/ScratchDesk/internal/safety"
)

// failingHardware returns an error for one poisoned Y target.
type failingHardware struct {
	*hardware.Simulator
	failY float64
}

func (f *failingHardware) MoveY(pos float64) error {
	if pos == f.failY {
		return errors.New("y axis stalled")
	}
	return f.Simulator.MoveY(pos)
}

// panickyHardware panics for one poisoned Y target, standing in for a
// driver bug escaping through the dispatch path.
type panickyHardware struct {
	*hardware.Simulator
	panicY float64
}

func (p *panickyHardware) MoveY(pos float64) error {
	if pos == p.panicY {
		panic("y axis driver fault")
	}
	return p.Simulator.MoveY(pos)
}

func TestRunCompletesInOrder(t *testing.T) {
	eng, sim, obs := newSimEngine(t, permissiveRules)
	rec := &fakeRecorder{}
	eng.SetRunRecorder(rec)

	mustLoad(t, eng,
		rawStep(program.OpProgramStart, map[string]interface{}{"program_number": 3}, "=== Starting Program 3: demo ==="),
		moveYStep(10, "Move lines motor to 10cm"),
		toolStep("line_marker", "down", "Lower line marker"),
		toolStep("line_marker", "up", "Raise line marker"),
		rawStep(program.OpProgramComplete, map[string]interface{}{"program_number": 3}, "=== Program 3 completed ==="),
	)
	mustStart(t, eng)
	waitUntil(t, "run to finish", func() bool { return rec.hasFinish() })

	// Every step produces the same three events, bracketed by the run
	// lifecycle pair.
	want := []string{events.Started}
	for i := 0; i < 5; i++ {
		want = append(want, events.StepExecuting, events.StepCompleted, events.Executing)
	}
	want = append(want, events.Completed)

	kinds := obs.kinds()
	if len(kinds) != len(want) {
		t.Fatalf("expected %d events, got %d: %v", len(want), len(kinds), kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event %d = %s, want %s (full order: %v)", i, kinds[i], want[i], kinds)
		}
	}

	fields, _ := obs.first(events.Started)
	if fields["total_steps"].(int) != 5 {
		t.Errorf("expected total_steps 5 in started event, got %v", fields["total_steps"])
	}
	if id, _ := fields["run_id"].(string); id == "" {
		t.Error("expected a run_id on emitted events")
	}

	fields, _ = obs.first(events.StepExecuting)
	if fields["step_index"].(int) != 0 || fields["description"].(string) != "=== Starting Program 3: demo ===" {
		t.Errorf("unexpected first step_executing payload: %v", fields)
	}

	// Progress counts completed steps, so the first report is 1 of 5.
	fields, _ = obs.first(events.Executing)
	if fields["step_index"].(int) != 1 {
		t.Errorf("expected first executing step_index 1, got %v", fields["step_index"])
	}
	if got := fields["progress"].(float64); got != 20 {
		t.Errorf("expected first progress 20, got %v", got)
	}
	fields, _ = obs.last(events.Executing)
	if got := fields["progress"].(float64); got != 100 {
		t.Errorf("expected final progress 100, got %v", got)
	}

	results := eng.Results()
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	for i, r := range results {
		if r.StepIndex != i {
			t.Errorf("result %d has step index %d", i, r.StepIndex)
		}
		if !r.Result.Success {
			t.Errorf("result %d failed: %+v", i, r.Result)
		}
		if r.Timestamp.IsZero() {
			t.Errorf("result %d has no timestamp", i)
		}
	}
	if got := results[1].Result.Payload["position"].(float64); got != 10 {
		t.Errorf("expected move payload position 10, got %v", got)
	}

	st := eng.Status()
	if st.IsRunning || st.IsPaused {
		t.Errorf("expected idle status, got %+v", st)
	}
	if st.CurrentStep != 5 || st.StepsCompleted != 5 || st.Progress != 100 {
		t.Errorf("unexpected final progress: %+v", st)
	}
	if st.OperationType != safety.ContextLines {
		t.Errorf("expected lines context, got %q", st.OperationType)
	}
	if st.CurrentStepDescription != "" {
		t.Errorf("expected no current step past the end, got %q", st.CurrentStepDescription)
	}
	if st.StartTime == nil {
		t.Error("expected a start time after the run")
	}

	sum := eng.Summary()
	if sum == nil {
		t.Fatal("expected a summary after the run")
	}
	if sum.TotalSteps != 5 || sum.CompletedSteps != 5 || sum.SuccessfulSteps != 5 || sum.FailedSteps != 0 {
		t.Errorf("unexpected summary: %+v", sum)
	}
	if sum.ExecutionTime <= 0 || sum.AverageStepTime <= 0 {
		t.Errorf("expected nonzero run timing, got %+v", sum)
	}

	if got := sim.CurrentY(); got != 10 {
		t.Errorf("expected Y position 10, got %v", got)
	}
	if got := sim.ToolState("line_marker"); got != hardware.StateUp {
		t.Errorf("expected line marker back up, got %s", got)
	}

	start, finish := rec.lastStart(t), rec.lastFinish(t)
	if start.stepsTotal != 5 {
		t.Errorf("expected 5 steps in run record, got %d", start.stepsTotal)
	}
	if finish.runID != start.runID {
		t.Errorf("run record ids differ: %q vs %q", start.runID, finish.runID)
	}
	if finish.outcome != "completed" || finish.completed != 5 {
		t.Errorf("expected completed/5 run record, got %+v", finish)
	}
}

func TestHardwareFailureDoesNotStopRun(t *testing.T) {
	sim := hardware.NewSimulator(120, 80)
	hw := &failingHardware{Simulator: sim, failY: 13}
	eng, obs := newEngine(t, hw, permissiveRules, testTiming())
	rec := &fakeRecorder{}
	eng.SetRunRecorder(rec)

	mustLoad(t, eng,
		moveYStep(5, "Move lines motor to 5cm"),
		moveYStep(13, "Move lines motor to 13cm"),
		moveYStep(20, "Move lines motor to 20cm"),
	)
	mustStart(t, eng)
	waitUntil(t, "run to finish", func() bool { return rec.hasFinish() })

	if !obs.seen(events.Completed) {
		t.Errorf("expected the run to complete, events: %v", obs.kinds())
	}
	if obs.seen(events.EmergencyStop) || obs.seen(events.Error) {
		t.Errorf("expected no emergency for a plain hardware failure, events: %v", obs.kinds())
	}

	results := eng.Results()
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Result.Success || !results[2].Result.Success {
		t.Errorf("expected surrounding steps to succeed: %+v", results)
	}
	failed := results[1].Result
	if failed.Success || failed.Error != "y axis stalled" {
		t.Errorf("expected the poisoned move to fail, got %+v", failed)
	}
	if failed.SafetyViolation {
		t.Error("a hardware failure must not be marked as a safety violation")
	}

	sum := eng.Summary()
	if sum.SuccessfulSteps != 2 || sum.FailedSteps != 1 {
		t.Errorf("unexpected summary: %+v", sum)
	}
	if got := sim.CurrentY(); got != 20 {
		t.Errorf("expected the run to continue to Y=20, got %v", got)
	}
	if finish := rec.lastFinish(t); finish.outcome != "completed" {
		t.Errorf("expected completed run record, got %+v", finish)
	}
}

func TestPanicEndsRunWithError(t *testing.T) {
	sim := hardware.NewSimulator(120, 80)
	hw := &panickyHardware{Simulator: sim, panicY: 99}
	eng, obs := newEngine(t, hw, permissiveRules, testTiming())
	rec := &fakeRecorder{}
	eng.SetRunRecorder(rec)

	mustLoad(t, eng,
		moveYStep(1, "Move lines motor to 1cm"),
		moveYStep(2, "Move lines motor to 2cm"),
		moveYStep(3, "Move lines motor to 3cm"),
		moveYStep(99, "Move lines motor to 99cm"),
		moveYStep(5, "Move lines motor to 5cm"),
	)
	mustStart(t, eng)
	waitUntil(t, "run to fail", func() bool { return rec.hasFinish() })

	fields, ok := obs.last(events.Error)
	if !ok {
		t.Fatalf("expected an error event, got %v", obs.kinds())
	}
	if got, _ := fields["error"].(string); got != "y axis driver fault" {
		t.Errorf("expected the panic value in the error event, got %q", got)
	}
	if obs.seen(events.Completed) || obs.seen(events.Stopped) {
		t.Errorf("expected neither completed nor stopped, events: %v", obs.kinds())
	}

	// The three steps before the fault stay recorded; the faulting step
	// does not.
	if got := len(eng.Results()); got != 3 {
		t.Errorf("expected 3 results, got %d", got)
	}
	st := eng.Status()
	if st.CurrentStep != 3 {
		t.Errorf("expected the index to stay at the faulting step, got %d", st.CurrentStep)
	}
	if st.IsRunning || st.IsPaused {
		t.Errorf("expected run flags cleared, got %+v", st)
	}

	if err := eng.Stop(); err == nil {
		t.Error("expected stop after a failed run to report not running")
	}
	if finish := rec.lastFinish(t); finish.outcome != "error" || finish.completed != 3 {
		t.Errorf("expected error/3 run record, got %+v", finish)
	}
}

func TestStopDuringSensorWait(t *testing.T) {
	eng, _, obs := newSimEngine(t, permissiveRules)
	rec := &fakeRecorder{}
	eng.SetRunRecorder(rec)

	mustLoad(t, eng,
		moveYStep(5, "Move lines motor to 5cm"),
		sensorStep(hardware.SensorYTop, "Wait for paper feed"),
		moveYStep(9, "Move lines motor to 9cm"),
	)
	mustStart(t, eng)
	waitUntil(t, "sensor wait to begin", func() bool { return obs.seen(events.WaitingSensor) })

	if err := eng.Stop(); err != nil {
		t.Fatalf("failed to stop run: %v", err)
	}

	if !obs.seen(events.Stopped) || obs.seen(events.Completed) {
		t.Errorf("expected a stopped run, events: %v", obs.kinds())
	}

	results := eng.Results()
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	interrupted := results[1].Result
	if interrupted.Success || interrupted.Error != "Execution stopped" {
		t.Errorf("expected the sensor wait to fail as stopped, got %+v", interrupted)
	}
	if interrupted.SafetyViolation {
		t.Error("an interrupted sensor wait is a plain failure, not a safety violation")
	}

	if got := eng.Status().CurrentStep; got != 2 {
		t.Errorf("expected index past the interrupted wait, got %d", got)
	}
	if finish := rec.lastFinish(t); finish.outcome != "stopped" || finish.completed != 2 {
		t.Errorf("expected stopped/2 run record, got %+v", finish)
	}
}

func TestSensorWaitCompletes(t *testing.T) {
	eng, sim, obs := newSimEngine(t, permissiveRules)
	mustLoad(t, eng, sensorStep(hardware.SensorXLeft, "Wait for paper feed"))
	mustStart(t, eng)

	waitUntil(t, "sensor wait to begin", func() bool { return obs.seen(events.WaitingSensor) })
	fields, _ := obs.first(events.WaitingSensor)
	if got, _ := fields["sensor"].(string); got != hardware.SensorXLeft {
		t.Errorf("expected waiting_sensor for %s, got %q", hardware.SensorXLeft, got)
	}

	feedSensor(t, sim, hardware.SensorXLeft, func() bool { return len(eng.Results()) >= 1 })
	waitUntil(t, "the run to complete", func() bool { return obs.seen(events.Completed) })

	results := eng.Results()
	if len(results) != 1 || !results[0].Result.Success {
		t.Fatalf("expected one successful result, got %+v", results)
	}
	if got := results[0].Result.Payload["sensor"].(string); got != hardware.SensorXLeft {
		t.Errorf("expected sensor payload %s, got %q", hardware.SensorXLeft, got)
	}
}
