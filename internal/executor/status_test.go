package executor

import (
	"testing"

	"github.com/AaronLay10/ScratchDesk/internal/events"
	"github.com/AaronLay10/ScratchDesk/internal/hardware"
)

func TestStatusBeforeAnyRun(t *testing.T) {
	eng, _, _ := newSimEngine(t, permissiveRules)

	st := eng.Status()
	if st.IsRunning || st.IsPaused || st.InTransition {
		t.Errorf("expected an idle status, got %+v", st)
	}
	if st.TotalSteps != 0 || st.Progress != 0 || st.StepsCompleted != 0 {
		t.Errorf("expected zero progress, got %+v", st)
	}
	if st.StartTime != nil {
		t.Error("expected no start time before a run")
	}
	if st.RunID != "" || st.OperationType != "" {
		t.Errorf("expected no run identity, got %+v", st)
	}

	if sum := eng.Summary(); sum != nil {
		t.Errorf("expected no summary without results, got %+v", sum)
	}
}

func TestResultsReturnsACopy(t *testing.T) {
	eng, _, _ := newSimEngine(t, permissiveRules)
	mustLoad(t, eng, moveYStep(5, "Move lines motor to 5cm"))
	mustStart(t, eng)
	waitUntil(t, "run to finish", func() bool { return !eng.Running() })

	results := eng.Results()
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	results[0].Result.Success = false

	if fresh := eng.Results(); !fresh[0].Result.Success {
		t.Error("mutating a returned result changed the engine's copy")
	}
}

func TestStatusWhilePaused(t *testing.T) {
	eng, _, obs := newSimEngine(t, permissiveRules)
	mustLoad(t, eng,
		sensorStep(hardware.SensorXLeft, "Wait for operator"),
		sensorStep(hardware.SensorXLeft, "Wait for operator again"),
	)
	mustStart(t, eng)
	waitUntil(t, "sensor wait to begin", func() bool { return obs.seen(events.WaitingSensor) })

	if err := eng.Pause(); err != nil {
		t.Fatalf("failed to pause: %v", err)
	}

	st := eng.Status()
	if !st.IsRunning || !st.IsPaused {
		t.Errorf("expected a paused running status, got %+v", st)
	}
	if st.TotalSteps != 2 || st.CurrentStep != 0 {
		t.Errorf("expected the run parked on step 0 of 2, got %+v", st)
	}
	if st.CurrentStepDescription != "Wait for operator" {
		t.Errorf("expected the parked step description, got %q", st.CurrentStepDescription)
	}
	if st.StartTime == nil || st.ElapsedTime < 0 {
		t.Errorf("expected run timing, got %+v", st)
	}
	if st.RunID == "" {
		t.Error("expected a run id while running")
	}

	if err := eng.Stop(); err != nil {
		t.Fatalf("failed to stop run: %v", err)
	}
}
