package executor

import "time"

// Status is a point-in-time snapshot of the run.
type Status struct {
	IsRunning              bool       `json:"is_running"`
	IsPaused               bool       `json:"is_paused"`
	InTransition           bool       `json:"in_transition"`
	CurrentStep            int        `json:"current_step"`
	TotalSteps             int        `json:"total_steps"`
	Progress               float64    `json:"progress"`
	StartTime              *time.Time `json:"start_time,omitempty"`
	ElapsedTime            float64    `json:"elapsed_time"`
	StepsCompleted         int        `json:"steps_completed"`
	CurrentStepDescription string     `json:"current_step_description,omitempty"`
	OperationType          string     `json:"operation_type,omitempty"`
	RunID                  string     `json:"run_id,omitempty"`
}

// Summary totals a finished run.
type Summary struct {
	TotalSteps      int     `json:"total_steps"`
	CompletedSteps  int     `json:"completed_steps"`
	SuccessfulSteps int     `json:"successful_steps"`
	FailedSteps     int     `json:"failed_steps"`
	ExecutionTime   float64 `json:"execution_time"`
	AverageStepTime float64 `json:"average_step_time"`
}

// Status reports the current run state. Progress is the fraction of
// steps completed, as a percentage.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		IsRunning:      e.running,
		IsPaused:       e.paused,
		InTransition:   e.inTransition,
		CurrentStep:    e.index,
		TotalSteps:     len(e.steps),
		StepsCompleted: len(e.results),
		OperationType:  e.context,
		RunID:          e.runID,
	}
	if len(e.steps) > 0 {
		st.Progress = float64(e.index) / float64(len(e.steps)) * 100
	}
	if !e.startTime.IsZero() {
		t := e.startTime
		st.StartTime = &t
		st.ElapsedTime = time.Since(e.startTime).Seconds()
	}
	if e.index < len(e.steps) {
		st.CurrentStepDescription = e.steps[e.index].Description
	}
	return st
}

// Results returns a copy of the step results recorded so far, in step
// order.
func (e *Engine) Results() []StepResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]StepResult, len(e.results))
	copy(out, e.results)
	return out
}

// Summary totals the run's results, or nil if nothing has executed.
func (e *Engine) Summary() *Summary {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.results) == 0 {
		return nil
	}

	successful := 0
	for _, r := range e.results {
		if r.Result.Success {
			successful++
		}
	}

	var total float64
	if !e.startTime.IsZero() && !e.endTime.IsZero() {
		total = e.endTime.Sub(e.startTime).Seconds()
	}

	return &Summary{
		TotalSteps:      len(e.steps),
		CompletedSteps:  len(e.results),
		SuccessfulSteps: successful,
		FailedSteps:     len(e.results) - successful,
		ExecutionTime:   total,
		AverageStepTime: total / float64(len(e.results)),
	}
}
