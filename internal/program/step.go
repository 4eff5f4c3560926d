// Package program holds the marking program model: the pattern
// geometry loaded from JSON program files, its validation rules, and
// the generator that expands a program into the flat step sequence the
// execution engine runs.
package program

// Step operation kinds as they appear in program files and run logs.
const (
	OpMoveX             = "move_x"
	OpMoveY             = "move_y"
	OpMovePosition      = "move_position"
	OpWaitSensor        = "wait_sensor"
	OpToolAction        = "tool_action"
	OpToolPositioning   = "tool_positioning"
	OpProgramStart      = "program_start"
	OpWorkflowSeparator = "workflow_separator"
	OpProgramComplete   = "program_complete"
)

// Step is a single executable instruction. Steps are immutable once
// generated; the engine never rewrites a step in place.
type Step struct {
	Operation   string                 `json:"operation"`
	Parameters  map[string]interface{} `json:"parameters"`
	Description string                 `json:"description"`
}

// Float returns a numeric parameter. JSON numbers decode to float64;
// generated steps store float64 directly.
func (s Step) Float(key string) (float64, bool) {
	switch v := s.Parameters[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Text returns a string parameter.
func (s Step) Text(key string) (string, bool) {
	v, ok := s.Parameters[key].(string)
	return v, ok
}

func newStep(op string, params map[string]interface{}, description string) Step {
	if params == nil {
		params = map[string]interface{}{}
	}
	return Step{Operation: op, Parameters: params, Description: description}
}
