package safety

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/AaronLay10/ScratchDesk/internal/program"
)

// Movement directions a BlockedOperationSpec may declare. The empty
// direction matches any movement; symbolic directions resolve through
// the document's available_directions mapping.
const (
	DirectionPositive = "positive"
	DirectionNegative = "negative"
	DirectionAll      = "all_directions"
)

// Operation contexts a monitor may scope itself to.
const (
	ContextLines = "lines"
	ContextRows  = "rows"
)

// DefaultPriority is assigned to rules that do not declare one. Lower
// numbers are evaluated first.
const DefaultPriority = 50

// BlockedOperationSpec matches the steps a rule blocks: by operation
// kind, optionally narrowed to specific tools (tool_action only) and a
// movement direction, and optionally bypassed for setup motions.
type BlockedOperationSpec struct {
	Operation    string   `json:"operation"`
	Tools        []string `json:"tools,omitempty"`
	Direction    string   `json:"direction,omitempty"`
	ExcludeSetup bool     `json:"exclude_setup,omitempty"`
}

// MonitorSpec marks a rule for continuous polling while the run is in
// one of the named operation contexts, instead of only pre-step.
type MonitorSpec struct {
	Enabled            bool           `json:"enabled"`
	OperationContext   []string       `json:"operation_context"`
	Action             string         `json:"action,omitempty"`
	RecoveryConditions *ConditionNode `json:"recovery_conditions,omitempty"`
	RecoveryAction     string         `json:"recovery_action,omitempty"`
}

// UnmarshalJSON defaults Enabled to true: a monitor block the author
// wrote is on unless explicitly disabled.
func (m *MonitorSpec) UnmarshalJSON(data []byte) error {
	type alias MonitorSpec
	tmp := alias{Enabled: true}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	*m = MonitorSpec(tmp)
	return nil
}

// SafetyRule is one declarative rule: when its conditions hold against
// the hardware snapshot, the operations its blocked_operations match
// are refused, and if a monitor block is present the rule is also
// polled in real time during matching contexts.
type SafetyRule struct {
	ID                string                 `json:"id"`
	Name              string                 `json:"name,omitempty"`
	Description       string                 `json:"description,omitempty"`
	Reason            string                 `json:"reason,omitempty"`
	Enabled           bool                   `json:"enabled"`
	Priority          int                    `json:"priority"`
	Severity          string                 `json:"severity,omitempty"`
	Conditions        *ConditionNode         `json:"conditions,omitempty"`
	BlockedOperations []BlockedOperationSpec `json:"blocked_operations,omitempty"`
	Monitor           *MonitorSpec           `json:"monitor,omitempty"`
	Message           string                 `json:"message,omitempty"`
	IsSystemRule      bool                   `json:"is_system_rule,omitempty"`
	CreatedAt         string                 `json:"created_at,omitempty"`
	CreatedBy         string                 `json:"created_by,omitempty"`
}

// UnmarshalJSON applies the authoring defaults: rules are enabled,
// critical, and priority 50 unless the file says otherwise.
func (r *SafetyRule) UnmarshalJSON(data []byte) error {
	type alias SafetyRule
	tmp := alias{Enabled: true, Priority: DefaultPriority, Severity: "critical"}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	*r = SafetyRule(tmp)
	return nil
}

// DisplayName is the rule's name, falling back to its id.
func (r *SafetyRule) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

// MonitorOnly reports a rule that participates in real-time monitoring
// but blocks no operations of its own.
func (r *SafetyRule) MonitorOnly() bool {
	return r.Monitor != nil && r.Monitor.Enabled && len(r.BlockedOperations) == 0
}

// Document is the on-disk rule store: the global kill switch, the rule
// set, and the vocabularies rules may reference.
type Document struct {
	Version             string                        `json:"version"`
	LastModified        string                        `json:"last_modified,omitempty"`
	GlobalEnabled       bool                          `json:"global_enabled"`
	Rules               []SafetyRule                  `json:"rules"`
	AvailableTools      []string                      `json:"available_tools,omitempty"`
	AvailableDirections map[string]map[string]float64 `json:"available_directions,omitempty"`
}

// UnmarshalJSON defaults the global switch to enabled.
func (d *Document) UnmarshalJSON(data []byte) error {
	type alias Document
	tmp := alias{GlobalEnabled: true}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	*d = Document(tmp)
	return nil
}

// DirectionSign resolves a symbolic direction for an operation kind to
// its movement sign.
func (d *Document) DirectionSign(operation, direction string) (float64, bool) {
	signs, ok := d.AvailableDirections[operation]
	if !ok {
		return 0, false
	}
	sign, ok := signs[direction]
	return sign, ok
}

// Validate rejects malformed documents at load time: unknown operators
// and types, directions with no sign mapping, duplicate ids. A rule
// that fails validation must never silently evaluate to false at run
// time.
func (d *Document) Validate() error {
	if d.Version == "" {
		return fmt.Errorf("missing version")
	}

	seen := make(map[string]bool, len(d.Rules))
	for i := range d.Rules {
		r := &d.Rules[i]
		if r.ID == "" {
			return fmt.Errorf("rule %d: missing id", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true
		if err := d.validateRule(r); err != nil {
			return fmt.Errorf("rule %q: %w", r.ID, err)
		}
	}
	return nil
}

func (d *Document) validateRule(r *SafetyRule) error {
	switch r.Severity {
	case "critical", "warning", "info":
	default:
		return fmt.Errorf("unknown severity %q", r.Severity)
	}

	if r.Conditions != nil {
		if err := r.Conditions.Validate(); err != nil {
			return fmt.Errorf("conditions: %w", err)
		}
	}

	for _, block := range r.BlockedOperations {
		if !validOperation(block.Operation) {
			return fmt.Errorf("unknown blocked operation %q", block.Operation)
		}
		if len(block.Tools) > 0 && block.Operation != program.OpToolAction {
			return fmt.Errorf("tools list is only valid for tool_action, not %q", block.Operation)
		}
		switch block.Direction {
		case "", DirectionAll:
		case DirectionPositive, DirectionNegative:
			if _, ok := d.DirectionSign(block.Operation, block.Direction); !ok {
				return fmt.Errorf("no available_directions sign for %s/%s", block.Operation, block.Direction)
			}
		default:
			return fmt.Errorf("unknown direction %q", block.Direction)
		}
	}

	if r.Monitor != nil {
		m := r.Monitor
		if m.Action != "" && m.Action != "emergency_pause" {
			return fmt.Errorf("unknown monitor action %q", m.Action)
		}
		if m.RecoveryAction != "" && m.RecoveryAction != "auto_resume" {
			return fmt.Errorf("unknown monitor recovery_action %q", m.RecoveryAction)
		}
		if len(m.OperationContext) == 0 {
			return fmt.Errorf("monitor needs at least one operation_context")
		}
		for _, ctx := range m.OperationContext {
			if ctx != ContextLines && ctx != ContextRows {
				return fmt.Errorf("unknown monitor operation_context %q", ctx)
			}
		}
		if m.RecoveryConditions != nil {
			if err := m.RecoveryConditions.Validate(); err != nil {
				return fmt.Errorf("recovery_conditions: %w", err)
			}
		}
	}

	return nil
}

func validOperation(op string) bool {
	switch op {
	case program.OpMoveX, program.OpMoveY, program.OpMovePosition,
		program.OpWaitSensor, program.OpToolAction, program.OpToolPositioning,
		program.OpProgramStart, program.OpWorkflowSeparator, program.OpProgramComplete:
		return true
	}
	return false
}

// LoadDocument loads and validates a rule document from a JSON file.
// Rules come back sorted by ascending priority, ties keeping file
// order, so evaluation can walk them front to back.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read safety rules file: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse safety rules JSON: %w", err)
	}

	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid safety rules: %w", err)
	}

	sort.SliceStable(doc.Rules, func(i, j int) bool {
		return doc.Rules[i].Priority < doc.Rules[j].Priority
	})

	return &doc, nil
}
