package safety

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/AaronLay10/ScratchDesk/internal/hardware"
)

// Condition leaf types, naming the snapshot bucket the source resolves
// against.
const (
	TypePiston   = "piston"
	TypeSensor   = "sensor"
	TypePosition = "position"
)

// Condition leaf operators.
const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
)

// Condition group operators.
const (
	GroupAnd = "AND"
	GroupOr  = "OR"
)

// ConditionNode is one node of a rule's condition tree: either a leaf
// check against a single snapshot value, or a group combining child
// nodes with AND/OR. The JSON shape distinguishes the two
// structurally: a node carrying "items" is a group.
type ConditionNode struct {
	// Leaf fields.
	Type     string      `json:"type,omitempty"`
	Source   string      `json:"source,omitempty"`
	Operator string      `json:"operator,omitempty"`
	Value    interface{} `json:"value,omitempty"`

	// Group fields. Operator is reused as AND/OR.
	Items []ConditionNode `json:"items,omitempty"`
}

func (n *ConditionNode) isGroup() bool { return n.Items != nil }

// Validate rejects malformed nodes at load time so rule mistakes fail
// fast instead of silently evaluating to false during a run.
func (n *ConditionNode) Validate() error {
	if n.isGroup() {
		if n.Operator != GroupAnd && n.Operator != GroupOr {
			return fmt.Errorf("unknown group operator %q", n.Operator)
		}
		for i := range n.Items {
			if err := n.Items[i].Validate(); err != nil {
				return err
			}
		}
		return nil
	}

	switch n.Type {
	case TypePiston, TypeSensor, TypePosition:
	default:
		return fmt.Errorf("unknown condition type %q", n.Type)
	}
	if n.Source == "" {
		return errors.New("condition missing source")
	}
	switch n.Operator {
	case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan:
	default:
		return fmt.Errorf("unknown condition operator %q", n.Operator)
	}
	if n.Value == nil {
		return errors.New("condition missing value")
	}
	return nil
}

// Evaluate reports whether the condition holds against the snapshot.
// Pure: the snapshot is read, never written. A nil node, an empty
// group, an unresolved source, or a failed numeric coercion under an
// ordering operator all evaluate false, so violation checks fail
// closed.
func Evaluate(n *ConditionNode, snap hardware.Snapshot) bool {
	if n == nil {
		return false
	}
	if n.isGroup() {
		if len(n.Items) == 0 {
			return false
		}
		switch n.Operator {
		case GroupAnd:
			for i := range n.Items {
				if !Evaluate(&n.Items[i], snap) {
					return false
				}
			}
			return true
		case GroupOr:
			for i := range n.Items {
				if Evaluate(&n.Items[i], snap) {
					return true
				}
			}
		}
		return false
	}
	return evalLeaf(n, snap)
}

func evalLeaf(n *ConditionNode, snap hardware.Snapshot) bool {
	actual, ok := resolveSource(n, snap)
	if !ok {
		return false
	}

	// Sensor leaves may test the symbolic polarity instead of a raw
	// value; the raw reading is normalized to "is active" first.
	if n.Type == TypeSensor {
		if want, symbolic := polarity(n.Value); symbolic {
			active := sensorActive(actual)
			switch n.Operator {
			case OpEquals:
				return active == want
			case OpNotEquals:
				return active != want
			}
			return false
		}
	}

	switch n.Operator {
	case OpEquals:
		return looseEqual(actual, n.Value)
	case OpNotEquals:
		return !looseEqual(actual, n.Value)
	case OpGreaterThan:
		a, aok := toFloat(actual)
		e, eok := toFloat(n.Value)
		return aok && eok && a > e
	case OpLessThan:
		a, aok := toFloat(actual)
		e, eok := toFloat(n.Value)
		return aok && eok && a < e
	}
	return false
}

func resolveSource(n *ConditionNode, snap hardware.Snapshot) (interface{}, bool) {
	switch n.Type {
	case TypePiston:
		v, ok := snap.Pistons[n.Source]
		return v, ok
	case TypeSensor:
		v, ok := snap.Sensors[n.Source]
		if !ok || v == nil {
			return nil, false
		}
		return v, true
	case TypePosition:
		switch n.Source {
		case "x_position":
			return snap.Positions.X, true
		case "y_position":
			return snap.Positions.Y, true
		}
	}
	return nil, false
}

// polarity recognizes the symbolic sensor values "active" and
// "not_active".
func polarity(v interface{}) (want, symbolic bool) {
	s, ok := v.(string)
	if !ok {
		return false, false
	}
	switch strings.ToLower(s) {
	case "active":
		return true, true
	case "not_active":
		return false, true
	}
	return false, false
}

// sensorActive normalizes a raw sensor reading to "is active":
// booleans pass through, the known truthy strings count as active, and
// anything numeric is active when nonzero.
func sensorActive(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(t) {
		case "true", "down", "closed", "active", "1":
			return true
		}
		return false
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	return false
}

// looseEqual compares numerically when the expected value is a JSON
// number and the actual value coerces, else as case-insensitive
// strings. Rule authors mix numeric and symbolic values; both must
// work.
func looseEqual(actual, expected interface{}) bool {
	if e, ok := jsonNumber(expected); ok {
		if a, aok := toFloat(actual); aok {
			return a == e
		}
	}
	return strings.EqualFold(stringify(actual), stringify(expected))
}

// jsonNumber reports a value that arrived as a number, not a numeric
// string.
func jsonNumber(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	}
	return 0, false
}

// toFloat coerces the way the rule grammar expects: numbers pass,
// numeric strings parse, booleans count as 0/1.
func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int:
		return strconv.Itoa(t)
	}
	return fmt.Sprintf("%v", v)
}
