// Package safety is the rule engine deciding whether a step may
// execute right now and whether a running operation must pause. Rules
// are declarative JSON loaded through a FileStore and evaluated
// against a hardware snapshot rebuilt fresh for every check.
package safety

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/AaronLay10/ScratchDesk/internal/hardware"
	"github.com/AaronLay10/ScratchDesk/internal/program"
)

// StateSource produces the hardware snapshot conditions are evaluated
// against. Satisfied by any hardware.Interface.
type StateSource interface {
	State() hardware.Snapshot
}

// Violation names the rule that blocked a step or tripped a monitor
// check. Code is the rule id; it travels into observer events and the
// violations log as the safety code. Reason carries the rule's
// category tag (operational, collision, mechanical) for clients that
// style alerts by kind.
type Violation struct {
	Code     string `json:"safety_code"`
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	Reason   string `json:"reason,omitempty"`
	Message  string `json:"message"`
}

// LogEntry is one record in the violations log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Code      string    `json:"safety_code"`
	Message   string    `json:"message"`
}

// violationsKept bounds the violations log.
const violationsKept = 100

// Engine evaluates the rule set against live hardware state. It holds
// no hardware state of its own; every check starts from a fresh
// snapshot. The engine-level enabled switch is independent of the
// document's global_enabled flag: either one being off disables all
// checks.
type Engine struct {
	store *FileStore
	src   StateSource

	mu         sync.Mutex
	enabled    bool
	violations []LogEntry
}

// New creates an engine over the store and state source. The rules
// file is loaded immediately so a malformed document fails here, not
// in the middle of a run.
func New(store *FileStore, src StateSource) (*Engine, error) {
	if _, err := store.Document(); err != nil {
		return nil, err
	}
	return &Engine{store: store, src: src, enabled: true}, nil
}

// Enable turns safety checking on.
func (e *Engine) Enable() {
	e.mu.Lock()
	e.enabled = true
	e.mu.Unlock()
}

// Disable turns safety checking off. Every check passes until Enable.
func (e *Engine) Disable() {
	e.mu.Lock()
	e.enabled = false
	e.mu.Unlock()
}

// Enabled reports the engine-level switch.
func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// ReloadRules forces the next check to re-read the rules file.
func (e *Engine) ReloadRules() {
	e.store.ForceReload()
}

// Document returns the current rule document, reloading the file if it
// changed. Exposed for the admin rules view.
func (e *Engine) Document() (*Document, error) {
	return e.store.Document()
}

// IsBlocked rebuilds the hardware snapshot once and walks the rules in
// priority order. The first enabled rule whose conditions hold and
// whose blocked operations match the step wins; nil means the step is
// safe. isSetup marks setup motions, which specs with exclude_setup
// let through.
func (e *Engine) IsBlocked(step program.Step, isSetup bool) *Violation {
	if !e.Enabled() {
		return nil
	}
	doc, err := e.store.Document()
	if err != nil {
		// No rules have ever loaded. Refusing the step is the only
		// safe answer.
		return &Violation{
			Code:     "rules_unavailable",
			Rule:     "rules_unavailable",
			Severity: "critical",
			Message:  fmt.Sprintf("SAFETY VIOLATION: safety rules unavailable: %v", err),
		}
	}
	if !doc.GlobalEnabled {
		return nil
	}

	snap := e.src.State()
	signs := movementSigns(step, snap)

	tool := ""
	if step.Operation == program.OpToolAction {
		tool, _ = step.Text("tool")
	}

	for i := range doc.Rules {
		rule := &doc.Rules[i]
		if !rule.Enabled {
			continue
		}
		if !Evaluate(rule.Conditions, snap) {
			continue
		}
		if !ruleBlocks(doc, rule, step.Operation, tool, signs, isSetup) {
			continue
		}
		return NewViolation(rule, step.Operation)
	}
	return nil
}

// ViolatedMonitorRules returns every enabled monitor rule scoped to
// the given operation context whose violation conditions currently
// hold, in priority order. Used by the real-time monitor loop only.
func (e *Engine) ViolatedMonitorRules(ctx string) []*SafetyRule {
	return e.violatedMonitors(ctx, false)
}

// ViolatedMonitorOnlyRules is ViolatedMonitorRules narrowed to rules
// that block no operations of their own. The pre-step gate folds these
// in once the run's context is known, so a pure-monitor rule also
// holds back step starts.
func (e *Engine) ViolatedMonitorOnlyRules(ctx string) []*SafetyRule {
	return e.violatedMonitors(ctx, true)
}

func (e *Engine) violatedMonitors(ctx string, monitorOnly bool) []*SafetyRule {
	if !e.Enabled() {
		return nil
	}
	doc, err := e.store.Document()
	if err != nil || !doc.GlobalEnabled {
		return nil
	}

	snap := e.src.State()
	var out []*SafetyRule
	for i := range doc.Rules {
		rule := &doc.Rules[i]
		if !rule.Enabled || rule.Monitor == nil || !rule.Monitor.Enabled {
			continue
		}
		if monitorOnly && len(rule.BlockedOperations) > 0 {
			continue
		}
		if !containsString(rule.Monitor.OperationContext, ctx) {
			continue
		}
		if Evaluate(rule.Conditions, snap) {
			out = append(out, rule)
		}
	}
	return out
}

// RecoveryMet evaluates the rule's recovery conditions against a fresh
// snapshot. A rule with no monitor or no recovery conditions never
// recovers automatically.
func (e *Engine) RecoveryMet(rule *SafetyRule) bool {
	if rule == nil || rule.Monitor == nil || rule.Monitor.RecoveryConditions == nil {
		return false
	}
	return Evaluate(rule.Monitor.RecoveryConditions, e.src.State())
}

// RecoveryStatus takes one fresh snapshot and reports the monitor
// rules for the context whose violation conditions still hold, and
// whether every one of them also satisfies its recovery conditions on
// that same snapshot. No rules still violated means (nil, true): the
// pause may clear.
func (e *Engine) RecoveryStatus(ctx string) ([]*SafetyRule, bool) {
	if !e.Enabled() {
		return nil, true
	}
	doc, err := e.store.Document()
	if err != nil || !doc.GlobalEnabled {
		return nil, true
	}

	snap := e.src.State()
	var violated []*SafetyRule
	recovered := true
	for i := range doc.Rules {
		rule := &doc.Rules[i]
		if !rule.Enabled || rule.Monitor == nil || !rule.Monitor.Enabled {
			continue
		}
		if !containsString(rule.Monitor.OperationContext, ctx) {
			continue
		}
		if !Evaluate(rule.Conditions, snap) {
			continue
		}
		violated = append(violated, rule)
		if rule.Monitor.RecoveryConditions == nil || !Evaluate(rule.Monitor.RecoveryConditions, snap) {
			recovered = false
		}
	}
	return violated, recovered
}

// LogViolation appends to the violations log, keeping the most recent
// entries. The engine never logs on its own: callers decide, so a
// wait-and-retry loop records one entry per episode, not per poll.
func (e *Engine) LogViolation(v *Violation) {
	if v == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.violations = append(e.violations, LogEntry{
		Timestamp: time.Now(),
		Code:      v.Code,
		Message:   v.Message,
	})
	if len(e.violations) > violationsKept {
		e.violations = e.violations[len(e.violations)-violationsKept:]
	}
}

// Violations returns a copy of the violations log, oldest first.
func (e *Engine) Violations() []LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]LogEntry, len(e.violations))
	copy(out, e.violations)
	return out
}

// ClearViolations empties the violations log.
func (e *Engine) ClearViolations() {
	e.mu.Lock()
	e.violations = nil
	e.mu.Unlock()
}

// Status summarizes the safety system for the control surface.
type Status struct {
	Enabled          bool `json:"enabled"`
	GlobalEnabled    bool `json:"global_enabled"`
	RulesCount       int  `json:"rules_count"`
	RecentViolations int  `json:"recent_violations"`
}

// Status reports the current switches, rule count and violation count.
func (e *Engine) Status() Status {
	st := Status{Enabled: e.Enabled()}
	if doc, err := e.store.Document(); err == nil {
		st.GlobalEnabled = doc.GlobalEnabled
		st.RulesCount = len(doc.Rules)
	}
	e.mu.Lock()
	st.RecentViolations = len(e.violations)
	e.mu.Unlock()
	return st
}

// NewViolation builds the Violation reported when a rule blocks the
// given operation, with the rule's message or a stock fallback.
func NewViolation(r *SafetyRule, operation string) *Violation {
	name := r.DisplayName()
	msg := r.Message
	if msg == "" {
		msg = fmt.Sprintf("Operation blocked by rule: %s", name)
	}
	return &Violation{
		Code:     r.ID,
		Rule:     name,
		Severity: r.Severity,
		Reason:   r.Reason,
		Message:  fmt.Sprintf("SAFETY VIOLATION: %s | operation: %s | %s", name, operation, msg),
	}
}

// ruleBlocks checks the rule's blocked operation specs against the
// step. Tool narrowing applies only when the spec lists tools and the
// step names one; direction narrowing resolves the symbolic direction
// through the document and requires a matching movement sign.
func ruleBlocks(doc *Document, rule *SafetyRule, operation, tool string, signs []float64, isSetup bool) bool {
	for _, block := range rule.BlockedOperations {
		if block.Operation != operation {
			continue
		}
		if isSetup && block.ExcludeSetup {
			continue
		}
		if operation == program.OpToolAction && len(block.Tools) > 0 && tool != "" {
			if !containsString(block.Tools, tool) {
				continue
			}
		}
		if block.Direction != "" && block.Direction != DirectionAll {
			sign, ok := doc.DirectionSign(block.Operation, block.Direction)
			if !ok || !signMatches(signs, sign) {
				continue
			}
		}
		return true
	}
	return false
}

// movementSigns computes the signs of the step's commanded axis
// motion. Absolute moves compare the target against the snapshot axis;
// offset moves take the offset signs directly. A step that does not
// move has no direction and is never matched by a direction-qualified
// spec.
func movementSigns(step program.Step, snap hardware.Snapshot) []float64 {
	var signs []float64
	add := func(delta float64) {
		if delta > 0 {
			signs = append(signs, 1)
		} else if delta < 0 {
			signs = append(signs, -1)
		}
	}

	switch step.Operation {
	case program.OpMoveX:
		if pos, ok := step.Float("position"); ok {
			add(pos - snap.Positions.X)
		}
	case program.OpMoveY:
		if pos, ok := step.Float("position"); ok {
			add(pos - snap.Positions.Y)
		}
	case program.OpMovePosition:
		if dx, ok := step.Float("x_offset"); ok {
			add(dx)
		}
		if dy, ok := step.Float("y_offset"); ok {
			add(dy)
		}
	}
	return signs
}

func signMatches(signs []float64, want float64) bool {
	for _, s := range signs {
		if (want > 0 && s > 0) || (want < 0 && s < 0) {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// setupIndicators mark positioning moves that prepare the motors for
// work, matched case-insensitively against step descriptions.
var setupIndicators = []string{
	"home position",
	"ensure",
	"move rows motor to home",
	"move lines motor to home",
	"complete:",
	"init:",
	"position for repeat",
}

// IsSetupMotion reports whether a step description marks a setup
// positioning move. Setup motions may bypass interlocks whose specs
// set exclude_setup, and are exempt from real-time monitoring.
func IsSetupMotion(description string) bool {
	d := strings.ToLower(description)
	for _, indicator := range setupIndicators {
		if strings.Contains(d, indicator) {
			return true
		}
	}
	return false
}
