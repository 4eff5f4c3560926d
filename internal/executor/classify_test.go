package executor

import (
	"testing"

	"github.com/AaronLay10/ScratchDesk/internal/program"
	"github.com/AaronLay10/ScratchDesk/internal/safety"
)

func TestDetectContext(t *testing.T) {
	cases := []struct {
		name string
		op   string
		desc string
		prev string
		want string
	}{
		{"move_y classifies lines", program.OpMoveY, "Move lines motor to 10cm", "", safety.ContextLines},
		{"move_y with bare description", program.OpMoveY, "", "", safety.ContextLines},
		{"move_x classifies rows", program.OpMoveX, "Move motor to 10cm", safety.ContextLines, safety.ContextRows},
		{"line keyword", program.OpToolAction, "Lower line marker", "", safety.ContextLines},
		{"lines keyword", program.OpWaitSensor, "Feed lines paper", "", safety.ContextLines},
		{"case insensitive", program.OpToolAction, "LOWER LINE MARKER", "", safety.ContextLines},
		{"row_ keyword", program.OpToolAction, "Raise row_cutter", safety.ContextLines, safety.ContextRows},
		{"move_x keyword in description", program.OpToolAction, "Prepare move_x ramp", "", safety.ContextRows},
		{"y_ keyword", program.OpToolAction, "Calibrate y_axis limit", "", safety.ContextLines},
		{"ambiguous keeps previous", program.OpWaitSensor, "Wait for paper feed", safety.ContextRows, safety.ContextRows},
		{"ambiguous with no previous", program.OpProgramStart, "=== Starting Program 3 ===", "", ""},

		// The lines test wins over the rows test, so a move_y step
		// whose description vetoes lines falls through to the previous
		// context instead of being reconsidered as rows.
		{"rows veto on a lines step", program.OpMoveY, "Position for rows section", safety.ContextLines, safety.ContextLines},
		{"line veto on a rows step", program.OpMoveX, "Align with linear guide", safety.ContextLines, safety.ContextLines},
	}

	for _, tc := range cases {
		step := program.Step{Operation: tc.op, Description: tc.desc}
		if got := detectContext(step, tc.prev); got != tc.want {
			t.Errorf("%s: detectContext(%s, %q, prev %q) = %q, want %q",
				tc.name, tc.op, tc.desc, tc.prev, got, tc.want)
		}
	}
}

func TestContextIsStickyAcrossSteps(t *testing.T) {
	steps := []program.Step{
		{Operation: program.OpProgramStart, Description: "=== Starting Program 5 ==="},
		{Operation: program.OpMoveY, Description: "Move lines motor to 10cm"},
		{Operation: program.OpWaitSensor, Description: "Wait for paper feed"},
		{Operation: program.OpToolAction, Description: "Raise tool"},
		{Operation: program.OpMoveX, Description: "Move rows motor to 20cm"},
		{Operation: program.OpWaitSensor, Description: "Wait for paper feed"},
	}
	want := []string{"", safety.ContextLines, safety.ContextLines, safety.ContextLines, safety.ContextRows, safety.ContextRows}

	ctx := ""
	for i, s := range steps {
		ctx = detectContext(s, ctx)
		if ctx != want[i] {
			t.Errorf("step %d (%s): context %q, want %q", i, s.Description, ctx, want[i])
		}
	}
}
