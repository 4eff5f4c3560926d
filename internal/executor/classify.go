package executor

import (
	"strings"

	"github.com/AaronLay10/ScratchDesk/internal/program"
	"github.com/AaronLay10/ScratchDesk/internal/safety"
)

var (
	linesKeywords = []string{"lines", "line_", "line ", "move_y", "y_"}
	rowsKeywords  = []string{"rows", "row_", "move_x", "x_"}
)

// detectContext classifies a step as a lines or rows operation from
// its operation kind and a keyword scan of its description. The
// description veto wins over the operation field: a move_y step whose
// description talks about rows is not a lines step. Ambiguous steps
// keep the previous classification, so the context is sticky and
// never resets mid-run.
func detectContext(step program.Step, previous string) string {
	desc := strings.ToLower(step.Description)

	switch {
	case step.Operation == program.OpMoveY || containsAny(desc, linesKeywords):
		if !strings.Contains(desc, "rows") {
			return safety.ContextLines
		}
	case step.Operation == program.OpMoveX || containsAny(desc, rowsKeywords):
		if !strings.Contains(desc, "line") {
			return safety.ContextRows
		}
	}
	return previous
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
