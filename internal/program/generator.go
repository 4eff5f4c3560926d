package program

import "fmt"

// Offsets anchor program coordinates on the desk. Program geometry is
// laid out relative to the paper origin, not the desk origin.
type Offsets struct {
	X float64
	Y float64
}

// GenerateSteps expands a program into the complete run sequence:
// a program_start marker, the lines workflow, the rows workflow, and a
// program_complete marker. Repeats are folded into the workflows, so
// the sequence covers the actual paper size in one pass per axis.
func GenerateSteps(p *Program, off Offsets) []Step {
	actualWidth := p.ActualWidth()
	actualHeight := p.ActualHeight()

	steps := []Step{newStep(OpProgramStart, map[string]interface{}{
		"program_number": p.ProgramNumber,
		"actual_width":   actualWidth,
		"actual_height":  actualHeight,
		"repeat_rows":    p.RepeatRows,
		"repeat_lines":   p.RepeatLines,
	}, fmt.Sprintf("=== Starting Program %d: %s (ACTUAL SIZE: %gx%gcm) ===",
		p.ProgramNumber, p.ProgramName, actualWidth, actualHeight))}

	steps = append(steps, GenerateLinesSteps(p, off)...)
	steps = append(steps, GenerateRowsSteps(p, off)...)

	steps = append(steps, newStep(OpProgramComplete, map[string]interface{}{
		"program_number": p.ProgramNumber,
		"total_repeats":  p.RepeatRows * p.RepeatLines,
		"actual_width":   actualWidth,
		"actual_height":  actualHeight,
	}, fmt.Sprintf("=== Program %d completed: %gx%gcm paper processed ===",
		p.ProgramNumber, actualWidth, actualHeight)))

	return steps
}

// GenerateLinesSteps expands the lines marking workflow. The lines
// motor (Y axis) does all the moving; the paper passes under the line
// tools left to right, so each mark is a wait on the left X edge
// sensor, tool down, wait on the right X edge sensor, tool up.
//
// Each repeated section keeps its own top/bottom paddings and line
// spacing, and sections are separated by a full-width cut. The
// workflow starts and ends with both motors at home.
func GenerateLinesSteps(p *Program, off Offsets) []Step {
	actualHeight := p.ActualHeight()
	topY := off.Y + actualHeight

	var steps []Step

	steps = append(steps,
		newStep(OpMoveX, map[string]interface{}{"position": 0.0},
			"Init: Move rows motor to home position (X=0)"),
		newStep(OpMoveY, map[string]interface{}{"position": 0.0},
			"Init: Move lines motor to home position (Y=0)"),
	)

	// The piston must be lifted before any upward Y travel.
	steps = append(steps,
		newStep(OpToolAction, map[string]interface{}{"tool": "line_motor_piston", "action": "up"},
			fmt.Sprintf("Lifting line motor piston UP (preparing for upward movement to %gcm)", topY)),
		newStep(OpMoveY, map[string]interface{}{"position": topY},
			fmt.Sprintf("Init: Move Y motor to %gcm (paper + %gcm ACTUAL high)", topY, actualHeight)),
		newStep(OpToolAction, map[string]interface{}{"tool": "line_motor_piston", "action": "down"},
			"Line motor piston DOWN (Y motor assembly lowered to default position)"),
	)

	steps = append(steps, lineCut("Cut top edge")...)

	totalLines := p.NumberOfLines * p.RepeatLines
	for section := 0; section < p.RepeatLines; section++ {
		sectionStartY := off.Y + float64(p.RepeatLines-section)*p.High
		sectionEndY := off.Y + float64(p.RepeatLines-section-1)*p.High

		firstLineY := sectionStartY - p.TopPadding
		lastLineY := sectionEndY + p.BottomPadding
		spacing := 0.0
		if p.NumberOfLines > 1 {
			spacing = (firstLineY - lastLineY) / float64(p.NumberOfLines-1)
		}

		// Later sections flow on from the previous cut position.
		if section == 0 {
			steps = append(steps, newStep(OpMoveY, map[string]interface{}{"position": firstLineY},
				fmt.Sprintf("Move to first line of section %d: %gcm", section+1, firstLineY)))
		}

		for line := 0; line < p.NumberOfLines; line++ {
			overall := section*p.NumberOfLines + line + 1
			lineY := firstLineY - float64(line)*spacing
			desc := fmt.Sprintf("Mark line %d/%d (Section %d, Line %d)",
				overall, totalLines, section+1, line+1)

			if !(section == 0 && line == 0) {
				steps = append(steps, newStep(OpMoveY, map[string]interface{}{"position": lineY},
					fmt.Sprintf("Move to line position: %.1fcm", lineY)))
			}

			steps = append(steps,
				newStep(OpWaitSensor, map[string]interface{}{"sensor": "x_left"},
					desc+": Wait for LEFT X sensor"),
				newStep(OpToolAction, map[string]interface{}{"tool": "line_marker", "action": "down"},
					desc+": Open line marker"),
				newStep(OpWaitSensor, map[string]interface{}{"sensor": "x_right"},
					desc+": Wait for RIGHT X sensor"),
				newStep(OpToolAction, map[string]interface{}{"tool": "line_marker", "action": "up"},
					desc+": Close line marker"),
			)
		}

		if section < p.RepeatLines-1 {
			cutDesc := fmt.Sprintf("Cut between sections %d and %d", section+1, section+2)
			steps = append(steps, newStep(OpMoveY, map[string]interface{}{"position": sectionEndY},
				fmt.Sprintf("Move to cut between sections %d and %d: %gcm", section+1, section+2, sectionEndY)))
			steps = append(steps, lineCut(cutDesc)...)
		}
	}

	steps = append(steps, newStep(OpMoveY, map[string]interface{}{"position": off.Y},
		fmt.Sprintf("Move to bottom cut position: %gcm (paper starting position)", off.Y)))
	steps = append(steps, lineCut("Cut bottom edge")...)

	steps = append(steps, newStep(OpMoveY, map[string]interface{}{"position": 0.0},
		"Lines complete: Move lines motor to home position (Y=0)"))

	return steps
}

// GenerateRowsSteps expands the rows marking workflow. The rows motor
// (X axis) does all the moving; each mark or cut is a wait on the top
// Y edge sensor, tool down, wait on the bottom Y edge sensor, tool up.
//
// Pages are marked right to left so the already-marked paper is never
// crossed: right paper edge cut first, then each section's pages from
// rightmost to leftmost with a cut at every section boundary, and the
// left paper edge cut last. Must only run after the lines workflow.
func GenerateRowsSteps(p *Program, off Offsets) []Step {
	actualWidth := p.ActualWidth()

	var steps []Step

	steps = append(steps, newStep(OpMoveY, map[string]interface{}{"position": 0.0},
		"Rows operation: Ensure lines motor is at home position (Y=0)"))

	rightEdge := off.X + actualWidth
	steps = append(steps, newStep(OpMoveX, map[string]interface{}{"position": rightEdge},
		fmt.Sprintf("Cut RIGHT paper edge: Move to %gcm (ACTUAL width)", rightEdge)))
	steps = append(steps, rowCut("Cut RIGHT paper edge")...)

	totalPages := p.NumberOfPages * p.RepeatRows
	for rtlSection := 0; rtlSection < p.RepeatRows; rtlSection++ {
		sectionIndex := p.RepeatRows - 1 - rtlSection
		sectionNum := sectionIndex + 1
		sectionStartX := off.X + float64(sectionIndex)*p.Width

		for rtlPage := 0; rtlPage < p.NumberOfPages; rtlPage++ {
			// Execution runs right to left but page positions are laid
			// out left to right within the section.
			physicalPage := p.NumberOfPages - 1 - rtlPage
			pageNum := rtlSection*p.NumberOfPages + rtlPage + 1

			pageLeft := sectionStartX + p.LeftMargin +
				float64(physicalPage)*(p.PageWidth+p.BufferBetweenPages)
			pageRight := pageLeft + p.PageWidth

			desc := fmt.Sprintf("RTL Page %d/%d (Section %d, RTL Page %d/%d)",
				pageNum, totalPages, sectionNum, rtlPage+1, p.NumberOfPages)

			steps = append(steps, newStep(OpMoveX, map[string]interface{}{"position": pageRight},
				fmt.Sprintf("Move to %s RIGHT edge: %gcm", desc, pageRight)))
			steps = append(steps, rowMark(desc, "RIGHT edge")...)

			steps = append(steps, newStep(OpMoveX, map[string]interface{}{"position": pageLeft},
				fmt.Sprintf("RTL: Move to %s LEFT edge: %gcm", desc, pageLeft)))
			steps = append(steps, rowMark(desc, "LEFT edge")...)
		}

		if rtlSection < p.RepeatRows-1 {
			cutDesc := fmt.Sprintf("Cut between row sections %d and %d", sectionNum, sectionNum-1)
			steps = append(steps, newStep(OpMoveX, map[string]interface{}{"position": sectionStartX},
				fmt.Sprintf("Move to cut between row sections %d and %d: %gcm", sectionNum, sectionNum-1, sectionStartX)))
			steps = append(steps, rowCut(cutDesc)...)
		}
	}

	steps = append(steps, newStep(OpMoveX, map[string]interface{}{"position": off.X},
		fmt.Sprintf("Cut LEFT paper edge: Move to %gcm (ACTUAL paper boundary)", off.X)))
	steps = append(steps, rowCut("Cut LEFT paper edge")...)

	steps = append(steps, newStep(OpMoveX, map[string]interface{}{"position": 0.0},
		"Rows complete: Move rows motor to home position (X=0)"))

	return steps
}

// lineCut is one full-width cut with the line cutter, gated on the X
// edge sensor pair.
func lineCut(desc string) []Step {
	return []Step{
		newStep(OpWaitSensor, map[string]interface{}{"sensor": "x_left"},
			desc+": Wait for LEFT X sensor"),
		newStep(OpToolAction, map[string]interface{}{"tool": "line_cutter", "action": "down"},
			desc+": Open line cutter"),
		newStep(OpWaitSensor, map[string]interface{}{"sensor": "x_right"},
			desc+": Wait for RIGHT X sensor"),
		newStep(OpToolAction, map[string]interface{}{"tool": "line_cutter", "action": "up"},
			desc+": Close line cutter"),
	}
}

// rowCut is one full-height cut with the row cutter, gated on the Y
// edge sensor pair.
func rowCut(desc string) []Step {
	return []Step{
		newStep(OpWaitSensor, map[string]interface{}{"sensor": "y_top"},
			desc+": Wait for TOP Y sensor"),
		newStep(OpToolAction, map[string]interface{}{"tool": "row_cutter", "action": "down"},
			desc+": Open row cutter"),
		newStep(OpWaitSensor, map[string]interface{}{"sensor": "y_bottom"},
			desc+": Wait for BOTTOM Y sensor"),
		newStep(OpToolAction, map[string]interface{}{"tool": "row_cutter", "action": "up"},
			desc+": Close row cutter"),
	}
}

// rowMark is one full-height mark with the row marker at the current X
// position, gated on the Y edge sensor pair.
func rowMark(desc, edge string) []Step {
	return []Step{
		newStep(OpWaitSensor, map[string]interface{}{"sensor": "y_top"},
			fmt.Sprintf("%s: Wait TOP Y sensor (%s)", desc, edge)),
		newStep(OpToolAction, map[string]interface{}{"tool": "row_marker", "action": "down"},
			fmt.Sprintf("%s: Open row marker (%s)", desc, edge)),
		newStep(OpWaitSensor, map[string]interface{}{"sensor": "y_bottom"},
			fmt.Sprintf("%s: Wait BOTTOM Y sensor (%s)", desc, edge)),
		newStep(OpToolAction, map[string]interface{}{"tool": "row_marker", "action": "up"},
			fmt.Sprintf("%s: Close row marker (%s)", desc, edge)),
	}
}

// Summary reports step counts and effective dimensions for a program.
type Summary struct {
	LinesSteps   int     `json:"lines_steps"`
	RowSteps     int     `json:"row_steps"`
	TotalSteps   int     `json:"total_steps"`
	TotalRepeats int     `json:"total_repeats"`
	ActualWidth  float64 `json:"actual_paper_width"`
	ActualHeight float64 `json:"actual_paper_height"`
	LinesMarked  int     `json:"total_lines_marked"`
	PagesMarked  int     `json:"total_pages_marked"`
}

// Summarize computes the step counts a full run of the program would
// produce, without holding the whole sequence.
func Summarize(p *Program, off Offsets) Summary {
	lines := len(GenerateLinesSteps(p, off))
	rows := len(GenerateRowsSteps(p, off))
	return Summary{
		LinesSteps:   lines,
		RowSteps:     rows,
		TotalSteps:   lines + rows + 2,
		TotalRepeats: p.RepeatRows * p.RepeatLines,
		ActualWidth:  p.ActualWidth(),
		ActualHeight: p.ActualHeight(),
		LinesMarked:  p.NumberOfLines * p.RepeatLines,
		PagesMarked:  p.NumberOfPages * p.RepeatRows,
	}
}
