package program

import (
	"fmt"
	"math"
)

// Program is the pattern geometry for one marking job, as loaded from
// a program file. All linear dimensions are in cm. A program describes
// a single pattern; repeat_rows and repeat_lines tile it across the
// paper, so the actual paper size is width*repeat_rows wide by
// high*repeat_lines tall.
type Program struct {
	ProgramNumber int    `json:"program_number"`
	ProgramName   string `json:"program_name"`

	// Lines pattern.
	High          float64 `json:"high"`
	NumberOfLines int     `json:"number_of_lines"`
	TopPadding    float64 `json:"top_padding"`
	BottomPadding float64 `json:"bottom_padding"`

	// Row pattern.
	Width              float64 `json:"width"`
	LeftMargin         float64 `json:"left_margin"`
	RightMargin        float64 `json:"right_margin"`
	PageWidth          float64 `json:"page_width"`
	NumberOfPages      int     `json:"number_of_pages"`
	BufferBetweenPages float64 `json:"buffer_between_pages"`

	// Repeat settings.
	RepeatRows  int `json:"repeat_rows"`
	RepeatLines int `json:"repeat_lines"`
}

// ActualWidth is the paper width with repeats applied.
func (p *Program) ActualWidth() float64 { return p.Width * float64(p.RepeatRows) }

// ActualHeight is the paper height with repeats applied.
func (p *Program) ActualHeight() float64 { return p.High * float64(p.RepeatLines) }

// Validate checks the row pattern formula, the desk size limits, and
// basic value sanity. It returns every failure, not just the first.
// maxWidth and maxHeight are the desk dimensions in cm.
func (p *Program) Validate(maxWidth, maxHeight float64) []string {
	var errs []string

	// The row pattern must tile the width exactly.
	expected := p.LeftMargin + p.RightMargin +
		p.PageWidth*float64(p.NumberOfPages) +
		p.BufferBetweenPages*float64(p.NumberOfPages-1)
	if math.Abs(p.Width-expected) > 0.001 {
		errs = append(errs, fmt.Sprintf(
			"row pattern validation failed: width (%g) != left_margin + right_margin + (page_width * number_of_pages) + (buffer_between_pages * (number_of_pages - 1)) (%.3f)",
			p.Width, expected))
	}

	if total := p.ActualWidth(); total > maxWidth {
		errs = append(errs, fmt.Sprintf(
			"desk width validation failed: width * repeat_rows (%.1fcm) > %gcm", total, maxWidth))
	}
	if total := p.ActualHeight(); total > maxHeight {
		errs = append(errs, fmt.Sprintf(
			"desk height validation failed: high * repeat_lines (%.1fcm) > %gcm", total, maxHeight))
	}

	if p.NumberOfLines <= 0 {
		errs = append(errs, "number of lines must be greater than 0")
	}
	if p.NumberOfPages <= 0 {
		errs = append(errs, "number of pages must be greater than 0")
	}
	if p.RepeatRows <= 0 {
		errs = append(errs, "repeat rows must be greater than 0")
	}
	if p.RepeatLines <= 0 {
		errs = append(errs, "repeat lines must be greater than 0")
	}
	if p.High <= 0 {
		errs = append(errs, "high must be greater than 0")
	}
	if p.Width <= 0 {
		errs = append(errs, "width must be greater than 0")
	}
	if p.PageWidth <= 0 {
		errs = append(errs, "page width must be greater than 0")
	}
	if p.TopPadding < 0 || p.BottomPadding < 0 {
		errs = append(errs, "padding values cannot be negative")
	}
	if p.LeftMargin < 0 || p.RightMargin < 0 {
		errs = append(errs, "margin values cannot be negative")
	}
	if p.BufferBetweenPages < 0 {
		errs = append(errs, "buffer between pages cannot be negative")
	}

	return errs
}

// Valid reports whether Validate returns no failures.
func (p *Program) Valid(maxWidth, maxHeight float64) bool {
	return len(p.Validate(maxWidth, maxHeight)) == 0
}

func (p *Program) String() string {
	return fmt.Sprintf("Program %d: %s", p.ProgramNumber, p.ProgramName)
}
