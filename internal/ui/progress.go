package ui

import (
	"fmt"
	"io"
)

// Marks prints single-character progress marks so long crawls show
// signs of life: "P" per parsed task, "E" per edited page.
type Marks struct {
	w       io.Writer
	pending bool
}

// NewMarks writes marks to w.
func NewMarks(w io.Writer) *Marks {
	return &Marks{w: w}
}

// Print emits one mark without a newline.
func (m *Marks) Print(mark string) {
	fmt.Fprint(m.w, mark)
	m.pending = true
}

// Break terminates the current run of marks with a newline, if any
// marks were printed since the last break.
func (m *Marks) Break() {
	if m.pending {
		fmt.Fprintln(m.w)
		m.pending = false
	}
}

// Warnf writes a highlighted warning line to w.
func Warnf(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", BoldYellow("Warning:"), fmt.Sprintf(format, args...))
}
