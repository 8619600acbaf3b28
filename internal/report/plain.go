package report

import (
	"fmt"
	"io"

	"github.com/sydlexius/corruptscan/internal/scanner"
)

// plainStep is how many files pass between plain progress lines.
const plainStep = 10

// Plain writes "Checking files: P% (i/total)" for output that is not a
// terminal. It updates on the first file, every tenth file after that, and
// the last file.
type Plain struct {
	w     io.Writer
	dirty bool
}

// NewPlain creates a plain renderer.
func NewPlain(w io.Writer) *Plain {
	return &Plain{w: w}
}

// Progress writes a status line when p falls on a step.
func (r *Plain) Progress(p scanner.Progress) {
	if (p.Done-1)%plainStep != 0 && p.Done != p.Total {
		return
	}
	fmt.Fprintf(r.w, "\rChecking files: %d%% (%d/%d)", percent(p.Done, p.Total), p.Done, p.Total)
	r.dirty = true
}

// Finding ends any pending status line and prints f on its own line.
func (r *Plain) Finding(f scanner.Finding) {
	r.endLine()
	findingLine(r.w, f)
}

// Finish ends the status line.
func (r *Plain) Finish() {
	r.endLine()
}

func (r *Plain) endLine() {
	if r.dirty {
		fmt.Fprintln(r.w)
		r.dirty = false
	}
}
