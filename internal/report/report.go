// Package report renders scan progress, findings and summaries to the
// console, and writes machine-readable scan reports.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/go-git/go-billy/v5"
	"golang.org/x/term"

	"github.com/sydlexius/corruptscan/internal/classify"
	"github.com/sydlexius/corruptscan/internal/filesystem"
	"github.com/sydlexius/corruptscan/internal/scanner"
)

var (
	colorCorrupted = color.New(color.FgRed)
	colorReadError = color.New(color.FgYellow)
	colorFound     = color.New(color.FgRed, color.Bold)
	colorClean     = color.New(color.FgGreen, color.Bold)
)

// Renderer is a scan sink that owns the progress line. Finish is called once
// after the scan and leaves the cursor at the start of a fresh line.
type Renderer interface {
	scanner.Sink
	Finish()
}

// New picks the progress renderer for f: a redrawn bar when f is a
// terminal, the plain percentage lines otherwise.
func New(f *os.File, interval time.Duration) Renderer {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return NewPlain(f)
	}
	width, _, err := term.GetSize(fd)
	if err != nil {
		width = 0
	}
	return NewBar(f, width, interval)
}

// findingLine renders a verbose finding, e.g.
// "Corrupted (invalid JSON: ...): /data/a.json".
func findingLine(w io.Writer, f scanner.Finding) {
	c := colorCorrupted
	if f.Status != classify.Corrupted {
		c = colorReadError
	}
	_, _ = c.Fprintf(w, "%s: %s\n", f.Result.String(), f.Path)
}

func percent(done, total int) int {
	if total <= 0 {
		return 0
	}
	return done * 100 / total
}

// PrintSummary writes the final list of problem paths.
func PrintSummary(w io.Writer, res *scanner.ScanResult) {
	fmt.Fprintln(w)
	if len(res.Findings) == 0 {
		_, _ = colorClean.Fprintln(w, "No corrupted files found.")
		return
	}
	_, _ = colorFound.Fprintf(w, "Found %d corrupted files:\n", len(res.Findings))
	for _, f := range res.Findings {
		fmt.Fprintln(w, f.Path)
	}
}

// WriteFile stores res as indented JSON at path, replacing any previous
// report atomically.
func WriteFile(fsys billy.Filesystem, path string, res *scanner.ScanResult) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	data = append(data, '\n')
	if err := filesystem.WriteFileAtomic(fsys, path, data, 0o644); err != nil {
		return fmt.Errorf("writing report %s: %w", path, err)
	}
	return nil
}
