package report

import (
	"io"
	"sync"

	"github.com/sydlexius/corruptscan/internal/scanner"
)

// WatchPrinter prints re-check results while watching a tree.
type WatchPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWatchPrinter creates a printer writing to w.
func NewWatchPrinter(w io.Writer) *WatchPrinter {
	return &WatchPrinter{w: w}
}

// Flagged prints a newly found or changed problem.
func (p *WatchPrinter) Flagged(f scanner.Finding) {
	p.mu.Lock()
	defer p.mu.Unlock()
	findingLine(p.w, f)
}

// Cleared prints that a previously flagged file now checks clean.
func (p *WatchPrinter) Cleared(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = colorClean.Fprintf(p.w, "Now clean: %s\n", path)
}

// Watching announces the start of watch mode.
func (p *WatchPrinter) Watching(root string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = io.WriteString(p.w, "Watching '"+root+"' for changes, press Ctrl-C to stop\n")
}
