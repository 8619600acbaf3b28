package scanner

import (
	"time"

	"github.com/sydlexius/corruptscan/internal/classify"
)

// ScanResult summarizes the outcome of a scan. Findings are sorted by path.
type ScanResult struct {
	ID          string     `json:"scan_id"`
	Root        string     `json:"root"`
	Mode        string     `json:"mode"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	TotalFiles  int        `json:"total_files"`
	Findings    []Finding  `json:"corrupted"`
}

// Finding is a file whose classification was not clean: corrupted content
// or a read failure.
type Finding struct {
	Path string `json:"path"`
	classify.Result
}

// Progress is emitted after every classified file. Done counts completed
// files and never decreases within a scan.
type Progress struct {
	Done  int
	Total int
	Path  string
}

// Sink receives scan events. Calls are never concurrent.
type Sink interface {
	// Progress is called after each file, in completion order.
	Progress(p Progress)
	// Finding is called as soon as a non-clean file is found, only in
	// verbose runs.
	Finding(f Finding)
}

type nopSink struct{}

func (nopSink) Progress(Progress) {}
func (nopSink) Finding(Finding)   {}
