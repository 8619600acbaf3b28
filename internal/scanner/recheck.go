package scanner

import (
	"path/filepath"
	"strings"

	"github.com/sydlexius/corruptscan/internal/event"
	"github.com/sydlexius/corruptscan/internal/walk"
)

// Notifier is told about state changes found while watching.
type Notifier interface {
	Flagged(f Finding)
	Cleared(path string)
}

// Rechecker classifies files again as the watcher reports them and tracks
// which paths are currently flagged, so a repaired file is reported once as
// cleared and an unchanged problem is not reported twice.
type Rechecker struct {
	svc     *Service
	mode    walk.Mode
	out     Notifier
	flagged map[string]string
}

// NewRechecker starts from the findings of an initial scan, which may be nil.
func NewRechecker(svc *Service, mode walk.Mode, initial *ScanResult, out Notifier) *Rechecker {
	r := &Rechecker{
		svc:     svc,
		mode:    mode,
		out:     out,
		flagged: make(map[string]string),
	}
	if initial != nil {
		for _, f := range initial.Findings {
			r.flagged[f.Path] = f.Reason
		}
	}
	return r
}

// HandleEvent is an event.Handler for FileChanged and FileRemoved. It runs
// on the bus goroutine, which serializes access to the flagged set.
func (r *Rechecker) HandleEvent(e event.Event) {
	path := e.Path()
	if path == "" {
		return
	}

	switch e.Type {
	case event.FileRemoved:
		// A removed directory takes everything below it.
		prefix := strings.TrimSuffix(path, string(filepath.Separator)) + string(filepath.Separator)
		for p := range r.flagged {
			if p == path || strings.HasPrefix(p, prefix) {
				delete(r.flagged, p)
			}
		}
	case event.FileChanged:
		res := r.svc.Check(path, r.mode)
		prev, wasFlagged := r.flagged[path]
		if res.OK() {
			if wasFlagged {
				delete(r.flagged, path)
				r.out.Cleared(path)
			}
			return
		}
		if wasFlagged && prev == res.Reason {
			return
		}
		r.flagged[path] = res.Reason
		r.out.Flagged(Finding{Path: path, Result: res})
	}
}

// Flagged returns the number of paths currently flagged.
func (r *Rechecker) Flagged() int {
	return len(r.flagged)
}
