package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

const probePrefix = ".corruptscan_probe_"

// ProbeFSNotify tests whether fsnotify delivers events for the given path.
// It creates a temporary directory inside path, watches for the Create event,
// and returns true if the event arrives within the timeout. Network and FUSE
// mounts commonly accept the watch but never report anything.
func ProbeFSNotify(path string, timeout time.Duration) bool {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return false
	}
	defer w.Close() //nolint:errcheck

	if err := w.Add(path); err != nil {
		return false
	}

	probeName := probePrefix + uuid.NewString()[:8]
	probeDir := filepath.Join(path, probeName)

	if err := os.Mkdir(probeDir, 0o750); err != nil { //nolint:gosec // G301: probe dir is temporary
		return false
	}
	defer os.Remove(probeDir) //nolint:errcheck

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return false
			}
			if ev.Has(fsnotify.Create) && filepath.Base(ev.Name) == probeName {
				return true
			}
		case <-w.Errors:
			return false
		case <-timer.C:
			return false
		}
	}
}

// isProbe reports whether name is a probe directory left behind or still in
// flight, so the watcher does not report it.
func isProbe(name string) bool {
	return strings.HasPrefix(name, probePrefix)
}
