// Package watcher reports candidate files that change under a scan root
// after the initial scan.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/sydlexius/corruptscan/internal/event"
	"github.com/sydlexius/corruptscan/internal/walk"
)

// Service watches every directory under a root and publishes file.changed
// for candidate files that were created or written, once they have been
// quiet for the debounce interval, and file.removed for files and
// directories that went away. When the root does not deliver fsnotify
// events the service polls snapshots of the tree instead.
type Service struct {
	root         string
	mode         walk.Mode
	fsys         billy.Filesystem
	eventBus     *event.Bus
	logger       *slog.Logger
	debounce     time.Duration
	pollInterval time.Duration
	probeTimeout time.Duration
	pollOnly     bool
	ready        chan struct{}

	// Owned by the Start goroutine.
	watcher  *fsnotify.Watcher
	watching map[string]bool
	pending  map[string]time.Time
	snapshot map[string]stamp
}

// stamp identifies a file version for polling.
type stamp struct {
	size    int64
	modTime time.Time
}

func (a stamp) same(b stamp) bool {
	return a.size == b.size && a.modTime.Equal(b.modTime)
}

// NewService creates a watcher for root. Candidate files are those mode
// matches.
func NewService(root string, mode walk.Mode, eventBus *event.Bus, logger *slog.Logger) *Service {
	return &Service{
		root:         root,
		mode:         mode,
		fsys:         osfs.New("/"),
		eventBus:     eventBus,
		logger:       logger.With("component", "fs-watcher"),
		debounce:     500 * time.Millisecond,
		pollInterval: 30 * time.Second,
		probeTimeout: 2 * time.Second,
		ready:        make(chan struct{}),
		watching:     make(map[string]bool),
		pending:      make(map[string]time.Time),
	}
}

// SetDebounce overrides the default debounce interval.
func (s *Service) SetDebounce(d time.Duration) {
	s.debounce = d
}

// SetPollInterval overrides the default poll interval.
func (s *Service) SetPollInterval(d time.Duration) {
	s.pollInterval = d
}

// SetPollOnly skips fsnotify and always polls (for testing).
func (s *Service) SetPollOnly(v bool) {
	s.pollOnly = v
}

// Ready is closed once the watches or the first poll snapshot are in place.
// Changes made before that may be missed.
func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Start blocks until ctx is canceled. It returns an error only if the root
// cannot be watched or polled at all.
func (s *Service) Start(ctx context.Context) error {
	var (
		eventCh <-chan fsnotify.Event
		errCh   <-chan error
		pollC   <-chan time.Time
	)

	if !s.pollOnly {
		if ProbeFSNotify(s.root, s.probeTimeout) {
			w, err := fsnotify.NewWatcher()
			if err != nil {
				s.logger.Warn("fsnotify unavailable, polling instead", "error", err)
			} else {
				defer w.Close() //nolint:errcheck
				s.watcher = w
				if err := s.addTree(s.root, false); err != nil {
					return fmt.Errorf("watching %s: %w", s.root, err)
				}
				eventCh, errCh = w.Events, w.Errors
				s.logger.Info("watching for changes", "root", s.root, "directories", len(s.watching))
			}
		} else {
			s.logger.Warn("fsnotify probe failed, polling instead", "root", s.root)
		}
	}

	if s.watcher == nil {
		snap, err := s.takeSnapshot(ctx)
		if err != nil {
			return fmt.Errorf("polling %s: %w", s.root, err)
		}
		s.snapshot = snap
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		pollC = ticker.C
		s.logger.Info("polling for changes", "root", s.root, "interval", s.pollInterval, "files", len(snap))
	}
	close(s.ready)

	flushTicker := time.NewTicker(flushPeriod(s.debounce))
	defer flushTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("filesystem watcher stopping")
			return nil

		case ev, ok := <-eventCh:
			if !ok {
				return nil
			}
			s.handleFSEvent(ctx, ev)

		case err, ok := <-errCh:
			if !ok {
				return nil
			}
			s.logger.Error("fsnotify error", "error", err)

		case now := <-flushTicker.C:
			s.flush(ctx, now)

		case <-pollC:
			s.poll(ctx)
		}
	}
}

// flushPeriod is how often pending paths are checked against the debounce.
func flushPeriod(debounce time.Duration) time.Duration {
	return max(debounce/4, 10*time.Millisecond)
}

func (s *Service) handleFSEvent(ctx context.Context, ev fsnotify.Event) {
	if isProbe(filepath.Base(ev.Name)) {
		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		info, err := s.fsys.Stat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			// Files can land in a new directory before its watch exists.
			if err := s.addTree(ev.Name, true); err != nil {
				s.logger.Warn("failed to watch new directory", "path", ev.Name, "error", err)
			}
			return
		}
		s.queueFile(ev.Name, info, time.Now())

	case ev.Has(fsnotify.Write):
		if s.mode.Match(filepath.Base(ev.Name)) {
			s.pending[ev.Name] = time.Now()
		}

	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		s.removed(ctx, ev.Name)
	}
}

// addTree watches dir and every directory below it. With queueFiles set,
// candidate files already present are queued as changed. Only a failure on
// dir itself is returned.
func (s *Service) addTree(dir string, queueFiles bool) error {
	if err := s.watcher.Add(dir); err != nil {
		return err
	}
	s.watching[dir] = true

	entries, err := s.fsys.ReadDir(dir)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, info := range entries {
		path := s.fsys.Join(dir, info.Name())
		if info.IsDir() {
			if isProbe(info.Name()) {
				continue
			}
			if err := s.addTree(path, queueFiles); err != nil {
				s.logger.Warn("failed to watch directory", "path", path, "error", err)
			}
			continue
		}
		if !queueFiles {
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 {
			if info, err = s.fsys.Stat(path); err != nil {
				continue
			}
		}
		s.queueFile(path, info, now)
	}
	return nil
}

func (s *Service) queueFile(path string, info os.FileInfo, now time.Time) {
	if !info.Mode().IsRegular() || !s.mode.Match(info.Name()) {
		return
	}
	s.pending[path] = now
}

// removed handles a file or directory that was deleted or renamed away.
func (s *Service) removed(ctx context.Context, path string) {
	prefix := path + string(filepath.Separator)
	wasDir := s.watching[path]
	if wasDir {
		for p := range s.watching {
			if p == path || strings.HasPrefix(p, prefix) {
				delete(s.watching, p)
			}
		}
		// Renamed directories keep their inotify watch; deleted ones are
		// already gone, so the error is expected.
		_ = s.watcher.Remove(path)
	} else if !s.mode.Match(filepath.Base(path)) {
		return
	}

	for p := range s.pending {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(s.pending, p)
		}
	}
	s.logger.Debug("path removed", "path", path, "directory", wasDir)
	s.send(ctx, event.FileRemoved, path)
}

// flush publishes every pending path that has been quiet for the debounce.
func (s *Service) flush(ctx context.Context, now time.Time) {
	for _, path := range slices.Sorted(maps.Keys(s.pending)) {
		if now.Sub(s.pending[path]) < s.debounce {
			continue
		}
		delete(s.pending, path)
		s.logger.Debug("file changed", "path", path)
		s.send(ctx, event.FileChanged, path)
	}
}

// poll compares a fresh snapshot against the previous one.
func (s *Service) poll(ctx context.Context) {
	snap, err := s.takeSnapshot(ctx)
	if err != nil {
		s.logger.Warn("poll failed", "root", s.root, "error", err)
		return
	}

	now := time.Now()
	for path, st := range snap {
		if old, ok := s.snapshot[path]; !ok || !old.same(st) {
			s.pending[path] = now
		}
	}
	for _, path := range slices.Sorted(maps.Keys(s.snapshot)) {
		if _, ok := snap[path]; !ok {
			delete(s.pending, path)
			s.send(ctx, event.FileRemoved, path)
		}
	}
	s.snapshot = snap
}

func (s *Service) takeSnapshot(ctx context.Context) (map[string]stamp, error) {
	files, err := walk.Enumerate(ctx, s.fsys, s.root, s.mode, s.logger)
	if err != nil {
		return nil, err
	}
	snap := make(map[string]stamp, len(files))
	for _, path := range files {
		info, err := s.fsys.Stat(path)
		if err != nil {
			continue
		}
		snap[path] = stamp{size: info.Size(), modTime: info.ModTime()}
	}
	return snap, nil
}

func (s *Service) send(ctx context.Context, t event.Type, path string) {
	err := s.eventBus.Send(ctx, event.Event{
		Type: t,
		Data: map[string]any{"path": path},
	})
	if err != nil {
		s.logger.Debug("event not delivered", "type", string(t), "path", path, "error", err)
	}
}
