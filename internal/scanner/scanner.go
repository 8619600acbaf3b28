package scanner

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sydlexius/corruptscan/internal/classify"
	"github.com/sydlexius/corruptscan/internal/event"
	"github.com/sydlexius/corruptscan/internal/walk"
)

// Service runs corruption scans over a filesystem tree.
type Service struct {
	fsys     billy.Filesystem
	sink     Sink
	logger   *slog.Logger
	workers  int
	eventBus *event.Bus
}

// NewService creates a scanner service. A nil sink discards events; workers
// below 1 are treated as 1.
func NewService(fsys billy.Filesystem, sink Sink, logger *slog.Logger, workers int) *Service {
	if sink == nil {
		sink = nopSink{}
	}
	if workers < 1 {
		workers = 1
	}
	return &Service{
		fsys:    fsys,
		sink:    sink,
		logger:  logger.With("component", "scanner"),
		workers: workers,
	}
}

// SetEventBus sets the event bus for publishing scan events.
func (s *Service) SetEventBus(bus *event.Bus) {
	s.eventBus = bus
}

// ClassifierFor returns the check that mode runs on each file.
func ClassifierFor(mode walk.Mode) classify.Classifier {
	if mode == walk.ModeAll {
		return classify.NullFile{}
	}
	return classify.JSON{}
}

// Check classifies a single file with the mode's classifier.
func (s *Service) Check(path string, mode walk.Mode) classify.Result {
	return ClassifierFor(mode).Classify(s.fsys, path)
}

// Run enumerates root and classifies every candidate file. Per-file problems
// are recorded as findings and never stop the scan. The returned error is
// non-nil only when root cannot be enumerated (wrapping walk.ErrEnumeration)
// or ctx is canceled.
func (s *Service) Run(ctx context.Context, root string, mode walk.Mode, verbose bool) (*ScanResult, error) {
	result := &ScanResult{
		ID:        uuid.New().String(),
		Root:      root,
		Mode:      mode.String(),
		StartedAt: time.Now().UTC(),
		Findings:  []Finding{},
	}
	logger := s.logger.With("scan_id", result.ID)

	files, err := walk.Enumerate(ctx, s.fsys, root, mode, logger)
	if err != nil {
		// The caller reports the failure to the user.
		logger.Debug("scan failed", "root", root, "error", err)
		return nil, err
	}
	result.TotalFiles = len(files)

	s.publish(ctx, event.ScanStarted, map[string]any{
		"scan_id": result.ID,
		"root":    root,
		"mode":    result.Mode,
		"total":   result.TotalFiles,
	})

	classifier := ClassifierFor(mode)
	logger.Info("scan started",
		"root", root, "mode", result.Mode, "classifier", classifier.Name(),
		"files", len(files), "workers", s.workers)

	var (
		mu   sync.Mutex
		done int
	)
	record := func(path string, res classify.Result) {
		mu.Lock()
		defer mu.Unlock()

		done++
		if !res.OK() {
			f := Finding{Path: path, Result: res}
			result.Findings = append(result.Findings, f)
			if verbose {
				s.sink.Finding(f)
			}
			logger.Debug("problem found", "path", path, "status", res.Status.String(), "reason", res.Reason)
			s.publish(ctx, event.FileCorrupted, map[string]any{
				"scan_id": result.ID,
				"path":    path,
				"status":  res.Status.String(),
				"reason":  res.Reason,
			})
		}
		s.sink.Progress(Progress{Done: done, Total: len(files), Path: path})
	}

	// With a limit of one the group starts each file only after the previous
	// one finished, which keeps single-worker scans in enumeration order.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, path := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			record(path, classifier.Classify(s.fsys, path))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scan interrupted: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scan interrupted: %w", err)
	}

	slices.SortFunc(result.Findings, func(a, b Finding) int {
		return cmp.Compare(a.Path, b.Path)
	})
	now := time.Now().UTC()
	result.CompletedAt = &now

	s.publish(ctx, event.ScanCompleted, map[string]any{
		"scan_id":   result.ID,
		"total":     result.TotalFiles,
		"corrupted": len(result.Findings),
		"duration":  now.Sub(result.StartedAt).String(),
	})
	logger.Info("scan completed",
		"files", result.TotalFiles, "corrupted", len(result.Findings),
		"duration", now.Sub(result.StartedAt))

	return result, nil
}

// publish waits for bus space rather than dropping, so subscribers see every
// finding. A canceled ctx abandons the event.
func (s *Service) publish(ctx context.Context, t event.Type, data map[string]any) {
	if s.eventBus == nil {
		return
	}
	_ = s.eventBus.Send(ctx, event.Event{Type: t, Data: data})
}
