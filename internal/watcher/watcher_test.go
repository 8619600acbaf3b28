package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/sydlexius/corruptscan/internal/event"
	"github.com/sydlexius/corruptscan/internal/walk"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorder collects watcher events from the bus.
type recorder struct {
	mu      sync.Mutex
	changed []string
	removed []string
}

func (r *recorder) handle(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch e.Type {
	case event.FileChanged:
		r.changed = append(r.changed, e.Path())
	case event.FileRemoved:
		r.removed = append(r.removed, e.Path())
	}
}

func (r *recorder) snapshot() (changed, removed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.changed), slices.Clone(r.removed)
}

func newTestService(t *testing.T, root string, mode walk.Mode) (*Service, *recorder) {
	t.Helper()
	logger := testLogger()
	bus := event.NewBus(logger, 64)
	go bus.Start()
	t.Cleanup(bus.Stop)

	rec := &recorder{}
	bus.Subscribe(event.FileChanged, rec.handle)
	bus.Subscribe(event.FileRemoved, rec.handle)

	svc := NewService(root, mode, bus, logger)
	svc.SetDebounce(50 * time.Millisecond)
	return svc, rec
}

// start runs svc until the test ends and waits for it to be ready.
func start(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-svc.Ready():
	case err := <-done:
		t.Fatalf("Start returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher not ready")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWriteJSONPublishesChange(t *testing.T) {
	root := t.TempDir()
	svc, rec := newTestService(t, root, walk.ModeJSON)
	start(t, svc)

	path := filepath.Join(root, "a.json")
	writeFile(t, path, `{"x":1}`)

	time.Sleep(300 * time.Millisecond)

	changed, removed := rec.snapshot()
	if !slices.Equal(changed, []string{path}) {
		t.Errorf("changed = %v, want [%s]", changed, path)
	}
	if len(removed) != 0 {
		t.Errorf("removed = %v, want none", removed)
	}
}

func TestRapidWritesCoalesce(t *testing.T) {
	root := t.TempDir()
	svc, rec := newTestService(t, root, walk.ModeJSON)
	start(t, svc)

	path := filepath.Join(root, "busy.json")
	for i := 0; i < 5; i++ {
		writeFile(t, path, `{"n":`+string(rune('0'+i))+`}`)
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(300 * time.Millisecond)

	if changed, _ := rec.snapshot(); len(changed) != 1 {
		t.Errorf("expected 1 coalesced change, got %v", changed)
	}
}

func TestNonCandidateIgnored(t *testing.T) {
	root := t.TempDir()
	svc, rec := newTestService(t, root, walk.ModeJSON)
	start(t, svc)

	writeFile(t, filepath.Join(root, "README.txt"), "hello")
	if err := os.Remove(filepath.Join(root, "README.txt")); err != nil {
		t.Fatal(err)
	}

	time.Sleep(300 * time.Millisecond)

	changed, removed := rec.snapshot()
	if len(changed) != 0 || len(removed) != 0 {
		t.Errorf("expected no events, got changed=%v removed=%v", changed, removed)
	}
}

func TestAllModeIncludesEveryFile(t *testing.T) {
	root := t.TempDir()
	svc, rec := newTestService(t, root, walk.ModeAll)
	start(t, svc)

	path := filepath.Join(root, "disk.img")
	writeFile(t, path, "\x00\x00")

	time.Sleep(300 * time.Millisecond)

	if changed, _ := rec.snapshot(); !slices.Equal(changed, []string{path}) {
		t.Errorf("changed = %v, want [%s]", changed, path)
	}
}

func TestNewDirectoryIsWatched(t *testing.T) {
	root := t.TempDir()
	svc, rec := newTestService(t, root, walk.ModeJSON)
	start(t, svc)

	sub := filepath.Join(root, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond) // let the new watch land

	path := filepath.Join(sub, "nested.json")
	writeFile(t, path, "[]")

	time.Sleep(300 * time.Millisecond)

	if changed, _ := rec.snapshot(); !slices.Equal(changed, []string{path}) {
		t.Errorf("changed = %v, want [%s]", changed, path)
	}
}

func TestDirectoryMovedInIsQueued(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	staged := filepath.Join(outside, "batch")
	if err := os.MkdirAll(filepath.Join(staged, "deep"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(staged, "deep", "x.json"), "{}")

	svc, rec := newTestService(t, root, walk.ModeJSON)
	start(t, svc)

	if err := os.Rename(staged, filepath.Join(root, "batch")); err != nil {
		t.Fatal(err)
	}

	time.Sleep(300 * time.Millisecond)

	want := filepath.Join(root, "batch", "deep", "x.json")
	if changed, _ := rec.snapshot(); !slices.Equal(changed, []string{want}) {
		t.Errorf("changed = %v, want [%s]", changed, want)
	}
}

func TestRemovePublishesEvent(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "gone.json")
	writeFile(t, path, "{}")

	svc, rec := newTestService(t, root, walk.ModeJSON)
	start(t, svc)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	time.Sleep(300 * time.Millisecond)

	changed, removed := rec.snapshot()
	if !slices.Equal(removed, []string{path}) {
		t.Errorf("removed = %v, want [%s]", removed, path)
	}
	if len(changed) != 0 {
		t.Errorf("expected no changes on removal, got %v", changed)
	}
}

func TestRemovedDirectoryPublishesEvent(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "To Remove")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	svc, rec := newTestService(t, root, walk.ModeJSON)
	start(t, svc)

	if err := os.Remove(sub); err != nil {
		t.Fatal(err)
	}

	time.Sleep(300 * time.Millisecond)

	_, removed := rec.snapshot()
	if !slices.Contains(removed, sub) {
		t.Errorf("removed = %v, want it to contain %s", removed, sub)
	}
}

func TestPollDetectsChanges(t *testing.T) {
	root := t.TempDir()
	kept := filepath.Join(root, "kept.json")
	dropped := filepath.Join(root, "dropped.json")
	writeFile(t, kept, "{}")
	writeFile(t, dropped, "{}")

	svc, rec := newTestService(t, root, walk.ModeJSON)
	svc.SetPollOnly(true)
	svc.SetPollInterval(50 * time.Millisecond)
	start(t, svc)

	writeFile(t, kept, `{"grown": true}`)
	added := filepath.Join(root, "added.json")
	writeFile(t, added, "[]")
	if err := os.Remove(dropped); err != nil {
		t.Fatal(err)
	}

	time.Sleep(400 * time.Millisecond)

	changed, removed := rec.snapshot()
	slices.Sort(changed)
	if want := []string{added, kept}; !slices.Equal(changed, want) {
		t.Errorf("changed = %v, want %v", changed, want)
	}
	if !slices.Equal(removed, []string{dropped}) {
		t.Errorf("removed = %v, want [%s]", removed, dropped)
	}
}

func TestStartFailsForMissingRoot(t *testing.T) {
	svc, _ := newTestService(t, filepath.Join(t.TempDir(), "absent"), walk.ModeJSON)

	err := svc.Start(context.Background())
	if err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestContextCancellation(t *testing.T) {
	root := t.TempDir()
	svc, _ := newTestService(t, root, walk.ModeJSON)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	<-svc.Ready()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
}

func TestFlushPeriod(t *testing.T) {
	if got := flushPeriod(time.Second); got != 250*time.Millisecond {
		t.Errorf("flushPeriod(1s) = %s, want 250ms", got)
	}
	if got := flushPeriod(time.Millisecond); got != 10*time.Millisecond {
		t.Errorf("flushPeriod(1ms) = %s, want 10ms", got)
	}
}
