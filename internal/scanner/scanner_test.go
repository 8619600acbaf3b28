package scanner

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sydlexius/corruptscan/internal/classify"
	"github.com/sydlexius/corruptscan/internal/event"
	"github.com/sydlexius/corruptscan/internal/walk"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingSink captures every event and fails the test on concurrent calls.
type recordingSink struct {
	t        *testing.T
	busy     sync.Mutex
	progress []Progress
	findings []Finding
}

func (r *recordingSink) Progress(p Progress) {
	if !r.busy.TryLock() {
		r.t.Error("sink called concurrently")
		return
	}
	defer r.busy.Unlock()
	r.progress = append(r.progress, p)
}

func (r *recordingSink) Finding(f Finding) {
	if !r.busy.TryLock() {
		r.t.Error("sink called concurrently")
		return
	}
	defer r.busy.Unlock()
	r.findings = append(r.findings, f)
}

// scenarioFS builds the a/b/c/d tree used by several tests.
func scenarioFS(t *testing.T) billy.Filesystem {
	t.Helper()
	fsys := memfs.New()
	files := map[string][]byte{
		"/scan/a.json":     []byte(`{"x":1}`),
		"/scan/b.json":     make([]byte, 64),
		"/scan/c.json":     []byte("not json"),
		"/scan/d.txt":      make([]byte, 10),
		"/scan/sub/e.json": []byte(`[1,2,3]`),
		"/scan/sub/f.txt":  []byte("plain text"),
	}
	for path, data := range files {
		require.NoError(t, util.WriteFile(fsys, path, data, 0o644))
	}
	return fsys
}

func findingPaths(findings []Finding) []string {
	paths := make([]string, 0, len(findings))
	for _, f := range findings {
		paths = append(paths, f.Path)
	}
	return paths
}

func TestRun_JSONMode(t *testing.T) {
	sink := &recordingSink{t: t}
	svc := NewService(scenarioFS(t), sink, testLogger(), 1)

	result, err := svc.Run(context.Background(), "/scan", walk.ModeJSON, false)
	require.NoError(t, err)

	assert.Equal(t, 4, result.TotalFiles)
	assert.Equal(t, "json", result.Mode)
	assert.Equal(t, "/scan", result.Root)
	assert.NotEmpty(t, result.ID)
	require.NotNil(t, result.CompletedAt)

	assert.Equal(t, []string{"/scan/b.json", "/scan/c.json"}, findingPaths(result.Findings))
	assert.Equal(t, "all zero bytes", result.Findings[0].Reason)
	assert.Contains(t, result.Findings[1].Reason, "invalid JSON")

	assert.Empty(t, sink.findings, "findings are only streamed in verbose runs")
	require.Len(t, sink.progress, 4)
	wantOrder := []string{"/scan/a.json", "/scan/b.json", "/scan/c.json", "/scan/sub/e.json"}
	for i, p := range sink.progress {
		assert.Equal(t, i+1, p.Done)
		assert.Equal(t, 4, p.Total)
		assert.Equal(t, wantOrder[i], p.Path, "single worker keeps enumeration order")
	}
}

func TestRun_AllMode(t *testing.T) {
	svc := NewService(scenarioFS(t), nil, testLogger(), 1)

	result, err := svc.Run(context.Background(), "/scan", walk.ModeAll, false)
	require.NoError(t, err)

	assert.Equal(t, 6, result.TotalFiles)
	assert.Equal(t, []string{"/scan/b.json", "/scan/d.txt"}, findingPaths(result.Findings))
	for _, f := range result.Findings {
		assert.Equal(t, classify.Corrupted, f.Status)
		assert.Equal(t, "entire file is null bytes", f.Reason)
	}
}

func TestRun_Verbose(t *testing.T) {
	sink := &recordingSink{t: t}
	svc := NewService(scenarioFS(t), sink, testLogger(), 1)

	_, err := svc.Run(context.Background(), "/scan", walk.ModeJSON, true)
	require.NoError(t, err)

	assert.Equal(t, []string{"/scan/b.json", "/scan/c.json"}, findingPaths(sink.findings))
	assert.Len(t, sink.progress, 4, "progress still emitted for every file")
}

func TestRun_ParallelIsDeterministic(t *testing.T) {
	fsys := memfs.New()
	for i := range 200 {
		content := []byte(`{"n":1}`)
		if i%7 == 0 {
			content = []byte(`{"n":`)
		}
		path := "/many/" + string(rune('a'+i%26)) + "/" + time.Duration(i).String() + ".json"
		require.NoError(t, util.WriteFile(fsys, path, content, 0o644))
	}

	seq, err := NewService(fsys, nil, testLogger(), 1).Run(context.Background(), "/many", walk.ModeJSON, false)
	require.NoError(t, err)

	sink := &recordingSink{t: t}
	par, err := NewService(fsys, sink, testLogger(), 8).Run(context.Background(), "/many", walk.ModeJSON, true)
	require.NoError(t, err)

	assert.Equal(t, 200, par.TotalFiles)
	assert.Equal(t, findingPaths(seq.Findings), findingPaths(par.Findings))
	assert.Len(t, par.Findings, 29)

	require.Len(t, sink.progress, 200)
	for i, p := range sink.progress {
		assert.Equal(t, i+1, p.Done, "progress must be monotonic")
	}
}

func TestRun_ReadErrorIsAFindingNotAFailure(t *testing.T) {
	inner := scenarioFS(t)
	fsys := &unreadableFS{Filesystem: inner, path: "/scan/a.json"}

	result, err := NewService(fsys, nil, testLogger(), 2).Run(context.Background(), "/scan", walk.ModeJSON, false)
	require.NoError(t, err)

	assert.Equal(t, []string{"/scan/a.json", "/scan/b.json", "/scan/c.json"}, findingPaths(result.Findings))
	assert.Equal(t, classify.ReadError, result.Findings[0].Status)
	assert.Contains(t, result.Findings[0].Reason, "Error reading file:")
}

func TestRun_MissingRoot(t *testing.T) {
	sink := &recordingSink{t: t}
	result, err := NewService(memfs.New(), sink, testLogger(), 1).Run(context.Background(), "/absent", walk.ModeJSON, false)

	require.Error(t, err)
	assert.ErrorIs(t, err, walk.ErrEnumeration)
	assert.Nil(t, result)
	assert.Empty(t, sink.progress)
}

func TestRun_MissingRootLogsOnlyAtDebug(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	_, err := NewService(memfs.New(), nil, logger, 1).Run(context.Background(), "/absent", walk.ModeJSON, false)
	require.ErrorIs(t, err, walk.ErrEnumeration)

	assert.Contains(t, logs.String(), `level=DEBUG msg="scan failed"`)
	assert.NotContains(t, logs.String(), "level=ERROR")
	assert.NotContains(t, logs.String(), "level=WARN")
}

func TestRun_EmptyTree(t *testing.T) {
	fsys := memfs.New()
	require.NoError(t, fsys.MkdirAll("/empty", 0o755))

	result, err := NewService(fsys, nil, testLogger(), 4).Run(context.Background(), "/empty", walk.ModeAll, false)
	require.NoError(t, err)
	assert.Zero(t, result.TotalFiles)
	assert.NotNil(t, result.Findings)
	assert.Empty(t, result.Findings)
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewService(scenarioFS(t), nil, testLogger(), 1).Run(ctx, "/scan", walk.ModeJSON, false)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_PublishesEvents(t *testing.T) {
	bus := event.NewBus(testLogger(), 16)
	go bus.Start()

	var mu sync.Mutex
	counts := map[event.Type]int{}
	var completed event.Event
	for _, typ := range []event.Type{event.ScanStarted, event.FileCorrupted, event.ScanCompleted} {
		bus.Subscribe(typ, func(e event.Event) {
			mu.Lock()
			defer mu.Unlock()
			counts[e.Type]++
			if e.Type == event.ScanCompleted {
				completed = e
			}
		})
	}

	svc := NewService(scenarioFS(t), nil, testLogger(), 1)
	svc.SetEventBus(bus)
	result, err := svc.Run(context.Background(), "/scan", walk.ModeJSON, false)
	require.NoError(t, err)
	bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, counts[event.ScanStarted])
	assert.Equal(t, 2, counts[event.FileCorrupted])
	assert.Equal(t, 1, counts[event.ScanCompleted])
	assert.Equal(t, result.ID, completed.Data["scan_id"])
	assert.Equal(t, 2, completed.Data["corrupted"])
}

// unreadableFS fails Open for one path, like a file removed mid-scan.
type unreadableFS struct {
	billy.Filesystem
	path string
}

func (u *unreadableFS) Open(name string) (billy.File, error) {
	if name == u.path {
		return nil, &pathError{name}
	}
	return u.Filesystem.Open(name)
}

type pathError struct{ path string }

func (e *pathError) Error() string { return "open " + e.path + ": permission denied" }
