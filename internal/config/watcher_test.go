package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/hornwatch/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
signature:
  path: horn.wav
detection:
  threshold: 0.3
`

const watcherUpdatedYAML = `
server:
  log_level: debug
signature:
  path: horn.wav
detection:
  threshold: 0.25
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

// change is one watcher callback.
type change struct{ old, new *config.Config }

// changes collects watcher callbacks.
type changes struct {
	mu   sync.Mutex
	seen []change
	ch   chan struct{}
}

func newChanges() *changes { return &changes{ch: make(chan struct{}, 16)} }

func (c *changes) record(old, new *config.Config) {
	c.mu.Lock()
	c.seen = append(c.seen, change{old, new})
	c.mu.Unlock()
	c.ch <- struct{}{}
}

func (c *changes) all() []change {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]change(nil), c.seen...)
}

func (c *changes) wait(t *testing.T) change {
	t.Helper()
	select {
	case <-c.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}
	all := c.all()
	return all[len(all)-1]
}

// startWatcher runs a watcher on path until the test ends.
func startWatcher(t *testing.T, path string, c *changes) {
	t.Helper()
	w, err := config.NewWatcher(path, c.record, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// writeFile writes content and moves the mtime forward so that every write
// is visible to the poller regardless of filesystem timestamp resolution.
func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
	bump(t, path)
}

var (
	mtimeMu sync.Mutex
	mtime   = time.Now()
)

func bump(t *testing.T, path string) {
	t.Helper()
	mtimeMu.Lock()
	mtime = mtime.Add(time.Second)
	at := mtime
	mtimeMu.Unlock()
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatalf("touch %q: %v", path, err)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "hornwatch.yaml")
	writeFile(t, path, watcherValidYAML)
	c := newChanges()
	startWatcher(t, path, c)

	writeFile(t, path, watcherUpdatedYAML)
	got := c.wait(t)

	if got.old.Server.LogLevel != config.LogInfo {
		t.Errorf("old log_level = %q, want info", got.old.Server.LogLevel)
	}
	if got.new.Server.LogLevel != config.LogDebug {
		t.Errorf("new log_level = %q, want debug", got.new.Server.LogLevel)
	}
	d := config.Diff(got.old, got.new)
	if !d.DetectionChanged || d.NewThreshold != 0.25 {
		t.Errorf("diff = %+v, want threshold change to 0.25", d)
	}
}

func TestWatcher_InvalidEditIsSkipped(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "hornwatch.yaml")
	writeFile(t, path, watcherValidYAML)
	c := newChanges()
	startWatcher(t, path, c)

	writeFile(t, path, watcherInvalidYAML)
	time.Sleep(150 * time.Millisecond)
	if n := len(c.all()); n != 0 {
		t.Fatalf("callbacks after invalid edit = %d, want 0", n)
	}

	// The fix is compared against the last good file.
	writeFile(t, path, watcherUpdatedYAML)
	got := c.wait(t)
	if got.old.Server.LogLevel != config.LogInfo || got.new.Server.LogLevel != config.LogDebug {
		t.Errorf("change = %q -> %q, want info -> debug", got.old.Server.LogLevel, got.new.Server.LogLevel)
	}
}

func TestWatcher_SurvivesRenameGap(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "hornwatch.yaml")
	writeFile(t, path, watcherValidYAML)
	c := newChanges()
	startWatcher(t, path, c)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, watcherUpdatedYAML)

	got := c.wait(t)
	if got.new.Server.LogLevel != config.LogDebug {
		t.Errorf("new log_level = %q, want debug", got.new.Server.LogLevel)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "hornwatch.yaml")
	writeFile(t, path, watcherInvalidYAML)
	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Fatal("expected error for invalid file")
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "hornwatch.yaml")
	writeFile(t, path, watcherValidYAML)
	c := newChanges()
	startWatcher(t, path, c)

	bump(t, path)
	time.Sleep(150 * time.Millisecond)
	if n := len(c.all()); n != 0 {
		t.Errorf("callbacks after touch = %d, want 0", n)
	}
}

func TestWatcher_RunReturnsOnCancel(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "hornwatch.yaml")
	writeFile(t, path, watcherValidYAML)
	w, err := config.NewWatcher(path, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx); err != nil {
		t.Errorf("Run = %v, want nil", err)
	}
}
