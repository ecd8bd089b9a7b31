package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// Watcher polls the config file and hands every valid edit to a callback,
// together with the config it replaces. Edits that fail to parse or validate
// are logged and skipped; the next valid edit is compared against the last
// good config, not against the broken one.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	// Owned by the Run goroutine after NewWatcher returns.
	good    snapshot
	mtime   time.Time
	missing bool
}

// snapshot is a successfully loaded file.
type snapshot struct {
	cfg  *Config
	hash [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path once and returns a watcher for it. The file must be
// valid at this point.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	snap, err := readSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.good, w.mtime = snap, info.ModTime()
	return w, nil
}

// Run polls until ctx ends. It always returns nil so that it can sit in an
// errgroup without tearing the group down.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		// Editors that save by rename leave a short gap; report it once.
		if !w.missing {
			slog.Warn("config file unavailable, keeping current settings", "path", w.path, "err", err)
			w.missing = true
		}
		return
	}
	w.missing = false
	if info.ModTime().Equal(w.mtime) {
		return
	}
	w.mtime = info.ModTime()

	snap, err := readSnapshot(w.path)
	if err != nil {
		slog.Warn("config edit rejected, keeping current settings", "path", w.path, "err", err)
		return
	}
	if snap.hash == w.good.hash {
		return
	}
	old := w.good.cfg
	w.good = snap
	slog.Info("config file changed", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, snap.cfg)
	}
}

// readSnapshot parses and validates path.
func readSnapshot(path string) (snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return snapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{cfg: cfg, hash: sha256.Sum256(data)}, nil
}
