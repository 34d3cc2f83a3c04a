package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ChangeFunc receives the previous and the newly loaded config together with
// their [Diff]. It runs on the watcher goroutine and must not block for long.
type ChangeFunc func(old, new *Config, diff ConfigDiff)

// Watcher reloads a config file when it changes. It polls mtime and content
// hash; editors that replace files atomically defeat filesystem
// notifications. Reload forces a check, e.g. on SIGHUP.
type Watcher struct {
	path      string
	interval  time.Duration
	onChange  ChangeFunc
	overrides []func(*Config)
	reload    chan struct{}

	mu        sync.Mutex
	current   *Config
	lastMtime time.Time
	lastHash  [sha256.Size]byte
	reloads   int
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

// WithOverride registers fn to run on every loaded config before it is
// diffed, so command-line overrides survive reloads.
func WithOverride(fn func(*Config)) WatcherOption {
	return func(w *Watcher) {
		w.overrides = append(w.overrides, fn)
	}
}

// NewWatcher loads the file once and returns a watcher for it. Polling starts
// with [Watcher.Run].
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		reload:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, hash, mtime, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.lastHash = hash
	w.lastMtime = mtime
	return w, nil
}

// Current returns the most recently loaded valid config, overrides applied.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reloads reports how many changed configs have been applied.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

// Reload asks a running watcher to re-read the file now, even if its mtime
// did not move. It never blocks.
func (w *Watcher) Reload() {
	select {
	case w.reload <- struct{}{}:
	default:
	}
}

// Run polls until ctx is done and returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.check(false)
		case <-w.reload:
			w.check(true)
		}
	}
}

// check reloads the file when forced or when its mtime moved, and applies it
// when the content hash changed.
func (w *Watcher) check(force bool) {
	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
			return
		}
		w.mu.Lock()
		unchanged := info.ModTime().Equal(w.lastMtime)
		w.mu.Unlock()
		if unchanged {
			return
		}
	}

	cfg, hash, mtime, err := w.load()
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	w.lastMtime = mtime
	if hash == w.lastHash {
		w.mu.Unlock()
		return
	}
	w.lastHash = hash
	old := w.current
	diff := Diff(old, cfg)
	if !diff.HasLiveChanges() && len(diff.RestartRequired) == 0 {
		// Comments or formatting only.
		w.mu.Unlock()
		return
	}
	w.current = cfg
	w.reloads++
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded",
		"path", w.path,
		"live_changes", diff.HasLiveChanges(),
		"restart_required", diff.RestartRequired)

	if w.onChange != nil {
		w.onChange(old, cfg, diff)
	}
}

// load reads, parses and validates the file, then applies the overrides. An
// invalid file returns an error and the caller keeps the old config.
func (w *Watcher) load() (*Config, [sha256.Size]byte, time.Time, error) {
	var zeroHash [sha256.Size]byte

	info, err := os.Stat(w.path)
	if err != nil {
		return nil, zeroHash, time.Time{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, zeroHash, time.Time{}, err
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, zeroHash, time.Time{}, err
	}
	for _, fn := range w.overrides {
		fn(cfg)
	}
	return cfg, sha256.Sum256(data), info.ModTime(), nil
}
