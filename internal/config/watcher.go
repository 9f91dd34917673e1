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

// ApplyFunc receives the previous and the newly loaded config. It is only
// called when [Diff] reports a change.
type ApplyFunc func(old, new *Config)

// Watcher reloads a config file when its content changes, either on a
// polling interval (see [Watcher.Run]) or on demand (see [Watcher.Reload]).
// Files that fail to load or validate are ignored and the previous config
// stays in effect.
type Watcher struct {
	path     string
	interval time.Duration
	apply    ApplyFunc

	mu        sync.Mutex
	current   *Config
	lastHash  [sha256.Size]byte
	lastMtime time.Time
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

// NewWatcher loads path once and returns a watcher that hands later changes
// to apply. Polling does not start until [Watcher.Run] is called.
func NewWatcher(path string, apply ApplyFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		apply:    apply,
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, hash, mtime, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.lastHash, w.lastMtime = cfg, hash, mtime
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls the file until ctx is cancelled. A poll only reads the file when
// its modification time moved.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(w.path)
			if err != nil {
				slog.Warn("config: watcher cannot stat file", "path", w.path, "err", err)
				continue
			}
			w.mu.Lock()
			unchanged := info.ModTime().Equal(w.lastMtime)
			w.mu.Unlock()
			if unchanged {
				continue
			}
			if _, err := w.Reload(); err != nil {
				// Warn once per broken revision.
				w.mu.Lock()
				w.lastMtime = info.ModTime()
				w.mu.Unlock()
				slog.Warn("config: keeping previous config", "path", w.path, "err", err)
			}
		}
	}
}

// Reload reads the file now and applies it when the content differs from
// the last applied version. It reports whether the apply callback ran.
func (w *Watcher) Reload() (bool, error) {
	cfg, hash, mtime, err := w.read()
	if err != nil {
		return false, fmt.Errorf("config: reload %s: %w", w.path, err)
	}

	w.mu.Lock()
	w.lastMtime = mtime
	if hash == w.lastHash {
		w.mu.Unlock()
		return false, nil
	}
	old := w.current
	w.current = cfg
	w.lastHash = hash
	w.mu.Unlock()

	if !Diff(old, cfg).HasChanges() {
		slog.Debug("config: file changed without effective setting changes", "path", w.path)
		return false, nil
	}

	slog.Info("config: configuration reloaded", "path", w.path)
	// Outside the lock so the callback may call Current.
	if w.apply != nil {
		w.apply(old, cfg)
	}
	return true, nil
}

func (w *Watcher) read() (*Config, [sha256.Size]byte, time.Time, error) {
	var zero [sha256.Size]byte

	info, err := os.Stat(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	return cfg, sha256.Sum256(data), info.ModTime(), nil
}
