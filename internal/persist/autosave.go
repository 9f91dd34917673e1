package persist

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is the period of the background save.
const DefaultInterval = 30 * time.Second

// AutoSaver periodically captures a snapshot and writes it to a [Store].
// Capturing only reads session state.
type AutoSaver struct {
	store    Store
	capture  func() Snapshot
	interval time.Duration

	mu        sync.Mutex
	lastSaved time.Time
	lastErr   error
}

// NewAutoSaver returns an AutoSaver. A non-positive interval uses
// [DefaultInterval].
func NewAutoSaver(store Store, capture func() Snapshot, interval time.Duration) *AutoSaver {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &AutoSaver{store: store, capture: capture, interval: interval}
}

// SaveNow captures and stores a snapshot immediately.
func (a *AutoSaver) SaveNow(ctx context.Context) error {
	err := a.store.Save(ctx, a.capture())
	a.mu.Lock()
	a.lastErr = err
	if err == nil {
		a.lastSaved = time.Now()
	}
	a.mu.Unlock()
	return err
}

// LastSaved returns the time of the latest successful save and the error of
// the latest attempt.
func (a *AutoSaver) LastSaved() (time.Time, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastSaved, a.lastErr
}

// Run saves every interval until ctx is cancelled, then performs a final save
// and returns nil.
func (a *AutoSaver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := a.SaveNow(ctx); err != nil {
				slog.Warn("persist: auto-save failed", "error", err)
			}
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := a.SaveNow(finalCtx); err != nil {
				slog.Warn("persist: final save failed", "error", err)
			}
			return nil
		}
	}
}
