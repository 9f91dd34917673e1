// Package notify carries user-facing status events out of the core.
//
// Every state transition of the speech session controller and every outcome
// of the synthesis pipeline produces exactly one [Notification]. Sinks
// implement [Notifier]; [Multi] fans an event out to several of them.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Severity classifies a notification.
type Severity string

const (
	Success Severity = "success"
	Info    Severity = "info"
	Warning Severity = "warning"
	Error   Severity = "error"
)

// Notification is a single user-facing status event.
type Notification struct {
	Severity Severity  `json:"severity"`
	Title    string    `json:"title"`
	Message  string    `json:"message"`
	Time     time.Time `json:"time"`
}

// Notifier receives notifications. Implementations must be safe for
// concurrent use and must not block for long.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Func adapts a function to [Notifier].
type Func func(ctx context.Context, n Notification)

// Notify implements [Notifier].
func (f Func) Notify(ctx context.Context, n Notification) { f(ctx, n) }

// Discard drops every notification.
var Discard Notifier = Func(func(context.Context, Notification) {})

// Multi fans out to every non-nil notifier in order.
func Multi(ns ...Notifier) Notifier {
	var out []Notifier
	for _, n := range ns {
		if n != nil {
			out = append(out, n)
		}
	}
	return Func(func(ctx context.Context, n Notification) {
		for _, sink := range out {
			sink.Notify(ctx, n)
		}
	})
}

// Log writes notifications to logger, mapping severity to log level.
func Log(logger *slog.Logger) Notifier {
	return Func(func(ctx context.Context, n Notification) {
		level := slog.LevelInfo
		switch n.Severity {
		case Warning:
			level = slog.LevelWarn
		case Error:
			level = slog.LevelError
		}
		logger.Log(ctx, level, "notification", "severity", n.Severity, "title", n.Title, "message", n.Message)
	})
}

// Feed keeps the most recent notifications in memory for polling clients.
type Feed struct {
	mu      sync.Mutex
	items   []Notification
	max     int
	display time.Duration
	now     func() time.Time
}

// NewFeed returns a Feed holding at most size notifications. Notifications
// are considered visible for display after they are raised.
func NewFeed(size int, display time.Duration) *Feed {
	if size <= 0 {
		size = 50
	}
	return &Feed{max: size, display: display, now: time.Now}
}

// Notify implements [Notifier]. A zero Time is stamped with the current time.
func (f *Feed) Notify(_ context.Context, n Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n.Time.IsZero() {
		n.Time = f.now()
	}
	f.items = append(f.items, n)
	if over := len(f.items) - f.max; over > 0 {
		f.items = append(f.items[:0:0], f.items[over:]...)
	}
}

// All returns every retained notification, oldest first.
func (f *Feed) All() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Notification, len(f.items))
	copy(out, f.items)
	return out
}

// Active returns the notifications still within their display window.
// With a zero display duration every retained notification is active.
func (f *Feed) Active() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.display <= 0 {
		out := make([]Notification, len(f.items))
		copy(out, f.items)
		return out
	}
	cutoff := f.now().Add(-f.display)
	var out []Notification
	for _, n := range f.items {
		if n.Time.After(cutoff) {
			out = append(out, n)
		}
	}
	return out
}

// Last returns the most recent notification and whether one exists.
func (f *Feed) Last() (Notification, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.items) == 0 {
		return Notification{}, false
	}
	return f.items[len(f.items)-1], true
}

// Clear drops all retained notifications.
func (f *Feed) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = nil
}

var _ Notifier = (*Feed)(nil)
