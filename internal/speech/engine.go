package speech

import "context"

// Result is one entry of a recognition result batch.
type Result struct {
	Text       string
	Confidence float64
	IsFinal    bool
}

// Listener receives the events of a single recognition session. Events for
// one session are delivered sequentially.
type Listener interface {
	OnSessionStart()
	OnResult(results []Result)
	OnSessionEnd()
	OnError(err error)
}

// Engine is the external continuous speech recognizer.
//
// Start begins a session that reports to l until the session ends, at which
// point l.OnSessionEnd is called exactly once. A session may end on its own
// (provider time limit, dropped connection) or because Stop was called.
//
// Stop must not wait for in-flight listener callbacks to return: the
// controller may call Stop while such a callback is waiting for it.
type Engine interface {
	Start(ctx context.Context, l Listener) error
	Stop() error
}
