// Package mock provides a scriptable speech.Engine for controller tests.
//
// Tests drive the recognition session by calling the recorded listener
// directly:
//
//	eng := &mock.Engine{}
//	_ = ctrl.StartRecording(ctx, types.SpeakerPrimary)
//	eng.LastListener().OnResult([]speech.Result{{Text: "hello", Confidence: 0.9, IsFinal: true}})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/medscribe/internal/speech"
)

// StartCall records a single invocation of Engine.Start.
type StartCall struct {
	Ctx      context.Context
	Listener speech.Listener
}

// Engine is a mock implementation of speech.Engine.
type Engine struct {
	mu sync.Mutex

	// StartErrs are returned by successive Start calls; once exhausted Start
	// returns StartErr.
	StartErrs []error

	// StartErr is returned by Start when StartErrs is exhausted.
	StartErr error

	// StartGate, if non-nil, makes Start block until it is closed. The call
	// is recorded before blocking.
	StartGate chan struct{}

	// StartCalls records every call to Start.
	StartCalls []StartCall

	// StopCallCount is the number of Stop calls.
	StopCallCount int
}

// Start records the call and returns the scripted error.
func (e *Engine) Start(ctx context.Context, l speech.Listener) error {
	e.mu.Lock()
	e.StartCalls = append(e.StartCalls, StartCall{Ctx: ctx, Listener: l})
	gate := e.StartGate
	e.mu.Unlock()
	if gate != nil {
		<-gate
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.StartErrs) > 0 {
		err := e.StartErrs[0]
		e.StartErrs = e.StartErrs[1:]
		return err
	}
	return e.StartErr
}

// Stop records the call.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.StopCallCount++
	return nil
}

// Starts returns the number of Start calls. Thread-safe.
func (e *Engine) Starts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.StartCalls)
}

// Stops returns the number of Stop calls. Thread-safe.
func (e *Engine) Stops() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.StopCallCount
}

// Listener returns the listener passed to the i-th Start call.
func (e *Engine) Listener(i int) speech.Listener {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.StartCalls[i].Listener
}

// LastListener returns the listener of the most recent Start call.
func (e *Engine) LastListener() speech.Listener {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.StartCalls[len(e.StartCalls)-1].Listener
}

// Reset clears all recorded calls.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.StartCalls = nil
	e.StopCallCount = 0
}

var _ speech.Engine = (*Engine)(nil)
