// Package stt defines the Provider interface for streaming speech recognition.
//
// A provider wraps a real-time recognition service (for example Deepgram) and
// exposes a uniform streaming interface. Once opened, a SessionHandle accepts
// raw PCM audio and emits two streams of types.Transcript values: interim
// results for the live preview and final results for the transcript.
//
// Recognition services impose hard limits on session length and drop idle
// connections. A session ending is therefore a normal event; callers that want
// continuous capture open a new session when the old one ends.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/medscribe/pkg/types"
)

// ErrSessionClosed is returned by SendAudio after the session has ended.
var ErrSessionClosed = errors.New("stt: session is closed")

// StreamConfig describes the audio format and recognition hints for a new
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz (16000 is typical).
	SampleRate int

	// Channels is the number of interleaved audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag (e.g. "en-US"). Empty lets the
	// provider decide.
	Language string

	// InterimResults requests low-latency interim results.
	InterimResults bool

	// MaxAlternatives caps the number of recognition alternatives per result.
	// Zero leaves the provider default.
	MaxAlternatives int

	// Keywords are vocabulary hints such as drug names.
	Keywords []types.KeywordBoost
}

// SessionHandle represents an open streaming session.
//
// Callers must call Close when done. All methods must be safe for concurrent
// use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio. Returns ErrSessionClosed
	// after the session has ended.
	SendAudio(chunk []byte) error

	// Partials emits interim results. Closed when the session ends.
	Partials() <-chan types.Transcript

	// Finals emits committed results. Closed when the session ends.
	Finals() <-chan types.Transcript

	// Err returns the error that terminated the session, or nil if it ended
	// normally or is still running. Only meaningful after Finals is closed.
	Err() error

	// Close terminates the session and releases its resources. Calling Close
	// more than once is safe.
	Close() error
}

// Provider is the abstraction over a streaming recognition backend.
type Provider interface {
	// StartStream opens a new recognition session. The returned handle is
	// ready to accept audio immediately.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
