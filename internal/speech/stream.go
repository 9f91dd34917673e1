package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/medscribe/internal/observe"
	"github.com/MrWong99/medscribe/internal/voicecmd"
	"github.com/MrWong99/medscribe/pkg/provider/stt"
)

const defaultChunkSize = 3200 // 100ms of 16 kHz mono linear16

// ErrSourceExhausted is returned by an AudioOpener that cannot be reopened.
var ErrSourceExhausted = errors.New("speech: audio source exhausted")

// AudioOpener opens the raw PCM audio source for one recognition session.
type AudioOpener func(ctx context.Context) (io.ReadCloser, error)

// StreamOption is a functional option for [NewStreamEngine].
type StreamOption func(*StreamEngine)

// WithChunkSize sets the number of bytes read from the audio source per
// SendAudio call.
func WithChunkSize(n int) StreamOption {
	return func(e *StreamEngine) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// WithStreamMetrics tracks open streams on m.
func WithStreamMetrics(m *observe.Metrics) StreamOption {
	return func(e *StreamEngine) {
		e.metrics = m
	}
}

// StreamEngine adapts a streaming [stt.Provider] and an audio source to the
// [Engine] interface. Each Start opens the audio source, starts a provider
// stream and pumps audio in and results out until either side ends.
type StreamEngine struct {
	provider  stt.Provider
	cfg       stt.StreamConfig
	open      AudioOpener
	chunkSize int
	metrics   *observe.Metrics

	mu     sync.Mutex
	seq    uint64 // bumped by every Start and Stop
	cancel context.CancelFunc
	handle stt.SessionHandle
	src    io.ReadCloser
}

// NewStreamEngine returns an Engine streaming audio from open into p.
func NewStreamEngine(p stt.Provider, cfg stt.StreamConfig, open AudioOpener, opts ...StreamOption) *StreamEngine {
	e := &StreamEngine{provider: p, cfg: cfg, open: open, chunkSize: defaultChunkSize}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Start implements [Engine]. Opening the audio source and dialing the
// provider happen without holding the engine lock, so a concurrent Stop
// cancels a start that is still waiting on either.
func (e *StreamEngine) Start(ctx context.Context, l Listener) error {
	e.mu.Lock()
	e.stopLocked()
	e.seq++
	seq := e.seq
	sessCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()

	src, err := e.open(sessCtx)
	if err != nil {
		cancel()
		if errors.Is(err, ErrSourceExhausted) {
			return err
		}
		kind := KindAudioCapture
		if Classify(err) == KindNotAllowed {
			kind = KindNotAllowed
		}
		return &RecognitionError{Kind: kind, Err: err}
	}

	handle, err := e.provider.StartStream(sessCtx, e.cfg)
	if err != nil {
		cancel()
		_ = src.Close()
		if sessCtx.Err() != nil {
			return fmt.Errorf("speech: start cancelled: %w", sessCtx.Err())
		}
		return &RecognitionError{Kind: KindNetwork, Err: err}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if seq != e.seq {
		// Stopped or restarted while opening.
		cancel()
		_ = src.Close()
		go func() { _ = handle.Close() }()
		return fmt.Errorf("speech: start cancelled: %w", context.Canceled)
	}
	e.handle, e.src = handle, src
	if e.metrics != nil {
		e.metrics.ActiveStreams.Add(ctx, 1)
	}
	go e.feed(sessCtx, src, handle, l)
	go e.pump(sessCtx, handle, l)
	return nil
}

// Stop implements [Engine]. It does not wait for the pump goroutines.
func (e *StreamEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
	return nil
}

func (e *StreamEngine) stopLocked() {
	e.seq++
	if e.cancel == nil {
		return
	}
	e.cancel()
	e.cancel = nil
	if e.handle == nil {
		// Start is still opening; it notices the new seq and cleans up.
		return
	}
	_ = e.src.Close()
	handle := e.handle
	e.handle, e.src = nil, nil
	// Closing a provider session may flush over the network.
	go func() {
		if err := handle.Close(); err != nil {
			slog.Debug("speech: close stream", "error", err)
		}
	}()
	if e.metrics != nil {
		e.metrics.ActiveStreams.Add(context.Background(), -1)
	}
}

// feed copies audio from src into the provider session. When the source
// ends the session is closed so the provider flushes its final results.
func (e *StreamEngine) feed(ctx context.Context, src io.Reader, h stt.SessionHandle, l Listener) {
	buf := make([]byte, e.chunkSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if sendErr := h.SendAudio(chunk); sendErr != nil {
				return
			}
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if !errors.Is(err, io.EOF) {
			l.OnError(&RecognitionError{Kind: KindAudioCapture, Err: fmt.Errorf("read audio: %w", err)})
		}
		_ = h.Close()
		return
	}
}

// pump delivers provider results to l until both result channels close, then
// reports the end of the session.
func (e *StreamEngine) pump(ctx context.Context, h stt.SessionHandle, l Listener) {
	l.OnSessionStart()

	partials, finals := h.Partials(), h.Finals()
	for partials != nil || finals != nil {
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			l.OnResult([]Result{{Text: t.Text, Confidence: t.Confidence}})
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			l.OnResult([]Result{{Text: commandText(t.Text), Confidence: t.Confidence, IsFinal: true}})
		}
	}

	if err := h.Err(); err != nil && ctx.Err() == nil {
		kind := Classify(err)
		if kind == KindOther {
			// A stream that dies mid-session is a transport failure.
			kind = KindNetwork
		}
		l.OnError(&RecognitionError{Kind: kind, Err: err})
	}
	l.OnSessionEnd()
}

// commandText drops the sentence punctuation that punctuating recognizers
// append to short utterances, but only when what remains is a voice command.
// Ordinary transcript text keeps its punctuation.
func commandText(text string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(text), ".!?,;: ")
	if voicecmd.Lookup(trimmed) != voicecmd.ActionNone {
		return trimmed
	}
	return text
}

var _ Engine = (*StreamEngine)(nil)
